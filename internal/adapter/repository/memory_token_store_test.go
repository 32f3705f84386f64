package repository

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "moderator-1",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

func TestTokenStoreExpiresJWT(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	token := signedToken(t, clk.Now().Add(time.Minute))
	store := NewMemoryTokenStore(token, clk)

	got, ok := store.Token()
	assert.True(t, ok)
	assert.Equal(t, token, got)

	clk.Add(time.Minute)
	_, ok = store.Token()
	assert.False(t, ok)
}

func TestTokenStoreOpaqueToken(t *testing.T) {
	store := NewMemoryTokenStore("opaque", clock.NewMock())

	got, ok := store.Token()
	assert.True(t, ok)
	assert.Equal(t, "opaque", got)

	store.Clear()
	_, ok = store.Token()
	assert.False(t, ok)

	store.SetToken("next")
	got, _ = store.Token()
	assert.Equal(t, "next", got)
}
