package repository

import (
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v4"

	"modchat/internal/domain/repository"
)

// memoryTokenStore keeps the bearer credential for the life of the process.
// JWTs past their exp claim are reported as missing; opaque tokens never expire.
type memoryTokenStore struct {
	mu    sync.RWMutex
	token string
	clock clock.Clock
}

func NewMemoryTokenStore(token string, clk clock.Clock) repository.TokenStore {
	return &memoryTokenStore{token: token, clock: clk}
}

func (s *memoryTokenStore) Token() (string, bool) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == "" || s.expired(token) {
		return "", false
	}
	return token, true
}

func (s *memoryTokenStore) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *memoryTokenStore) Clear() {
	s.SetToken("")
}

func (s *memoryTokenStore) expired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	return !claims.VerifyExpiresAt(s.clock.Now().Unix(), false)
}
