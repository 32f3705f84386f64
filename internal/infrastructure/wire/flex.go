// Package wire holds the JSON shapes exchanged with the chat backend over
// both HTTP and the persistent connection. The backend is not consistent
// about scalar encodings, so the flex types accept every variant seen.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var null = []byte("null")

// FlexString accepts a JSON string or number.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, null) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("flex string: %w", err)
	}
	*s = FlexString(n.String())
	return nil
}

// FlexInt accepts a JSON number or a numeric string.
type FlexInt int64

func (i *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, null) {
		return nil
	}
	raw := strings.Trim(string(data), `"`)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("flex int: %w", err)
	}
	*i = FlexInt(int64(v))
	return nil
}

// FlexBool accepts true/false, 0/1 and their string forms.
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, null) {
		return nil
	}
	switch strings.ToLower(strings.Trim(string(data), `"`)) {
	case "true", "1":
		*b = true
	case "false", "0", "":
		*b = false
	default:
		return fmt.Errorf("flex bool: unexpected %s", data)
	}
	return nil
}

// FlexTime accepts RFC 3339, the backend's SQL datetime format, or unix
// seconds/milliseconds.
type FlexTime time.Time

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func (t *FlexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, null) {
		return nil
	}
	if len(data) > 0 && data[0] != '"' {
		n, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("flex time: %w", err)
		}
		if n > 1e12 {
			*t = FlexTime(time.UnixMilli(n).UTC())
		} else {
			*t = FlexTime(time.Unix(n, 0).UTC())
		}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			*t = FlexTime(parsed.UTC())
			return nil
		}
	}
	return fmt.Errorf("flex time: unsupported format %q", raw)
}

func (t FlexTime) Time() time.Time {
	return time.Time(t)
}

func firstString(values ...*FlexString) *string {
	for _, v := range values {
		if v != nil {
			s := string(*v)
			return &s
		}
	}
	return nil
}

func firstInt(values ...*FlexInt) int64 {
	for _, v := range values {
		if v != nil && *v != 0 {
			return int64(*v)
		}
	}
	return 0
}

func firstBool(values ...*FlexBool) *bool {
	for _, v := range values {
		if v != nil {
			b := bool(*v)
			return &b
		}
	}
	return nil
}

func firstTime(values ...*FlexTime) *time.Time {
	for _, v := range values {
		if v != nil && !v.Time().IsZero() {
			t := v.Time()
			return &t
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
