package model

import "time"

// CodeAlphabet is the character set one-time codes are drawn from
const CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// CodeKind separates the two directions a one-time code can travel
type CodeKind string

const (
	// CodeKindLogin codes are shown to a player in game and claimed by the
	// website to learn who the player is
	CodeKindLogin CodeKind = "login"
	// CodeKindWeb codes are issued through the website and typed in game to
	// authenticate the connection
	CodeKindWeb CodeKind = "web"
)

// OneTimeCode binds a short random code to a principal until ExpiresAt.
// The first successful take consumes it.
type OneTimeCode struct {
	Code      string    `json:"code"`
	Kind      CodeKind  `json:"kind"`
	Principal Principal `json:"principal"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the code has lapsed at the given instant
func (c *OneTimeCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// ValidCode reports whether s could be a code of the given length
func ValidCode(s string, length int) bool {
	if len(s) != length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9') {
			return false
		}
	}
	return true
}
