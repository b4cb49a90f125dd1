package auth

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetOTPSecret() string
	GetTokenExpiration() time.Duration
	GetCodeInterval() time.Duration
	GetCodeSkew() uint
	GetDefaultRole() string
}

// PasswordHasher hashes and verifies user passwords
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

// CodeGenerator produces short lived numeric codes bound to a user
type CodeGenerator interface {
	Generate(userID string) (string, error)
	Validate(code, userID string) bool
}

// TokenCodec signs and verifies bearer tokens
type TokenCodec interface {
	Encode(payload any, ttl time.Duration) (string, error)
	Decode(token string) (*TokenClaims, error)
}

// EventEmitter delivers named events to out of band listeners.
// Implementations must not block the caller on delivery.
type EventEmitter interface {
	Emit(ctx context.Context, event string, args ...any)
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
