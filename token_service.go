package auth

import (
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// DefaultTokenExpiration is used when Encode gets a zero ttl
const DefaultTokenExpiration = 30 * 24 * time.Hour

// TokenService signs HS256 tokens with a shared secret
type TokenService struct {
	signingKey []byte
	expiration time.Duration
	now        func() time.Time
	logger     Logger
}

var _ TokenCodec = (*TokenService)(nil)

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg Config) *TokenService {
	ts := &TokenService{
		signingKey: []byte(cfg.GetSigningKey()),
		expiration: cfg.GetTokenExpiration(),
		now:        time.Now,
		logger:     defLogger{},
	}

	if ts.expiration <= 0 {
		ts.expiration = DefaultTokenExpiration
	}

	return ts
}

// WithLogger sets the logger
func (ts *TokenService) WithLogger(logger Logger) *TokenService {
	if logger != nil {
		ts.logger = logger
	}
	return ts
}

// WithTokenClock replaces the time source for both signing and validation
func (ts *TokenService) WithTokenClock(now func() time.Time) *TokenService {
	if now != nil {
		ts.now = now
	}
	return ts
}

// Encode signs {exp, sub, payload}. A zero ttl uses the configured
// expiration.
func (ts *TokenService) Encode(payload any, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ts.logger.Debug("token ttl not set, using default of %s", ts.expiration)
		ttl = ts.expiration
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryBadInput, "failed to encode token payload")
	}

	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   TokenSubject,
			ExpiresAt: jwt.NewNumericDate(ts.now().Add(ttl)),
		},
		Payload: raw,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signed, nil
}

// Decode verifies the signature and expiration of token
func (ts *TokenService) Decode(token string) (*TokenClaims, error) {
	claims := &TokenClaims{}

	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return ts.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.now),
		jwt.WithExpirationRequired(),
		jwt.WithSubject(TokenSubject),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		ts.logger.Debug("token rejected: %v", err)
		return nil, ErrInvalidToken
	}

	return claims, nil
}
