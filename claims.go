package auth

import (
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// TokenSubject is the fixed subject of every token we mint
const TokenSubject = "auth"

// TokenClaims is the claim set of a bearer token. Payload holds the
// caller supplied data, usually a UserSnapshot.
type TokenClaims struct {
	jwt.RegisteredClaims
	Payload json.RawMessage `json:"payload"`
}

// Subject returns the subject claim
func (c *TokenClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// Expires returns the expiration time
func (c *TokenClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// Decode unmarshals the payload into dst
func (c *TokenClaims) Decode(dst any) error {
	if len(c.Payload) == 0 {
		return goerrors.New("token has no payload", goerrors.CategoryAuth).
			WithTextCode(goerrors.TextCodeClaimsMappingError).
			WithCode(goerrors.CodeUnauthorized)
	}

	if err := json.Unmarshal(c.Payload, dst); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryAuth, "failed to decode token payload").
			WithTextCode(goerrors.TextCodeClaimsMappingError).
			WithCode(goerrors.CodeUnauthorized)
	}
	return nil
}

// User decodes the payload as a UserSnapshot
func (c *TokenClaims) User() (UserSnapshot, error) {
	var s UserSnapshot
	err := c.Decode(&s)
	return s, err
}
