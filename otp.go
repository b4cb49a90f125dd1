package auth

import (
	"encoding/base32"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// DefaultCodeInterval is the lifetime of a single code window
	DefaultCodeInterval = 10 * time.Minute
	// DefaultCodeSkew is how many adjacent windows are still accepted
	DefaultCodeSkew uint = 1
	// CodeDigits is the length of a generated auth code
	CodeDigits = 8
)

// TOTPCodes derives time windowed codes from the user id and a
// process wide secret. Nothing but the code itself is stored.
type TOTPCodes struct {
	secret   string
	interval time.Duration
	skew     uint
	now      func() time.Time
}

// NewTOTPCodes builds a generator from the OTP settings in cfg
func NewTOTPCodes(cfg Config) *TOTPCodes {
	c := &TOTPCodes{
		secret:   cfg.GetOTPSecret(),
		interval: cfg.GetCodeInterval(),
		skew:     cfg.GetCodeSkew(),
		now:      time.Now,
	}

	if c.interval < time.Second {
		c.interval = DefaultCodeInterval
	}

	return c
}

// WithCodeClock replaces the time source, used by tests
func (c *TOTPCodes) WithCodeClock(now func() time.Time) *TOTPCodes {
	if now != nil {
		c.now = now
	}
	return c
}

// Generate returns the code for userID in the current window
func (c *TOTPCodes) Generate(userID string) (string, error) {
	code, err := totp.GenerateCodeCustom(c.seed(userID), c.now(), c.opts())
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate auth code")
	}
	return code, nil
}

// Validate reports whether code belongs to userID and its window is
// within tolerance. Malformed codes are simply invalid.
func (c *TOTPCodes) Validate(code, userID string) bool {
	if len(code) != CodeDigits {
		return false
	}

	ok, err := totp.ValidateCustom(code, c.seed(userID), c.now(), c.opts())
	if err != nil {
		return false
	}
	return ok
}

func (c *TOTPCodes) seed(userID string) string {
	return base32.StdEncoding.EncodeToString([]byte(userID + c.secret))
}

func (c *TOTPCodes) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    uint(c.interval / time.Second),
		Skew:      c.skew,
		Digits:    otp.DigitsEight,
		Algorithm: otp.AlgorithmSHA1,
	}
}
