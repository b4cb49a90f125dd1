package auth

import (
	"database/sql"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

const (
	TextCodeAlreadyExists      = "USER_ALREADY_EXISTS"
	TextCodePasswordTooShort   = "PASSWORD_TOO_SHORT"
	TextCodePasswordTooLong    = "PASSWORD_TOO_LONG"
	TextCodeInvalidEmail       = "INVALID_EMAIL"
	TextCodeUserNotFound       = "USER_NOT_FOUND"
	TextCodeWrongPassword      = "WRONG_PASSWORD"
	TextCodeUserDisabled       = "USER_DISABLED"
	TextCodeCodeNotFound       = "CODE_NOT_FOUND"
	TextCodeWrongOrExpiredCode = "WRONG_OR_EXPIRED_CODE"
	TextCodeTokenInvalid       = "TOKEN_INVALID"
	TextCodeTokenExpired       = goerrors.TextCodeTokenExpired
	TextCodeForbidden          = "FORBIDDEN"
	TextCodeEmptyPassword      = goerrors.TextCodeEmptyPassword
	TextCodeRecordNotFound     = "RECORD_NOT_FOUND"
	TextCodeUniqueViolation    = "UNIQUE_VIOLATION"
	TextCodeRoleNotFound       = "ROLE_NOT_FOUND"
	TextCodePermissionNotFound = "PERMISSION_NOT_FOUND"
)

// ErrAlreadyExists is returned by Register when the email is taken
var ErrAlreadyExists = goerrors.New("user already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyExists).
	WithCode(goerrors.CodeConflict)

// ErrPasswordTooShort is returned when a password is under MinPasswordLength
var ErrPasswordTooShort = goerrors.New("password too short", goerrors.CategoryValidation).
	WithTextCode(TextCodePasswordTooShort).
	WithCode(goerrors.CodeBadRequest)

// ErrPasswordTooLong bcrypt only reads the first MaxPasswordBytes bytes
var ErrPasswordTooLong = goerrors.New("password too long", goerrors.CategoryValidation).
	WithTextCode(TextCodePasswordTooLong).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidEmail is returned when the email is not a valid address
var ErrInvalidEmail = goerrors.New("invalid email address", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidEmail).
	WithCode(goerrors.CodeBadRequest)

// ErrUserNotFound no user matches the given email or id
var ErrUserNotFound = goerrors.New("user not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeUserNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrRoleNotFound one or more role ids or names do not exist
var ErrRoleNotFound = goerrors.New("role not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeRoleNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrPermissionNotFound one or more permission ids do not exist
var ErrPermissionNotFound = goerrors.New("permission not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodePermissionNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrWrongPassword the password does not match the stored hash
var ErrWrongPassword = goerrors.New("invalid password", goerrors.CategoryAuth).
	WithTextCode(TextCodeWrongPassword).
	WithCode(goerrors.CodeUnauthorized)

// ErrUserDisabled the user exists but can not authenticate
var ErrUserDisabled = goerrors.New("user disabled", goerrors.CategoryAuth).
	WithTextCode(TextCodeUserDisabled).
	WithCode(goerrors.CodeForbidden)

// ErrCodeNotFound no auth code row matches the given code
var ErrCodeNotFound = goerrors.New("code not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeCodeNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrWrongOrExpiredCode the code exists but is outside its time window
var ErrWrongOrExpiredCode = goerrors.New("code expired or wrong", goerrors.CategoryValidation).
	WithTextCode(TextCodeWrongOrExpiredCode).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidToken bad signature, malformed token or unsupported algorithm
var ErrInvalidToken = goerrors.New("invalid token", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrExpiredToken the token expiration is in the past
var ErrExpiredToken = goerrors.New("token expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrForbidden the token holder lacks the required role
var ErrForbidden = goerrors.New("insufficient permissions", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

// ErrNoEmptyString we do not hash empty passwords
var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword is returned by ComparePasswordAndHash
var ErrMismatchedHashAndPassword = goerrors.New("mismatched hash and password", goerrors.CategoryAuth).
	WithTextCode(goerrors.TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// NewRecordNotFound returns a not found error for store lookups
func NewRecordNotFound() *goerrors.Error {
	return goerrors.New("record not found", goerrors.CategoryNotFound).
		WithTextCode(TextCodeRecordNotFound).
		WithCode(goerrors.CodeNotFound)
}

// IsRecordNotFound will check if the error is a store miss
func IsRecordNotFound(err error) bool {
	if err == nil {
		return false
	}
	if goerrors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
		return true
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.TextCode == TextCodeRecordNotFound
	}
	return false
}

// IsUniqueViolation will check for unique constraint failures in
// both postgres and sqlite drivers.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.TextCode == TextCodeUniqueViolation {
		return true
	}

	if goerrors.HasCategory(err, goerrors.CategoryConflict) {
		return true
	}

	var pgErr pgdriver.Error
	if goerrors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// wrapStoreError converts driver failures into categorized errors
func wrapStoreError(err error, message string) error {
	if err == nil {
		return nil
	}

	if IsRecordNotFound(err) {
		return NewRecordNotFound().WithMetadata(map[string]any{
			"operation": message,
		})
	}

	if IsUniqueViolation(err) {
		return goerrors.Wrap(err, goerrors.CategoryConflict, message).
			WithTextCode(TextCodeUniqueViolation).
			WithCode(goerrors.CodeConflict)
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, message)
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	return goerrors.Is(err, ErrExpiredToken)
}

// IsInvalidTokenError will check for tokens we could not verify
func IsInvalidTokenError(err error) bool {
	return goerrors.Is(err, ErrInvalidToken)
}
