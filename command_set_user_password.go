package auth

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
)

type SetUserPasswordMessage struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (m SetUserPasswordMessage) Type() string { return "user.set_password" }

func (m SetUserPasswordMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required),
		validation.Field(&m.Password, validation.Required),
	)
}

// SetUserPasswordHandler is the operator path to overwrite a password
// without a code.
type SetUserPasswordHandler struct {
	service *AuthService
}

func NewSetUserPasswordHandler(service *AuthService) *SetUserPasswordHandler {
	return &SetUserPasswordHandler{service: service}
}

func (h *SetUserPasswordHandler) Execute(ctx context.Context, event SetUserPasswordMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during set user password",
		)
	default:
	}

	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid set password message").
			WithCode(goerrors.CodeBadRequest)
	}

	return h.service.SetUserPassword(ctx, event.Email, event.Password)
}
