package validator

import (
	"errors"
	"fmt"
	"strings"

	playground "github.com/go-playground/validator/v10"
	"github.com/sakashimaa/go-order-saga/pkg/utils"
)

var ErrInvalidInput = errors.New("invalid input")

type Validator interface {
	ValidateCredentials(email, password string) error
}

// bcrypt ignores everything past 72 bytes, so longer passwords are refused.
type credentials struct {
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,max=72"`
}

type authValidator struct {
	validate *playground.Validate
}

func NewValidator() Validator {
	return &authValidator{validate: playground.New()}
}

func (a *authValidator) ValidateCredentials(email, password string) error {
	err := a.validate.Struct(credentials{Email: email, Password: password})
	if err == nil {
		return nil
	}

	fields := utils.FormatValidationError(err)

	msgs := make([]string, 0, len(fields))
	for _, name := range []string{"email", "password"} {
		if msg, ok := fields[name]; ok {
			msgs = append(msgs, msg)
		}
	}

	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(msgs, "; "))
}
