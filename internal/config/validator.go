package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the settings against their struct tags.
func (s *Settings) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(s); err != nil {
		return formatValidationErrors(err)
	}
	if s.Vault.Key != "" && s.Vault.Passphrase != "" {
		return errors.New("vault: specify key OR passphrase, not both")
	}
	return nil
}

func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		messages := make([]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required", "required_with":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "len", "hexadecimal":
		return fmt.Sprintf("%s must be %s hex characters", field, "64")
	case "gte", "gt", "lte", "min":
		return fmt.Sprintf("%s is out of range (%s %s)", field, e.Tag(), e.Param())
	case "gtefield":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
