package llm

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared struct validator. Field names in its errors come
// from the `env` struct tag when present, so messages point at the variable to set.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("env"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// ValidateRequired validates a backend's options struct and reports every
// failing field in a single configuration error.
func ValidateRequired(backend string, v any) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &Error{
			Type:        ErrorTypeConfiguration,
			Message:     backend + ": invalid options",
			ProviderErr: err,
		}
	}
	missing := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		if fe.Tag() == "required" || strings.HasPrefix(fe.Tag(), "required_") {
			return fe.Field()
		}
		return fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag())
	})
	return NewConfigurationError(fmt.Sprintf("%s: missing or invalid fields: %s", backend, strings.Join(missing, ", ")))
}
