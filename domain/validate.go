package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// TagEmailAtDot is the validation tag for emails that contain an "@" followed later by a ".".
const TagEmailAtDot = "email_at_dot"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.RegisterValidation(TagEmailAtDot, func(fl validator.FieldLevel) bool {
		return IsEmail(fl.Field().String())
	}); err != nil {
		panic(err) // only fails for an empty tag or a nil func
	}

	return v
}

// IsEmail reports whether s contains an "@" with a "." somewhere after it.
func IsEmail(s string) bool {
	at := strings.Index(s, "@")

	return at >= 0 && strings.Contains(s[at+1:], ".")
}

// ValidateStruct validates s by its `validate` struct tags and wraps any violation into sentinel,
// listing the offending fields.
func ValidateStruct(s any, sentinel error) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errors.Join(sentinel, err)
	}

	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Field()+" "+fe.Tag())
	}

	return fmt.Errorf("%w: %s", sentinel, strings.Join(fields, ", "))
}
