package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	dErrors "privacyhub/pkg/domain-errors"
	s "privacyhub/pkg/string"
)

// Request size limits shared by the HTTP handlers.
const (
	// MaxBodySize caps JSON request bodies (64 KB).
	MaxBodySize = 64 * 1024

	// MaxCategories caps the number of consent categories in one decision.
	MaxCategories = 32

	// MaxDetailsLength caps the free-text details of a privacy request.
	MaxDetailsLength = 5000

	// MaxReportEntries caps cookie/storage key lists in an inventory report.
	MaxReportEntries = 500
)

var categoryName = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

var defaultValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return categoryName.MatchString(fl.Field().String())
	})
	return v
}

// Validate validates a struct using the default validator and returns a domain error.
func Validate(req any) error {
	if err := defaultValidator.Struct(req); err != nil {
		return dErrors.New(dErrors.CodeValidation, ErrorMessage(err))
	}
	return nil
}

// IsCategoryName reports whether name is an acceptable consent category identifier.
func IsCategoryName(name string) bool {
	return categoryName.MatchString(name)
}

// ErrorMessage converts a validator error into a human-readable message.
func ErrorMessage(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return "invalid request body"
	}

	fe := validationErrs[0]
	fieldName := fe.Field()
	if fieldName == "" {
		fieldName = fe.StructField()
	}
	field := s.ToSnakeCase(fieldName)

	switch fe.ActualTag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	case "url":
		return fmt.Sprintf("%s must be a valid url", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "notblank":
		return fmt.Sprintf("%s must not be blank", field)
	case "category":
		return fmt.Sprintf("%s must be a lowercase category name", field)
	case "eq":
		return fmt.Sprintf("%s must be %s", field, fe.Param())
	default:
		if field == "" {
			return "invalid request body"
		}
		return fmt.Sprintf("%s is invalid", field)
	}
}
