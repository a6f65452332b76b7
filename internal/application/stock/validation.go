package stock

import (
	"errors"
	"reflect"
	"strings"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Use JSON tag names for field names in errors
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateCommand runs struct validation and converts failures into an
// INVALID_INPUT domain error listing every offending field
func validateCommand(cmd any) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return shared.WrapDomainError("INVALID_INPUT", "Request validation failed", err)
	}
	details := make([]string, 0, len(verrs))
	for _, e := range verrs {
		details = append(details, e.Field()+": "+validationMessage(e))
	}
	return shared.NewDomainError("INVALID_INPUT", "Request validation failed: "+strings.Join(details, "; "))
}

// validationMessage returns a human-readable validation message
func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "this field is required"
	case "uuid":
		return "invalid UUID format"
	case "oneof":
		return "must be one of: " + e.Param()
	case "max":
		if e.Type().Kind() == reflect.String {
			return "must be at most " + e.Param() + " characters"
		}
		return "must be at most " + e.Param()
	case "min":
		return "must be at least " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "required_if", "required_unless":
		return "required by " + e.Param()
	default:
		return "invalid value"
	}
}
