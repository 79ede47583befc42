package draft

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pitabwire/chargecfg/internal/catalog"
	"github.com/pitabwire/chargecfg/model"
)

// newValidate returns a validator that reports fields by their JSON names.
func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError converts validator output into a VALIDATION_ERROR.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return model.NewBadRequestError(err.Error())
	}
	details := make([]model.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, model.FieldError{
			Field:   fe.Field(),
			Code:    fieldErrorCode(fe),
			Message: fieldErrorMessage(fe),
		})
	}
	return model.NewValidationError(details)
}

func fieldErrorCode(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "REQUIRED"
	default:
		return "INVALID_VALUE"
	}
}

func fieldErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "required_if":
		return fmt.Sprintf("%s is required when %s", fe.Field(), strings.Replace(fe.Param(), " ", " is ", 1))
	case "min":
		return fe.Field() + " must have at least " + fe.Param() + " entries"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}

// fieldErrors converts catalogue validation errors into field errors with
// the leading path segment removed.
func fieldErrors(errs []catalog.VError) []model.FieldError {
	out := make([]model.FieldError, len(errs))
	for i, e := range errs {
		field := e.Path
		if _, rest, ok := strings.Cut(e.Path, "."); ok {
			field = rest
		}
		out[i] = model.FieldError{Field: field, Code: e.Code, Message: e.Message}
	}
	return out
}
