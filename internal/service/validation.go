package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	appErrors "github.com/noah-isme/sma-commerce-api/pkg/errors"
)

// NewValidator returns a validator that reports JSON field names.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// ValidateStruct runs the validator and converts failures into a VALIDATION_ERROR with field details.
func ValidateStruct(v *validator.Validate, req interface{}, message string) error {
	if err := v.Struct(req); err != nil {
		return validationError(err, message)
	}
	return nil
}

func validationError(err error, message string) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
	}
	details := make([]appErrors.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, appErrors.FieldError{Field: fe.Field(), Message: describeRule(fe)})
	}
	return appErrors.Validation(message, details...)
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gt", "gte", "min":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", fe.Field(), fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func fieldError(field, message string) error {
	return appErrors.Validation(message, appErrors.FieldError{Field: field, Message: message})
}
