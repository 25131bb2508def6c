package model

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/transitkit/feedsmith/internal/apperror"
)

var validate = newValidator()

var gtfsColorRe = regexp.MustCompile(`^[0-9A-Fa-f]{6}$`)

func newValidator() *validator.Validate {
	v := validator.New()

	// Report json field names in validation errors, not Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// GTFS colors are 6-digit hex triplets without a leading '#'.
	_ = v.RegisterValidation("gtfscolor", func(fl validator.FieldLevel) bool {
		return gtfsColorRe.MatchString(fl.Field().String())
	})

	return v
}

// Validate runs struct validation over an entity and translates the first
// failure into a field-level apperror.
func Validate(entity any) error {
	err := validate.Struct(entity)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return apperror.ValidationFailed(fe.Field(), validationMessage(fe))
	}
	return apperror.ValidationFailed("", err.Error())
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "url":
		return fe.Field() + " must be a valid URL"
	case "timezone":
		return fe.Field() + " must be a valid IANA timezone"
	case "latitude":
		return fe.Field() + " must be between -90 and 90"
	case "longitude":
		return fe.Field() + " must be between -180 and 180"
	case "gtfscolor":
		return fe.Field() + " must be a 6-digit hex color"
	case "iso4217":
		return fe.Field() + " must be an ISO 4217 currency code"
	case "min":
		return fe.Field() + " must be at least " + fe.Param()
	case "max":
		return fe.Field() + " must be at most " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}
