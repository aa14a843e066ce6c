package models

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var zipPattern = regexp.MustCompile(`^\d{5}(-\d{4})?$`)

// ValidZip reports whether s is a 5-digit ZIP with an optional +4 suffix.
func ValidZip(s string) bool {
	return zipPattern.MatchString(strings.TrimSpace(s))
}

// NewValidator returns a validator that knows the "zip" tag used by
// Identity.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("zip", func(fl validator.FieldLevel) bool {
		return ValidZip(fl.Field().String())
	})
	return v
}
