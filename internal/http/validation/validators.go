// Package validation holds small field validators for the back-office forms.
// Messages are user-facing and written in the UI language.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validator is a function that validates a string value and returns an error message if invalid.
type Validator func(v string) string

// emailPattern is intentionally loose; the backend is the authority on accounts.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Required validates that a field is not blank and does not exceed maxLen characters.
// Uses rune count for proper Unicode support.
func Required(fieldName string, maxLen int) Validator {
	return func(v string) string {
		v = strings.TrimSpace(v)
		if v == "" {
			return fieldName + " es obligatorio."
		}
		if utf8.RuneCountInString(v) > maxLen {
			return fmt.Sprintf("%s no puede superar %d caracteres.", fieldName, maxLen)
		}
		return ""
	}
}

// Secret validates a password-like field. Unlike Required it never trims: spaces are significant.
func Secret(fieldName string, maxLen int) Validator {
	return func(v string) string {
		if v == "" {
			return fieldName + " es obligatoria."
		}
		if utf8.RuneCountInString(v) > maxLen {
			return fmt.Sprintf("%s no puede superar %d caracteres.", fieldName, maxLen)
		}
		return ""
	}
}

// Pattern validates that a non-blank field matches re.
func Pattern(fieldName string, re *regexp.Regexp) Validator {
	return func(v string) string {
		v = strings.TrimSpace(v)
		if v == "" {
			return ""
		}
		if !re.MatchString(v) {
			return fieldName + " tiene un formato no válido."
		}
		return ""
	}
}

// Email validates a non-blank e-mail address.
func Email(fieldName string) Validator {
	return Pattern(fieldName, emailPattern)
}

// FieldValidator provides a fluent API for validating multiple fields.
type FieldValidator struct {
	errors map[string]string
}

// New creates a new FieldValidator instance.
func New() *FieldValidator {
	return &FieldValidator{errors: make(map[string]string)}
}

// Validate validates a field with one or more validators.
// It stops at the first error for each field.
func (fv *FieldValidator) Validate(field, value string, validators ...Validator) *FieldValidator {
	for _, v := range validators {
		if err := v(value); err != "" {
			fv.errors[field] = err
			break
		}
	}
	return fv
}

// Valid reports whether no field failed.
func (fv *FieldValidator) Valid() bool { return len(fv.errors) == 0 }

// Errors returns the accumulated validation errors.
func (fv *FieldValidator) Errors() map[string]string {
	return fv.errors
}
