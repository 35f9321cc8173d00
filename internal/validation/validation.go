// Package validation checks user-supplied city and display names.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// ErrNameEmpty is returned when the name is empty or whitespace-only after trim.
var ErrNameEmpty = errors.New("name is required")

// ErrNameTooShort is returned when the name length is below the minimum.
var ErrNameTooShort = errors.New("name too short")

// ErrNameTooLong is returned when the name length exceeds the maximum.
var ErrNameTooLong = errors.New("name too long")

// ErrNameInvalidChars is returned when the name contains disallowed characters.
var ErrNameInvalidChars = errors.New("name contains invalid characters")

// MaxNameLength bounds city and display names, in runes.
const MaxNameLength = 100

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("placename", func(fl validator.FieldLevel) bool {
		for _, r := range fl.Field().String() {
			if !isAllowedNameRune(r) {
				return false
			}
		}
		return true
	})
	return v
}

// ValidateCityName trims the input and enforces length bounds (minLen, maxLen in
// runes; zero disables a bound) and the allowed character set: Unicode letters,
// digits, space and the punctuation found in geocoder place names
// (, - . ' ( ) /). Returns the trimmed name.
func ValidateCityName(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	tags := []string{"required"}
	if minLen > 0 {
		tags = append(tags, fmt.Sprintf("min=%d", minLen))
	}
	if maxLen > 0 {
		tags = append(tags, fmt.Sprintf("max=%d", maxLen))
	}
	tags = append(tags, "placename")

	if err := validate.Var(s, strings.Join(tags, ",")); err != nil {
		return "", mapError(err)
	}
	return s, nil
}

// ValidateDisplayName checks a user-chosen label. Only the length is bounded;
// an empty string is allowed.
func ValidateDisplayName(name string) error {
	if err := validate.Var(name, fmt.Sprintf("max=%d", MaxNameLength)); err != nil {
		return mapError(err)
	}
	return nil
}

func mapError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	switch verrs[0].Tag() {
	case "required":
		return ErrNameEmpty
	case "min":
		return ErrNameTooShort
	case "max":
		return ErrNameTooLong
	default:
		return ErrNameInvalidChars
	}
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'', '(', ')', '/':
		return true
	}
	return false
}
