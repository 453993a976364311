package validation

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"

	"github.com/spf13/cast"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// FieldValidator checks a single non-nil value
type FieldValidator interface {
	Validate(value interface{}) error
}

// FieldValidatorFunc adapts a function to FieldValidator
type FieldValidatorFunc func(value interface{}) error

// Validate calls f
func (f FieldValidatorFunc) Validate(value interface{}) error {
	return f(value)
}

// EnumValidator requires the value to be one of Values
type EnumValidator struct {
	Values []string
}

// Validate implements FieldValidator
func (v *EnumValidator) Validate(value interface{}) error {
	s, err := cast.ToStringE(value)
	if err == nil {
		for _, allowed := range v.Values {
			if s == allowed {
				return nil
			}
		}
	}
	return fmt.Errorf("must be one of: %s", strings.Join(v.Values, ", "))
}

// EmailValidator validates email addresses
type EmailValidator struct{}

// Validate implements FieldValidator
func (v *EmailValidator) Validate(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected string value")
	}
	addr, err := mail.ParseAddress(s)
	// a display name ("Bob <bob@example.com>") is not a bare address
	if err != nil || addr.Address != s || !strings.Contains(s[strings.LastIndex(s, "@")+1:], ".") {
		return fmt.Errorf("must be a valid email address")
	}
	return nil
}

// URLValidator validates absolute http and https URLs
type URLValidator struct{}

// Validate implements FieldValidator
func (v *URLValidator) Validate(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected string value")
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("must be a valid URL")
	}
	return nil
}

// PhoneValidator validates E.164 phone numbers
type PhoneValidator struct{}

// Validate implements FieldValidator
func (v *PhoneValidator) Validate(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected string value")
	}
	if !e164Pattern.MatchString(s) {
		return fmt.Errorf("must be a valid E.164 phone number")
	}
	return nil
}
