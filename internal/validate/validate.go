// Package validate holds the local format rules checked before any network
// call: phone numbers, the two PIN domains and one-time codes.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Tags registered on the shared validator.
const (
	TagPhone    = "phone11"
	TagLoginPIN = "loginpin"
	TagTxnPIN   = "txnpin"
	TagOTP      = "otpcode"
)

var (
	phonePattern    = regexp.MustCompile(`^\d{11}$`)
	loginPINPattern = regexp.MustCompile(`^\d{6}$`)
	txnPINPattern   = regexp.MustCompile(`^\d{4}$`)
	otpPattern      = regexp.MustCompile(`^\d{6}$`)
)

var messages = map[string]string{
	TagPhone:    "must be an 11-digit phone number",
	TagLoginPIN: "must be exactly 6 digits",
	TagTxnPIN:   "must be exactly 4 digits",
	TagOTP:      "must be a 6-digit code",
	"required":  "is required",
	"nefield":   "must differ from the current PIN",
	"gt":        "must be greater than zero",
	"oneof":     "is not a supported option",
	"email":     "must be a valid email address",
}

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New(validator.WithRequiredStructEnabled())
	val.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	for tag, re := range map[string]*regexp.Regexp{
		TagPhone:    phonePattern,
		TagLoginPIN: loginPINPattern,
		TagTxnPIN:   txnPINPattern,
		TagOTP:      otpPattern,
	} {
		re := re
		if err := val.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return re.MatchString(fl.Field().String())
		}); err != nil {
			panic(fmt.Sprintf("register %s: %v", tag, err))
		}
	}
	return val
}

// Error describes the first rule a value broke.
type Error struct {
	Field string
	Rule  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message())
}

// Message is the user facing reason without the field name.
func (e *Error) Message() string {
	if m, ok := messages[e.Rule]; ok {
		return m
	}
	return "is invalid"
}

// Struct validates s using its `validate` tags and reports the first failure.
func Struct(s any) error {
	return first(v.Struct(s))
}

// Var validates a single value against tag, naming it field in the error.
func Var(field string, value any, tag string) error {
	if err := first(v.Var(value, tag)); err != nil {
		var ve *Error
		if errors.As(err, &ve) {
			ve.Field = field
		}
		return err
	}
	return nil
}

func first(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &Error{Field: fe.Field(), Rule: fe.Tag()}
	}
	return err
}
