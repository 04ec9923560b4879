// Package validator wraps go-playground/validator with English translations
// and the account rules that depend on more than one field.
package validator

import (
	"errors"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ericfisherdev/authenticator/internal/domain/model"
)

// ErrTranslatorNotFound indicates the English translator could not be loaded.
var ErrTranslatorNotFound = errors.New("translator not found")

// Validator validates domain structs and reports failures as a
// model.ValidationError keyed by lower-case field name.
type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

// New constructs a Validator with English messages and the account rules.
func New() (*Validator, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	enLang := en.New()
	uni := ut.New(enLang, enLang)
	enTrans, ok := uni.GetTranslator("en")
	if !ok {
		return nil, ErrTranslatorNotFound
	}

	if err := enTranslations.RegisterDefaultTranslations(validate, enTrans); err != nil {
		return nil, err
	}

	if err := registerAccountRules(validate, enTrans); err != nil {
		return nil, err
	}

	return &Validator{
		validate:   validate,
		translator: enTrans,
	}, nil
}

// Validate checks data and returns a model.ValidationError on failure. Errors
// that are not field failures are returned unchanged.
func (v *Validator) Validate(data any) error {
	err := v.validate.Struct(data)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	lower := cases.Lower(language.Und)
	out := make(model.ValidationError, len(fieldErrs))
	for _, fe := range fieldErrs {
		out[lower.String(fe.Field())] = fe.Translate(v.translator)
	}
	return out
}

// registerAccountRules adds the method-dependent digits and period checks.
//
//nolint:errcheck // translation registration only fails on duplicate keys
func registerAccountRules(validate *validator.Validate, enTrans ut.Translator) error {
	validate.RegisterStructValidation(accountStructLevel, model.Account{})

	rules := map[string]string{
		"digits_for_method": "{0} must be 6 or 8 for totp and hotp, and 5 for steam",
		"period_for_method": "{0} must be greater than zero for time-based methods",
	}
	for tag, msg := range rules {
		err := validate.RegisterTranslation(tag, enTrans,
			func(ut ut.Translator) error {
				return ut.Add(tag, msg, false)
			},
			func(ut ut.Translator, fe validator.FieldError) string {
				t, err := ut.T(fe.Tag(), fe.Field())
				if err != nil {
					return fe.Error()
				}
				return t
			},
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func accountStructLevel(sl validator.StructLevel) {
	a, ok := sl.Current().Interface().(model.Account)
	if !ok {
		return
	}

	switch a.Method {
	case model.MethodSteam:
		if a.Digits != model.SteamDigits {
			sl.ReportError(a.Digits, "Digits", "Digits", "digits_for_method", "")
		}
	case model.MethodTOTP, model.MethodHOTP:
		if a.Digits != 6 && a.Digits != 8 {
			sl.ReportError(a.Digits, "Digits", "Digits", "digits_for_method", "")
		}
	}

	if a.Method.IsTimeBased() && a.Period <= 0 {
		sl.ReportError(a.Period, "Period", "Period", "period_for_method", "")
	}
}
