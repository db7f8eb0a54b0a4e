package accounts

import (
	"errors"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/nyaruka/phonenumbers"
)

const (
	// DefaultMinPasswordLength is the only password policy enforced
	DefaultMinPasswordLength = 8
	// DefaultPhoneRegion is used to parse numbers written without a country prefix
	DefaultPhoneRegion = "US"

	// bcrypt ignores everything past 72 bytes
	maxPasswordLength = 72
	minUsernameLength = 3
	maxUsernameLength = 60
	maxProfileLength  = 200
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	taxIDPattern    = regexp.MustCompile(`^[0-9]{11}$`)
)

// NormalizeEmail lower cases and trims an email so uniqueness is case insensitive
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeTaxID drops the punctuation people usually type in tax ids
func NormalizeTaxID(taxID string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '-', '/', ' ':
			return -1
		}
		return r
	}, strings.TrimSpace(taxID))
}

// NormalizePhone returns the E.164 form of phone, or phone unchanged when it
// can not be parsed
func NormalizePhone(phone, region string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	if region == "" {
		region = DefaultPhoneRegion
	}
	num, err := phonenumbers.Parse(phone, region)
	if err != nil {
		return phone
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

// ValidPhone is a validation rule for phone numbers in region
func ValidPhone(region string) validation.RuleFunc {
	if region == "" {
		region = DefaultPhoneRegion
	}
	return func(value any) error {
		s, _ := value.(string)
		if strings.TrimSpace(s) == "" {
			return nil
		}
		num, err := phonenumbers.Parse(s, region)
		if err != nil {
			return errors.New("must be a valid phone number")
		}
		if !phonenumbers.IsValidNumber(num) {
			return errors.New("must be a valid phone number")
		}
		return nil
	}
}

// ValidateStringEquals checks value equals str
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

func passwordRules(minLength int) []validation.Rule {
	if minLength <= 0 {
		minLength = DefaultMinPasswordLength
	}
	return []validation.Rule{
		validation.Required,
		validation.RuneLength(minLength, 0),
		validation.Length(0, maxPasswordLength),
	}
}

func usernameRules() []validation.Rule {
	return []validation.Rule{
		validation.Required,
		validation.Length(minUsernameLength, maxUsernameLength),
		validation.Match(usernamePattern).Error("may only contain letters, digits and underscores"),
	}
}

func emailRules() []validation.Rule {
	return []validation.Rule{
		validation.Required,
		validation.Length(3, 254),
		is.EmailFormat,
	}
}

func taxIDRules() []validation.Rule {
	return []validation.Rule{
		validation.Required,
		validation.Match(taxIDPattern).Error("must be exactly 11 digits"),
	}
}

func profileTextRules(required bool) []validation.Rule {
	rules := []validation.Rule{validation.Length(0, maxProfileLength)}
	if required {
		rules = append([]validation.Rule{validation.Required}, rules...)
	}
	return rules
}

func roleRules() []validation.Rule {
	return []validation.Rule{
		validation.Required,
		validation.In(RoleDesigner, RoleReseller).Error("must be designer or reseller"),
	}
}

// validationError turns an ozzo validation failure into the package error
func validationError(fn func() error, msg string) error {
	verr := goerrors.ValidateWithOzzo(fn, msg)
	if verr == nil {
		return nil
	}
	return verr.WithTextCode(TextCodeValidation).WithCode(goerrors.CodeBadRequest)
}

// checkPassword applies the length policy, reporting ErrWeakPassword
func checkPassword(password string, minLength int) error {
	if minLength <= 0 {
		minLength = DefaultMinPasswordLength
	}
	if len([]rune(password)) < minLength {
		return errorWith(ErrWeakPassword, map[string]any{"min_length": minLength})
	}
	if len(password) > maxPasswordLength {
		return errorWith(ErrWeakPassword, map[string]any{"max_length": maxPasswordLength})
	}
	return nil
}
