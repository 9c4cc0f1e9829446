package auth

import (
	"errors"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"
	"github.com/osda-portal/apiserver/types"
)

// DefaultPhoneRegion is used to parse phone numbers without a country code.
const DefaultPhoneRegion = "IN"

// ValidateProfile normalizes in and checks it. Missing required fields
// fail with ErrMissingFields, a role outside the self-service set with
// ErrInvalidRole, and malformed values with ErrInvalidField. Each error
// names the offending fields.
func ValidateProfile(in types.ProfileInput) (types.ProfileInput, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Role = types.Role(strings.TrimSpace(string(in.Role)))
	in.OrganizationName = strings.TrimSpace(in.OrganizationName)
	in.Phone = strings.TrimSpace(in.Phone)

	var missing []string
	if in.Email == "" {
		missing = append(missing, "email")
	}
	if in.FirstName == "" {
		missing = append(missing, "firstName")
	}
	if in.LastName == "" {
		missing = append(missing, "lastName")
	}
	if in.Role == "" {
		missing = append(missing, "role")
	}
	if in.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return types.ProfileInput{}, ErrMissingFields.WithFields(missing...)
	}

	if !in.Role.SelfService() {
		return types.ProfileInput{}, ErrInvalidRole.WithFields("role")
	}

	err := validation.ValidateStruct(&in,
		validation.Field(&in.Email, is.Email, validation.Length(3, 254)),
		validation.Field(&in.FirstName, validation.Length(1, 100)),
		validation.Field(&in.LastName, validation.Length(1, 100)),
		validation.Field(&in.Password, validation.Length(MinPasswordLength, 72)),
		validation.Field(&in.OrganizationName, validation.Length(0, 200)),
	)
	if err != nil {
		return types.ProfileInput{}, fieldError(err)
	}

	if in.Phone != "" {
		phone, err := NormalizePhone(in.Phone)
		if err != nil {
			return types.ProfileInput{}, ErrInvalidField.WithFields("phone").Wrap(err)
		}
		in.Phone = phone
	}
	return in, nil
}

// NormalizePhone parses raw and returns it in E.164 form.
func NormalizePhone(raw string) (string, error) {
	num, err := phonenumbers.Parse(raw, DefaultPhoneRegion)
	if err != nil {
		return "", err
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", errors.New("not a valid phone number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func fieldError(err error) error {
	var errs validation.Errors
	if !errors.As(err, &errs) {
		return ErrInternal.Wrap(err)
	}
	fields := make([]string, 0, len(errs))
	for field := range errs {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return ErrInvalidField.WithFields(fields...).Wrap(err)
}
