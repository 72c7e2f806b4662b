package utils

import (
	"fmt"
	"regexp"
	"strings"

	"rental-payments/internal/status"
	"rental-payments/models"
)

const countryCode = "+260"

// national mobile numbers are 9 digits starting with 95-97 or 75-77.
var phoneRegex = regexp.MustCompile(`^(?:\+?260|0)?([79][5-7][0-9]{7})$`)

func cleanPhone(phone string) string {
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(phone))
}

// ValidatePhoneNumber reports whether phone is a Zambian mobile number in any accepted form.
func ValidatePhoneNumber(phone string) bool {
	return phoneRegex.MatchString(cleanPhone(phone))
}

// NormalizePhoneNumber converts phone to +260XXXXXXXXX.
func NormalizePhoneNumber(phone string) (string, error) {
	m := phoneRegex.FindStringSubmatch(cleanPhone(phone))
	if m == nil {
		return "", fmt.Errorf("%w: %q", status.ErrInvalidPhone, phone)
	}
	return countryCode + m[1], nil
}

// DetectMobileNetwork maps a number's network prefix to its mobile-money provider.
func DetectMobileNetwork(phone string) (models.Provider, error) {
	normalized, err := NormalizePhoneNumber(phone)
	if err != nil {
		return "", err
	}

	switch prefix := normalized[len(countryCode) : len(countryCode)+2]; prefix {
	case "97", "77":
		return models.ProviderAirtelMoney, nil
	case "96", "76":
		return models.ProviderMTNMoMo, nil
	case "95", "75":
		return models.ProviderZamtelKwacha, nil
	default:
		return "", fmt.Errorf("%w: unknown network prefix %s", status.ErrInvalidPhone, prefix)
	}
}

// MaskPhoneNumber keeps the country code and last three digits, for logs.
func MaskPhoneNumber(phone string) string {
	if len(phone) <= 7 {
		return strings.Repeat("*", len(phone))
	}
	return phone[:4] + strings.Repeat("*", len(phone)-7) + phone[len(phone)-3:]
}
