package inbox

import (
	"regexp"
	"strings"
)

var countryCodePattern = regexp.MustCompile(`^\+?(\d{1,4})`)

// PhoneVariants returns the lookup forms of a number: as given (minus spaces
// and hyphens) and with the leading '+' toggled.
func PhoneVariants(number string) []string {
	clean := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(number))
	if clean == "" || clean == "+" {
		return nil
	}
	if strings.HasPrefix(clean, "+") {
		return []string{clean, clean[1:]}
	}
	return []string{clean, "+" + clean}
}

// CountryCode extracts the leading 1-4 digits of a number.
func CountryCode(number string) string {
	m := countryCodePattern.FindStringSubmatch(strings.TrimSpace(number))
	if m == nil {
		return ""
	}
	return m[1]
}
