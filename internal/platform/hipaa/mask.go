package hipaa

import "strings"

// Masking helpers for direct identifiers under the HIPAA Safe Harbor
// standard (45 CFR 164.514(b)(2)). Account and crisis contact names, email
// addresses and phone numbers never reach logs or operational alerts
// unmasked.

// MaskEmail keeps the first character of the local part and the domain:
// "jane.doe@example.org" becomes "j***@example.org".
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return mask(email)
	}
	return email[:1] + "***" + email[at:]
}

// MaskPhone keeps the last two digits.
func MaskPhone(phone string) string {
	var digits []rune
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) <= 2 {
		return mask(phone)
	}
	return "***" + string(digits[len(digits)-2:])
}

// MaskName keeps initials only.
func MaskName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range fields {
		r := []rune(f)
		b.WriteRune(r[0])
		b.WriteByte('.')
	}
	return b.String()
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
