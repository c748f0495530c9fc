package authcore

import (
	"net/mail"
	"regexp"
	"strings"
)

const maxEmailLength = 254

// E.164 without separators: optional plus, 7 to 15 digits, no leading zero.
var phonePattern = regexp.MustCompile(`^\+?[1-9][0-9]{6,14}$`)

// validEmail accepts a bare addr-spec with a dotted domain. Display names
// and surrounding whitespace are rejected so lookups stay exact-match.
func validEmail(email string) bool {
	if email == "" || len(email) > maxEmailLength {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return false
	}
	domain := email[at+1:]
	return strings.Contains(domain, ".") && !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}

func validPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// normalizeAnswer makes security answers insensitive to case and
// surrounding whitespace.
func normalizeAnswer(answer string) string {
	return strings.ToLower(strings.Join(strings.Fields(answer), " "))
}
