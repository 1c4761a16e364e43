package notify

import "strings"

// NormalizePhone turns a user supplied number into E.164 form.
// Numbers already starting with "+" are kept, numbers starting with the
// country code get a "+" and bare ten digit numbers get "+<cc>".
func NormalizePhone(phone, countryCode string) string {
	p := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
	switch {
	case p == "":
		return ""
	case strings.HasPrefix(p, "+"):
		return p
	case countryCode != "" && strings.HasPrefix(p, countryCode) && len(p) > 10:
		return "+" + p
	case len(p) == 10:
		return "+" + countryCode + p
	default:
		return p
	}
}
