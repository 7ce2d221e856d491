package logx

import "strings"

var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"cookie":        true,
	"x-csrf-token":  true,
	"x-api-key":     true,
}

// Mask hides most of a secret so it can appear in logs.
// Up to 5 characters everything is hidden, up to 20 the first and last stay
// visible, beyond that the first 3 and the last one.
func Mask(s string) string {
	n := len(s)
	switch {
	case n == 0:
		return ""
	case n <= 5:
		return strings.Repeat("*", n)
	case n <= 20:
		return s[:1] + strings.Repeat("*", n-2) + s[n-1:]
	default:
		return s[:3] + strings.Repeat("*", n-4) + s[n-1:]
	}
}

// Headers returns a copy of h safe to log, with credential headers masked.
func Headers(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if sensitiveHeaders[strings.ToLower(k)] {
			v = Mask(v)
		}
		out[k] = v
	}
	return out
}
