package generic

import "strings"

// =============================================================================
// ACTION CLASSIFIER - Free-form client input to closed enums
// =============================================================================
// Clients send manual entries and legacy query strings. Unknown or missing
// values fall back to a default instead of being rejected.

// ParseDirection maps "exit" (any case, punctuation ignored) to ActionExit
// and everything else to ActionEntry.
func ParseDirection(s string) Action {
	if squash(s) == "exit" {
		return ActionExit
	}
	return ActionEntry
}

// ParseMethod maps "qr", "qrscan" and "scan" to MethodQRScan and everything
// else to MethodManual.
func ParseMethod(s string) Method {
	switch squash(s) {
	case "qr", "qrscan", "scan":
		return MethodQRScan
	}
	return MethodManual
}

// ParseItemAction maps "return" to ActionReturn and everything else to ActionGive.
func ParseItemAction(s string) Action {
	if squash(s) == "return" {
		return ActionReturn
	}
	return ActionGive
}

// squash lowercases s and drops everything but ASCII letters and digits.
func squash(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c >= 'A' && c <= 'Z':
			b.WriteByte(c - 'A' + 'a')
		}
	}
	return b.String()
}
