/*
code.go - Check-in code normalization (CodeNormalizer)

PURPOSE:
  Participants carry a short code printed on their badge as text and QR.
  Kiosks and guides submit whatever the scanner or keyboard produced:
  lowercase, dashes, spaces, or the full URL encoded in the QR image.
  NormalizeCode reduces all of those to one canonical token.

RULES:
  1. If the input contains a "code=" query parameter, its value is used
  2. Only ASCII letters and digits are kept, letters are uppercased
  3. The result must fit the ledger's CodeRule length range

  " a7k3-q9zp "                          -> "A7K3Q9ZP"
  "https://tour.example/c?code=a7k3q9zp" -> "A7K3Q9ZP"
*/
package generic

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
	"strings"
)

// CodeAlphabet is the alphabet generated codes are drawn from. Normalized
// input may contain any ASCII letter or digit.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeRule bounds the length of a normalized code.
type CodeRule struct {
	Min int
	Max int
}

var (
	// PrimaryCode is the badge code used for event check-in.
	PrimaryCode = CodeRule{Min: 8, Max: 8}

	// GenericCode is accepted by activity and item scanners.
	GenericCode = CodeRule{Min: 6, Max: 10}
)

// NormalizeCode canonicalizes a scanned or typed code.
func NormalizeCode(raw string, rule CodeRule) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCode)
	}
	if v, ok := codeFromQuery(raw); ok {
		raw = v
	}

	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c >= 'a' && c <= 'z':
			b.WriteByte(c - 'a' + 'A')
		}
	}

	code := b.String()
	if code == "" {
		return "", fmt.Errorf("%w: no alphanumeric characters", ErrInvalidCode)
	}
	if len(code) < rule.Min || len(code) > rule.Max {
		if rule.Min == rule.Max {
			return "", fmt.Errorf("%w: expected %d characters, got %d", ErrInvalidCode, rule.Min, len(code))
		}
		return "", fmt.Errorf("%w: expected %d-%d characters, got %d", ErrInvalidCode, rule.Min, rule.Max, len(code))
	}
	return code, nil
}

// codeFromQuery extracts the code= parameter from a URL or bare query string.
func codeFromQuery(raw string) (string, bool) {
	idx := strings.Index(strings.ToLower(raw), "code=")
	if idx < 0 {
		return "", false
	}
	query := raw
	if q := strings.IndexByte(raw, '?'); q >= 0 && q < idx {
		query = raw[q+1:]
	} else {
		query = raw[idx:]
	}
	if h := strings.IndexByte(query, '#'); h >= 0 {
		query = query[:h]
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return "", false
	}
	for key, vals := range values {
		if strings.EqualFold(key, "code") && len(vals) > 0 && vals[0] != "" {
			return vals[0], true
		}
	}
	return "", false
}

// NewCode returns a random code of length n drawn from CodeAlphabet.
func NewCode(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("%w: length must be positive", ErrInvalidCode)
	}
	max := big.NewInt(int64(len(CodeAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b[i] = CodeAlphabet[idx.Int64()]
	}
	return string(b), nil
}
