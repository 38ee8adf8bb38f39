// Package taxid normalizes and validates the 11-digit personal tax identifier
// used as the canonical key of an enriched party.
package taxid

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Length is the number of digits in a canonical personal identifier.
const Length = 11

// paddedLength is the width used by providers that share one column between
// personal (11-digit) and company (14-digit) identifiers.
const paddedLength = 14

// ErrInvalid is returned when an identifier cannot be normalized or fails the
// check digit validation.
var ErrInvalid = eris.New("taxid: invalid identifier")

// digitsOnly strips every non-digit rune (dots, dashes, slashes, spaces).
func digitsOnly(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalize converts a raw provider value into the canonical 11-digit form
// without validating check digits:
//   - punctuation is removed ("123.456.789-09" -> "12345678909")
//   - a 14-digit padded value with three leading zeros is cut to its last 11
//   - 9 or 10 digit values lost their leading zeros to numeric storage and
//     are left-padded
//
// A 14-digit value without the zero padding is a company identifier and is
// rejected.
func Normalize(raw string) (string, error) {
	d := digitsOnly(raw)
	switch {
	case len(d) == Length:
		return d, nil
	case len(d) == paddedLength:
		if !strings.HasPrefix(d, "000") {
			return "", eris.Wrapf(ErrInvalid, "company identifier %s", Mask(d))
		}
		return d[paddedLength-Length:], nil
	case len(d) == 9 || len(d) == 10:
		return strings.Repeat("0", Length-len(d)) + d, nil
	default:
		return "", eris.Wrapf(ErrInvalid, "unexpected length %d", len(d))
	}
}

// Valid reports whether id is a canonical identifier with correct mod-11
// check digits. Sequences of one repeated digit pass the arithmetic but are
// never issued, so they are rejected.
func Valid(id string) bool {
	if len(id) != Length {
		return false
	}
	var d [Length]int
	same := true
	for i := 0; i < Length; i++ {
		c := id[i]
		if c < '0' || c > '9' {
			return false
		}
		d[i] = int(c - '0')
		if i > 0 && d[i] != d[0] {
			same = false
		}
	}
	if same {
		return false
	}
	return checkDigit(d[:9]) == d[9] && checkDigit(d[:10]) == d[10]
}

// checkDigit computes the next mod-11 check digit for the given prefix.
// Weights run from len(prefix)+1 down to 2.
func checkDigit(prefix []int) int {
	sum := 0
	weight := len(prefix) + 1
	for _, v := range prefix {
		sum += v * weight
		weight--
	}
	r := sum % 11
	if r < 2 {
		return 0
	}
	return 11 - r
}

// NormalizeValid normalizes raw and validates the result.
func NormalizeValid(raw string) (string, error) {
	id, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	if !Valid(id) {
		return "", eris.Wrapf(ErrInvalid, "check digits %s", Mask(id))
	}
	return id, nil
}

// Mask hides all but the last four digits for logging.
func Mask(id string) string {
	if len(id) <= 4 {
		return strings.Repeat("*", len(id))
	}
	return strings.Repeat("*", len(id)-4) + id[len(id)-4:]
}

// Format renders a canonical identifier as 000.000.000-00 for human readers.
// Non-canonical input is returned unchanged.
func Format(id string) string {
	if len(id) != Length {
		return id
	}
	return id[0:3] + "." + id[3:6] + "." + id[6:9] + "-" + id[9:11]
}
