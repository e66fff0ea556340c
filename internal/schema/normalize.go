package schema

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cast"
)

var errNoNumber = errors.New("no number found")

// numberToken matches the first number in a string, including grouping
// separators and spaces inside it.
var numberToken = regexp.MustCompile(`[-+]?(?:\d|[.,]\d)[\d.,'\x{00a0}\x{202f} ]*`)

// NormalizeNumber coerces a numeric value or a price-like string to float64.
// Currency symbols, unit suffixes and surrounding text are stripped, grouping
// separators are removed and a trailing comma-decimal is honored:
// "19.99 USD" => 19.99, "$1,299.00" => 1299, "19,99 €" => 19.99.
func NormalizeNumber(v any) (float64, error) {
	switch value := v.(type) {
	case nil:
		return 0, errNoNumber
	case string:
		return parseNumberString(value)
	case []byte:
		return parseNumberString(string(value))
	case bool:
		return 0, fmt.Errorf("boolean %v is not a number", value)
	default:
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return 0, fmt.Errorf("coerce %T: %w", v, err)
		}
		return f, nil
	}
}

func parseNumberString(raw string) (float64, error) {
	token := numberToken.FindString(raw)
	if token == "" {
		return 0, fmt.Errorf("%w in %q", errNoNumber, raw)
	}
	token = strings.TrimRight(token, ".,' \u00a0\u202f")
	token = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\'', '\u00a0', '\u202f':
			return -1
		}
		return r
	}, token)
	token = canonicalDecimal(token)
	f, err := cast.ToFloat64E(token)
	if err != nil {
		return 0, fmt.Errorf("parse number %q: %w", raw, err)
	}
	return f, nil
}

// canonicalDecimal rewrites grouping and decimal separators so the result
// uses a single '.' decimal point.
func canonicalDecimal(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			// 1.299,00
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		// 1,299.00
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 != 3 {
			// 19,99
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ".") > 1:
		// 1.299.000
		return strings.ReplaceAll(s, ".", "")
	default:
		return s
	}
}

// normalizeString trims and collapses whitespace.
func normalizeString(v any) (string, error) {
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("coerce %T to string: %w", v, err)
	}
	return strings.Join(strings.Fields(s), " "), nil
}
