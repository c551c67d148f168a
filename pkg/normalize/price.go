package normalize

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParsePrice turns a localized price string such as "$1,234.56" or
// "1.234.567,89" into a decimal. The second return value is false when the
// input carries no usable number.
//
// When the last separator is followed by exactly three digits and the whole
// string reads as thousands grouping ("1,234", "1.234.567") the value is an
// integer. Otherwise the last separator is the decimal point.
func ParsePrice(raw string) (decimal.Decimal, bool) {
	s := keepNumeric(raw)
	s = strings.TrimRight(s, ",.")
	if !strings.ContainsAny(s, "0123456789") {
		return decimal.Decimal{}, false
	}

	i := strings.LastIndexAny(s, ",.")
	if i < 0 {
		return fromString(s)
	}

	head, tail := s[:i], s[i+1:]
	if len(tail) == 3 && isGrouping(s) {
		return fromString(digitsOnly(s))
	}

	sep := s[i]
	if strings.IndexByte(head, sep) >= 0 {
		return decimal.Decimal{}, false
	}
	if strings.ContainsAny(head, ",.") && !isGrouping(head) {
		return decimal.Decimal{}, false
	}

	intPart := digitsOnly(head)
	if intPart == "" {
		intPart = "0"
	}
	return fromString(intPart + "." + tail)
}

// Format renders d so that ParsePrice reads it back as the same value.
// A plain String() of 12.345 would read back as thousands grouping, so
// values with exactly three decimals get a trailing zero.
func Format(d decimal.Decimal) string {
	s := d.String()
	if i := strings.IndexByte(s, '.'); i >= 0 && len(s)-i-1 == 3 {
		return s + "0"
	}
	return s
}

// Price is ParsePrice for callers that store the result in a nullable column.
func Price(raw string) decimal.NullDecimal {
	d, ok := ParsePrice(raw)
	return decimal.NullDecimal{Decimal: d, Valid: ok}
}

func keepNumeric(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func digitsOnly(s string) string {
	return strings.NewReplacer(",", "", ".", "").Replace(s)
}

// isGrouping reports whether s is digits split into thousands groups by a
// single separator kind: "1,234", "12.345.678". A leading group of "0" is
// not grouping.
func isGrouping(s string) bool {
	if strings.Contains(s, ",") && strings.Contains(s, ".") {
		return false
	}
	groups := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '.' })
	if len(groups) < 2 || len(groups) != strings.Count(s, ",")+strings.Count(s, ".")+1 {
		return false
	}
	first := groups[0]
	if len(first) == 0 || len(first) > 3 || first[0] == '0' {
		return false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return false
		}
	}
	return true
}

func fromString(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}
