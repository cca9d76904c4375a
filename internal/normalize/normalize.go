// Package normalize converts raw extracted values into canonical forms:
// ISO dates, plain decimal amounts, digit-only identifiers. Every function
// is pure and total; failure is reported with ok=false, never an error.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Date layouts tried in order. More specific first so an ISO input is never
// misread as day-first.
var dateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"02/01/2006",
	"02.01.2006",
	"2006/01/02",
	"2006.01.02",
	"2 Jan 2006",
	"2 January 2006",
	"January 2, 2006",
}

var currencySymbols = []string{"€", "$", "£", "EUR", "USD", "GBP"}

// Unit suffixes stripped by Number. Longer units come before their prefixes
// ("kwh" before "kw" before "w").
var numberUnits = []string{"kwh", "kw", "w", "m3", "m2", "m", "kg", "g", "l", "ml", "kva", "%"}

var (
	amountJunkRe = regexp.MustCompile(`[^\d,.\-]`)
	nonDigitRe   = regexp.MustCompile(`\D`)
)

// Date parses a date in any of the supported layouts and returns it as
// YYYY-MM-DD.
func Date(value string) (string, bool) {
	clean := strings.TrimSpace(value)
	if clean == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, clean); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

// Amount normalizes a monetary amount to a plain decimal with two places,
// e.g. "1.234,56 €" and "1,234.56" both become "1234.56".
func Amount(value string) (string, bool) {
	return AmountPrec(value, 2)
}

// AmountPrec is Amount with a caller-chosen number of decimal places.
//
// Separator disambiguation: the rightmost of comma and period is the decimal
// separator. With only commas they are thousands separators. With a single
// period followed by exactly three digits the period is a thousands
// separator, otherwise it is the decimal point.
func AmountPrec(value string, places int) (string, bool) {
	clean := strings.TrimSpace(value)
	if clean == "" {
		return "", false
	}

	for _, sym := range currencySymbols {
		clean = strings.ReplaceAll(clean, sym, "")
	}
	clean = amountJunkRe.ReplaceAllString(strings.TrimSpace(clean), "")
	if clean == "" {
		return "", false
	}

	lastComma := strings.LastIndex(clean, ",")
	lastPeriod := strings.LastIndex(clean, ".")

	switch {
	case lastComma >= 0 && lastPeriod >= 0:
		// Both present: the rightmost separator is the decimal point.
		if lastComma > lastPeriod {
			// European: 1.234,56
			clean = strings.ReplaceAll(clean, ".", "")
			clean = strings.ReplaceAll(clean, ",", ".")
		} else {
			// US: 1,234.56
			clean = strings.ReplaceAll(clean, ",", "")
		}
	case lastComma >= 0:
		// Commas only are thousands separators: 1,234,567 -> 1234567.
		clean = strings.ReplaceAll(clean, ",", "")
	case lastPeriod >= 0:
		// A single period followed by exactly three digits is a thousands
		// separator: 1.234 -> 1234. Anything else is the decimal point.
		parts := strings.Split(clean, ".")
		if len(parts) == 2 && len(parts[1]) == 3 {
			clean = parts[0] + parts[1]
		}
	}

	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return "", false
	}
	return strconv.FormatFloat(f, 'f', places, 64), true
}

// Number normalizes a measurement, stripping unit suffixes such as kWh or
// m3 and dropping insignificant trailing zeros: "123,45 kWh" -> "123.45",
// "8 m3" -> "8".
func Number(value string) (string, bool) {
	clean := strings.ToLower(strings.TrimSpace(value))
	for _, unit := range numberUnits {
		clean = strings.TrimSpace(strings.ReplaceAll(clean, unit, ""))
	}

	result, ok := AmountPrec(clean, 10)
	if !ok {
		return "", false
	}
	result = strings.TrimRight(result, "0")
	result = strings.TrimRight(result, ".")
	return result, true
}

// Text collapses whitespace and applies Unicode NFC. When maxLen > 0 the
// result is truncated to maxLen runes with a trailing ellipsis counted
// inside the limit. Returns ok=false for empty input.
func Text(value string, maxLen int) (string, bool) {
	clean := strings.Join(strings.Fields(norm.NFC.String(value)), " ")
	if clean == "" {
		return "", false
	}
	if maxLen > 0 {
		if r := []rune(clean); len(r) > maxLen {
			if maxLen <= 3 {
				clean = string(r[:maxLen])
			} else {
				clean = string(r[:maxLen-3]) + "..."
			}
		}
	}
	return clean, true
}

// NIF normalizes a Portuguese tax number to its 9 digits, accepting an
// optional 351 country prefix.
func NIF(value string) (string, bool) {
	clean := nonDigitRe.ReplaceAllString(value, "")
	switch {
	case len(clean) == 9:
		return clean, true
	case len(clean) == 11 && strings.HasPrefix(clean, "351"):
		return clean[3:], true
	}
	return "", false
}

// MBReference normalizes a Multibanco payment reference to digits only.
// Valid references are 9 digits, or 15 for the full entity+reference form.
func MBReference(value string) (string, bool) {
	clean := nonDigitRe.ReplaceAllString(value, "")
	if len(clean) == 9 || len(clean) == 15 {
		return clean, true
	}
	return "", false
}

// DueDate adds days calendar days to a date in any supported layout and
// returns the result as YYYY-MM-DD.
func DueDate(issueDate string, days int) (string, bool) {
	normalized, ok := Date(issueDate)
	if !ok {
		return "", false
	}
	t, err := time.Parse("2006-01-02", normalized)
	if err != nil {
		return "", false
	}
	return t.AddDate(0, 0, days).Format("2006-01-02"), true
}

// IsEmpty reports whether value is empty or whitespace only. "0" is not
// empty.
func IsEmpty(value string) bool {
	return strings.TrimSpace(value) == ""
}

// ValuesMatch reports whether two values are equivalent: equal as amounts,
// equal as dates, or equal as case-insensitive whitespace-collapsed strings.
// Two empty values match; an empty and a non-empty value never do.
func ValuesMatch(a, b string) bool {
	if IsEmpty(a) && IsEmpty(b) {
		return true
	}
	if IsEmpty(a) || IsEmpty(b) {
		return false
	}

	if na, ok := Amount(a); ok {
		if nb, ok := Amount(b); ok {
			return na == nb
		}
	}
	if na, ok := Date(a); ok {
		if nb, ok := Date(b); ok {
			return na == nb
		}
	}

	fold := func(s string) string {
		return strings.Join(strings.Fields(strings.ToLower(s)), " ")
	}
	return fold(a) == fold(b)
}
