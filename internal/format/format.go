// Package format builds ledger-style document titles and display strings.
package format

import (
	"regexp"
	"strings"

	"github.com/lmeira/docsqueeze/internal/model"
)

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// LedgerTitle substitutes {field} placeholders in a template format string.
// Unknown placeholders are replaced with a dash; whitespace runs collapse to
// single spaces.
//
//	LedgerTitle("{issue_date} | {ref}", map[string]string{"issue_date": "2025-01-15", "ref": "INV-1"})
//	=> "2025-01-15 | INV-1"
func LedgerTitle(format string, values map[string]string) string {
	result := placeholderRe.ReplaceAllStringFunc(format, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := values[key]; ok && v != "" {
			return v
		}
		return m
	})

	result = strings.Join(strings.Fields(result), " ")

	// Placeholders that never resolved become dashes.
	return placeholderRe.ReplaceAllString(result, "-")
}

// TitleFromExtraction builds a document title from a template title format
// and the extraction's best values. fallbackDate fills issue_date when the
// extraction has none.
func TitleFromExtraction(titleFormat string, extraction *model.ExtractionResult, fallbackDate string) string {
	values := make(map[string]string, len(extraction.Fields))
	for name, f := range extraction.Fields {
		if v := f.BestValue(); v != "" {
			values[name] = v
		}
	}
	if values["issue_date"] == "" && fallbackDate != "" {
		values["issue_date"] = fallbackDate
	}
	return LedgerTitle(titleFormat, values)
}

// AmountDisplay renders an amount with its currency, or a dash when empty.
func AmountDisplay(amount, currency string) string {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return "-"
	}
	if currency == "" {
		currency = "EUR"
	}
	return amount + " " + currency
}

var dashRunRe = regexp.MustCompile(`-+`)

// SanitizeFilename replaces characters that are unsafe in filenames with
// dashes, collapses dash runs and trims to maxLen.
func SanitizeFilename(text string, maxLen int) string {
	result := text
	for _, c := range []string{"<", ">", ":", `"`, "/", `\`, "|", "?", "*"} {
		result = strings.ReplaceAll(result, c, "-")
	}
	result = dashRunRe.ReplaceAllString(result, "-")
	result = strings.Trim(result, "- ")
	if maxLen > 0 && len(result) > maxLen {
		result = strings.TrimRight(result[:maxLen], "- ")
	}
	return result
}
