package format

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lmeira/docsqueeze/internal/model"
)

func TestLedgerTitle_Substitutes(t *testing.T) {
	got := LedgerTitle("{issue_date} | {ref} | {amount} EUR", map[string]string{
		"issue_date": "2025-01-15",
		"ref":        "INV-001",
		"amount":     "123.45",
	})
	assert.Equal(t, "2025-01-15 | INV-001 | 123.45 EUR", got)
}

func TestLedgerTitle_MissingPlaceholderBecomesDash(t *testing.T) {
	got := LedgerTitle("{issue_date} | {ref}", map[string]string{"issue_date": "2025-01-15"})
	assert.Equal(t, "2025-01-15 | -", got)
}

func TestLedgerTitle_CollapsesWhitespace(t *testing.T) {
	got := LedgerTitle("{a}   x \t {b}", map[string]string{"a": "1", "b": "2"})
	assert.Equal(t, "1 x 2", got)
}

func TestLedgerTitle_EmptyValueTreatedAsMissing(t *testing.T) {
	got := LedgerTitle("{a}", map[string]string{"a": ""})
	assert.Equal(t, "-", got)
}

func TestTitleFromExtraction_UsesBestValues(t *testing.T) {
	ex := &model.ExtractionResult{Fields: map[string]model.ExtractedField{
		"issue_date": {Name: "issue_date", RawValue: model.StringPtr("15-01-2025"), NormalizedValue: model.StringPtr("2025-01-15")},
		"ref":        {Name: "ref", RawValue: model.StringPtr("INV-1")},
	}}
	got := TitleFromExtraction("{issue_date} {ref}", ex, "")
	assert.Equal(t, "2025-01-15 INV-1", got)
}

func TestTitleFromExtraction_FallbackDate(t *testing.T) {
	ex := &model.ExtractionResult{Fields: map[string]model.ExtractedField{}}
	got := TitleFromExtraction("{issue_date} invoice", ex, "2025-02-01")
	assert.Equal(t, "2025-02-01 invoice", got)
}

func TestAmountDisplay(t *testing.T) {
	assert.Equal(t, "123.45 EUR", AmountDisplay("123.45", ""))
	assert.Equal(t, "10.00 USD", AmountDisplay("10.00", "USD"))
	assert.Equal(t, "-", AmountDisplay("  ", ""))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a-b-c", SanitizeFilename(`a/b\c`, 0))
	assert.Equal(t, "report", SanitizeFilename("--report--", 0))
	assert.Equal(t, "ab", SanitizeFilename("ab<>:?", 0))
}

func TestSanitizeFilename_Truncates(t *testing.T) {
	got := SanitizeFilename("abcdef-ghij", 7)
	assert.Equal(t, "abcdef", got)
}
