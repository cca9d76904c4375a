// Package kind applies per-document-kind post-processing to extraction
// results. The kind comes from the matched template; every hook is a pure
// transform that returns a new result and leaves its input untouched.
package kind

import (
	"regexp"
	"strings"

	"github.com/lmeira/docsqueeze/internal/model"
	"github.com/lmeira/docsqueeze/internal/normalize"
)

// Kind is a closed set of document families with special handling.
type Kind string

const (
	General       Kind = "general"
	UtilityEnergy Kind = "utility_energy"
	UtilityWater  Kind = "utility_water"
	Tax           Kind = "tax"
	Fine          Kind = "fine"
)

// Parse maps a template's kind string to a Kind, defaulting to General.
func Parse(s string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case UtilityEnergy, UtilityWater, Tax, Fine:
		return Kind(strings.ToLower(strings.TrimSpace(s)))
	}
	return General
}

// Context carries the document data hooks may consult.
type Context struct {
	// Content is the document's OCR text.
	Content string
}

// Hook transforms an already-normalized extraction.
type Hook func(*model.ExtractionResult, Context) *model.ExtractionResult

var hooks = map[Kind]Hook{
	UtilityEnergy: postProcessEnergy,
	UtilityWater:  postProcessWater,
	Tax:           postProcessTax,
	Fine:          postProcessFine,
}

// PostProcess runs the hook for k on a copy of the extraction. Kinds
// without a hook return the input unchanged.
func PostProcess(k Kind, extraction *model.ExtractionResult, ctx Context) *model.ExtractionResult {
	hook, ok := hooks[k]
	if !ok {
		return extraction
	}
	return hook(extraction.Clone(), ctx)
}

// postProcessEnergy cleans electricity and gas invoices: consumption must
// be a bare number and contract power carries its kVA unit.
func postProcessEnergy(ex *model.ExtractionResult, _ Context) *model.ExtractionResult {
	if f, ok := ex.Fields["consumption_kwh"]; ok && f.NormalizedValue != nil {
		if n, ok := normalize.Number(*f.NormalizedValue); ok {
			f.NormalizedValue = &n
		}
		ex.Fields["consumption_kwh"] = f
	}

	if f, ok := ex.Fields["contract_power"]; ok && f.RawValue != nil && f.NormalizedValue != nil {
		if !strings.Contains(strings.ToLower(*f.RawValue), "kva") {
			v := *f.NormalizedValue + " kVA"
			f.NormalizedValue = &v
			ex.Fields["contract_power"] = f
		}
	}
	return ex
}

func postProcessWater(ex *model.ExtractionResult, _ Context) *model.ExtractionResult {
	if f, ok := ex.Fields["consumption_vol"]; ok && f.NormalizedValue != nil {
		if n, ok := normalize.Number(*f.NormalizedValue); ok {
			f.NormalizedValue = &n
		}
		ex.Fields["consumption_vol"] = f
	}
	return ex
}

// Tax type markers checked against lowercased content, most specific first.
var taxTypeMarkers = []struct {
	taxType string
	needles []string
}{
	{"DMR", []string{"dmr", "declaração mensal"}},
	{"IUC", []string{"iuc", "imposto único de circulação"}},
	{"IRS", []string{"irs", "imposto sobre o rendimento"}},
	{"IMT", []string{"imt", "imposto municipal sobre transmissões"}},
	{"IMI", []string{"imi", "imposto municipal sobre imóveis"}},
	{"IVA", []string{"iva", "imposto sobre o valor acrescentado"}},
}

// postProcessTax fills the tax_type field from content markers when the
// model did not extract one.
func postProcessTax(ex *model.ExtractionResult, ctx Context) *model.ExtractionResult {
	if f, ok := ex.Fields["tax_type"]; ok && f.HasValue() {
		return ex
	}

	taxType := detectTaxType(ctx.Content)
	if taxType == "" {
		return ex
	}

	f, ok := ex.Fields["tax_type"]
	if !ok {
		f = model.NewExtractedField("tax_type", nil, 0.7, model.FieldString)
	}
	f.NormalizedValue = &taxType
	f.Confidence = 0.7
	ex.Fields["tax_type"] = f
	return ex
}

func detectTaxType(content string) string {
	lower := strings.ToLower(content)
	for _, m := range taxTypeMarkers {
		for _, needle := range m.needles {
			if strings.Contains(lower, needle) {
				return m.taxType
			}
		}
	}
	return ""
}

// fineDueDays is the statutory payment window for traffic fines.
const fineDueDays = 15

// Portuguese license plate patterns, old formats through the current
// AA-00-AA series.
var platePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b([A-Z]{2}[-\s]?[A-Z]{2}[-\s]?[A-Z]{2})\b`),
	regexp.MustCompile(`\b([A-Z]{2}[-\s]?\d{2}[-\s]?[A-Z]{2})\b`),
	regexp.MustCompile(`\b(\d{2}[-\s]?[A-Z]{2}[-\s]?\d{2})\b`),
	regexp.MustCompile(`\b([A-Z]{2}[-\s]?\d{2}[-\s]?\d{2})\b`),
}

var plateSpaceRe = regexp.MustCompile(`\s`)

// postProcessFine derives the payment due date from the issue date and
// recovers the license plate from content when the model missed it.
func postProcessFine(ex *model.ExtractionResult, ctx Context) *model.ExtractionResult {
	if issue, ok := ex.Fields["issue_date"]; ok && issue.NormalizedValue != nil {
		if due, ok := normalize.DueDate(*issue.NormalizedValue, fineDueDays); ok {
			f, exists := ex.Fields["due_date"]
			switch {
			case !exists:
				f = model.NewExtractedField("due_date", nil, 0.9, model.FieldDate)
				f.NormalizedValue = &due
				f.Notes = "Auto-calculated: 15 days from issue date"
				ex.Fields["due_date"] = f
			case !f.HasValue():
				f.NormalizedValue = &due
				f.Confidence = 0.9
				ex.Fields["due_date"] = f
			}
		}
	}

	if f, ok := ex.Fields["plate"]; !ok || !f.HasValue() {
		if plate := extractPlate(ctx.Content); plate != "" {
			if !ok {
				f = model.NewExtractedField("plate", &plate, 0.8, model.FieldString)
			}
			f.RawValue = &plate
			f.NormalizedValue = &plate
			ex.Fields["plate"] = f
		}
	}
	return ex
}

// extractPlate finds a license plate in document content and canonicalizes
// it to XX-XX-XX form.
func extractPlate(content string) string {
	upper := strings.ToUpper(content)
	for _, re := range platePatterns {
		m := re.FindStringSubmatch(upper)
		if m == nil {
			continue
		}
		plate := plateSpaceRe.ReplaceAllString(m[1], "-")
		if !strings.Contains(plate, "-") && len(plate) == 6 {
			plate = plate[:2] + "-" + plate[2:4] + "-" + plate[4:]
		}
		return plate
	}
	return ""
}
