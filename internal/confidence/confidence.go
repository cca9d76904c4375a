// Package confidence scores extraction results with a weighted five-factor
// model. The overall score drives whether merged changes auto-apply or go
// to human review.
package confidence

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lmeira/docsqueeze/internal/model"
	"github.com/lmeira/docsqueeze/internal/template"
)

// Factor identifies one scoring dimension.
type Factor string

const (
	FactorTemplateMatch  Factor = "template_match"
	FactorRequiredFields Factor = "required_fields"
	FactorCompleteness   Factor = "completeness"
	FactorFormatValidity Factor = "format_valid"
	FactorConsistency    Factor = "consistency"
)

// Weights sum to 1.0. Required-field presence dominates because a missing
// required field is the strongest signal the extraction went wrong.
var factorWeights = map[Factor]float64{
	FactorTemplateMatch:  0.20,
	FactorRequiredFields: 0.30,
	FactorCompleteness:   0.20,
	FactorFormatValidity: 0.20,
	FactorConsistency:    0.10,
}

// factorOrder fixes the explanation ordering.
var factorOrder = []Factor{
	FactorTemplateMatch,
	FactorRequiredFields,
	FactorCompleteness,
	FactorFormatValidity,
	FactorConsistency,
}

// Score is the detailed confidence breakdown for one extraction.
type Score struct {
	Overall      float64            `json:"overall"`
	FieldScores  map[string]float64 `json:"field_scores,omitempty"`
	FactorScores map[Factor]float64 `json:"factor_scores,omitempty"`
	Explanation  string             `json:"explanation,omitempty"`
}

// ScoreExtraction computes the weighted confidence score for an extraction
// against the template it was extracted with.
func ScoreExtraction(extraction *model.ExtractionResult, tpl *template.Template) Score {
	factors := map[Factor]float64{
		FactorTemplateMatch:  extraction.TemplateConfidence,
		FactorRequiredFields: scoreRequiredFields(extraction, tpl),
		FactorCompleteness:   scoreCompleteness(extraction, tpl),
		FactorFormatValidity: scoreFormatValidity(extraction),
		FactorConsistency:    scoreConsistency(extraction),
	}

	overall := 0.0
	for factor, weight := range factorWeights {
		overall += factors[factor] * weight
	}

	var low []string
	for _, factor := range factorOrder {
		if s := factors[factor]; s < 0.7 {
			low = append(low, fmt.Sprintf("%s: %.0f%%", factor, s*100))
		}
	}
	explanation := "All factors good"
	if len(low) > 0 {
		explanation = "Low scores: " + strings.Join(low, ", ")
	}

	fieldScores := make(map[string]float64)
	for name, f := range extraction.Fields {
		if f.HasValue() {
			fieldScores[name] = f.Confidence
		}
	}

	return Score{
		Overall:      model.Clamp01(overall),
		FieldScores:  fieldScores,
		FactorScores: factors,
		Explanation:  explanation,
	}
}

// scoreRequiredFields is the fraction of required template fields that were
// extracted with a value and at least 0.5 field confidence. Templates with
// no required fields score 1.0.
func scoreRequiredFields(extraction *model.ExtractionResult, tpl *template.Template) float64 {
	required := tpl.RequiredFields()
	if len(required) == 0 {
		return 1.0
	}
	present := 0
	for _, def := range required {
		if f, ok := extraction.Fields[def.Name]; ok && f.HasValue() && f.Confidence >= 0.5 {
			present++
		}
	}
	return float64(present) / float64(len(required))
}

// scoreCompleteness is the fraction of all template fields that carry a
// value, regardless of confidence.
func scoreCompleteness(extraction *model.ExtractionResult, tpl *template.Template) float64 {
	expected := tpl.FieldNames()
	if len(expected) == 0 {
		return 1.0
	}
	extracted := 0
	for _, name := range expected {
		if f, ok := extraction.Fields[name]; ok && f.HasValue() {
			extracted++
		}
	}
	return float64(extracted) / float64(len(expected))
}

// scoreFormatValidity gives full credit to fields whose normalization
// succeeded and half credit to fields that only have a raw value.
func scoreFormatValidity(extraction *model.ExtractionResult) float64 {
	valid, total := 0.0, 0
	for _, f := range extraction.Fields {
		if !f.HasValue() {
			continue
		}
		total++
		switch {
		case f.NormalizedValue != nil:
			valid += 1.0
		case f.RawValue != nil:
			valid += 0.5
		}
	}
	if total == 0 {
		return 1.0
	}
	return valid / float64(total)
}

// scoreConsistency runs the applicable cross-field checks: total_gross must
// be at least total_net, and due_date must not precede issue_date. With no
// applicable checks it returns 1.0.
func scoreConsistency(extraction *model.ExtractionResult) float64 {
	passed, total := 0, 0

	gross, gok := extraction.Fields["total_gross"]
	net, nok := extraction.Fields["total_net"]
	if gok && nok && gross.HasValue() && net.HasValue() {
		total++
		gv, gerr := strconv.ParseFloat(bestOrRaw(gross), 64)
		nv, nerr := strconv.ParseFloat(bestOrRaw(net), 64)
		if gerr == nil && nerr == nil && gv >= nv {
			passed++
		}
	}

	issue, iok := extraction.Fields["issue_date"]
	due, dok := extraction.Fields["due_date"]
	if iok && dok && issue.HasValue() && due.HasValue() {
		total++
		// Normalized dates are ISO, so lexicographic order is date order.
		if bestOrRaw(due) >= bestOrRaw(issue) {
			passed++
		}
	}

	if total == 0 {
		return 1.0
	}
	return float64(passed) / float64(total)
}

func bestOrRaw(f model.ExtractedField) string {
	if f.NormalizedValue != nil && *f.NormalizedValue != "" {
		return *f.NormalizedValue
	}
	if f.RawValue != nil {
		return *f.RawValue
	}
	return ""
}

// ConfidentForAutoApply reports whether the score clears the bar for
// applying changes without review.
func ConfidentForAutoApply(score Score, threshold float64) bool {
	return score.Overall >= threshold
}

// ConfidentForSuggestion reports whether the score clears the higher bar
// used when proposing to overwrite an existing value.
func ConfidentForSuggestion(score Score, threshold float64) bool {
	return score.Overall >= threshold
}
