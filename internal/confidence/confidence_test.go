package confidence

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lmeira/docsqueeze/internal/model"
	"github.com/lmeira/docsqueeze/internal/template"
)

func invoiceTemplate() *template.Template {
	return &template.Template{
		ID: "invoice",
		Extraction: &template.Extraction{
			Fields: []template.Field{
				{Name: "total_gross", Type: "amount", Required: true},
				{Name: "issue_date", Type: "date", Required: true},
				{Name: "due_date", Type: "date"},
				{Name: "invoice_number", Type: "string"},
			},
		},
	}
}

func normField(name, raw, normalized string, conf float64) model.ExtractedField {
	f := model.NewExtractedField(name, model.StringPtr(raw), conf, model.FieldString)
	f.NormalizedValue = model.StringPtr(normalized)
	return f
}

func rawOnlyField(name, raw string, conf float64) model.ExtractedField {
	return model.NewExtractedField(name, model.StringPtr(raw), conf, model.FieldString)
}

func TestScoreExtraction_AllFactorsGood(t *testing.T) {
	ex := &model.ExtractionResult{
		TemplateConfidence: 0.95,
		Fields: map[string]model.ExtractedField{
			"total_gross":    normField("total_gross", "99,90 €", "99.90", 0.9),
			"issue_date":     normField("issue_date", "15-01-2025", "2025-01-15", 0.9),
			"due_date":       normField("due_date", "30-01-2025", "2025-01-30", 0.85),
			"invoice_number": normField("invoice_number", "FT 2025/1", "FT 2025/1", 0.8),
		},
	}

	score := ScoreExtraction(ex, invoiceTemplate())

	assert.Equal(t, 1.0, score.FactorScores[FactorRequiredFields])
	assert.Equal(t, 1.0, score.FactorScores[FactorCompleteness])
	assert.Equal(t, 1.0, score.FactorScores[FactorFormatValidity])
	assert.Equal(t, 1.0, score.FactorScores[FactorConsistency])
	// 0.95*0.2 + 1.0*0.8 = 0.99
	assert.InDelta(t, 0.99, score.Overall, 0.001)
	assert.Equal(t, "All factors good", score.Explanation)
}

func TestScoreExtraction_WeightedSum(t *testing.T) {
	ex := &model.ExtractionResult{
		TemplateConfidence: 0.5,
		Fields: map[string]model.ExtractedField{
			"total_gross": normField("total_gross", "10", "10.00", 0.9),
		},
	}

	score := ScoreExtraction(ex, invoiceTemplate())

	// required: 1/2, completeness: 1/4, format: 1, consistency: 1 (no checks)
	// 0.5*0.2 + 0.5*0.3 + 0.25*0.2 + 1*0.2 + 1*0.1 = 0.6
	assert.InDelta(t, 0.6, score.Overall, 0.001)
}

func TestScoreExtraction_ExplanationListsLowFactors(t *testing.T) {
	ex := &model.ExtractionResult{
		TemplateConfidence: 0.4,
		Fields:             map[string]model.ExtractedField{},
	}

	score := ScoreExtraction(ex, invoiceTemplate())

	assert.Contains(t, score.Explanation, "Low scores:")
	assert.Contains(t, score.Explanation, "template_match: 40%")
	assert.Contains(t, score.Explanation, "required_fields: 0%")
	assert.Contains(t, score.Explanation, "completeness: 0%")
	assert.NotContains(t, score.Explanation, "format_valid")
}

func TestScoreExtraction_FieldScoresOnlyValuedFields(t *testing.T) {
	ex := &model.ExtractionResult{
		TemplateConfidence: 0.9,
		Fields: map[string]model.ExtractedField{
			"total_gross": normField("total_gross", "10", "10.00", 0.8),
			"issue_date":  model.NewExtractedField("issue_date", nil, 0.7, model.FieldDate),
		},
	}

	score := ScoreExtraction(ex, invoiceTemplate())

	assert.Equal(t, map[string]float64{"total_gross": 0.8}, score.FieldScores)
}

func TestScoreExtraction_OverallClamped(t *testing.T) {
	ex := &model.ExtractionResult{
		TemplateConfidence: 3.0, // out of range input
		Fields: map[string]model.ExtractedField{
			"total_gross": normField("total_gross", "10", "10.00", 0.9),
			"issue_date":  normField("issue_date", "2025-01-15", "2025-01-15", 0.9),
		},
	}

	score := ScoreExtraction(ex, invoiceTemplate())

	assert.LessOrEqual(t, score.Overall, 1.0)
	assert.GreaterOrEqual(t, score.Overall, 0.0)
}

func TestScoreRequiredFields_LowConfidenceDoesNotCount(t *testing.T) {
	ex := &model.ExtractionResult{
		Fields: map[string]model.ExtractedField{
			"total_gross": normField("total_gross", "10", "10.00", 0.4), // below 0.5
			"issue_date":  normField("issue_date", "2025-01-15", "2025-01-15", 0.9),
		},
	}

	// 1 of 2 required fields counts.
	assert.Equal(t, 0.5, scoreRequiredFields(ex, invoiceTemplate()))
}

func TestScoreRequiredFields_NoneRequired(t *testing.T) {
	tpl := &template.Template{Extraction: &template.Extraction{
		Fields: []template.Field{{Name: "a"}},
	}}
	ex := &model.ExtractionResult{Fields: map[string]model.ExtractedField{}}

	assert.Equal(t, 1.0, scoreRequiredFields(ex, tpl))
}

func TestScoreCompleteness_CountsValuedFields(t *testing.T) {
	ex := &model.ExtractionResult{
		Fields: map[string]model.ExtractedField{
			"total_gross": normField("total_gross", "10", "10.00", 0.9),
			"issue_date":  model.NewExtractedField("issue_date", nil, 0.9, model.FieldDate),
		},
	}

	// 1 valued of 4 expected.
	assert.Equal(t, 0.25, scoreCompleteness(ex, invoiceTemplate()))
}

func TestScoreFormatValidity_HalfCreditForRawOnly(t *testing.T) {
	ex := &model.ExtractionResult{
		Fields: map[string]model.ExtractedField{
			"a": normField("a", "10", "10.00", 0.9),
			"b": rawOnlyField("b", "not parseable", 0.9),
		},
	}

	// (1 + 0.5) / 2
	assert.Equal(t, 0.75, scoreFormatValidity(ex))
}

func TestScoreFormatValidity_NoValuedFields(t *testing.T) {
	ex := &model.ExtractionResult{Fields: map[string]model.ExtractedField{}}
	assert.Equal(t, 1.0, scoreFormatValidity(ex))
}

func TestScoreConsistency_GrossBelowNetFails(t *testing.T) {
	ex := &model.ExtractionResult{
		Fields: map[string]model.ExtractedField{
			"total_gross": normField("total_gross", "10", "10.00", 0.9),
			"total_net":   normField("total_net", "20", "20.00", 0.9),
		},
	}

	assert.Equal(t, 0.0, scoreConsistency(ex))
}

func TestScoreConsistency_GrossAtLeastNetPasses(t *testing.T) {
	ex := &model.ExtractionResult{
		Fields: map[string]model.ExtractedField{
			"total_gross": normField("total_gross", "24.60", "24.60", 0.9),
			"total_net":   normField("total_net", "20.00", "20.00", 0.9),
		},
	}

	assert.Equal(t, 1.0, scoreConsistency(ex))
}

func TestScoreConsistency_DueBeforeIssueFails(t *testing.T) {
	ex := &model.ExtractionResult{
		Fields: map[string]model.ExtractedField{
			"issue_date": normField("issue_date", "2025-01-15", "2025-01-15", 0.9),
			"due_date":   normField("due_date", "2025-01-01", "2025-01-01", 0.9),
		},
	}

	assert.Equal(t, 0.0, scoreConsistency(ex))
}

func TestScoreConsistency_NoApplicableChecks(t *testing.T) {
	ex := &model.ExtractionResult{
		Fields: map[string]model.ExtractedField{
			"invoice_number": normField("invoice_number", "1", "1", 0.9),
		},
	}

	assert.Equal(t, 1.0, scoreConsistency(ex))
}

func TestScoreConsistency_MixedChecks(t *testing.T) {
	ex := &model.ExtractionResult{
		Fields: map[string]model.ExtractedField{
			"total_gross": normField("total_gross", "10", "10.00", 0.9),
			"total_net":   normField("total_net", "20", "20.00", 0.9),
			"issue_date":  normField("issue_date", "2025-01-15", "2025-01-15", 0.9),
			"due_date":    normField("due_date", "2025-01-30", "2025-01-30", 0.9),
		},
	}

	// gross check fails, date check passes.
	assert.Equal(t, 0.5, scoreConsistency(ex))
}

func TestConfidentForAutoApply(t *testing.T) {
	assert.True(t, ConfidentForAutoApply(Score{Overall: 0.7}, 0.7))
	assert.False(t, ConfidentForAutoApply(Score{Overall: 0.69}, 0.7))
}

func TestConfidentForSuggestion(t *testing.T) {
	assert.True(t, ConfidentForSuggestion(Score{Overall: 0.9}, 0.9))
	assert.False(t, ConfidentForSuggestion(Score{Overall: 0.89}, 0.9))
}
