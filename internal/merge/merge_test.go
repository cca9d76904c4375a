package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lmeira/docsqueeze/internal/model"
)

func TestMergeField_BothEmpty(t *testing.T) {
	r := NewStrategy().MergeField("due_date", "", "  ", 0.9)

	assert.Equal(t, Skip, r.Decision)
	assert.Equal(t, "", r.FinalValue)
	assert.False(t, r.IsChange())
}

func TestMergeField_OnlyExisting(t *testing.T) {
	r := NewStrategy().MergeField("due_date", "2025-01-30", "", 0.9)

	assert.Equal(t, KeepExisting, r.Decision)
	assert.Equal(t, "2025-01-30", r.FinalValue)
}

func TestMergeField_FillEmptyHighConfidence(t *testing.T) {
	r := NewStrategy().MergeField("due_date", "", "2025-01-30", 0.85)

	assert.Equal(t, UseAI, r.Decision)
	assert.Equal(t, "2025-01-30", r.FinalValue)
	assert.True(t, r.IsAutoApply())
}

func TestMergeField_FillEmptyLowConfidence(t *testing.T) {
	r := NewStrategy().MergeField("due_date", "", "2025-01-30", 0.5)

	assert.Equal(t, NeedsReview, r.Decision)
	// Nothing changes until a human approves.
	assert.Equal(t, "", r.FinalValue)
	assert.True(t, r.IsChange())
	assert.False(t, r.IsAutoApply())
}

func TestMergeField_AgreementKeepsExisting(t *testing.T) {
	// Same amount in both separator conventions counts as agreement.
	r := NewStrategy().MergeField("total", "1.234,56", "1,234.56", 0.99)

	assert.Equal(t, KeepExisting, r.Decision)
	assert.Equal(t, "1.234,56", r.FinalValue)
}

func TestMergeField_DisagreementHighConfidence(t *testing.T) {
	r := NewStrategy().MergeField("total", "100.00", "200.00", 0.95)

	assert.Equal(t, NeedsReview, r.Decision)
	assert.Equal(t, "100.00", r.FinalValue)
}

func TestMergeField_DisagreementLowConfidence(t *testing.T) {
	r := NewStrategy().MergeField("total", "100.00", "200.00", 0.8)

	assert.Equal(t, KeepExisting, r.Decision)
	assert.Equal(t, "100.00", r.FinalValue)
}

func TestMergeField_ThresholdBoundaries(t *testing.T) {
	s := NewStrategy()

	assert.Equal(t, UseAI, s.MergeField("f", "", "x", 0.7).Decision)
	assert.Equal(t, NeedsReview, s.MergeField("f", "", "x", 0.699).Decision)
	assert.Equal(t, NeedsReview, s.MergeField("f", "a", "b", 0.9).Decision)
	assert.Equal(t, KeepExisting, s.MergeField("f", "a", "b", 0.899).Decision)
}

func TestMergeField_ExistingNeverOverwrittenAutomatically(t *testing.T) {
	s := NewStrategy()
	cases := []struct {
		existing, ai string
		conf         float64
	}{
		{"a", "b", 1.0},
		{"a", "b", 0.0},
		{"a", "", 1.0},
		{"100", "200", 0.95},
	}
	for _, c := range cases {
		r := s.MergeField("f", c.existing, c.ai, c.conf)
		assert.Equal(t, c.existing, r.FinalValue, "existing=%q ai=%q conf=%v", c.existing, c.ai, c.conf)
		assert.NotEqual(t, UseAI, r.Decision)
	}
}

func TestMergeField_DecisionIsAlwaysOneTableRow(t *testing.T) {
	s := NewStrategy()
	existings := []string{"", "value"}
	ais := []string{"", "value", "other"}
	confs := []float64{0.0, 0.5, 0.7, 0.9, 1.0}

	for _, e := range existings {
		for _, a := range ais {
			for _, c := range confs {
				r := s.MergeField("f", e, a, c)
				assert.Contains(t, []Decision{KeepExisting, UseAI, NeedsReview, Skip}, r.Decision)
				if r.Decision == KeepExisting || r.Decision == NeedsReview {
					assert.Equal(t, e, r.FinalValue)
				}
			}
		}
	}
}

func TestMergeTitle_DefaultPrefixReplaced(t *testing.T) {
	r := NewStrategy().MergeTitle("Document 2025-01-15", "EDP Invoice 2025-01", 0.8)

	assert.Equal(t, UseAI, r.Decision)
	assert.Equal(t, "EDP Invoice 2025-01", r.FinalValue)
}

func TestMergeTitle_ScanPrefixReplaced(t *testing.T) {
	r := NewStrategy().MergeTitle("SCAN_0042_long_enough", "Water Bill 2025-02", 0.75)

	assert.Equal(t, UseAI, r.Decision)
}

func TestMergeTitle_ShortTitleReplaced(t *testing.T) {
	r := NewStrategy().MergeTitle("img_1", "Tax Notice 2025", 0.9)

	assert.Equal(t, UseAI, r.Decision)
}

func TestMergeTitle_DefaultButLowConfidenceGoesToReview(t *testing.T) {
	r := NewStrategy().MergeTitle("Document 2025-01-15", "EDP Invoice", 0.5)

	assert.Equal(t, NeedsReview, r.Decision)
	assert.Equal(t, "Document 2025-01-15", r.FinalValue)
}

func TestMergeTitle_EmptyProposalKeepsExisting(t *testing.T) {
	r := NewStrategy().MergeTitle("scan_001.pdf", "  ", 0.99)

	assert.Equal(t, KeepExisting, r.Decision)
	assert.Equal(t, "scan_001.pdf", r.FinalValue)
}

func TestMergeTitle_Agreement(t *testing.T) {
	r := NewStrategy().MergeTitle("EDP Invoice  2025-01", "edp invoice 2025-01", 0.9)

	assert.Equal(t, KeepExisting, r.Decision)
}

func TestMergeTitle_MeaningfulTitleChangeNeedsReview(t *testing.T) {
	r := NewStrategy().MergeTitle("Quarterly electricity invoice", "EDP Invoice 2025-01", 0.99)

	assert.Equal(t, NeedsReview, r.Decision)
	assert.Equal(t, "Quarterly electricity invoice", r.FinalValue)
}

func TestMergeTitle_CustomPolicy(t *testing.T) {
	s := NewStrategy()
	s.TitlePolicy = TitlePolicy{DefaultPrefixes: []string{"img"}, MinLength: 4}

	assert.Equal(t, UseAI, s.MergeTitle("IMG_20250115_0001", "Invoice", 0.8).Decision)
	// "Document..." is no longer a default prefix under this policy.
	assert.Equal(t, NeedsReview, s.MergeTitle("Document 2025-01-15", "Invoice", 0.8).Decision)
}

func mergeFixtureExtraction() *model.ExtractionResult {
	fields := map[string]model.ExtractedField{}
	add := func(name, norm string, conf float64) {
		f := model.NewExtractedField(name, model.StringPtr(norm), conf, model.FieldString)
		f.NormalizedValue = model.StringPtr(norm)
		fields[name] = f
	}
	add("total_gross", "99.90", 0.9)  // fills empty field
	add("issue_date", "2025-01-15", 0.95) // disagrees with existing
	add("nif", "123456789", 0.9)      // agrees with existing
	add("consumption", "120", 0.4)    // low confidence fill
	return &model.ExtractionResult{TemplateID: "invoice", Fields: fields}
}

func TestMergeDocument_Partitions(t *testing.T) {
	existing := map[string]string{
		"amt_primary":      "",
		"gen_issue_date":   "2025-01-14",
		"gen_supplier_nif": "123 456 789",
		"gen_consumption":  "",
	}
	mapping := map[string]string{
		"total_gross": "amt_primary",
		"issue_date":  "gen_issue_date",
		"nif":         "gen_supplier_nif",
		"consumption": "gen_consumption",
		"missing":     "gen_missing", // not extracted, ignored
	}

	r := NewStrategy().MergeDocument(existing, mergeFixtureExtraction(), mapping)

	assert.Len(t, r.FieldResults, 4)

	// total_gross fills the empty amt_primary field.
	assert.Len(t, r.AutoApplyChanges, 1)
	assert.Equal(t, "amt_primary", r.AutoApplyChanges[0].FieldName)
	assert.Equal(t, "99.90", r.AutoApplyChanges[0].ProposedValue)
	assert.True(t, r.AutoApplyChanges[0].IsFill())

	// issue_date disagreement (0.95 >= 0.9) and low-confidence consumption
	// fill both need review.
	assert.Len(t, r.ReviewChanges, 2)

	// nif agrees.
	assert.Equal(t, []string{"gen_supplier_nif"}, r.KeptExisting)

	assert.True(t, r.HasChanges())
	assert.True(t, r.NeedsReview())
}

func TestMergeDocument_DeterministicOrder(t *testing.T) {
	existing := map[string]string{}
	mapping := map[string]string{
		"total_gross": "amt_primary",
		"issue_date":  "gen_issue_date",
		"nif":         "gen_supplier_nif",
		"consumption": "gen_consumption",
	}

	first := NewStrategy().MergeDocument(existing, mergeFixtureExtraction(), mapping)
	for range 10 {
		again := NewStrategy().MergeDocument(existing, mergeFixtureExtraction(), mapping)
		assert.Equal(t, first, again)
	}

	// Sorted by extracted field name.
	var names []string
	for _, fr := range first.FieldResults {
		names = append(names, fr.FieldName)
	}
	assert.Equal(t, []string{"gen_consumption", "gen_issue_date", "gen_supplier_nif", "amt_primary"}, names)
}

func TestMergeDocument_NoChanges(t *testing.T) {
	existing := map[string]string{"gen_supplier_nif": "123456789"}
	ex := &model.ExtractionResult{Fields: map[string]model.ExtractedField{
		"nif": model.NewExtractedField("nif", model.StringPtr("123456789"), 0.9, model.FieldString),
	}}

	r := NewStrategy().MergeDocument(existing, ex, map[string]string{"nif": "gen_supplier_nif"})

	assert.False(t, r.HasChanges())
	assert.False(t, r.NeedsReview())
	assert.Equal(t, []string{"gen_supplier_nif"}, r.KeptExisting)
}
