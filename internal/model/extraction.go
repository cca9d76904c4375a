package model

// FieldType identifies how an extracted field should be normalized.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldDate    FieldType = "date"
	FieldAmount  FieldType = "amount"
	FieldNumber  FieldType = "number"
	FieldInteger FieldType = "integer"
)

// ExtractedField is a single field produced by the specialist model.
// RawValue is the text as returned by the model; NormalizedValue is set by
// the normalization pass and is nil when normalization failed or has not run.
type ExtractedField struct {
	Name            string    `json:"name"`
	RawValue        *string   `json:"raw_value"`
	NormalizedValue *string   `json:"normalized_value"`
	Confidence      float64   `json:"confidence"`
	Type            FieldType `json:"type"`
	Notes           string    `json:"notes,omitempty"`
}

// NewExtractedField builds an ExtractedField with the confidence clamped
// to [0,1].
func NewExtractedField(name string, raw *string, confidence float64, ft FieldType) ExtractedField {
	return ExtractedField{
		Name:       name,
		RawValue:   raw,
		Confidence: Clamp01(confidence),
		Type:       ft,
	}
}

// HasValue reports whether the field carries a usable value.
func (f ExtractedField) HasValue() bool {
	return (f.NormalizedValue != nil && *f.NormalizedValue != "") ||
		(f.RawValue != nil && *f.RawValue != "")
}

// BestValue returns the normalized value when available, the raw value
// otherwise, and "" when the field has no value.
func (f ExtractedField) BestValue() string {
	if f.NormalizedValue != nil && *f.NormalizedValue != "" {
		return *f.NormalizedValue
	}
	if f.RawValue != nil {
		return *f.RawValue
	}
	return ""
}

// ExtractionResult is the output of one specialist-model call, carried
// through normalization, scoring and merging.
type ExtractionResult struct {
	TemplateID         string                    `json:"template_id"`
	TemplateConfidence float64                   `json:"template_confidence"`
	Fields             map[string]ExtractedField `json:"fields"`
	Notes              string                    `json:"notes,omitempty"`
	DurationMS         int64                     `json:"duration_ms,omitempty"`
}

// Field returns the named field and whether it exists.
func (r *ExtractionResult) Field(name string) (ExtractedField, bool) {
	f, ok := r.Fields[name]
	return f, ok
}

// FieldValue returns the best value for the named field, or "".
func (r *ExtractionResult) FieldValue(name string) string {
	if f, ok := r.Fields[name]; ok {
		return f.BestValue()
	}
	return ""
}

// ExtractedCount is the number of fields that carry a value.
func (r *ExtractionResult) ExtractedCount() int {
	n := 0
	for _, f := range r.Fields {
		if f.HasValue() {
			n++
		}
	}
	return n
}

// OverallConfidence averages the template confidence with the mean
// confidence of fields that carry a value. With no valued fields it equals
// the template confidence.
func (r *ExtractionResult) OverallConfidence() float64 {
	sum, n := 0.0, 0
	for _, f := range r.Fields {
		if f.HasValue() {
			sum += f.Confidence
			n++
		}
	}
	if n == 0 {
		return r.TemplateConfidence
	}
	return (r.TemplateConfidence + sum/float64(n)) / 2
}

// Clone returns a deep copy. Normalization and post-processing operate on
// copies so an ExtractionResult is never mutated once handed downstream.
func (r *ExtractionResult) Clone() *ExtractionResult {
	out := *r
	out.Fields = make(map[string]ExtractedField, len(r.Fields))
	for name, f := range r.Fields {
		cp := f
		if f.RawValue != nil {
			v := *f.RawValue
			cp.RawValue = &v
		}
		if f.NormalizedValue != nil {
			v := *f.NormalizedValue
			cp.NormalizedValue = &v
		}
		out.Fields[name] = cp
	}
	return &out
}

// ClassificationResult is the gatekeeper model's template pick.
type ClassificationResult struct {
	TemplateID string  `json:"template_id"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
	DurationMS int64   `json:"duration_ms,omitempty"`
}

// ProposedChange is a single field change derived from a merge, ready to be
// applied to the archive or queued for review.
type ProposedChange struct {
	FieldName     string  `json:"field_name"`
	CurrentValue  string  `json:"current_value"`
	ProposedValue string  `json:"proposed_value"`
	Confidence    float64 `json:"confidence"`
	Source        string  `json:"source"`
	Reason        string  `json:"reason,omitempty"`
}

// IsFill reports whether the change fills a previously empty field.
func (c ProposedChange) IsFill() bool {
	return c.CurrentValue == ""
}

// ProcessingResult summarizes one document run.
type ProcessingResult struct {
	DocID           int                   `json:"doc_id"`
	Success         bool                  `json:"success"`
	TemplateID      string                `json:"template_id,omitempty"`
	Classification  *ClassificationResult `json:"classification,omitempty"`
	Extraction      *ExtractionResult     `json:"extraction,omitempty"`
	ProposedChanges []ProposedChange      `json:"proposed_changes,omitempty"`
	AppliedChanges  []ProposedChange      `json:"applied_changes,omitempty"`
	ReviewRequired  bool                  `json:"review_required"`
	ErrorMessage    string                `json:"error_message,omitempty"`
	DurationMS      int64                 `json:"duration_ms"`
}

// Clamp01 clamps v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// StringPtr returns a pointer to s. Convenience for building test fixtures
// and extraction results.
func StringPtr(s string) *string {
	return &s
}
