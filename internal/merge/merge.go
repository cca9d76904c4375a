// Package merge reconciles AI-extracted values with the archive's existing
// metadata. The archive is the source of truth: an existing value is never
// overwritten automatically, only filled when empty or queued for review.
package merge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lmeira/docsqueeze/internal/model"
	"github.com/lmeira/docsqueeze/internal/normalize"
)

// Decision is the outcome for a single field.
type Decision string

const (
	KeepExisting Decision = "keep"         // existing value wins
	UseAI        Decision = "use_ai"       // AI value fills an empty field
	NeedsReview  Decision = "needs_review" // human decides
	Skip         Decision = "skip"         // no value from either source
)

// FieldMergeResult records the decision for one field.
type FieldMergeResult struct {
	FieldName     string   `json:"field_name"`
	ExistingValue string   `json:"existing_value"`
	AIValue       string   `json:"ai_value"`
	AIConfidence  float64  `json:"ai_confidence"`
	Decision      Decision `json:"decision"`
	FinalValue    string   `json:"final_value"`
	Reason        string   `json:"reason"`
}

// IsChange reports whether the field would change if the decision were
// carried out (directly or after review).
func (r FieldMergeResult) IsChange() bool {
	return r.Decision == UseAI || r.Decision == NeedsReview
}

// IsAutoApply reports whether the field changes without review.
func (r FieldMergeResult) IsAutoApply() bool {
	return r.Decision == UseAI
}

// MergeResult partitions all field decisions for one document.
type MergeResult struct {
	FieldResults     []FieldMergeResult     `json:"field_results"`
	AutoApplyChanges []model.ProposedChange `json:"auto_apply_changes"`
	ReviewChanges    []model.ProposedChange `json:"review_changes"`
	KeptExisting     []string               `json:"kept_existing"`
}

// HasChanges reports whether anything would change.
func (r *MergeResult) HasChanges() bool {
	return len(r.AutoApplyChanges) > 0 || len(r.ReviewChanges) > 0
}

// NeedsReview reports whether any change is waiting on a human.
func (r *MergeResult) NeedsReview() bool {
	return len(r.ReviewChanges) > 0
}

// TitlePolicy decides when an existing title counts as a default,
// auto-generated one that may be replaced without review.
type TitlePolicy struct {
	// DefaultPrefixes are case-insensitive prefixes of scanner-generated
	// titles.
	DefaultPrefixes []string
	// MinLength: anything shorter is treated as a default title.
	MinLength int
}

// IsDefaultTitle reports whether the title looks auto-generated.
func (p TitlePolicy) IsDefaultTitle(title string) bool {
	lower := strings.ToLower(title)
	for _, prefix := range p.DefaultPrefixes {
		if strings.HasPrefix(lower, strings.ToLower(prefix)) {
			return true
		}
	}
	return len(title) < p.MinLength
}

// Strategy holds the merge thresholds.
type Strategy struct {
	// AutoApplyThreshold is the minimum field confidence to fill an empty
	// field without review.
	AutoApplyThreshold float64
	// SuggestionThreshold is the minimum field confidence to propose
	// changing an existing value.
	SuggestionThreshold float64
	TitlePolicy         TitlePolicy
}

// NewStrategy returns a Strategy with the default thresholds and title
// policy.
func NewStrategy() Strategy {
	return Strategy{
		AutoApplyThreshold:  0.7,
		SuggestionThreshold: 0.9,
		TitlePolicy: TitlePolicy{
			DefaultPrefixes: []string{"document", "scan"},
			MinLength:       10,
		},
	}
}

// MergeField decides how one field merges. Exactly one of the decision
// table's rows applies:
//
//	existing  ai      confidence        decision       final
//	empty     empty   -                 SKIP           ""
//	value     empty   -                 KEEP_EXISTING  existing
//	empty     value   >= auto-apply     USE_AI         ai
//	empty     value   <  auto-apply     NEEDS_REVIEW   existing
//	value     match   -                 KEEP_EXISTING  existing
//	value     differ  >= suggestion     NEEDS_REVIEW   existing
//	value     differ  <  suggestion     KEEP_EXISTING  existing
func (s Strategy) MergeField(fieldName, existingValue, aiValue string, aiConfidence float64) FieldMergeResult {
	r := FieldMergeResult{
		FieldName:     fieldName,
		ExistingValue: existingValue,
		AIValue:       aiValue,
		AIConfidence:  aiConfidence,
	}

	existingEmpty := normalize.IsEmpty(existingValue)
	aiEmpty := normalize.IsEmpty(aiValue)

	switch {
	case existingEmpty && aiEmpty:
		r.Decision = Skip
		r.FinalValue = ""
		r.Reason = "No value from either source"

	case !existingEmpty && aiEmpty:
		r.Decision = KeepExisting
		r.FinalValue = existingValue
		r.Reason = "AI did not extract this field"

	case existingEmpty:
		if aiConfidence >= s.AutoApplyThreshold {
			r.Decision = UseAI
			r.FinalValue = aiValue
			r.Reason = fmt.Sprintf("Filling empty field (confidence: %.0f%%)", aiConfidence*100)
		} else {
			r.Decision = NeedsReview
			r.FinalValue = existingValue
			r.Reason = fmt.Sprintf("Low confidence (%.0f%%), needs review", aiConfidence*100)
		}

	case normalize.ValuesMatch(existingValue, aiValue):
		r.Decision = KeepExisting
		r.FinalValue = existingValue
		r.Reason = "AI agrees with existing value"

	case aiConfidence >= s.SuggestionThreshold:
		r.Decision = NeedsReview
		r.FinalValue = existingValue
		r.Reason = fmt.Sprintf("AI suggests different value (confidence: %.0f%%)", aiConfidence*100)

	default:
		r.Decision = KeepExisting
		r.FinalValue = existingValue
		r.Reason = fmt.Sprintf("AI confidence too low to suggest change (%.0f%%)", aiConfidence*100)
	}

	return r
}

// MergeTitle merges the document title. Default-looking titles are replaced
// outright at the auto-apply threshold; any other title change goes to
// review.
func (s Strategy) MergeTitle(existingTitle, proposedTitle string, confidence float64) FieldMergeResult {
	r := FieldMergeResult{
		FieldName:     "title",
		ExistingValue: existingTitle,
		AIValue:       proposedTitle,
		AIConfidence:  confidence,
	}

	if normalize.IsEmpty(proposedTitle) {
		r.Decision = KeepExisting
		r.FinalValue = existingTitle
		r.Reason = "No title proposed"
		return r
	}

	if s.TitlePolicy.IsDefaultTitle(existingTitle) && confidence >= s.AutoApplyThreshold {
		r.Decision = UseAI
		r.FinalValue = proposedTitle
		r.Reason = "Replacing default/auto-generated title"
		return r
	}

	if normalize.ValuesMatch(existingTitle, proposedTitle) {
		r.Decision = KeepExisting
		r.FinalValue = existingTitle
		r.Reason = "AI agrees with existing title"
		return r
	}

	r.Decision = NeedsReview
	r.FinalValue = existingTitle
	r.Reason = "Title change requires review"
	return r
}

// MergeDocument merges every mapped field of an extraction against the
// document's existing values. mapping maps extracted field names to archive
// field names; existing maps archive field names to their current values.
// Fields the extraction does not contain are ignored. Iteration is in
// sorted mapping order so results are deterministic.
func (s Strategy) MergeDocument(existing map[string]string, extraction *model.ExtractionResult, mapping map[string]string) MergeResult {
	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var result MergeResult
	for _, extractedName := range keys {
		archiveName := mapping[extractedName]

		aiField, ok := extraction.Fields[extractedName]
		if !ok {
			continue
		}
		aiValue := aiField.BestValue()
		existingValue := existing[archiveName]

		fr := s.MergeField(archiveName, existingValue, aiValue, aiField.Confidence)
		result.FieldResults = append(result.FieldResults, fr)

		change := model.ProposedChange{
			FieldName:     archiveName,
			CurrentValue:  existingValue,
			ProposedValue: aiValue,
			Confidence:    aiField.Confidence,
			Source:        "ai",
			Reason:        fr.Reason,
		}
		switch fr.Decision {
		case UseAI:
			result.AutoApplyChanges = append(result.AutoApplyChanges, change)
		case NeedsReview:
			result.ReviewChanges = append(result.ReviewChanges, change)
		case KeepExisting:
			result.KeptExisting = append(result.KeptExisting, archiveName)
		}
	}
	return result
}
