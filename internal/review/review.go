// Package review manages the human review workflow using archive tags.
// Documents with low-confidence changes are tagged for review; approve and
// reject complete the loop.
package review

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lmeira/docsqueeze/internal/model"
	"github.com/lmeira/docsqueeze/pkg/archive"
)

// ChangesFieldName is the archive custom field holding proposed changes as
// JSON while a document waits for review. The field must exist and be of
// text type.
const ChangesFieldName = "AI Proposed Changes"

// Tags names the workflow tags.
type Tags struct {
	NeedsReview string `yaml:"needs_review" mapstructure:"needs_review"`
	Approved    string `yaml:"approved" mapstructure:"approved"`
	Rejected    string `yaml:"rejected" mapstructure:"rejected"`
	Processed   string `yaml:"processed" mapstructure:"processed"`
}

// DefaultTags returns the standard workflow tag names.
func DefaultTags() Tags {
	return Tags{
		NeedsReview: "ai-review-needed",
		Approved:    "ai-approved",
		Rejected:    "ai-rejected",
		Processed:   "ai-processed",
	}
}

// Queue manages review state for documents.
type Queue struct {
	archive archive.Client
	tags    Tags
}

// NewQueue creates a review queue over the archive client.
func NewQueue(client archive.Client, tags Tags) *Queue {
	if tags == (Tags{}) {
		tags = DefaultTags()
	}
	return &Queue{archive: client, tags: tags}
}

// Submit tags a document for review and stores the proposed changes in the
// changes custom field so approve can replay them later.
func (q *Queue) Submit(ctx context.Context, docID int, changes []model.ProposedChange) error {
	snap, err := q.archive.GetDocument(ctx, docID)
	if err != nil {
		return eris.Wrapf(err, "review: submit doc %d", docID)
	}

	reviewTag, err := q.archive.EnsureTag(ctx, q.tags.NeedsReview)
	if err != nil {
		return eris.Wrapf(err, "review: submit doc %d", docID)
	}

	patch := archive.DocumentPatch{
		TagsAdd: []int{reviewTag.ID},
	}
	remove, err := q.workflowTagIDs(ctx, q.tags.NeedsReview)
	if err != nil {
		return eris.Wrapf(err, "review: submit doc %d", docID)
	}
	patch.TagsRemove = remove

	field, err := q.archive.CustomFieldByName(ctx, ChangesFieldName)
	if err != nil {
		return eris.Wrapf(err, "review: submit doc %d", docID)
	}
	if field != nil {
		payload, err := json.Marshal(changes)
		if err != nil {
			return eris.Wrap(err, "review: marshal proposed changes")
		}
		patch.CustomFields = map[int]string{field.ID: string(payload)}
	} else {
		// Without the field the changes survive only in the run store.
		zap.L().Warn("review: changes field not configured in archive",
			zap.Int("doc_id", docID),
			zap.String("field", ChangesFieldName),
		)
	}

	if _, err := q.archive.PatchDocument(ctx, docID, patch, snap.TagIDs); err != nil {
		return eris.Wrapf(err, "review: submit doc %d", docID)
	}

	zap.L().Info("review: document submitted",
		zap.Int("doc_id", docID),
		zap.Int("changes", len(changes)),
	)
	return nil
}

// Pending returns the IDs of documents tagged for review.
func (q *Queue) Pending(ctx context.Context) ([]int, error) {
	tag, err := q.archive.TagByName(ctx, q.tags.NeedsReview)
	if err != nil {
		return nil, eris.Wrap(err, "review: pending")
	}
	if tag == nil {
		return nil, nil
	}
	ids, err := q.archive.DocumentsByTag(ctx, tag.ID)
	if err != nil {
		return nil, eris.Wrap(err, "review: pending")
	}
	return ids, nil
}

// ProposedChanges reads the stored changes for a document. A missing or
// unparsable field yields an empty list, not an error.
func (q *Queue) ProposedChanges(ctx context.Context, docID int) ([]model.ProposedChange, error) {
	snap, err := q.archive.GetDocument(ctx, docID)
	if err != nil {
		return nil, eris.Wrapf(err, "review: get changes for doc %d", docID)
	}
	return parseChanges(docID, snap.CustomField(ChangesFieldName)), nil
}

func parseChanges(docID int, raw string) []model.ProposedChange {
	if raw == "" {
		return nil
	}
	var changes []model.ProposedChange
	if err := json.Unmarshal([]byte(raw), &changes); err != nil {
		zap.L().Warn("review: stored changes are not valid JSON",
			zap.Int("doc_id", docID),
			zap.Error(err),
		)
		return nil
	}
	return changes
}

// Approve applies the stored changes to the document, moves it to the
// approved tag and clears the stored changes. With dryRun it only returns
// what would be applied.
func (q *Queue) Approve(ctx context.Context, docID int, dryRun bool) ([]model.ProposedChange, error) {
	snap, err := q.archive.GetDocument(ctx, docID)
	if err != nil {
		return nil, eris.Wrapf(err, "review: approve doc %d", docID)
	}
	if !snap.HasTag(q.tags.NeedsReview) {
		return nil, eris.Errorf("review: document %d is not pending review", docID)
	}

	changes := parseChanges(docID, snap.CustomField(ChangesFieldName))
	if dryRun {
		zap.L().Info("review: dry run, would apply changes",
			zap.Int("doc_id", docID),
			zap.Int("changes", len(changes)),
		)
		return changes, nil
	}

	patch, err := q.buildApprovalPatch(ctx, changes)
	if err != nil {
		return nil, eris.Wrapf(err, "review: approve doc %d", docID)
	}

	if err := q.retag(ctx, &patch, q.tags.Approved); err != nil {
		return nil, eris.Wrapf(err, "review: approve doc %d", docID)
	}

	if _, err := q.archive.PatchDocument(ctx, docID, patch, snap.TagIDs); err != nil {
		return nil, eris.Wrapf(err, "review: approve doc %d", docID)
	}

	zap.L().Info("review: approved",
		zap.Int("doc_id", docID),
		zap.Int("changes_applied", len(changes)),
	)
	return changes, nil
}

// buildApprovalPatch turns stored changes into a document patch. The title
// is a direct document attribute; everything else is a custom field
// resolved by name. Unknown field names are skipped with a warning.
func (q *Queue) buildApprovalPatch(ctx context.Context, changes []model.ProposedChange) (archive.DocumentPatch, error) {
	patch := archive.DocumentPatch{CustomFields: map[int]string{}}

	for _, change := range changes {
		if change.FieldName == "title" {
			patch.Title = model.StringPtr(change.ProposedValue)
			continue
		}
		field, err := q.archive.CustomFieldByName(ctx, change.FieldName)
		if err != nil {
			return patch, err
		}
		if field == nil {
			zap.L().Warn("review: no custom field for proposed change",
				zap.String("field", change.FieldName),
			)
			continue
		}
		patch.CustomFields[field.ID] = change.ProposedValue
	}

	// Clear the stored changes alongside the apply.
	if field, err := q.archive.CustomFieldByName(ctx, ChangesFieldName); err != nil {
		return patch, err
	} else if field != nil {
		patch.CustomFields[field.ID] = ""
	}

	return patch, nil
}

// Reject discards the stored changes and moves the document to the
// rejected tag.
func (q *Queue) Reject(ctx context.Context, docID int, reason string) error {
	snap, err := q.archive.GetDocument(ctx, docID)
	if err != nil {
		return eris.Wrapf(err, "review: reject doc %d", docID)
	}
	if !snap.HasTag(q.tags.NeedsReview) {
		return eris.Errorf("review: document %d is not pending review", docID)
	}

	patch := archive.DocumentPatch{}
	if field, err := q.archive.CustomFieldByName(ctx, ChangesFieldName); err != nil {
		return eris.Wrapf(err, "review: reject doc %d", docID)
	} else if field != nil {
		patch.CustomFields = map[int]string{field.ID: ""}
	}

	if err := q.retag(ctx, &patch, q.tags.Rejected); err != nil {
		return eris.Wrapf(err, "review: reject doc %d", docID)
	}

	if _, err := q.archive.PatchDocument(ctx, docID, patch, snap.TagIDs); err != nil {
		return eris.Wrapf(err, "review: reject doc %d", docID)
	}

	zap.L().Info("review: rejected",
		zap.Int("doc_id", docID),
		zap.String("reason", reason),
	)
	return nil
}

// MarkProcessed tags a document as processed with no review required.
func (q *Queue) MarkProcessed(ctx context.Context, docID int) error {
	snap, err := q.archive.GetDocument(ctx, docID)
	if err != nil {
		return eris.Wrapf(err, "review: mark processed doc %d", docID)
	}

	patch := archive.DocumentPatch{}
	if err := q.retag(ctx, &patch, q.tags.Processed); err != nil {
		return eris.Wrapf(err, "review: mark processed doc %d", docID)
	}

	if _, err := q.archive.PatchDocument(ctx, docID, patch, snap.TagIDs); err != nil {
		return eris.Wrapf(err, "review: mark processed doc %d", docID)
	}
	return nil
}

// retag adds the keep tag and removes every other workflow tag.
func (q *Queue) retag(ctx context.Context, patch *archive.DocumentPatch, keep string) error {
	tag, err := q.archive.EnsureTag(ctx, keep)
	if err != nil {
		return err
	}
	patch.TagsAdd = append(patch.TagsAdd, tag.ID)

	remove, err := q.workflowTagIDs(ctx, keep)
	if err != nil {
		return err
	}
	patch.TagsRemove = append(patch.TagsRemove, remove...)
	return nil
}

// workflowTagIDs resolves the IDs of all workflow tags except the excluded
// name. Tags that do not exist in the archive are skipped.
func (q *Queue) workflowTagIDs(ctx context.Context, exclude string) ([]int, error) {
	var ids []int
	for _, name := range []string{q.tags.NeedsReview, q.tags.Approved, q.tags.Rejected, q.tags.Processed} {
		if name == exclude {
			continue
		}
		tag, err := q.archive.TagByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if tag != nil {
			ids = append(ids, tag.ID)
		}
	}
	return ids, nil
}
