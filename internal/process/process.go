// Package process orchestrates the full pipeline for a document: fetch,
// classify, extract, normalize, post-process, score, merge, then apply the
// confident changes or queue the rest for review.
package process

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lmeira/docsqueeze/internal/confidence"
	"github.com/lmeira/docsqueeze/internal/extract"
	"github.com/lmeira/docsqueeze/internal/format"
	"github.com/lmeira/docsqueeze/internal/kind"
	"github.com/lmeira/docsqueeze/internal/merge"
	"github.com/lmeira/docsqueeze/internal/model"
	"github.com/lmeira/docsqueeze/internal/review"
	"github.com/lmeira/docsqueeze/internal/store"
	"github.com/lmeira/docsqueeze/internal/template"
	"github.com/lmeira/docsqueeze/pkg/archive"
)

// defaultConcurrency bounds parallel document processing in a batch.
const defaultConcurrency = 4

// Processor runs documents through the pipeline.
type Processor struct {
	archive     archive.Client
	extractor   *extract.Service
	templates   *template.Config
	merger      merge.Strategy
	queue       *review.Queue
	runs        store.Store
	tags        review.Tags
	concurrency int
}

// Options configures a Processor.
type Options struct {
	Merger      merge.Strategy
	Tags        review.Tags
	Concurrency int
	// Runs is optional; without it no audit records are written.
	Runs store.Store
}

// New creates a Processor.
func New(client archive.Client, extractor *extract.Service, templates *template.Config, opts Options) *Processor {
	if opts.Tags == (review.Tags{}) {
		opts.Tags = review.DefaultTags()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Merger.AutoApplyThreshold == 0 && opts.Merger.SuggestionThreshold == 0 {
		opts.Merger = merge.NewStrategy()
	}
	return &Processor{
		archive:     client,
		extractor:   extractor,
		templates:   templates,
		merger:      opts.Merger,
		queue:       review.NewQueue(client, opts.Tags),
		runs:        opts.Runs,
		tags:        opts.Tags,
		concurrency: opts.Concurrency,
	}
}

// ProcessDocument runs one document through the pipeline. Processing
// failures are reported in the result, not as an error; the error return
// covers run bookkeeping only.
func (p *Processor) ProcessDocument(ctx context.Context, docID int, dryRun bool) (*model.ProcessingResult, error) {
	start := time.Now()
	zap.L().Info("process: starting document",
		zap.Int("doc_id", docID),
		zap.Bool("dry_run", dryRun),
	)

	var run *model.Run
	if p.runs != nil && !dryRun {
		var err error
		run, err = p.runs.CreateRun(ctx, docID)
		if err != nil {
			return nil, eris.Wrapf(err, "process: create run for doc %d", docID)
		}
		if err := p.runs.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning); err != nil {
			return nil, eris.Wrapf(err, "process: start run %s", run.ID)
		}
	}

	result := p.processDocument(ctx, docID, dryRun)
	result.DurationMS = time.Since(start).Milliseconds()

	if run != nil {
		status := model.RunStatusComplete
		switch {
		case !result.Success:
			status = model.RunStatusFailed
		case result.ReviewRequired:
			status = model.RunStatusReview
		}
		if err := p.runs.CompleteRun(ctx, run.ID, status, result); err != nil {
			return result, eris.Wrapf(err, "process: record run %s", run.ID)
		}
		if status == model.RunStatusFailed {
			if err := p.runs.FailRun(ctx, run.ID, result.ErrorMessage); err != nil {
				return result, eris.Wrapf(err, "process: record run failure %s", run.ID)
			}
		}
	}

	zap.L().Info("process: document done",
		zap.Int("doc_id", docID),
		zap.Bool("success", result.Success),
		zap.String("template", result.TemplateID),
		zap.Int("auto_applied", len(result.AppliedChanges)),
		zap.Bool("needs_review", result.ReviewRequired),
		zap.Int64("elapsed_ms", result.DurationMS),
	)
	return result, nil
}

func (p *Processor) processDocument(ctx context.Context, docID int, dryRun bool) *model.ProcessingResult {
	result := &model.ProcessingResult{DocID: docID}

	snap, err := p.archive.GetDocument(ctx, docID)
	if err != nil {
		result.ErrorMessage = eris.Wrap(err, "fetch document").Error()
		return result
	}

	if snap.HasTag(p.tags.Processed) {
		result.Success = true
		result.ErrorMessage = "Already processed"
		return result
	}

	if strings.TrimSpace(snap.Content) == "" {
		result.ErrorMessage = "Document has no OCR content"
		return result
	}

	classification, extraction, err := p.extractor.ClassifyAndExtract(ctx, snap.Content)
	result.Classification = classification
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}
	result.TemplateID = classification.TemplateID

	tpl := p.templates.ByID(classification.TemplateID)
	if tpl == nil {
		tpl = p.templates.ByID(extract.FallbackTemplateID)
		if tpl == nil {
			result.ErrorMessage = "no template found and no fallback configured"
			return result
		}
	}

	extraction = extract.NormalizeExtraction(extraction)
	extraction = kind.PostProcess(kind.Parse(tpl.Kind), extraction, kind.Context{Content: snap.Content})
	result.Extraction = extraction

	score := confidence.ScoreExtraction(extraction, tpl)
	zap.L().Info("process: extraction scored",
		zap.Int("doc_id", docID),
		zap.Float64("overall", score.Overall),
		zap.String("explanation", score.Explanation),
	)

	mergeResult := p.merger.MergeDocument(snap.CustomFields, extraction, tpl.FieldMapping)

	proposedTitle := format.TitleFromExtraction(tpl.TitleFormat, extraction, snap.Created)
	titleMerge := p.merger.MergeTitle(snap.Title, proposedTitle, score.Overall)

	result.ProposedChanges = append(result.ProposedChanges, mergeResult.AutoApplyChanges...)
	result.ProposedChanges = append(result.ProposedChanges, mergeResult.ReviewChanges...)
	if titleMerge.IsChange() {
		result.ProposedChanges = append(result.ProposedChanges, titleChange(titleMerge))
	}

	titleForReview := titleMerge.IsChange() && !titleMerge.IsAutoApply()
	result.ReviewRequired = mergeResult.NeedsReview() || titleForReview

	if dryRun {
		zap.L().Info("process: dry run complete",
			zap.Int("doc_id", docID),
			zap.Int("auto_apply", len(mergeResult.AutoApplyChanges)),
			zap.Int("needs_review", len(mergeResult.ReviewChanges)),
			zap.String("proposed_title", proposedTitle),
		)
		result.Success = true
		return result
	}

	if len(mergeResult.AutoApplyChanges) > 0 || titleMerge.IsAutoApply() {
		applied, err := p.applyAutoChanges(ctx, snap, mergeResult.AutoApplyChanges, titleMerge, tpl)
		if err != nil {
			result.ErrorMessage = err.Error()
			return result
		}
		result.AppliedChanges = applied
	}

	switch {
	case len(mergeResult.ReviewChanges) > 0 || titleForReview:
		reviewChanges := append([]model.ProposedChange{}, mergeResult.ReviewChanges...)
		if titleForReview {
			reviewChanges = append(reviewChanges, titleChange(titleMerge))
		}
		if err := p.queue.Submit(ctx, docID, reviewChanges); err != nil {
			result.ErrorMessage = err.Error()
			return result
		}
	case len(result.AppliedChanges) > 0:
		if err := p.queue.MarkProcessed(ctx, docID); err != nil {
			result.ErrorMessage = err.Error()
			return result
		}
	}

	result.Success = true
	return result
}

func titleChange(m merge.FieldMergeResult) model.ProposedChange {
	return model.ProposedChange{
		FieldName:     "title",
		CurrentValue:  m.ExistingValue,
		ProposedValue: m.AIValue,
		Confidence:    m.AIConfidence,
		Source:        "ai",
		Reason:        m.Reason,
	}
}

// applyAutoChanges builds one patch with everything that can be applied
// without review: the title, custom field values, the template's document
// type, a correspondent when the document has none, and the template's
// tags. Changes naming unknown custom fields are skipped.
func (p *Processor) applyAutoChanges(ctx context.Context, snap *archive.DocumentSnapshot, changes []model.ProposedChange, titleMerge merge.FieldMergeResult, tpl *template.Template) ([]model.ProposedChange, error) {
	var applied []model.ProposedChange
	patch := archive.DocumentPatch{CustomFields: map[int]string{}}

	if titleMerge.IsAutoApply() {
		patch.Title = model.StringPtr(titleMerge.AIValue)
		applied = append(applied, titleChange(titleMerge))
	}

	for _, change := range changes {
		field, err := p.archive.CustomFieldByName(ctx, change.FieldName)
		if err != nil {
			return nil, eris.Wrap(err, "process: resolve custom field")
		}
		if field == nil {
			zap.L().Warn("process: custom field not found",
				zap.Int("doc_id", snap.ID),
				zap.String("field", change.FieldName),
			)
			continue
		}
		patch.CustomFields[field.ID] = change.ProposedValue
		applied = append(applied, change)
	}

	if tpl.DocumentType != "" {
		dt, err := p.archive.DocumentTypeByName(ctx, tpl.DocumentType)
		if err != nil {
			return nil, eris.Wrap(err, "process: resolve document type")
		}
		if dt != nil && snap.DocumentTypeID != dt.ID {
			patch.DocumentTypeID = &dt.ID
		}
	}

	if tpl.CorrespondentHint != "" && snap.CorrespondentID == 0 {
		corr, err := p.archive.CorrespondentByName(ctx, tpl.CorrespondentHint)
		if err != nil {
			return nil, eris.Wrap(err, "process: resolve correspondent")
		}
		if corr != nil {
			patch.CorrespondentID = &corr.ID
		}
	}

	for _, tagName := range tpl.TagsAdd {
		tag, err := p.archive.TagByName(ctx, tagName)
		if err != nil {
			return nil, eris.Wrap(err, "process: resolve tag")
		}
		if tag != nil && !snap.HasTagID(tag.ID) {
			patch.TagsAdd = append(patch.TagsAdd, tag.ID)
		}
	}

	if patch.IsEmpty() {
		return applied, nil
	}
	if _, err := p.archive.PatchDocument(ctx, snap.ID, patch, snap.TagIDs); err != nil {
		return nil, eris.Wrapf(err, "process: patch doc %d", snap.ID)
	}

	zap.L().Info("process: applied changes",
		zap.Int("doc_id", snap.ID),
		zap.Int("count", len(applied)),
	)
	return applied, nil
}

// ProcessBatch processes documents concurrently with a bounded worker pool.
// Results are returned in the order of doc IDs.
func (p *Processor) ProcessBatch(ctx context.Context, docIDs []int, dryRun bool) ([]model.ProcessingResult, error) {
	zap.L().Info("process: starting batch",
		zap.Int("batch_size", len(docIDs)),
		zap.Bool("dry_run", dryRun),
	)

	results := make([]model.ProcessingResult, len(docIDs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	var mu sync.Mutex
	for i, docID := range docIDs {
		g.Go(func() error {
			r, err := p.ProcessDocument(gCtx, docID, dryRun)
			if err != nil {
				// Bookkeeping failure; keep the batch going.
				zap.L().Error("process: run bookkeeping failed",
					zap.Int("doc_id", docID),
					zap.Error(err),
				)
				if r == nil {
					r = &model.ProcessingResult{DocID: docID, ErrorMessage: err.Error()}
				}
			}
			mu.Lock()
			results[i] = *r
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, eris.Wrap(err, "process: batch")
	}

	successful := 0
	for _, r := range results {
		if r.Success {
			successful++
		}
	}
	zap.L().Info("process: batch complete",
		zap.Int("total", len(docIDs)),
		zap.Int("successful", successful),
		zap.Int("failed", len(docIDs)-successful),
	)
	return results, nil
}

// ProcessByTag processes every document carrying the named tag.
func (p *Processor) ProcessByTag(ctx context.Context, tagName string, dryRun bool) ([]model.ProcessingResult, error) {
	tag, err := p.archive.TagByName(ctx, tagName)
	if err != nil {
		return nil, eris.Wrapf(err, "process: tag %s", tagName)
	}
	if tag == nil {
		zap.L().Warn("process: tag does not exist", zap.String("tag", tagName))
		return nil, nil
	}

	docIDs, err := p.archive.DocumentsByTag(ctx, tag.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "process: documents by tag %s", tagName)
	}
	zap.L().Info("process: documents found",
		zap.String("tag", tagName),
		zap.Int("count", len(docIDs)),
	)
	return p.ProcessBatch(ctx, docIDs, dryRun)
}
