// Package extract drives the two-model extraction flow: a cheap gatekeeper
// model picks the template, then a specialist model pulls the template's
// fields out of the OCR text.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lmeira/docsqueeze/internal/model"
	"github.com/lmeira/docsqueeze/internal/normalize"
	"github.com/lmeira/docsqueeze/internal/template"
	"github.com/lmeira/docsqueeze/pkg/anthropic"
)

// FallbackTemplateID is used when classification returns an unknown template.
const FallbackTemplateID = "fallback_general"

// classifyMaxTokens caps the gatekeeper response; classification needs a
// one-line JSON object.
const classifyMaxTokens = 256

// maxModelAttempts bounds retries of a failed model call.
const maxModelAttempts = 3

// Options tunes the extraction service.
type Options struct {
	GatekeeperModel  string
	SpecialistModel  string
	MaxTokens        int64
	MaxContentLength int
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.GatekeeperModel == "" {
		out.GatekeeperModel = "claude-haiku-4-5-20250514"
	}
	if out.SpecialistModel == "" {
		out.SpecialistModel = "claude-sonnet-4-5-20250929"
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 4096
	}
	if out.MaxContentLength <= 0 {
		out.MaxContentLength = 25000
	}
	return out
}

// Service classifies documents and extracts template fields.
type Service struct {
	ai   anthropic.Client
	cfg  *template.Config
	opts Options
}

// NewService creates an extraction service over the given AI client and
// template configuration.
func NewService(ai anthropic.Client, cfg *template.Config, opts Options) *Service {
	return &Service{ai: ai, cfg: cfg, opts: opts.withDefaults()}
}

// Classify asks the gatekeeper model which template matches the document.
// Unknown template IDs fall back to FallbackTemplateID.
func (s *Service) Classify(ctx context.Context, content string) (*model.ClassificationResult, error) {
	var descriptions []string
	for _, t := range s.cfg.Templates {
		descriptions = append(descriptions, fmt.Sprintf("- %s: %s", t.ID, t.Description))
	}

	prompt := fmt.Sprintf(`Available templates:
%s

Document content (truncated):
%s

Classify this document and return JSON with:
- template_id: The ID of the best matching template
- confidence: Your confidence (0.0 to 1.0)
- reasoning: Brief explanation (optional)
`, strings.Join(descriptions, "\n"), s.truncate(content))

	start := time.Now()
	resp, err := s.createMessage(ctx, anthropic.MessageRequest{
		Model:     s.opts.GatekeeperModel,
		MaxTokens: classifyMaxTokens,
		System: []anthropic.SystemBlock{
			{Text: s.cfg.BasePrompts.Gatekeeper, CacheControl: &anthropic.CacheControl{}},
		},
		Messages: []anthropic.Message{{Role: "user", Content: prompt}},
	}, "classify")
	if err != nil {
		return nil, eris.Wrap(err, "extract: classify")
	}
	elapsed := time.Since(start).Milliseconds()
	resp.Usage.LogCost(s.opts.GatekeeperModel, "classify")

	var parsed struct {
		TemplateID string  `json:"template_id"`
		SelectedID string  `json:"selected_id"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text())), &parsed); err != nil {
		return nil, eris.Wrap(err, "extract: parse classification response")
	}

	templateID := parsed.TemplateID
	if templateID == "" {
		templateID = parsed.SelectedID
	}
	if templateID == "" {
		return nil, eris.New("extract: no template_id in classification response")
	}

	if s.cfg.ByID(templateID) == nil {
		zap.L().Warn("extract: unknown template id, using fallback",
			zap.String("returned_id", templateID),
			zap.Strings("valid_ids", s.cfg.IDs()),
		)
		templateID = FallbackTemplateID
	}

	confidence := parsed.Confidence
	if confidence == 0 {
		confidence = 0.5
	}

	result := &model.ClassificationResult{
		TemplateID: templateID,
		Confidence: model.Clamp01(confidence),
		Reasoning:  parsed.Reasoning,
		DurationMS: elapsed,
	}

	zap.L().Info("extract: document classified",
		zap.String("template_id", result.TemplateID),
		zap.Float64("confidence", result.Confidence),
		zap.Int64("elapsed_ms", elapsed),
	)
	return result, nil
}

// Extract runs the specialist model against the document content using the
// template's field list and rules. Field values come back raw; call
// NormalizeExtraction afterwards.
func (s *Service) Extract(ctx context.Context, content string, tpl *template.Template) (*model.ExtractionResult, error) {
	if tpl.Extraction == nil {
		return nil, eris.Errorf("extract: template %s has no extraction section", tpl.ID)
	}

	var fieldLines []string
	for _, f := range tpl.Extraction.Fields {
		desc := f.Description
		if desc == "" {
			desc = "No description"
		}
		line := fmt.Sprintf("- %s (%s): %s", f.Name, f.Type, desc)
		if f.Required {
			line += " [REQUIRED]"
		}
		fieldLines = append(fieldLines, line)
	}

	system := fmt.Sprintf(`%s

Template: %s - %s

Extraction Rules:
%s

Fields to extract:
%s
`, s.cfg.BasePrompts.Specialist, tpl.ID, tpl.Description, tpl.Extraction.Rules, strings.Join(fieldLines, "\n"))

	prompt := fmt.Sprintf(`Document content:
%s

Extract the requested fields and return JSON with:
- fields: Object mapping field names to extracted values
- confidence: Object mapping field names to confidence scores (0.0 to 1.0)
- notes: Any extraction notes or issues (optional)

Example format:
{
  "fields": {"issue_date": "2025-01-15", "total_gross": "123.45"},
  "confidence": {"issue_date": 0.95, "total_gross": 0.88},
  "notes": "Amount was partially obscured"
}
`, s.truncate(content))

	start := time.Now()
	resp, err := s.createMessage(ctx, anthropic.MessageRequest{
		Model:     s.opts.SpecialistModel,
		MaxTokens: s.opts.MaxTokens,
		System: []anthropic.SystemBlock{
			{Text: system, CacheControl: &anthropic.CacheControl{}},
		},
		Messages: []anthropic.Message{{Role: "user", Content: prompt}},
	}, "extract")
	if err != nil {
		return nil, eris.Wrapf(err, "extract: template %s", tpl.ID)
	}
	elapsed := time.Since(start).Milliseconds()
	resp.Usage.LogCost(s.opts.SpecialistModel, "extract")

	var parsed struct {
		Fields     map[string]any     `json:"fields"`
		Confidence map[string]float64 `json:"confidence"`
		Notes      string             `json:"notes"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text())), &parsed); err != nil {
		return nil, eris.Wrapf(err, "extract: parse extraction response for %s", tpl.ID)
	}

	fields := make(map[string]model.ExtractedField, len(tpl.Extraction.Fields))
	for _, def := range tpl.Extraction.Fields {
		var raw *string
		if v, ok := parsed.Fields[def.Name]; ok && v != nil {
			if sv := stringifyValue(v); sv != "" {
				raw = model.StringPtr(sv)
			}
		}

		confidence, ok := parsed.Confidence[def.Name]
		if !ok {
			confidence = 0.5
		}

		fields[def.Name] = model.NewExtractedField(def.Name, raw, confidence, fieldType(def.Type))
	}

	result := &model.ExtractionResult{
		TemplateID:         tpl.ID,
		TemplateConfidence: 0.9,
		Fields:             fields,
		Notes:              parsed.Notes,
		DurationMS:         elapsed,
	}

	zap.L().Info("extract: metadata extracted",
		zap.String("template_id", tpl.ID),
		zap.Int("fields_extracted", result.ExtractedCount()),
		zap.Float64("overall_confidence", result.OverallConfidence()),
		zap.Int64("elapsed_ms", elapsed),
	)
	return result, nil
}

// ClassifyAndExtract chains classification and extraction. The extraction's
// template confidence is overwritten with the classification confidence.
func (s *Service) ClassifyAndExtract(ctx context.Context, content string) (*model.ClassificationResult, *model.ExtractionResult, error) {
	classification, err := s.Classify(ctx, content)
	if err != nil {
		return nil, nil, err
	}

	tpl := s.cfg.ByID(classification.TemplateID)
	if tpl == nil {
		tpl = s.cfg.ByID(FallbackTemplateID)
		if tpl == nil {
			return classification, nil, eris.Errorf("extract: template not found and no fallback: %s", classification.TemplateID)
		}
	}

	extraction, err := s.Extract(ctx, content, tpl)
	if err != nil {
		return classification, nil, err
	}
	extraction.TemplateConfidence = classification.Confidence

	return classification, extraction, nil
}

// NormalizeExtraction returns a copy of the extraction with each field's
// NormalizedValue populated according to its type. Fields whose raw value
// cannot be normalized keep a nil NormalizedValue.
func NormalizeExtraction(extraction *model.ExtractionResult) *model.ExtractionResult {
	out := extraction.Clone()
	for name, f := range out.Fields {
		if f.RawValue == nil {
			continue
		}
		if norm, ok := normalizeField(*f.RawValue, f.Type); ok {
			f.NormalizedValue = model.StringPtr(norm)
		}
		out.Fields[name] = f
	}
	return out
}

func normalizeField(raw string, ft model.FieldType) (string, bool) {
	switch ft {
	case model.FieldDate:
		return normalize.Date(raw)
	case model.FieldAmount:
		return normalize.Amount(raw)
	case model.FieldNumber:
		return normalize.Number(raw)
	case model.FieldInteger:
		num, ok := normalize.Number(raw)
		if !ok {
			return "", false
		}
		if f, err := strconv.ParseFloat(num, 64); err == nil {
			return strconv.Itoa(int(f)), true
		}
		return num, true
	default:
		return normalize.Text(raw, 0)
	}
}

// ValidateExtraction checks required fields against the template. It returns
// one message per missing or low-confidence required field.
func ValidateExtraction(extraction *model.ExtractionResult, tpl *template.Template) []string {
	var errs []string
	for _, def := range tpl.RequiredFields() {
		f, ok := extraction.Fields[def.Name]
		switch {
		case !ok || !f.HasValue():
			errs = append(errs, fmt.Sprintf("Required field '%s' is missing", def.Name))
		case f.Confidence < 0.5:
			errs = append(errs, fmt.Sprintf("Required field '%s' has low confidence (%.2f)", def.Name, f.Confidence))
		}
	}
	return errs
}

// createMessage calls the model with exponential backoff on transport
// failures.
func (s *Service) createMessage(ctx context.Context, req anthropic.MessageRequest, phase string) (*anthropic.MessageResponse, error) {
	var lastErr error
	backoff := time.Second
	for attempt := 1; attempt <= maxModelAttempts; attempt++ {
		resp, err := s.ai.CreateMessage(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if attempt == maxModelAttempts {
			break
		}
		zap.L().Warn("extract: model call failed, retrying",
			zap.String("phase", phase),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}

// truncate caps content sent to the model.
func (s *Service) truncate(content string) string {
	if len(content) <= s.opts.MaxContentLength {
		return content
	}
	return content[:s.opts.MaxContentLength]
}

// stringifyValue renders a JSON field value as a string. Models sometimes
// return numbers where strings were requested.
func stringifyValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, stringifyValue(e))
		}
		return strings.Join(parts, ", ")
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

func fieldType(t string) model.FieldType {
	switch t {
	case "date":
		return model.FieldDate
	case "amount":
		return model.FieldAmount
	case "number":
		return model.FieldNumber
	case "integer":
		return model.FieldInteger
	default:
		return model.FieldString
	}
}
