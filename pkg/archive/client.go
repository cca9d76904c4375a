// Package archive provides a client for a paperless-ngx style document
// archive REST API.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client defines the archive operations the pipeline uses.
type Client interface {
	// GetDocument fetches a document and returns a snapshot with tag,
	// correspondent, document-type and custom-field names resolved.
	GetDocument(ctx context.Context, docID int) (*DocumentSnapshot, error)
	// PatchDocument applies a patch and returns the resulting snapshot.
	PatchDocument(ctx context.Context, docID int, patch DocumentPatch, currentTags []int) (*DocumentSnapshot, error)
	// DocumentsByTag lists IDs of documents carrying the tag.
	DocumentsByTag(ctx context.Context, tagID int) ([]int, error)
	// TagByName finds a tag by name. Returns nil when absent.
	TagByName(ctx context.Context, name string) (*Tag, error)
	// EnsureTag finds a tag by name, creating it when absent.
	EnsureTag(ctx context.Context, name string) (*Tag, error)
	// CorrespondentByName finds a correspondent. Returns nil when absent.
	CorrespondentByName(ctx context.Context, name string) (*Correspondent, error)
	// DocumentTypeByName finds a document type. Returns nil when absent.
	DocumentTypeByName(ctx context.Context, name string) (*DocumentType, error)
	// CustomFieldByName finds a custom field definition. Returns nil when
	// absent.
	CustomFieldByName(ctx context.Context, name string) (*CustomField, error)
	// PreloadCache loads all tags, correspondents, document types and
	// custom fields into the lookup cache.
	PreloadCache(ctx context.Context) error
}

// Option configures the archive client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the request rate limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type httpClient struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter

	mu sync.Mutex
	// Name lookups keyed by lowercase name, plus ID-to-name reverse maps.
	tags           map[string]*Tag
	tagNames       map[int]string
	correspondents map[string]*Correspondent
	corrNames      map[int]string
	docTypes       map[string]*DocumentType
	docTypeNames   map[int]string
	customFields   map[string]*CustomField
	fieldNames     map[int]string
}

// NewClient creates an archive client. baseURL is the API root, e.g.
// "http://paperless:8000/api".
func NewClient(baseURL, token string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		token:   token,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:        rate.NewLimiter(rate.Limit(10), 5),
		tags:           map[string]*Tag{},
		tagNames:       map[int]string{},
		correspondents: map[string]*Correspondent{},
		corrNames:      map[int]string{},
		docTypes:       map[string]*DocumentType{},
		docTypeNames:   map[int]string{},
		customFields:   map[string]*CustomField{},
		fieldNames:     map[int]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// do executes a rate-limited request with exponential backoff on transient
// failures and returns the body and status code.
func (c *httpClient) do(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, 0, eris.Wrap(err, "archive: marshal request body")
		}
	}

	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, eris.Wrap(err, "archive: rate limit wait")
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, 0, eris.Wrap(err, "archive: create request")
		}
		req.Header.Set("Authorization", "Token "+c.token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "archive: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("archive: status %d: %s", resp.StatusCode, string(respBody))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return respBody, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

// documentResponse is the archive's raw document representation.
type documentResponse struct {
	ID               int    `json:"id"`
	Title            string `json:"title"`
	OriginalFileName string `json:"original_file_name"`
	Correspondent    int    `json:"correspondent"`
	DocumentType     int    `json:"document_type"`
	Tags             []int  `json:"tags"`
	CustomFields     []struct {
		Field int             `json:"field"`
		Value json.RawMessage `json:"value"`
	} `json:"custom_fields"`
	Content  string `json:"content"`
	Created  string `json:"created"`
	Added    string `json:"added"`
	Modified string `json:"modified"`
}

func (c *httpClient) GetDocument(ctx context.Context, docID int) (*DocumentSnapshot, error) {
	body, status, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/documents/%d/", docID), nil)
	if err != nil {
		return nil, eris.Wrapf(err, "archive: get document %d", docID)
	}
	if status == http.StatusNotFound {
		return nil, eris.Errorf("archive: document %d not found", docID)
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("archive: get document %d: status %d: %s", docID, status, string(body))
	}

	var data documentResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, eris.Wrapf(err, "archive: unmarshal document %d", docID)
	}

	snap := &DocumentSnapshot{
		ID:               data.ID,
		Title:            data.Title,
		OriginalFileName: data.OriginalFileName,
		CorrespondentID:  data.Correspondent,
		DocumentTypeID:   data.DocumentType,
		TagIDs:           data.Tags,
		CustomFields:     map[string]string{},
		Content:          data.Content,
		ContentLength:    len(data.Content),
		Created:          data.Created,
		Added:            data.Added,
		Modified:         data.Modified,
	}

	sum := sha256.Sum256([]byte(data.Content))
	snap.ContentHash = hex.EncodeToString(sum[:])[:16]

	for _, id := range data.Tags {
		if name, err := c.resolveTagName(ctx, id); err == nil && name != "" {
			snap.TagNames = append(snap.TagNames, name)
		}
	}
	if data.Correspondent > 0 {
		snap.CorrespondentName, _ = c.resolveCorrespondentName(ctx, data.Correspondent)
	}
	if data.DocumentType > 0 {
		snap.DocumentTypeName, _ = c.resolveDocumentTypeName(ctx, data.DocumentType)
	}
	for _, cf := range data.CustomFields {
		name, err := c.resolveCustomFieldName(ctx, cf.Field)
		if err != nil || name == "" {
			continue
		}
		snap.CustomFields[name] = rawValueString(cf.Value)
	}

	return snap, nil
}

// rawValueString renders a custom field value as a string. The archive
// stores strings, numbers, booleans and nulls.
func rawValueString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

func (c *httpClient) PatchDocument(ctx context.Context, docID int, patch DocumentPatch, currentTags []int) (*DocumentSnapshot, error) {
	payload := patch.apiPayload(currentTags)
	if len(payload) == 0 {
		zap.L().Debug("archive: empty patch", zap.Int("doc_id", docID))
		return c.GetDocument(ctx, docID)
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	zap.L().Info("archive: patching document",
		zap.Int("doc_id", docID),
		zap.Strings("fields", keys),
	)

	body, status, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/documents/%d/", docID), payload)
	if err != nil {
		return nil, eris.Wrapf(err, "archive: patch document %d", docID)
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("archive: patch document %d: status %d: %s", docID, status, string(body))
	}

	return c.GetDocument(ctx, docID)
}

// listPage is the archive's paginated list envelope.
type listPage struct {
	Next    string            `json:"next"`
	Results []json.RawMessage `json:"results"`
}

func (c *httpClient) DocumentsByTag(ctx context.Context, tagID int) ([]int, error) {
	var ids []int
	for page := 1; ; page++ {
		path := fmt.Sprintf("/documents/?tags__id__all=%d&page=%d", tagID, page)
		body, status, err := c.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, eris.Wrapf(err, "archive: list documents by tag %d", tagID)
		}
		if status == http.StatusNotFound {
			// Past the last page.
			return ids, nil
		}
		if status != http.StatusOK {
			return nil, eris.Errorf("archive: list documents by tag %d: status %d", tagID, status)
		}

		var pageData listPage
		if err := json.Unmarshal(body, &pageData); err != nil {
			return nil, eris.Wrap(err, "archive: unmarshal document list")
		}
		for _, raw := range pageData.Results {
			var doc struct {
				ID int `json:"id"`
			}
			if err := json.Unmarshal(raw, &doc); err == nil {
				ids = append(ids, doc.ID)
			}
		}
		if pageData.Next == "" {
			return ids, nil
		}
	}
}

// findByName queries a name-filtered list endpoint and returns the first
// result, or nil when there is none.
func (c *httpClient) findByName(ctx context.Context, endpoint, name string) (json.RawMessage, error) {
	path := endpoint + "?name__iexact=" + url.QueryEscape(name)
	body, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "archive: find %q in %s", name, endpoint)
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("archive: find %q in %s: status %d", name, endpoint, status)
	}
	var pageData listPage
	if err := json.Unmarshal(body, &pageData); err != nil {
		return nil, eris.Wrap(err, "archive: unmarshal lookup response")
	}
	if len(pageData.Results) == 0 {
		return nil, nil
	}
	return pageData.Results[0], nil
}

func (c *httpClient) TagByName(ctx context.Context, name string) (*Tag, error) {
	key := lowerKey(name)
	c.mu.Lock()
	if t, ok := c.tags[key]; ok {
		c.mu.Unlock()
		return t, nil
	}
	c.mu.Unlock()

	raw, err := c.findByName(ctx, "/tags/", name)
	if err != nil || raw == nil {
		return nil, err
	}
	var t Tag
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, eris.Wrap(err, "archive: unmarshal tag")
	}
	c.cacheTag(&t)
	return &t, nil
}

func (c *httpClient) EnsureTag(ctx context.Context, name string) (*Tag, error) {
	t, err := c.TagByName(ctx, name)
	if err != nil || t != nil {
		return t, err
	}

	body, status, err := c.do(ctx, http.MethodPost, "/tags/", map[string]any{"name": name})
	if err != nil {
		return nil, eris.Wrapf(err, "archive: create tag %q", name)
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return nil, eris.Errorf("archive: create tag %q: status %d: %s", name, status, string(body))
	}
	var created Tag
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, eris.Wrap(err, "archive: unmarshal created tag")
	}
	zap.L().Info("archive: created tag", zap.String("name", created.Name), zap.Int("id", created.ID))
	c.cacheTag(&created)
	return &created, nil
}

func (c *httpClient) CorrespondentByName(ctx context.Context, name string) (*Correspondent, error) {
	key := lowerKey(name)
	c.mu.Lock()
	if v, ok := c.correspondents[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	raw, err := c.findByName(ctx, "/correspondents/", name)
	if err != nil || raw == nil {
		return nil, err
	}
	var v Correspondent
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, eris.Wrap(err, "archive: unmarshal correspondent")
	}
	c.mu.Lock()
	c.correspondents[key] = &v
	c.corrNames[v.ID] = v.Name
	c.mu.Unlock()
	return &v, nil
}

func (c *httpClient) DocumentTypeByName(ctx context.Context, name string) (*DocumentType, error) {
	key := lowerKey(name)
	c.mu.Lock()
	if v, ok := c.docTypes[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	raw, err := c.findByName(ctx, "/document_types/", name)
	if err != nil || raw == nil {
		return nil, err
	}
	var v DocumentType
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, eris.Wrap(err, "archive: unmarshal document type")
	}
	c.mu.Lock()
	c.docTypes[key] = &v
	c.docTypeNames[v.ID] = v.Name
	c.mu.Unlock()
	return &v, nil
}

func (c *httpClient) CustomFieldByName(ctx context.Context, name string) (*CustomField, error) {
	key := lowerKey(name)
	c.mu.Lock()
	if v, ok := c.customFields[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	raw, err := c.findByName(ctx, "/custom_fields/", name)
	if err != nil || raw == nil {
		return nil, err
	}
	var v CustomField
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, eris.Wrap(err, "archive: unmarshal custom field")
	}
	c.mu.Lock()
	c.customFields[key] = &v
	c.fieldNames[v.ID] = v.Name
	c.mu.Unlock()
	return &v, nil
}

// resolveByID fetches a single resource by ID and returns its name field,
// or "" on 404.
func (c *httpClient) resolveByID(ctx context.Context, endpoint string, id int) (json.RawMessage, error) {
	body, status, err := c.do(ctx, http.MethodGet, endpoint+strconv.Itoa(id)+"/", nil)
	if err != nil {
		return nil, eris.Wrapf(err, "archive: resolve %s%d", endpoint, id)
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("archive: resolve %s%d: status %d", endpoint, id, status)
	}
	return body, nil
}

func (c *httpClient) resolveTagName(ctx context.Context, id int) (string, error) {
	c.mu.Lock()
	if name, ok := c.tagNames[id]; ok {
		c.mu.Unlock()
		return name, nil
	}
	c.mu.Unlock()

	raw, err := c.resolveByID(ctx, "/tags/", id)
	if err != nil || raw == nil {
		return "", err
	}
	var t Tag
	if err := json.Unmarshal(raw, &t); err != nil {
		return "", eris.Wrap(err, "archive: unmarshal tag")
	}
	c.cacheTag(&t)
	return t.Name, nil
}

func (c *httpClient) resolveCorrespondentName(ctx context.Context, id int) (string, error) {
	c.mu.Lock()
	if name, ok := c.corrNames[id]; ok {
		c.mu.Unlock()
		return name, nil
	}
	c.mu.Unlock()

	raw, err := c.resolveByID(ctx, "/correspondents/", id)
	if err != nil || raw == nil {
		return "", err
	}
	var v Correspondent
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", eris.Wrap(err, "archive: unmarshal correspondent")
	}
	c.mu.Lock()
	c.correspondents[lowerKey(v.Name)] = &v
	c.corrNames[v.ID] = v.Name
	c.mu.Unlock()
	return v.Name, nil
}

func (c *httpClient) resolveDocumentTypeName(ctx context.Context, id int) (string, error) {
	c.mu.Lock()
	if name, ok := c.docTypeNames[id]; ok {
		c.mu.Unlock()
		return name, nil
	}
	c.mu.Unlock()

	raw, err := c.resolveByID(ctx, "/document_types/", id)
	if err != nil || raw == nil {
		return "", err
	}
	var v DocumentType
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", eris.Wrap(err, "archive: unmarshal document type")
	}
	c.mu.Lock()
	c.docTypes[lowerKey(v.Name)] = &v
	c.docTypeNames[v.ID] = v.Name
	c.mu.Unlock()
	return v.Name, nil
}

func (c *httpClient) resolveCustomFieldName(ctx context.Context, id int) (string, error) {
	c.mu.Lock()
	if name, ok := c.fieldNames[id]; ok {
		c.mu.Unlock()
		return name, nil
	}
	c.mu.Unlock()

	raw, err := c.resolveByID(ctx, "/custom_fields/", id)
	if err != nil || raw == nil {
		return "", err
	}
	var v CustomField
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", eris.Wrap(err, "archive: unmarshal custom field")
	}
	c.mu.Lock()
	c.customFields[lowerKey(v.Name)] = &v
	c.fieldNames[v.ID] = v.Name
	c.mu.Unlock()
	return v.Name, nil
}

func (c *httpClient) PreloadCache(ctx context.Context) error {
	loadAll := func(endpoint string) ([]json.RawMessage, error) {
		var items []json.RawMessage
		for page := 1; ; page++ {
			body, status, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s?page=%d", endpoint, page), nil)
			if err != nil {
				return nil, eris.Wrapf(err, "archive: preload %s", endpoint)
			}
			if status != http.StatusOK {
				break
			}
			var pageData listPage
			if err := json.Unmarshal(body, &pageData); err != nil {
				return nil, eris.Wrapf(err, "archive: preload %s: unmarshal", endpoint)
			}
			items = append(items, pageData.Results...)
			if pageData.Next == "" {
				break
			}
		}
		return items, nil
	}

	tagItems, err := loadAll("/tags/")
	if err != nil {
		return err
	}
	for _, raw := range tagItems {
		var t Tag
		if json.Unmarshal(raw, &t) == nil {
			c.cacheTag(&t)
		}
	}

	corrItems, err := loadAll("/correspondents/")
	if err != nil {
		return err
	}
	c.mu.Lock()
	for _, raw := range corrItems {
		var v Correspondent
		if json.Unmarshal(raw, &v) == nil {
			vv := v
			c.correspondents[lowerKey(v.Name)] = &vv
			c.corrNames[v.ID] = v.Name
		}
	}
	c.mu.Unlock()

	dtItems, err := loadAll("/document_types/")
	if err != nil {
		return err
	}
	c.mu.Lock()
	for _, raw := range dtItems {
		var v DocumentType
		if json.Unmarshal(raw, &v) == nil {
			vv := v
			c.docTypes[lowerKey(v.Name)] = &vv
			c.docTypeNames[v.ID] = v.Name
		}
	}
	c.mu.Unlock()

	cfItems, err := loadAll("/custom_fields/")
	if err != nil {
		return err
	}
	c.mu.Lock()
	for _, raw := range cfItems {
		var v CustomField
		if json.Unmarshal(raw, &v) == nil {
			vv := v
			c.customFields[lowerKey(v.Name)] = &vv
			c.fieldNames[v.ID] = v.Name
		}
	}
	nTags, nCorr, nDT, nCF := len(c.tags), len(c.correspondents), len(c.docTypes), len(c.customFields)
	c.mu.Unlock()

	zap.L().Info("archive: metadata cache loaded",
		zap.Int("tags", nTags),
		zap.Int("correspondents", nCorr),
		zap.Int("document_types", nDT),
		zap.Int("custom_fields", nCF),
	)
	return nil
}

func (c *httpClient) cacheTag(t *Tag) {
	c.mu.Lock()
	c.tags[lowerKey(t.Name)] = t
	c.tagNames[t.ID] = t.Name
	c.mu.Unlock()
}

func lowerKey(name string) string {
	return strings.ToLower(name)
}
