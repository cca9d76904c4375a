package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeArchive serves a minimal paperless-ngx API for tests.
func fakeArchive(t *testing.T, mux *http.ServeMux) Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-token", WithRateLimit(1000, 1000))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func listOf(items ...any) map[string]any {
	return map[string]any{"next": "", "results": items}
}

func TestGetDocument_ResolvesNames(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/documents/42/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token test-token", r.Header.Get("Authorization"))
		writeJSON(w, map[string]any{
			"id":            42,
			"title":         "Document 42",
			"correspondent": 7,
			"document_type": 3,
			"tags":          []int{1, 2},
			"custom_fields": []map[string]any{
				{"field": 11, "value": "99.90"},
				{"field": 12, "value": 123},
				{"field": 13, "value": nil},
			},
			"content": "invoice text",
			"created": "2025-01-15",
		})
	})
	mux.HandleFunc("/tags/1/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, Tag{ID: 1, Name: "inbox"})
	})
	mux.HandleFunc("/tags/2/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, Tag{ID: 2, Name: "utilities"})
	})
	mux.HandleFunc("/correspondents/7/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, Correspondent{ID: 7, Name: "EDP"})
	})
	mux.HandleFunc("/document_types/3/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, DocumentType{ID: 3, Name: "Invoice"})
	})
	mux.HandleFunc("/custom_fields/11/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, CustomField{ID: 11, Name: "amt_primary"})
	})
	mux.HandleFunc("/custom_fields/12/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, CustomField{ID: 12, Name: "gen_consumption"})
	})
	mux.HandleFunc("/custom_fields/13/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, CustomField{ID: 13, Name: "pay_due_date"})
	})

	c := fakeArchive(t, mux)
	snap, err := c.GetDocument(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, 42, snap.ID)
	assert.Equal(t, "Document 42", snap.Title)
	assert.Equal(t, "EDP", snap.CorrespondentName)
	assert.Equal(t, "Invoice", snap.DocumentTypeName)
	assert.Equal(t, []string{"inbox", "utilities"}, snap.TagNames)
	assert.Equal(t, "99.90", snap.CustomField("amt_primary"))
	assert.Equal(t, "123", snap.CustomField("gen_consumption"))
	assert.Equal(t, "", snap.CustomField("pay_due_date"))
	assert.Equal(t, len("invoice text"), snap.ContentLength)
	assert.Len(t, snap.ContentHash, 16)
	assert.True(t, snap.HasTag("INBOX"))
	assert.True(t, snap.HasTagID(2))
	assert.False(t, snap.HasTag("missing"))
}

func TestGetDocument_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/documents/9/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	c := fakeArchive(t, mux)
	_, err := c.GetDocument(context.Background(), 9)
	assert.Error(t, err)
}

func TestPatchDocument_PayloadShape(t *testing.T) {
	var captured map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/documents/42/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		}
		writeJSON(w, map[string]any{"id": 42, "title": "after"})
	})

	c := fakeArchive(t, mux)
	title := "EDP Invoice 2025-01"
	snap, err := c.PatchDocument(context.Background(), 42, DocumentPatch{
		Title:        &title,
		TagsAdd:      []int{5},
		TagsRemove:   []int{1},
		CustomFields: map[int]string{11: "99.90"},
	}, []int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, "after", snap.Title)

	assert.Equal(t, "EDP Invoice 2025-01", captured["title"])
	// Tag set: {1,2} + {5} - {1} = [2,5]
	assert.Equal(t, []any{float64(2), float64(5)}, captured["tags"])
	cf := captured["custom_fields"].([]any)
	require.Len(t, cf, 1)
	assert.Equal(t, float64(11), cf[0].(map[string]any)["field"])
	assert.Equal(t, "99.90", cf[0].(map[string]any)["value"])
}

func TestPatchDocument_EmptyPatchSkipsWrite(t *testing.T) {
	var patched atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/documents/42/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			patched.Store(true)
		}
		writeJSON(w, map[string]any{"id": 42, "title": "unchanged"})
	})

	c := fakeArchive(t, mux)
	snap, err := c.PatchDocument(context.Background(), 42, DocumentPatch{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "unchanged", snap.Title)
	assert.False(t, patched.Load())
}

func TestDocumentsByTag_Paginates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/documents/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("tags__id__all"))
		switch r.URL.Query().Get("page") {
		case "1":
			writeJSON(w, map[string]any{
				"next":    "http://x/documents/?page=2",
				"results": []any{map[string]any{"id": 1}, map[string]any{"id": 2}},
			})
		default:
			writeJSON(w, listOf(map[string]any{"id": 3}))
		}
	})

	c := fakeArchive(t, mux)
	ids, err := c.DocumentsByTag(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, ids)
}

func TestTagByName_Caches(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/tags/", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "inbox", r.URL.Query().Get("name__iexact"))
		writeJSON(w, listOf(Tag{ID: 1, Name: "inbox"}))
	})

	c := fakeArchive(t, mux)
	for range 3 {
		tag, err := c.TagByName(context.Background(), "Inbox")
		require.NoError(t, err)
		require.NotNil(t, tag)
		assert.Equal(t, 1, tag.ID)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestTagByName_Missing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tags/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, listOf())
	})

	c := fakeArchive(t, mux)
	tag, err := c.TagByName(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, tag)
}

func TestEnsureTag_CreatesWhenMissing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tags/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "ai-review-needed", body["name"])
			w.WriteHeader(http.StatusCreated)
			writeJSON(w, Tag{ID: 9, Name: "ai-review-needed"})
			return
		}
		writeJSON(w, listOf())
	})

	c := fakeArchive(t, mux)
	tag, err := c.EnsureTag(context.Background(), "ai-review-needed")
	require.NoError(t, err)
	require.NotNil(t, tag)
	assert.Equal(t, 9, tag.ID)
}

func TestPreloadCache(t *testing.T) {
	var tagCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/tags/", func(w http.ResponseWriter, r *http.Request) {
		tagCalls.Add(1)
		writeJSON(w, listOf(Tag{ID: 1, Name: "inbox"}))
	})
	mux.HandleFunc("/correspondents/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, listOf(Correspondent{ID: 7, Name: "EDP"}))
	})
	mux.HandleFunc("/document_types/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, listOf(DocumentType{ID: 3, Name: "Invoice"}))
	})
	mux.HandleFunc("/custom_fields/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, listOf(CustomField{ID: 11, Name: "amt_primary"}))
	})

	c := fakeArchive(t, mux)
	require.NoError(t, c.PreloadCache(context.Background()))

	// Lookups after preload hit the cache only.
	before := tagCalls.Load()
	tag, err := c.TagByName(context.Background(), "inbox")
	require.NoError(t, err)
	require.NotNil(t, tag)
	assert.Equal(t, before, tagCalls.Load())
}

func TestRetry_TransientStatus(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/documents/1/", func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"id": 1, "title": "ok"})
	})

	c := fakeArchive(t, mux)
	snap, err := c.GetDocument(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "ok", snap.Title)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDocumentPatch_IsEmpty(t *testing.T) {
	assert.True(t, (&DocumentPatch{}).IsEmpty())
	title := "x"
	assert.False(t, (&DocumentPatch{Title: &title}).IsEmpty())
	assert.False(t, (&DocumentPatch{TagsAdd: []int{1}}).IsEmpty())
}

func TestDocumentPatch_APIPayloadOmitsUnset(t *testing.T) {
	p := DocumentPatch{CustomFields: map[int]string{2: "b", 1: "a"}}
	payload := p.apiPayload(nil)

	assert.NotContains(t, payload, "title")
	assert.NotContains(t, payload, "tags")
	cf := payload["custom_fields"].([]map[string]any)
	// Deterministic field order.
	assert.Equal(t, fmt.Sprintf("%v", []int{1, 2}), fmt.Sprintf("%v", []int{cf[0]["field"].(int), cf[1]["field"].(int)}))
}
