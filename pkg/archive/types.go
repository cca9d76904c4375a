package archive

import (
	"sort"
	"strings"
)

// Tag is an archive tag.
type Tag struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Slug  string `json:"slug,omitempty"`
	Color string `json:"color,omitempty"`
}

// Correspondent is an archive correspondent.
type Correspondent struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

// DocumentType is an archive document type.
type DocumentType struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

// CustomField is an archive custom field definition.
type CustomField struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	DataType string `json:"data_type,omitempty"`
}

// DocumentSnapshot is an immutable view of a document's state: metadata
// resolved to names plus the OCR content. Snapshots are captured before
// processing and after patching.
type DocumentSnapshot struct {
	ID               int    `json:"id"`
	Title            string `json:"title"`
	OriginalFileName string `json:"original_file_name,omitempty"`

	CorrespondentID   int    `json:"correspondent_id,omitempty"`
	CorrespondentName string `json:"correspondent_name,omitempty"`
	DocumentTypeID    int    `json:"document_type_id,omitempty"`
	DocumentTypeName  string `json:"document_type_name,omitempty"`

	TagIDs   []int    `json:"tag_ids,omitempty"`
	TagNames []string `json:"tag_names,omitempty"`

	// CustomFields maps field name to its current value.
	CustomFields map[string]string `json:"custom_fields,omitempty"`

	Content       string `json:"-"`
	ContentHash   string `json:"content_hash,omitempty"`
	ContentLength int    `json:"content_length"`

	Created  string `json:"created,omitempty"`
	Added    string `json:"added,omitempty"`
	Modified string `json:"modified,omitempty"`
}

// CustomField returns a custom field value by name.
func (s *DocumentSnapshot) CustomField(name string) string {
	return s.CustomFields[name]
}

// HasTag reports whether the document carries the named tag,
// case-insensitively.
func (s *DocumentSnapshot) HasTag(name string) bool {
	for _, t := range s.TagNames {
		if strings.EqualFold(t, name) {
			return true
		}
	}
	return false
}

// HasTagID reports whether the document carries the tag ID.
func (s *DocumentSnapshot) HasTagID(id int) bool {
	for _, t := range s.TagIDs {
		if t == id {
			return true
		}
	}
	return false
}

// DocumentPatch is the set of changes to apply to a document.
type DocumentPatch struct {
	Title           *string
	CorrespondentID *int
	DocumentTypeID  *int
	TagsAdd         []int
	TagsRemove      []int
	// CustomFields maps field ID to new value.
	CustomFields map[int]string
}

// IsEmpty reports whether the patch changes anything.
func (p *DocumentPatch) IsEmpty() bool {
	return p.Title == nil &&
		p.CorrespondentID == nil &&
		p.DocumentTypeID == nil &&
		len(p.TagsAdd) == 0 &&
		len(p.TagsRemove) == 0 &&
		len(p.CustomFields) == 0
}

// apiPayload converts the patch to the archive's PATCH body. Tag changes
// are expressed as the full resulting tag set, which requires the
// document's current tags.
func (p *DocumentPatch) apiPayload(currentTags []int) map[string]any {
	payload := map[string]any{}

	if p.Title != nil {
		payload["title"] = *p.Title
	}
	if p.CorrespondentID != nil {
		payload["correspondent"] = *p.CorrespondentID
	}
	if p.DocumentTypeID != nil {
		payload["document_type"] = *p.DocumentTypeID
	}

	if len(p.TagsAdd) > 0 || len(p.TagsRemove) > 0 {
		set := make(map[int]bool, len(currentTags)+len(p.TagsAdd))
		for _, t := range currentTags {
			set[t] = true
		}
		for _, t := range p.TagsAdd {
			set[t] = true
		}
		for _, t := range p.TagsRemove {
			delete(set, t)
		}
		tags := make([]int, 0, len(set))
		for t := range set {
			tags = append(tags, t)
		}
		sort.Ints(tags)
		payload["tags"] = tags
	}

	if len(p.CustomFields) > 0 {
		ids := make([]int, 0, len(p.CustomFields))
		for id := range p.CustomFields {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		fields := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			fields = append(fields, map[string]any{"field": id, "value": p.CustomFields[id]})
		}
		payload["custom_fields"] = fields
	}

	return payload
}
