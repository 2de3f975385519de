package docdb

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Reserved metadata field names. The full-text aggregate field exists only
// inside the index; it is never stored and never user-settable.
const (
	IDField       = "_id"
	CreatedField  = "_createdTimestamp"
	ModifiedField = "_modifiedTimestamp"
	allField      = "_full_text_"

	// HighlightField carries the generated match fragment on search results.
	HighlightField = "_highlight"
)

func isReservedField(name string) bool {
	switch name {
	case IDField, CreatedField, ModifiedField, allField:
		return true
	}
	return false
}

// Document is a string-keyed map of tagged values. Field order is irrelevant.
type Document map[string]Value

// NewDocument builds a Document from decoded-JSON field values,
// promoting UUID-looking and date-time-looking strings.
func NewDocument(fields map[string]any) (Document, error) {
	doc := make(Document, len(fields))
	for name, raw := range fields {
		v, err := FromAny(raw)
		if err != nil {
			return nil, valErrf("field %q: %v", name, err)
		}
		doc[name] = v
	}
	return doc, nil
}

// ParseDocument decodes a JSON object into a Document.
func ParseDocument(data []byte) (Document, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, valErrf("invalid JSON document: %v", err)
	}
	return NewDocument(fields)
}

// ID returns the document identifier, or false if not yet assigned.
func (doc Document) ID() (uuid.UUID, bool) {
	v, ok := doc[IDField]
	if !ok || v.Kind() != KindGuid {
		return uuid.Nil, false
	}
	return v.GuidValue(), true
}

func (doc Document) setID(id uuid.UUID) {
	doc[IDField] = Guid(id)
}

// Created returns the creation timestamp, or the zero time if unset.
func (doc Document) Created() time.Time {
	if v, ok := doc[CreatedField]; ok && v.Kind() == KindDateTime {
		return v.TimeValue()
	}
	return time.Time{}
}

// Modified returns the modification timestamp, or the zero time if unset.
func (doc Document) Modified() time.Time {
	if v, ok := doc[ModifiedField]; ok && v.Kind() == KindDateTime {
		return v.TimeValue()
	}
	return time.Time{}
}

// Clone deep-copies the document.
func (doc Document) Clone() Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v.Clone()
	}
	return out
}

// Equal performs deep equality over all fields.
func (doc Document) Equal(other Document) bool {
	if len(doc) != len(other) {
		return false
	}
	for k, v := range doc {
		ov, ok := other[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// ToMap converts the document to plain JSON-ready Go values.
func (doc Document) ToMap() map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v.ToAny()
	}
	return out
}

// MarshalJSON renders the document as a JSON object.
func (doc Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(doc.ToMap())
}
