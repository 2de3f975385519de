package docdb

import (
	"fmt"
	"sort"
	"sync"
)

// DataType classifies a schema field. The enumeration is closed and
// mirrors Kind one-to-one.
type DataType uint8

const (
	TypeNull DataType = iota
	TypeGuid
	TypeDateTime
	TypeNumber
	TypeBoolean
	TypeText
	TypeArray
	TypeObject
)

func (t DataType) String() string { return Kind(t).String() }

func dataTypeOf(k Kind) DataType { return DataType(k) }

// FacetSettings marks a field as a facet dimension.
type FacetSettings struct {
	// MaxValues caps the number of facet values returned per search;
	// zero means the default of 10.
	MaxValues int
}

// Field describes one inferred schema field.
type Field struct {
	Name        string
	Type        DataType
	ElementType DataType // meaningful only when Type == TypeArray
	Tokenized   bool     // meaningful only for text and array-of-text fields
	Facet       *FacetSettings
}

// Schema is the per-collection field catalog. It is mutated concurrently
// by parallel inserts; registration is an atomic check-then-insert per
// field under one lock, so a racing writer never overwrites an existing
// entry.
type Schema struct {
	mu     sync.RWMutex
	fields map[string]*Field
	rev    uint64
}

func newSchema() *Schema {
	s := &Schema{fields: make(map[string]*Field)}
	s.fields[IDField] = &Field{Name: IDField, Type: TypeGuid}
	s.fields[CreatedField] = &Field{Name: CreatedField, Type: TypeDateTime}
	s.fields[ModifiedField] = &Field{Name: ModifiedField, Type: TypeDateTime}
	return s
}

// InferField classifies a value into a field descriptor. Null commits to
// nothing; arrays take their element type from the first non-null element;
// objects are typed Object without a sub-schema.
func InferField(name string, v Value) Field {
	f := Field{Name: name, Type: dataTypeOf(v.Kind())}
	switch v.Kind() {
	case KindText:
		f.Tokenized = true
	case KindArray:
		f.ElementType = dataTypeOf(v.ElementKind())
		if f.ElementType == TypeText {
			f.Tokenized = true
		}
	}
	return f
}

// mergeField reconciles an existing field with a freshly inferred one.
// A Null existing type adopts the inferred one; matching types are a
// no-op; anything else is a schema conflict. Once set, a type never
// regresses to Null.
func mergeField(existing *Field, inferred Field) error {
	if inferred.Type == TypeNull {
		return nil
	}
	if existing.Type == TypeNull {
		existing.Type = inferred.Type
		existing.ElementType = inferred.ElementType
		existing.Tokenized = inferred.Tokenized
		return nil
	}
	if existing.Type != inferred.Type {
		return &SchemaConflictError{Field: existing.Name, Existing: existing.Type, Incoming: inferred.Type}
	}
	if existing.Type == TypeArray && inferred.ElementType != TypeNull {
		if existing.ElementType == TypeNull {
			existing.ElementType = inferred.ElementType
			if inferred.ElementType == TypeText {
				existing.Tokenized = inferred.Tokenized
			}
		} else if existing.ElementType != inferred.ElementType {
			return &SchemaConflictError{Field: existing.Name, Existing: existing.ElementType, Incoming: inferred.ElementType}
		}
	}
	return nil
}

// RegisterDocument folds every field of doc into the schema. It reports
// whether the schema changed. On conflict the schema is left exactly as
// it was for the conflicting field.
func (s *Schema) RegisterDocument(doc Document) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for name, v := range doc {
		if isReservedField(name) {
			continue
		}
		ch, err := s.registerLocked(name, v)
		if err != nil {
			return changed, err
		}
		changed = changed || ch
	}
	if changed {
		s.rev++
	}
	return changed, nil
}

func (s *Schema) registerLocked(name string, v Value) (bool, error) {
	inferred := InferField(name, v)
	existing, ok := s.fields[name]
	if !ok {
		f := inferred
		s.fields[name] = &f
		return true, nil
	}
	before := *existing
	if err := mergeField(existing, inferred); err != nil {
		return false, err
	}
	return before != *existing, nil
}

// Field returns a copy of the named field descriptor.
func (s *Schema) Field(name string) (Field, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fields[name]
	if !ok {
		return Field{}, false
	}
	return *f, true
}

// Fields returns a name-sorted snapshot of all field descriptors.
func (s *Schema) Fields() []Field {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Field, 0, len(s.fields))
	for _, f := range s.fields {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered fields, reserved ones included.
func (s *Schema) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fields)
}

// Revision increases every time the schema changes. The analyzer selector
// uses it to invalidate its cache.
func (s *Schema) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rev
}

// SetTokenized flips the tokenization flag of an existing text or
// array-of-text field. Re-analysis applies to subsequently written
// documents; call Collection.Reindex to rebuild existing postings.
func (s *Schema) SetTokenized(name string, tokenized bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fields[name]
	if !ok {
		return fmt.Errorf("%w: schema field %q", ErrNotFound, name)
	}
	if f.Type != TypeText && !(f.Type == TypeArray && f.ElementType == TypeText) {
		return valErrf("field %q is %v, only text fields can be tokenized", name, f.Type)
	}
	if f.Tokenized != tokenized {
		f.Tokenized = tokenized
		s.rev++
	}
	return nil
}

// SetFacet attaches or removes facet settings on an existing field.
func (s *Schema) SetFacet(name string, facet *FacetSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fields[name]
	if !ok {
		return fmt.Errorf("%w: schema field %q", ErrNotFound, name)
	}
	f.Facet = facet
	s.rev++
	return nil
}

// replaceFields swaps in a persisted field set during load.
func (s *Schema) replaceFields(fields []Field) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range fields {
		ff := f
		s.fields[f.Name] = &ff
	}
	s.rev++
}
