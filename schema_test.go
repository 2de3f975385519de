package docdb

import (
	"errors"
	"sync"
	"testing"
)

func TestInferField(t *testing.T) {
	tests := []struct {
		name      string
		value     Value
		wantType  DataType
		wantElem  DataType
		tokenized bool
	}{
		{"null", Null(), TypeNull, TypeNull, false},
		{"bool", Bool(true), TypeBoolean, TypeNull, false},
		{"number", Number(5), TypeNumber, TypeNull, false},
		{"text", Text("hello"), TypeText, TypeNull, true},
		{"guid", detectText("b7a7e8b2-57a8-4f2c-a0d3-1f6e3c3a9b42"), TypeGuid, TypeNull, false},
		{"datetime", detectText("2024-03-01T10:30:00Z"), TypeDateTime, TypeNull, false},
		{"textArray", Array([]Value{Text("a")}), TypeArray, TypeText, true},
		{"numArray", Array([]Value{Number(1)}), TypeArray, TypeNumber, false},
		{"emptyArray", Array(nil), TypeArray, TypeNull, false},
		{"object", Object(map[string]Value{"x": Number(1)}), TypeObject, TypeNull, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := InferField("f", tt.value)
			if f.Type != tt.wantType || f.ElementType != tt.wantElem || f.Tokenized != tt.tokenized {
				t.Fatalf("InferField(%s) = %+v", tt.name, f)
			}
		})
	}
}

func TestSchemaNullAdoptsLaterType(t *testing.T) {
	s := newSchema()
	_, err := s.RegisterDocument(Document{"x": Null()})
	ok(t, err)
	if f, _ := s.Field("x"); f.Type != TypeNull {
		t.Fatalf("null field typed %v", f.Type)
	}

	_, err = s.RegisterDocument(Document{"x": Number(1)})
	ok(t, err)
	if f, _ := s.Field("x"); f.Type != TypeNumber {
		t.Fatalf("field did not adopt Number, got %v", f.Type)
	}

	// A later null never regresses the type.
	_, err = s.RegisterDocument(Document{"x": Null()})
	ok(t, err)
	if f, _ := s.Field("x"); f.Type != TypeNumber {
		t.Fatalf("field regressed to %v", f.Type)
	}
}

func TestSchemaConflict(t *testing.T) {
	s := newSchema()
	_, err := s.RegisterDocument(Document{"rating": Number(5)})
	ok(t, err)

	_, err = s.RegisterDocument(Document{"rating": Text("five")})
	var conflict *SchemaConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("wanted SchemaConflictError, got %v", err)
	}
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("conflict error does not unwrap to ErrConflict")
	}
	if conflict.Existing != TypeNumber || conflict.Incoming != TypeText {
		t.Fatalf("conflict names wrong types: %+v", conflict)
	}

	// The schema must be untouched.
	if f, _ := s.Field("rating"); f.Type != TypeNumber {
		t.Fatalf("conflict mutated schema to %v", f.Type)
	}
}

func TestSchemaArrayElementConflict(t *testing.T) {
	s := newSchema()
	_, err := s.RegisterDocument(Document{"tags": Array([]Value{Text("a")})})
	ok(t, err)
	_, err = s.RegisterDocument(Document{"tags": Array([]Value{Number(1)})})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("element type conflict not detected: %v", err)
	}
}

func TestSchemaConcurrentRegistration(t *testing.T) {
	s := newSchema()
	const workers = 32
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.RegisterDocument(Document{"shared": Text("v"), "mine": Number(float64(i))})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
	}
	f, okk := s.Field("shared")
	if !okk || f.Type != TypeText {
		t.Fatalf("shared field lost or mistyped: %+v (found=%v)", f, okk)
	}
	count := 0
	for _, f := range s.Fields() {
		if f.Name == "shared" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("shared field registered %d times", count)
	}
}

func TestSchemaSetTokenized(t *testing.T) {
	s := newSchema()
	_, err := s.RegisterDocument(Document{"sku": Text("AB-123"), "n": Number(1)})
	ok(t, err)

	rev := s.Revision()
	ok(t, s.SetTokenized("sku", false))
	if s.Revision() == rev {
		t.Fatalf("revision did not move on tokenization change")
	}
	if f, _ := s.Field("sku"); f.Tokenized {
		t.Fatalf("tokenized flag not cleared")
	}
	if err := s.SetTokenized("n", true); err == nil {
		t.Fatalf("tokenized a number field")
	}
	if err := s.SetTokenized("missing", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("wanted ErrNotFound, got %v", err)
	}
}

func TestSchemaReservedFieldsPresent(t *testing.T) {
	s := newSchema()
	for name, typ := range map[string]DataType{
		IDField: TypeGuid, CreatedField: TypeDateTime, ModifiedField: TypeDateTime,
	} {
		f, okk := s.Field(name)
		if !okk || f.Type != typ {
			t.Fatalf("%s: %+v (found=%v)", name, f, okk)
		}
	}
}
