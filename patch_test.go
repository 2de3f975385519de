package docdb

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func patchDoc(t *testing.T) (*Collection, Document) {
	t.Helper()
	c := setupCollection(t, "books")
	doc := mustInsert(t, c, map[string]any{
		"title":  "Alpha",
		"rating": 5.0,
		"tags":   []any{"scifi", "hugo"},
	})
	return c, doc
}

func applyOps(t *testing.T, c *Collection, doc Document, ops ...PatchOperation) Document {
	t.Helper()
	id, _ := doc.ID()
	if _, err := c.ApplyPatch(context.Background(), id, ops); err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	out, err := c.Get(context.Background(), id)
	ok(t, err)
	return out
}

func TestParsePatch(t *testing.T) {
	ops, err := ParsePatch([]byte(`[
		{"op":"replace","path":"/rating","value":9},
		{"op":"add","path":"/tags/-","value":"nebula"},
		{"op":"remove","path":"/title"}
	]`))
	ok(t, err)
	if len(ops) != 3 {
		t.Fatalf("parsed %d ops", len(ops))
	}
	if ops[0].Value.Kind() != KindNumber || ops[0].Value.NumberValue() != 9 {
		t.Fatalf("value parsed as %v", ops[0].Value)
	}
	if ops[2].Value.Kind() != KindNull {
		t.Fatalf("remove op carries value %v", ops[2].Value)
	}

	if _, err := ParsePatch([]byte(`{"op":"add"}`)); !errors.Is(err, ErrValidation) {
		t.Fatalf("non-array patch accepted: %v", err)
	}
}

func TestPatchValidation(t *testing.T) {
	tests := []struct {
		name string
		op   PatchOperation
		want string
	}{
		{"unknownOp", PatchOperation{Op: "move", Path: "/a", Value: Text("x")}, "unknown patch op"},
		{"noSlash", PatchOperation{Op: "add", Path: "a", Value: Text("x")}, "must start with /"},
		{"tooDeep", PatchOperation{Op: "add", Path: "/a/0/b", Value: Text("x")}, "maximum depth"},
		{"wholeDoc", PatchOperation{Op: "add", Path: "/", Value: Text("x")}, "whole-document"},
		{"reservedID", PatchOperation{Op: "replace", Path: "/_id", Value: Text("x")}, "reserved field"},
		{"reservedTS", PatchOperation{Op: "remove", Path: "/_modifiedTimestamp"}, "reserved field"},
		{"badIndex", PatchOperation{Op: "add", Path: "/tags/x", Value: Text("a")}, "non-negative integer"},
		{"negIndex", PatchOperation{Op: "add", Path: "/tags/-1", Value: Text("a")}, "non-negative integer"},
		{"nullValue", PatchOperation{Op: "replace", Path: "/a", Value: Null()}, "non-null value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validatePatch([]PatchOperation{tt.op})
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("wanted validation error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}

	if _, err := validatePatch(nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty patch accepted")
	}
}

func TestPatchReplaceScalar(t *testing.T) {
	c, doc := patchDoc(t)
	out := applyOps(t, c, doc, PatchOperation{Op: PatchReplace, Path: "/rating", Value: Number(9)})
	if out["rating"].NumberValue() != 9 {
		t.Fatalf("rating = %v", out["rating"])
	}
	if !out.Modified().After(doc.Modified()) {
		t.Fatalf("modified timestamp did not advance")
	}

	// Replaying the same replace converges on the same value.
	again := applyOps(t, c, out, PatchOperation{Op: PatchReplace, Path: "/rating", Value: Number(9)})
	if again["rating"].NumberValue() != 9 {
		t.Fatalf("replace is not idempotent: %v", again["rating"])
	}
}

func TestPatchAddNewField(t *testing.T) {
	c, doc := patchDoc(t)
	out := applyOps(t, c, doc, PatchOperation{Op: PatchAdd, Path: "/subtitle", Value: Text("a novel")})
	if out["subtitle"].TextValue() != "a novel" {
		t.Fatalf("subtitle = %v", out["subtitle"])
	}
	if f, okk := c.Schema().Field("subtitle"); !okk || f.Type != TypeText {
		t.Fatalf("patched field not registered in schema: %+v", f)
	}
}

func TestPatchRemoveField(t *testing.T) {
	c, doc := patchDoc(t)
	out := applyOps(t, c, doc, PatchOperation{Op: PatchRemove, Path: "/title"})
	if _, exists := out["title"]; exists {
		t.Fatalf("title still present after remove")
	}

	id, _ := doc.ID()
	_, err := c.ApplyPatch(context.Background(), id, []PatchOperation{{Op: PatchRemove, Path: "/title"}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("remove of missing field must be a not-found error, got %v", err)
	}
}

func TestPatchReplaceMissingField(t *testing.T) {
	c, doc := patchDoc(t)
	id, _ := doc.ID()
	_, err := c.ApplyPatch(context.Background(), id, []PatchOperation{
		{Op: PatchReplace, Path: "/publisher", Value: Text("Ace")},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("replace of missing field must be a not-found error, got %v", err)
	}
	if errors.Is(err, ErrValidation) {
		t.Fatalf("missing-field replace misclassified as validation: %v", err)
	}
}

func TestPatchArrayAppend(t *testing.T) {
	c, doc := patchDoc(t)
	out := applyOps(t, c, doc, PatchOperation{Op: PatchAdd, Path: "/tags/-", Value: Text("nebula")})
	arr := out["tags"].ArrayValue()
	if len(arr) != 3 || arr[2].TextValue() != "nebula" {
		t.Fatalf("tags after append: %v", out["tags"])
	}
}

func TestPatchArrayInsertReplaceRemove(t *testing.T) {
	c, doc := patchDoc(t)

	out := applyOps(t, c, doc, PatchOperation{Op: PatchAdd, Path: "/tags/0", Value: Text("classic")})
	arr := out["tags"].ArrayValue()
	if arr[0].TextValue() != "classic" || len(arr) != 3 {
		t.Fatalf("insert at 0: %v", out["tags"])
	}

	out = applyOps(t, c, out, PatchOperation{Op: PatchReplace, Path: "/tags/1", Value: Text("fantasy")})
	if out["tags"].ArrayValue()[1].TextValue() != "fantasy" {
		t.Fatalf("replace at 1: %v", out["tags"])
	}

	out = applyOps(t, c, out, PatchOperation{Op: PatchRemove, Path: "/tags/0"})
	arr = out["tags"].ArrayValue()
	if len(arr) != 2 || arr[0].TextValue() != "fantasy" {
		t.Fatalf("remove at 0: %v", out["tags"])
	}
}

func TestPatchArrayIndexOutOfRange(t *testing.T) {
	c, doc := patchDoc(t)
	id, _ := doc.ID()
	for _, op := range []PatchOperation{
		{Op: PatchAdd, Path: "/tags/9", Value: Text("x")},
		{Op: PatchReplace, Path: "/tags/2", Value: Text("x")},
		{Op: PatchRemove, Path: "/tags/5"},
	} {
		if _, err := c.ApplyPatch(context.Background(), id, []PatchOperation{op}); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s %s: %v", op.Op, op.Path, err)
		}
	}
}

func TestPatchIndexIntoNonArray(t *testing.T) {
	c, doc := patchDoc(t)
	id, _ := doc.ID()
	_, err := c.ApplyPatch(context.Background(), id, []PatchOperation{
		{Op: PatchAdd, Path: "/title/0", Value: Text("x")},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("index into scalar field: %v", err)
	}
}

// add on an existing array field routes scalars into the array but an
// array value replaces the field wholesale.
func TestPatchAddArrayRouting(t *testing.T) {
	c, doc := patchDoc(t)

	out := applyOps(t, c, doc, PatchOperation{Op: PatchAdd, Path: "/tags", Value: Text("nebula")})
	if len(out["tags"].ArrayValue()) != 3 {
		t.Fatalf("scalar add did not append: %v", out["tags"])
	}

	out = applyOps(t, c, out, PatchOperation{
		Op: PatchAdd, Path: "/tags", Value: Array([]Value{Text("reset")}),
	})
	arr := out["tags"].ArrayValue()
	if len(arr) != 1 || arr[0].TextValue() != "reset" {
		t.Fatalf("array add did not replace the field: %v", out["tags"])
	}
}

func TestPatchReplaceArrayWithoutIndex(t *testing.T) {
	c, doc := patchDoc(t)
	id, _ := doc.ID()
	_, err := c.ApplyPatch(context.Background(), id, []PatchOperation{
		{Op: PatchReplace, Path: "/tags", Value: Text("just-one")},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("scalar replace on array field: %v", err)
	}

	out := applyOps(t, c, doc, PatchOperation{
		Op: PatchReplace, Path: "/tags", Value: Array([]Value{Text("a"), Text("b")}),
	})
	if len(out["tags"].ArrayValue()) != 2 {
		t.Fatalf("array replace: %v", out["tags"])
	}
}

func TestPatchArrayElementKind(t *testing.T) {
	c, doc := patchDoc(t)
	id, _ := doc.ID()
	_, err := c.ApplyPatch(context.Background(), id, []PatchOperation{
		{Op: PatchAdd, Path: "/tags/-", Value: Number(7)},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("heterogeneous array element accepted: %v", err)
	}
}

func TestPatchFailureLeavesDocumentUntouched(t *testing.T) {
	c, doc := patchDoc(t)
	id, _ := doc.ID()

	// Second op fails; the successful first op must not be visible.
	_, err := c.ApplyPatch(context.Background(), id, []PatchOperation{
		{Op: PatchReplace, Path: "/rating", Value: Number(1)},
		{Op: PatchRemove, Path: "/publisher"},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("wanted not-found error, got %v", err)
	}
	stored, err := c.Get(context.Background(), id)
	ok(t, err)
	if stored["rating"].NumberValue() != 5 {
		t.Fatalf("failed patch mutated the document: rating = %v", stored["rating"])
	}
	if !stored.Modified().Equal(doc.Modified()) {
		t.Fatalf("failed patch advanced the timestamp")
	}
}
