package docdb

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Patch op names.
const (
	PatchAdd     = "add"
	PatchReplace = "replace"
	PatchRemove  = "remove"
)

// appendSentinel is the JSON-Pointer index meaning "append to the array".
const appendSentinel = "-"

// PatchOperation is one JSON-Pointer-style partial update. Paths have at
// most two segments: "/field" or "/field/<index>" where <index> is a
// non-negative integer or the append sentinel "-".
type PatchOperation struct {
	Op    string
	Path  string
	Value Value
}

type rawPatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// ParsePatch decodes a JSON array of patch operations.
func ParsePatch(data []byte) ([]PatchOperation, error) {
	var raw []rawPatchOp
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, valErrf("invalid patch JSON: %v", err)
	}
	ops := make([]PatchOperation, 0, len(raw))
	for i, r := range raw {
		v, err := FromAny(r.Value)
		if err != nil {
			return nil, valErrf("patch operation %d: %v", i, err)
		}
		ops = append(ops, PatchOperation{Op: r.Op, Path: r.Path, Value: v})
	}
	return ops, nil
}

type patchPath struct {
	field string
	index string // "" when the path has one segment
}

// validatePatch checks every operation before anything mutates. A failure
// here guarantees the document is untouched.
func validatePatch(ops []PatchOperation) ([]patchPath, error) {
	if len(ops) == 0 {
		return nil, valErrf("patch contains no operations")
	}
	paths := make([]patchPath, 0, len(ops))
	for _, op := range ops {
		switch op.Op {
		case PatchAdd, PatchReplace, PatchRemove:
		default:
			return nil, valErrf("unknown patch op %q", op.Op)
		}
		if !strings.HasPrefix(op.Path, "/") {
			return nil, valErrf("patch path %q must start with /", op.Path)
		}
		segs := strings.Split(op.Path[1:], "/")
		if len(segs) > 2 {
			return nil, valErrf("patch path %q exceeds maximum depth of 2", op.Path)
		}
		if segs[0] == "" {
			return nil, valErrf("whole-document patch is not allowed, use a full update instead")
		}
		if isReservedField(segs[0]) {
			return nil, valErrf("patch may not target reserved field %q", segs[0])
		}
		pp := patchPath{field: segs[0]}
		if len(segs) == 2 {
			idx := segs[1]
			if idx != appendSentinel {
				n, err := strconv.Atoi(idx)
				if err != nil || n < 0 {
					return nil, valErrf("patch path %q: index %q is not a non-negative integer or %q", op.Path, idx, appendSentinel)
				}
			}
			pp.index = idx
		}
		if op.Op != PatchRemove && op.Value.IsNull() {
			return nil, valErrf("patch op %q on %q requires a non-null value", op.Op, op.Path)
		}
		paths = append(paths, pp)
	}
	return paths, nil
}

// applyPatch applies validated operations in order to a working copy of
// the document. Callers pass a clone; on error the original is untouched.
func applyPatch(doc Document, ops []PatchOperation, paths []patchPath) error {
	for i, op := range ops {
		if err := applyPatchOp(doc, op, paths[i]); err != nil {
			return err
		}
	}
	return nil
}

func applyPatchOp(doc Document, op PatchOperation, pp patchPath) error {
	existing, exists := doc[pp.field]

	if pp.index != "" {
		// Index operations require the array to exist already.
		if !exists || existing.Kind() != KindArray {
			return valErrf("patch path /%s/%s: field is not an existing array", pp.field, pp.index)
		}
		return applyArrayOp(doc, op, pp, existing.ArrayValue())
	}

	switch op.Op {
	case PatchAdd:
		if exists && existing.Kind() == KindArray {
			// The historical asymmetry: an array-valued add replaces the
			// whole field, a scalar add is routed into the array.
			if op.Value.Kind() == KindArray {
				doc[pp.field] = op.Value
				return nil
			}
			return insertArrayElement(doc, pp.field, existing.ArrayValue(), len(existing.ArrayValue()), op.Value)
		}
		doc[pp.field] = op.Value
		return nil
	case PatchReplace:
		if !exists {
			return fmt.Errorf("%w: patch replace on missing field %q", ErrNotFound, pp.field)
		}
		if existing.Kind() == KindArray && op.Value.Kind() != KindArray {
			return valErrf("patch replace on array field %q requires an index or an array value", pp.field)
		}
		doc[pp.field] = op.Value
		return nil
	case PatchRemove:
		if !exists {
			return fmt.Errorf("%w: patch remove on missing field %q", ErrNotFound, pp.field)
		}
		delete(doc, pp.field)
		return nil
	}
	return valErrf("unknown patch op %q", op.Op)
}

func applyArrayOp(doc Document, op PatchOperation, pp patchPath, arr []Value) error {
	n := len(arr)
	idx := n
	if pp.index != appendSentinel {
		idx, _ = strconv.Atoi(pp.index)
	}

	switch op.Op {
	case PatchAdd:
		if idx > n {
			return valErrf("patch add at /%s/%s: index out of range (length %d)", pp.field, pp.index, n)
		}
		return insertArrayElement(doc, pp.field, arr, idx, op.Value)
	case PatchReplace:
		if idx >= n {
			return valErrf("patch replace at /%s/%s: index out of range (length %d)", pp.field, pp.index, n)
		}
		if err := checkElementKind(arr, op.Value, pp.field); err != nil {
			return err
		}
		out := make([]Value, n)
		copy(out, arr)
		out[idx] = op.Value
		doc[pp.field] = Array(out)
		return nil
	case PatchRemove:
		if idx >= n {
			return valErrf("patch remove at /%s/%s: index out of range (length %d)", pp.field, pp.index, n)
		}
		out := make([]Value, 0, n-1)
		out = append(out, arr[:idx]...)
		out = append(out, arr[idx+1:]...)
		doc[pp.field] = Array(out)
		return nil
	}
	return valErrf("unknown patch op %q", op.Op)
}

func insertArrayElement(doc Document, field string, arr []Value, idx int, v Value) error {
	if err := checkElementKind(arr, v, field); err != nil {
		return err
	}
	out := make([]Value, 0, len(arr)+1)
	out = append(out, arr[:idx]...)
	out = append(out, v)
	out = append(out, arr[idx:]...)
	doc[field] = Array(out)
	return nil
}

// checkElementKind keeps patched arrays homogeneous.
func checkElementKind(arr []Value, v Value, field string) error {
	if v.IsNull() {
		return nil
	}
	elKind := Array(arr).ElementKind()
	if elKind != KindNull && v.Kind() != elKind {
		return valErrf("patch value kind %v does not match %v elements of array field %q", v.Kind(), elKind, field)
	}
	return nil
}
