package docdb

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func setupEngine(t *testing.T) *storageEngine {
	t.Helper()
	se, err := newStorageEngine(newMemStorage(), "books", NewCodec(DefaultRegistry()), CompressionSnappy, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("newStorageEngine: %v", err)
	}
	return se
}

func TestEngineInsertGet(t *testing.T) {
	se := setupEngine(t)
	ctx := context.Background()

	doc := Document{"title": Text("Alpha"), "rating": Number(5)}
	id, err := se.Insert(ctx, doc)
	ok(t, err)
	if id == uuid.Nil {
		t.Fatalf("no identifier assigned")
	}
	if gotID, _ := doc.ID(); gotID != id {
		t.Fatalf("identifier not written back into the document")
	}
	if doc.Created().IsZero() || !doc.Created().Equal(doc.Modified()) {
		t.Fatalf("timestamps not stamped: created=%v modified=%v", doc.Created(), doc.Modified())
	}

	back, err := se.Get(ctx, id)
	ok(t, err)
	if !back.Equal(doc) {
		t.Fatalf("stored document differs:\n in: %v\nout: %v", doc.ToMap(), back.ToMap())
	}
}

func TestEngineInsertKeepsCallerID(t *testing.T) {
	se := setupEngine(t)
	want := uuid.New()
	id, err := se.Insert(context.Background(), Document{"_id": Guid(want)})
	ok(t, err)
	if id != want {
		t.Fatalf("caller-supplied id replaced: %v != %v", id, want)
	}
}

func TestEngineGetMissing(t *testing.T) {
	se := setupEngine(t)
	_, err := se.Get(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("wanted ErrNotFound, got %v", err)
	}
}

func TestEngineGetMany(t *testing.T) {
	se := setupEngine(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		id, err := se.Insert(ctx, Document{"n": Number(float64(i))})
		ok(t, err)
		ids = append(ids, id)
	}

	docs, err := se.GetMany(ctx, append(ids, uuid.New()))
	ok(t, err)
	if len(docs) != 3 {
		t.Fatalf("got %d documents, wanted 3 (missing ids skipped)", len(docs))
	}
}

func TestEngineUpdate(t *testing.T) {
	se := setupEngine(t)
	ctx := context.Background()

	doc := Document{"title": Text("Alpha")}
	id, err := se.Insert(ctx, doc)
	ok(t, err)
	before := doc.Modified()

	doc["title"] = Text("Beta")
	n, err := se.Update(ctx, doc)
	ok(t, err)
	if n != 1 {
		t.Fatalf("affected %d", n)
	}
	if !doc.Modified().After(before) {
		t.Fatalf("modified did not advance: %v -> %v", before, doc.Modified())
	}

	back, err := se.Get(ctx, id)
	ok(t, err)
	if back["title"].TextValue() != "Beta" {
		t.Fatalf("update not persisted: %v", back["title"])
	}

	if _, err := se.Update(ctx, Document{"_id": Guid(uuid.New())}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update of missing document: %v", err)
	}
	if _, err := se.Update(ctx, Document{"title": Text("x")}); !errors.Is(err, ErrValidation) {
		t.Fatalf("update without id: %v", err)
	}
}

func TestEngineDelete(t *testing.T) {
	se := setupEngine(t)
	ctx := context.Background()

	id, err := se.Insert(ctx, Document{"x": Number(1)})
	ok(t, err)
	n, err := se.Delete(ctx, id)
	ok(t, err)
	if n != 1 {
		t.Fatalf("affected %d", n)
	}
	if _, err := se.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("document survived delete: %v", err)
	}
	if _, err := se.Delete(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestEngineTruncate(t *testing.T) {
	se := setupEngine(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := se.Insert(ctx, Document{"n": Number(float64(i))})
		ok(t, err)
	}
	ok(t, se.Truncate(ctx))

	n, err := se.Count()
	ok(t, err)
	if n != 0 {
		t.Fatalf("%d documents survived truncate", n)
	}

	// Collection store survives and accepts new writes.
	if _, err := se.Insert(ctx, Document{"n": Number(9)}); err != nil {
		t.Fatalf("insert after truncate: %v", err)
	}
}

func TestEngineForEach(t *testing.T) {
	se := setupEngine(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := se.Insert(ctx, Document{"n": Number(float64(i))})
		ok(t, err)
	}
	seen := 0
	err := se.ForEach(ctx, func(doc Document) error {
		if _, ok := doc.ID(); !ok {
			t.Fatalf("decoded document without id")
		}
		seen++
		return nil
	})
	ok(t, err)
	if seen != 4 {
		t.Fatalf("visited %d documents", seen)
	}
}

func TestEngineCanceledContext(t *testing.T) {
	se := setupEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := se.Insert(ctx, Document{"x": Number(1)}); !errors.Is(err, context.Canceled) {
		t.Fatalf("insert with canceled context: %v", err)
	}
	if _, err := se.Get(ctx, uuid.New()); !errors.Is(err, context.Canceled) {
		t.Fatalf("get with canceled context: %v", err)
	}
}
