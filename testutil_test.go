package docdb

import (
	"context"
	"testing"
	"time"
)

func testOptions() Options {
	return Options{
		InMemory:        true,
		IsTesting:       true,
		RefreshInterval: 10 * time.Millisecond,
		CommitInterval:  time.Hour, // commits driven explicitly in tests
	}
}

func setupDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open("", testOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func setupCollection(t *testing.T, name string) *Collection {
	t.Helper()
	c, err := setupDB(t).Collection(name)
	if err != nil {
		t.Fatalf("Collection(%q): %v", name, err)
	}
	return c
}

func mustInsert(t *testing.T, c *Collection, fields map[string]any) Document {
	t.Helper()
	id, err := c.InsertMap(context.Background(), fields)
	if err != nil {
		t.Fatalf("InsertMap: %v", err)
	}
	doc, err := c.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get after insert: %v", err)
	}
	return doc
}

func mustRefresh(t *testing.T, c *Collection) {
	t.Helper()
	if err := c.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
}

func ok(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
