package docdb

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Collection composes the schema model, the storage engine and the
// full-text index of one named collection. The two stores share one
// lifecycle: they open together, close together and are deleted together
// on drop.
type Collection struct {
	name   string
	db     *DB
	schema *Schema
	engine *storageEngine
	index  *invertedIndex
	log    *zap.SugaredLogger
	closed atomic.Bool
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Schema returns the live inferred schema.
func (c *Collection) Schema() *Schema { return c.schema }

func (c *Collection) guard() error {
	if c.closed.Load() {
		return fmt.Errorf("%w: collection %q", ErrClosed, c.name)
	}
	return nil
}

// Insert stores a new document and queues it for indexing. The schema is
// updated first; a type conflict aborts the insert with nothing written.
func (c *Collection) Insert(ctx context.Context, doc Document) (uuid.UUID, error) {
	if err := c.guard(); err != nil {
		return uuid.Nil, err
	}
	doc = doc.Clone()
	changed, err := c.schema.RegisterDocument(doc)
	if err != nil {
		return uuid.Nil, err
	}
	if changed {
		if err := c.db.saveSchema(c.name, c.schema); err != nil {
			return uuid.Nil, err
		}
	}
	id, err := c.engine.Insert(ctx, doc)
	if err != nil {
		return uuid.Nil, err
	}
	c.index.Add(doc)
	return id, nil
}

// InsertMap converts a raw JSON-decoded field map and inserts it.
func (c *Collection) InsertMap(ctx context.Context, fields map[string]any) (uuid.UUID, error) {
	doc, err := NewDocument(fields)
	if err != nil {
		return uuid.Nil, err
	}
	return c.Insert(ctx, doc)
}

// Get reads a document straight from the storage engine. Unlike search,
// this always sees the latest write.
func (c *Collection) Get(ctx context.Context, id uuid.UUID) (Document, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	return c.engine.Get(ctx, id)
}

// GetMany reads a batch of documents; missing identifiers are skipped and
// result order is not guaranteed to match the input.
func (c *Collection) GetMany(ctx context.Context, ids []uuid.UUID) ([]Document, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	return c.engine.GetMany(ctx, ids)
}

// Update replaces a whole document. If the incoming document carries a
// modification timestamp that differs from the stored one, the update is
// rejected as a conflict and nothing changes.
func (c *Collection) Update(ctx context.Context, doc Document) (int, error) {
	if err := c.guard(); err != nil {
		return 0, err
	}
	id, ok := doc.ID()
	if !ok {
		return 0, valErrf("update requires a document identifier")
	}
	stored, err := c.engine.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if given := doc.Modified(); !given.IsZero() && !given.Equal(stored.Modified()) {
		return 0, &TimestampConflictError{Stored: stored.Modified(), Given: given}
	}

	doc = doc.Clone()
	doc[CreatedField] = stored[CreatedField]
	doc[ModifiedField] = stored[ModifiedField]
	changed, err := c.schema.RegisterDocument(doc)
	if err != nil {
		return 0, err
	}
	if changed {
		if err := c.db.saveSchema(c.name, c.schema); err != nil {
			return 0, err
		}
	}
	n, err := c.engine.Update(ctx, doc)
	if err != nil {
		return 0, err
	}
	c.index.Add(doc)
	return n, nil
}

// ApplyPatch validates all operations up front, applies them to a working
// copy and stores the result. A failing operation leaves the stored
// document untouched.
func (c *Collection) ApplyPatch(ctx context.Context, id uuid.UUID, ops []PatchOperation) (int, error) {
	if err := c.guard(); err != nil {
		return 0, err
	}
	paths, err := validatePatch(ops)
	if err != nil {
		return 0, err
	}
	stored, err := c.engine.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	patched := stored.Clone()
	if err := applyPatch(patched, ops, paths); err != nil {
		return 0, err
	}
	changed, err := c.schema.RegisterDocument(patched)
	if err != nil {
		return 0, err
	}
	if changed {
		if err := c.db.saveSchema(c.name, c.schema); err != nil {
			return 0, err
		}
	}
	n, err := c.engine.Update(ctx, patched)
	if err != nil {
		return 0, err
	}
	c.index.Add(patched)
	return n, nil
}

// Delete removes a document from storage and queues its removal from the
// index.
func (c *Collection) Delete(ctx context.Context, id uuid.UUID) (int, error) {
	if err := c.guard(); err != nil {
		return 0, err
	}
	n, err := c.engine.Delete(ctx, id)
	if err != nil {
		return 0, err
	}
	c.index.Delete(id)
	return n, nil
}

// Search executes a query against the index reader snapshot and joins the
// surviving identifiers back to the storage engine. Writes made since the
// last refresh are not visible; call Refresh first if that matters.
func (c *Collection) Search(ctx context.Context, criteria SearchCriteria) (*SearchResult, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	var plan *searchPlan
	err := c.index.read(func(seg *segment) error {
		var err error
		plan, err = executeSearch(seg, c.index.an, criteria)
		return err
	})
	if err != nil {
		return nil, err
	}

	result := &SearchResult{
		Criteria:      criteria,
		TotalHitCount: plan.total,
		PageCount:     plan.pageCount,
		Facets:        plan.facets,
	}
	if len(plan.pageIDs) == 0 {
		return result, nil
	}

	docs, err := c.engine.GetMany(ctx, plan.pageIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]Document, len(docs))
	for _, doc := range docs {
		if id, ok := doc.ID(); ok {
			byID[id] = doc
		}
	}
	result.Documents = make([]Document, 0, len(plan.pageIDs))
	for _, id := range plan.pageIDs {
		doc, ok := byID[id]
		if !ok {
			continue // deleted between refresh and materialization
		}
		if criteria.Highlight {
			if frag := highlightFragment(doc, c.schema, plan.queryTerms); frag != "" {
				doc[HighlightField] = Text(frag)
			}
		}
		result.Documents = append(result.Documents, projectFields(doc, criteria.SelectedFields))
	}
	result.HitCount = len(result.Documents)
	return result, nil
}

// Count returns the number of matches for a query without materializing
// any documents.
func (c *Collection) Count(ctx context.Context, query string) (int, error) {
	if err := c.guard(); err != nil {
		return 0, err
	}
	var total int
	err := c.index.read(func(seg *segment) error {
		node, err := parseQuery(query)
		if err != nil {
			return err
		}
		total = len(node.eval(seg, c.index.an))
		return nil
	})
	return total, err
}

// Refresh makes all queued index writes visible to searches.
func (c *Collection) Refresh() error {
	if err := c.guard(); err != nil {
		return err
	}
	return c.index.Refresh()
}

// Commit flushes the index to its durable snapshot.
func (c *Collection) Commit() error {
	if err := c.guard(); err != nil {
		return err
	}
	return c.index.Commit()
}

// Reindex rebuilds the index from stored documents. This is the explicit
// trigger for re-analyzing documents after a tokenization change.
func (c *Collection) Reindex(ctx context.Context) error {
	if err := c.guard(); err != nil {
		return err
	}
	c.log.Infow("reindexing collection", "collection", c.name)
	if err := c.index.Truncate(); err != nil {
		return err
	}
	err := c.engine.ForEach(ctx, func(doc Document) error {
		c.index.Add(doc)
		return nil
	})
	if err != nil {
		return err
	}
	return c.index.Commit()
}

// Truncate removes every document and all index state, keeping the
// collection and its schema.
func (c *Collection) Truncate(ctx context.Context) error {
	if err := c.guard(); err != nil {
		return err
	}
	if err := c.engine.Truncate(ctx); err != nil {
		return err
	}
	return c.index.Truncate()
}

// drop tears the collection down; DB owns the registry bookkeeping.
func (c *Collection) drop(ctx context.Context) error {
	c.closed.Store(true)
	if err := c.index.Drop(); err != nil {
		return err
	}
	return c.engine.Drop(ctx)
}

// close releases the index resources, flushing pending commits.
func (c *Collection) close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.index.Close()
}
