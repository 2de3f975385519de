package docdb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const docsBucket = "docs"

// storageEngine is the durable keyed document store for one collection.
// It owns the codec and the compression strategy and maps to one nested
// bucket, so truncate/drop are collection-scoped.
type storageEngine struct {
	stor  storage
	coll  string
	codec *Codec
	comp  Compression
	log   *zap.SugaredLogger
}

func newStorageEngine(stor storage, coll string, codec *Codec, comp Compression, log *zap.SugaredLogger) (*storageEngine, error) {
	err := stor.Update(func(tx storageTx) error {
		_, err := tx.CreateBucket(docsBucket, coll)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create collection store %q: %w", coll, err)
	}
	return &storageEngine{stor: stor, coll: coll, codec: codec, comp: comp, log: log}, nil
}

func (se *storageEngine) bucket(tx storageTx) (storageBucket, error) {
	b := tx.Bucket(docsBucket, se.coll)
	if b == nil {
		return nil, fmt.Errorf("collection store %q missing", se.coll)
	}
	return b, nil
}

func (se *storageEngine) encode(doc Document) ([]byte, error) {
	data, err := se.codec.EncodeDocument(doc)
	if err != nil {
		return nil, err
	}
	return sealBlob(se.comp, data)
}

func (se *storageEngine) decode(blob []byte) (Document, error) {
	data, err := openBlob(se.comp, blob)
	if err != nil {
		return nil, err
	}
	return se.codec.DecodeDocument(data)
}

// Insert stores a new document, assigning an identifier if absent and
// stamping creation and modification timestamps.
func (se *storageEngine) Insert(ctx context.Context, doc Document) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	id, ok := doc.ID()
	if !ok {
		id = uuid.New()
		doc.setID(id)
	}
	now := DateTime(time.Now())
	doc[CreatedField] = now
	doc[ModifiedField] = now

	blob, err := se.encode(doc)
	if err != nil {
		return uuid.Nil, err
	}
	err = se.stor.Update(func(tx storageTx) error {
		b, err := se.bucket(tx)
		if err != nil {
			return err
		}
		return b.Put(id[:], blob)
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert into %q: %w", se.coll, err)
	}
	return id, nil
}

// Get retrieves one document. Returns ErrNotFound if absent.
func (se *storageEngine) Get(ctx context.Context, id uuid.UUID) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var blob []byte
	err := se.stor.View(func(tx storageTx) error {
		b, err := se.bucket(tx)
		if err != nil {
			return err
		}
		if v := b.Get(id[:]); v != nil {
			blob = make([]byte, len(v))
			copy(blob, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get %v from %q: %w", id, se.coll, err)
	}
	if blob == nil {
		return nil, fmt.Errorf("%w: document %v in %q", ErrNotFound, id, se.coll)
	}
	return se.decode(blob)
}

// GetMany retrieves a batch of documents. Missing identifiers are
// skipped; result order is not guaranteed to match the input.
func (se *storageEngine) GetMany(ctx context.Context, ids []uuid.UUID) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	blobs := make([][]byte, 0, len(ids))
	err := se.stor.View(func(tx storageTx) error {
		b, err := se.bucket(tx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if v := b.Get(id[:]); v != nil {
				blob := make([]byte, len(v))
				copy(blob, v)
				blobs = append(blobs, blob)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get many from %q: %w", se.coll, err)
	}
	docs := make([]Document, 0, len(blobs))
	for _, blob := range blobs {
		doc, err := se.decode(blob)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Update overwrites an existing document, stamping only the modification
// timestamp. The timestamp never goes backwards for a given document.
func (se *storageEngine) Update(ctx context.Context, doc Document) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id, ok := doc.ID()
	if !ok {
		return 0, valErrf("update requires a document identifier")
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	if prev := doc.Modified(); !now.After(prev) {
		now = prev.Add(time.Millisecond)
	}
	doc[ModifiedField] = DateTime(now)

	blob, err := se.encode(doc)
	if err != nil {
		return 0, err
	}
	found := false
	err = se.stor.Update(func(tx storageTx) error {
		b, err := se.bucket(tx)
		if err != nil {
			return err
		}
		if b.Get(id[:]) == nil {
			return nil
		}
		found = true
		return b.Put(id[:], blob)
	})
	if err != nil {
		return 0, fmt.Errorf("update %v in %q: %w", id, se.coll, err)
	}
	if !found {
		return 0, fmt.Errorf("%w: document %v in %q", ErrNotFound, id, se.coll)
	}
	return 1, nil
}

// Delete removes one document, reporting the number of rows affected.
func (se *storageEngine) Delete(ctx context.Context, id uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	found := false
	err := se.stor.Update(func(tx storageTx) error {
		b, err := se.bucket(tx)
		if err != nil {
			return err
		}
		if b.Get(id[:]) == nil {
			return nil
		}
		found = true
		return b.Delete(id[:])
	})
	if err != nil {
		return 0, fmt.Errorf("delete %v from %q: %w", id, se.coll, err)
	}
	if !found {
		return 0, fmt.Errorf("%w: document %v in %q", ErrNotFound, id, se.coll)
	}
	return 1, nil
}

// ForEach decodes every stored document. Used by reindexing.
func (se *storageEngine) ForEach(ctx context.Context, fn func(Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return se.stor.View(func(tx storageTx) error {
		b, err := se.bucket(tx)
		if err != nil {
			return err
		}
		return b.ForEach(func(key, value []byte) error {
			doc, err := se.decode(value)
			if err != nil {
				return err
			}
			return fn(doc)
		})
	})
}

// Count returns the number of stored documents.
func (se *storageEngine) Count() (int, error) {
	var n int
	err := se.stor.View(func(tx storageTx) error {
		b, err := se.bucket(tx)
		if err != nil {
			return err
		}
		n = b.KeyCount()
		return nil
	})
	return n, err
}

// Truncate removes all documents, keeping the collection.
func (se *storageEngine) Truncate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	se.log.Debugw("truncating collection store", "collection", se.coll)
	return se.stor.Update(func(tx storageTx) error {
		if err := tx.DeleteBucket(docsBucket, se.coll); err != nil && err != ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(docsBucket, se.coll)
		return err
	})
}

// Drop removes the collection's store entirely.
func (se *storageEngine) Drop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	se.log.Debugw("dropping collection store", "collection", se.coll)
	err := se.stor.Update(func(tx storageTx) error {
		return tx.DeleteBucket(docsBucket, se.coll)
	})
	if err == ErrBucketNotFound {
		return nil
	}
	return err
}
