package docdb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	dataFileName = "docdb.bolt"
	indexDirName = "index"

	systemBucket = "system"
	metaBucket   = "meta"

	// SystemCollection is the reserved name of the schema catalog.
	SystemCollection = "_system"
)

var compressionMetaKey = []byte("compression")

// DB is a registry of named collections backed by one data directory.
// Collections are created lazily on first access; creation is idempotent
// under concurrent first access.
type DB struct {
	dir   string
	opt   Options
	log   *zap.SugaredLogger
	stor  storage
	codec *Codec
	comp  Compression

	mu     sync.Mutex
	colls  map[string]*Collection
	closed bool
}

// Open opens (or creates) a database in dir. With Options.InMemory set,
// dir may be empty and nothing touches the filesystem.
func Open(dir string, opt Options) (*DB, error) {
	opt.fillDefaults()

	var stor storage
	var err error
	if opt.InMemory {
		stor = newMemStorage()
	} else {
		if dir == "" {
			return nil, valErrf("database directory is required")
		}
		if err := os.MkdirAll(dir, 0o777); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		stor, err = openBoltStorage(filepath.Join(dir, dataFileName), opt.IsTesting)
		if err != nil {
			return nil, fmt.Errorf("docdb: %w", err)
		}
	}

	db := &DB{
		dir:   dir,
		opt:   opt,
		log:   opt.Logger,
		stor:  stor,
		codec: NewCodec(opt.Registry),
		comp:  opt.Compression,
		colls: make(map[string]*Collection),
	}
	if err := db.checkCompressionStability(); err != nil {
		stor.Close()
		return nil, err
	}
	db.log.Debugw("database opened", "dir", dir, "compression", db.comp.String())
	return db, nil
}

// checkCompressionStability pins the compression strategy chosen at first
// startup. Reopening with a different strategy is refused; that requires
// a migration, not a silent switch.
func (db *DB) checkCompressionStability() error {
	return db.stor.Update(func(tx storageTx) error {
		b, err := tx.CreateBucket(metaBucket, "")
		if err != nil {
			return err
		}
		stored := b.Get(compressionMetaKey)
		if stored == nil {
			return b.Put(compressionMetaKey, []byte{byte(db.comp)})
		}
		if len(stored) != 1 || Compression(stored[0]) != db.comp {
			return fmt.Errorf("%w: database was created with compression %v, reopened with %v",
				ErrConflict, Compression(stored[0]), db.comp)
		}
		return nil
	})
}

func validateCollectionName(name string) error {
	if name == "" {
		return valErrf("collection name is required")
	}
	if name == SystemCollection || strings.HasPrefix(name, "_") {
		return valErrf("collection name %q is reserved", name)
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return valErrf("collection name %q contains invalid characters", name)
	}
	return nil
}

// Collection returns the named collection, creating it on first access.
func (db *DB) Collection(name string) (*Collection, error) {
	if err := validateCollectionName(name); err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, fmt.Errorf("%w: database", ErrClosed)
	}
	if c, ok := db.colls[name]; ok {
		return c, nil
	}
	c, err := db.openCollectionLocked(name)
	if err != nil {
		return nil, err
	}
	db.colls[name] = c
	return c, nil
}

func (db *DB) openCollectionLocked(name string) (*Collection, error) {
	schema := newSchema()
	persisted, existed, err := db.loadSchema(name)
	if err != nil {
		return nil, err
	}
	if existed {
		schema.replaceFields(persisted)
	}

	engine, err := newStorageEngine(db.stor, name, db.codec, db.comp, db.log)
	if err != nil {
		return nil, err
	}

	indexDir := ""
	if !db.opt.InMemory {
		indexDir = filepath.Join(db.dir, indexDirName, name)
	}
	index, needRebuild, err := openIndex(indexDir, name, schema, db.comp,
		db.opt.RefreshInterval, db.opt.CommitInterval, db.log)
	if err != nil {
		return nil, err
	}

	c := &Collection{
		name:   name,
		db:     db,
		schema: schema,
		engine: engine,
		index:  index,
		log:    db.log,
	}
	if !existed {
		if err := db.saveSchema(name, schema); err != nil {
			index.Close()
			return nil, err
		}
	}
	if needRebuild {
		if n, _ := engine.Count(); n > 0 {
			if err := c.Reindex(context.Background()); err != nil {
				index.Close()
				return nil, err
			}
		}
	}
	return c, nil
}

// ListCollections returns the names of all known collections, including
// ones not yet opened in this process.
func (db *DB) ListCollections() ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, fmt.Errorf("%w: database", ErrClosed)
	}
	names := make(map[string]bool)
	err := db.stor.View(func(tx storageTx) error {
		b := tx.Bucket(systemBucket, "")
		if b == nil {
			return nil
		}
		return b.ForEach(func(key, value []byte) error {
			names[string(key)] = true
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	for name := range db.colls {
		names[name] = true
	}
	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// DropCollection deletes a collection's documents, index and schema.
// It reports whether the collection existed.
func (db *DB) DropCollection(ctx context.Context, name string) (bool, error) {
	if err := validateCollectionName(name); err != nil {
		return false, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return false, fmt.Errorf("%w: database", ErrClosed)
	}
	c, open := db.colls[name]
	if !open {
		_, existed, err := db.loadSchema(name)
		if err != nil {
			return false, err
		}
		if !existed {
			return false, nil
		}
		c, err = db.openCollectionLocked(name)
		if err != nil {
			return false, err
		}
	}
	delete(db.colls, name)
	if err := c.drop(ctx); err != nil {
		return true, err
	}
	if err := db.deleteSchema(name); err != nil {
		return true, err
	}
	db.log.Infow("collection dropped", "collection", name)
	return true, nil
}

// Close closes every open collection (flushing pending index commits)
// and the underlying storage.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	var firstErr error
	for _, c := range db.colls {
		if err := c.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := db.stor.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// saveSchema persists a collection's schema into the reserved system
// store so it survives restart.
func (db *DB) saveSchema(name string, schema *Schema) error {
	data, err := db.codec.EncodeSchema(schema)
	if err != nil {
		return err
	}
	blob, err := sealBlob(db.comp, data)
	if err != nil {
		return err
	}
	return db.stor.Update(func(tx storageTx) error {
		b, err := tx.CreateBucket(systemBucket, "")
		if err != nil {
			return err
		}
		return b.Put([]byte(name), blob)
	})
}

func (db *DB) loadSchema(name string) ([]Field, bool, error) {
	var blob []byte
	err := db.stor.View(func(tx storageTx) error {
		b := tx.Bucket(systemBucket, "")
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(name)); v != nil {
			blob = make([]byte, len(v))
			copy(blob, v)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if blob == nil {
		return nil, false, nil
	}
	data, err := openBlob(db.comp, blob)
	if err != nil {
		return nil, false, err
	}
	fields, err := db.codec.DecodeSchemaFields(data)
	if err != nil {
		return nil, false, err
	}
	return fields, true, nil
}

func (db *DB) deleteSchema(name string) error {
	return db.stor.Update(func(tx storageTx) error {
		b := tx.Bucket(systemBucket, "")
		if b == nil {
			return nil
		}
		return b.Delete([]byte(name))
	})
}
