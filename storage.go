package docdb

import "errors"

// ErrBucketNotFound is returned by storageTx.DeleteBucket when the bucket doesn't exist.
var ErrBucketNotFound = errors.New("bucket not found")

// storage represents a key-value storage backend (Bolt, in-memory, ...).
// Storage-layer failures propagate; they are never swallowed into an
// empty result.
type storage interface {
	// Update runs fn in a writable transaction and commits on success.
	Update(fn func(tx storageTx) error) error

	// View runs fn in a read-only transaction.
	View(fn func(tx storageTx) error) error

	// Close closes the storage.
	Close() error
}

// storageTx represents a storage transaction.
type storageTx interface {
	// Bucket returns a bucket. Use sub="" for a root bucket, non-empty for
	// a nested bucket. Returns nil if the bucket doesn't exist.
	Bucket(name, sub string) storageBucket

	// CreateBucket creates a bucket if it doesn't exist.
	// For sub != "", it must also ensure the root bucket exists.
	CreateBucket(name, sub string) (storageBucket, error)

	// DeleteBucket deletes a nested bucket (sub must be non-empty).
	DeleteBucket(name, sub string) error
}

// storageBucket represents a bucket (key-value collection).
type storageBucket interface {
	// Get retrieves a value by key. Returns nil if not found.
	Get(key []byte) []byte

	// Put stores a key-value pair.
	Put(key, value []byte) error

	// Delete removes a key.
	Delete(key []byte) error

	// ForEach visits every key-value pair. The slices are only valid for
	// the duration of the callback.
	ForEach(fn func(key, value []byte) error) error

	// KeyCount returns the number of keys in the bucket (best effort).
	KeyCount() int
}
