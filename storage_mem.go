package docdb

import (
	"fmt"
	"sort"
	"sync"
)

const memBucketSep = "\x00"

// memStorage is a transient in-memory storage implementation intended for
// tests and throwaway databases. A single mutex serializes transactions;
// writers mutate a clone that replaces the live map on commit.
type memStorage struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte
	closed  bool
}

func newMemStorage() storage {
	return &memStorage{buckets: make(map[string]map[string][]byte)}
}

func (s *memStorage) Update(fn func(tx storageTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("storage closed")
	}
	snap := s.clone()
	tx := &memTx{buckets: snap, writable: true}
	if err := fn(tx); err != nil {
		return err
	}
	s.buckets = snap
	return nil
}

func (s *memStorage) View(fn func(tx storageTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("storage closed")
	}
	return fn(&memTx{buckets: s.buckets})
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memStorage) clone() map[string]map[string][]byte {
	snap := make(map[string]map[string][]byte, len(s.buckets))
	for name, b := range s.buckets {
		nb := make(map[string][]byte, len(b))
		for k, v := range b {
			nb[k] = v
		}
		snap[name] = nb
	}
	return snap
}

type memTx struct {
	buckets  map[string]map[string][]byte
	writable bool
}

func memBucketKey(name, sub string) string {
	if sub == "" {
		return name
	}
	return name + memBucketSep + sub
}

func (tx *memTx) Bucket(name, sub string) storageBucket {
	b, ok := tx.buckets[memBucketKey(name, sub)]
	if !ok {
		return nil
	}
	return &memBucket{tx: tx, data: b}
}

func (tx *memTx) CreateBucket(name, sub string) (storageBucket, error) {
	if !tx.writable {
		return nil, fmt.Errorf("read-only transaction")
	}
	if sub != "" {
		if _, ok := tx.buckets[name]; !ok {
			tx.buckets[name] = make(map[string][]byte)
		}
	}
	key := memBucketKey(name, sub)
	b, ok := tx.buckets[key]
	if !ok {
		b = make(map[string][]byte)
		tx.buckets[key] = b
	}
	return &memBucket{tx: tx, data: b}, nil
}

func (tx *memTx) DeleteBucket(name, sub string) error {
	if !tx.writable {
		return fmt.Errorf("read-only transaction")
	}
	if sub == "" {
		return ErrBucketNotFound
	}
	key := memBucketKey(name, sub)
	if _, ok := tx.buckets[key]; !ok {
		return ErrBucketNotFound
	}
	delete(tx.buckets, key)
	return nil
}

type memBucket struct {
	tx   *memTx
	data map[string][]byte
}

func (b *memBucket) Get(key []byte) []byte {
	return b.data[string(key)]
}

func (b *memBucket) Put(key, value []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("read-only transaction")
	}
	v := make([]byte, len(value))
	copy(v, value)
	b.data[string(key)] = v
	return nil
}

func (b *memBucket) Delete(key []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("read-only transaction")
	}
	delete(b.data, string(key))
	return nil
}

func (b *memBucket) ForEach(fn func(key, value []byte) error) error {
	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), b.data[k]); err != nil {
			return err
		}
	}
	return nil
}

func (b *memBucket) KeyCount() int { return len(b.data) }
