package docdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const segmentFileName = "segment.idx"

// segment is the searchable state of one collection's inverted index.
// Readers access it under the index read lock; refresh mutates it under
// the write lock, so a snapshot is consistent for the duration of a query.
type segment struct {
	ids       []uuid.UUID // ordinal → id; uuid.Nil marks a tombstone
	ords      map[uuid.UUID]uint32
	all       postingList                     // live ordinals
	terms     map[string]postingList          // termKey(field, token) → postings
	present   map[string]postingList          // field → ordinals with a non-null value
	numbers   map[string]map[uint32][]float64 // numeric and datetime fields, all elements
	values    map[string]map[uint32][]string
	docTerms  map[uint32][]string
	docFields map[uint32][]string
}

func newSegment() *segment {
	return &segment{
		ords:      make(map[uuid.UUID]uint32),
		terms:     make(map[string]postingList),
		present:   make(map[string]postingList),
		numbers:   make(map[string]map[uint32][]float64),
		values:    make(map[string]map[uint32][]string),
		docTerms:  make(map[uint32][]string),
		docFields: make(map[uint32][]string),
	}
}

func (seg *segment) count() int { return len(seg.all) }

// docProjection accumulates the indexable terms of one document.
type docProjection struct {
	terms   map[string]struct{}
	fields  map[string]struct{}
	numbers map[string][]float64
	values  map[string][]string
}

func newDocProjection() *docProjection {
	return &docProjection{
		terms:   make(map[string]struct{}),
		fields:  make(map[string]struct{}),
		numbers: make(map[string][]float64),
		values:  make(map[string][]string),
	}
}

func (p *docProjection) addTerm(field, token string) {
	p.terms[termKey(field, token)] = struct{}{}
}

// project turns a document into index terms using the analyzers selected
// from the current schema. Tokenizable text is folded into the synthetic
// full-text aggregate field as well.
func project(doc Document, an *analyzerSelector) *docProjection {
	p := newDocProjection()
	for field, v := range doc {
		if field == allField {
			continue
		}
		p.projectValue(field, v, an)
	}
	return p
}

func (p *docProjection) projectValue(field string, v Value, an *analyzerSelector) {
	if v.IsNull() {
		return
	}
	p.fields[field] = struct{}{}
	switch v.Kind() {
	case KindBool, KindGuid:
		s := v.String()
		p.addTerm(field, s)
		p.values[field] = append(p.values[field], s)
	case KindNumber:
		p.numbers[field] = append(p.numbers[field], v.NumberValue())
		p.values[field] = append(p.values[field], v.String())
	case KindDateTime:
		p.numbers[field] = append(p.numbers[field], float64(v.TimeValue().UnixMilli()))
		p.values[field] = append(p.values[field], v.String())
	case KindText:
		s := v.TextValue()
		a := an.analyzerFor(field)
		for _, tok := range a.Analyze(s) {
			p.addTerm(field, tok)
		}
		if _, tokenized := a.(textAnalyzer); tokenized {
			for _, tok := range fulltext.Analyze(s) {
				p.addTerm(allField, tok)
			}
		}
		p.values[field] = append(p.values[field], s)
	case KindArray:
		for _, el := range v.ArrayValue() {
			p.projectValue(field, el, an)
		}
	case KindObject:
		for _, tok := range fulltext.Analyze(v.String()) {
			p.addTerm(allField, tok)
		}
	}
}

// addDoc indexes or reindexes one document.
func (seg *segment) addDoc(id uuid.UUID, doc Document, an *analyzerSelector) {
	if _, ok := seg.ords[id]; ok {
		seg.removeID(id)
	}
	ord := uint32(len(seg.ids))
	seg.ids = append(seg.ids, id)
	seg.ords[id] = ord
	seg.all = seg.all.insert(ord)

	p := project(doc, an)
	for key := range p.terms {
		seg.terms[key] = seg.terms[key].insert(ord)
		seg.docTerms[ord] = append(seg.docTerms[ord], key)
	}
	for field := range p.fields {
		seg.present[field] = seg.present[field].insert(ord)
		seg.docFields[ord] = append(seg.docFields[ord], field)
	}
	for field, ns := range p.numbers {
		m := seg.numbers[field]
		if m == nil {
			m = make(map[uint32][]float64)
			seg.numbers[field] = m
		}
		m[ord] = ns
	}
	for field, vals := range p.values {
		m := seg.values[field]
		if m == nil {
			m = make(map[uint32][]string)
			seg.values[field] = m
		}
		m[ord] = vals
	}
}

func (seg *segment) removeID(id uuid.UUID) {
	ord, ok := seg.ords[id]
	if !ok {
		return
	}
	for _, key := range seg.docTerms[ord] {
		if pl := seg.terms[key].remove(ord); len(pl) == 0 {
			delete(seg.terms, key)
		} else {
			seg.terms[key] = pl
		}
	}
	for _, field := range seg.docFields[ord] {
		if pl := seg.present[field].remove(ord); len(pl) == 0 {
			delete(seg.present, field)
		} else {
			seg.present[field] = pl
		}
		if m := seg.numbers[field]; m != nil {
			delete(m, ord)
		}
		if m := seg.values[field]; m != nil {
			delete(m, ord)
		}
	}
	delete(seg.docTerms, ord)
	delete(seg.docFields, ord)
	seg.all = seg.all.remove(ord)
	seg.ids[ord] = uuid.Nil
	delete(seg.ords, id)
}

// segmentSnapshot is the persisted form of a segment.
type segmentSnapshot struct {
	IDs       [][]byte                        `msgpack:"ids"`
	Terms     map[string][]uint32             `msgpack:"t"`
	Present   map[string][]uint32             `msgpack:"p"`
	Numbers   map[string]map[uint32][]float64 `msgpack:"n"`
	Values    map[string]map[uint32][]string  `msgpack:"v"`
	DocTerms  map[uint32][]string             `msgpack:"dt"`
	DocFields map[uint32][]string             `msgpack:"df"`
}

func (seg *segment) snapshot() *segmentSnapshot {
	snap := &segmentSnapshot{
		IDs:       make([][]byte, len(seg.ids)),
		Terms:     make(map[string][]uint32, len(seg.terms)),
		Present:   make(map[string][]uint32, len(seg.present)),
		Numbers:   seg.numbers,
		Values:    seg.values,
		DocTerms:  seg.docTerms,
		DocFields: seg.docFields,
	}
	for i, id := range seg.ids {
		b := make([]byte, 16)
		copy(b, id[:])
		snap.IDs[i] = b
	}
	for k, pl := range seg.terms {
		snap.Terms[k] = pl
	}
	for k, pl := range seg.present {
		snap.Present[k] = pl
	}
	return snap
}

func segmentFromSnapshot(snap *segmentSnapshot) (*segment, error) {
	seg := newSegment()
	seg.ids = make([]uuid.UUID, len(snap.IDs))
	for i, b := range snap.IDs {
		id, err := uuid.FromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("bad id at ordinal %d: %w", i, err)
		}
		seg.ids[i] = id
		if id != uuid.Nil {
			ord := uint32(i)
			seg.ords[id] = ord
			seg.all = seg.all.insert(ord)
		}
	}
	for k, pl := range snap.Terms {
		seg.terms[k] = postingList(pl)
	}
	for k, pl := range snap.Present {
		seg.present[k] = postingList(pl)
	}
	if snap.Numbers != nil {
		seg.numbers = snap.Numbers
	}
	if snap.Values != nil {
		seg.values = snap.Values
	}
	if snap.DocTerms != nil {
		seg.docTerms = snap.DocTerms
	}
	if snap.DocFields != nil {
		seg.docFields = snap.DocFields
	}
	return seg, nil
}

type indexOp struct {
	del bool
	id  uuid.UUID
	doc Document
}

// invertedIndex keeps one writer queue and one refreshable reader segment
// per collection. Writes become visible only after a refresh cycle; a
// background task drives sub-second refreshes, a second one drives the
// much less frequent durability commits. Both hold a stop channel and are
// joined during Close, so no cycle fires after disposal.
type invertedIndex struct {
	coll string
	dir  string
	an   *analyzerSelector
	comp Compression
	log  *zap.SugaredLogger

	mu  sync.RWMutex
	seg *segment

	pmu     sync.Mutex
	pending []indexOp

	dirty    atomic.Bool
	closed   atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// openIndex opens (or creates) the index directory for a collection and
// starts the refresh/commit tasks. An empty dir keeps the index purely in
// memory (no snapshots). It reports needRebuild when no usable snapshot
// was found and stored documents may exist to reindex.
func openIndex(dir, coll string, schema *Schema, comp Compression,
	refreshEvery, commitEvery time.Duration, log *zap.SugaredLogger) (ix *invertedIndex, needRebuild bool, err error) {

	ix = &invertedIndex{
		coll: coll,
		dir:  dir,
		an:   newAnalyzerSelector(schema),
		comp: comp,
		log:  log,
		seg:  newSegment(),
		stop: make(chan struct{}),
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0o777); err != nil {
			return nil, false, fmt.Errorf("create index dir for %q: %w", coll, err)
		}
		path := filepath.Join(dir, segmentFileName)
		blob, rerr := os.ReadFile(path)
		switch {
		case rerr == nil:
			seg, lerr := loadSegment(comp, blob)
			if lerr != nil {
				log.Warnw("index snapshot unreadable, rebuilding", "collection", coll, "error", lerr)
				needRebuild = true
			} else {
				ix.seg = seg
			}
		case errors.Is(rerr, os.ErrNotExist):
			needRebuild = true
		default:
			return nil, false, fmt.Errorf("read index snapshot for %q: %w", coll, rerr)
		}
	}

	ix.wg.Add(2)
	go ix.refreshLoop(refreshEvery)
	go ix.commitLoop(commitEvery)
	return ix, needRebuild, nil
}

func loadSegment(comp Compression, blob []byte) (*segment, error) {
	data, err := openBlob(comp, blob)
	if err != nil {
		return nil, err
	}
	var snap segmentSnapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, dataErrf(data, err, "cannot decode index snapshot")
	}
	return segmentFromSnapshot(&snap)
}

func (ix *invertedIndex) refreshLoop(every time.Duration) {
	defer ix.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ix.stop:
			return
		case <-t.C:
			if err := ix.Refresh(); err != nil {
				ix.log.Errorw("index refresh failed", "collection", ix.coll, "error", err)
			}
		}
	}
}

func (ix *invertedIndex) commitLoop(every time.Duration) {
	defer ix.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ix.stop:
			return
		case <-t.C:
			if err := ix.Commit(); err != nil {
				ix.log.Errorw("index commit failed", "collection", ix.coll, "error", err)
			}
		}
	}
}

// Add queues a document for indexing. It becomes searchable after the
// next refresh.
func (ix *invertedIndex) Add(doc Document) {
	id, ok := doc.ID()
	if !ok {
		return
	}
	ix.pmu.Lock()
	ix.pending = append(ix.pending, indexOp{id: id, doc: doc.Clone()})
	ix.pmu.Unlock()
}

// Delete queues removal of a document from the index.
func (ix *invertedIndex) Delete(id uuid.UUID) {
	ix.pmu.Lock()
	ix.pending = append(ix.pending, indexOp{del: true, id: id})
	ix.pmu.Unlock()
}

// Refresh applies queued writes to the reader segment, making them
// visible to subsequent searches.
func (ix *invertedIndex) Refresh() error {
	if ix.closed.Load() {
		return ErrClosed
	}
	ix.pmu.Lock()
	ops := ix.pending
	ix.pending = nil
	ix.pmu.Unlock()
	if len(ops) == 0 {
		return nil
	}

	ix.mu.Lock()
	for _, op := range ops {
		if op.del {
			ix.seg.removeID(op.id)
		} else {
			ix.seg.addDoc(op.id, op.doc, ix.an)
		}
	}
	ix.mu.Unlock()
	ix.dirty.Store(true)
	return nil
}

// Commit refreshes and persists the segment snapshot if anything changed.
func (ix *invertedIndex) Commit() error {
	if err := ix.Refresh(); err != nil {
		return err
	}
	if ix.dir == "" {
		ix.dirty.Store(false)
		return nil
	}
	if !ix.dirty.Swap(false) {
		return nil
	}
	ix.mu.RLock()
	snap := ix.seg.snapshot()
	data, err := msgpack.Marshal(snap)
	ix.mu.RUnlock()
	if err != nil {
		ix.dirty.Store(true)
		return fmt.Errorf("encode index snapshot for %q: %w", ix.coll, err)
	}
	blob, err := sealBlob(ix.comp, data)
	if err != nil {
		ix.dirty.Store(true)
		return err
	}
	if err := writeFileAtomic(filepath.Join(ix.dir, segmentFileName), blob); err != nil {
		ix.dirty.Store(true)
		return fmt.Errorf("write index snapshot for %q: %w", ix.coll, err)
	}
	return nil
}

// read runs fn against the current reader segment.
func (ix *invertedIndex) read(fn func(seg *segment) error) error {
	if ix.closed.Load() {
		return ErrClosed
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return fn(ix.seg)
}

// Truncate discards all index state but keeps the index open.
func (ix *invertedIndex) Truncate() error {
	ix.pmu.Lock()
	ix.pending = nil
	ix.pmu.Unlock()
	ix.mu.Lock()
	ix.seg = newSegment()
	ix.mu.Unlock()
	ix.dirty.Store(true)
	return ix.Commit()
}

// Close stops the background tasks, flushes pending writes and commits.
func (ix *invertedIndex) Close() error {
	ix.stopOnce.Do(func() { close(ix.stop) })
	ix.wg.Wait()
	if ix.closed.Load() {
		return nil
	}
	err := ix.Commit()
	ix.closed.Store(true)
	return err
}

// Drop stops the index and removes its directory.
func (ix *invertedIndex) Drop() error {
	ix.stopOnce.Do(func() { close(ix.stop) })
	ix.wg.Wait()
	ix.closed.Store(true)
	if ix.dir == "" {
		return nil
	}
	return os.RemoveAll(ix.dir)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o666); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
