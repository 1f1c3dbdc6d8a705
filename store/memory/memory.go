// Package memory provides the reference in-memory implementation of
// store.Backend, grounded in the teacher's tag/record split (record
// payloads kept separately from a flat list of (tag_key, tag_value, id)
// triples) and in the original source's InMemoryStorage. Records are
// held as Go values in a map; they are not serialized.
package memory

import (
	"sync"

	"github.com/hyperpeer/agent/store"
)

type tagEntry[TK comparable] struct {
	key   TK
	value string
	id    string
}

// Backend is a thread-safe, process-local store.Backend[D, TK]. It is
// the only backend this module ships; production deployments satisfy
// store.Backend with a durable implementation (e.g. an encrypted
// key-value store) and plug it in wherever a repository is constructed.
type Backend[D any, TK comparable] struct {
	mu      sync.RWMutex
	records map[string]store.Record[D, TK]
	tags    []tagEntry[TK]
}

// New creates an empty in-memory backend.
func New[D any, TK comparable]() *Backend[D, TK] {
	return &Backend[D, TK]{
		records: make(map[string]store.Record[D, TK]),
	}
}

func (b *Backend[D, TK]) Add(record store.Record[D, TK]) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.records[record.ID]; exists {
		return store.WrapError("add", record.ID, store.ErrDuplicateRecord)
	}

	b.put(record)

	return nil
}

func (b *Backend[D, TK]) AddOrUpdate(record store.Record[D, TK]) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.put(record)

	return nil
}

func (b *Backend[D, TK]) Update(record store.Record[D, TK]) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.records[record.ID]; !exists {
		return store.WrapError("update", record.ID, store.ErrRecordDoesNotExist)
	}

	b.put(record)

	return nil
}

// put drops all tag entries for record.ID before re-adding them so the
// tag index never holds a stale id after an update.
func (b *Backend[D, TK]) put(record store.Record[D, TK]) {
	b.dropTags(record.ID)

	b.records[record.ID] = record
	for k, v := range record.Tags {
		b.tags = append(b.tags, tagEntry[TK]{key: k, value: v, id: record.ID})
	}
}

func (b *Backend[D, TK]) dropTags(id string) {
	kept := b.tags[:0]

	for _, t := range b.tags {
		if t.id != id {
			kept = append(kept, t)
		}
	}

	b.tags = kept
}

func (b *Backend[D, TK]) Get(id string) (store.Record[D, TK], bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.records[id]

	return r, ok, nil
}

func (b *Backend[D, TK]) GetAll() ([]store.Record[D, TK], error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]store.Record[D, TK], 0, len(b.records))
	for _, r := range b.records {
		out = append(out, r)
	}

	return out, nil
}

func (b *Backend[D, TK]) Search(tagKey TK, tagValue string) ([]store.Record[D, TK], error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []store.Record[D, TK]

	seen := make(map[string]struct{})

	for _, t := range b.tags {
		if t.key != tagKey || t.value != tagValue {
			continue
		}

		if _, dup := seen[t.id]; dup {
			continue
		}

		if r, ok := b.records[t.id]; ok {
			out = append(out, r)
			seen[t.id] = struct{}{}
		}
	}

	return out, nil
}

func (b *Backend[D, TK]) Delete(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.records, id)
	b.dropTags(id)

	return nil
}

var _ store.Backend[struct{}, int] = (*Backend[struct{}, int])(nil)
