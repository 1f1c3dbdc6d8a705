// Package store provides a generic, tag-indexed record storage contract
// used by every repository in this module. It mirrors the storage layer
// of a typed object store: callers parameterize on a data type D and a
// closed tag-key enumeration TK so that illegal tag searches are caught
// at compile time rather than by a typo in a free-form string.
package store

import (
	"errors"
	"fmt"
)

// Sentinel storage errors. Repositories wrap these with operation
// context; callers compare with errors.Is.
var (
	ErrDuplicateRecord   = errors.New("store: record already exists")
	ErrRecordDoesNotExist = errors.New("store: record does not exist")
	ErrSerialization     = errors.New("store: failed to serialize record")
	ErrDeserialization   = errors.New("store: failed to deserialize record")
)

// Record is a generic envelope around a piece of domain data D, indexed
// by a closed set of tag keys TK. The id is unique per backend.
type Record[D any, TK comparable] struct {
	ID   string
	Data D
	Tags map[TK]string
}

// NewRecord constructs a Record with a copy of the supplied tags (or an
// empty tag set if tags is nil).
func NewRecord[D any, TK comparable](id string, data D, tags map[TK]string) Record[D, TK] {
	t := make(map[TK]string, len(tags))
	for k, v := range tags {
		t[k] = v
	}

	return Record[D, TK]{ID: id, Data: data, Tags: t}
}

// Tag returns the value for a tag key and whether it was present.
func (r Record[D, TK]) Tag(key TK) (string, bool) {
	v, ok := r.Tags[key]

	return v, ok
}

// Backend is the storage contract every repository in this module is
// built on. Implementations must keep the tag index consistent with
// record state: after AddOrUpdate or Delete, Search must never return a
// stale id.
type Backend[D any, TK comparable] interface {
	// Add inserts a new record. It fails with ErrDuplicateRecord if a
	// record with the same id already exists.
	Add(record Record[D, TK]) error

	// AddOrUpdate inserts or replaces a record, re-indexing its tags
	// atomically with respect to concurrent Search/Get calls.
	AddOrUpdate(record Record[D, TK]) error

	// Update replaces an existing record. It fails with
	// ErrRecordDoesNotExist if no record with that id is stored.
	Update(record Record[D, TK]) error

	// Get returns the record with the given id, or ok=false if absent.
	Get(id string) (record Record[D, TK], ok bool, err error)

	// GetAll returns every stored record, in unspecified order.
	GetAll() ([]Record[D, TK], error)

	// Search returns every record tagged with tagKey=tagValue.
	Search(tagKey TK, tagValue string) ([]Record[D, TK], error)

	// Delete removes a record by id. Deleting an absent id is not an
	// error.
	Delete(id string) error
}

// WrapError tags a storage-layer error with the operation and record id
// that produced it, preserving the sentinel for errors.Is comparisons.
func WrapError(op, id string, err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("store: %s %q: %w", op, id, err)
}
