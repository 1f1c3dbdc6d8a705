// Package connection defines the ConnectionRecord and DidRecord record
// types and the repositories that wrap a store.Backend for each,
// grounded in the pack's connection_repository.rs and did_repository.rs
// (original_source/vcx_framework/src/repositories): the Go equivalents
// of VCXFrameworkStorage<ConnectionRecordData, ConnectionRecordTagKeys>
// and VCXFrameworkStorage<DidRecordData, DidRecordTagKeys>.
package connection

import (
	"fmt"

	"github.com/hyperpeer/agent/store"
)

// State is a DID-Exchange connection's position in the handshake state
// machine (spec.md §4.5).
type State string

const (
	StateInvited   State = "invited"
	StateRequested State = "requested"
	StateResponded State = "responded"
	StateCompleted State = "completed"
	StateAbandoned State = "abandoned"
)

// RecordTagKey enumerates the tags a ConnectionRecord may be searched
// by: the original's ConnectionRecordTagKeys (OurDid, TheirDid) plus
// TagState, which the original lacks and QueryByState relies on.
type RecordTagKey int

const (
	TagOurDid RecordTagKey = iota
	TagTheirDid
	TagState
)

// Record is the persisted state of one connection (spec.md §3). The
// state-machine snapshot is opaque outside the connection service;
// here it is carried as bytes so the repository never needs to
// understand protocol internals.
type Record struct {
	ID           string
	InvitationID string
	OurDid       string
	TheirDid     string
	State        State
	Snapshot     []byte
}

// Repository wraps a store.Backend[Record, RecordTagKey], exposing the
// typed operations the connection service needs without leaking the
// untyped record shape (spec.md §4.2).
type Repository struct {
	backend store.Backend[Record, RecordTagKey]
}

// NewRepository wraps backend as a ConnectionRepository.
func NewRepository(backend store.Backend[Record, RecordTagKey]) *Repository {
	return &Repository{backend: backend}
}

func tagsFor(r Record) map[RecordTagKey]string {
	tags := map[RecordTagKey]string{TagOurDid: r.OurDid, TagState: string(r.State)}
	if r.TheirDid != "" {
		tags[TagTheirDid] = r.TheirDid
	}

	return tags
}

// AddOrUpdate inserts or replaces the connection record, re-indexing
// its OurDid/TheirDid/State tags.
func (repo *Repository) AddOrUpdate(r Record) error {
	rec := store.NewRecord(r.ID, r, tagsFor(r))
	if err := repo.backend.AddOrUpdate(rec); err != nil {
		return store.WrapError("connection add_or_update", r.ID, err)
	}

	return nil
}

// Get returns the connection record by id.
func (repo *Repository) Get(id string) (Record, bool, error) {
	rec, ok, err := repo.backend.Get(id)
	if err != nil {
		return Record{}, false, store.WrapError("connection get", id, err)
	}

	if !ok {
		return Record{}, false, nil
	}

	return rec.Data, true, nil
}

// GetAll returns every connection record, unordered.
func (repo *Repository) GetAll() ([]Record, error) {
	recs, err := repo.backend.GetAll()
	if err != nil {
		return nil, store.WrapError("connection get_all", "", err)
	}

	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Data)
	}

	return out, nil
}

// Search returns every connection record whose tag matches tagValue.
func (repo *Repository) Search(tagKey RecordTagKey, tagValue string) ([]Record, error) {
	recs, err := repo.backend.Search(tagKey, tagValue)
	if err != nil {
		return nil, fmt.Errorf("connection: search %v=%q: %w", tagKey, tagValue, err)
	}

	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Data)
	}

	return out, nil
}

// QueryByState is a convenience search not present in the original (its
// ConnectionRecordTagKeys enum has no state variant), built on the
// generic tag search now that State is indexed as TagState. It exists
// because CLI/status tooling commonly needs "all connections in state
// X" (SPEC_FULL.md §4.16).
func (repo *Repository) QueryByState(state State) ([]Record, error) {
	return repo.Search(TagState, string(state))
}

// Delete removes the connection record by id. Idempotent.
func (repo *Repository) Delete(id string) error {
	if err := repo.backend.Delete(id); err != nil {
		return store.WrapError("connection delete", id, err)
	}

	return nil
}
