package connection

import (
	"github.com/hyperpeer/agent/store"
)

// DidTagKey enumerates the tags a DidRecord may be searched by,
// matching the original's DidRecordTagKeys enum (a single variant,
// KeyAgreementKey, used for reverse lookup from recipient key
// material).
type DidTagKey int

const (
	TagKeyAgreementKey DidTagKey = iota
)

// DidRecord caches a DID and its key-agreement key for inbound message
// attribution (spec.md §3). Records are written only for peer DIDs this
// agent mints itself (when creating an invitation or requesting a
// connection); a counterparty's DID is not recorded here.
type DidRecord struct {
	Did             string
	KeyAgreementKey string
}

// DidRepository wraps a store.Backend[DidRecord, DidTagKey].
type DidRepository struct {
	backend store.Backend[DidRecord, DidTagKey]
}

// NewDidRepository wraps backend as a DidRepository.
func NewDidRepository(backend store.Backend[DidRecord, DidTagKey]) *DidRepository {
	return &DidRepository{backend: backend}
}

// AddOrUpdate inserts or replaces the DID record, re-indexing its
// KeyAgreementKey tag.
func (repo *DidRepository) AddOrUpdate(did string, r DidRecord) error {
	tags := map[DidTagKey]string{}
	if r.KeyAgreementKey != "" {
		tags[TagKeyAgreementKey] = r.KeyAgreementKey
	}

	rec := store.NewRecord(did, r, tags)
	if err := repo.backend.AddOrUpdate(rec); err != nil {
		return store.WrapError("did add_or_update", did, err)
	}

	return nil
}

// Get returns the DID record by DID.
func (repo *DidRepository) Get(did string) (DidRecord, bool, error) {
	rec, ok, err := repo.backend.Get(did)
	if err != nil {
		return DidRecord{}, false, store.WrapError("did get", did, err)
	}

	if !ok {
		return DidRecord{}, false, nil
	}

	return rec.Data, true, nil
}

// GetAll returns every DID record, unordered.
func (repo *DidRepository) GetAll() ([]DidRecord, error) {
	recs, err := repo.backend.GetAll()
	if err != nil {
		return nil, store.WrapError("did get_all", "", err)
	}

	out := make([]DidRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Data)
	}

	return out, nil
}

// SearchByKeyAgreementKey looks up the DID record whose key-agreement
// key matches key, supporting reverse lookup from recipient key
// material on inbound messages.
func (repo *DidRepository) SearchByKeyAgreementKey(key string) ([]DidRecord, error) {
	recs, err := repo.backend.Search(TagKeyAgreementKey, key)
	if err != nil {
		return nil, store.WrapError("did search", key, err)
	}

	out := make([]DidRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Data)
	}

	return out, nil
}

// Delete removes the DID record. Idempotent.
func (repo *DidRepository) Delete(did string) error {
	if err := repo.backend.Delete(did); err != nil {
		return store.WrapError("did delete", did, err)
	}

	return nil
}
