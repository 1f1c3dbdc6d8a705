package connection_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperpeer/agent/connection"
	"github.com/hyperpeer/agent/store/memory"
)

func TestAddOrUpdateThenGet(t *testing.T) {
	repo := connection.NewRepository(memory.New[connection.Record, connection.RecordTagKey]())

	rec := connection.Record{ID: "conn-1", OurDid: "did:peer:4zOurs", State: connection.StateInvited}
	require.NoError(t, repo.AddOrUpdate(rec))

	got, ok, err := repo.Get("conn-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, connection.StateInvited, got.State)
}

func TestSearchByOurDid(t *testing.T) {
	repo := connection.NewRepository(memory.New[connection.Record, connection.RecordTagKey]())

	require.NoError(t, repo.AddOrUpdate(connection.Record{ID: "conn-1", OurDid: "did:peer:4a", State: connection.StateInvited}))
	require.NoError(t, repo.AddOrUpdate(connection.Record{ID: "conn-2", OurDid: "did:peer:4b", State: connection.StateInvited}))

	found, err := repo.Search(connection.TagOurDid, "did:peer:4a")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "conn-1", found[0].ID)
}

func TestQueryByState(t *testing.T) {
	repo := connection.NewRepository(memory.New[connection.Record, connection.RecordTagKey]())

	require.NoError(t, repo.AddOrUpdate(connection.Record{ID: "conn-1", OurDid: "did:peer:4a", State: connection.StateCompleted}))
	require.NoError(t, repo.AddOrUpdate(connection.Record{ID: "conn-2", OurDid: "did:peer:4b", State: connection.StateRequested}))

	completed, err := repo.QueryByState(connection.StateCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "conn-1", completed[0].ID)
}

func TestReindexOnUpdate(t *testing.T) {
	repo := connection.NewRepository(memory.New[connection.Record, connection.RecordTagKey]())

	require.NoError(t, repo.AddOrUpdate(connection.Record{ID: "conn-1", OurDid: "did:peer:4a", State: connection.StateInvited}))
	require.NoError(t, repo.AddOrUpdate(connection.Record{ID: "conn-1", OurDid: "did:peer:4a", TheirDid: "did:peer:4c", State: connection.StateCompleted}))

	byTheir, err := repo.Search(connection.TagTheirDid, "did:peer:4c")
	require.NoError(t, err)
	require.Len(t, byTheir, 1)
	assert.Equal(t, connection.StateCompleted, byTheir[0].State)
}

func TestDidRepositorySearchByKeyAgreementKey(t *testing.T) {
	repo := connection.NewDidRepository(memory.New[connection.DidRecord, connection.DidTagKey]())

	require.NoError(t, repo.AddOrUpdate("did:peer:4a", connection.DidRecord{Did: "did:peer:4a", KeyAgreementKey: "key-1"}))

	found, err := repo.SearchByKeyAgreementKey("key-1")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "did:peer:4a", found[0].Did)
}

func TestDidRepositoryDeleteIsIdempotent(t *testing.T) {
	repo := connection.NewDidRepository(memory.New[connection.DidRecord, connection.DidTagKey]())

	require.NoError(t, repo.Delete("missing"))
}
