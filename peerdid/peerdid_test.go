package peerdid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperpeer/agent/diddoc"
	"github.com/hyperpeer/agent/peerdid"
)

func TestCreateThenResolveRoundTrips(t *testing.T) {
	created, _, err := peerdid.Create("https://agent.example/inbox", nil)
	require.NoError(t, err)
	assert.Contains(t, created.Long, peerdid.Prefix)

	resolved, err := peerdid.Resolve(created.Long)
	require.NoError(t, err)

	assert.Equal(t, created.Doc.ID, resolved.ID)
	require.Len(t, resolved.KeyAgreement, 1)
	assert.Equal(t, created.Doc.KeyAgreement[0].PublicKeyMultibase, resolved.KeyAgreement[0].PublicKeyMultibase)

	svc, err := resolved.FirstDIDCommV1Service()
	require.NoError(t, err)
	assert.Equal(t, "https://agent.example/inbox", svc.ServiceEndpoint)
	assert.Equal(t, diddoc.ServiceTypeDIDCommV1, svc.Type)
}

func TestResolveRejectsTamperedHash(t *testing.T) {
	created, _, err := peerdid.Create("https://agent.example/inbox", nil)
	require.NoError(t, err)

	replacement := "x"
	if created.Long[len(peerdid.Prefix)+3] == 'x' {
		replacement = "y"
	}

	tampered := created.Long[:len(peerdid.Prefix)+3] + replacement + created.Long[len(peerdid.Prefix)+4:]

	_, err = peerdid.Resolve(tampered)
	assert.ErrorIs(t, err, peerdid.ErrInvalidEncoding)
}

func TestResolveRejectsNonPeerDID(t *testing.T) {
	_, err := peerdid.Resolve("did:web:example.com")
	assert.ErrorIs(t, err, peerdid.ErrInvalidEncoding)
}

func TestDistinctEndpointsProduceDistinctDIDs(t *testing.T) {
	a, _, err := peerdid.Create("https://a.example/inbox", nil)
	require.NoError(t, err)

	b, _, err := peerdid.Create("https://b.example/inbox", nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.Long, b.Long)
}
