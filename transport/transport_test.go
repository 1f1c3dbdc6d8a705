package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperpeer/agent/transport"
	"github.com/hyperpeer/agent/walletapi"
)

func TestRegistryDispatchesByScheme(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/didcomm-envelope-enc")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("reply"))
	}))
	defer srv.Close()

	reg := transport.NewRegistry().Register(transport.SchemeHTTP, transport.NewHTTPTransport())

	endpoint, err := url.Parse(srv.URL)
	require.NoError(t, err)

	reply, err := reg.Send(context.Background(), endpoint, walletapi.Envelope("hello"))
	require.NoError(t, err)
	assert.Equal(t, walletapi.Envelope("reply"), reply)
}

func TestRegistryNoTransportForScheme(t *testing.T) {
	reg := transport.NewRegistry()

	endpoint, err := url.Parse("http://example.com/inbox")
	require.NoError(t, err)

	_, err = reg.Send(context.Background(), endpoint, walletapi.Envelope("hello"))
	assert.ErrorIs(t, err, transport.ErrNoRegisteredTransportForScheme)
}

func TestSchemeOfRejectsUnknownScheme(t *testing.T) {
	_, err := transport.SchemeOf("ftp")
	assert.ErrorIs(t, err, transport.ErrInvalidTransportScheme)
}

func TestHTTPTransportReturnsNoReplyOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	endpoint, err := url.Parse(srv.URL)
	require.NoError(t, err)

	ht := transport.NewHTTPTransport()
	reply, err := ht.Send(context.Background(), endpoint, walletapi.Envelope("hello"))
	require.NoError(t, err)
	assert.Nil(t, reply)
}
