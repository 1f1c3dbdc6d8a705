package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hyperpeer/agent/walletapi"
)

const didCommContentType = "application/didcomm-envelope-enc"

// HTTPTransport sends a DIDComm v1 envelope as an HTTP POST body,
// grounded in original_source's HTTPTransport::send_message. Unlike
// the original, which always attempts to parse the response body as a
// JWE regardless of status, this transport checks for a 2xx status
// first (SPEC_FULL.md §9): a non-2xx response or an empty 2xx body
// yields no reply, and any non-empty 2xx body is returned as the reply
// envelope as-is. The body is not checked to be a well-formed envelope.
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport builds an HTTPTransport using http.DefaultClient.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{Client: http.DefaultClient}
}

var _ Transport = (*HTTPTransport)(nil)

func (t *HTTPTransport) Send(ctx context.Context, endpoint *url.URL, message walletapi.Envelope) (walletapi.Envelope, error) {
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(message))
	if err != nil {
		return nil, fmt.Errorf("transport/http: build request: %w", err)
	}

	req.Header.Set("Content-Type", didCommContentType)
	req.Header.Set("User-Agent", "hyperpeer-agent")

	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport/http: post: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, nil
	}

	body, err := io.ReadAll(res.Body)
	if err != nil || len(body) == 0 {
		return nil, nil
	}

	return walletapi.Envelope(body), nil
}
