// Package httpx provides the tuned HTTP client and chunk-retry policy used
// by the sender.
package httpx

import (
	"net/http"
	"time"

	"github.com/digster/lan-file-transfer/internal/constants"
)

// NewClient returns an HTTP client tuned for many small-to-medium chunk
// requests against a single LAN peer: a modest connection pool kept warm
// for the duration of a transfer.
//
// This only ever dials plain "http://" URLs against a receiver that never
// offers TLS, so there is no ALPN negotiation for HTTP/2 to ride in on;
// golang.org/x/net/http2's client-side ConfigureTransport has nothing to
// attach to here (see DESIGN.md). The connection pool is what actually
// carries the benefit of keeping one peer's connection warm across many
// chunk POSTs.
func NewClient() *http.Client {
	tr := &http.Transport{
		MaxIdleConns:          constants.HTTPMaxIdleConns,
		MaxIdleConnsPerHost:   constants.HTTPMaxIdleConnsPerHost,
		MaxConnsPerHost:       constants.HTTPMaxIdleConnsPerHost,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    true, // chunks are already-sized binary payloads
	}

	return &http.Client{
		Transport: tr,
		Timeout:   constants.ConnTimeout,
	}
}
