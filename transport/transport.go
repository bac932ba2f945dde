// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Outcome classifies a single delivery attempt.
type Outcome int

const (
	// Delivered means the collector accepted the batch.
	Delivered Outcome = iota

	// RejectedTransient means the attempt failed in a way that may
	// succeed on retry: 5xx, connection failure, timeout.
	RejectedTransient

	// RejectedPermanent means the collector refused the payload and
	// retrying it unmodified cannot succeed.
	RejectedPermanent
)

// String returns the outcome name for logs.
func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case RejectedTransient:
		return "rejected_transient"
	case RejectedPermanent:
		return "rejected_permanent"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Sender is the delivery interface the dispatch queue depends on.
// Tests substitute a fake; production uses HTTPTransport.
type Sender interface {
	// Send performs one delivery attempt for a serialized batch.
	// An empty signature means unsigned operation: the
	// authentication headers are omitted. The returned error carries
	// detail for logging and is nil iff the outcome is Delivered.
	Send(ctx context.Context, payload []byte, timestampMillis int64, signature string) (Outcome, error)
}

const (
	headerTimestamp = "X-Timestamp"
	headerSignature = "X-Signature"

	// DefaultTimeout bounds both connection establishment and the
	// wait for the collector's response.
	DefaultTimeout = 30 * time.Second
)

// Config holds the parameters for an HTTPTransport.
type Config struct {
	// Endpoint is the collector URL events are POSTed to. Required.
	Endpoint string

	// Timeout bounds connect and response-header wait individually;
	// the whole attempt, body read included, is bounded at twice
	// this. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Compress gzips request bodies and sets Content-Encoding. Off
	// by default; enable when the collector advertises support.
	Compress bool
}

// HTTPTransport delivers batches over HTTP(S) POST. Safe for
// concurrent use; holds no per-request state.
type HTTPTransport struct {
	endpoint string
	compress bool
	client   *http.Client
}

// New creates an HTTPTransport. Returns an error if the endpoint is
// empty.
func New(cfg Config) (*HTTPTransport, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("transport: Endpoint is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &HTTPTransport{
		endpoint: cfg.Endpoint,
		compress: cfg.Compress,
		client: &http.Client{
			// Bounds the entire attempt, including the response
			// body read; a collector that sends headers and then
			// stalls must not hang the flush worker.
			Timeout: 2 * timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: timeout,
				}).DialContext,
				ResponseHeaderTimeout: timeout,
				MaxIdleConns:          2,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}, nil
}

// Send POSTs the payload as application/json. Classification:
// 202 → Delivered; 5xx or any network error → RejectedTransient;
// every other status → RejectedPermanent.
func (t *HTTPTransport) Send(ctx context.Context, payload []byte, timestampMillis int64, signature string) (Outcome, error) {
	body, encoding, err := t.encodeBody(payload)
	if err != nil {
		// Compression failing is a local fault, not a collector
		// verdict; retrying the same events uncompressed later is
		// safe.
		return RejectedTransient, fmt.Errorf("transport: encoding body: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, body)
	if err != nil {
		return RejectedPermanent, fmt.Errorf("transport: building request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if encoding != "" {
		request.Header.Set("Content-Encoding", encoding)
	}
	if signature != "" {
		request.Header.Set(headerTimestamp, strconv.FormatInt(timestampMillis, 10))
		request.Header.Set(headerSignature, signature)
	}

	response, err := t.client.Do(request)
	if err != nil {
		return RejectedTransient, fmt.Errorf("transport: send: %w", err)
	}
	defer func() {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(response.Body, 4096))
		response.Body.Close()
	}()

	switch {
	case response.StatusCode == http.StatusAccepted:
		return Delivered, nil
	case response.StatusCode >= 500:
		return RejectedTransient, fmt.Errorf("transport: collector returned %d", response.StatusCode)
	default:
		return RejectedPermanent, fmt.Errorf("transport: collector returned %d", response.StatusCode)
	}
}

// encodeBody returns the request body reader and the Content-Encoding
// value ("" for identity).
func (t *HTTPTransport) encodeBody(payload []byte) (io.Reader, string, error) {
	if !t.compress {
		return bytes.NewReader(payload), "", nil
	}

	var compressed bytes.Buffer
	writer := gzip.NewWriter(&compressed)
	if _, err := writer.Write(payload); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &compressed, "gzip", nil
}
