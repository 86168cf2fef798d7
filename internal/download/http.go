package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// URLResolver maps a file reference to a downloadable URL. Resolution
// errors should already be classified.
type URLResolver func(ctx context.Context, ref FileRef) (string, error)

// HTTPFetcher downloads files over HTTP GET and classifies failures.
type HTTPFetcher struct {
	Client  *http.Client
	Resolve URLResolver
}

// NewHTTPFetcher creates a fetcher using client, or http.DefaultClient if nil.
func NewHTTPFetcher(client *http.Client, resolve URLResolver) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{Client: client, Resolve: resolve}
}

// Fetch resolves ref and opens the response body.
func (f *HTTPFetcher) Fetch(ctx context.Context, ref FileRef) (io.ReadCloser, error) {
	url, err := f.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, ClassifyTransport(fmt.Errorf("request failed: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		statusErr := fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
		if RetryableStatus(resp.StatusCode) {
			return nil, Transient(statusErr)
		}
		return nil, Permanent(statusErr)
	}

	return &classifyingReader{rc: resp.Body}, nil
}

// RetryableStatus reports whether an HTTP status code is worth retrying.
func RetryableStatus(code int) bool {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

// ClassifyTransport classifies a transport-level error. Timeouts,
// dial and read failures, resets and unexpected EOF are transient;
// anything else (bad URL, TLS misconfiguration) is permanent.
func ClassifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient(err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Transient(err)
	}

	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return Transient(err)
	}

	return Permanent(err)
}

// classifyingReader tags body read failures so a dropped connection
// mid-stream is retried.
type classifyingReader struct {
	rc io.ReadCloser
}

func (r *classifyingReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if err != nil && err != io.EOF {
		return n, ClassifyTransport(err)
	}
	return n, err
}

func (r *classifyingReader) Close() error {
	return r.rc.Close()
}
