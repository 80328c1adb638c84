package progressive

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// HTTPOpener opens resource locators with a GET request and streams the
// response body.
type HTTPOpener struct {
	client    *http.Client
	chunkSize int
	headers   map[string]string
}

func NewHTTPOpener(connectTimeout time.Duration, chunkSize int, headers map[string]string) *HTTPOpener {
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		DisableCompression:    true,
		ResponseHeaderTimeout: connectTimeout,
	}

	return &HTTPOpener{
		// No client timeout: the body is read for as long as playback lasts.
		client:    &http.Client{Transport: transport},
		chunkSize: chunkSize,
		headers:   headers,
	}
}

func (o *HTTPOpener) Open(ctx context.Context, locator string) (ByteSource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "audio/*")
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return NewReaderSource(resp.Body, o.chunkSize), nil
}
