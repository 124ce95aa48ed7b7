package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/imroc/req/v3"
)

// HTTPFetcher downloads objects over HTTP(S). Non-2xx responses are errors.
type HTTPFetcher struct {
	client *req.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client: req.C().
			SetTimeout(timeout).
			SetUserAgent("pixlabel-export/1.0"),
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if !resp.IsSuccessState() {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.GetStatusCode())
	}
	return resp.Bytes(), nil
}
