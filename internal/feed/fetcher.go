package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/roach88/livestore/internal/event"
	"github.com/roach88/livestore/internal/store"
	"github.com/roach88/livestore/internal/value"
)

// maxFetchBody bounds a fetch response.
const maxFetchBody = 16 << 20

// HTTPFetcher requests missing records with
// GET {endpoint}?store=Name&ids=1&ids=2 and enqueues the envelopes in the
// response body. Ids the response does not create, including every id
// of a failed request, are released so the store can request them
// again.
//
// Implements store.Fetcher.
type HTTPFetcher struct {
	client *http.Client
	sink   Enqueuer
	logger *slog.Logger
	wg     sync.WaitGroup
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *HTTPFetcher) {
		f.client = client
	}
}

// WithFetchLogger sets the logger.
func WithFetchLogger(logger *slog.Logger) FetcherOption {
	return func(f *HTTPFetcher) {
		f.logger = logger
	}
}

// NewHTTPFetcher creates a fetcher that enqueues results on sink.
func NewHTTPFetcher(sink Enqueuer, opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client: http.DefaultClient,
		sink:   sink,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Request starts the HTTP request in the background and returns at once.
// It fails only when the request cannot be built.
func (f *HTTPFetcher) Request(req store.FetchRequest) error {
	target, err := fetchURL(req)
	if err != nil {
		return err
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		created, err := f.fetch(target, req)
		if err != nil {
			f.logger.Warn("fetch failed", "store", req.Store, "ids", len(req.IDs), "error", err)
		}
		var missing []value.ID
		for _, id := range req.IDs {
			if _, ok := created[id]; !ok {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			req.Release(missing...)
		}
		f.logger.Debug("fetched", "store", req.Store, "created", len(created), "released", len(missing))
	}()
	return nil
}

// Wait blocks until every started request has finished.
func (f *HTTPFetcher) Wait() {
	f.wg.Wait()
}

// fetch runs one request and returns the ids of req.Store that the
// enqueued envelopes create. Well-formed envelopes of a partly malformed
// body are still enqueued.
func (f *HTTPFetcher) fetch(target string, req store.FetchRequest) (map[value.ID]struct{}, error) {
	timeout := req.Policy.Timeout
	if timeout <= 0 {
		timeout = store.DefaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	envs, decodeErr := event.Decode(body)
	if len(envs) == 0 {
		return nil, decodeErr
	}
	if !f.sink.Enqueue(envs...) {
		return nil, fmt.Errorf("sink stopped")
	}

	created := make(map[value.ID]struct{}, len(envs))
	for _, env := range envs {
		if _, ok := env.Event.(event.Create); !ok || env.Store != req.Store {
			continue
		}
		if id, ok := event.ObjectID(env.Event); ok {
			created[id] = struct{}{}
		}
	}
	return created, decodeErr
}

func fetchURL(req store.FetchRequest) (string, error) {
	if req.Policy.Endpoint == "" {
		return "", fmt.Errorf("fetch %s: no endpoint configured", req.Store)
	}
	u, err := url.Parse(req.Policy.Endpoint)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", req.Store, err)
	}

	q := u.Query()
	q.Set("store", req.Store)
	q.Del("ids")
	for _, id := range req.IDs {
		q.Add("ids", id.String())
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
