package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/g-flame/airlink-panel/internal/fragment"
)

const maxFragmentBytes = 10 << 20

// FetchPageData fetches the fragment for path from the fragment endpoint.
// Network failures and 5xx responses are retried up to MaxRetries times with
// doubling backoff; timeouts, 4xx responses and malformed bodies are terminal.
func (r *Router) FetchPageData(ctx context.Context, path string) (*fragment.Fragment, error) {
	path = fragment.NormalizePath(path)
	var last *FetchError
	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.opts.RetryBackoff << (attempt - 1)
			r.logger.Debug("router: retrying fragment fetch",
				zap.String("path", path), zap.Int("attempt", attempt), zap.Duration("backoff", delay))
			select {
			case <-r.clock.After(delay):
			case <-ctx.Done():
				return nil, &FetchError{Kind: KindNetwork, Path: path, Attempts: attempt, Err: ctx.Err()}
			}
		}

		f, fe := r.fetchOnce(ctx, path)
		if fe == nil {
			return f, nil
		}
		fe.Attempts = attempt + 1
		last = fe
		if !fe.Retryable() {
			return nil, fe
		}
		r.logger.Warn("router: fragment fetch failed",
			zap.String("path", path), zap.Int("attempt", attempt+1), zap.Error(fe))
	}
	return nil, last
}

// Prefetch is a single FetchPageData attempt without retries, for speculative
// loads that are discarded on failure.
func (r *Router) Prefetch(ctx context.Context, path string) (*fragment.Fragment, error) {
	path = fragment.NormalizePath(path)
	f, fe := r.fetchOnce(ctx, path)
	if fe != nil {
		fe.Attempts = 1
		return nil, fe
	}
	return f, nil
}

type wireFragment struct {
	Content *string           `json:"content"`
	Title   string            `json:"title"`
	Scripts []string          `json:"scripts"`
	Styles  []string          `json:"styles"`
	Meta    map[string]string `json:"meta"`
}

func (r *Router) fetchOnce(ctx context.Context, path string) (*fragment.Fragment, *FetchError) {
	actx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, r.endpointURL(path), nil)
	if err != nil {
		return nil, &FetchError{Kind: KindClient, Path: path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := r.opts.Client.Do(req)
	if err != nil {
		return nil, r.transportError(ctx, actx, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		kind := KindClient
		if resp.StatusCode >= 500 {
			kind = KindServer
		}
		return nil, &FetchError{Kind: kind, Path: path, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFragmentBytes))
	if err != nil {
		return nil, r.transportError(ctx, actx, path, err)
	}
	var w wireFragment
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, &FetchError{Kind: KindRender, Path: path, Err: fmt.Errorf("decode fragment: %w", err)}
	}
	if w.Content == nil {
		return nil, &FetchError{Kind: KindRender, Path: path, Err: errors.New("fragment has no content")}
	}
	return &fragment.Fragment{
		Content: *w.Content,
		Title:   w.Title,
		Scripts: w.Scripts,
		Styles:  w.Styles,
		Meta:    w.Meta,
	}, nil
}

// transportError distinguishes the per-attempt deadline from other failures.
func (r *Router) transportError(parent, attempt context.Context, path string, err error) *FetchError {
	if parent.Err() == nil && errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return &FetchError{Kind: KindTimeout, Path: path, Err: fmt.Errorf("no response within %s", r.opts.Timeout)}
	}
	return &FetchError{Kind: KindNetwork, Path: path, Err: err}
}

func (r *Router) endpointURL(path string) string {
	u := url.URL{Scheme: r.base.Scheme, Host: r.base.Host, Path: fragment.EndpointPath(r.opts.Endpoint, path)}
	return u.String()
}
