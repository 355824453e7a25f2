// Package router is the navigation controller of the panel: it intercepts
// same-origin link clicks, resolves page fragments from the cache or the
// fragment endpoint, swaps the content region and keeps history, title,
// active navigation and the loading/error chrome in sync.
package router

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/g-flame/airlink-panel/internal/dom"
	"github.com/g-flame/airlink-panel/internal/fragment"
)

// Fragment sources reported in Result.
const (
	SourceCache       = "cache"
	SourceSpeculative = "speculative"
	SourceNetwork     = "network"
)

// Lifecycle is notified around every content swap. persist.Store implements it.
type Lifecycle interface {
	BeforeNavigation()
	AfterNavigation()
}

type noLifecycle struct{}

func (noLifecycle) BeforeNavigation() {}
func (noLifecycle) AfterNavigation()  {}

// Result describes one completed or failed navigation.
type Result struct {
	Path     string
	Source   string
	Initial  bool
	Duration time.Duration
	Err      error
}

// Options configures a Router. Zero values select the defaults.
type Options struct {
	// BaseURL is the origin fragments are fetched from. Default: the
	// document location. Link interception always uses the document origin.
	BaseURL string
	// Endpoint is the fragment endpoint prefix. Default: /api/page-content.
	Endpoint string
	// MaxRetries is the number of retries after a network or 5xx failure.
	// Default: 3. Negative disables retries.
	MaxRetries int
	// RetryBackoff is the first retry delay, doubled on each retry. Default: 1s.
	RetryBackoff time.Duration
	// Timeout bounds each fetch attempt. Default: 10s.
	Timeout time.Duration
	// ErrorDismiss hides the error banner after this long. Default: 10s.
	ErrorDismiss time.Duration

	ContentID    string // default: spa-content
	NavLinkClass string // default: nav-link
	IndicatorID  string // default: nav-indicator

	Client *http.Client
	Clock  clockwork.Clock
	Logger *zap.Logger
	// OnNavigate, if set, receives every navigation result.
	OnNavigate func(Result)
}

func (o *Options) defaults() {
	if o.Endpoint == "" {
		o.Endpoint = fragment.DefaultEndpoint
	}
	switch {
	case o.MaxRetries == 0:
		o.MaxRetries = 3
	case o.MaxRetries < 0:
		o.MaxRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.ErrorDismiss <= 0 {
		o.ErrorDismiss = 10 * time.Second
	}
	if o.ContentID == "" {
		o.ContentID = "spa-content"
	}
	if o.NavLinkClass == "" {
		o.NavLinkClass = "nav-link"
	}
	if o.IndicatorID == "" {
		o.IndicatorID = "nav-indicator"
	}
	if o.Client == nil {
		o.Client = &http.Client{}
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Stats counts router activity.
type Stats struct {
	Navigations     uint64 `json:"navigations"`
	CacheHits       uint64 `json:"cache_hits"`
	SpeculativeHits uint64 `json:"speculative_hits"`
	NetworkFetches  uint64 `json:"network_fetches"`
	Failures        uint64 `json:"failures"`
	Dropped         uint64 `json:"dropped"`
}

// Router is the navigation controller. At most one navigation is in flight;
// overlapping calls are dropped.
type Router struct {
	doc    dom.Document
	cache  *fragment.Cache
	state  Lifecycle
	opts   Options
	base   *url.URL
	clock  clockwork.Clock
	logger *zap.Logger

	inFlight atomic.Int32
	wg       sync.WaitGroup

	mu         sync.Mutex
	current    string
	lastFailed string
	dismiss    clockwork.Timer

	navigations, cacheHits, specHits, fetches, failures, dropped atomic.Uint64
}

// New creates a Router for doc. state may be nil.
func New(doc dom.Document, cache *fragment.Cache, state Lifecycle, opts Options) *Router {
	opts.defaults()
	if state == nil {
		state = noLifecycle{}
	}
	base := doc.Location()
	if opts.BaseURL != "" {
		if u, err := url.Parse(opts.BaseURL); err == nil && u.Host != "" {
			base = u
		}
	}
	base = &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/"}
	return &Router{
		doc:     doc,
		cache:   cache,
		state:   state,
		opts:    opts,
		base:    base,
		clock:   opts.Clock,
		logger:  opts.Logger,
		current: fragment.NormalizePath(doc.Location().Path),
	}
}

// Current returns the active route path.
func (r *Router) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// InFlight reports whether a navigation is running.
func (r *Router) InFlight() bool { return r.inFlight.Load() > 0 }

func (r *Router) Stats() Stats {
	return Stats{
		Navigations:     r.navigations.Load(),
		CacheHits:       r.cacheHits.Load(),
		SpeculativeHits: r.specHits.Load(),
		NetworkFetches:  r.fetches.Load(),
		Failures:        r.failures.Load(),
		Dropped:         r.dropped.Load(),
	}
}

// Start performs the initial load of the current location.
func (r *Router) Start(ctx context.Context) error {
	return r.Navigate(ctx, r.doc.Location().Path, false, true)
}

// Navigate renders the fragment for path. A non-initial call made while
// another navigation is in flight returns ErrBusy without touching the
// document; a non-initial call for the current path is a no-op.
func (r *Router) Navigate(ctx context.Context, rawPath string, push, initial bool) error {
	path := fragment.NormalizePath(rawPath)
	if !initial && path == r.Current() {
		r.logger.Debug("router: already on path", zap.String("path", path))
		return nil
	}
	// The initial load is never dropped; it joins any navigation already in
	// flight and the router stays busy until both finish.
	if initial {
		r.inFlight.Add(1)
	} else if !r.inFlight.CompareAndSwap(0, 1) {
		r.dropped.Add(1)
		r.logger.Debug("router: navigation dropped", zap.String("path", path))
		return ErrBusy
	}
	defer r.inFlight.Add(-1)

	start := r.clock.Now()
	r.setLoading(true)
	defer r.setLoading(false)

	r.state.BeforeNavigation()

	frag, source, err := r.resolve(ctx, path)
	if err == nil {
		err = r.render(path, frag)
	}
	if err != nil {
		r.fail(path, err)
		r.report(Result{Path: path, Source: source, Initial: initial, Duration: r.clock.Since(start), Err: err})
		return err
	}

	r.state.AfterNavigation()

	title := frag.Title
	if title != "" {
		r.doc.SetTitle(title)
	} else {
		title = r.doc.Title()
	}
	entry := dom.HistoryEntry{Path: path, Timestamp: r.clock.Now().UnixMilli(), Title: title}
	switch {
	case initial:
		r.doc.History().ReplaceState(entry)
	case push:
		r.doc.History().PushState(entry)
	}

	r.mu.Lock()
	r.current = path
	r.lastFailed = ""
	r.mu.Unlock()

	r.highlight(path)
	r.DismissError()
	r.navigations.Add(1)

	r.logger.Debug("router: navigated",
		zap.String("path", path), zap.String("source", source), zap.Bool("initial", initial))
	r.report(Result{Path: path, Source: source, Initial: initial, Duration: r.clock.Since(start)})
	return nil
}

func (r *Router) resolve(ctx context.Context, path string) (*fragment.Fragment, string, error) {
	if f, ok := r.cache.Get(path); ok {
		r.cacheHits.Add(1)
		return f, SourceCache, nil
	}
	if f, ok := r.cache.Promote(path); ok {
		r.specHits.Add(1)
		return f, SourceSpeculative, nil
	}
	f, err := r.FetchPageData(ctx, path)
	if err != nil {
		return nil, SourceNetwork, err
	}
	r.fetches.Add(1)
	r.cache.Put(path, f)
	return f, SourceNetwork, nil
}

func (r *Router) report(res Result) {
	if r.opts.OnNavigate != nil {
		r.opts.OnNavigate(res)
	}
}

// HandleClick is the global click listener. It returns true when the click
// was taken over: the default action is prevented and at most one navigation
// is started in the background.
func (r *Router) HandleClick(ctx context.Context, ev *dom.ClickEvent) bool {
	if ev == nil || ev.Target == nil || ev.DefaultPrevented() {
		return false
	}
	if ev.Target.Closest("#"+errorRetryID) != nil {
		ev.PreventDefault()
		r.goRun(func() { _ = r.RetryLast(ctx) })
		return true
	}
	if ev.Target.Closest("#"+errorDismissID) != nil {
		ev.PreventDefault()
		r.DismissError()
		return true
	}
	if ev.Modified() {
		return false
	}
	a := ev.Target.Closest("a[href]")
	if a == nil || OptedOut(a) {
		return false
	}
	href, _ := a.Attr("href")
	path, ok := r.ResolveLink(href)
	if !ok {
		return false
	}
	ev.PreventDefault()
	r.goRun(func() { _ = r.Navigate(ctx, path, true, false) })
	return true
}

// HandlePopState re-renders the path of a history entry without pushing a
// new entry. A nil or empty entry falls back to the document location.
func (r *Router) HandlePopState(ctx context.Context, entry *dom.HistoryEntry) error {
	path := r.doc.Location().Path
	if entry != nil && entry.Path != "" {
		path = entry.Path
	}
	return r.Navigate(ctx, path, false, false)
}

// RetryLast navigates to the last failed path, if any.
func (r *Router) RetryLast(ctx context.Context) error {
	r.mu.Lock()
	path := r.lastFailed
	r.mu.Unlock()
	if path == "" {
		return nil
	}
	return r.Navigate(ctx, path, true, false)
}

// ResolveLink turns an href into a route path. ok is false for fragment,
// mailto:, tel: and javascript: links and for other origins.
func (r *Router) ResolveLink(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	lower := strings.ToLower(href)
	for _, scheme := range []string{"mailto:", "tel:", "javascript:"} {
		if strings.HasPrefix(lower, scheme) {
			return "", false
		}
	}
	loc := r.doc.Location()
	u, err := loc.Parse(href)
	if err != nil {
		return "", false
	}
	if u.Scheme != loc.Scheme || u.Host != loc.Host {
		return "", false
	}
	return fragment.NormalizePath(u.Path), true
}

// OptedOut reports whether a link must be left to the browser: it opens a
// new browsing context, is a download, or carries data-no-spa.
func OptedOut(a dom.Element) bool {
	if t, ok := a.Attr("target"); ok && t != "" && t != "_self" {
		return true
	}
	if _, ok := a.Attr("download"); ok {
		return true
	}
	_, ok := a.Attr("data-no-spa")
	return ok
}

func (r *Router) goRun(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

// Wait blocks until background navigations started by HandleClick finish.
func (r *Router) Wait() { r.wg.Wait() }

// Close stops the error auto-dismiss timer and waits for background work.
func (r *Router) Close() {
	r.mu.Lock()
	if r.dismiss != nil {
		r.dismiss.Stop()
		r.dismiss = nil
	}
	r.mu.Unlock()
	r.wg.Wait()
}
