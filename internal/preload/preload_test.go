package preload

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/goleak"

	"github.com/g-flame/airlink-panel/internal/dom"
	"github.com/g-flame/airlink-panel/internal/fragment"
	"github.com/g-flame/airlink-panel/internal/router"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

const page = `<!DOCTYPE html><html><head><title>Panel</title></head><body>
<aside id="sidebar"><a class="nav-link" href="/admin/servers">Servers</a></aside>
<main id="spa-content">
  <a id="plain" href="/account">Account</a>
  <a id="btn" class="btn" href="/settings">Settings</a>
  <a id="role" role="button" href="/admin/nodes">Nodes</a>
  <a id="nopreload" data-no-preload href="/servers">Servers</a>
  <a id="auth" href="/auth/logout">Logout</a>
  <a id="ext" href="https://example.com/">Elsewhere</a>
  <a id="tel" href="tel:+15550100">Call</a>
</main>
</body></html>`

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) add(p string) {
	r.mu.Lock()
	r.paths = append(r.paths, p)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

type harness struct {
	doc   *dom.HTMLDocument
	cache *fragment.Cache
	clock clockwork.FakeClock
	pre   *Preloader
	reqs  *recorder
	hits  *atomic.Int32
}

func newHarness(t *testing.T, block chan struct{}, opts Options) *harness {
	t.Helper()
	reqs := &recorder{}
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		reqs.add(r.URL.Path)
		if block != nil {
			<-block
		}
		path, _ := fragment.RoutePath(fragment.DefaultEndpoint, r.URL.Path)
		_ = json.NewEncoder(w).Encode(fragment.Fragment{Content: "<p>" + path + "</p>"})
	}))
	t.Cleanup(srv.Close)

	doc, err := dom.ParseString(page, "http://panel.local/dashboard")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	clock := clockwork.NewFakeClock()
	cache := fragment.NewCache(0)
	r := router.New(doc, cache, nil, router.Options{BaseURL: srv.URL, Clock: clock})
	t.Cleanup(r.Close)

	opts.Clock = clock
	pre, err := New(r, cache, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(pre.Close)
	return &harness{doc: doc, cache: cache, clock: clock, pre: pre, reqs: reqs, hits: &hits}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHoverPreloadsAfterDebounce(t *testing.T) {
	var events []Event
	var mu sync.Mutex
	h := newHarness(t, nil, Options{Notify: func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}})
	link := h.doc.QuerySelector(`a[href="/admin/servers"]`)

	h.pre.HoverStart(link)
	h.pre.HoverStart(link)
	h.clock.Advance(150 * time.Millisecond)
	eventually(t, "speculative entry", func() bool { return h.cache.Resolved("/admin/servers") })
	h.pre.Wait()

	if got := h.reqs.list(); len(got) != 1 || got[0] != "/api/page-content/admin/servers" {
		t.Fatalf("requests = %v", got)
	}
	e, ok := h.cache.GetSpeculative("/admin/servers")
	if !ok || e.Priority != PriorityNav || e.Source != SourceHover {
		t.Errorf("entry = %+v ok=%v", e, ok)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0].Path != "/admin/servers" || events[0].Size == 0 {
		t.Errorf("events = %+v", events)
	}
}

func TestHoverEndCancelsDebounce(t *testing.T) {
	h := newHarness(t, nil, Options{})
	link := h.doc.QuerySelector(`a[href="/admin/servers"]`)

	h.pre.HoverStart(link)
	h.clock.Advance(50 * time.Millisecond)
	h.pre.HoverEnd(link)
	h.clock.Advance(time.Second)
	h.pre.Wait()

	if n := h.hits.Load(); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
	if s := h.pre.Stats(); s.Timers != 0 {
		t.Errorf("timers = %d", s.Timers)
	}
}

func TestVisibleRequiresContinuedVisibility(t *testing.T) {
	h := newHarness(t, nil, Options{})
	stays := h.doc.GetElementByID("plain")
	leaves := h.doc.GetElementByID("btn")

	h.pre.Visible(stays)
	h.pre.Visible(leaves)
	h.clock.Advance(200 * time.Millisecond)
	h.pre.Hidden(leaves)
	h.clock.Advance(400 * time.Millisecond)
	eventually(t, "visible preload", func() bool { return h.cache.Resolved("/account") })
	h.pre.Wait()

	if h.cache.Resolved("/settings") {
		t.Error("link that left the viewport was preloaded")
	}
	if e, _ := h.cache.GetSpeculative("/account"); e.Source != SourceVisible || e.Priority != PriorityContent {
		t.Errorf("entry = %+v", e)
	}
}

func TestShouldPreload(t *testing.T) {
	h := newHarness(t, nil, Options{Exclude: []string{"/auth/**"}})
	h.cache.Put("/dashboard", &fragment.Fragment{Content: "x"})

	tests := []struct {
		id   string
		href string
		want bool
	}{
		{"plain", "/account", true},
		{"nopreload", "/servers", false},
		{"auth", "/auth/logout", false},
		{"ext", "https://example.com/", false},
		{"tel", "tel:+15550100", false},
		{"", "#section", false},
		{"", "/dashboard/", false},
	}
	for _, tt := range tests {
		var el dom.Element
		if tt.id != "" {
			el = h.doc.GetElementByID(tt.id)
		}
		if got := h.pre.ShouldPreload(tt.href, el); got != tt.want {
			t.Errorf("ShouldPreload(%q) = %v, want %v", tt.href, got, tt.want)
		}
	}
}

func TestPriorityOf(t *testing.T) {
	h := newHarness(t, nil, Options{})
	tests := map[string]int{
		`a[href="/admin/servers"]`: PriorityNav,
		"#btn":                     PriorityButton,
		"#role":                    PriorityButton,
		"#plain":                   PriorityContent,
	}
	for sel, want := range tests {
		if got := PriorityOf(h.doc.QuerySelector(sel)); got != want {
			t.Errorf("PriorityOf(%s) = %d, want %d", sel, got, want)
		}
	}
}

func TestConcurrencyLimit(t *testing.T) {
	block := make(chan struct{})
	h := newHarness(t, block, Options{})

	for i := 0; i < 5; i++ {
		h.pre.Schedule(fmt.Sprintf("/servers/%d", i), PriorityContent, SourceVisible)
	}
	eventually(t, "two requests", func() bool { return h.hits.Load() == 2 })
	time.Sleep(20 * time.Millisecond)
	if n := h.hits.Load(); n != 2 {
		t.Fatalf("in flight = %d, want 2", n)
	}
	if s := h.pre.Stats(); s.InFlight != 2 || s.Pending != 3 {
		t.Errorf("stats = %+v", s)
	}
	close(block)
	eventually(t, "all preloads", func() bool { return h.cache.SpeculativeLen() == 5 })
	h.pre.Wait()
	if n := h.hits.Load(); n != 5 {
		t.Errorf("requests = %d, want 5", n)
	}
}

func TestQueueOrdersByPriority(t *testing.T) {
	block := make(chan struct{})
	h := newHarness(t, block, Options{MaxConcurrent: 1})

	h.pre.Schedule("/first", PriorityContent, SourceVisible)
	eventually(t, "first request", func() bool { return h.hits.Load() == 1 })
	h.pre.Schedule("/content", PriorityContent, SourceVisible)
	h.pre.Schedule("/nav", PriorityNav, SourceHover)
	h.pre.Schedule("/button", PriorityButton, SourceHover)
	h.pre.Schedule("/nav", PriorityNav, SourceHover)

	for i := 0; i < 4; i++ {
		block <- struct{}{}
	}
	h.pre.Wait()

	want := []string{"/api/page-content/first", "/api/page-content/nav", "/api/page-content/button", "/api/page-content/content"}
	got := h.reqs.list()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestPreloadNowBypassesLimit(t *testing.T) {
	block := make(chan struct{})
	h := newHarness(t, block, Options{MaxConcurrent: 1})

	h.pre.Schedule("/queued", PriorityContent, SourceVisible)
	eventually(t, "first request", func() bool { return h.hits.Load() == 1 })
	h.pre.Schedule("/waiting", PriorityContent, SourceVisible)
	h.pre.PreloadNow("/admin/nodes")
	eventually(t, "manual request", func() bool { return h.hits.Load() == 2 })
	if st := h.pre.Stats(); st.InFlight != 2 || st.Pending != 1 {
		t.Errorf("stats = %+v, want the manual fetch beside the scheduled one", st)
	}
	close(block)
	h.pre.Wait()

	e, ok := h.cache.GetSpeculative("/admin/nodes")
	if !ok || e.Priority != PriorityManual || e.Source != SourceManual {
		t.Errorf("entry = %+v ok=%v", e, ok)
	}
}

func TestCleanupEvictsOldest(t *testing.T) {
	h := newHarness(t, nil, Options{})
	for i := 0; i < 25; i++ {
		h.pre.PreloadNow(fmt.Sprintf("/servers/%d", i))
		h.pre.Wait()
		h.clock.Advance(time.Second)
	}
	// A promoted entry is no longer the preloader's to evict.
	h.cache.Promote("/servers/24")

	if n := h.pre.Cleanup(); n != 4 {
		t.Fatalf("evicted %d, want 4", n)
	}
	for i := 0; i < 4; i++ {
		if h.cache.Resolved(fmt.Sprintf("/servers/%d", i)) {
			t.Errorf("/servers/%d should have been evicted", i)
		}
	}
	if h.cache.SpeculativeLen() != 20 || h.pre.Stats().Entries != 20 {
		t.Errorf("speculative = %d entries = %d", h.cache.SpeculativeLen(), h.pre.Stats().Entries)
	}
	if _, ok := h.cache.Get("/servers/24"); !ok {
		t.Error("promoted entry lost")
	}
}

func TestCleanupKeepsNewestTwenty(t *testing.T) {
	h := newHarness(t, nil, Options{})
	for i := 0; i < 25; i++ {
		h.pre.PreloadNow(fmt.Sprintf("/servers/%d", i))
		h.pre.Wait()
		h.clock.Advance(time.Second)
	}
	if h.cache.SpeculativeLen() != 25 {
		t.Fatalf("speculative = %d, want 25", h.cache.SpeculativeLen())
	}

	if n := h.pre.Cleanup(); n != 5 {
		t.Fatalf("evicted %d, want 5", n)
	}
	for i := 0; i < 25; i++ {
		path := fmt.Sprintf("/servers/%d", i)
		_, ok := h.cache.GetSpeculative(path)
		if want := i >= 5; ok != want {
			t.Errorf("%s cached = %v, want %v", path, ok, want)
		}
	}
	if h.cache.SpeculativeLen() != 20 || h.pre.Stats().Entries != 20 {
		t.Errorf("speculative = %d entries = %d", h.cache.SpeculativeLen(), h.pre.Stats().Entries)
	}
	if n := h.pre.Cleanup(); n != 0 {
		t.Errorf("second cleanup evicted %d", n)
	}
}

func TestRunEvictsOnInterval(t *testing.T) {
	h := newHarness(t, nil, Options{})
	for i := 0; i < 25; i++ {
		h.pre.PreloadNow(fmt.Sprintf("/nodes/%d", i))
		h.pre.Wait()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.pre.Run(ctx) }()

	eventually(t, "eviction pass", func() bool {
		h.clock.Advance(60 * time.Second)
		return h.cache.SpeculativeLen() == 20
	})
	for i := 0; i < 5; i++ {
		if h.cache.Resolved(fmt.Sprintf("/nodes/%d", i)) {
			t.Errorf("/nodes/%d should have been evicted", i)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestInvalidExcludePattern(t *testing.T) {
	if _, err := New(nil, fragment.NewCache(0), Options{Exclude: []string{"/auth/[**"}}); err == nil {
		t.Error("expected error for invalid pattern")
	}
}
