package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/goleak"

	"github.com/g-flame/airlink-panel/internal/dom"
	"github.com/g-flame/airlink-panel/internal/fragment"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

const panelPage = `<!DOCTYPE html><html><head><title>Panel</title>
<link rel="stylesheet" href="/css/app.css"></head><body>
<div id="loading-indicator" class="hidden"></div>
<div id="loading-overlay" class="hidden"></div>
<div id="error-container" class="hidden"><span id="error-message"></span>
<button id="error-retry"><span>Retry</span></button><button id="error-dismiss">x</button></div>
<aside id="sidebar"><nav id="nav"><span id="nav-indicator"></span>
<a class="nav-link active" href="/dashboard">Dashboard</a>
<a class="nav-link" href="/servers"><span id="servers-label">Servers</span></a>
<a class="nav-link" href="/settings/">Settings</a>
<a class="nav-link" href="/admin/servers">Admin</a>
<a id="external" href="https://example.com/docs">Docs</a>
<a id="mail" href="mailto:ops@example.com">Mail</a>
<a id="anchor" href="#top">Top</a>
<a id="blank" href="/servers" target="_blank">New tab</a>
<a id="nospa" href="/settings" data-no-spa>Full reload</a>
<a id="download" href="/backup.zip" download>Backup</a>
</nav></aside>
<main id="spa-content"><p>dashboard</p></main>
</body></html>`

// fragmentHandler serves <p>path</p> fragments titled after the path.
func fragmentHandler(w http.ResponseWriter, r *http.Request) {
	path, ok := fragment.RoutePath(fragment.DefaultEndpoint, r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(fragment.Fragment{
		Content: "<p>" + path + "</p>",
		Title:   "Panel " + path,
	})
}

func newFragmentServer(t *testing.T, h http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if got := r.Header.Get("X-Requested-With"); got != "XMLHttpRequest" {
			t.Errorf("X-Requested-With = %q", got)
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestRouter(t *testing.T, srv *httptest.Server, opts Options) (*dom.HTMLDocument, *Router) {
	t.Helper()
	doc, err := dom.ParseString(panelPage, "http://panel.local/dashboard")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	opts.BaseURL = srv.URL
	if opts.Clock == nil {
		opts.Clock = clockwork.NewFakeClock()
	}
	r := New(doc, fragment.NewCache(0), nil, opts)
	t.Cleanup(r.Close)
	return doc, r
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

type fetchResult struct {
	f   *fragment.Fragment
	err error
}

func TestFetchRetriesServerErrorThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv, hits := newFragmentServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		fragmentHandler(w, r)
	})
	clock := clockwork.NewFakeClock()
	_, r := newTestRouter(t, srv, Options{Clock: clock})

	done := make(chan fetchResult, 1)
	go func() {
		f, err := r.FetchPageData(context.Background(), "/servers")
		done <- fetchResult{f, err}
	}()

	clock.BlockUntil(1)
	clock.Advance(time.Second)

	res := <-done
	if res.err != nil {
		t.Fatalf("FetchPageData: %v", res.err)
	}
	if res.f.Content != "<p>/servers</p>" {
		t.Errorf("content = %q", res.f.Content)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("expected 2 requests, got %d", n)
	}
}

func TestFetchGivesUpAfterMaxRetries(t *testing.T) {
	srv, hits := newFragmentServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	clock := clockwork.NewFakeClock()
	_, r := newTestRouter(t, srv, Options{Clock: clock})

	done := make(chan fetchResult, 1)
	go func() {
		f, err := r.FetchPageData(context.Background(), "/servers")
		done <- fetchResult{f, err}
	}()

	for _, backoff := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		clock.BlockUntil(1)
		clock.Advance(backoff)
	}

	res := <-done
	var fe *FetchError
	if !errors.As(res.err, &fe) {
		t.Fatalf("expected FetchError, got %v", res.err)
	}
	if fe.Kind != KindServer || fe.Status != http.StatusBadGateway {
		t.Errorf("kind = %s status = %d", fe.Kind, fe.Status)
	}
	if fe.Attempts != 4 {
		t.Errorf("attempts = %d, want 4", fe.Attempts)
	}
	if n := hits.Load(); n != 4 {
		t.Errorf("expected 4 requests, got %d", n)
	}
}

func TestFetchClientErrorNotRetried(t *testing.T) {
	srv, hits := newFragmentServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	_, r := newTestRouter(t, srv, Options{})

	_, err := r.FetchPageData(context.Background(), "/missing")
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != KindClient || fe.Status != http.StatusNotFound {
		t.Fatalf("expected 404 client error, got %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("expected 1 request, got %d", n)
	}
	if msg := UserMessage(err); msg != "This page does not exist." {
		t.Errorf("UserMessage = %q", msg)
	}
}

func TestFetchTimeoutIsTerminal(t *testing.T) {
	srv, hits := newFragmentServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	_, r := newTestRouter(t, srv, Options{Timeout: 50 * time.Millisecond})

	_, err := r.FetchPageData(context.Background(), "/slow")
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("expected 1 request, got %d", n)
	}
}

func TestFetchMalformedBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>login</html>"},
		{"no content", `{"title":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newFragmentServer(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			_, r := newTestRouter(t, srv, Options{})
			_, err := r.FetchPageData(context.Background(), "/servers")
			var fe *FetchError
			if !errors.As(err, &fe) || fe.Kind != KindRender {
				t.Fatalf("expected render error, got %v", err)
			}
		})
	}
}

func TestFetchEndpointPaths(t *testing.T) {
	var got []string
	srv, _ := newFragmentServer(t, func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.URL.Path)
		fragmentHandler(w, r)
	})
	_, r := newTestRouter(t, srv, Options{})
	for _, p := range []string{"/", "/admin/servers/", "/settings?tab=2"} {
		if _, err := r.FetchPageData(context.Background(), p); err != nil {
			t.Fatalf("FetchPageData(%q): %v", p, err)
		}
	}
	want := []string{"/api/page-content/", "/api/page-content/admin/servers", "/api/page-content/settings"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("paths = %v, want %v", got, want)
	}
}

func TestNavigateRendersAndPushesHistory(t *testing.T) {
	srv, _ := newFragmentServer(t, fragmentHandler)
	var results []Result
	doc, r := newTestRouter(t, srv, Options{OnNavigate: func(res Result) { results = append(results, res) }})
	doc.SetBounds(doc.GetElementByID("nav"), dom.Rect{X: 10, Y: 100, Width: 200, Height: 400})
	doc.SetBounds(doc.QuerySelector(`a[href="/servers"]`), dom.Rect{X: 10, Y: 140, Width: 200, Height: 40})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Navigate(context.Background(), "/servers", true, false); err != nil {
		t.Fatalf("Navigate: %v", err)
	}

	if got := doc.GetElementByID("spa-content").InnerHTML(); got != "<p>/servers</p>" {
		t.Errorf("content = %q", got)
	}
	if doc.Title() != "Panel /servers" {
		t.Errorf("title = %q", doc.Title())
	}
	h := doc.MemoryHistory()
	if h.Len() != 2 || h.State().Path != "/servers" || h.State().Title != "Panel /servers" {
		t.Errorf("history len=%d state=%+v", h.Len(), h.State())
	}
	if doc.Location().Path != "/servers" || r.Current() != "/servers" {
		t.Errorf("location = %s current = %s", doc.Location().Path, r.Current())
	}
	if doc.QuerySelector(`a[href="/dashboard"]`).HasClass("active") {
		t.Error("dashboard link still active")
	}
	servers := doc.QuerySelector(`a[href="/servers"]`)
	if !servers.HasClass("active") {
		t.Error("servers link not active")
	}
	if v, _ := servers.Attr("aria-current"); v != "page" {
		t.Errorf("aria-current = %q", v)
	}
	if style := doc.GetElementByID("nav-indicator").Style(); !strings.Contains(style, "translate(0px, 40px)") {
		t.Errorf("indicator style = %q", style)
	}
	if !doc.GetElementByID("loading-indicator").HasClass("hidden") {
		t.Error("loading indicator left visible")
	}
	if len(results) != 2 || !results[0].Initial || results[1].Source != SourceNetwork {
		t.Errorf("results = %+v", results)
	}
}

func TestNavigateSamePathIsNoop(t *testing.T) {
	srv, hits := newFragmentServer(t, fragmentHandler)
	_, r := newTestRouter(t, srv, Options{})
	if err := r.Navigate(context.Background(), "/dashboard/", true, false); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if n := hits.Load(); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestNavigateUsesCacheWithoutRequests(t *testing.T) {
	srv, hits := newFragmentServer(t, fragmentHandler)
	doc, r := newTestRouter(t, srv, Options{})
	r.cache.Put("/servers", &fragment.Fragment{Content: "<p>cached</p>", Title: "Servers"})
	r.cache.PutSpeculative("/settings", fragment.Entry{
		Fragment: &fragment.Fragment{Content: "<p>preloaded</p>"},
		Priority: 1,
		Source:   "hover",
	})

	if err := r.Navigate(context.Background(), "/servers", true, false); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if err := r.Navigate(context.Background(), "/settings", true, false); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if n := hits.Load(); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
	if got := doc.GetElementByID("spa-content").InnerHTML(); got != "<p>preloaded</p>" {
		t.Errorf("content = %q", got)
	}
	if _, ok := r.cache.GetSpeculative("/settings"); ok {
		t.Error("speculative entry should have been promoted")
	}
	if _, ok := r.cache.Get("/settings"); !ok {
		t.Error("promoted entry missing from confirmed cache")
	}
	if doc.Title() != "Servers" {
		t.Errorf("untitled fragment should keep title, got %q", doc.Title())
	}
	st := r.Stats()
	if st.CacheHits != 1 || st.SpeculativeHits != 1 || st.NetworkFetches != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestNavigateWhileBusyIsDropped(t *testing.T) {
	release := make(chan struct{})
	srv, hits := newFragmentServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		fragmentHandler(w, r)
	})
	doc, r := newTestRouter(t, srv, Options{})

	done := make(chan error, 1)
	go func() { done <- r.Navigate(context.Background(), "/servers", true, false) }()
	eventually(t, "navigation in flight", r.InFlight)

	if err := r.Navigate(context.Background(), "/settings", true, false); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("expected 1 request, got %d", n)
	}
	if doc.MemoryHistory().Len() != 1 || r.Current() != "/servers" {
		t.Errorf("history len = %d current = %s", doc.MemoryHistory().Len(), r.Current())
	}
	if r.Stats().Dropped != 1 {
		t.Errorf("dropped = %d", r.Stats().Dropped)
	}
}

func TestInitialLoadDoesNotReleaseBusyRouter(t *testing.T) {
	release := make(chan struct{})
	srv, hits := newFragmentServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		fragmentHandler(w, r)
	})
	_, r := newTestRouter(t, srv, Options{})
	r.cache.Put("/dashboard", &fragment.Fragment{Content: "<p>dashboard</p>", Title: "Dashboard"})

	done := make(chan error, 1)
	go func() { done <- r.Navigate(context.Background(), "/servers", true, false) }()
	eventually(t, "navigation in flight", r.InFlight)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !r.InFlight() {
		t.Fatal("initial load cleared the in-flight flag of /servers")
	}
	if err := r.Navigate(context.Background(), "/settings", true, false); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if r.InFlight() {
		t.Error("router still busy after both navigations finished")
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("expected 1 request, got %d", n)
	}
}

func TestNavigateFailureShowsErrorBanner(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv, _ := newFragmentServer(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.NotFound(w, r)
			return
		}
		fragmentHandler(w, r)
	})
	clock := clockwork.NewFakeClock()
	doc, r := newTestRouter(t, srv, Options{Clock: clock})

	err := r.Navigate(context.Background(), "/servers", true, false)
	if err == nil {
		t.Fatal("expected error")
	}
	if !r.ErrorVisible() {
		t.Fatal("error banner hidden")
	}
	if msg := doc.GetElementByID("error-message").Text(); msg != "This page does not exist." {
		t.Errorf("message = %q", msg)
	}
	if got := doc.GetElementByID("spa-content").InnerHTML(); got != "<p>dashboard</p>" {
		t.Errorf("content changed on failure: %q", got)
	}
	if r.Current() != "/dashboard" || doc.MemoryHistory().Len() != 0 {
		t.Errorf("current = %s history = %d", r.Current(), doc.MemoryHistory().Len())
	}

	// Retry button re-attempts the failed path.
	fail.Store(false)
	ev := &dom.ClickEvent{Target: doc.QuerySelector("#error-retry span")}
	if !r.HandleClick(context.Background(), ev) || !ev.DefaultPrevented() {
		t.Fatal("retry click not handled")
	}
	r.Wait()
	if r.Current() != "/servers" || r.ErrorVisible() {
		t.Errorf("after retry current = %s visible = %v", r.Current(), r.ErrorVisible())
	}
}

func TestErrorBannerAutoDismisses(t *testing.T) {
	srv, _ := newFragmentServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	})
	clock := clockwork.NewFakeClock()
	_, r := newTestRouter(t, srv, Options{Clock: clock})

	_ = r.Navigate(context.Background(), "/admin/nodes", true, false)
	if !r.ErrorVisible() {
		t.Fatal("error banner hidden")
	}
	clock.Advance(9 * time.Second)
	if !r.ErrorVisible() {
		t.Fatal("banner dismissed early")
	}
	clock.Advance(time.Second)
	eventually(t, "banner dismissed", func() bool { return !r.ErrorVisible() })
}

func TestMissingContentRegionIsRenderError(t *testing.T) {
	srv, _ := newFragmentServer(t, fragmentHandler)
	_, r := newTestRouter(t, srv, Options{ContentID: "does-not-exist"})
	err := r.Navigate(context.Background(), "/servers", true, false)
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != KindRender {
		t.Fatalf("expected render error, got %v", err)
	}
}

func TestHandleClick(t *testing.T) {
	tests := []struct {
		name     string
		selector string
		ev       dom.ClickEvent
		want     bool
	}{
		{"nav link", `a[href="/admin/servers"]`, dom.ClickEvent{}, true},
		{"child of link", "#servers-label", dom.ClickEvent{}, true},
		{"trailing slash", `a[href="/settings/"]`, dom.ClickEvent{}, true},
		{"external", "#external", dom.ClickEvent{}, false},
		{"mailto", "#mail", dom.ClickEvent{}, false},
		{"anchor", "#anchor", dom.ClickEvent{}, false},
		{"new tab", "#blank", dom.ClickEvent{}, false},
		{"opt out", "#nospa", dom.ClickEvent{}, false},
		{"download", "#download", dom.ClickEvent{}, false},
		{"ctrl click", `a[href="/admin/servers"]`, dom.ClickEvent{CtrlKey: true}, false},
		{"middle button", `a[href="/admin/servers"]`, dom.ClickEvent{Button: 1}, false},
		{"not a link", "#spa-content", dom.ClickEvent{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, hits := newFragmentServer(t, fragmentHandler)
			doc, r := newTestRouter(t, srv, Options{})
			ev := tt.ev
			ev.Target = doc.QuerySelector(tt.selector)
			if ev.Target == nil {
				t.Fatalf("no element for %s", tt.selector)
			}
			got := r.HandleClick(context.Background(), &ev)
			r.Wait()
			if got != tt.want || ev.DefaultPrevented() != tt.want {
				t.Errorf("handled = %v prevented = %v, want %v", got, ev.DefaultPrevented(), tt.want)
			}
			wantHits := int32(0)
			if tt.want {
				wantHits = 1
			}
			if n := hits.Load(); n != wantHits {
				t.Errorf("requests = %d, want %d", n, wantHits)
			}
		})
	}
}

func TestPopStateDoesNotPush(t *testing.T) {
	srv, _ := newFragmentServer(t, fragmentHandler)
	doc, r := newTestRouter(t, srv, Options{})
	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Navigate(ctx, "/servers", true, false); err != nil {
		t.Fatalf("Navigate: %v", err)
	}

	entry, ok := doc.MemoryHistory().Back()
	if !ok {
		t.Fatal("Back failed")
	}
	if err := r.HandlePopState(ctx, entry); err != nil {
		t.Fatalf("HandlePopState: %v", err)
	}
	if r.Current() != "/dashboard" || doc.MemoryHistory().Len() != 2 {
		t.Errorf("current = %s len = %d", r.Current(), doc.MemoryHistory().Len())
	}
	if got := doc.GetElementByID("spa-content").InnerHTML(); got != "<p>/dashboard</p>" {
		t.Errorf("content = %q", got)
	}
}

func TestScriptsAndAssets(t *testing.T) {
	srv, _ := newFragmentServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(fragment.Fragment{
			Content: `<div>servers</div><script>window.servers = 1</script>` +
				`<script type="application/json">{"a":1}</script>`,
			Scripts: []string{"/js/servers.js"},
			Styles:  []string{"/css/app.css", "http://panel.local/css/servers.css"},
		})
	})
	doc, r := newTestRouter(t, srv, Options{})
	ctx := context.Background()

	if err := r.Navigate(ctx, "/servers", true, false); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if err := r.Navigate(ctx, "/settings", true, false); err != nil {
		t.Fatalf("Navigate: %v", err)
	}

	var inline, external int
	for _, s := range doc.Executed() {
		switch {
		case s.Src == "/js/servers.js":
			external++
		case strings.Contains(s.Inline, "window.servers"):
			inline++
		case strings.Contains(s.Inline, `"a":1`):
			t.Error("data block executed")
		}
	}
	if inline != 2 || external != 1 {
		t.Errorf("inline = %d external = %d", inline, external)
	}
	if n := len(doc.QuerySelectorAll(`link[rel="stylesheet"]`)); n != 2 {
		t.Errorf("stylesheets = %d, want 2", n)
	}
}
