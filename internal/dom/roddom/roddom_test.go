package roddom

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/g-flame/airlink-panel/internal/dom"
)

const testPage = `<!DOCTYPE html>
<html><head><title>Dashboard</title></head>
<body>
  <aside id="sidebar" style="height:50px;overflow:auto"><div style="height:500px">
    <a class="nav-link active" href="/dashboard">Dashboard</a>
    <a class="nav-link" href="/servers">Servers</a>
  </div></aside>
  <main id="spa-content"><h1>Dashboard</h1></main>
  <input id="q" name="q" value="mc">
</body></html>`

// newTestDocument launches a headless browser, or skips when none is
// installed.
func newTestDocument(t *testing.T) *Document {
	t.Helper()
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no Chrome or Chromium binary found")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(testPage))
	}))
	t.Cleanup(srv.Close)

	l := launcher.New().Bin(bin).Headless(true)
	u, err := l.Launch()
	if err != nil {
		t.Skipf("launch browser: %v", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		b.Close()
		l.Cleanup()
	})

	p, err := b.Page(proto.TargetCreateTarget{URL: srv.URL + "/dashboard"})
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if err := p.WaitLoad(); err != nil {
		t.Fatalf("wait load: %v", err)
	}
	return New(p, nil)
}

func TestDocumentBasics(t *testing.T) {
	d := newTestDocument(t)

	if d.Title() != "Dashboard" {
		t.Errorf("title = %q", d.Title())
	}
	if d.Location().Path != "/dashboard" {
		t.Errorf("location = %v", d.Location())
	}

	links := d.QuerySelectorAll(".nav-link")
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(links))
	}
	if d.QuerySelector(".nav-link.active") != links[0] {
		t.Error("same node should wrap to the same Element")
	}
	if d.QuerySelector("#nope") != nil {
		t.Error("missing element should be nil")
	}

	links[1].AddClass("active")
	links[0].RemoveClass("active")
	if !links[1].HasClass("active") || links[0].HasClass("active") {
		t.Errorf("classes = %v / %v", links[0].Classes(), links[1].Classes())
	}

	content := d.GetElementByID("spa-content")
	if err := content.SetInnerHTML(`<h1>Servers</h1><p>two</p>`); err != nil {
		t.Fatalf("SetInnerHTML: %v", err)
	}
	if got := content.QuerySelector("h1").Text(); got != "Servers" {
		t.Errorf("heading = %q", got)
	}

	sidebar := d.GetElementByID("sidebar")
	sidebar.SetScroll(120, 0)
	if top, _ := sidebar.Scroll(); top != 120 {
		t.Errorf("scroll top = %v", top)
	}

	q := d.GetElementByID("q")
	q.SetValue("rust")
	if q.Value() != "rust" {
		t.Errorf("value = %q", q.Value())
	}

	if b := links[0].Bounds(); b.Height == 0 {
		t.Errorf("bounds = %+v", b)
	}
}

func TestHistory(t *testing.T) {
	d := newTestDocument(t)
	h := d.History()
	before := h.Len()

	h.PushState(dom.HistoryEntry{Path: "/servers", Timestamp: 1, Title: "Servers"})
	if h.Len() != before+1 {
		t.Errorf("len = %d, want %d", h.Len(), before+1)
	}
	st := h.State()
	if st == nil || st.Path != "/servers" || st.Title != "Servers" {
		t.Errorf("state = %+v", st)
	}
	if d.Location().Path != "/servers" {
		t.Errorf("location = %v", d.Location())
	}
}
