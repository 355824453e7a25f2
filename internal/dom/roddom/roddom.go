// Package roddom implements dom.Document over a live Chrome page driven by
// go-rod. Every call is a CDP round trip, so it is meant for browse sessions
// and end-to-end checks, not hot loops.
package roddom

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/g-flame/airlink-panel/internal/dom"
)

// Document is a dom.Document backed by a rod page.
type Document struct {
	page   *rod.Page
	logger *zap.Logger

	mu    sync.Mutex
	nodes map[proto.DOMBackendNodeID]*element
}

// New wraps page. The page should already be loaded.
func New(page *rod.Page, logger *zap.Logger) *Document {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Document{
		page:   page.Sleeper(rod.NotFoundSleeper),
		logger: logger,
		nodes:  make(map[proto.DOMBackendNodeID]*element),
	}
}

// Page returns the underlying page.
func (d *Document) Page() *rod.Page { return d.page }

func (d *Document) eval(js string, args ...any) *proto.RuntimeRemoteObject {
	res, err := d.page.Eval(js, args...)
	if err != nil {
		d.logger.Debug("roddom: eval", zap.String("js", js), zap.Error(err))
		return nil
	}
	return res
}

func (d *Document) str(js string, args ...any) string {
	if res := d.eval(js, args...); res != nil {
		return res.Value.Str()
	}
	return ""
}

func (d *Document) Location() *url.URL {
	u, err := url.Parse(d.str(`() => location.href`))
	if err != nil {
		return &url.URL{}
	}
	return u
}

func (d *Document) Title() string { return d.str(`() => document.title`) }

func (d *Document) SetTitle(title string) {
	d.eval(`t => { document.title = t }`, title)
}

func (d *Document) Head() dom.Element { return d.byJS(`() => document.head`) }

func (d *Document) Body() dom.Element { return d.byJS(`() => document.body`) }

func (d *Document) GetElementByID(id string) dom.Element {
	return d.byJS(`id => document.getElementById(id)`, id)
}

func (d *Document) QuerySelector(selector string) dom.Element {
	ok, el, err := d.page.Has(selector)
	if err != nil || !ok {
		return nil
	}
	return d.wrap(el)
}

func (d *Document) QuerySelectorAll(selector string) []dom.Element {
	els, err := d.page.Elements(selector)
	if err != nil {
		return nil
	}
	return d.wrapAll(els)
}

func (d *Document) CreateElement(tag string) dom.Element {
	return d.byJS(`t => document.createElement(t)`, tag)
}

// ExecuteScript is a no-op: the browser runs inserted script elements itself.
func (d *Document) ExecuteScript(dom.Element) error { return nil }

func (d *Document) History() dom.History { return history{d} }

func (d *Document) byJS(js string, args ...any) dom.Element {
	el, err := d.page.ElementByJS(rod.Eval(js, args...))
	if err != nil {
		return nil
	}
	return d.wrap(el)
}

func (d *Document) wrap(el *rod.Element) dom.Element {
	if el == nil {
		return nil
	}
	node, err := el.Describe(0, false)
	if err != nil {
		d.logger.Debug("roddom: describe", zap.Error(err))
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.nodes[node.BackendNodeID]; ok {
		return e
	}
	e := &element{doc: d, el: el, tag: strings.ToLower(node.NodeName)}
	d.nodes[node.BackendNodeID] = e
	return e
}

func (d *Document) wrapAll(els rod.Elements) []dom.Element {
	out := make([]dom.Element, 0, len(els))
	for _, el := range els {
		if e := d.wrap(el); e != nil {
			out = append(out, e)
		}
	}
	return out
}

func (d *Document) unwrap(el dom.Element) *element {
	e, ok := el.(*element)
	if !ok || e.doc != d {
		panic(fmt.Sprintf("roddom: element %T does not belong to this document", el))
	}
	return e
}

// Reset drops cached element handles, e.g. after a full page load.
func (d *Document) Reset() {
	d.mu.Lock()
	d.nodes = make(map[proto.DOMBackendNodeID]*element)
	d.mu.Unlock()
}

type history struct{ d *Document }

func (h history) PushState(entry dom.HistoryEntry) {
	h.d.eval(`(s, p) => history.pushState(s, "", p)`, entry, entry.Path)
}

func (h history) ReplaceState(entry dom.HistoryEntry) {
	h.d.eval(`(s, p) => history.replaceState(s, "", p)`, entry, entry.Path)
}

func (h history) State() *dom.HistoryEntry {
	res := h.d.eval(`() => history.state`)
	if res == nil || res.Value.Nil() {
		return nil
	}
	var entry dom.HistoryEntry
	if err := res.Value.Unmarshal(&entry); err != nil || entry.Path == "" {
		return nil
	}
	return &entry
}

func (h history) Len() int {
	if res := h.d.eval(`() => history.length`); res != nil {
		return res.Value.Int()
	}
	return 0
}
