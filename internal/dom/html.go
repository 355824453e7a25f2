package dom

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ExecutedScript records a script handed to HTMLDocument.ExecuteScript.
type ExecutedScript struct {
	Src    string
	Inline string
	Attrs  map[string]string
}

// ScriptRunner evaluates a script for an HTMLDocument. The in-memory
// document has no JavaScript engine, so the default runner only records.
type ScriptRunner func(script ExecutedScript) error

// HTMLOption configures an HTMLDocument.
type HTMLOption func(*HTMLDocument)

// WithScriptRunner sets the function invoked for executed scripts.
func WithScriptRunner(fn ScriptRunner) HTMLOption {
	return func(d *HTMLDocument) { d.runner = fn }
}

// HTMLDocument is an in-memory Document backed by golang.org/x/net/html.
// Selectors are evaluated with cascadia. All access is serialized through a
// single document lock, so it is safe to share between goroutines.
type HTMLDocument struct {
	mu       sync.Mutex
	root     *html.Node
	loc      *url.URL
	nodes    map[*html.Node]*htmlElement
	history  *MemoryHistory
	runner   ScriptRunner
	executed []ExecutedScript
}

// Parse reads an HTML document served at location.
func Parse(r io.Reader, location string, opts ...HTMLOption) (*HTMLDocument, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	loc, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("dom: parse location %q: %w", location, err)
	}
	d := &HTMLDocument{
		root:  root,
		loc:   loc,
		nodes: make(map[*html.Node]*htmlElement),
	}
	d.history = NewMemoryHistory(d.setPath)
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// ParseString is Parse for an in-memory string.
func ParseString(markup, location string, opts ...HTMLOption) (*HTMLDocument, error) {
	return Parse(strings.NewReader(markup), location, opts...)
}

func (d *HTMLDocument) setPath(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u := *d.loc
	u.Path = path
	u.RawQuery = ""
	u.Fragment = ""
	d.loc = &u
}

func (d *HTMLDocument) Location() *url.URL {
	d.mu.Lock()
	defer d.mu.Unlock()
	u := *d.loc
	return &u
}

func (d *HTMLDocument) Title() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t := findFirst(d.root, atom.Title); t != nil {
		return strings.TrimSpace(textOf(t))
	}
	return ""
}

func (d *HTMLDocument) SetTitle(title string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := findFirst(d.root, atom.Title)
	if t == nil {
		head := findFirst(d.root, atom.Head)
		if head == nil {
			return
		}
		t = &html.Node{Type: html.ElementNode, Data: "title", DataAtom: atom.Title}
		head.AppendChild(t)
	}
	setText(t, title)
}

func (d *HTMLDocument) Head() Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wrap(findFirst(d.root, atom.Head))
}

func (d *HTMLDocument) Body() Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wrap(findFirst(d.root, atom.Body))
}

func (d *HTMLDocument) GetElementByID(id string) Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	var found *html.Node
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && attr(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	return d.wrap(found)
}

func (d *HTMLDocument) QuerySelector(selector string) Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel := compile(selector)
	if sel == nil {
		return nil
	}
	return d.wrap(cascadia.Query(d.root, sel))
}

func (d *HTMLDocument) QuerySelectorAll(selector string) []Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel := compile(selector)
	if sel == nil {
		return nil
	}
	return d.wrapAll(cascadia.QueryAll(d.root, sel))
}

func (d *HTMLDocument) CreateElement(tag string) Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	tag = strings.ToLower(tag)
	return d.wrap(&html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))})
}

func (d *HTMLDocument) ExecuteScript(script Element) error {
	d.mu.Lock()
	e := d.unwrap(script)
	if e == nil {
		d.mu.Unlock()
		return fmt.Errorf("dom: script element belongs to another document")
	}
	rec := ExecutedScript{
		Src:    attr(e.n, "src"),
		Inline: textOf(e.n),
		Attrs:  attrMap(e.n),
	}
	d.executed = append(d.executed, rec)
	runner := d.runner
	d.mu.Unlock()

	if runner != nil {
		return runner(rec)
	}
	return nil
}

// Executed returns every script run so far, in order.
func (d *HTMLDocument) Executed() []ExecutedScript {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.executed)
}

func (d *HTMLDocument) History() History { return d.history }

// MemoryHistory returns the concrete history, which also supports Back and Forward.
func (d *HTMLDocument) MemoryHistory() *MemoryHistory { return d.history }

// SetBounds assigns the layout box reported by el.Bounds. The in-memory
// document does no layout of its own.
func (d *HTMLDocument) SetBounds(el Element, r Rect) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e := d.unwrap(el); e != nil {
		e.bounds = r
	}
}

// HTML renders the whole document.
func (d *HTMLDocument) HTML() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	_ = html.Render(&buf, d.root)
	return buf.String()
}

func (d *HTMLDocument) wrap(n *html.Node) Element {
	if n == nil {
		return nil
	}
	return d.wrapNode(n)
}

func (d *HTMLDocument) wrapNode(n *html.Node) *htmlElement {
	if e, ok := d.nodes[n]; ok {
		return e
	}
	e := &htmlElement{doc: d, n: n}
	d.nodes[n] = e
	return e
}

func (d *HTMLDocument) wrapAll(ns []*html.Node) []Element {
	if len(ns) == 0 {
		return nil
	}
	out := make([]Element, 0, len(ns))
	for _, n := range ns {
		out = append(out, d.wrapNode(n))
	}
	return out
}

func (d *HTMLDocument) unwrap(el Element) *htmlElement {
	e, ok := el.(*htmlElement)
	if !ok || e == nil || e.doc != d {
		return nil
	}
	return e
}

// forget drops wrappers for a detached subtree.
func (d *HTMLDocument) forget(n *html.Node) {
	walk(n, func(c *html.Node) bool {
		delete(d.nodes, c)
		return true
	})
}

// htmlElement is the Element of an HTMLDocument. Scroll offsets and layout
// bounds live on the wrapper because x/net/html has no notion of either.
type htmlElement struct {
	doc        *HTMLDocument
	n          *html.Node
	scrollTop  float64
	scrollLeft float64
	bounds     Rect
}

func (e *htmlElement) Tag() string { return e.n.Data }

func (e *htmlElement) ID() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return attr(e.n, "id")
}

func (e *htmlElement) Attr(name string) (string, bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	for _, a := range e.n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func (e *htmlElement) SetAttr(name, value string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	setAttr(e.n, name, value)
}

func (e *htmlElement) RemoveAttr(name string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	removeAttr(e.n, name)
}

func (e *htmlElement) Attrs() map[string]string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return attrMap(e.n)
}

func (e *htmlElement) Classes() []string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return classes(e.n)
}

func (e *htmlElement) HasClass(class string) bool {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return slices.Contains(classes(e.n), class)
}

func (e *htmlElement) AddClass(add ...string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	cur := classes(e.n)
	for _, c := range add {
		if c != "" && !slices.Contains(cur, c) {
			cur = append(cur, c)
		}
	}
	setClasses(e.n, cur)
}

func (e *htmlElement) RemoveClass(remove ...string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	cur := slices.DeleteFunc(classes(e.n), func(c string) bool {
		return slices.Contains(remove, c)
	})
	setClasses(e.n, cur)
}

func (e *htmlElement) SetClasses(cs []string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	setClasses(e.n, cs)
}

func (e *htmlElement) Style() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return attr(e.n, "style")
}

func (e *htmlElement) SetStyle(style string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if style == "" {
		removeAttr(e.n, "style")
		return
	}
	setAttr(e.n, "style", style)
}

func (e *htmlElement) Scroll() (float64, float64) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.scrollTop, e.scrollLeft
}

func (e *htmlElement) SetScroll(top, left float64) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.scrollTop, e.scrollLeft = max(top, 0), max(left, 0)
}

func (e *htmlElement) Value() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	switch e.n.DataAtom {
	case atom.Textarea:
		return textOf(e.n)
	case atom.Select:
		var first, selected *html.Node
		walk(e.n, func(c *html.Node) bool {
			if c.Type == html.ElementNode && c.DataAtom == atom.Option {
				if first == nil {
					first = c
				}
				if hasAttr(c, "selected") && selected == nil {
					selected = c
				}
			}
			return true
		})
		if selected == nil {
			selected = first
		}
		if selected == nil {
			return ""
		}
		return optionValue(selected)
	default:
		return attr(e.n, "value")
	}
}

func (e *htmlElement) SetValue(value string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	switch e.n.DataAtom {
	case atom.Textarea:
		setText(e.n, value)
	case atom.Select:
		walk(e.n, func(c *html.Node) bool {
			if c.Type == html.ElementNode && c.DataAtom == atom.Option {
				if optionValue(c) == value {
					setAttr(c, "selected", "")
				} else {
					removeAttr(c, "selected")
				}
			}
			return true
		})
	default:
		setAttr(e.n, "value", value)
	}
}

func (e *htmlElement) Checked() bool {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return hasAttr(e.n, "checked")
}

func (e *htmlElement) SetChecked(checked bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if checked {
		setAttr(e.n, "checked", "")
	} else {
		removeAttr(e.n, "checked")
	}
}

func (e *htmlElement) Text() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return textOf(e.n)
}

func (e *htmlElement) SetText(text string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.detachChildren()
	e.n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

func (e *htmlElement) InnerHTML() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	var buf bytes.Buffer
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&buf, c)
	}
	return buf.String()
}

func (e *htmlElement) SetInnerHTML(markup string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	nodes, err := html.ParseFragment(strings.NewReader(markup), e.n)
	if err != nil {
		return fmt.Errorf("dom: parse fragment: %w", err)
	}
	e.detachChildren()
	for _, c := range nodes {
		e.n.AppendChild(c)
	}
	return nil
}

func (e *htmlElement) detachChildren() {
	for c := e.n.FirstChild; c != nil; {
		next := c.NextSibling
		e.n.RemoveChild(c)
		e.doc.forget(c)
		c = next
	}
}

func (e *htmlElement) QuerySelector(selector string) Element {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	sel := compile(selector)
	if sel == nil {
		return nil
	}
	return e.doc.wrap(cascadia.Query(e.n, sel))
}

func (e *htmlElement) QuerySelectorAll(selector string) []Element {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	sel := compile(selector)
	if sel == nil {
		return nil
	}
	return e.doc.wrapAll(cascadia.QueryAll(e.n, sel))
}

func (e *htmlElement) Matches(selector string) bool {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	sel := compile(selector)
	return sel != nil && sel.Match(e.n)
}

func (e *htmlElement) Closest(selector string) Element {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	sel := compile(selector)
	if sel == nil {
		return nil
	}
	for n := e.n; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && sel.Match(n) {
			return e.doc.wrap(n)
		}
	}
	return nil
}

func (e *htmlElement) Parent() Element {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if p := e.n.Parent; p != nil && p.Type == html.ElementNode {
		return e.doc.wrap(p)
	}
	return nil
}

func (e *htmlElement) Children() []Element {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	var out []Element
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, e.doc.wrapNode(c))
		}
	}
	return out
}

func (e *htmlElement) AppendChild(child Element) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	c := e.doc.unwrap(child)
	if c == nil {
		return
	}
	if c.n.Parent != nil {
		c.n.Parent.RemoveChild(c.n)
	}
	e.n.AppendChild(c.n)
}

func (e *htmlElement) ReplaceWith(replacement Element) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	r := e.doc.unwrap(replacement)
	p := e.n.Parent
	if r == nil || p == nil {
		return
	}
	if r.n.Parent != nil {
		r.n.Parent.RemoveChild(r.n)
	}
	p.InsertBefore(r.n, e.n)
	p.RemoveChild(e.n)
	e.doc.forget(e.n)
}

func (e *htmlElement) Remove() {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if p := e.n.Parent; p != nil {
		p.RemoveChild(e.n)
		e.doc.forget(e.n)
	}
}

func (e *htmlElement) Bounds() Rect {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.bounds
}

// selectors caches compiled selectors. Invalid selectors are cached as nil.
var selectors sync.Map

func compile(selector string) cascadia.Selector {
	if v, ok := selectors.Load(selector); ok {
		return v.(cascadia.Selector)
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		sel = nil
	}
	selectors.Store(selector, sel)
	return sel
}

func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func findFirst(root *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == a {
			found = n
			return false
		}
		return true
	})
	return found
}

func textOf(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}

func setText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	n.Attr = slices.DeleteFunc(n.Attr, func(a html.Attribute) bool { return a.Key == key })
}

func attrMap(n *html.Node) map[string]string {
	m := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		m[a.Key] = a.Val
	}
	return m
}

// classes returns nil for an element without classes so snapshots compare equal.
func classes(n *html.Node) []string {
	cs := strings.Fields(attr(n, "class"))
	if len(cs) == 0 {
		return nil
	}
	return cs
}

func setClasses(n *html.Node, cs []string) {
	if len(cs) == 0 {
		removeAttr(n, "class")
		return
	}
	setAttr(n, "class", strings.Join(cs, " "))
}

func optionValue(n *html.Node) string {
	if hasAttr(n, "value") {
		return attr(n, "value")
	}
	return strings.TrimSpace(textOf(n))
}
