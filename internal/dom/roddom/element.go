package roddom

import (
	"strings"

	"github.com/go-rod/rod"
	"go.uber.org/zap"

	"github.com/g-flame/airlink-panel/internal/dom"
)

type element struct {
	doc *Document
	el  *rod.Element
	tag string
}

func (e *element) call(js string, args ...any) (ok bool, value string) {
	res, err := e.el.Eval(js, args...)
	if err != nil {
		e.doc.logger.Debug("roddom: element eval", zap.String("js", js), zap.Error(err))
		return false, ""
	}
	if res.Value.Nil() {
		return true, ""
	}
	return true, res.Value.Str()
}

func (e *element) str(js string, args ...any) string {
	_, v := e.call(js, args...)
	return v
}

func (e *element) byJS(js string, args ...any) dom.Element {
	el, err := e.el.ElementByJS(rod.Eval(js, args...))
	if err != nil {
		return nil
	}
	return e.doc.wrap(el)
}

func (e *element) Tag() string { return e.tag }

func (e *element) ID() string { return e.str(`function() { return this.id }`) }

func (e *element) Attr(name string) (string, bool) {
	v, err := e.el.Attribute(name)
	if err != nil || v == nil {
		return "", false
	}
	return *v, true
}

func (e *element) SetAttr(name, value string) {
	e.call(`function(n, v) { this.setAttribute(n, v) }`, name, value)
}

func (e *element) RemoveAttr(name string) {
	e.call(`function(n) { this.removeAttribute(n) }`, name)
}

func (e *element) Attrs() map[string]string {
	res, err := e.el.Eval(`function() {
		const out = {};
		for (const a of this.attributes) out[a.name] = a.value;
		return out;
	}`)
	out := make(map[string]string)
	if err != nil {
		return out
	}
	_ = res.Value.Unmarshal(&out)
	return out
}

func (e *element) Classes() []string {
	return strings.Fields(e.str(`function() { return this.getAttribute("class") || "" }`))
}

func (e *element) HasClass(class string) bool {
	for _, c := range e.Classes() {
		if c == class {
			return true
		}
	}
	return false
}

func (e *element) AddClass(classes ...string) {
	e.call(`function(cs) { this.classList.add(...cs) }`, classes)
}

func (e *element) RemoveClass(classes ...string) {
	e.call(`function(cs) { this.classList.remove(...cs) }`, classes)
}

func (e *element) SetClasses(classes []string) {
	e.SetAttr("class", strings.Join(classes, " "))
}

func (e *element) Style() string {
	return e.str(`function() { return this.getAttribute("style") || "" }`)
}

func (e *element) SetStyle(style string) {
	if style == "" {
		e.RemoveAttr("style")
		return
	}
	e.SetAttr("style", style)
}

func (e *element) Scroll() (top, left float64) {
	res, err := e.el.Eval(`function() { return [this.scrollTop, this.scrollLeft] }`)
	if err != nil {
		return 0, 0
	}
	arr := res.Value.Arr()
	if len(arr) != 2 {
		return 0, 0
	}
	return arr[0].Num(), arr[1].Num()
}

func (e *element) SetScroll(top, left float64) {
	e.call(`function(t, l) { this.scrollTop = t; this.scrollLeft = l }`, top, left)
}

func (e *element) Value() string { return e.str(`function() { return this.value ?? "" }`) }

func (e *element) SetValue(value string) {
	e.call(`function(v) { this.value = v; this.dispatchEvent(new Event("change", {bubbles: true})) }`, value)
}

func (e *element) Checked() bool {
	res, err := e.el.Eval(`function() { return !!this.checked }`)
	return err == nil && res.Value.Bool()
}

func (e *element) SetChecked(checked bool) {
	e.call(`function(c) { this.checked = c }`, checked)
}

func (e *element) Text() string { return e.str(`function() { return this.textContent }`) }

func (e *element) SetText(text string) {
	e.call(`function(t) { this.textContent = t }`, text)
}

func (e *element) InnerHTML() string { return e.str(`function() { return this.innerHTML }`) }

func (e *element) SetInnerHTML(markup string) error {
	_, err := e.el.Eval(`function(m) { this.innerHTML = m }`, markup)
	return err
}

func (e *element) QuerySelector(selector string) dom.Element {
	ok, el, err := e.el.Has(selector)
	if err != nil || !ok {
		return nil
	}
	return e.doc.wrap(el)
}

func (e *element) QuerySelectorAll(selector string) []dom.Element {
	els, err := e.el.Elements(selector)
	if err != nil {
		return nil
	}
	return e.doc.wrapAll(els)
}

func (e *element) Matches(selector string) bool {
	ok, err := e.el.Matches(selector)
	return err == nil && ok
}

func (e *element) Closest(selector string) dom.Element {
	return e.byJS(`function(s) { return this.closest(s) }`, selector)
}

func (e *element) Parent() dom.Element {
	return e.byJS(`function() { return this.parentElement }`)
}

func (e *element) Children() []dom.Element {
	els, err := e.el.ElementsByJS(rod.Eval(`function() { return Array.from(this.children) }`))
	if err != nil {
		return nil
	}
	return e.doc.wrapAll(els)
}

func (e *element) AppendChild(child dom.Element) {
	c := e.doc.unwrap(child)
	e.call(`function(c) { this.appendChild(c) }`, c.el.Object)
}

func (e *element) ReplaceWith(replacement dom.Element) {
	r := e.doc.unwrap(replacement)
	e.call(`function(r) { this.replaceWith(r) }`, r.el.Object)
}

func (e *element) Remove() { e.call(`function() { this.remove() }`) }

func (e *element) Bounds() dom.Rect {
	var r dom.Rect
	res, err := e.el.Eval(`function() {
		const b = this.getBoundingClientRect();
		return {x: b.x, y: b.y, width: b.width, height: b.height};
	}`)
	if err == nil {
		_ = res.Value.Unmarshal(&r)
	}
	return r
}
