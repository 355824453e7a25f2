// Package dom defines the document model the navigation layer runs against.
//
// The router, preloader and component state store never touch a concrete
// browser. They work through Document and Element, which are implemented by
// an in-memory HTML document (Parse) and by a live Chrome page (package
// roddom). Every lookup may return nil: callers treat a missing element as
// "feature unavailable" rather than an error.
package dom

import (
	"net/url"
)

// Rect is the on-screen box of an element in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Element is a single DOM element.
//
// Implementations return the same Element value for the same underlying node,
// so elements can be compared with == and used as map keys.
type Element interface {
	Tag() string
	ID() string

	Attr(name string) (string, bool)
	SetAttr(name, value string)
	RemoveAttr(name string)
	// Attrs returns a copy of every attribute on the element.
	Attrs() map[string]string

	Classes() []string
	HasClass(class string) bool
	AddClass(classes ...string)
	RemoveClass(classes ...string)
	SetClasses(classes []string)

	// Style and SetStyle read and write the inline style attribute.
	Style() string
	SetStyle(style string)

	Scroll() (top, left float64)
	SetScroll(top, left float64)

	// Value is the current value of a form control (input, textarea, select).
	Value() string
	SetValue(value string)
	Checked() bool
	SetChecked(checked bool)

	Text() string
	SetText(text string)
	InnerHTML() string
	SetInnerHTML(markup string) error

	QuerySelector(selector string) Element
	QuerySelectorAll(selector string) []Element
	Matches(selector string) bool
	Closest(selector string) Element

	Parent() Element
	Children() []Element
	AppendChild(child Element)
	ReplaceWith(replacement Element)
	Remove()

	Bounds() Rect
}

// Document is the page the navigation layer operates on.
type Document interface {
	// Location returns a copy of the document URL.
	Location() *url.URL

	Title() string
	SetTitle(title string)

	Head() Element
	Body() Element
	GetElementByID(id string) Element
	QuerySelector(selector string) Element
	QuerySelectorAll(selector string) []Element
	CreateElement(tag string) Element

	// ExecuteScript runs a script element that was inserted after page load.
	// Content assigned through SetInnerHTML never runs on its own.
	ExecuteScript(script Element) error

	History() History
}

// HistoryEntry is the state object stored with each session history entry.
type HistoryEntry struct {
	Path      string `json:"path"`
	Timestamp int64  `json:"timestamp"`
	Title     string `json:"title"`
}

// History is the session history of a Document.
type History interface {
	PushState(entry HistoryEntry)
	ReplaceState(entry HistoryEntry)
	// State returns the current entry, or nil before the first push/replace.
	State() *HistoryEntry
	Len() int
}

// ClickEvent is a click delivered to the document's global listener.
type ClickEvent struct {
	Target Element
	// Button is the pressed mouse button; 0 is the primary button.
	Button   int
	CtrlKey  bool
	MetaKey  bool
	ShiftKey bool
	AltKey   bool

	defaultPrevented bool
}

// PreventDefault suppresses the browser's native handling of the click.
func (e *ClickEvent) PreventDefault() { e.defaultPrevented = true }

// DefaultPrevented reports whether PreventDefault was called.
func (e *ClickEvent) DefaultPrevented() bool { return e.defaultPrevented }

// Modified reports whether the click should open in a new context
// (modifier keys held or a non-primary button).
func (e *ClickEvent) Modified() bool {
	return e.Button != 0 || e.CtrlKey || e.MetaKey || e.ShiftKey || e.AltKey
}
