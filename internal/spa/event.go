package spa

import "github.com/g-flame/airlink-panel/internal/dom"

// EventKind identifies an external trigger.
type EventKind int

const (
	EventClick EventKind = iota
	EventPopState
	EventHoverStart
	EventHoverEnd
	EventVisible
	EventHidden
	EventPreloadNow
)

func (k EventKind) String() string {
	switch k {
	case EventClick:
		return "click"
	case EventPopState:
		return "popstate"
	case EventHoverStart:
		return "hover-start"
	case EventHoverEnd:
		return "hover-end"
	case EventVisible:
		return "visible"
	case EventHidden:
		return "hidden"
	case EventPreloadNow:
		return "preload-now"
	}
	return "unknown"
}

// Event is one trigger fed to App.Dispatch. Which fields are read depends
// on Kind: Click for clicks, Entry for popstate, Target for hover and
// visibility, Path for preload-now.
type Event struct {
	Kind   EventKind
	Click  *dom.ClickEvent
	Entry  *dom.HistoryEntry
	Target dom.Element
	Path   string

	reply chan bool
}

// Click builds a click event.
func Click(ev *dom.ClickEvent) Event { return Event{Kind: EventClick, Click: ev} }

// PopState builds a popstate event.
func PopState(entry *dom.HistoryEntry) Event { return Event{Kind: EventPopState, Entry: entry} }

// Pointer builds a hover or visibility event for el.
func Pointer(kind EventKind, el dom.Element) Event { return Event{Kind: kind, Target: el} }

// PreloadNow builds a manual preload request.
func PreloadNow(path string) Event { return Event{Kind: EventPreloadNow, Path: path} }
