package persist

import (
	"strings"

	"github.com/g-flame/airlink-panel/internal/dom"
)

// Marker is the saved look of one element inside a persistent region.
type Marker struct {
	// Selector locates the element relative to its region.
	Selector string            `json:"selector"`
	Classes  []string          `json:"classes,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	// Style is the inline style; only toggle markers carry it.
	Style string `json:"style,omitempty"`
}

// State is the transient UI state of one persistent region.
type State struct {
	ScrollTop  float64           `json:"scroll_top"`
	ScrollLeft float64           `json:"scroll_left"`
	Active     []Marker          `json:"active,omitempty"`
	Forms      map[string]string `json:"forms,omitempty"`
	Toggles    []Marker          `json:"toggles,omitempty"`
}

// persistedAttr reports whether an attribute survives a snapshot.
func persistedAttr(name string) bool {
	return strings.HasPrefix(name, "data-") || name == "aria-current"
}

func markerAttrs(el dom.Element) map[string]string {
	var out map[string]string
	for k, v := range el.Attrs() {
		if !persistedAttr(k) {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[k] = v
	}
	return out
}

// applyMarker sets classes and persisted attributes exactly as recorded.
func applyMarker(el dom.Element, m Marker, withStyle bool) {
	el.SetClasses(m.Classes)
	for k := range el.Attrs() {
		if _, keep := m.Attrs[k]; persistedAttr(k) && !keep {
			el.RemoveAttr(k)
		}
	}
	for k, v := range m.Attrs {
		el.SetAttr(k, v)
	}
	if withStyle {
		el.SetStyle(m.Style)
	}
}
