package persist

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/g-flame/airlink-panel/internal/dom"
)

// StatePersistable captures and restores one kind of transient UI state
// inside a persistent region.
type StatePersistable interface {
	Name() string
	Capture(region dom.Element, st *State)
	Restore(region dom.Element, st *State)
}

const (
	activeSelector = ".active, [aria-current]"
	toggleSelector = "[data-toggle], [data-bs-toggle], .collapse, .dropdown, [aria-expanded]"
	fieldSelector  = "input[name], textarea[name], select[name]"
)

// Scroll keeps the region's own scroll offsets.
type Scroll struct{}

func (Scroll) Name() string { return "scroll" }

func (Scroll) Capture(region dom.Element, st *State) {
	st.ScrollTop, st.ScrollLeft = region.Scroll()
}

func (Scroll) Restore(region dom.Element, st *State) {
	region.SetScroll(st.ScrollTop, st.ScrollLeft)
}

// Active keeps which descendants carry an active marker.
type Active struct{}

func (Active) Name() string { return "active" }

func (Active) Capture(region dom.Element, st *State) {
	st.Active = nil
	for _, el := range region.QuerySelectorAll(activeSelector) {
		sel := selectorPath(region, el)
		if sel == "" {
			continue
		}
		st.Active = append(st.Active, Marker{
			Selector: sel,
			Classes:  el.Classes(),
			Attrs:    markerAttrs(el),
		})
	}
}

func (Active) Restore(region dom.Element, st *State) {
	targets := make(map[dom.Element]Marker, len(st.Active))
	for _, m := range st.Active {
		if el := resolve(region, m.Selector); el != nil {
			targets[el] = m
		}
	}
	// Markers added since the snapshot would otherwise leave two active items.
	for _, el := range region.QuerySelectorAll(activeSelector) {
		if _, ok := targets[el]; !ok {
			el.RemoveClass("active")
			el.RemoveAttr("aria-current")
		}
	}
	for el, m := range targets {
		applyMarker(el, m, false)
	}
}

// Forms keeps form field values keyed by field name. Password and file
// inputs are never captured.
type Forms struct{}

func (Forms) Name() string { return "forms" }

func (Forms) Capture(region dom.Element, st *State) {
	st.Forms = nil
	for _, el := range region.QuerySelectorAll(fieldSelector) {
		name, _ := el.Attr("name")
		typ := inputType(el)
		if name == "" || typ == "password" || typ == "file" {
			continue
		}
		if st.Forms == nil {
			st.Forms = make(map[string]string)
		}
		switch typ {
		case "checkbox":
			st.Forms[name] = strconv.FormatBool(el.Checked())
		case "radio":
			if el.Checked() {
				st.Forms[name] = el.Value()
			}
		default:
			st.Forms[name] = el.Value()
		}
	}
}

func (Forms) Restore(region dom.Element, st *State) {
	if len(st.Forms) == 0 {
		return
	}
	for _, el := range region.QuerySelectorAll(fieldSelector) {
		name, _ := el.Attr("name")
		v, ok := st.Forms[name]
		if !ok {
			continue
		}
		switch inputType(el) {
		case "password", "file":
		case "checkbox":
			el.SetChecked(v == "true")
		case "radio":
			el.SetChecked(el.Value() == v)
		default:
			el.SetValue(v)
		}
	}
}

// Toggles keeps collapse/dropdown state: classes, persisted attributes and
// the inline style.
type Toggles struct{}

func (Toggles) Name() string { return "toggles" }

func (Toggles) Capture(region dom.Element, st *State) {
	st.Toggles = nil
	for _, el := range region.QuerySelectorAll(toggleSelector) {
		sel := selectorPath(region, el)
		if sel == "" {
			continue
		}
		st.Toggles = append(st.Toggles, Marker{
			Selector: sel,
			Classes:  el.Classes(),
			Attrs:    markerAttrs(el),
			Style:    el.Style(),
		})
	}
}

func (Toggles) Restore(region dom.Element, st *State) {
	for _, m := range st.Toggles {
		if el := resolve(region, m.Selector); el != nil {
			applyMarker(el, m, true)
		}
	}
}

func inputType(el dom.Element) string {
	if el.Tag() != "input" {
		return el.Tag()
	}
	t, _ := el.Attr("type")
	if t == "" {
		return "text"
	}
	return strings.ToLower(t)
}

var plainIdent = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// selectorPath builds a selector for el relative to region, anchored on the
// nearest descendant id when one is usable. It returns "" when el is not
// inside region.
func selectorPath(region, el dom.Element) string {
	var parts []string
	cur := el
	for cur != region {
		if cur == nil {
			return ""
		}
		if id := cur.ID(); plainIdent.MatchString(id) {
			parts = append(parts, "#"+id)
			break
		}
		parent := cur.Parent()
		if parent == nil {
			return ""
		}
		idx := 1
		for _, sib := range parent.Children() {
			if sib == cur {
				break
			}
			if sib.Tag() == cur.Tag() {
				idx++
			}
		}
		parts = append(parts, fmt.Sprintf("%s:nth-of-type(%d)", cur.Tag(), idx))
		cur = parent
	}
	if len(parts) == 0 {
		return ""
	}
	slices.Reverse(parts)
	return strings.Join(parts, " > ")
}

// resolve finds the element whose path from region is exactly sel.
func resolve(region dom.Element, sel string) dom.Element {
	for _, cand := range region.QuerySelectorAll(sel) {
		if selectorPath(region, cand) == sel {
			return cand
		}
	}
	return nil
}

var builtin = map[string]StatePersistable{
	"scroll":  Scroll{},
	"active":  Active{},
	"forms":   Forms{},
	"toggles": Toggles{},
}

// Capabilities resolves capability names such as "scroll" or "forms".
func Capabilities(names ...string) ([]StatePersistable, error) {
	out := make([]StatePersistable, 0, len(names))
	for _, n := range names {
		p, ok := builtin[strings.TrimSpace(n)]
		if !ok {
			return nil, fmt.Errorf("persist: unknown capability %q", n)
		}
		out = append(out, p)
	}
	return out, nil
}
