// Package persist keeps the transient UI state of persistent page chrome
// (sidebar, topbar, footer and opted-in regions) across content swaps.
//
// Identity is the element id. Regions without an id get a generated identity
// that is not stable across navigations; their state can be captured and
// restored directly but is never carried across a navigation.
package persist

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/g-flame/airlink-panel/internal/dom"
)

// Kind is the type of a discovered region.
type Kind string

const (
	KindSidebar Kind = "sidebar"
	KindTopbar  Kind = "topbar"
	KindFooter  Kind = "footer"
	KindCustom  Kind = "custom"
)

// PersistAttr opts an element into persistence. Its value may list the
// capabilities to use, e.g. data-persist="scroll,forms".
const PersistAttr = "data-persist"

// regionSelectors is scanned in order; an element matched by an earlier
// selector is not registered again.
var regionSelectors = []struct {
	selector string
	kind     Kind
}{
	{"#sidebar", KindSidebar},
	{".sidebar", KindSidebar},
	{"#topbar", KindTopbar},
	{".topbar", KindTopbar},
	{"#footer", KindFooter},
	{".footer", KindFooter},
	{"[" + PersistAttr + "]", KindCustom},
}

// Component is a discovered persistent region.
type Component struct {
	ID       string
	Selector string
	Kind     Kind
	// Stable is false when ID was generated rather than authored.
	Stable  bool
	Element dom.Element
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithCapabilities replaces the capabilities used for a region kind.
func WithCapabilities(kind Kind, caps ...StatePersistable) Option {
	return func(s *Store) { s.table[kind] = caps }
}

// Store discovers persistent regions and carries their state across
// navigations. BeforeNavigation and AfterNavigation bracket every swap.
type Store struct {
	doc    dom.Document
	logger *zap.Logger
	table  map[Kind][]StatePersistable

	mu         sync.Mutex
	components []*Component
	snapshots  map[string]State
}

// DefaultCapabilities returns the capability table for each region kind.
func DefaultCapabilities() map[Kind][]StatePersistable {
	all := []StatePersistable{Scroll{}, Active{}, Forms{}, Toggles{}}
	return map[Kind][]StatePersistable{
		KindSidebar: all,
		KindTopbar:  {Active{}, Forms{}, Toggles{}},
		KindFooter:  {Forms{}, Toggles{}},
		KindCustom:  all,
	}
}

// New creates a Store for doc and runs an initial discovery.
func New(doc dom.Document, opts ...Option) *Store {
	s := &Store{
		doc:       doc,
		logger:    zap.NewNop(),
		table:     DefaultCapabilities(),
		snapshots: make(map[string]State),
	}
	for _, o := range opts {
		o(s)
	}
	s.Discover()
	return s
}

// Discover rescans the document and replaces the component registry.
// Snapshots are untouched.
func (s *Store) Discover() []*Component {
	seen := make(map[dom.Element]bool)
	generated := make(map[string]int)
	var found []*Component

	for _, rs := range regionSelectors {
		for _, el := range s.doc.QuerySelectorAll(rs.selector) {
			if seen[el] {
				continue
			}
			seen[el] = true
			c := &Component{ID: el.ID(), Selector: rs.selector, Kind: rs.kind, Stable: true, Element: el}
			if c.ID == "" {
				slug := selectorSlug(rs.selector)
				c.ID = fmt.Sprintf("persist-%s-%d", slug, generated[slug])
				c.Stable = false
				generated[slug]++
			}
			found = append(found, c)
		}
	}

	s.mu.Lock()
	s.components = found
	s.mu.Unlock()
	return found
}

// Components returns the current registry.
func (s *Store) Components() []*Component {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Component(nil), s.components...)
}

// Component returns the registered component with the given identity.
func (s *Store) Component(id string) *Component {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.components {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Snapshot returns the stored state for an identity.
func (s *Store) Snapshot(id string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.snapshots[id]
	return st, ok
}

// CaptureComponentState reads the live state of a component.
func (s *Store) CaptureComponentState(c *Component) State {
	var st State
	for _, p := range s.capabilities(c) {
		p.Capture(c.Element, &st)
	}
	return st
}

// RestoreComponentState writes st back onto a component.
func (s *Store) RestoreComponentState(c *Component, st State) {
	for _, p := range s.capabilities(c) {
		p.Restore(c.Element, &st)
	}
}

// BeforeNavigation snapshots every known component, superseding earlier
// snapshots for the same identity.
func (s *Store) BeforeNavigation() {
	for _, c := range s.Components() {
		if !c.Stable {
			s.logger.Debug("persist: skipping component without authored id",
				zap.String("id", c.ID), zap.String("selector", c.Selector))
			continue
		}
		st := s.CaptureComponentState(c)
		s.mu.Lock()
		s.snapshots[c.ID] = st
		s.mu.Unlock()
	}
}

// AfterNavigation rediscovers components and restores every identity that
// has a snapshot. Snapshots of identities that did not reappear are kept.
func (s *Store) AfterNavigation() {
	restored := 0
	for _, c := range s.Discover() {
		if !c.Stable {
			continue
		}
		st, ok := s.Snapshot(c.ID)
		if !ok {
			continue
		}
		s.RestoreComponentState(c, st)
		restored++
	}
	s.logger.Debug("persist: restored components", zap.Int("count", restored))
}

func (s *Store) capabilities(c *Component) []StatePersistable {
	caps := s.table[c.Kind]
	if c.Kind != KindCustom {
		return caps
	}
	want, _ := c.Element.Attr(PersistAttr)
	if strings.TrimSpace(want) == "" {
		return caps
	}
	var out []StatePersistable
	for _, name := range strings.Split(want, ",") {
		name = strings.TrimSpace(name)
		for _, p := range caps {
			if p.Name() == name {
				out = append(out, p)
			}
		}
	}
	return out
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

func selectorSlug(sel string) string {
	return strings.Trim(nonWord.ReplaceAllString(strings.ToLower(sel), "-"), "-")
}
