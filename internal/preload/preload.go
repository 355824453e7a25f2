// Package preload speculatively fetches fragments for links the user is
// likely to follow next and stores them in the shared cache.
package preload

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/g-flame/airlink-panel/internal/dom"
	"github.com/g-flame/airlink-panel/internal/fragment"
)

// Priorities; lower values are served first.
const (
	PriorityManual  = 0
	PriorityNav     = 1
	PriorityButton  = 2
	PriorityContent = 3
)

// Task sources.
const (
	SourceHover   = "hover"
	SourceVisible = "visible"
	SourceManual  = "manual"
)

// Navigator is the part of the router the preloader needs.
type Navigator interface {
	Prefetch(ctx context.Context, path string) (*fragment.Fragment, error)
	ResolveLink(href string) (string, bool)
}

// Event is emitted after a fragment lands in the speculative cache.
type Event struct {
	Path   string `json:"path"`
	Source string `json:"source"`
	Size   int    `json:"size"`
}

type Options struct {
	HoverDelay    time.Duration // default 100ms
	VisibleDelay  time.Duration // default 500ms
	MaxConcurrent int           // default 2
	Capacity      int           // speculative entries kept after eviction, default 20
	EvictInterval time.Duration // default 60s
	// Exclude lists doublestar patterns of paths never preloaded, e.g. /auth/**.
	Exclude []string
	Clock   clockwork.Clock
	Logger  *zap.Logger
	Notify  func(Event)
}

func (o *Options) defaults() {
	if o.HoverDelay <= 0 {
		o.HoverDelay = 100 * time.Millisecond
	}
	if o.VisibleDelay <= 0 {
		o.VisibleDelay = 500 * time.Millisecond
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 2
	}
	if o.Capacity <= 0 {
		o.Capacity = 20
	}
	if o.EvictInterval <= 0 {
		o.EvictInterval = 60 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

type entryMeta struct {
	storedAt time.Time
	seq      uint64
}

// Stats is a point-in-time view of the preloader.
type Stats struct {
	Entries int `json:"entries"`
	// InFlight counts scheduled and manual fetches; only scheduled ones are
	// bound by MaxConcurrent.
	InFlight int `json:"in_flight"`
	Pending  int `json:"pending"`
	Timers   int `json:"timers"`
}

// Preloader schedules speculative fetches. At most MaxConcurrent queued
// fetches run at once; the rest wait in a priority queue.
type Preloader struct {
	nav    Navigator
	cache  *fragment.Cache
	opts   Options
	clock  clockwork.Clock
	logger *zap.Logger
	sem    *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	seq      uint64
	pending  taskQueue
	queued   map[string]bool
	inFlight map[string]bool
	entries  map[string]entryMeta
	hover    map[dom.Element]clockwork.Timer
	settle   map[dom.Element]clockwork.Timer
	visible  map[dom.Element]bool
}

// New validates the exclude patterns and returns a Preloader.
func New(nav Navigator, cache *fragment.Cache, opts Options) (*Preloader, error) {
	opts.defaults()
	for _, pat := range opts.Exclude {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("preload: invalid exclude pattern %q", pat)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Preloader{
		nav:      nav,
		cache:    cache,
		opts:     opts,
		clock:    opts.Clock,
		logger:   opts.Logger,
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		ctx:      ctx,
		cancel:   cancel,
		queued:   make(map[string]bool),
		inFlight: make(map[string]bool),
		entries:  make(map[string]entryMeta),
		hover:    make(map[dom.Element]clockwork.Timer),
		settle:   make(map[dom.Element]clockwork.Timer),
		visible:  make(map[dom.Element]bool),
	}, nil
}

// ShouldPreload reports whether href, found on el, is worth preloading now.
// el may be nil.
func (p *Preloader) ShouldPreload(href string, el dom.Element) bool {
	if el != nil && optedOut(el) {
		return false
	}
	path, ok := p.nav.ResolveLink(href)
	if !ok {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.admissibleLocked(path)
}

func optedOut(el dom.Element) bool {
	for _, attr := range []string{"data-no-preload", "data-no-spa", "download"} {
		if _, ok := el.Attr(attr); ok {
			return true
		}
	}
	return false
}

func (p *Preloader) admissibleLocked(path string) bool {
	if p.closed || p.cache.Resolved(path) || p.inFlight[path] || p.queued[path] {
		return false
	}
	return !p.excluded(path)
}

func (p *Preloader) excluded(path string) bool {
	for _, pat := range p.opts.Exclude {
		if ok, _ := doublestar.Match(pat, path); ok {
			return true
		}
	}
	return false
}

// PriorityOf ranks a link by where it sits on the page.
func PriorityOf(el dom.Element) int {
	switch {
	case el == nil:
		return PriorityContent
	case el.HasClass("nav-link") || el.Closest("nav, #sidebar, .sidebar") != nil:
		return PriorityNav
	case el.HasClass("btn"):
		return PriorityButton
	}
	if role, _ := el.Attr("role"); role == "button" {
		return PriorityButton
	}
	return PriorityContent
}

// link returns the anchor el belongs to and its route path.
func (p *Preloader) link(el dom.Element) (dom.Element, string, bool) {
	if el == nil {
		return nil, "", false
	}
	a := el.Closest("a[href]")
	if a == nil {
		return nil, "", false
	}
	href, _ := a.Attr("href")
	if !p.ShouldPreload(href, a) {
		return nil, "", false
	}
	path, _ := p.nav.ResolveLink(href)
	return a, path, true
}

// HoverStart arms the hover debounce for the link under el.
func (p *Preloader) HoverStart(el dom.Element) {
	a, path, ok := p.link(el)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.hover[a] != nil {
		return
	}
	prio := PriorityOf(a)
	p.hover[a] = p.clock.AfterFunc(p.opts.HoverDelay, func() {
		p.mu.Lock()
		delete(p.hover, a)
		p.mu.Unlock()
		p.Schedule(path, prio, SourceHover)
	})
}

// HoverEnd cancels a pending hover debounce.
func (p *Preloader) HoverEnd(el dom.Element) {
	if el == nil {
		return
	}
	a := el.Closest("a[href]")
	if a == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if t := p.hover[a]; t != nil {
		t.Stop()
		delete(p.hover, a)
	}
}

// Visible starts the settle timer for a link that entered the viewport.
// The preload only happens if the link is still visible when it fires.
func (p *Preloader) Visible(el dom.Element) {
	a, path, ok := p.link(el)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.visible[a] = true
	if p.settle[a] != nil {
		return
	}
	prio := PriorityOf(a)
	p.settle[a] = p.clock.AfterFunc(p.opts.VisibleDelay, func() {
		p.mu.Lock()
		delete(p.settle, a)
		still := p.visible[a]
		p.mu.Unlock()
		if still {
			p.Schedule(path, prio, SourceVisible)
		}
	})
}

// Hidden records that a link left the viewport.
func (p *Preloader) Hidden(el dom.Element) {
	if el == nil {
		return
	}
	a := el.Closest("a[href]")
	if a == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.visible, a)
	if t := p.settle[a]; t != nil {
		t.Stop()
		delete(p.settle, a)
	}
}

// Schedule queues a preload of path. It starts immediately when a slot is
// free and is dropped when the path is already resolved, queued or in flight.
func (p *Preloader) Schedule(path string, priority int, source string) {
	path = fragment.NormalizePath(path)
	p.mu.Lock()
	if !p.admissibleLocked(path) {
		p.mu.Unlock()
		return
	}
	p.seq++
	t := &Task{Path: path, Priority: priority, Source: source, EnqueuedAt: p.clock.Now(), seq: p.seq}
	if p.sem.TryAcquire(1) {
		p.inFlight[path] = true
		p.mu.Unlock()
		p.start(t, true)
		return
	}
	p.queued[path] = true
	heap.Push(&p.pending, t)
	p.mu.Unlock()
	p.logger.Debug("preload: queued", zap.String("path", path), zap.Int("priority", priority))
}

// PreloadNow fetches path right away, bypassing debounce and queue. It does
// not take a concurrency slot, so manual fetches run on top of the
// MaxConcurrent scheduled ones and Stats.InFlight may exceed that limit.
func (p *Preloader) PreloadNow(path string) {
	path = fragment.NormalizePath(path)
	p.mu.Lock()
	if !p.admissibleLocked(path) {
		p.mu.Unlock()
		return
	}
	p.seq++
	t := &Task{Path: path, Priority: PriorityManual, Source: SourceManual, EnqueuedAt: p.clock.Now(), seq: p.seq}
	p.inFlight[path] = true
	p.mu.Unlock()
	p.start(t, false)
}

func (p *Preloader) start(t *Task, slot bool) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.fetch(t)
		if slot {
			p.sem.Release(1)
			p.drain()
		}
	}()
}

func (p *Preloader) drain() {
	for {
		p.mu.Lock()
		if p.closed || p.pending.Len() == 0 {
			p.mu.Unlock()
			return
		}
		if !p.sem.TryAcquire(1) {
			p.mu.Unlock()
			return
		}
		t := heap.Pop(&p.pending).(*Task)
		delete(p.queued, t.Path)
		if !p.admissibleLocked(t.Path) {
			p.mu.Unlock()
			p.sem.Release(1)
			continue
		}
		p.inFlight[t.Path] = true
		p.mu.Unlock()
		p.start(t, true)
	}
}

func (p *Preloader) fetch(t *Task) {
	f, err := p.nav.Prefetch(p.ctx, t.Path)

	p.mu.Lock()
	delete(p.inFlight, t.Path)
	p.mu.Unlock()

	if err != nil {
		p.logger.Debug("preload: fetch failed", zap.String("path", t.Path), zap.Error(err))
		return
	}
	now := p.clock.Now()
	if !p.cache.PutSpeculative(t.Path, fragment.Entry{Fragment: f, StoredAt: now, Priority: t.Priority, Source: t.Source}) {
		return
	}
	p.mu.Lock()
	p.seq++
	p.entries[t.Path] = entryMeta{storedAt: now, seq: p.seq}
	p.mu.Unlock()

	p.logger.Debug("preload: stored", zap.String("path", t.Path), zap.String("source", t.Source))
	if p.opts.Notify != nil {
		p.opts.Notify(Event{Path: t.Path, Source: t.Source, Size: f.Size()})
	}
}

// Cleanup forgets entries that were promoted or removed from the cache and
// evicts the oldest speculative entries beyond Capacity. It returns the
// number evicted.
func (p *Preloader) Cleanup() int {
	p.mu.Lock()
	for path := range p.entries {
		if _, ok := p.cache.GetSpeculative(path); !ok {
			delete(p.entries, path)
		}
	}
	excess := len(p.entries) - p.opts.Capacity
	if excess <= 0 {
		p.mu.Unlock()
		return 0
	}
	paths := make([]string, 0, len(p.entries))
	for path := range p.entries {
		paths = append(paths, path)
	}
	sort.Slice(paths, func(i, j int) bool {
		a, b := p.entries[paths[i]], p.entries[paths[j]]
		if !a.storedAt.Equal(b.storedAt) {
			return a.storedAt.Before(b.storedAt)
		}
		return a.seq < b.seq
	})
	victims := paths[:excess]
	for _, path := range victims {
		delete(p.entries, path)
	}
	p.mu.Unlock()

	n := p.cache.DeleteSpeculative(victims...)
	p.logger.Debug("preload: evicted speculative entries", zap.Int("count", n))
	return len(victims)
}

// Run evicts every EvictInterval until ctx is done.
func (p *Preloader) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.opts.EvictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			p.Cleanup()
		}
	}
}

func (p *Preloader) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Entries:  len(p.entries),
		InFlight: len(p.inFlight),
		Pending:  p.pending.Len(),
		Timers:   len(p.hover) + len(p.settle),
	}
}

// Wait blocks until every started fetch has finished.
func (p *Preloader) Wait() { p.wg.Wait() }

// Close stops pending timers, drops queued tasks, cancels in-flight fetches
// and waits for them.
func (p *Preloader) Close() {
	p.mu.Lock()
	p.closed = true
	for a, t := range p.hover {
		t.Stop()
		delete(p.hover, a)
	}
	for a, t := range p.settle {
		t.Stop()
		delete(p.settle, a)
	}
	p.pending = nil
	clear(p.queued)
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}
