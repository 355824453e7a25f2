// Package spa assembles the navigation layer for one document: fragment
// cache, component state store, router and preloader, all fed by a single
// event loop.
package spa

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/g-flame/airlink-panel/internal/dom"
	"github.com/g-flame/airlink-panel/internal/fragment"
	"github.com/g-flame/airlink-panel/internal/persist"
	"github.com/g-flame/airlink-panel/internal/preload"
	"github.com/g-flame/airlink-panel/internal/router"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("spa: app closed")

type Options struct {
	CacheSize int
	Router    router.Options
	Preload   preload.Options
	Persist   []persist.Option
	Logger    *zap.Logger
	// QueueSize is the event buffer. Default: 64.
	QueueSize int
	// DisablePreload drops hover and visibility triggers. Explicit
	// PreloadNow requests still run.
	DisablePreload bool
}

// App owns the navigation layer of one document.
type App struct {
	doc     dom.Document
	cache   *fragment.Cache
	state   *persist.Store
	router  *router.Router
	preload *preload.Preloader
	logger  *zap.Logger

	noPreload bool
	events    chan Event
	done      chan struct{}
	wg        sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
	closed bool
}

// New wires the components for doc.
func New(doc dom.Document, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}

	cache := fragment.NewCache(opts.CacheSize)
	state := persist.New(doc, append([]persist.Option{persist.WithLogger(logger.Named("persist"))}, opts.Persist...)...)

	ro := opts.Router
	if ro.Logger == nil {
		ro.Logger = logger.Named("router")
	}
	r := router.New(doc, cache, state, ro)

	po := opts.Preload
	if po.Logger == nil {
		po.Logger = logger.Named("preload")
	}
	if po.Clock == nil {
		po.Clock = ro.Clock
	}
	p, err := preload.New(r, cache, po)
	if err != nil {
		return nil, err
	}

	return &App{
		doc:       doc,
		cache:     cache,
		state:     state,
		router:    r,
		preload:   p,
		logger:    logger,
		noPreload: opts.DisablePreload,
		events:    make(chan Event, opts.QueueSize),
		done:      make(chan struct{}),
	}, nil
}

func (a *App) Cache() *fragment.Cache { return a.cache }

func (a *App) State() *persist.Store { return a.state }

func (a *App) Router() *router.Router { return a.router }

func (a *App) Preloader() *preload.Preloader { return a.preload }

// Start launches the event loop and the eviction ticker, then performs the
// initial load. An initial load error is returned but the app keeps running;
// the error banner is already shown.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.loop(gctx) })
	g.Go(func() error { return a.preload.Run(gctx) })
	a.cancel = cancel
	a.group = g
	a.mu.Unlock()

	return a.router.Start(ctx)
}

// Dispatch queues ev for the event loop. For clicks it waits for the loop's
// decision and reports whether the click was taken over; other events
// report whether they were accepted.
func (a *App) Dispatch(ev Event) bool {
	select {
	case <-a.done:
		return false
	default:
	}
	if ev.Kind == EventClick {
		ev.reply = make(chan bool, 1)
	}
	select {
	case a.events <- ev:
	case <-a.done:
		return false
	}
	if ev.reply == nil {
		return true
	}
	select {
	case handled := <-ev.reply:
		return handled
	case <-a.done:
		return false
	}
}

func (a *App) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-a.events:
			a.handle(ctx, ev)
		}
	}
}

func (a *App) handle(ctx context.Context, ev Event) {
	if a.noPreload {
		switch ev.Kind {
		case EventHoverStart, EventHoverEnd, EventVisible, EventHidden:
			return
		}
	}
	switch ev.Kind {
	case EventClick:
		ev.reply <- a.router.HandleClick(ctx, ev.Click)
	case EventPopState:
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.router.HandlePopState(ctx, ev.Entry); err != nil {
				a.logger.Debug("spa: popstate navigation", zap.Error(err))
			}
		}()
	case EventHoverStart:
		a.preload.HoverStart(ev.Target)
	case EventHoverEnd:
		a.preload.HoverEnd(ev.Target)
	case EventVisible:
		a.preload.Visible(ev.Target)
	case EventHidden:
		a.preload.Hidden(ev.Target)
	case EventPreloadNow:
		a.preload.PreloadNow(ev.Path)
	default:
		a.logger.Warn("spa: unknown event", zap.Stringer("kind", ev.Kind))
	}
}

// Wait blocks until navigations started so far have finished.
func (a *App) Wait() {
	a.wg.Wait()
	a.router.Wait()
}

// Close stops the event loop, cancels timers and waits for every goroutine.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.done)
	cancel, g := a.cancel, a.group
	a.mu.Unlock()

	var err error
	if cancel != nil {
		cancel()
		err = g.Wait()
	}
	a.wg.Wait()
	a.preload.Close()
	a.router.Close()
	return err
}
