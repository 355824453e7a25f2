package roddom

import (
	"context"
	"fmt"

	"github.com/ysmood/gson"
	"go.uber.org/zap"

	"github.com/g-flame/airlink-panel/internal/dom"
)

// EventType names a browser event forwarded by Listen.
type EventType string

const (
	EventClick      EventType = "click"
	EventPopState   EventType = "popstate"
	EventHoverStart EventType = "hover-start"
	EventHoverEnd   EventType = "hover-end"
	EventVisible    EventType = "visible"
	EventHidden     EventType = "hidden"
)

// Event is a browser event with its target resolved to a dom.Element.
type Event struct {
	Type   EventType
	Target dom.Element
	// Click is set for EventClick. The browser default has already been
	// prevented; call FollowLink when the click is not handled.
	Click *dom.ClickEvent
	// State is the popped history entry for EventPopState, nil when the
	// entry was not created by the router.
	State *dom.HistoryEntry
}

type rawEvent struct {
	Type     EventType         `json:"type"`
	Ref      int               `json:"ref"`
	Button   int               `json:"button"`
	CtrlKey  bool              `json:"ctrlKey"`
	MetaKey  bool              `json:"metaKey"`
	ShiftKey bool              `json:"shiftKey"`
	AltKey   bool              `json:"altKey"`
	State    *dom.HistoryEntry `json:"state"`
}

const bindingName = "__panelEvent"

// shim forwards link and error banner clicks, link hovers and visibility
// changes, and popstate to the exposed binding. Targets are passed by index
// into window.__panelRefs.
const shim = `() => {
	if (window.__panelShim) return;
	window.__panelShim = true;
	const refs = window.__panelRefs = [];
	const ref = el => {
		let i = refs.indexOf(el);
		if (i < 0) { refs.push(el); i = refs.length - 1; }
		return i;
	};
	const send = ev => window.` + bindingName + `(ev);
	const link = t => t && t.closest ? t.closest("a[href]") : null;

	document.addEventListener("click", e => {
		const a = link(e.target) || (e.target.closest && e.target.closest("#error-retry, #error-dismiss"));
		if (!a || e.defaultPrevented) return;
		if (e.button !== 0 || e.ctrlKey || e.metaKey || e.shiftKey || e.altKey) return;
		if (a.target === "_blank" || a.hasAttribute("download")) return;
		e.preventDefault();
		send({type: "click", ref: ref(e.target), button: e.button,
			ctrlKey: e.ctrlKey, metaKey: e.metaKey, shiftKey: e.shiftKey, altKey: e.altKey});
	});
	document.addEventListener("mouseover", e => {
		const a = link(e.target);
		if (a && !a.contains(e.relatedTarget)) send({type: "hover-start", ref: ref(a)});
	});
	document.addEventListener("mouseout", e => {
		const a = link(e.target);
		if (a && !a.contains(e.relatedTarget)) send({type: "hover-end", ref: ref(a)});
	});
	window.addEventListener("popstate", e => send({type: "popstate", state: e.state}));

	const io = new IntersectionObserver(entries => {
		for (const en of entries) {
			send({type: en.isIntersecting ? "visible" : "hidden", ref: ref(en.target)});
		}
	});
	const observe = root => root.querySelectorAll && root.querySelectorAll("a[href]").forEach(a => io.observe(a));
	observe(document);
	new MutationObserver(ms => ms.forEach(m => m.addedNodes.forEach(observe)))
		.observe(document.documentElement, {childList: true, subtree: true});
}`

// Listen installs the event shim and calls fn for every forwarded event on
// its own goroutine until ctx is done. Events are delivered in order.
func (d *Document) Listen(ctx context.Context, fn func(Event)) error {
	queue := make(chan gson.JSON, 256)
	stop, err := d.page.Expose(bindingName, func(j gson.JSON) (any, error) {
		select {
		case queue <- j:
		default:
			d.logger.Warn("roddom: event queue full, dropping event")
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("roddom: expose binding: %w", err)
	}
	if _, err := d.page.EvalOnNewDocument("(" + shim + ")()"); err != nil {
		stop()
		return fmt.Errorf("roddom: install shim: %w", err)
	}
	if _, err := d.page.Eval(shim); err != nil {
		stop()
		return fmt.Errorf("roddom: install shim: %w", err)
	}

	go func() {
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			case j := <-queue:
				if ev, ok := d.decode(j); ok {
					fn(ev)
				}
			}
		}
	}()
	return nil
}

func (d *Document) decode(j gson.JSON) (Event, bool) {
	var raw rawEvent
	if err := j.Unmarshal(&raw); err != nil {
		d.logger.Debug("roddom: bad event", zap.Error(err))
		return Event{}, false
	}
	ev := Event{Type: raw.Type}
	switch raw.Type {
	case EventPopState:
		ev.State = raw.State
		return ev, true
	case EventClick, EventHoverStart, EventHoverEnd, EventVisible, EventHidden:
	default:
		return Event{}, false
	}

	ev.Target = d.byJS(`i => window.__panelRefs[i]`, raw.Ref)
	if ev.Target == nil {
		return Event{}, false
	}
	if raw.Type == EventClick {
		ev.Click = &dom.ClickEvent{
			Target:   ev.Target,
			Button:   raw.Button,
			CtrlKey:  raw.CtrlKey,
			MetaKey:  raw.MetaKey,
			ShiftKey: raw.ShiftKey,
			AltKey:   raw.AltKey,
		}
	}
	return ev, true
}

// FollowLink performs the browser's native navigation for a click the
// router declined.
func (d *Document) FollowLink(ev *dom.ClickEvent) {
	if ev == nil || ev.Target == nil {
		return
	}
	a := ev.Target.Closest("a[href]")
	if a == nil {
		return
	}
	href, _ := a.Attr("href")
	d.eval(`h => location.assign(h)`, href)
	d.Reset()
}
