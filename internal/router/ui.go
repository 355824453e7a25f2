package router

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/g-flame/airlink-panel/internal/dom"
)

// Chrome element ids and classes the layout provides.
const (
	loadingIndicatorID = "loading-indicator"
	loadingOverlayID   = "loading-overlay"
	errorContainerID   = "error-container"
	errorMessageID     = "error-message"
	errorRetryID       = "error-retry"
	errorDismissID     = "error-dismiss"

	hiddenClass = "hidden"
	activeClass = "active"
)

func (r *Router) setLoading(on bool) {
	for _, id := range []string{loadingIndicatorID, loadingOverlayID} {
		el := r.doc.GetElementByID(id)
		if el == nil {
			continue
		}
		if on {
			el.RemoveClass(hiddenClass)
		} else {
			el.AddClass(hiddenClass)
		}
	}
	if content := r.doc.GetElementByID(r.opts.ContentID); content != nil {
		if on {
			content.SetAttr("aria-busy", "true")
		} else {
			content.RemoveAttr("aria-busy")
		}
	}
}

func (r *Router) fail(path string, err error) {
	r.failures.Add(1)
	r.logger.Warn("router: navigation failed", zap.String("path", path), zap.Error(err))
	r.mu.Lock()
	r.lastFailed = path
	r.mu.Unlock()
	r.showError(UserMessage(err))
}

func (r *Router) showError(msg string) {
	box := r.doc.GetElementByID(errorContainerID)
	if box == nil {
		return
	}
	if m := r.doc.GetElementByID(errorMessageID); m != nil {
		m.SetText(msg)
	}
	box.RemoveClass(hiddenClass)
	box.SetAttr("role", "alert")

	r.mu.Lock()
	if r.dismiss != nil {
		r.dismiss.Stop()
	}
	r.dismiss = r.clock.AfterFunc(r.opts.ErrorDismiss, r.DismissError)
	r.mu.Unlock()
}

// DismissError hides the error banner.
func (r *Router) DismissError() {
	r.mu.Lock()
	if r.dismiss != nil {
		r.dismiss.Stop()
		r.dismiss = nil
	}
	r.mu.Unlock()
	if box := r.doc.GetElementByID(errorContainerID); box != nil {
		box.AddClass(hiddenClass)
	}
}

// ErrorVisible reports whether the error banner is shown.
func (r *Router) ErrorVisible() bool {
	box := r.doc.GetElementByID(errorContainerID)
	return box != nil && !box.HasClass(hiddenClass)
}

// highlight marks the nav link for path as active. Nothing changes when no
// link matches.
func (r *Router) highlight(path string) {
	links := r.doc.QuerySelectorAll("." + r.opts.NavLinkClass)
	var match dom.Element
	for _, l := range links {
		href, _ := l.Attr("href")
		if p, ok := r.ResolveLink(href); ok && p == path {
			match = l
			break
		}
	}
	if match == nil {
		return
	}
	for _, l := range links {
		if l != match {
			l.RemoveClass(activeClass)
			l.RemoveAttr("aria-current")
		}
	}
	match.AddClass(activeClass)
	match.SetAttr("aria-current", "page")
	r.moveIndicator(match)
}

func (r *Router) moveIndicator(link dom.Element) {
	ind := r.doc.GetElementByID(r.opts.IndicatorID)
	if ind == nil {
		return
	}
	b := link.Bounds()
	var origin dom.Rect
	if p := ind.Parent(); p != nil {
		origin = p.Bounds()
	}
	ind.SetStyle(fmt.Sprintf("transform: translate(%.0fpx, %.0fpx); width: %.0fpx; height: %.0fpx",
		b.X-origin.X, b.Y-origin.Y, b.Width, b.Height))
}
