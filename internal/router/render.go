package router

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/g-flame/airlink-panel/internal/dom"
	"github.com/g-flame/airlink-panel/internal/fragment"
)

// render swaps the content region and brings in the fragment's assets.
func (r *Router) render(path string, f *fragment.Fragment) error {
	content := r.doc.GetElementByID(r.opts.ContentID)
	if content == nil {
		return &FetchError{Kind: KindRender, Path: path, Err: fmt.Errorf("content region #%s not found", r.opts.ContentID)}
	}
	if err := content.SetInnerHTML(f.Content); err != nil {
		return &FetchError{Kind: KindRender, Path: path, Err: err}
	}
	content.SetScroll(0, 0)
	r.injectAssets(f)
	r.executeScripts(content)
	return nil
}

// injectAssets appends the fragment's stylesheets and scripts to the head,
// skipping any already present.
func (r *Router) injectAssets(f *fragment.Fragment) {
	head := r.doc.Head()
	if head == nil {
		return
	}
	for _, href := range f.Styles {
		if r.hasAsset("link", "href", href) {
			continue
		}
		el := r.doc.CreateElement("link")
		el.SetAttr("rel", "stylesheet")
		el.SetAttr("href", href)
		head.AppendChild(el)
	}
	for _, src := range f.Scripts {
		if r.hasAsset("script", "src", src) {
			continue
		}
		el := r.doc.CreateElement("script")
		el.SetAttr("src", src)
		head.AppendChild(el)
		if err := r.doc.ExecuteScript(el); err != nil {
			r.logger.Warn("router: asset script failed", zap.String("src", src), zap.Error(err))
		}
	}
}

func (r *Router) hasAsset(tag, attr, ref string) bool {
	want := r.absolute(ref)
	for _, el := range r.doc.QuerySelectorAll(tag + "[" + attr + "]") {
		if v, _ := el.Attr(attr); v == ref || r.absolute(v) == want {
			return true
		}
	}
	return false
}

func (r *Router) absolute(ref string) string {
	u, err := r.doc.Location().Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

// executeScripts replaces every script inside the swapped region with a
// fresh copy and runs it. Markup inserted as HTML never runs on its own.
func (r *Router) executeScripts(region dom.Element) {
	for _, old := range region.QuerySelectorAll("script") {
		if !executable(old) {
			continue
		}
		fresh := r.doc.CreateElement("script")
		for k, v := range old.Attrs() {
			fresh.SetAttr(k, v)
		}
		fresh.SetText(old.Text())
		old.ReplaceWith(fresh)
		if err := r.doc.ExecuteScript(fresh); err != nil {
			r.logger.Warn("router: embedded script failed", zap.Error(err))
		}
	}
}

func executable(script dom.Element) bool {
	t, ok := script.Attr("type")
	if !ok {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "", "module", "text/javascript", "application/javascript", "text/ecmascript":
		return true
	}
	return false
}
