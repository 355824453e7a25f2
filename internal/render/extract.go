package render

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/g-flame/airlink-panel/internal/dom"
	"github.com/g-flame/airlink-panel/internal/fragment"
)

// IsFragmentRequest reports whether req asks for a fragment rather than a
// full page.
func IsFragmentRequest(req *http.Request, endpoint string) bool {
	if req.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	_, ok := fragment.RoutePath(endpoint, req.URL.Path)
	return ok
}

// ExtractFragment pulls the fragment out of a full HTML document: the
// contents of #spa-content when present, otherwise the body without its
// scripts, styles and stylesheet links. Stylesheets and external scripts
// anywhere in the document become the fragment's assets.
func ExtractFragment(r io.Reader) (*fragment.Fragment, error) {
	doc, err := dom.Parse(r, "http://localhost/")
	if err != nil {
		return nil, err
	}
	f := &fragment.Fragment{Title: strings.TrimSpace(doc.Title())}
	for _, s := range doc.QuerySelectorAll("script[src]") {
		src, _ := s.Attr("src")
		f.Scripts = append(f.Scripts, src)
	}
	for _, l := range doc.QuerySelectorAll(`link[rel="stylesheet"][href]`) {
		href, _ := l.Attr("href")
		f.Styles = append(f.Styles, href)
	}

	if content := doc.GetElementByID("spa-content"); content != nil {
		f.Content = strings.TrimSpace(content.InnerHTML())
		return f, nil
	}
	body := doc.Body()
	if body == nil {
		return nil, errors.New("render: document has no body")
	}
	for _, el := range body.QuerySelectorAll(`script, style, link[rel="stylesheet"]`) {
		el.Remove()
	}
	f.Content = strings.TrimSpace(body.InnerHTML())
	return f, nil
}
