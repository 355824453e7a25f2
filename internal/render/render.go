// Package render produces the panel's pages on the server: full documents
// for direct requests and fragments for the fragment endpoint.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"go.uber.org/zap"

	"github.com/g-flame/airlink-panel/internal/fragment"
)

// ErrNotFound is returned for paths without a view.
var ErrNotFound = errors.New("render: no view for path")

type Server struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Node     string `json:"node" yaml:"node"`
	Status   string `json:"status" yaml:"status"`
	MemoryMB int    `json:"memory_mb" yaml:"memory_mb"`
}

type Node struct {
	Name    string `json:"name" yaml:"name"`
	Address string `json:"address" yaml:"address"`
	Online  bool   `json:"online" yaml:"online"`
}

type Account struct {
	Username string `json:"username" yaml:"username"`
	Email    string `json:"email" yaml:"email"`
	Admin    bool   `json:"admin" yaml:"admin"`
}

// Data is what the views display.
type Data struct {
	Brand   string
	Servers []Server
	Nodes   []Node
	Account Account
}

// SampleData is the data served when none is configured.
func SampleData() Data {
	return Data{
		Brand: "Airlink",
		Servers: []Server{
			{ID: "mc-1", Name: "Survival", Node: "eu-1", Status: "running", MemoryMB: 4096},
			{ID: "mc-2", Name: "Creative", Node: "eu-1", Status: "stopped", MemoryMB: 2048},
			{ID: "rust-1", Name: "Rust weekly", Node: "us-1", Status: "running", MemoryMB: 8192},
		},
		Nodes: []Node{
			{Name: "eu-1", Address: "10.0.1.10", Online: true},
			{Name: "us-1", Address: "10.0.2.10", Online: true},
		},
		Account: Account{Username: "admin", Email: "admin@example.com", Admin: true},
	}
}

type view struct {
	title    string
	tmpl     string
	markdown string
	scripts  []string
	styles   []string
}

var views = map[string]view{
	"/dashboard":     {title: "Dashboard", tmpl: "dashboard"},
	"/servers":       {title: "Servers", tmpl: "servers", scripts: []string{"/assets/servers.js"}},
	"/settings":      {title: "Settings", tmpl: "settings"},
	"/admin/servers": {title: "Manage servers", tmpl: "admin/servers"},
	"/admin/nodes":   {title: "Nodes", tmpl: "admin/nodes", styles: []string{"/assets/admin.css"}},
	"/account":       {title: "Account", tmpl: "account"},
	"/help":          {title: "Help", markdown: helpMarkdown},
}

// NavItem is one sidebar link.
type NavItem struct {
	Href   string
	Label  string
	Active bool
}

var nav = []NavItem{
	{Href: "/dashboard", Label: "Dashboard"},
	{Href: "/servers", Label: "Servers"},
	{Href: "/settings", Label: "Settings"},
	{Href: "/admin/servers", Label: "Manage servers"},
	{Href: "/admin/nodes", Label: "Nodes"},
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithData replaces the sample data.
func WithData(d Data) Option {
	return func(r *Renderer) { r.data = d }
}

// WithPagesDir serves every *.html file under dir as an extra page. The
// fragment of such a page is extracted from the file itself.
func WithPagesDir(dir string) Option {
	return func(r *Renderer) { r.pagesDir = dir }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Renderer) { r.logger = l }
}

// Renderer renders views into fragments and full pages.
type Renderer struct {
	views    *template.Template
	layout   *template.Template
	md       goldmark.Markdown
	policy   *bluemonday.Policy
	data     Data
	pagesDir string
	pages    map[string][]byte
	logger   *zap.Logger
}

// markdownPolicy is the UGC policy plus the classes the highlighter emits.
func markdownPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").OnElements("span", "pre", "code")
	return p
}

func New(opts ...Option) (*Renderer, error) {
	r := &Renderer{
		data:   SampleData(),
		pages:  make(map[string][]byte),
		logger: zap.NewNop(),
		policy: markdownPolicy(),
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(
					highlighting.WithStyle("github"),
					highlighting.WithFormatOptions(chromahtml.WithClasses(true)),
				),
			),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
	}
	for _, o := range opts {
		o(r)
	}
	if r.data.Brand == "" {
		r.data.Brand = "Airlink"
	}

	funcs := template.FuncMap{"running": running}
	var err error
	if r.views, err = template.New("views").Funcs(funcs).Parse(viewTemplates); err != nil {
		return nil, fmt.Errorf("parsing view templates: %w", err)
	}
	if r.layout, err = template.New("layout").Parse(layoutTemplate); err != nil {
		return nil, fmt.Errorf("parsing layout template: %w", err)
	}
	if r.pagesDir != "" {
		if err := r.loadPages(os.DirFS(r.pagesDir)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Renderer) loadPages(fsys fs.FS) error {
	files, err := doublestar.Glob(fsys, "**/*.html")
	if err != nil {
		return fmt.Errorf("listing pages: %w", err)
	}
	for _, name := range files {
		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading page %s: %w", name, err)
		}
		path := "/" + strings.TrimSuffix(name, ".html")
		path = strings.TrimSuffix(path, "/index")
		r.pages[fragment.NormalizePath(path)] = b
	}
	r.logger.Debug("render: loaded pages", zap.Int("count", len(files)))
	return nil
}

func running(servers []Server) int {
	n := 0
	for _, s := range servers {
		if s.Status == "running" {
			n++
		}
	}
	return n
}

// Paths lists every static route, sorted.
func (r *Renderer) Paths() []string {
	paths := make([]string, 0, len(views)+len(r.pages))
	for p := range views {
		paths = append(paths, p)
	}
	for p := range r.pages {
		if _, ok := views[p]; !ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

type viewData struct {
	Data
	Path   string
	Server Server
}

// Fragment renders the fragment for path. The root renders the dashboard.
func (r *Renderer) Fragment(path string) (*fragment.Fragment, error) {
	path = fragment.NormalizePath(path)
	if raw, ok := r.pages[path]; ok {
		return ExtractFragment(bytes.NewReader(raw))
	}
	if path == "/" {
		path = "/dashboard"
	}
	if v, ok := views[path]; ok {
		return r.renderView(path, v, viewData{Data: r.data, Path: path})
	}
	if id, ok := strings.CutPrefix(path, "/servers/"); ok {
		for _, s := range r.data.Servers {
			if s.ID == id {
				return r.renderView(path, view{title: s.Name, tmpl: "server"}, viewData{Data: r.data, Path: path, Server: s})
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
}

// NotFound renders the not-found view for path.
func (r *Renderer) NotFound(path string) *fragment.Fragment {
	f, err := r.renderView(path, view{title: "Not found", tmpl: "notfound"}, viewData{Data: r.data, Path: path})
	if err != nil {
		r.logger.Error("render: not-found view", zap.Error(err))
		return &fragment.Fragment{Content: "<h1>Page not found</h1>", Title: "Not found"}
	}
	return f
}

func (r *Renderer) renderView(path string, v view, data viewData) (*fragment.Fragment, error) {
	var buf bytes.Buffer
	var content string
	if v.markdown != "" {
		if err := r.md.Convert([]byte(v.markdown), &buf); err != nil {
			return nil, fmt.Errorf("converting markdown for %s: %w", path, err)
		}
		content = string(r.policy.SanitizeBytes(buf.Bytes()))
	} else {
		if err := r.views.ExecuteTemplate(&buf, v.tmpl, data); err != nil {
			return nil, fmt.Errorf("rendering %s: %w", path, err)
		}
		content = buf.String()
	}
	return &fragment.Fragment{
		Content: strings.TrimSpace(content),
		Title:   v.title + " | " + r.data.Brand,
		Scripts: v.scripts,
		Styles:  v.styles,
		Meta:    map[string]string{"path": path},
	}, nil
}

// RawPage returns a page loaded from the pages directory.
func (r *Renderer) RawPage(path string) ([]byte, bool) {
	b, ok := r.pages[fragment.NormalizePath(path)]
	return b, ok
}

type layoutData struct {
	Title   string
	Brand   string
	Account Account
	Nav     []NavItem
	Content template.HTML
	Scripts []string
	Styles  []string
}

// Page writes f wrapped in the full layout, with the nav link for path
// marked active.
func (r *Renderer) Page(w io.Writer, path string, f *fragment.Fragment) error {
	path = fragment.NormalizePath(path)
	if path == "/" {
		path = "/dashboard"
	}
	items := make([]NavItem, len(nav))
	for i, n := range nav {
		n.Active = n.Href == path
		items[i] = n
	}
	return r.layout.Execute(w, layoutData{
		Title:   f.Title,
		Brand:   r.data.Brand,
		Account: r.data.Account,
		Nav:     items,
		Content: template.HTML(f.Content),
		Scripts: f.Scripts,
		Styles:  f.Styles,
	})
}
