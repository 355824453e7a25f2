package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"text/tabwriter"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/g-flame/airlink-panel/internal/config"
	"github.com/g-flame/airlink-panel/internal/dom"
	"github.com/g-flame/airlink-panel/internal/dom/roddom"
	"github.com/g-flame/airlink-panel/internal/preload"
	"github.com/g-flame/airlink-panel/internal/progress"
	"github.com/g-flame/airlink-panel/internal/router"
	"github.com/g-flame/airlink-panel/internal/spa"
	"github.com/g-flame/airlink-panel/internal/telemetry"
)

var (
	browseStart   string
	browseWarm    bool
	browseBrowser bool
	browseHeadful bool
)

var browseCmd = &cobra.Command{
	Use:   "browse [paths...]",
	Short: "Drive a navigation session against a running panel",
	Long: `Loads a page from the panel at router.base_url and runs the navigation
layer against it. Each path argument is visited in order by clicking its link
when the page has one, or by navigating directly otherwise.

With --warm every sidebar link is preloaded first, so the visits are served
from the cache. With --browser the session runs in Chrome and stays open,
intercepting the clicks made in the window until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if browseBrowser {
			return runBrowserSession(ctx, cmd.OutOrStdout())
		}
		return runHeadlessSession(ctx, cmd.OutOrStdout(), args)
	},
}

func init() {
	browseCmd.Flags().StringVar(&browseStart, "start", "/", "path of the first page to load")
	browseCmd.Flags().BoolVar(&browseWarm, "warm", false, "preload every sidebar link before visiting")
	browseCmd.Flags().BoolVar(&browseBrowser, "browser", false, "run the session in Chrome via rod")
	browseCmd.Flags().BoolVar(&browseHeadful, "headful", true, "show the browser window with --browser")
	rootCmd.AddCommand(browseCmd)
}

// session wires an app for doc from the loaded config and reports results
// to out.
type session struct {
	app      *spa.App
	recorder *telemetry.Recorder
	preloads atomic.Int32
	out      *tabwriter.Writer
}

func newSession(doc dom.Document, c *config.Config, out io.Writer) (*session, error) {
	s := &session{out: tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)}

	if c.Telemetry.Enabled {
		s.recorder = telemetry.NewRecorder(telemetry.NewClient(c.Router.BaseURL, nil), nil, logger.Named("telemetry"))
	}

	persistOpts, err := c.PersistOptions()
	if err != nil {
		return nil, err
	}
	ro := c.RouterOptions()
	ro.OnNavigate = s.navigated
	po := c.PreloadOptions()
	po.Notify = s.preloaded

	s.app, err = spa.New(doc, spa.Options{
		CacheSize:      c.Router.CacheSize,
		Router:         ro,
		Preload:        po,
		Persist:        persistOpts,
		Logger:         logger,
		DisablePreload: !c.Preload.Enabled,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) navigated(res router.Result) {
	status := "ok"
	if res.Err != nil {
		status = router.UserMessage(res.Err)
	}
	fmt.Fprintf(s.out, "%s\t%s\t%dms\t%s\n", res.Path, res.Source, res.Duration.Milliseconds(), status)
	s.out.Flush()
	if s.recorder != nil {
		s.recorder.Navigation(res)
	}
}

func (s *session) preloaded(ev preload.Event) {
	s.preloads.Add(1)
	if s.recorder != nil {
		s.recorder.Preload(ev)
	}
}

// warm preloads every sidebar link and waits for the fetches.
func (s *session) warm(doc dom.Document) {
	var paths []string
	seen := make(map[string]bool)
	for _, a := range doc.QuerySelectorAll("a.nav-link[href]") {
		href, _ := a.Attr("href")
		if p, ok := s.app.Router().ResolveLink(href); ok && !seen[p] && p != s.app.Router().Current() {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	rep := progress.NewReporter("Warming cache")
	rep.Start(len(paths))
	for i, p := range paths {
		s.app.Preloader().PreloadNow(p)
		rep.Update(i+1, p)
	}
	s.app.Preloader().Wait()
	rep.Finish()
	logger.Info("cache warmed", zap.Int("requested", len(paths)), zap.Int32("stored", s.preloads.Load()))
}

func (s *session) summary() {
	rs := s.app.Router().Stats()
	cs := s.app.Cache().Stats()
	fmt.Fprintf(s.out, "\nnavigations\t%d\n", rs.Navigations)
	fmt.Fprintf(s.out, "cache hits\t%d\n", rs.CacheHits)
	fmt.Fprintf(s.out, "speculative hits\t%d\n", rs.SpeculativeHits)
	fmt.Fprintf(s.out, "network fetches\t%d\n", rs.NetworkFetches)
	fmt.Fprintf(s.out, "failures\t%d\n", rs.Failures)
	fmt.Fprintf(s.out, "cached pages\t%d confirmed, %d speculative\n", cs.Confirmed, cs.Speculative)
	s.out.Flush()
}

func runHeadlessSession(ctx context.Context, out io.Writer, paths []string) error {
	startURL := strings.TrimRight(cfg.Router.BaseURL, "/") + browseStart
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, startURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("loading %s: %w", startURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("loading %s: HTTP %d", startURL, resp.StatusCode)
	}
	doc, err := dom.Parse(resp.Body, startURL)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", startURL, err)
	}

	s, err := newSession(doc, cfg, out)
	if err != nil {
		return err
	}
	defer s.app.Close()

	if err := s.app.Start(ctx); err != nil {
		logger.Warn("initial load failed", zap.Error(err))
	}
	if browseWarm {
		s.warm(doc)
	}

	for _, p := range paths {
		if ctx.Err() != nil {
			break
		}
		visit(ctx, s.app, doc, p)
	}
	s.summary()
	return nil
}

// visit clicks the link for path if the page has one, otherwise navigates
// directly.
func visit(ctx context.Context, app *spa.App, doc dom.Document, path string) {
	if a := doc.QuerySelector(fmt.Sprintf("a[href=%q]", path)); a != nil {
		if app.Dispatch(spa.Click(&dom.ClickEvent{Target: a})) {
			app.Wait()
			return
		}
	}
	if err := app.Router().Navigate(ctx, path, true, false); err != nil {
		logger.Debug("navigate", zap.String("path", path), zap.Error(err))
	}
}

func runBrowserSession(ctx context.Context, out io.Writer) error {
	l := launcher.New().Headless(!browseHeadful)
	u, err := l.Launch()
	if err != nil {
		return fmt.Errorf("browser: launch: %w", err)
	}
	defer l.Cleanup()

	b := rod.New().ControlURL(u).Context(ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("browser: connect: %w", err)
	}
	defer b.Close()

	startURL := strings.TrimRight(cfg.Router.BaseURL, "/") + browseStart
	page, err := b.Page(proto.TargetCreateTarget{URL: startURL})
	if err != nil {
		return fmt.Errorf("browser: open %s: %w", startURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		logger.Warn("browser: wait load", zap.Error(err))
	}

	doc := roddom.New(page, logger.Named("roddom"))
	s, err := newSession(doc, cfg, out)
	if err != nil {
		return err
	}
	defer s.app.Close()

	if err := s.app.Start(ctx); err != nil {
		logger.Warn("initial load failed", zap.Error(err))
	}
	if browseWarm {
		s.warm(doc)
	}

	err = doc.Listen(ctx, func(ev roddom.Event) {
		switch ev.Type {
		case roddom.EventClick:
			if !s.app.Dispatch(spa.Click(ev.Click)) {
				doc.FollowLink(ev.Click)
			}
		case roddom.EventPopState:
			s.app.Dispatch(spa.PopState(ev.State))
		case roddom.EventHoverStart:
			s.app.Dispatch(spa.Pointer(spa.EventHoverStart, ev.Target))
		case roddom.EventHoverEnd:
			s.app.Dispatch(spa.Pointer(spa.EventHoverEnd, ev.Target))
		case roddom.EventVisible:
			s.app.Dispatch(spa.Pointer(spa.EventVisible, ev.Target))
		case roddom.EventHidden:
			s.app.Dispatch(spa.Pointer(spa.EventHidden, ev.Target))
		}
	})
	if err != nil {
		return err
	}

	logger.Info("browser session running, press Ctrl+C to stop", zap.String("url", startURL))
	<-ctx.Done()
	s.summary()
	return nil
}
