// Command vigil is the timeline verification daemon. It drives a Chrome
// session over a live social timeline, fingerprints every post it sees,
// resolves verification badges against the authority, and lets the
// logged-in author self-certify their own posts.
//
// Usage:
//
//	vigil -config vigil.yaml                 # full config
//	vigil -url https://x.com/home            # quick start with defaults
//	vigil -url https://x.com/home -mcp       # also serve MCP tools on stdio
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/verifily/vigil/browser"
	"github.com/verifily/vigil/scan"
	"github.com/verifily/vigil/selfverify"
	"github.com/verifily/vigil/settings"
	"github.com/verifily/vigil/shield"
	"github.com/verifily/vigil/verify"
)

type flags struct {
	configPath string
	url        string
	dbPath     string
	remoteURL  string
	headful    bool
	debugAddr  string
	serveMCP   bool
	logLevel   string
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "path to vigil.yaml config file")
	flag.StringVar(&f.url, "url", "", "timeline URL (overrides config)")
	flag.StringVar(&f.dbPath, "db", "", "path to the local state database (overrides config)")
	flag.StringVar(&f.remoteURL, "remote", "", "attach to an existing Chrome (websocket URL, overrides config)")
	flag.BoolVar(&f.headful, "headful", false, "run a visible Chrome under Xvfb")
	flag.StringVar(&f.debugAddr, "debug-addr", "", "serve /health and /stats on this address")
	flag.BoolVar(&f.serveMCP, "mcp", false, "serve verification tools over MCP on stdio")
	flag.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch f.logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, f); err != nil {
		logger.Error("vigil: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, f flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	// Local state: settings and the self-verification gate share one
	// SQLite file.
	store, err := settings.Open(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	gate, err := selfverify.NewGate(store.DB())
	if err != nil {
		return err
	}

	// Authority client. Precedence: settings DB, config, built-in.
	baseURL := cfg.Authority.BaseURL
	if baseURL == "" {
		baseURL = verify.DefaultBaseURL
	}
	baseURL = store.GetDefault(ctx, settings.KeyAuthorityBaseURL, baseURL)
	var clientOpts []verify.ClientOption
	if cfg.Authority.Timeout > 0 {
		clientOpts = append(clientOpts, verify.WithHTTPClient(&http.Client{Timeout: cfg.Authority.Timeout}))
	}
	client := verify.NewClient(baseURL, clientOpts...)
	cache := verify.NewCache(client, logger)

	// Hot-reload the authority URL when the settings DB changes.
	watcher := store.Watcher(time.Second, 500*time.Millisecond)
	go watcher.OnChange(ctx, func() error {
		u := store.GetDefault(ctx, settings.KeyAuthorityBaseURL, baseURL)
		if u != client.BaseURL() {
			logger.Info("vigil: authority URL changed", "url", u)
			client.SetBaseURL(u)
		}
		return nil
	})

	// Browser session.
	mode := browser.ModeHeadless
	if cfg.Browser.Headful {
		mode = browser.ModeHeadful
	}
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		Mode:             mode,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		ResourceBlocking: []string{"images", "fonts", "media"},
		Logger:           logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Close()

	out := scan.BuildSinks(cfg.Sinks, logger)
	defer out.Close()

	trigger := scan.NewTrigger(cfg.Interval, cfg.Debounce)

	// The self-verify handler closes over both; one workflow serves the
	// whole session so concurrent clicks are refused, not multiplied.
	var timeline *browser.Timeline
	var wf *selfverify.Workflow
	timeline, err = browser.OpenTimeline(ctx, mgr, browser.TimelineConfig{
		URL:        cfg.URL,
		OnActivity: trigger.Notify,
		OnSelfVerify: func(ctx context.Context, req browser.SelfVerifyRequest) {
			handleSelfVerify(ctx, logger, timeline, store, wf, cfg.Platform, req)
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer timeline.Close()
	wf = selfverify.NewWorkflow(gate, browser.NewPrompter(timeline), client, cache, logger,
		selfverify.WithWaitlistSource(cfg.WaitlistSource))

	// Viewer identity gates self-verification. Detection failure is not
	// fatal: scanning works logged-out, self-verify stays hidden. A
	// successful detection is remembered so the next session starts with
	// a known viewer even before the timeline finishes loading.
	viewer := detectViewer(ctx, logger, timeline, store)

	// A recycled Chrome loses the page, binding, and injected scripts;
	// reattach builds them back before the next pass.
	mgr.SetRecycleCallback(&browser.RecycleCallback{
		AfterRecycle: func() {
			if err := timeline.Reattach(ctx); err != nil {
				logger.Error("vigil: reattach after recycle failed", "error", err)
				return
			}
			if viewer != "" {
				if err := timeline.SetViewer(ctx, viewer); err != nil {
					logger.Warn("vigil: set viewer after recycle failed", "error", err)
				}
			}
		},
	})

	scanner := scan.New(*cfg, timeline, cache, out, logger)
	scanner.OnActivity(func(active bool, st scan.Stats) {
		if err := timeline.SetActivity(ctx, active, st); err != nil {
			logger.Debug("vigil: status indicator update failed", "error", err)
		}
	})

	if f.debugAddr != "" {
		go serveDebug(ctx, logger, f.debugAddr, scanner, cache, watcher)
	}
	if f.serveMCP {
		go runMCP(ctx, logger, cache, client, cfg.Platform)
	}

	go trigger.Run(ctx)
	logger.Info("vigil: scanning", "url", cfg.URL, "interval", cfg.Interval, "authority", client.BaseURL())
	scanner.Run(ctx, trigger)
	return nil
}

func loadConfig(f flags) (*scan.Config, error) {
	var cfg scan.Config
	if f.configPath != "" {
		loaded, err := scan.LoadConfigFile(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	} else {
		cfg = scan.Defaults()
	}
	// Flags override the file.
	if f.url != "" {
		cfg.URL = f.url
	}
	if f.dbPath != "" {
		cfg.DBPath = f.dbPath
	}
	if f.remoteURL != "" {
		cfg.Browser.Remote = f.remoteURL
	}
	if f.headful {
		cfg.Browser.Headful = true
	}
	return &cfg, nil
}

// detectViewer reads the logged-in handle from the page, persisting it
// on success and falling back to the last persisted handle on failure.
func detectViewer(ctx context.Context, logger *slog.Logger, timeline *browser.Timeline, store *settings.Store) string {
	viewer, err := timeline.ViewerHandle(ctx)
	if err != nil || viewer == "" {
		viewer = store.GetDefault(ctx, settings.KeyViewerHandle, "")
		if viewer == "" {
			logger.Warn("vigil: viewer handle not detected, self-verify disabled", "error", err)
			return ""
		}
		logger.Info("vigil: viewer handle from settings", "handle", viewer)
	} else {
		logger.Info("vigil: viewer detected", "handle", viewer)
		if err := store.Set(ctx, settings.KeyViewerHandle, viewer); err != nil {
			logger.Warn("vigil: persist viewer handle failed", "error", err)
		}
	}
	if err := timeline.SetViewer(ctx, viewer); err != nil {
		logger.Warn("vigil: set viewer failed", "error", err)
	}
	return viewer
}

// handleSelfVerify runs the certification workflow for one clicked post.
func handleSelfVerify(ctx context.Context, logger *slog.Logger, timeline *browser.Timeline,
	store *settings.Store, wf *selfverify.Workflow, platform string, req browser.SelfVerifyRequest) {

	viewer, err := timeline.ViewerHandle(ctx)
	if err != nil || viewer == "" {
		viewer = store.GetDefault(ctx, settings.KeyViewerHandle, "")
	}
	if viewer == "" {
		logger.Warn("selfverify: viewer detection failed", "error", err)
		return
	}
	_, err = wf.Run(ctx, viewer, selfverify.Subject{
		Content:   req.Content,
		Handle:    req.Handle,
		PostID:    req.PostID,
		Permalink: req.PostURL,
		Platform:  platform,
	}, timeline.Control(req.PostID))
	switch {
	case errors.Is(err, selfverify.ErrBusy):
		logger.Debug("selfverify: click ignored, flow in progress", "handle", req.Handle)
	case err != nil:
		logger.Warn("selfverify: flow ended", "error", err, "handle", req.Handle)
	}
}

func serveDebug(ctx context.Context, logger *slog.Logger, addr string,
	scanner *scan.Scanner, cache *verify.Cache, watcher interface{ Version() int64 }) {

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, mw := range shield.DefaultDebugStack() {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"scan":             scanner.Stats(),
			"cache":            cache.Stats(),
			"settings_version": watcher.Version(),
		})
	})

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	logger.Info("vigil: debug server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("vigil: debug server", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err), http.StatusInternalServerError)
	}
}

func runMCP(ctx context.Context, logger *slog.Logger, cache *verify.Cache, client *verify.Client, platform string) {
	srv := mcp.NewServer(&mcp.Implementation{Name: "vigil", Version: "0.1.0"}, nil)
	svc := &verify.Service{Cache: cache, Client: client, Platform: platform}
	svc.RegisterMCP(srv)

	logger.Info("vigil: MCP serving on stdio")
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		logger.Error("vigil: MCP server", "error", err)
	}
}
