package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Kunsh1/spin-gpt/pkg/api"
	"github.com/Kunsh1/spin-gpt/pkg/arbiter"
	"github.com/Kunsh1/spin-gpt/pkg/bridge"
	"github.com/Kunsh1/spin-gpt/pkg/browser"
	"github.com/Kunsh1/spin-gpt/pkg/browser/adapters/chrome"
	"github.com/Kunsh1/spin-gpt/pkg/config"
	apperrors "github.com/Kunsh1/spin-gpt/pkg/errors"
	"github.com/Kunsh1/spin-gpt/pkg/health"
	"github.com/Kunsh1/spin-gpt/pkg/logging"
	"github.com/Kunsh1/spin-gpt/pkg/relay"
	"github.com/Kunsh1/spin-gpt/pkg/session"
	"github.com/Kunsh1/spin-gpt/pkg/telemetry"
)

var (
	serveLoadConfigFn     = config.Load
	serveLoadConfigPathFn = config.LoadFromPath
)

const shutdownCookieTimeout = 5 * time.Second

// serveFlags holds command-line overrides. Only flags the user actually set
// are applied on top of the loaded config.
type serveFlags struct {
	configPath   string
	bind         string
	allowRemote  bool
	origins      []string
	headless     bool
	chromePath   string
	userDataDir  string
	baseURL      string
	cookieFile   string
	chunkTimeout time.Duration
	logDir       string
	logLevel     string
	trace        bool

	set map[string]bool
}

func parseServeFlags(args []string) (*serveFlags, error) {
	f := &serveFlags{set: make(map[string]bool)}
	fset := flag.NewFlagSet("serve", flag.ContinueOnError)
	fset.StringVar(&f.configPath, "config", "", "path to a config file (skips the default search)")
	fset.StringVar(&f.bind, "bind", "", "listen address (default 127.0.0.1:8000)")
	fset.BoolVar(&f.allowRemote, "allow-remote", false, "allow binding to a non-loopback address")
	fset.Var(&stringListValue{target: &f.origins}, "allow-origin", "allowed CORS origin (repeatable or comma separated)")
	fset.BoolVar(&f.headless, "headless", false, "run the browser without a window")
	fset.StringVar(&f.chromePath, "chrome-path", "", "browser executable")
	fset.StringVar(&f.userDataDir, "user-data-dir", "", "browser profile directory")
	fset.StringVar(&f.baseURL, "base-url", "", "chat page URL")
	fset.StringVar(&f.cookieFile, "cookie-file", "", "cookie jar file")
	fset.DurationVar(&f.chunkTimeout, "chunk-timeout", 0, "max wait between streamed fragments")
	fset.StringVar(&f.logDir, "log-dir", "", "directory for JSONL event logs")
	fset.StringVar(&f.logLevel, "log-level", "", "minimum event log level (debug, info, warn, error)")
	fset.BoolVar(&f.trace, "trace", false, "export OpenTelemetry spans to stdout")
	if err := fset.Parse(args); err != nil {
		return nil, err
	}
	if fset.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fset.Args(), " "))
	}
	fset.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f, nil
}

func (f *serveFlags) apply(cfg *config.Config) {
	if f.set["bind"] {
		cfg.Server.Bind = f.bind
	}
	if f.set["allow-remote"] {
		cfg.Server.AllowRemote = f.allowRemote
	}
	if f.set["allow-origin"] {
		cfg.Server.CORSOrigins = append([]string(nil), f.origins...)
	}
	if f.set["headless"] {
		cfg.Browser.Headless = f.headless
	}
	if f.set["chrome-path"] {
		cfg.Browser.ExecPath = f.chromePath
	}
	if f.set["user-data-dir"] {
		cfg.Browser.UserDataDir = f.userDataDir
	}
	if f.set["base-url"] {
		cfg.Session.BaseURL = f.baseURL
	}
	if f.set["cookie-file"] {
		cfg.Session.CookieFile = f.cookieFile
	}
	if f.set["chunk-timeout"] {
		cfg.Relay.ChunkTimeout = f.chunkTimeout
	}
	if f.set["log-dir"] {
		cfg.Logging.Dir = f.logDir
	}
	if f.set["log-level"] {
		cfg.Logging.Level = f.logLevel
	}
	if f.set["trace"] {
		cfg.Logging.Trace = f.trace
	}
}

func loadServeConfig(args []string) (*config.Config, error) {
	flags, err := parseServeFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, withExitCode(err, exitConfig)
	}

	var cfg *config.Config
	if flags.configPath != "" {
		cfg, err = serveLoadConfigPathFn(flags.configPath)
	} else {
		cfg, err = serveLoadConfigFn()
	}
	if err != nil {
		return nil, withExitCode(fmt.Errorf("loading config: %w", err), exitConfig)
	}
	flags.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, withExitCode(err, exitConfig)
	}
	return cfg, nil
}

func chromeConfig(cfg *config.Config) chrome.Config {
	return chrome.Config{
		Headless:       cfg.Browser.Headless,
		ExecPath:       cfg.Browser.ExecPath,
		UserDataDir:    cfg.Browser.UserDataDir,
		UserAgent:      cfg.Browser.UserAgent,
		Viewport:       browser.Viewport{Width: cfg.Browser.ViewportWidth, Height: cfg.Browser.ViewportHeight},
		StartupTimeout: cfg.Browser.StartupTimeout,
		BaseURL:        cfg.Session.BaseURL,
		Selectors: browser.Selectors{
			Probe: cfg.Session.ProbeSelector,
			Input: cfg.Session.InputSelector,
		},
		EndpointMarker:  cfg.Session.EndpointMarker,
		NavigateTimeout: cfg.Session.NavigateTimeout,
		TypeDelay:       cfg.Relay.TypeDelay,
	}
}

func healthConfig(cfg *config.Config) health.Config {
	return health.Config{
		BaseURL:              cfg.Session.BaseURL,
		ProbeSelector:        cfg.Session.ProbeSelector,
		ProbeTimeout:         cfg.Session.ProbeTimeout,
		RecoveryProbeTimeout: cfg.Session.RecoveryProbeTimeout,
		RenderPause:          cfg.Session.RenderPause,
	}
}

func relayConfig(cfg *config.Config) relay.Config {
	return relay.Config{
		ChunkTimeout: cfg.Relay.ChunkTimeout,
		SettleDelay:  cfg.Relay.SettleDelay,
		SaveCookies:  cfg.Relay.SaveCookies,
		CookieFile:   cfg.Session.CookieFile,
	}
}

// statusSources are the pieces /readyz reports on.
type statusSources struct {
	arb     *arbiter.Arbiter
	monitor *health.Monitor
	bridge  *bridge.Bridge
	metrics *browser.Metrics
}

func (s statusSources) status() api.Status {
	st := api.Status{
		Ready:   true,
		Holder:  s.arb.Holder(),
		Waiting: s.arb.Waiting(),
		Served:  s.arb.Served(),
	}
	hs := s.monitor.Stats()
	st.Health = hs
	st.Bridge = s.bridge.Snapshot()
	st.Browser = s.metrics.Snapshot()
	if hs.LastOutcome == "unhealthy" {
		st.Ready = false
		st.Reason = relay.MsgUnhealthy
	}
	return st
}

func runServeCommand(args []string) error {
	cfg, err := loadServeConfig(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host, _ := os.Hostname()
	instanceID := session.GenerateInstanceID(host)
	stdlog := log.New(os.Stderr, "[spin-gpt] ", log.LstdFlags)

	events, err := logging.NewLogger(cfg.Logging.Dir, instanceID)
	if err != nil {
		stdlog.Printf("event log disabled: %v", err)
		events = nil
	} else {
		events.SetMinLevel(logging.ParseLevel(cfg.Logging.Level))
		defer events.Close()
	}

	hub := telemetry.NewHub()
	defer hub.Close()
	go forwardTelemetry(hub, events)

	if cfg.Logging.Trace {
		tp, err := telemetry.NewTracerProvider("spin-gpt", version, os.Stdout)
		if err != nil {
			stdlog.Printf("tracing disabled: %v", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	br := bridge.New(bridge.WithTelemetry(hub))
	metrics := browser.NewMetrics()
	metrics.EnableTelemetry(hub)

	rt, err := chrome.Start(ctx, chromeConfig(cfg), br, chrome.WithMetrics(metrics))
	if err != nil {
		return withExitCode(apperrors.Wrap(err, apperrors.ErrCodeBrowserLaunch, "start browser"), exitBrowser)
	}
	defer rt.Close()

	restoreCookies(ctx, rt, cfg.Session.CookieFile, stdlog, events)

	navCtx, cancelNav := context.WithTimeout(ctx, cfg.Session.NavigateTimeout)
	if err := rt.Navigate(navCtx, cfg.Session.BaseURL); err != nil {
		stdlog.Printf("initial navigation failed: %v", err)
		_ = events.Warn(logging.CategorySession, "session.navigate_failed", err.Error(), map[string]any{"url": cfg.Session.BaseURL})
	}
	cancelNav()

	monitor := health.New(rt, healthConfig(cfg),
		health.WithEventLog(events),
		health.WithTelemetry(hub),
	)
	arb := arbiter.New(br, arbiter.WithTelemetry(hub))

	rl, err := relay.New(relayConfig(cfg), arb, monitor, rt,
		relay.WithCookieJar(rt),
		relay.WithBrowserMetrics(metrics),
		relay.WithEventLog(events),
		relay.WithTelemetry(hub),
	)
	if err != nil {
		arb.Close()
		return err
	}

	sources := statusSources{arb: arb, monitor: monitor, bridge: br, metrics: metrics}
	serverOpts := []api.Option{api.WithStatus(sources.status)}
	if events != nil {
		serverOpts = append(serverOpts, api.WithEventLog(events.CyclePath()))
	}
	srv, err := api.NewServer(api.ConfigFrom(cfg.Server, version), rl, serverOpts...)
	if err != nil {
		return withExitCode(err, exitConfig)
	}

	_ = events.Info(logging.CategoryServer, "server.started", "listening", map[string]any{
		"bind":     cfg.Server.Bind,
		"base_url": cfg.Session.BaseURL,
		"version":  version,
	})
	stdlog.Printf("listening on %s", cfg.Server.Bind)

	serveErr := srv.Start(ctx)

	// Stop admitting cycles before the browser goes away.
	arb.Close()
	rl.Wait()
	if cfg.Relay.SaveCookies && cfg.Session.CookieFile != "" {
		persistCookies(rt, cfg.Session.CookieFile, metrics, stdlog)
	}
	_ = events.Info(logging.CategoryServer, "server.stopped", "shutdown complete", nil)
	return serveErr
}

// restoreCookies loads the saved jar into the browser. A missing file is
// normal on first run.
func restoreCookies(ctx context.Context, jar browser.CookieJar, path string, stdlog *log.Logger, events *logging.Logger) {
	if path == "" {
		return
	}
	cookies, err := browser.LoadCookieFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		stdlog.Printf("no cookie file at %s, starting logged out", path)
		return
	}
	if err != nil {
		err = apperrors.Wrap(err, apperrors.ErrCodeCookieRead, "load cookies").WithContext("path", path)
		stdlog.Printf("%v", err)
		_ = events.Warn(logging.CategorySession, "session.cookies_unreadable", err.Error(), nil)
		return
	}
	if err := jar.SetCookies(ctx, cookies); err != nil {
		stdlog.Printf("restore cookies: %v", err)
		return
	}
	_ = events.Info(logging.CategorySession, "session.cookies_restored", "cookies restored", map[string]any{"count": len(cookies)})
}

func persistCookies(jar browser.CookieJar, path string, metrics *browser.Metrics, stdlog *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownCookieTimeout)
	defer cancel()
	cookies, err := jar.Cookies(ctx)
	if err != nil {
		stdlog.Printf("read cookies on shutdown: %v", err)
		return
	}
	if err := browser.SaveCookieFile(path, cookies); err != nil {
		stdlog.Printf("save cookies on shutdown: %v", err)
		return
	}
	metrics.RecordCookiesSaved(len(cookies))
}

// forwardTelemetry copies hub events into the debug event log until the hub
// closes.
func forwardTelemetry(hub *telemetry.Hub, events *logging.Logger) {
	ch, unsubscribe := hub.Subscribe()
	defer unsubscribe()
	for ev := range ch {
		details := map[string]any{}
		for k, v := range ev.Data {
			details[k] = v
		}
		if ev.CycleID != "" {
			details["cycle_id"] = ev.CycleID
		}
		_ = events.Debug(logging.CategoryServer, string(ev.Type), "telemetry", details)
	}
}

type stringListValue struct {
	target *[]string
}

func (s *stringListValue) String() string {
	if s == nil || s.target == nil {
		return ""
	}
	return strings.Join(*s.target, ",")
}

func (s *stringListValue) Set(value string) error {
	if s.target == nil {
		return fmt.Errorf("string list target is nil")
	}
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		*s.target = append(*s.target, part)
	}
	return nil
}
