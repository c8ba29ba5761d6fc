// Command andesite runs the audio node: the REST and websocket server, the
// player reactor, health probes and the Prometheus endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/natanbc/andesite/internal/config"
	"github.com/natanbc/andesite/internal/event"
	"github.com/natanbc/andesite/internal/health"
	"github.com/natanbc/andesite/internal/node"
	"github.com/natanbc/andesite/internal/observe"
	"github.com/natanbc/andesite/internal/player"
	"github.com/natanbc/andesite/internal/pump"
	"github.com/natanbc/andesite/internal/resilience"
	"github.com/natanbc/andesite/internal/server"
	"github.com/natanbc/andesite/pkg/audio"
	"github.com/natanbc/andesite/pkg/audio/discord"
	"github.com/natanbc/andesite/pkg/audio/opus"
	"github.com/natanbc/andesite/pkg/track"
	"github.com/natanbc/andesite/pkg/track/wavfile"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	shutdownTimeout = 15 * time.Second
	reactorMaxLag   = 5 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "andesite.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "andesite: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "andesite: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("andesite starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"sources", cfg.Sources.Enabled(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	prov, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		RuntimeCollectors: cfg.Telemetry.RuntimeMetrics,
	})
	if err != nil {
		slog.Error("failed to init telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(prov.Meter)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Sources and voice ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltins(reg)

	decoder, err := reg.CreateDecoder(cfg)
	if err != nil {
		slog.Error("failed to build track sources", "err", err)
		return 1
	}

	nodeOpts := []node.Option{}
	var voice *discord.Platform
	if cfg.Discord.Token != "" {
		p, err := reg.CreatePlatform(config.PlatformDiscord, cfg)
		if err != nil {
			slog.Error("failed to connect to discord", "err", err)
			return 1
		}
		voice, _ = p.(*discord.Platform)
		nodeOpts = append(nodeOpts, node.WithVoice(p))
	}

	// ── Node ──────────────────────────────────────────────────────────────────
	sched := pump.NewScheduler(cfg.Node.Workers)
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "track-loader",
		MaxFailures:  cfg.Node.TrackLoading.MaxFailures,
		ResetTimeout: cfg.Node.TrackLoading.ResetTimeout,
		HalfOpenMax:  cfg.Node.TrackLoading.HalfOpenMax,
		Logger:       logger,
	})
	n, err := node.New(decoder, append(nodeOpts,
		node.WithConfig(nodeConfig(cfg)),
		node.WithEncoder(newOpusEncoder),
		node.WithScheduler(sched),
		node.WithBreaker(breaker),
		node.WithMetrics(metrics),
		node.WithLogger(logger),
	)...)
	if err != nil {
		slog.Error("failed to create node", "err", err)
		return 1
	}
	n.Dispatcher().OnWebSocketClosed(func(ev event.WebSocketClosed) {
		slog.Info("voice socket closed", "guild", ev.GuildID, "user", ev.UserID, "code", ev.Code, "by_remote", ev.ByRemote)
	})
	if _, err := observe.RegisterPlayingGauge(prov.Meter, func() int64 {
		return int64(n.Stats().Players.Playing)
	}); err != nil {
		slog.Warn("failed to register playing gauge", "err", err)
	}

	// ── HTTP ──────────────────────────────────────────────────────────────────
	srv := server.New(n,
		server.WithPassword(cfg.Server.Password),
		server.WithCompatStatsInterval(cfg.Server.CompatStatsInterval),
		server.WithMetadata(server.Metadata{
			Version:        version,
			NodeID:         cfg.Server.NodeID,
			NodeRegion:     cfg.Server.NodeRegion,
			EnabledSources: cfg.Sources.Enabled(),
		}),
		server.WithMetrics(metrics),
		server.WithLogger(logger),
	)
	probes := health.New(
		health.WithLiveness(health.Alive("reactor", reactorMaxLag, n.Alive)),
		health.WithReadiness(health.Checker{Name: "track-loader", Check: breaker.Check}),
	)

	mux := http.NewServeMux()
	srv.Register(mux)
	probes.Register(mux)
	mux.Handle("GET /metrics", prov.Handler())

	httpSrv := &http.Server{
		Addr: cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics,
			observe.WithRouter(mux),
			observe.WithQuietPaths("/healthz", "/readyz", "/metrics"),
		)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyReload(config.Diff(old, new), new, level, srv, n)
	}, config.WithWatcherLogger(logger))
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error {
		slog.Info("http server listening", "addr", httpSrv.Addr, "tls", cfg.Server.TLS != nil)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		probes.SetDraining(true)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	slog.Info("andesite ready")
	runErr := g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	sched.Close()
	if voice != nil {
		if err := voice.Close(); err != nil {
			slog.Warn("discord close error", "err", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := prov.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Wiring ────────────────────────────────────────────────────────────────────

func registerBuiltins(reg *config.Registry) {
	reg.RegisterSource(config.SourceWAV, func(c *config.Config) (track.Decoder, error) {
		d, err := wavfile.New(c.Sources.WAV.Root)
		if err != nil {
			return nil, err
		}
		return d, nil
	})
	reg.RegisterPlatform(config.PlatformDiscord, func(c *config.Config) (audio.Platform, error) {
		p, err := discord.Open(c.Discord.Token)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

func newOpusEncoder() (player.Encoder, error) {
	enc, err := opus.NewEncoder()
	if err != nil {
		return nil, err
	}
	return enc, nil
}

func nodeConfig(cfg *config.Config) node.Config {
	return node.Config{
		AutoSearch:     cfg.Node.AutoSearchEnabled(),
		SearchPrefix:   cfg.Node.DefaultSearchPrefix,
		SearchPrefixes: cfg.Node.SearchPrefixes,
		StateInterval:  cfg.Node.StateInterval,
		SweepInterval:  cfg.Node.SweepInterval,
		IdleTimeout:    cfg.Node.IdleTimeout,
		PumpCapacity:   cfg.Node.FrameBuffer,
		PumpRetry:      cfg.Node.PumpRetry,
	}
}

// applyReload applies the hot-reloadable part of a config change.
func applyReload(d config.Changes, cfg *config.Config, level *slog.LevelVar, srv *server.Server, n *node.Node) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PasswordChanged {
		srv.SetPassword(cfg.Server.Password)
		slog.Info("server password changed")
	}
	if d.SearchChanged {
		n.SetSearch(node.Search{
			AutoSearch: cfg.Node.AutoSearchEnabled(),
			Prefix:     cfg.Node.DefaultSearchPrefix,
			Prefixes:   cfg.Node.SearchPrefixes,
		})
		slog.Info("search settings changed", "auto_search", cfg.Node.AutoSearchEnabled(), "prefix", cfg.Node.DefaultSearchPrefix)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "fields", d.RestartRequired)
	}
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
