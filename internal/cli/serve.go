package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/aretw0/docket/internal/backend"
	"github.com/aretw0/docket/internal/backend/catalog"
	"github.com/aretw0/docket/internal/config"
	httpadapter "github.com/aretw0/docket/pkg/adapters/http"
	"github.com/aretw0/docket/pkg/adapters/process"
	"github.com/aretw0/docket/pkg/adapters/rest"
	"github.com/aretw0/docket/pkg/observability"
	"github.com/aretw0/docket/pkg/session"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	// janitorInterval caps how often idle sessions are swept.
	janitorInterval = time.Minute
)

// ServeOptions contains the configuration for the Serve command.
type ServeOptions struct {
	Debug bool
	// External skips the reference backend and talks to cfg.Backend.URL.
	External bool
}

// RunServe starts the reference backend, the session API and the metrics
// endpoint, and blocks until a signal arrives or one of them fails.
func RunServe(cfg config.Config, opts ServeOptions) error {
	logger := createLogger(cfg.Log, opts.Debug)

	sigCtx := NewSignalContext(context.Background())
	defer sigCtx.Cancel()

	p, err := OpenPersistence(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := observability.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	var servers []*http.Server
	backendURL := cfg.Backend.URL
	if !opts.External {
		srv, closeSink, err := newBackendServer(sigCtx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeSink(); err != nil {
				logger.Warn("failed to close sink", "err", err)
			}
		}()
		servers = append(servers, srv)
		backendURL = localURL(cfg.Server.BackendAddr)
	}

	client := rest.New(backendURL,
		rest.WithTimeout(cfg.Backend.Timeout),
		rest.WithTargetUse(cfg.Backend.TargetUse),
		rest.WithLogger(logger),
	)
	streams := httpadapter.NewStreamManager()
	mgr := NewManager(p, client, cfg.Session, logger,
		session.WithSessionHooks(observability.LogHooks(logger)),
		session.WithSessionHooks(metrics.Hooks()),
		session.WithSessionHooks(streams.Hooks()),
	)

	servers = append(servers,
		newHTTPServer(cfg.Server.APIAddr, httpadapter.NewHandler(mgr,
			httpadapter.WithStreams(streams),
			httpadapter.WithUploader(client),
			httpadapter.WithLogger(logger),
		)),
		newHTTPServer(cfg.Server.MetricsAddr, metricsHandler(reg)),
	)

	g, ctx := errgroup.WithContext(sigCtx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("graceful shutdown of %s did not complete: %w", srv.Addr, err))
				_ = srv.Close()
			}
		}
		return errors.Join(errs...)
	})
	g.Go(func() error {
		runJanitor(ctx, mgr, p, cfg, logger)
		return nil
	})

	err = g.Wait()
	if sig := sigCtx.Signal(); sig != nil {
		logger.Info("stopped", "signal", sig.String())
	}
	return err
}

// newBackendServer builds the reference document service.
func newBackendServer(ctx context.Context, cfg config.Config, logger *slog.Logger) (*http.Server, func() error, error) {
	cat := catalog.Default()
	if cfg.Server.CatalogPath != "" {
		var err error
		cat, err = catalog.Load(cfg.Server.CatalogPath)
		if err != nil {
			return nil, nil, err
		}
	}

	sink, closeSink, err := OpenSink(ctx, cfg.Sink)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open sink: %w", err)
	}

	bopts := []backend.Option{
		backend.WithCatalog(cat),
		backend.WithSink(sink),
		backend.WithStagingDir(cfg.Server.StagingDir),
		backend.WithMaxUploadSize(cfg.Server.MaxUploadSize),
		backend.WithSessionTTL(cfg.Server.SessionTTL),
		backend.WithLogger(logger.With("component", "backend")),
	}
	if len(cfg.Session.AllowedExtensions) > 0 {
		bopts = append(bopts, backend.WithAllowedExtensions(cfg.Session.AllowedExtensions...))
	}
	if cfg.Server.Analyzer {
		var kopts []backend.KeywordOption
		if cfg.Server.Extractors != "" {
			extractors, err := process.LoadExtractors(cfg.Server.Extractors)
			if err != nil {
				_ = closeSink()
				return nil, nil, err
			}
			kopts = append(kopts, backend.WithExtractor(process.NewRunner(
				process.WithRegistry(extractors),
				process.WithBaseDir(cfg.Server.StagingDir),
			)))
			logger.Info("text extractors loaded", "count", len(extractors))
		}
		bopts = append(bopts, backend.WithAnalyzer(backend.NewKeywordAnalyzer(cat, kopts...)))
	}

	srv, err := backend.New(bopts...)
	if err != nil {
		_ = closeSink()
		return nil, nil, err
	}
	return newHTTPServer(cfg.Server.BackendAddr, srv.Handler()), closeSink, nil
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

// localURL turns a listen address into a loopback URL.
func localURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

// runJanitor evicts idle controllers and prunes stale sqlite rows until ctx ends.
func runJanitor(ctx context.Context, mgr *session.Manager, p *Persistence, cfg config.Config, logger *slog.Logger) {
	interval := janitorInterval
	if cfg.Server.EvictAfter > 0 && cfg.Server.EvictAfter < interval {
		interval = cfg.Server.EvictAfter
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sweep(ctx, now, mgr, p, cfg, logger)
		}
	}
}

func sweep(ctx context.Context, now time.Time, mgr *session.Manager, p *Persistence, cfg config.Config, logger *slog.Logger) {
	if cfg.Server.EvictAfter > 0 {
		if n := mgr.Evict(cfg.Server.EvictAfter); n > 0 {
			logger.Debug("evicted idle sessions", "count", n)
		}
	}
	if p.Pruner != nil && cfg.Store.TTL > 0 {
		n, err := p.Pruner.Prune(ctx, now.Add(-cfg.Store.TTL))
		if err != nil {
			logger.Warn("failed to prune sessions", "err", err)
			return
		}
		if n > 0 {
			logger.Info("pruned stale sessions", "count", n)
		}
	}
}
