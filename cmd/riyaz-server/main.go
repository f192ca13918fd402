package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/swaralab/riyaz/internal/dotenv"
	"github.com/swaralab/riyaz/pkg/catalog"
	"github.com/swaralab/riyaz/pkg/gateway/config"
	"github.com/swaralab/riyaz/pkg/gateway/metrics"
	"github.com/swaralab/riyaz/pkg/gateway/practice/sessions"
	gatewayserver "github.com/swaralab/riyaz/pkg/gateway/server"
	"github.com/swaralab/riyaz/pkg/history"
)

type serverDeps struct {
	loadConfig   func() (config.Config, error)
	loadCatalog  func(dir string, logger *slog.Logger) (*catalog.Catalog, error)
	openHistory  func(path string) (*history.Store, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServerDeps() serverDeps {
	return serverDeps{
		loadConfig:  config.LoadFromEnv,
		loadCatalog: catalog.Load,
		openHistory: history.Open,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runServer(ctx context.Context, logger *slog.Logger, deps serverDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.loadCatalog == nil || deps.openHistory == nil {
		return errors.New("missing storage dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	tracker := sessions.NewTracker()
	gwDeps := gatewayserver.Dependencies{
		Logger:   logger,
		Sessions: tracker,
		Metrics:  metrics.New("riyaz"),
	}

	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()

	if cfg.CatalogDir != "" {
		cat, err := deps.loadCatalog(cfg.CatalogDir, logger)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		logger.Info("catalog loaded", "dir", cfg.CatalogDir, "exercises", cat.Len())
		gwDeps.Catalog = cat

		if cfg.CatalogReload {
			go func() {
				if err := cat.Watch(watchCtx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("catalog watch stopped", "error", err)
				}
			}()
		}
	}

	if cfg.HistoryDBPath != "" {
		store, err := deps.openHistory(cfg.HistoryDBPath)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer store.Close()
		logger.Info("history store open", "path", cfg.HistoryDBPath)
		gwDeps.History = store
	}

	gw := gatewayserver.New(cfg, gwDeps)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway", "addr", cfg.Addr,
		"catalog", cfg.CatalogDir != "", "history", cfg.HistoryDBPath != "")

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	tracker.SetDraining(true)
	tracker.WarnAll("draining", "server is shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !tracker.Wait(waitCtx) {
		tracker.CancelAll()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps serverDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "riyaz-server: %v\n", err)
		return 1
	}

	if err := runServer(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "riyaz-server: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultServerDeps()))
}
