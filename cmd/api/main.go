package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"capital_waterfall/pkg/api/config"
	"capital_waterfall/pkg/api/distribution"
	"capital_waterfall/pkg/api/metrics"
	"capital_waterfall/pkg/core/store"
	"capital_waterfall/pkg/core/waterfall"
	"capital_waterfall/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFlag := flag.String("config", "config/server.yaml", "path to the server config file")
	listenFlag := flag.String("listen", "", "listen address (overrides listen_addr)")
	verboseFlag := flag.BoolP("verbose", "v", false, "enable verbose (debug) logging")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 15*time.Second, "time allowed for in-flight requests on shutdown")
	flag.Parse()

	_ = godotenv.Load()
	log := logger.New(*verboseFlag)

	cfg, err := config.Load(*configFlag)
	if err != nil {
		return err
	}
	if *listenFlag != "" {
		cfg.ListenAddr = *listenFlag
	}

	presets, err := waterfall.LoadPresets(cfg.PresetsFile)
	if err != nil {
		log.Warn("[CONFIG] waterfall presets unavailable", "file", cfg.PresetsFile, "error", err)
	} else {
		log.Info("[CONFIG] loaded waterfall presets", "file", cfg.PresetsFile, "count", len(presets.Names()))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	repo, backend, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	h := distribution.NewHandler(presets, repo, clockwork.NewRealClock(), log)
	h.BatchWorkers = cfg.BatchWorkers
	cfgHandler := config.NewHandler(cfg, backend, presets)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))
	r.Get("/api/config", cfgHandler.HandleConfig)
	r.Get("/api/waterfalls", h.HandlePresets)
	r.Mount("/api/distributions", h.Routes())
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("[SERVER] listening", "addr", cfg.ListenAddr, "store", backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("[SERVER] shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), *shutdownTimeoutFlag)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

// openStore uses Postgres when DATABASE_URL is set and the file cache otherwise.
func openStore(ctx context.Context, cfg config.ServerConfig, log *slog.Logger) (store.Repository, string, error) {
	if os.Getenv("DATABASE_URL") != "" {
		if err := store.InitDB(ctx); err != nil {
			return nil, "", err
		}
		if cfg.RunMigrations || os.Getenv("RUN_MIGRATIONS") == "true" {
			if err := store.RunMigrations(ctx); err != nil {
				return nil, "", err
			}
			log.Info("[STORE] migrations applied")
		}
		return store.NewDistributionRepo(store.GetPool()), "postgres", nil
	}

	cache, err := store.NewResultCache(cfg.CacheDir)
	if err != nil {
		return nil, "", err
	}
	log.Info("[STORE] DATABASE_URL not set, using file store", "dir", cache.Dir())
	return cache, "file", nil
}
