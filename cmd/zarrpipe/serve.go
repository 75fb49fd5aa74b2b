package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/celldive/zarrpipe/internal/api"
	"github.com/celldive/zarrpipe/internal/cache"
	"github.com/celldive/zarrpipe/internal/config"
	"github.com/celldive/zarrpipe/internal/ledger"
	"github.com/celldive/zarrpipe/internal/logging"
	"github.com/celldive/zarrpipe/internal/service"
)

func newServeCommand() *cobra.Command {
	var (
		configPath string
		output     string
		port       int
		ledgerPath string
		verbose    bool
		jsonLogs   bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve completed stores over HTTP for Zarr-aware viewers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })
			if changed["output"] {
				cfg.Output.Dir = output
			}
			if changed["port"] {
				cfg.Server.Port = port
			}
			if changed["ledger"] {
				cfg.Ledger.Path = ledgerPath
			}
			if changed["verbose"] && verbose {
				cfg.Log.Level = "debug"
			}
			if changed["json-logs"] {
				cfg.Log.JSON = jsonLogs
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML configuration file")
	cmd.Flags().StringVarP(&output, "output", "o", "", "directory holding the stores (default ./zarr)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default 8080)")
	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "sqlite run ledger exposed under /api/runs")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	cmd.Flags().BoolVar(&jsonLogs, "json-logs", false, "log as JSON lines")
	return cmd
}

func runServe(cfg *config.Config) error {
	log := logging.New(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})

	cacheManager, err := cache.NewManager(cache.Config{
		ChunkCacheSizeMB: cfg.Server.Cache.ChunkSizeMB,
		ChunkTTL:         time.Duration(cfg.Server.Cache.ChunkTTLMinutes) * time.Minute,
		CatalogEntries:   cfg.Server.Cache.CatalogEntries,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheManager.Close()

	var runs *ledger.Store
	if cfg.Ledger.Path != "" {
		runs, err = ledger.NewStore(cfg.Ledger.Path)
		if err != nil {
			return err
		}
		defer runs.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := api.NewMetrics(reg)
	if err != nil {
		return err
	}

	catalog := service.NewCatalog(service.CatalogConfig{
		Root:   cfg.Output.Dir,
		Cache:  cacheManager,
		Ledger: runs,
		Logger: logging.Component(log, "catalog"),
	})
	router := api.NewRouter(api.RouterConfig{
		Catalog:     catalog,
		CORSOrigins: cfg.Server.CORSOrigins,
		Metrics:     metrics,
		Gatherer:    reg,
		Logger:      logging.Component(log, "http"),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("root", cfg.Output.Dir).Int("port", cfg.Server.Port).Msg("serving stores")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-quit:
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server stopped")
	return nil
}
