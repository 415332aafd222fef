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

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ARyaskov/kira-nuclearqc/internal/api"
	"github.com/ARyaskov/kira-nuclearqc/internal/cache"
	"github.com/ARyaskov/kira-nuclearqc/internal/pipeline"
	"github.com/ARyaskov/kira-nuclearqc/internal/render"
	"github.com/ARyaskov/kira-nuclearqc/internal/scorestore"
)

func newServeCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run browsing API and queue scoring runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			return a.serve()
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP port")
	return cmd
}

func (a *app) serve() error {
	c := a.cfg
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := c.ResolveProfile(); err != nil {
		return err
	}
	log := a.logger.Named("serve")

	store, err := scorestore.NewStore(c.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open results store: %w", err)
	}
	defer store.Close()

	cacheManager, err := cache.NewManager(cache.Config{
		PlotCacheSizeMB: c.Cache.PlotSizeMB,
		PlotTTL:         time.Duration(c.Cache.PlotTTLMinutes) * time.Minute,
		QueryCacheSize:  c.Cache.QuerySize,
	})
	if err != nil {
		return err
	}
	defer cacheManager.Close()

	renderer := render.NewPlotRenderer(render.Config{
		Width:           c.Render.Width,
		Height:          c.Render.Height,
		Bins:            c.Render.Bins,
		DefaultColormap: c.Render.DefaultColormap,
	})

	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Store:   store,
		Logger:  a.logger,
		Version: version,
		GitHash: gitHash,
	})
	runs := api.NewRunManager(api.RunManagerConfig{
		Workers:        c.Server.Workers,
		RetentionDays:  c.Store.RetentionDays,
		CleanupPeriod:  1 * time.Hour,
		Logger:         a.logger,
		ResolveProfile: a.resolveProfile,
		OnDelete:       cacheManager.Forget,
	}, store, runner)
	runs.Start()
	defer runs.Stop()
	runs.Cleanup()

	log.Info("run manager started",
		zap.Int("workers", c.Server.Workers),
		zap.Int("retention_days", c.Store.RetentionDays),
		zap.String("store", c.Store.Path))

	router := api.NewRouter(api.RouterConfig{
		CORSOrigins: c.Server.CORSOrigins,
		Runs:        runs,
		Cache:       cacheManager,
		Renderer:    renderer,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", c.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server listening", zap.String("addr", "http://localhost"+server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	log.Info("server stopped")
	return err
}
