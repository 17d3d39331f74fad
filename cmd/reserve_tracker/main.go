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

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"reserve_tracker/internal/infrastructure/configloader"
	"reserve_tracker/internal/infrastructure/restapi"
	"reserve_tracker/internal/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:  "reserve_tracker",
		Usage: "track custody reserves across chains and serve them over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config/config.yml",
				EnvVars: []string{"CONFIG_PATH"},
				Usage:   "path to the service configuration",
			},
			&cli.StringFlag{
				Name:    "registry",
				Aliases: []string{"r"},
				Value:   "config/registry.yml",
				EnvVars: []string{"REGISTRY_PATH"},
				Usage:   "path to the reserve registry",
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "refresh every chain once, log the totals and exit",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatalf("reserve_tracker: %v", err)
	}
}

func run(c *cli.Context) error {
	// Bootstrap logging until the configured zap logger exists.
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stdout)

	cfg, err := configloader.Load(c.String("config"))
	if err != nil {
		return err
	}

	zapLogger, err := logger.Init(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("failed to initialize zap logger: %w", err)
	}
	defer func() { _ = zapLogger.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, c.String("registry"), zapLogger)
	if err != nil {
		return err
	}

	if c.Bool("once") {
		return a.runOnce(ctx)
	}
	return a.serve(ctx, cfg)
}

func (a *app) runOnce(ctx context.Context) error {
	if err := a.warmer.RunOnce(ctx); err != nil {
		return err
	}
	grouped, err := a.reserves.GetGroupedReserveHoldings(ctx)
	if err != nil {
		return err
	}
	for _, g := range grouped.GroupedAssets {
		a.zap.Info("Reserve group",
			zap.String("symbol", g.CanonicalSymbol),
			zap.String("amount", g.TotalBalance),
			zap.Float64("usd", g.UsdValue))
	}
	a.zap.Info("Reserve total", zap.Float64("usd", grouped.TotalUsdValue))
	return nil
}

func (a *app) serve(ctx context.Context, cfg *configloader.Config) error {
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := restapi.NewReserveHandler(a.reserves, a.warmer)
	router := restapi.SetupRouter(handler, restapi.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Gatherer:       a.registry,
		Logger:         a.zap,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
	}

	warmerDone := make(chan struct{})
	go func() {
		defer close(warmerDone)
		a.warmer.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.zap.Info("Starting HTTP server", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			a.zap.Error("HTTP server failed", zap.Error(err))
			return err
		}
	}

	a.zap.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.zap.Error("Server forced to shutdown", zap.Error(err))
	}
	<-warmerDone
	a.zap.Info("Server exiting")
	return nil
}
