// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/outreach-engine/internal/app"
	"github.com/unclebandit/outreach-engine/internal/config"
	"github.com/unclebandit/outreach-engine/internal/db"
	"github.com/unclebandit/outreach-engine/internal/handler"
	"github.com/unclebandit/outreach-engine/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	migrate := flag.Bool("migrate", false, "apply pending migrations before serving")
	withWorker := flag.Bool("worker", false, "also run the send and reply loops in-process")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	lg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer lg.Sync() //nolint:errcheck

	if err := run(cfg, lg, *migrate, *withWorker); err != nil {
		lg.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, lg *zap.Logger, migrate, withWorker bool) error {
	a, err := app.New(cfg, lg)
	if err != nil {
		return err
	}
	defer a.Close()

	if migrate {
		if err := db.MigrateUp(a.DB.DB); err != nil {
			return err
		}
		lg.Info("migrations applied")
	}

	campaigns, cron := a.Controllers()
	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: handler.NewRouter(campaigns, cron, lg),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		lg.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if withWorker {
		g.Go(func() error {
			return a.Worker().Start(ctx)
		})
	}
	return g.Wait()
}
