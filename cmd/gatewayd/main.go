package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	gateway "github.com/goliatone/go-webhook-gateway"
	"github.com/goliatone/go-webhook-gateway/adapters/gologger"
	"github.com/goliatone/go-webhook-gateway/core"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gatewayd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := core.LoadConfig(ctx, core.NewCfgxConfigProvider(core.NewEnvConfigLoader(".env")), core.GoOptionsResolver{}, core.Config{})
	if err != nil {
		return err
	}

	base, err := gologger.NewProductionZap(os.Getenv("GATEWAY_LOG_LEVEL"))
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = base.Sync() }()
	provider := gologger.NewZapProvider(base)
	observer := core.NewObserver(cfg.ServiceName, provider.GetLogger(cfg.ServiceName), nil)

	ledger, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLedger()

	agentDeps, err := wireAgent(ctx, cfg, observer)
	if err != nil {
		return err
	}
	defer agentDeps.Close()

	opts := []gateway.Option{
		gateway.WithLedger(ledger),
		gateway.WithLoggerProvider(provider),
		gateway.WithReplier(agentDeps.replier),
		gateway.WithTeamIssues(agentDeps.teamIssues),
	}
	if agentDeps.followUps != nil {
		opts = append(opts, gateway.WithFollowUps(agentDeps.followUps))
	}
	if agentDeps.publisher != nil {
		opts = append(opts, gateway.WithPublisher(agentDeps.publisher))
	}
	gw, err := gateway.New(cfg, opts...)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		gw.RunSweeper(ctx, cfg.Ledger.SweepInterval)
	}()
	if agentDeps.worker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := agentDeps.worker.Start(ctx); err != nil {
				observer.Error(ctx, "follow-up worker stopped", map[string]any{"error": err.Error()})
			}
		}()
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		observer.Info(ctx, "gateway listening", map[string]any{
			"addr":          cfg.Server.Addr,
			"webhook_path":  cfg.Webhook.Path,
			"ledger_driver": cfg.Ledger.Driver,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	observer.Info(context.Background(), "gateway shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		observer.Warn(shutdownCtx, "http shutdown incomplete", map[string]any{"error": err.Error()})
	}
	wg.Wait()
	return nil
}

func shutdownTimeout(cfg core.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 15 * time.Second
}
