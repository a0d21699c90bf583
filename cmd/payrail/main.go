// Command payrail runs the payment-orchestration platform: the API
// gateway, the tokenization vault, the provider simulator, and the
// background ledger jobs, individually or all at once.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payrail/config"
	"payrail/internal/adapter/http/handler"
	"payrail/internal/adapter/storage/filestore"
	"payrail/internal/jobs"
	"payrail/internal/service"
	"payrail/internal/sim"
	"payrail/pkg/logger"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	root := &cobra.Command{
		Use:   "payrail",
		Short: "Payment orchestration platform",
	}
	root.AddCommand(
		gatewayCmd(),
		vaultCmd(),
		providerSimCmd(),
		jobsCmd(),
		allCmd(),
	)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	cfg   config.Config
	store *filestore.Store
}

func newApp(component string) (*app, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log := logger.New(component, cfg.LogLevel, cfg.LogPretty)
	store, err := filestore.New(cfg.DataDir, log)
	if err != nil {
		return nil, log, err
	}
	return &app{cfg: cfg, store: store}, log, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// serve runs an HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func serve(ctx context.Context, addr string, h http.Handler, log zerolog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: h}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info().Str("addr", addr).Msg("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func buildGatewayRouter(a *app, log zerolog.Logger) http.Handler {
	ledger := service.NewLedgerService(a.store, log)
	idempotency := service.NewIdempotencyService(a.store, log)
	breaker := service.NewCircuitBreaker(a.store, service.BreakerConfig{
		FailureThreshold: a.cfg.CBFailureThreshold,
		RecoveryTimeout:  a.cfg.CBRecoveryTimeout(),
		HalfOpenMaxCalls: a.cfg.CBHalfOpenMaxCalls,
	}, log)
	routing := service.NewRoutingEngine(breaker, a.cfg.DefaultProvider, a.cfg.FailoverProvider, log)
	providerClient := service.NewHTTPProviderClient(a.cfg.ProviderSimURL, breaker, log)
	vaultClient := service.NewVaultHTTPClient(a.cfg.VaultServiceURL, log)

	payments := service.NewPaymentService(a.store, ledger, idempotency, routing, providerClient, vaultClient, log)
	refunds := service.NewRefundService(a.store, ledger, idempotency, providerClient, log)
	disputes := service.NewDisputeService(a.store, ledger, idempotency, log)
	webhooks := service.NewWebhookService(a.store, ledger, a.cfg.WebhookSecret, log)
	audit := service.NewAuditService(a.store, ledger, breaker, a.cfg.Providers(), log)

	return handler.NewGatewayRouter(handler.GatewayDeps{
		Store:    a.store,
		Payments: payments,
		Refunds:  refunds,
		Disputes: disputes,
		Webhooks: webhooks,
		Audit:    audit,
		Log:      log,
	})
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the API gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, log, err := newApp("api-gateway")
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return serve(ctx, a.cfg.GatewayAddr, buildGatewayRouter(a, log), log)
		},
	}
}

func vaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vault",
		Short: "Run the tokenization vault",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, log, err := newApp("vault-service")
			if err != nil {
				return err
			}
			crypto := service.NewVaultCrypto(a.store)
			vault := service.NewVaultService(a.store, crypto, log)
			ctx, cancel := signalContext()
			defer cancel()
			return serve(ctx, a.cfg.VaultAddr, handler.NewVaultRouter(a.store, vault, log), log)
		},
	}
}

func providerSimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providersim",
		Short: "Run the fault-injecting provider simulator",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, log, err := newApp("provider-sim")
			if err != nil {
				return err
			}
			server := sim.NewServer(a.store, a.cfg.WebhookSecret, a.cfg.WebhookCallbackURL, a.cfg.Seed, log)
			ctx, cancel := signalContext()
			defer cancel()
			return serve(ctx, a.cfg.SimAddr, server.Router(), log)
		},
	}
}

func runJobs(ctx context.Context, a *app, log zerolog.Logger) error {
	dispatcher := jobs.NewDispatcher(a.store, a.cfg.WebhookSecret, a.cfg.WebhookCallbackURL, log)
	settlement := jobs.NewSettlement(a.store, log)
	reconciliation := jobs.NewReconciliation(a.store, log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(ctx, a.cfg.DispatchInterval) })
	g.Go(func() error { return settlement.Run(ctx, a.cfg.SettlementInterval) })
	g.Go(func() error { return reconciliation.Run(ctx, a.cfg.ReconciliationInterval) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func jobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "Run the outbox dispatcher, settlement, and reconciliation loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, log, err := newApp("ledger-jobs")
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return runJobs(ctx, a, log)
		},
	}
}

func allCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run every component in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, log, err := newApp("payrail")
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			crypto := service.NewVaultCrypto(a.store)
			vault := service.NewVaultService(a.store, crypto, log)
			simServer := sim.NewServer(a.store, a.cfg.WebhookSecret, a.cfg.WebhookCallbackURL, a.cfg.Seed, log)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return serve(ctx, a.cfg.GatewayAddr, buildGatewayRouter(a, log), log) })
			g.Go(func() error { return serve(ctx, a.cfg.VaultAddr, handler.NewVaultRouter(a.store, vault, log), log) })
			g.Go(func() error { return serve(ctx, a.cfg.SimAddr, simServer.Router(), log) })
			g.Go(func() error { return runJobs(ctx, a, log) })
			err = g.Wait()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
