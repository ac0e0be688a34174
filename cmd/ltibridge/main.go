// Command ltibridge runs the LTI-Schoolbus bridge: the HTTPS
// /schoolbus endpoint, the Kafka-or-in-memory Delivery Engine, and the
// admin introspection surface, wired together and started the way the
// teacher's service main.go files wire their own gRPC/HTTP pair.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/paepcke/lti-connectors/internal/admin"
	"github.com/paepcke/lti-connectors/internal/apperrors"
	"github.com/paepcke/lti-connectors/internal/audit"
	"github.com/paepcke/lti-connectors/internal/bridge"
	"github.com/paepcke/lti-connectors/internal/bus"
	"github.com/paepcke/lti-connectors/internal/config"
	"github.com/paepcke/lti-connectors/internal/credentials"
	"github.com/paepcke/lti-connectors/internal/delivery"
	"github.com/paepcke/lti-connectors/internal/logger"
	"github.com/paepcke/lti-connectors/internal/server"
	"github.com/paepcke/lti-connectors/internal/subscriptions"
)

func main() {
	cmd := &cobra.Command{
		Use:   "ltibridge",
		Short: "Bridge between an LTI consumer and the internal pub/sub bus",
	}

	flags := config.BindFlags(cmd)

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		return flags.Validate()
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return run(flags)
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(flags *config.Flags) error {
	log, err := logger.New("lti-schoolbus-bridge", flags.Level(), flags.LogFile)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	log.Infow("starting lti-schoolbus bridge")

	creds, err := credentials.Load(flags.ConfigFile)
	if err != nil {
		return apperrors.StartupFailure(err, "failed to load credential configuration")
	}

	registry, err := subscriptions.Load(flags.SubscriptionsFile)
	if err != nil {
		return apperrors.StartupFailure(err, "failed to load subscription registry")
	}

	busAdapter, err := buildBusAdapter(flags, log)
	if err != nil {
		return apperrors.StartupFailure(err, "failed to build bus adapter")
	}
	defer busAdapter.Close()

	auditStore, err := buildAuditStore(flags, log)
	if err != nil {
		return apperrors.StartupFailure(err, "failed to build audit store")
	}
	defer auditStore.Close()

	failureCounter := buildFailureCounter(flags)

	engine := delivery.NewEngine(registry, creds, busAdapter, log, auditStore, failureCounter,
		delivery.WithHTTPTimeout(flags.DeliveryTimeout))
	engine.Start()

	bridgeServer := &bridge.Server{
		Credentials:   creds,
		Subscriptions: registry,
		Bus:           busAdapter,
		Log:           log,
		OnNewSubscription: func(topic string) {
			if err := busAdapter.Subscribe(topic, engine.HandleBusMessage); err != nil {
				log.Errorw("failed to subscribe to newly registered topic", "topic", topic, "error", err)
			}
		},
	}

	// Invariant P4: every topic with at least one persisted subscriber
	// must have its bus subscription re-established before the HTTP
	// listener accepts traffic.
	for _, topic := range registry.Topics() {
		if err := busAdapter.Subscribe(topic, engine.HandleBusMessage); err != nil {
			return apperrors.StartupFailure(err, fmt.Sprintf("failed to re-establish bus subscription for topic %q", topic))
		}
	}
	log.Infow("re-established bus subscriptions", "topics", len(registry.Topics()))

	httpAddr := fmt.Sprintf(":%d", flags.HTTPPort)
	adminMux := admin.Mux(registry, failureCounter)
	httpServer := server.New(httpAddr, flags.TLSCertFile, flags.TLSKeyFile, bridgeServer, adminMux, log)

	healthServer := admin.NewHealthServer(flags.LogLevel == "debug")

	grpcAddr := fmt.Sprintf(":%d", flags.AdminGRPCPort)
	grpcListener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return apperrors.StartupFailure(err, "failed to listen on admin gRPC port")
	}

	errCh := make(chan error, 2)

	go func() {
		log.Infow("serving admin gRPC health check", "addr", grpcAddr)
		if err := healthServer.Serve(grpcListener); err != nil {
			errCh <- fmt.Errorf("admin gRPC server failed: %w", err)
		}
	}()

	go func() {
		log.Infow("serving HTTPS bridge", "addr", httpAddr)
		if err := httpServer.ListenAndServeTLS(); err != nil {
			errCh <- fmt.Errorf("HTTPS server failed: %w", err)
		}
	}()

	healthServer.SetServing()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Infow("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		log.Errorw("server failed, shutting down", "error", err)
	}

	healthServer.SetNotServing()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTPS server shutdown error", "error", err)
	}

	engine.Stop(shutdownCtx)

	for _, topic := range registry.Topics() {
		if err := busAdapter.Unsubscribe(topic); err != nil {
			log.Errorw("failed to release bus subscription during shutdown", "topic", topic, "error", err)
		}
	}

	healthServer.Stop()

	log.Infow("lti-schoolbus bridge stopped")
	return nil
}

func buildBusAdapter(flags *config.Flags, log *logger.Logger) (bus.Adapter, error) {
	if flags.InMemoryBus {
		return bus.NewMemoryAdapter(), nil
	}
	return bus.NewKafkaAdapter(flags.Brokers(), log), nil
}

func buildAuditStore(flags *config.Flags, log *logger.Logger) (audit.Store, error) {
	if flags.AuditDSN == "" {
		return audit.NoopStore{}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := audit.NewPostgresStore(ctx, flags.AuditDSN)
	if err != nil {
		log.Warnw("audit store unreachable, continuing without it", "error", err)
		return audit.NoopStore{}, nil
	}
	return store, nil
}

func buildFailureCounter(flags *config.Flags) delivery.FailureCounter {
	if flags.RedisAddr == "" {
		return delivery.NoopFailureCounter{}
	}
	return delivery.NewRedisFailureCounter(flags.RedisAddr)
}
