package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AltairaLabs/callkit/config"
	"github.com/AltairaLabs/callkit/events"
	"github.com/AltairaLabs/callkit/logger"
	"github.com/AltairaLabs/callkit/metrics/prometheus"
	"github.com/AltairaLabs/callkit/server"
	"github.com/AltairaLabs/callkit/session"
	"github.com/AltairaLabs/callkit/statestore"
	"github.com/AltairaLabs/callkit/telemetry"
	"github.com/AltairaLabs/callkit/version"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the Twilio voice webhook and media streams",
		Long: `Starts the HTTP server. Point the Twilio number's voice webhook at
{public-url}/v1/twilio/voice; the returned TwiML connects the call to the
media stream endpoint on the same server.

Examples:
  callagent serve
  callagent serve --config callkit.yaml --store redis
  callagent serve --reasoner rules --public-url https://abc.ngrok.app`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logger.Configure(cfg.LoggingSpec()); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	logger.Info("callagent starting", version.Get().LogAttrs()...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return a.run(ctx)
}

// app holds the process-wide components shared by every call.
type app struct {
	cfg         *config.Config
	bus         *events.EventBus
	registry    *statestore.Registry
	store       statestore.Store
	closeStore  func() error
	exporter    *prometheus.Exporter
	tracer      *sdktrace.TracerProvider
	server      *server.Server
	unsubscribe []func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:        cfg,
		bus:        events.NewEventBus(),
		registry:   statestore.NewRegistry(cfg.Store.RegistryGrace),
		closeStore: func() error { return nil },
	}
	built := false
	defer func() {
		if !built {
			a.close()
		}
	}()
	a.unsubscribe = append(a.unsubscribe, a.bus.SubscribeAll(a.registry.Handle))

	sessionCfg, err := cfg.SessionConfig()
	if err != nil {
		return nil, err
	}
	collab, err := buildCollaborators(cfg)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store, a.closeStore = store, closeStore

	runnerOpts := []session.Option{
		session.WithEventBus(a.bus),
		session.WithRegistry(a.registry),
		session.WithStore(a.store),
		session.WithPools(session.NewPools(cfg.PoolConfig())),
	}
	serverOpts := []server.Option{
		server.WithRegistry(a.registry),
		server.WithStore(a.store),
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		server.WithReadHeaderTimeout(cfg.Server.ReadTimeout),
	}
	if cfg.Twilio.ValidateSignature {
		serverOpts = append(serverOpts, server.WithSignatureValidation(cfg.Twilio.AuthToken))
	}

	telemetry.SetupPropagation()
	if cfg.Telemetry.Endpoint != "" {
		a.tracer, err = telemetry.NewTracerProvider(ctx, cfg.TelemetryConfig())
		if err != nil {
			return nil, fmt.Errorf("tracer provider: %w", err)
		}
		calls := telemetry.NewCallListener(telemetry.Tracer(a.tracer))
		a.unsubscribe = append(a.unsubscribe, a.bus.SubscribeAll(calls.Listener()))
		runnerOpts = append(runnerOpts, session.WithParentBinder(calls.BindParent))
		serverOpts = append(serverOpts, server.WithTracerProvider(a.tracer))
	}

	if cfg.Metrics.Enabled {
		a.exporter = prometheus.NewExporter(cfg.Metrics.Addr)
		a.unsubscribe = append(a.unsubscribe, a.bus.SubscribeAll(prometheus.NewMetricsListener().Listener()))
	}

	runner, err := session.NewRunner(collab, sessionCfg, runnerOpts...)
	if err != nil {
		return nil, err
	}
	a.server, err = server.New(runner, cfg.Server.PublicBaseURL, serverOpts...)
	if err != nil {
		return nil, err
	}
	if a.exporter != nil {
		a.exporter.SetReadiness(a.server.Ready)
	}
	built = true
	return a, nil
}

func (a *app) run(ctx context.Context) error {
	errCh := make(chan error, 2)
	if a.exporter != nil {
		go func() {
			if err := a.exporter.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics exporter: %w", err)
			}
		}()
		logger.Info("metrics exporter listening", "addr", a.cfg.Metrics.Addr)
	}
	go func() {
		if err := a.server.ListenAndServe(a.cfg.Server.Addr); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	logger.Info("callagent listening",
		"addr", a.cfg.Server.Addr,
		"public_url", a.cfg.Server.PublicBaseURL,
		"recognizer", a.cfg.Recognition.Provider,
		"reasoner", a.cfg.Reasoning.Provider,
		"synthesizer", a.cfg.Synthesis.Provider,
		"store", a.cfg.Store.Backend,
	)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested", "active_calls", a.server.ActiveCalls())
	case runErr = <-errCh:
		logger.Error("server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}
	if a.exporter != nil {
		if err := a.exporter.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics exporter shutdown", "error", err)
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown", "error", err)
		}
	}
	logger.Info("callagent stopped")
	return runErr
}

func (a *app) close() {
	for _, unsub := range a.unsubscribe {
		unsub()
	}
	a.unsubscribe = nil
	a.bus.Close()
	a.registry.Close()
	if err := a.closeStore(); err != nil {
		logger.Warn("close record store", "error", err)
	}
}
