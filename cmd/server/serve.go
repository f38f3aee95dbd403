package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/lynx/internal/aggregator"
	"github.com/good-yellow-bee/lynx/internal/alerting"
	"github.com/good-yellow-bee/lynx/internal/api"
	"github.com/good-yellow-bee/lynx/internal/api/health"
	"github.com/good-yellow-bee/lynx/internal/ingest"
	"github.com/good-yellow-bee/lynx/internal/metrics"
	"github.com/good-yellow-bee/lynx/internal/notifier"
	"github.com/good-yellow-bee/lynx/internal/security"
	"github.com/good-yellow-bee/lynx/internal/server"
	"github.com/good-yellow-bee/lynx/internal/storage"
	"github.com/good-yellow-bee/lynx/pkg/config"
)

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	jwtSecret := os.Getenv(jwtSecretEnv)
	if jwtSecret == "" {
		return fmt.Errorf("%s environment variable is required", jwtSecretEnv)
	}

	store, err := openStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Printf("database initialized at %s", cfg.Database.Path)

	var telemetry storage.TelemetryStorage = store
	var clickhouse *storage.ClickHouseStorage
	if cfg.ClickHouse.Enabled {
		clickhouse = storage.NewClickHouseStorage(clickHouseConfig(cfg), store.Systems())
		if err := clickhouse.Open(); err != nil {
			return fmt.Errorf("open clickhouse: %w", err)
		}
		defer clickhouse.Close()
		if err := clickhouse.Migrate(); err != nil {
			return fmt.Errorf("migrate clickhouse: %w", err)
		}
		telemetry = clickhouse
		log.Printf("telemetry stored in clickhouse: addresses=%v database=%s", cfg.ClickHouse.Addresses, cfg.ClickHouse.Database)
	}

	templates, err := notifier.LoadTemplates()
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	dispatcher := notifier.NewDispatcher(notifier.DispatcherConfig{
		Workers:        cfg.Notifications.Workers,
		QueueSize:      cfg.Notifications.QueueSize,
		MaxAttempts:    cfg.Notifications.MaxAttempts,
		InitialBackoff: duration(cfg.Notifications.InitialBackoff),
		MaxBackoff:     duration(cfg.Notifications.MaxBackoff),
		RatePerMinute:  cfg.Notifications.RateLimitPerMinute,
		Timeout:        duration(cfg.Notifications.Timeout),
		Verbose:        cfg.Verbose,
	}, notifier.Options{Templates: templates})
	// Workers outlive the signal context so Close can drain queued alerts.
	dispatcher.Start(context.Background())
	defer dispatcher.Close()

	engine := alerting.NewEngine(store, telemetry, dispatcher, alerting.EngineOptions{
		Cooldowns: alerting.CooldownPolicy{
			Default:    duration(cfg.Alerting.DefaultCooldown),
			BySeverity: cfg.Alerting.severityCooldowns(),
		},
		Workers: cfg.Alerting.Workers,
		Verbose: cfg.Verbose,
	})

	ingestService := ingest.NewService(store.Systems(), telemetry, engine, cfg.Verbose)

	grpcConfig := &server.Config{
		GRPCAddress: cfg.Server.GRPCAddress,
		Verbose:     cfg.Verbose,
	}
	if cfg.Server.GRPCTLS.Enabled {
		grpcConfig.TLS = &security.ServerTLSConfig{
			CertFile:     cfg.Server.GRPCTLS.CertFile,
			KeyFile:      cfg.Server.GRPCTLS.KeyFile,
			ClientCAFile: cfg.Server.GRPCTLS.ClientCAFile,
		}
	}
	grpcServer, err := server.New(grpcConfig, ingestService)
	if err != nil {
		return fmt.Errorf("create gRPC server: %w", err)
	}

	apiServer, err := api.New(&api.Config{
		Address:          cfg.Server.HTTPAddress,
		JWTSecret:        []byte(jwtSecret),
		HTTPTLSEnabled:   cfg.Server.HTTPTLS.Enabled,
		HTTPTLSCertFile:  cfg.Server.HTTPTLS.CertFile,
		HTTPTLSKeyFile:   cfg.Server.HTTPTLS.KeyFile,
		RateLimitPerUser: cfg.API.RateLimitPerUser,
		RateLimitIngest:  cfg.API.RateLimitIngest,
		MaxQueryRange:    duration(cfg.API.MaxQueryRange),
		QueryTimeout:     duration(cfg.API.QueryTimeout),
		Verbose:          cfg.Verbose,
	}, api.Deps{
		Storage:    store,
		Aggregator: aggregator.New(telemetry.Metrics(), telemetry.Disks()),
		Ingest:     ingestService,
		Rules:      engine,
		Sender:     dispatcher,
	})
	if err != nil {
		return fmt.Errorf("create API server: %w", err)
	}
	apiServer.RegisterHealthChecker(health.NewSQLiteChecker(store.DB()))
	if clickhouse != nil {
		apiServer.RegisterHealthChecker(health.NewClickHouseChecker(clickhouse))
	}
	apiServer.RegisterHealthChecker(health.NewFuncChecker("dispatcher", dispatcher.Healthy))

	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)

	// Setup signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("starting lynx-server %s", config.Version)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return grpcServer.Run(gctx)
	})
	g.Go(func() error {
		return apiServer.Run(gctx)
	})

	if cfg.Server.MetricsAddress != "-" {
		metricsServer := metrics.NewServer(cfg.Server.MetricsAddress)
		g.Go(func() error {
			return metricsServer.Run(gctx)
		})
	}

	if interval := duration(cfg.Alerting.EvaluationInterval); interval > 0 {
		g.Go(func() error {
			engine.Run(gctx, interval)
			return nil
		})
	}

	g.Go(func() error {
		runRetention(gctx, telemetry, cfg.Retention.MetricsDays, duration(cfg.Retention.Interval))
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run server: %w", err)
	}

	log.Printf("server stopped")
	return nil
}
