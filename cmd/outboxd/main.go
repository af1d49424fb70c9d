// Command outboxd is a reference daemon wiring the outbox subsystems
// together against the Postgres adapter: instance registry, partition
// coordinator, processing scheduler, housekeeper and the debug HTTP
// surface. An embedding application typically copies this wiring rather
// than running the binary directly, registering its own handlers with the
// registry before Start is called.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaykit/outbox"
	"github.com/relaykit/outbox/internal/adapters/k8sidentity"
	"github.com/relaykit/outbox/internal/adapters/postgres"
	"github.com/relaykit/outbox/internal/adapters/redisbus"
	"github.com/relaykit/outbox/internal/chain"
	"github.com/relaykit/outbox/internal/config"
	"github.com/relaykit/outbox/internal/ctxcollect"
	"github.com/relaykit/outbox/internal/httpapi"
	"github.com/relaykit/outbox/internal/instance"
	"github.com/relaykit/outbox/internal/invoke"
	"github.com/relaykit/outbox/internal/metrics"
	"github.com/relaykit/outbox/internal/obs"
	"github.com/relaykit/outbox/internal/partition"
	"github.com/relaykit/outbox/internal/registry"
	"github.com/relaykit/outbox/internal/resilience"
	"github.com/relaykit/outbox/internal/scheduler"
)

const serviceName = "outboxd"

func main() {
	configPath := flag.String("config", "", "path to a YAML/JSON config file, overlaying config.Default()")
	addr := flag.String("addr", ":8090", "address for the debug HTTP surface")
	flag.Parse()

	logger := obs.NewLogger(obs.DefaultLoggingConfig())
	logger.Info("starting", "service", serviceName)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.Connect(ctx, postgres.PoolConfig{
		DSN:         cfg.Storage.DSN,
		MaxConns:    cfg.Storage.MaxConns,
		ConnTimeout: cfg.Storage.ConnTimeout,
	})
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	records := postgres.NewRecordRepository(pool, nil)
	instances := postgres.NewInstanceRepository(pool, nil)
	partitions := postgres.NewPartitionRepository(pool, nil)

	resolver := k8sidentity.NewLocal()
	identity, err := resolver.Resolve(ctx, os.Getenv("POD_NAME"), 0)
	if err != nil {
		logger.Error("failed to resolve instance identity", "error", err)
		os.Exit(1)
	}

	instanceCfg := instance.Config{
		HeartbeatInterval:       cfg.Instance.HeartbeatInterval,
		StaleAfter:              cfg.Instance.StaleAfter,
		GracefulShutdownTimeout: cfg.Instance.GracefulShutdownTimeout,
	}
	instanceRegistry := instance.New(instances, instanceCfg, logger)
	self, err := instanceRegistry.Register(ctx, identity.Hostname, identity.Port)
	if err != nil {
		logger.Error("failed to register instance", "error", err)
		os.Exit(1)
	}
	logger.Info("registered instance", "instance_id", self.InstanceID)

	coordinator := &partition.Coordinator{
		Partitions: partitions,
		Instances:  instances,
		InstanceID: self.InstanceID,
		Logger:     logger,
		Metrics:    metrics.NewPartitionMetrics(nil),
	}
	if err := coordinator.Bootstrap(ctx); err != nil {
		logger.Error("failed to bootstrap partition table", "error", err)
		os.Exit(1)
	}

	// An embedding application registers its own handlers and fallbacks on
	// this registry before calling Start; outboxd on its own only runs the
	// read-side machinery (scheduler, coordinator, housekeeper) that drains
	// whatever records the application's own process already scheduled.
	handlers := registry.New()
	policies := resilience.NewPolicyRegistry(resilience.New(cfg.Retry.ToPolicyConfig()))

	chainImpl := &chain.Chain{
		Invoker:  invoke.New(handlers),
		Policies: policies,
		Records:  records,
		Logger:   logger,
		Metrics:  metrics.NewChainMetrics(nil),
	}

	sched := &scheduler.Scheduler{
		Chain:       chainImpl,
		Records:     records,
		Coordinator: coordinator,
		Config: scheduler.Config{
			PollInterval:       cfg.Scheduler.PollInterval,
			BatchSize:          cfg.Scheduler.BatchSize,
			Workers:            cfg.Scheduler.Workers,
			KeySelectionMode:   cfg.Scheduler.KeySelectionMode,
			StopOnFirstFailure: cfg.Scheduler.StopOnFirstFailure,
		},
		Logger:  logger,
		Metrics: metrics.NewSchedulerMetrics(nil),
	}
	sched.Start(ctx)
	defer sched.Stop()

	rebalancerCfg := scheduler.DefaultRebalancerConfig()
	rebalancerCfg.HeartbeatInterval = cfg.Instance.HeartbeatInterval
	rebalancerCfg.StaleSweepInterval = cfg.Instance.StaleAfter

	rebalancer := &scheduler.Rebalancer{
		Coordinator: coordinator,
		Instances:   instanceRegistry,
		Config:      rebalancerCfg,
		Logger:      logger,
	}
	rebalancer.Start(ctx)
	defer rebalancer.Stop()

	housekeeper := &scheduler.Housekeeper{
		Records: records,
		Config: scheduler.HousekeeperConfig{
			Interval:  cfg.Retention.SweepInterval,
			Retention: cfg.Retention.Retention,
		},
		Logger: logger,
	}
	housekeeper.Start(ctx)
	defer housekeeper.Stop()

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer client.Close()
		bus := redisbus.New(client, cfg.Redis.Channel, logger)
		go bus.Subscribe(ctx, sched)
	}

	// outbox.New is the facade an application-owning process would embed
	// directly; outboxd exposes it here only so operators can see the
	// write-side wiring next to the read-side one.
	_ = outbox.New(records, handlers, ctxcollect.New(logger), logger)

	debugServer := &httpapi.Server{Coordinator: coordinator, Instances: instanceRegistry}
	httpServer := &http.Server{Addr: *addr, Handler: debugServer.Router()}

	go func() {
		logger.Info("debug http surface listening", "addr", *addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("debug http surface failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Instance.GracefulShutdownTimeout+10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("debug http surface failed to shut down cleanly", "error", err)
	}
	if err := instanceRegistry.Shutdown(shutdownCtx); err != nil {
		logger.Error("instance shutdown failed", "error", err)
	}
	fmt.Fprintln(os.Stdout, "outboxd stopped")
}
