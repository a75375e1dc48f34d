// Package app wires together storage, scheduler, kernel, and api into a
// running relay server process and manages its graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relayctl/relay/internal/api"
	"github.com/relayctl/relay/internal/config"
	"github.com/relayctl/relay/internal/kernel"
	"github.com/relayctl/relay/internal/models"
	"github.com/relayctl/relay/internal/scheduler"
	"github.com/relayctl/relay/internal/scheduler/docker"
	"github.com/relayctl/relay/internal/storage"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// StartServices initializes every subsystem in dependency order (storage,
// scheduler, kernel, api) and blocks until the process receives a shutdown
// signal, at which point it drains in-flight runs before exiting.
func StartServices(cfg *config.API, buildSHA string) {
	if cfg.Server.DevMode {
		log.Warn().Msg("server in development mode; not for use in production")
	}

	db, err := initStorage(cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("could not init storage")
	}
	log.Info().Str("path", cfg.Storage.Path).Msg("storage initialized")

	defaultNamespace := models.NewNamespace(cfg.DefaultNamespace, "Default", "Default namespace provisioned at startup")
	if err := db.InsertNamespace(nil, defaultNamespace); err != nil && !errors.Is(err, storage.ErrEntityExists) {
		log.Fatal().Err(err).Str("namespace", cfg.DefaultNamespace).Msg("could not provision default namespace")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := initScheduler(ctx, cfg.Scheduler)
	if err != nil {
		log.Fatal().Err(err).Msg("could not init scheduler")
	}
	log.Info().Str("engine", cfg.Scheduler.Engine).Msg("scheduler initialized")

	kernelConfig := kernel.Config{
		StopTimeout:     cfg.Kernel.StopTimeout,
		PollIntervalMin: cfg.Kernel.PollIntervalMin,
		PollIntervalMax: cfg.Kernel.PollIntervalMax,
		StorageRetries:  cfg.Kernel.StorageRetries,
	}
	k := kernel.New(db, engine, kernelConfig)

	service := api.New(db, k, engine, buildSHA, cfg.Server.DevMode)

	healthServer := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	lis, err := net.Listen("tcp", cfg.Server.Host)
	if err != nil {
		log.Fatal().Err(err).Str("host", cfg.Server.Host).Msg("could not bind server listener")
	}

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("grpc server stopped serving")
		}
	}()

	log.Info().Str("host", cfg.Server.Host).Msg("relay server started")

	waitForShutdown(service, healthServer, grpcServer, k, cfg)
}

// waitForShutdown blocks until SIGINT/SIGTERM, then stops admissions and
// drains whatever is already in flight within the configured grace period
// (spec §4.7: "shutdown must not abandon or orphan in-flight runs").
func waitForShutdown(service *api.Service, healthServer *health.Server, grpcServer *grpc.Server, k *kernel.Kernel, cfg *config.API) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	log.Info().Msg("shutdown signal received, draining in-flight runs")
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	k.StopAdmissions()

	done := make(chan struct{})
	go func() {
		k.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all runs drained, shutting down cleanly")
	case <-time.After(cfg.Server.ShutdownTimeout):
		log.Warn().Msg("shutdown grace period elapsed with runs still in flight")
	}

	grpcServer.GracefulStop()
	log.Info().Str("build", service.GetSystemInfo().BuildSHA).Msg("relay server stopped")
}

func initStorage(cfg *config.Storage) (*storage.DB, error) {
	db, err := storage.New(cfg.Path, cfg.MaxResultsLimit)
	if err != nil {
		return nil, err
	}
	return &db, nil
}

func initScheduler(ctx context.Context, cfg *config.Scheduler) (scheduler.Engine, error) {
	switch scheduler.EngineType(cfg.Engine) {
	case scheduler.EngineDocker:
		engine, err := docker.New(ctx, cfg.Docker.Prune, cfg.Docker.PruneInterval)
		if err != nil {
			return nil, err
		}
		return engine, nil
	default:
		return nil, fmt.Errorf("scheduler backend %q not implemented", cfg.Engine)
	}
}
