package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/seantiz/concord/internal/api"
	"github.com/seantiz/concord/internal/config"
	"github.com/seantiz/concord/internal/coordinator"
	"github.com/seantiz/concord/internal/rpc"
)

func main() {
	def := config.Default()
	def.ListenAddr = ":10004"
	cfg := config.LoadWithDefaults(def)

	out, closeLog := config.LogOutput(os.Stdout, cfg.LogFile)
	defer closeLog()
	logger := config.NewLogger(out, cfg.LogLevel)

	logger.Info("concord-coordinator: starting",
		"grpc_addr", cfg.GRPCAddr,
		"listen_addr", cfg.ListenAddr,
		"check_interval", cfg.CheckInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord := coordinator.New(logger, coordinator.WithCheckInterval(cfg.CheckInterval))

	grpcSrv := rpc.NewServer(rpc.DefaultServerConfig(cfg.GRPCAddr), logger)
	rpc.RegisterCoordinatorServer(grpcSrv.Registrar(), coordinator.NewGRPCServer(coord))
	if err := grpcSrv.Start(); err != nil {
		log.Fatalf("failed to start grpc server: %v", err)
	}

	httpSrv := api.NewServer(cfg.ListenAddr, api.Options{
		Service: "coordinator",
		Health:  map[string]func(context.Context) error{"coordinator": coord.Ready},
		Parties: coord,
	}, logger)
	if err := httpSrv.Start(); err != nil {
		log.Fatalf("failed to start http server: %v", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	coord.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := grpcSrv.Stop(shutdownCtx); err != nil {
		logger.Warn("grpc stop", "error", err)
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
}
