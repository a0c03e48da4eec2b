package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/seantiz/concord/internal/api"
	"github.com/seantiz/concord/internal/cluster"
	"github.com/seantiz/concord/internal/config"
	"github.com/seantiz/concord/internal/executor"
	"github.com/seantiz/concord/internal/job"
	"github.com/seantiz/concord/internal/rpc"
	"github.com/seantiz/concord/internal/store"
)

func main() {
	def := config.Default()
	def.ListenAddr = ":10003"
	def.GRPCAddr = ":10001"
	cfg := config.LoadWithDefaults(def)

	out, closeLog := config.LogOutput(os.Stdout, cfg.LogFile)
	defer closeLog()
	logger := config.NewLogger(out, cfg.LogLevel)

	workerID := "worker-" + uuid.NewString()
	logger.Info("concord-cluster: starting",
		"grpc_addr", cfg.GRPCAddr,
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"work_dir", cfg.WorkDir,
		"worker_id", workerID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	reg := executor.NewRegistry()
	reg.Register(job.DummyType, executor.NewLogExecutor(logger))
	process := executor.NewProcessExecutor(runtime.NumCPU())
	reg.Register(job.TaskTypeFLTrainer, process)
	reg.Register(job.TaskTypeFLAggregator, process)
	reg.SetFallback(process)

	host, _, err := net.SplitHostPort(cfg.ClusterAddr)
	if err != nil {
		host = "127.0.0.1"
	}
	mgr := cluster.NewManager(cluster.Config{
		WorkerID: workerID,
		WorkDir:  cfg.WorkDir,
	}, db, reg, cluster.NewPortAllocator(host), logger)

	grpcSrv := rpc.NewServer(rpc.DefaultServerConfig(cfg.GRPCAddr), logger)
	rpc.RegisterClusterManagerServer(grpcSrv.Registrar(), cluster.NewGRPCServer(mgr))
	if err := grpcSrv.Start(); err != nil {
		log.Fatalf("failed to start grpc server: %v", err)
	}

	httpSrv := api.NewServer(cfg.ListenAddr, api.Options{
		Service:   "cluster",
		Health:    map[string]func(context.Context) error{"store": db.Ping},
		Tasks:     db,
		Logs:      mgr.Broker(),
		Executors: reg,
	}, logger)
	if err := httpSrv.Start(); err != nil {
		log.Fatalf("failed to start http server: %v", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := grpcSrv.Stop(shutdownCtx); err != nil {
		logger.Warn("grpc stop", "error", err)
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}

	done := make(chan struct{})
	go func() {
		mgr.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cfg.ShutdownGrace):
		logger.Warn("abandoning running tasks")
	}
}
