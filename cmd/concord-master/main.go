package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/seantiz/concord/internal/api"
	"github.com/seantiz/concord/internal/config"
	"github.com/seantiz/concord/internal/job"
	"github.com/seantiz/concord/internal/master"
	"github.com/seantiz/concord/internal/store"
)

func main() {
	cfg := config.Load()

	out, closeLog := config.LogOutput(os.Stdout, cfg.LogFile)
	defer closeLog()
	logger := config.NewLogger(out, cfg.LogLevel)

	logger.Info("concord-master: starting",
		"party_id", cfg.PartyID,
		"job_types", cfg.JobTypes,
		"listen_addr", cfg.ListenAddr,
		"coordinator_addr", cfg.CoordinatorAddr,
		"cluster_addr", cfg.ClusterAddr,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	registry := job.NewRegistry()
	registry.Register(job.DummyType, job.LoadDummy)
	registry.Register(job.FLType, job.NewFLLoader(cfg.WorkDir))

	m, err := master.New(master.Config{
		PartyID:         cfg.PartyID,
		JobTypes:        cfg.JobTypes,
		CoordinatorAddr: cfg.CoordinatorAddr,
		ClusterAddr:     cfg.ClusterAddr,
		RetryInterval:   cfg.RetryInterval,
		ShutdownGrace:   cfg.ShutdownGrace,
	}, db, registry, logger)
	if err != nil {
		log.Fatalf("failed to create master: %v", err)
	}
	health := m.HealthChecks()
	health["store"] = db.Ping
	m.AttachHTTP(api.NewServer(cfg.ListenAddr, api.Options{
		Service:  "master",
		Health:   health,
		Jobs:     m,
		JobStore: db,
	}, logger))

	if err := m.Start(ctx); err != nil {
		logger.Error("start aborted", "error", err)
	} else {
		<-ctx.Done()
	}
	logger.Info("shutting down")

	if err := m.Stop(context.Background()); err != nil {
		logger.Warn("stop", "error", err)
	}
}
