package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"expedite-backend/internal/config"
	"expedite-backend/internal/jobs"
	"expedite-backend/internal/logger"
	"expedite-backend/internal/metrics"
	"expedite-backend/internal/repository"
	"expedite-backend/internal/repository/memory"
	"expedite-backend/internal/repository/postgres"
	"expedite-backend/internal/scheduler"
	"expedite-backend/internal/service"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	runOnce := flag.String("run-once", "", "Run a specific job once and exit (status-rules)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Failed to load .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting expedite cronjob service", "log_level", cfg.Log.Level)
	logger.Info("Status rules", "schedule", cfg.Scheduler.StatusRules,
		"inactive_after_days", cfg.Rules.InactiveAfterDays,
		"expire_after_days", cfg.Rules.ExpireAfterDays,
		"abandon_failed_charge_days", cfg.Rules.AbandonFailedChargeDays)

	cases, statusRepo, closeStore, err := openStore(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	m := metrics.New(prometheus.DefaultRegisterer)
	rules := jobs.NewStatusRules(cases, service.NewStatusLookup(statusRepo), jobs.DefaultRules(cfg.Rules), m)
	jobRunner := jobs.NewJobRunner(rules, cfg)

	if *runOnce != "" {
		logger.Info("Running job once", "job", *runOnce)
		if !jobRunner.RunJob(*runOnce) {
			logger.Error("Unknown job name", "job", *runOnce)
			fmt.Printf("Available jobs:\n")
			fmt.Printf("  - status-rules\n")
			os.Exit(1)
		}
		logger.Info("Job execution completed", "job", *runOnce)
		return
	}

	cronScheduler, err := scheduler.NewScheduler(jobRunner)
	if err != nil {
		log.Fatalf("Failed to initialize scheduler: %v", err)
	}
	cronScheduler.Start()
	logger.Info("Cronjob scheduler is running. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down cronjob scheduler...")
	cronScheduler.Stop()
	logger.Info("Cronjob scheduler stopped. Goodbye!")
}

// openStore returns the repositories the status rules need.
func openStore(ctx context.Context, cfg *config.Config) (repository.CaseRepository, repository.StatusRepository, func(), error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("Using in-memory store, the rules have no cases to move")
		s := memory.NewStore()
		return s.Cases, s.Statuses, func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		return nil, nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	logger.Info("Database connection established")

	s := postgres.NewStore(db)
	return s.Cases, s.Statuses, func() { db.Close() }, nil
}
