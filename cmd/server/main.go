// Package main is the entry point for the stakeledger allocation and
// settlement engine. The server tracks staking deposits and exits across
// multiple strategies using a two-phase request/claim lifecycle, keeps
// the aggregate counters honest with journal-based reconciliation, and
// exposes the whole lifecycle over an HTTP API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/meridianyield/stakeledger/internal/auth"
	"github.com/meridianyield/stakeledger/internal/config"
	"github.com/meridianyield/stakeledger/internal/database"
	"github.com/meridianyield/stakeledger/internal/events"
	"github.com/meridianyield/stakeledger/internal/modules/custody"
	"github.com/meridianyield/stakeledger/internal/modules/ledger"
	ledgerhandlers "github.com/meridianyield/stakeledger/internal/modules/ledger/handlers"
	"github.com/meridianyield/stakeledger/internal/modules/shares"
	"github.com/meridianyield/stakeledger/internal/modules/strategy"
	strategyhandlers "github.com/meridianyield/stakeledger/internal/modules/strategy/handlers"
	"github.com/meridianyield/stakeledger/internal/reliability"
	"github.com/meridianyield/stakeledger/internal/roles"
	"github.com/meridianyield/stakeledger/internal/scheduler"
	"github.com/meridianyield/stakeledger/internal/server"
	"github.com/meridianyield/stakeledger/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().
		Str("data_dir", cfg.DataDir).
		Int("port", cfg.Port).
		Msg("Starting stakeledger")

	// Databases. The ledger database carries real balances and gets the
	// maximum-safety profile; the registry holds strategy metadata.
	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	registryDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "registry.db"),
		Profile: database.ProfileStandard,
		Name:    "registry",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open registry database")
	}
	defer registryDB.Close()

	for _, db := range []*database.DB{ledgerDB, registryDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", db.Name()).Msg("Failed to migrate database")
		}
	}

	// Events
	eventBus := events.NewBus()
	eventManager := events.NewManager(eventBus, log)

	// Roles: the request router drives the ledger lifecycle, the manager
	// administers strategies.
	policy := roles.NewStaticPolicy()
	policy.Grant(roles.RoleRouter, auth.CallerRouter)
	policy.Grant(roles.RoleManager, auth.CallerManager)

	// Strategy registry
	registry := strategy.NewRegistry(registryDB.Conn(), policy, log)
	if err := registry.Load(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load strategy registry")
	}
	rateHistory := strategy.NewRateHistoryRepository(registryDB.Conn())

	// Ledger core
	repo := ledger.NewRepository(ledgerDB.Conn(), log)
	journal := ledger.NewJournal(ledgerDB.Conn())
	shareLedger := shares.NewLedger(ledgerDB.Conn(), log)
	lockbox := custody.NewLockbox(ledgerDB.Conn(), log)
	service := ledger.NewService(repo, journal, shareLedger, lockbox, registry, policy, eventManager, log)

	// Background jobs
	databases := map[string]*database.DB{
		"ledger":   ledgerDB,
		"registry": registryDB,
	}

	reconcileJob := reliability.NewReconcileJob(repo, journal, eventManager, log)
	maintenanceJob := reliability.NewMaintenanceJob(databases, log)

	var backupJob *reliability.BackupJob
	if cfg.Backup.Enabled {
		s3Client, err := reliability.NewS3Client(
			cfg.Backup.Endpoint,
			cfg.Backup.Region,
			cfg.Backup.AccessKeyID,
			cfg.Backup.SecretAccessKey,
			cfg.Backup.Bucket,
			log,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create S3 client")
		}

		backupService := reliability.NewBackupService(databases, log)
		cloudBackups := reliability.NewCloudBackupService(s3Client, backupService, cfg.DataDir, log)
		backupJob = reliability.NewBackupJob(cloudBackups, eventManager, cfg.Backup.RetentionCount, log)
	}

	sched := scheduler.New(log)
	if err := sched.AddJob(cfg.ReconcileSchedule, reconcileJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule reconcile job")
	}
	if err := sched.AddJob("@daily", maintenanceJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule maintenance job")
	}
	if backupJob != nil {
		if err := sched.AddJob(cfg.BackupSchedule, backupJob); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule backup job")
		}
	}
	sched.Start()
	defer sched.Stop()

	// HTTP server
	srv := server.New(server.Config{
		Log:              log,
		Config:           cfg,
		LedgerDB:         ledgerDB,
		RegistryDB:       registryDB,
		EventBus:         eventBus,
		LedgerHandlers:   ledgerhandlers.NewHandler(service, journal, shareLedger, lockbox, registry, log),
		StrategyHandlers: strategyhandlers.NewHandler(registry, rateHistory, eventManager, log),
		ReconcileJob:     reconcileJob,
		BackupJob:        jobOrNil(backupJob),
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatal().Err(err).Msg("HTTP server failed")
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Stakeledger stopped")
}

// jobOrNil converts a typed nil into an untyped nil interface so the
// server can check for an unconfigured job.
func jobOrNil(job *reliability.BackupJob) scheduler.Job {
	if job == nil {
		return nil
	}
	return job
}
