package reliability

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridianyield/stakeledger/internal/database"
)

// MaintenanceJob performs periodic database upkeep: integrity checks and
// WAL checkpoints to keep the write-ahead logs from growing unbounded.
type MaintenanceJob struct {
	databases map[string]*database.DB
	log       zerolog.Logger
}

// NewMaintenanceJob creates a new maintenance job
func NewMaintenanceJob(databases map[string]*database.DB, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		databases: databases,
		log:       log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name for the scheduler
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes the maintenance pass over all databases
func (j *MaintenanceJob) Run() error {
	startTime := time.Now()

	for name, db := range j.databases {
		var result string
		if err := db.Conn().QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
			return fmt.Errorf("integrity check failed for %s: %w", name, err)
		}
		if result != "ok" {
			return fmt.Errorf("integrity check failed for %s: %s", name, result)
		}

		if _, err := db.Conn().Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			// Not critical, the next checkpoint will catch up
			j.log.Warn().
				Str("database", name).
				Err(err).
				Msg("WAL checkpoint failed")
		}
	}

	j.log.Debug().
		Dur("duration_ms", time.Since(startTime)).
		Int("databases", len(j.databases)).
		Msg("Maintenance completed")

	return nil
}
