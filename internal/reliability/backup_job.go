package reliability

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridianyield/stakeledger/internal/events"
)

// BackupJob runs the cloud backup pipeline on a schedule: snapshot,
// archive, upload, rotate.
type BackupJob struct {
	cloud       *CloudBackupService
	events      *events.Manager
	retainCount int
	log         zerolog.Logger
}

// NewBackupJob creates a new backup job
func NewBackupJob(cloud *CloudBackupService, eventManager *events.Manager, retainCount int, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		cloud:       cloud,
		events:      eventManager,
		retainCount: retainCount,
		log:         log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name for the scheduler
func (j *BackupJob) Name() string {
	return "backup"
}

// Run creates and uploads a backup, then prunes old archives
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := j.cloud.CreateAndUploadBackup(ctx); err != nil {
		if j.events != nil {
			j.events.EmitError("reliability", err, map[string]interface{}{"job": "backup"})
		}
		return err
	}

	if err := j.cloud.RotateOldBackups(ctx, j.retainCount); err != nil {
		// Upload succeeded; rotation failure just leaves extra archives
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}

	if j.events != nil {
		j.events.Emit(events.BackupCompleted, "reliability", map[string]interface{}{
			"retain_count": j.retainCount,
		})
	}

	return nil
}
