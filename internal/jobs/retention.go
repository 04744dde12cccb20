package jobs

import (
	"time"

	"log/slog"

	"beaconly/internal/config"
	"beaconly/internal/database"
	"beaconly/internal/tracker"
)

// RetentionJob deletes sessions and hits older than the configured retention
// period. A retention of zero keeps data forever.
type RetentionJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	cfg       *config.Config
}

func NewRetentionJob(dbManager *database.DBManager, logger *slog.Logger, cfg *config.Config) *RetentionJob {
	return &RetentionJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
	}
}

const retentionBatchSize = 1000

// Run removes expired sessions and their hits in batches so the database is
// never locked for long stretches. Hits go first to avoid orphan windows
// surviving a mid-run crash.
func (j *RetentionJob) Run() error {
	retentionDays := j.cfg.RetentionDays
	if retentionDays <= 0 {
		j.logger.Debug("Data retention disabled, keeping history forever")
		return nil
	}

	db := j.dbManager.GetConnection()
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	j.logger.Info("Starting retention cleanup",
		slog.Int("retention_days", retentionDays),
		slog.Time("cutoff", cutoff))

	hitsDeleted, err := j.deleteInBatches(func() (int64, error) {
		result := db.Where("start_time < ?", cutoff).
			Limit(retentionBatchSize).
			Delete(&tracker.Hit{})
		return result.RowsAffected, result.Error
	})
	if err != nil {
		j.logger.Error("Failed to delete expired hits", slog.Any("error", err))
		return err
	}

	sessionsDeleted, err := j.deleteInBatches(func() (int64, error) {
		result := db.Where("last_seen < ?", cutoff).
			Limit(retentionBatchSize).
			Delete(&tracker.Session{})
		return result.RowsAffected, result.Error
	})
	if err != nil {
		j.logger.Error("Failed to delete expired sessions", slog.Any("error", err))
		return err
	}

	if hitsDeleted > 0 || sessionsDeleted > 0 {
		j.logger.Info("Retention cleanup finished",
			slog.Int64("hits_deleted", hitsDeleted),
			slog.Int64("sessions_deleted", sessionsDeleted))
	}
	return nil
}

func (j *RetentionJob) deleteInBatches(deleteBatch func() (int64, error)) (int64, error) {
	var total int64
	for {
		affected, err := deleteBatch()
		if err != nil {
			return total, err
		}
		total += affected
		if affected < retentionBatchSize {
			return total, nil
		}
		// Breather between batches to limit lock contention.
		time.Sleep(100 * time.Millisecond)
	}
}
