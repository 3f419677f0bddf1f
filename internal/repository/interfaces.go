package repository

import (
	"time"

	"livedetect/internal/model"
)

// SnapshotRepository defines the interface for journal storage.
type SnapshotRepository interface {
	// Create operations
	InsertBatch(snapshots []model.Snapshot) error

	// Read operations
	Recent(limit int) ([]model.JournalEntry, error)
	Stats(topLabels int) (*model.JournalStats, error)

	// Delete operations
	DeleteBefore(cutoff time.Time) (int64, error)
}
