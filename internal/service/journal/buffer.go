// Package journal buffers applied snapshots in memory and periodically
// flushes them to the detection journal.
package journal

import (
	"context"
	"sync"
	"time"

	"livedetect/internal/config"
	"livedetect/internal/logger"
	"livedetect/internal/model"
	"livedetect/internal/repository"
)

const (
	// DefaultBufferLimit is how many snapshots are buffered before an early flush.
	DefaultBufferLimit = 50
	// DefaultFlushInterval is how often buffered snapshots are written.
	DefaultFlushInterval = 10 * time.Second
)

// BufferService batches snapshots so the journal is written in transactions
// instead of once per detection reply.
type BufferService struct {
	repo     repository.SnapshotRepository
	limit    int
	interval time.Duration
	logger   *logger.Logger

	mu        sync.Mutex
	snapshots []model.Snapshot
}

// NewBufferService creates a BufferService writing to repo.
func NewBufferService(cfg *config.Config, logger *logger.Logger, repo repository.SnapshotRepository) *BufferService {
	limit := cfg.JournalBufferLimit
	if limit <= 0 {
		limit = DefaultBufferLimit
	}
	interval := cfg.JournalFlushInterval
	if interval <= 0 {
		interval = DefaultFlushInterval
	}

	return &BufferService{
		repo:      repo,
		limit:     limit,
		interval:  interval,
		logger:    logger,
		snapshots: make([]model.Snapshot, 0, limit),
	}
}

// Add buffers a snapshot. Cleared or empty snapshots carry nothing worth
// keeping and are ignored. It reports whether the buffer is full.
func (s *BufferService) Add(snapshot model.Snapshot) bool {
	if snapshot.SessionID == "" || snapshot.Empty() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = append(s.snapshots, snapshot.Clone())
	return len(s.snapshots) >= s.limit
}

// Len returns the number of buffered snapshots.
func (s *BufferService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

// Run consumes snapshots until the channel closes or ctx is done, flushing on
// a ticker, whenever the buffer fills, and once more on exit.
func (s *BufferService) Run(ctx context.Context, snapshots <-chan model.Snapshot) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if s.Add(snap) {
				s.Flush()
			}
		case <-ticker.C:
			s.Flush()
		}
	}
}

// Flush writes buffered snapshots and resets the buffer. On a write error the
// snapshots stay buffered for the next attempt, up to twice the limit.
func (s *BufferService) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.snapshots) == 0 {
		return nil
	}

	if err := s.repo.InsertBatch(s.snapshots); err != nil {
		s.logger.Error("Error saving snapshots to journal: %v", err)
		if over := len(s.snapshots) - 2*s.limit; over > 0 {
			s.logger.Warning("⚠️  Journal buffer full - dropping %d oldest snapshot(s)", over)
			s.snapshots = append(s.snapshots[:0], s.snapshots[over:]...)
		}
		return err
	}

	s.logger.Debug("Flushed %d snapshot(s) to journal", len(s.snapshots))
	s.snapshots = s.snapshots[:0]
	return nil
}
