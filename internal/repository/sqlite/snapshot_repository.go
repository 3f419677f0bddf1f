package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"livedetect/internal/model"
)

// SnapshotRepository implements repository.SnapshotRepository for SQLite.
type SnapshotRepository struct {
	db *DB
}

// NewSnapshotRepository creates a new SQLite snapshot repository.
func NewSnapshotRepository(db *DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// InsertBatch stores snapshots and their detections in a single transaction.
func (r *SnapshotRepository) InsertBatch(snapshots []model.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	snapStmt, err := tx.Prepare(`
		INSERT INTO snapshots (session_id, seq, received_at, detection_count)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer snapStmt.Close()

	detStmt, err := tx.Prepare(`
		INSERT INTO snapshot_detections
			(snapshot_id, label, translated_label, confidence, x1, y1, x2, y2, center_x, center_y)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer detStmt.Close()

	for _, snap := range snapshots {
		result, err := snapStmt.Exec(snap.SessionID, int64(snap.Seq), snap.ReceivedAt.UTC(), len(snap.Detections))
		if err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}
		snapshotID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read snapshot id: %w", err)
		}

		for _, det := range snap.Detections {
			if _, err := detStmt.Exec(snapshotID, det.Label, det.TranslatedLabel, det.Confidence,
				det.Box.X1, det.Box.Y1, det.Box.X2, det.Box.Y2, det.Center.X, det.Center.Y); err != nil {
				return fmt.Errorf("failed to insert detection: %w", err)
			}
		}
	}

	return tx.Commit()
}

// Recent returns the newest snapshots first, with their detections.
func (r *SnapshotRepository) Recent(limit int) ([]model.JournalEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, session_id, seq, received_at
		FROM snapshots ORDER BY received_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}

	var entries []model.JournalEntry
	for rows.Next() {
		var entry model.JournalEntry
		var seq int64
		if err := rows.Scan(&entry.ID, &entry.SessionID, &seq, &entry.ReceivedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		entry.Seq = uint64(seq)
		entries = append(entries, entry)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshots: %w", err)
	}

	for i := range entries {
		dets, err := r.detectionsFor(entries[i].ID)
		if err != nil {
			return nil, err
		}
		entries[i].Detections = dets
	}

	return entries, nil
}

func (r *SnapshotRepository) detectionsFor(snapshotID int64) ([]model.Detection, error) {
	rows, err := r.db.Conn().Query(`
		SELECT label, translated_label, confidence, x1, y1, x2, y2, center_x, center_y
		FROM snapshot_detections WHERE snapshot_id = ? ORDER BY id
	`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	detections := []model.Detection{}
	for rows.Next() {
		var det model.Detection
		if err := rows.Scan(&det.Label, &det.TranslatedLabel, &det.Confidence,
			&det.Box.X1, &det.Box.Y1, &det.Box.X2, &det.Box.Y2, &det.Center.X, &det.Center.Y); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		detections = append(detections, det)
	}

	return detections, rows.Err()
}

// Stats summarizes the journal; topLabels limits the label ranking.
func (r *SnapshotRepository) Stats(topLabels int) (*model.JournalStats, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	conn := r.db.Conn()
	stats := &model.JournalStats{TopLabels: []model.LabelCount{}}

	if err := conn.QueryRow(`SELECT COUNT(*), COUNT(DISTINCT session_id) FROM snapshots`).
		Scan(&stats.Snapshots, &stats.Sessions); err != nil {
		return nil, fmt.Errorf("failed to count snapshots: %w", err)
	}
	if err := conn.QueryRow(`SELECT COUNT(*) FROM snapshot_detections`).Scan(&stats.Detections); err != nil {
		return nil, fmt.Errorf("failed to count detections: %w", err)
	}

	// Aggregates lose the DATETIME type, so read the boundary rows directly.
	first, err := r.boundary(`SELECT received_at FROM snapshots ORDER BY received_at ASC LIMIT 1`)
	if err != nil {
		return nil, err
	}
	last, err := r.boundary(`SELECT received_at FROM snapshots ORDER BY received_at DESC LIMIT 1`)
	if err != nil {
		return nil, err
	}
	stats.First, stats.Last = first, last

	if topLabels <= 0 {
		return stats, nil
	}

	rows, err := conn.Query(`
		SELECT label, COUNT(*) AS c FROM snapshot_detections
		GROUP BY label ORDER BY c DESC, label ASC LIMIT ?
	`, topLabels)
	if err != nil {
		return nil, fmt.Errorf("failed to query labels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var lc model.LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		stats.TopLabels = append(stats.TopLabels, lc)
	}

	return stats, rows.Err()
}

func (r *SnapshotRepository) boundary(query string) (time.Time, error) {
	var ts time.Time
	err := r.db.Conn().QueryRow(query).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read snapshot time: %w", err)
	}
	return ts, nil
}

// DeleteBefore removes snapshots received before cutoff and returns how many
// were deleted.
func (r *SnapshotRepository) DeleteBefore(cutoff time.Time) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cutoff = cutoff.UTC()
	if _, err := tx.Exec(`
		DELETE FROM snapshot_detections
		WHERE snapshot_id IN (SELECT id FROM snapshots WHERE received_at < ?)
	`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to delete detections: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM snapshots WHERE received_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete snapshots: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted snapshots: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return deleted, nil
}
