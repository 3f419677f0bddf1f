package handler

import (
	"net/http"
	"strconv"
	"time"

	"livedetect/internal/logger"
	"livedetect/internal/repository"
)

const maxJournalLimit = 500

// JournalHandler lists recent journal snapshots: GET /api/journal?limit=N.
func JournalHandler(repo repository.SnapshotRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if repo == nil {
			http.Error(w, "Journal disabled", http.StatusServiceUnavailable)
			return
		}

		limit := atoiDefault(r.URL.Query().Get("limit"), 20)
		if limit <= 0 || limit > maxJournalLimit {
			limit = 20
		}

		entries, err := repo.Recent(limit)
		if err != nil {
			logger.Error("Error reading journal: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries, "count": len(entries)})
	}
}

// JournalStatsHandler summarizes the journal: GET /api/journal/stats?top=N.
func JournalStatsHandler(repo repository.SnapshotRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if repo == nil {
			http.Error(w, "Journal disabled", http.StatusServiceUnavailable)
			return
		}

		stats, err := repo.Stats(atoiDefault(r.URL.Query().Get("top"), 10))
		if err != nil {
			logger.Error("Error reading journal stats: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// JournalPruneHandler deletes old snapshots: POST /api/journal/prune?older_than=24h.
func JournalPruneHandler(repo repository.SnapshotRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if repo == nil {
			http.Error(w, "Journal disabled", http.StatusServiceUnavailable)
			return
		}

		age, err := time.ParseDuration(r.URL.Query().Get("older_than"))
		if err != nil || age <= 0 {
			http.Error(w, "older_than must be a positive duration", http.StatusBadRequest)
			return
		}

		deleted, err := repo.DeleteBefore(time.Now().Add(-age))
		if err != nil {
			logger.Error("Error pruning journal: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		logger.Info("Pruned %d journal snapshot(s) older than %s", deleted, age)
		writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
	}
}

func atoiDefault(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
