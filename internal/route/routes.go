package route

import (
	"net/http"

	"livedetect/internal/config"
	"livedetect/internal/handler"
	"livedetect/internal/logger"
	"livedetect/internal/middleware"
	"livedetect/internal/repository"
	"livedetect/internal/service"
	hub "livedetect/internal/service/websocket"
)

// SetupRoutes registers the local viewer API, log and metrics endpoints, and
// wraps the mux with the viewer token middleware. repo may be nil when the
// journal is disabled; renderer may be nil to serve raw frames.
func SetupRoutes(manager *service.Manager, hubService *hub.HubService, renderer handler.FrameRenderer,
	cfg *config.Config, logger *logger.Logger, repo repository.SnapshotRepository) http.Handler {
	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("/api/view", handler.ViewWebsocketHandler(manager, hubService, logger))
	mux.HandleFunc("/api/snapshot", handler.SnapshotHandler(manager))
	mux.HandleFunc("/api/status", handler.StatusHandler(manager, hubService))
	mux.HandleFunc("/api/preview", handler.PreviewHandler(manager, renderer, logger))
	mux.HandleFunc("/api/language", handler.LanguageHandler(manager, logger))

	// Journal endpoints
	mux.HandleFunc("/api/journal", handler.JournalHandler(repo, logger))
	mux.HandleFunc("/api/journal/stats", handler.JournalStatsHandler(repo, logger))
	mux.HandleFunc("/api/journal/prune", handler.JournalPruneHandler(repo, logger))

	// Log endpoints
	for _, level := range []string{"debug", "info", "warning", "error"} {
		mux.HandleFunc("/logs/"+level, handler.ShowLogsHandler(logger, level))
		mux.HandleFunc("/logs/"+level+"/clear", handler.ClearLogsHandler(logger, level))
	}

	mux.Handle("/metrics", manager.Metrics().Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Apply middleware
	return middleware.TokenMiddleware(cfg.ViewerToken, mux)
}
