package handler

import (
	"encoding/json"
	"net/http"

	"livedetect/internal/logger"
	"livedetect/internal/model"
	"livedetect/internal/service"
	hub "livedetect/internal/service/websocket"
)

// FrameRenderer draws detections onto a JPEG frame.
type FrameRenderer interface {
	Draw(frame []byte, detections []model.Detection) ([]byte, error)
}

// StatusResponse is served by /api/status.
type StatusResponse struct {
	Status     string            `json:"status"`
	SessionID  string            `json:"session_id,omitempty"`
	Language   string            `json:"language"`
	Viewport   *ViewportInfo     `json:"viewport,omitempty"`
	Viewers    int               `json:"viewers"`
	LastNotice *service.Notice   `json:"last_notice,omitempty"`
	Counters   map[string]uint64 `json:"counters"`
}

// ViewportInfo describes the measured viewport.
type ViewportInfo struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// SnapshotHandler serves the current detection snapshot as JSON.
func SnapshotHandler(manager *service.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		snap := manager.Store().Latest()
		if snap.Detections == nil {
			snap.Detections = []model.Detection{}
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// StatusHandler serves the session status, last notice and counters.
func StatusHandler(manager *service.Manager, hubService *hub.HubService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		resp := StatusResponse{
			Status:    manager.Status().String(),
			SessionID: manager.SessionID(),
			Language:  manager.Language(),
			Viewers:   hubService.GetClientCount(),
			Counters:  manager.Metrics().Snapshot(),
		}
		if vp := manager.Normalizer().Viewport(); vp.Known() {
			resp.Viewport = &ViewportInfo{Width: vp.Width, Height: vp.Height}
		}
		if notice, ok := manager.LastNotice(); ok {
			resp.LastNotice = &notice
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// PreviewHandler serves the last captured frame with the current markers drawn.
func PreviewHandler(manager *service.Manager, renderer FrameRenderer, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		frame, ok := manager.LastFrame()
		if !ok {
			http.Error(w, "No frame captured yet", http.StatusNotFound)
			return
		}

		image := frame.JPEG
		if renderer != nil {
			drawn, err := renderer.Draw(frame.JPEG, manager.Store().Latest().Detections)
			if err != nil {
				logger.Error("Failed to draw preview: %v", err)
			} else {
				image = drawn
			}
		}

		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Last-Modified", frame.CapturedAt.UTC().Format(http.TimeFormat))
		w.Write(image)
	}
}

// LanguageHandler updates the label language: POST {"language":"fr"}.
func LanguageHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			Language string `json:"language"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil || req.Language == "" {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}

		sent := manager.SetLanguage(req.Language)
		logger.Info("Language set to %s (sent to backend: %v)", req.Language, sent)
		writeJSON(w, http.StatusOK, map[string]interface{}{"language": req.Language, "sent": sent})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
