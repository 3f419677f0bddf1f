package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"livedetect/internal/logger"
	"livedetect/internal/service"
	hub "livedetect/internal/service/websocket"

	"github.com/gorilla/websocket"
)

const (
	viewerPongWait   = 60 * time.Second
	viewerPingPeriod = 50 * time.Second
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// viewerCommand is what a viewer may send back over its socket.
type viewerCommand struct {
	Type     string `json:"type"`
	Language string `json:"language"`
}

// ViewWebsocketHandler handles viewer connections over WebSocket. The viewer
// first receives the current snapshot, then every applied snapshot through
// the hub. A viewer may send {"type":"set_language","language":"..."}.
func ViewWebsocketHandler(manager *service.Manager, hubService *hub.HubService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		greeting := func() ([]byte, error) {
			return hub.EncodeSnapshot(manager.Store().Latest(), manager.Status())
		}
		if !hubService.RegisterWithGreeting(connection, greeting) {
			connection.Close()
			return
		}
		defer hubService.Unregister(connection)

		connection.SetReadDeadline(time.Now().Add(viewerPongWait))
		connection.SetPongHandler(func(string) error {
			connection.SetReadDeadline(time.Now().Add(viewerPongWait))
			return nil
		})

		stopPing := make(chan struct{})
		defer close(stopPing)
		go pingViewer(connection, stopPing)

		for {
			_, data, err := connection.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Viewer disconnected normally")
				} else {
					logger.Warning("Viewer disconnected with error: %v", err)
				}
				break
			}
			connection.SetReadDeadline(time.Now().Add(viewerPongWait))

			var cmd viewerCommand
			if err := json.Unmarshal(data, &cmd); err != nil {
				logger.Warning("Ignoring viewer message: %v", err)
				continue
			}
			if cmd.Type == "set_language" && cmd.Language != "" {
				manager.SetLanguage(cmd.Language)
				logger.Info("Viewer changed language to %s", cmd.Language)
			}
		}
	}
}

func pingViewer(connection *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(viewerPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := connection.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
