// Package websocket fans snapshot updates out to local viewer connections.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"livedetect/internal/logger"
	"livedetect/internal/model"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Client is the part of a viewer connection the hub writes to.
// *websocket.Conn satisfies it.
type Client interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ViewerMessage is what viewers receive for every applied snapshot.
type ViewerMessage struct {
	Type     string         `json:"type"`
	Status   string         `json:"status"`
	Snapshot model.Snapshot `json:"snapshot"`
}

// registration adds a viewer; greeting, when set, builds the first message
// the viewer gets. It runs on the hub goroutine, so no broadcast can slip in
// between it and the viewer joining.
type registration struct {
	client   Client
	greeting func() ([]byte, error)
}

// HubService keeps the set of viewers and broadcasts to all of them.
type HubService struct {
	clients    map[Client]bool
	broadcast  chan []byte
	register   chan registration
	unregister chan Client
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logger.Logger
}

// NewHubService creates an idle hub; call Run to start it.
func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[Client]bool),
		broadcast:  make(chan []byte),
		register:   make(chan registration),
		unregister: make(chan Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves register, unregister and broadcast requests until ctx is done,
// then closes every viewer.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case reg := <-h.register:
			if reg.greeting != nil && !h.greet(reg) {
				continue
			}
			h.mutex.Lock()
			h.clients[reg.client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer connected. Total: %d", total)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer disconnected. Total: %d", total)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Error("Error sending to viewer: %v", err)
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (h *HubService) greet(reg registration) bool {
	data, err := reg.greeting()
	if err != nil {
		h.logger.Error("Error building initial viewer message: %v", err)
		return true
	}
	reg.client.SetWriteDeadline(time.Now().Add(writeWait))
	if err := reg.client.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Error("Error sending initial snapshot: %v", err)
		reg.client.Close()
		return false
	}
	return true
}

// Pump broadcasts every snapshot received on snapshots until the channel
// closes or ctx is done. status reports the session status at send time.
func (h *HubService) Pump(ctx context.Context, snapshots <-chan model.Snapshot, status func() model.Status) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			data, err := EncodeSnapshot(snap, status())
			if err != nil {
				h.logger.Error("Error encoding snapshot: %v", err)
				continue
			}
			h.Broadcast(ctx, data)
		}
	}
}

// EncodeSnapshot builds the viewer JSON for one snapshot.
func EncodeSnapshot(snap model.Snapshot, status model.Status) ([]byte, error) {
	if snap.Detections == nil {
		snap.Detections = []model.Detection{}
	}
	return json.Marshal(ViewerMessage{Type: "snapshot", Status: status.String(), Snapshot: snap})
}

// Register adds a viewer. It reports false once the hub has stopped.
func (h *HubService) Register(client Client) bool {
	return h.RegisterWithGreeting(client, nil)
}

// RegisterWithGreeting adds a viewer and first sends it the message built by
// greeting. Every broadcast after that message reaches the viewer too.
func (h *HubService) RegisterWithGreeting(client Client, greeting func() ([]byte, error)) bool {
	select {
	case h.register <- registration{client: client, greeting: greeting}:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes and closes a viewer.
func (h *HubService) Unregister(client Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.Close()
	}
}

// Broadcast queues message for every viewer. It gives up when ctx is done.
func (h *HubService) Broadcast(ctx context.Context, message []byte) {
	select {
	case h.broadcast <- message:
	case <-ctx.Done():
	case <-h.done:
	}
}

// GetClientCount returns the number of connected viewers.
func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
