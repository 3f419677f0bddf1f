package session

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"livedetect/internal/model"
	"livedetect/internal/protocol"

	"github.com/gorilla/websocket"
)

func TestWebsocketDialer_EndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan string, 10)

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(data)

			if strings.Contains(string(data), `"set_language"`) {
				reply := `{"type":"detection","results":[{"box":[100,100,200,200],"label":"cup","translated":"taza","confidence":0.9}]}`
				conn.WriteMessage(websocket.TextMessage, []byte(reply))
			}
		}
	}))
	defer srv.Close()

	dialer := NewWebsocketDialer(5 * time.Second)
	dialer.Dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	endpoint := "wss" + strings.TrimPrefix(srv.URL, "https")
	s, err := Connect(context.Background(), Options{
		Endpoint: endpoint,
		Username: "ana",
		Language: "es",
		Dialer:   dialer,
	})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	det, ok := nextMessage(t, s).(protocol.Detection)
	if !ok || len(det.Results) != 1 || det.Results[0].TranslatedLabel != "taza" {
		t.Fatalf("Unexpected detection message: %#v", det)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case msg := <-received:
			got = append(got, msg)
		case <-timeout:
			t.Fatalf("Timed out, server received %v", got)
		}
	}

	if !strings.Contains(got[0], `"start"`) || !strings.Contains(got[1], `"set_language"`) || !strings.Contains(got[2], `"stop"`) {
		t.Errorf("Expected start, set_language, stop; got %v", got)
	}

	if ev := finalStatus(t, s); ev.Status != model.StatusDisconnected {
		t.Errorf("Expected final status disconnected, got %s", ev.Status)
	}
}
