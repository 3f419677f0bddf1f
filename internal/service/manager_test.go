package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"livedetect/internal/capture"
	"livedetect/internal/config"
	"livedetect/internal/model"
	"livedetect/internal/normalize"
	"livedetect/internal/session"
	"livedetect/internal/store"

	"github.com/gorilla/websocket"
)

// ========================================
// Fakes
// ========================================

type fakeTransport struct {
	mu        sync.Mutex
	written   [][]byte
	inbound   chan []byte
	readErr   chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 16),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.inbound:
		return websocket.TextMessage, data, nil
	case err := <-f.readErr:
		return 0, nil, err
	case <-f.closed:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.written))
	for _, data := range f.written {
		var msg struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(data, &msg)
		out = append(out, msg.Type)
	}
	return out
}

func (f *fakeTransport) count(msgType string) int {
	n := 0
	for _, typ := range f.types() {
		if typ == msgType {
			n++
		}
	}
	return n
}

// fakeDialer fails the first `failures` dials, then hands out fresh transports.
type fakeDialer struct {
	mu         sync.Mutex
	failures   int
	dials      int
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (session.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.dials <= d.failures {
		return nil, errors.New("connection refused")
	}
	ft := newFakeTransport()
	d.transports = append(d.transports, ft)
	return ft, nil
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

type fakeSource struct {
	mu       sync.Mutex
	frame    capture.Frame
	err      error
	captures int
}

func (s *fakeSource) Capture(ctx context.Context) (capture.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captures++
	if s.err != nil {
		return capture.Frame{}, s.err
	}
	frame := s.frame
	frame.CapturedAt = time.Now()
	return frame, nil
}

func (s *fakeSource) Close() error { return nil }

// ========================================
// Helpers
// ========================================

func testConfig() *config.Config {
	return &config.Config{
		Endpoint:        "wss://detect.example.test/ws",
		Username:        "ana",
		Language:        "es",
		CaptureInterval: 5 * time.Millisecond,
		ReferenceWidth:  640,
		ReferenceHeight: 480,
	}
}

func testFrame(width, height int) capture.Frame {
	return capture.Frame{JPEG: []byte{0xff, 0xd8, 0xff, 0xd9}, Width: width, Height: height}
}

func newTestManager(cfg *config.Config, src capture.Source, dialer *fakeDialer) *Manager {
	n := normalize.New(normalize.Resolution{Width: float64(cfg.ReferenceWidth), Height: float64(cfg.ReferenceHeight)})
	return NewManager(cfg, src, store.NewSnapshotStore(), n, nil, nil, dialer)
}

// startStream connects and runs Stream in the background.
func startStream(t *testing.T, mgr *Manager, dialer *fakeDialer) (*fakeTransport, <-chan error) {
	t.Helper()

	sess, err := mgr.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- mgr.Stream(context.Background(), sess)
		close(done)
	}()
	waitFor(t, "stream start", func() bool { return mgr.SessionID() != "" })
	t.Cleanup(func() {
		mgr.Stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Stream did not return after Stop")
		}
	})
	return dialer.last(), done
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func detectionJSON(boxes ...[4]float64) []byte {
	results := make([]map[string]interface{}, 0, len(boxes))
	for _, b := range boxes {
		results = append(results, map[string]interface{}{
			"box":        b[:],
			"label":      "person",
			"translated": "persona",
			"confidence": 0.9,
		})
	}
	data, _ := json.Marshal(map[string]interface{}{"type": "detection", "results": results})
	return data
}

// ========================================
// Tests
// ========================================

func TestManager_HandshakeThenFrames(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := newTestManager(testConfig(), &fakeSource{frame: testFrame(1280, 960)}, dialer)
	ft, _ := startStream(t, mgr, dialer)

	waitFor(t, "first frame", func() bool { return ft.count("frame") >= 1 })

	types := ft.types()
	if types[0] != "start" || types[1] != "set_language" || types[2] != "frame" {
		t.Errorf("Message order = %v, want start, set_language, frame...", types)
	}
}

func TestManager_OneFrameInFlight(t *testing.T) {
	dialer := &fakeDialer{}
	src := &fakeSource{frame: testFrame(1280, 960)}
	mgr := newTestManager(testConfig(), src, dialer)
	ft, _ := startStream(t, mgr, dialer)

	waitFor(t, "first frame", func() bool { return ft.count("frame") == 1 })
	waitFor(t, "skipped ticks", func() bool { return mgr.Metrics().FramesSkipped.Load() >= 3 })
	if got := ft.count("frame"); got != 1 {
		t.Fatalf("Frames sent while one is in flight = %d, want 1", got)
	}

	ft.inbound <- detectionJSON()
	waitFor(t, "frame after reply", func() bool { return ft.count("frame") == 2 })
}

func TestManager_ErrorReplyReleasesFrameAndRaisesNotice(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := newTestManager(testConfig(), &fakeSource{frame: testFrame(1280, 960)}, dialer)
	ft, _ := startStream(t, mgr, dialer)

	waitFor(t, "first frame", func() bool { return ft.count("frame") == 1 })
	ft.inbound <- []byte(`{"type":"error","message":"model overloaded"}`)

	select {
	case n := <-mgr.Notices():
		if n.Message != "model overloaded" {
			t.Errorf("Notice = %q", n.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No notice raised for backend error")
	}

	waitFor(t, "frame after error", func() bool { return ft.count("frame") == 2 })
	if mgr.Status() != model.StatusConnected {
		t.Errorf("Status after backend error = %s, want connected", mgr.Status())
	}
	if last, ok := mgr.LastNotice(); !ok || last.Message != "model overloaded" {
		t.Errorf("LastNotice = %+v, %v", last, ok)
	}
}

func TestManager_InFlightTimeoutReclaimsToken(t *testing.T) {
	cfg := testConfig()
	cfg.InFlightTimeout = 20 * time.Millisecond

	dialer := &fakeDialer{}
	mgr := newTestManager(cfg, &fakeSource{frame: testFrame(1280, 960)}, dialer)
	ft, _ := startStream(t, mgr, dialer)

	waitFor(t, "frame after timeout", func() bool { return ft.count("frame") >= 2 })
}

func TestManager_LatestBatchReplacesSnapshot(t *testing.T) {
	cfg := testConfig()
	cfg.ViewportWidth = 1280
	cfg.ViewportHeight = 960

	dialer := &fakeDialer{}
	mgr := newTestManager(cfg, &fakeSource{frame: testFrame(1280, 960)}, dialer)
	ft, _ := startStream(t, mgr, dialer)

	ft.inbound <- detectionJSON(
		[4]float64{0, 0, 10, 10},
		[4]float64{20, 20, 40, 40},
		[4]float64{50, 50, 90, 90},
	)
	waitFor(t, "three markers", func() bool { return len(mgr.Store().Latest().Detections) == 3 })

	ft.inbound <- detectionJSON([4]float64{100, 100, 200, 200})
	waitFor(t, "one marker", func() bool { return len(mgr.Store().Latest().Detections) == 1 })

	snap := mgr.Store().Latest()
	got := snap.Detections[0]
	if got.Center.X != 300 || got.Center.Y != 300 {
		t.Errorf("Center = %+v, want (300,300)", got.Center)
	}
	if got.DisplayLabel() != "persona" {
		t.Errorf("DisplayLabel = %q", got.DisplayLabel())
	}
	if snap.SessionID != mgr.SessionID() {
		t.Errorf("Snapshot session = %q, want %q", snap.SessionID, mgr.SessionID())
	}
}

func TestManager_EmptyBatchClearsMarkers(t *testing.T) {
	cfg := testConfig()
	cfg.ViewportWidth = 640
	cfg.ViewportHeight = 480

	dialer := &fakeDialer{}
	mgr := newTestManager(cfg, &fakeSource{frame: testFrame(640, 480)}, dialer)
	ft, _ := startStream(t, mgr, dialer)

	ft.inbound <- detectionJSON([4]float64{1, 1, 2, 2})
	waitFor(t, "one marker", func() bool { return len(mgr.Store().Latest().Detections) == 1 })

	ft.inbound <- []byte(`{"type":"detection","results":[]}`)
	waitFor(t, "no markers", func() bool { return mgr.Store().Latest().Empty() })
}

func TestManager_ViewportMeasuredFromFrame(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := newTestManager(testConfig(), &fakeSource{frame: testFrame(1280, 960)}, dialer)
	ft, _ := startStream(t, mgr, dialer)

	waitFor(t, "first frame", func() bool { return ft.count("frame") == 1 })
	if vp := mgr.Normalizer().Viewport(); vp.Width != 1280 || vp.Height != 960 {
		t.Fatalf("Viewport = %+v, want 1280x960", vp)
	}
	if frame, ok := mgr.LastFrame(); !ok || frame.Width != 1280 {
		t.Errorf("LastFrame = %+v, %v", frame, ok)
	}

	ft.inbound <- detectionJSON([4]float64{100, 100, 200, 200})
	waitFor(t, "marker", func() bool { return len(mgr.Store().Latest().Detections) == 1 })
	if c := mgr.Store().Latest().Detections[0].Center; c.X != 300 || c.Y != 300 {
		t.Errorf("Center = %+v, want (300,300)", c)
	}
}

func TestManager_BatchDeferredWithoutViewport(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := newTestManager(testConfig(), &fakeSource{err: errors.New("no camera")}, dialer)
	ft, _ := startStream(t, mgr, dialer)

	ft.inbound <- detectionJSON([4]float64{100, 100, 200, 200})
	waitFor(t, "deferred batch", func() bool { return mgr.Metrics().SnapshotsDeferred.Load() == 1 })

	if !mgr.Store().Latest().Empty() {
		t.Error("Batch must not be applied before the viewport is known")
	}
	if mgr.Metrics().CaptureErrors.Load() == 0 {
		t.Error("Capture errors were not counted")
	}
}

func TestManager_InvalidElementsCounted(t *testing.T) {
	cfg := testConfig()
	cfg.ViewportWidth = 640
	cfg.ViewportHeight = 480

	dialer := &fakeDialer{}
	mgr := newTestManager(cfg, &fakeSource{frame: testFrame(640, 480)}, dialer)
	ft, _ := startStream(t, mgr, dialer)

	ft.inbound <- []byte(`{"type":"detection","results":[
		{"box":[0,0,10,10],"label":"cat","confidence":0.8},
		{"box":[10,10,5,5],"label":"dog","confidence":0.8},
		{"box":[0,0,10],"label":"dog","confidence":0.8}
	]}`)
	waitFor(t, "marker", func() bool { return len(mgr.Store().Latest().Detections) == 1 })

	if got := mgr.Metrics().DetectionsDropped.Load(); got != 2 {
		t.Errorf("DetectionsDropped = %d, want 2", got)
	}
	if got := mgr.Store().Latest().Detections[0].Label; got != "cat" {
		t.Errorf("Label = %q, want cat", got)
	}
}

func TestManager_StopSendsNoFrameAfterStop(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := newTestManager(testConfig(), &fakeSource{frame: testFrame(640, 480)}, dialer)
	ft, done := startStream(t, mgr, dialer)

	ft.inbound <- detectionJSON([4]float64{1, 1, 2, 2})
	waitFor(t, "first frame", func() bool { return ft.count("frame") >= 1 })

	mgr.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stream did not return after Stop")
	}
	time.Sleep(20 * time.Millisecond)

	types := ft.types()
	if types[len(types)-1] != "stop" {
		t.Errorf("Last message = %q, want stop (all: %v)", types[len(types)-1], types)
	}
	if ft.count("stop") != 1 {
		t.Errorf("stop sent %d times", ft.count("stop"))
	}
	if !mgr.Store().Latest().Empty() {
		t.Error("Store must be cleared after Stop")
	}
	if mgr.Status() != model.StatusDisconnected {
		t.Errorf("Status = %s, want disconnected", mgr.Status())
	}
}

func TestManager_StopDuringRunClearsSnapshot(t *testing.T) {
	for round := 0; round < 20; round++ {
		stopWhileDetectionsArrive(t)
	}
}

func stopWhileDetectionsArrive(t *testing.T) {
	t.Helper()

	cfg := testConfig()
	cfg.ViewportWidth = 640
	cfg.ViewportHeight = 480

	dialer := &fakeDialer{}
	mgr := newTestManager(cfg, &fakeSource{frame: testFrame(640, 480)}, dialer)
	subID, updates := mgr.Store().Subscribe()
	defer mgr.Store().Unsubscribe(subID)

	done := make(chan error, 1)
	go func() { done <- mgr.Run(context.Background()) }()
	waitFor(t, "connected", func() bool { return mgr.Status() == model.StatusConnected })
	ft := dialer.last()

	stopFeed := make(chan struct{})
	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		for {
			select {
			case <-stopFeed:
				return
			case <-ft.closed:
				return
			case ft.inbound <- detectionJSON([4]float64{1, 1, 2, 2}):
			}
		}
	}()
	waitFor(t, "marker", func() bool { return len(mgr.Store().Latest().Detections) == 1 })

	mgr.Stop()
	select {
	case err := <-done:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("Run returned %v, want ErrStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	close(stopFeed)
	<-feedDone

	if !mgr.Store().Latest().Empty() {
		t.Fatal("Store must stay cleared after Stop while detections were arriving")
	}
	select {
	case snap := <-updates:
		if !snap.Empty() {
			t.Fatalf("Last notification after Stop has %d detection(s)", len(snap.Detections))
		}
	default:
		t.Fatal("Subscribers were not told about the cleared snapshot")
	}
}

func TestManager_TransportFailureClearsStore(t *testing.T) {
	cfg := testConfig()
	cfg.ViewportWidth = 640
	cfg.ViewportHeight = 480

	dialer := &fakeDialer{}
	mgr := newTestManager(cfg, &fakeSource{frame: testFrame(640, 480)}, dialer)
	ft, done := startStream(t, mgr, dialer)

	ft.inbound <- detectionJSON([4]float64{1, 1, 2, 2})
	waitFor(t, "marker", func() bool { return len(mgr.Store().Latest().Detections) == 1 })

	ft.readErr <- errors.New("connection reset by peer")
	select {
	case err := <-done:
		if err == nil {
			t.Error("Stream should return the transport failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stream did not return after transport failure")
	}

	if !mgr.Store().Latest().Empty() {
		t.Error("Store must be cleared when the session fails")
	}
	if mgr.Status() != model.StatusError {
		t.Errorf("Status = %s, want error", mgr.Status())
	}
	if _, ok := mgr.LastNotice(); !ok {
		t.Error("Session failure should raise a notice")
	}
}

func TestManager_SetLanguage(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := newTestManager(testConfig(), &fakeSource{err: errors.New("idle")}, dialer)

	if mgr.SetLanguage("fr") {
		t.Error("SetLanguage without a session should report false")
	}
	if mgr.Language() != "fr" {
		t.Errorf("Language = %q, want fr", mgr.Language())
	}

	ft, _ := startStream(t, mgr, dialer)
	if !mgr.SetLanguage("de") {
		t.Fatal("SetLanguage on a live session should succeed")
	}

	types := ft.types()
	if ft.count("set_language") != 2 || types[len(types)-1] != "set_language" {
		t.Errorf("Messages = %v", types)
	}
}

func TestManager_RunReconnectsWithBackoff(t *testing.T) {
	dialer := &fakeDialer{failures: 2}
	mgr := newTestManager(testConfig(), &fakeSource{frame: testFrame(640, 480)}, dialer)
	mgr.minBackoff = time.Millisecond
	mgr.maxBackoff = 4 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- mgr.Run(context.Background()) }()

	waitFor(t, "connected", func() bool { return mgr.Status() == model.StatusConnected })
	if got := mgr.Metrics().Reconnects.Load(); got != 2 {
		t.Errorf("Reconnects = %d, want 2", got)
	}

	mgr.Stop()
	select {
	case err := <-done:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("Run returned %v, want ErrStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestManager_RunReturnsOnContextCancel(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := newTestManager(testConfig(), &fakeSource{frame: testFrame(640, 480)}, dialer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx) }()

	waitFor(t, "connected", func() bool { return mgr.Status() == model.StatusConnected })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if ft := dialer.last(); ft.count("stop") != 1 {
		t.Errorf("stop sent %d times on cancel", ft.count("stop"))
	}
}
