// Package store holds the single current detection snapshot the overlay reads.
package store

import (
	"sync"
	"sync/atomic"
	"time"

	"livedetect/internal/model"
)

// SnapshotStore keeps the latest snapshot. Writes replace it wholesale through
// Update or Clear; readers always see one complete snapshot.
type SnapshotStore struct {
	current atomic.Pointer[model.Snapshot]
	writeMu sync.Mutex

	subMu       sync.Mutex
	subscribers map[int]chan model.Snapshot
	nextID      int
}

// NewSnapshotStore creates an empty store.
func NewSnapshotStore() *SnapshotStore {
	s := &SnapshotStore{subscribers: make(map[int]chan model.Snapshot)}
	s.current.Store(&model.Snapshot{Detections: []model.Detection{}})
	return s
}

// Update replaces the current snapshot. A snapshot from the same session with
// a lower sequence number than the current one is stale and ignored; the
// return value reports whether the snapshot was applied.
func (s *SnapshotStore) Update(snapshot model.Snapshot) bool {
	next := snapshot.Clone()
	if next.Detections == nil {
		next.Detections = []model.Detection{}
	}
	if next.ReceivedAt.IsZero() {
		next.ReceivedAt = time.Now()
	}

	s.writeMu.Lock()
	prev := s.current.Load()
	if prev.SessionID != "" && prev.SessionID == next.SessionID && next.Seq < prev.Seq {
		s.writeMu.Unlock()
		return false
	}
	s.current.Store(&next)
	s.notify(next)
	s.writeMu.Unlock()
	return true
}

// Clear empties the snapshot so stale markers are removed.
func (s *SnapshotStore) Clear() {
	empty := model.Snapshot{Detections: []model.Detection{}, ReceivedAt: time.Now()}

	s.writeMu.Lock()
	s.current.Store(&empty)
	s.notify(empty)
	s.writeMu.Unlock()
}

// Latest returns a copy of the current snapshot.
func (s *SnapshotStore) Latest() model.Snapshot {
	return s.current.Load().Clone()
}

// Subscribe registers a listener for applied snapshots. Each channel holds one
// pending snapshot; a slow listener only ever sees the newest.
func (s *SnapshotStore) Subscribe() (int, <-chan model.Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan model.Snapshot, 1)
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (s *SnapshotStore) Unsubscribe(id int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// notify runs under writeMu so listeners see writes in order.
func (s *SnapshotStore) notify(snapshot model.Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subscribers {
		// Wymień oczekujący snapshot na najnowszy
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot.Clone():
		default:
		}
	}
}
