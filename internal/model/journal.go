package model

import "time"

// JournalEntry is a snapshot persisted to the detection journal.
type JournalEntry struct {
	ID int64 `json:"id"`
	Snapshot
}

// LabelCount is how often a label was seen in the journal.
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// JournalStats summarizes the journal contents.
type JournalStats struct {
	Snapshots  int64        `json:"snapshots"`
	Detections int64        `json:"detections"`
	Sessions   int64        `json:"sessions"`
	First      time.Time    `json:"first,omitempty"`
	Last       time.Time    `json:"last,omitempty"`
	TopLabels  []LabelCount `json:"top_labels"`
}
