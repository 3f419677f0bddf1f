package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"livedetect/internal/config"
	"livedetect/internal/model"
	"livedetect/internal/repository/sqlite"
)

func main() {
	cfg := config.Load()

	dbPath := flag.String("db", cfg.JournalPath, "Journal database path")
	recent := flag.Int("recent", 0, "Print the N most recent snapshots")
	prune := flag.Duration("prune", 0, "Delete snapshots older than this duration (e.g. 72h)")
	top := flag.Int("top", 10, "Number of labels in the statistics ranking")
	flag.Parse()

	if _, err := os.Stat(*dbPath); os.IsNotExist(err) {
		log.Fatalf("Journal not found: %s", *dbPath)
	}

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open journal: %v", err)
	}
	defer db.Close()

	repo := sqlite.NewSnapshotRepository(db)

	switch {
	case *prune > 0:
		cutoff := time.Now().Add(-*prune)
		deleted, err := repo.DeleteBefore(cutoff)
		if err != nil {
			log.Fatalf("Failed to prune journal: %v", err)
		}
		fmt.Printf("✅ Deleted %d snapshot(s) received before %s\n", deleted, cutoff.Format(time.RFC3339))

	case *recent > 0:
		entries, err := repo.Recent(*recent)
		if err != nil {
			log.Fatalf("Failed to read journal: %v", err)
		}
		if len(entries) == 0 {
			fmt.Println("Journal is empty")
			return
		}
		for _, entry := range entries {
			printEntry(entry)
		}

	default:
		stats, err := repo.Stats(*top)
		if err != nil {
			log.Fatalf("Failed to read journal statistics: %v", err)
		}
		printStats(*dbPath, stats)
	}
}

func printEntry(entry model.JournalEntry) {
	fmt.Printf("#%d  %s  session %s  seq %d  (%d detection(s))\n",
		entry.ID, entry.ReceivedAt.Local().Format("2006-01-02 15:04:05.000"),
		entry.SessionID, entry.Seq, len(entry.Detections))
	for _, det := range entry.Detections {
		fmt.Printf("      - %-20s %5.1f%%  at (%.0f, %.0f)\n",
			det.DisplayLabel(), det.Confidence*100, det.Center.X, det.Center.Y)
	}
}

func printStats(path string, stats *model.JournalStats) {
	fmt.Printf("📊 Journal Statistics (%s):\n", path)
	fmt.Printf("   Snapshots:  %d\n", stats.Snapshots)
	fmt.Printf("   Detections: %d\n", stats.Detections)
	fmt.Printf("   Sessions:   %d\n", stats.Sessions)
	if !stats.First.IsZero() {
		fmt.Printf("   Range:      %s .. %s\n",
			stats.First.Local().Format(time.RFC3339), stats.Last.Local().Format(time.RFC3339))
	}
	if len(stats.TopLabels) > 0 {
		fmt.Printf("   Top labels:\n")
		for _, lc := range stats.TopLabels {
			fmt.Printf("      - %s: %d\n", lc.Label, lc.Count)
		}
	}
}
