package wal

import (
	"fmt"
	"os"
	"time"
)

// CleanupStats tracks cleanup operation results
type CleanupStats struct {
	FilesRemoved int
	BytesFreed   int64
}

// Cleanup removes journal files not modified within retention.
// A zero retention keeps everything.
func Cleanup(dir string, retention time.Duration) (CleanupStats, error) {
	var stats CleanupStats
	if retention <= 0 {
		return stats, nil
	}

	files, err := Files(dir)
	if err != nil {
		return stats, err
	}

	cutoff := time.Now().Add(-retention)
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(file); err != nil {
			return stats, fmt.Errorf("failed to remove %s: %w", file, err)
		}
		stats.FilesRemoved++
		stats.BytesFreed += info.Size()
	}

	return stats, nil
}
