// Package wal is the append-only journal of instance decommissioning steps.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FilePrefix names every journal file: <prefix>-<timestamp>.wal
const FilePrefix = "decom"

// EntryType defines the type of journal entry
type EntryType string

const (
	EntryBatchStart  EntryType = "batch_start"
	EntryBatchDone   EntryType = "batch_done"
	EntryObserved    EntryType = "observed"
	EntryStopping    EntryType = "stopping"
	EntryWaiting     EntryType = "waiting"
	EntryTerminating EntryType = "terminating"
	EntryTerminated  EntryType = "terminated"
	EntryFailed      EntryType = "failed"
	EntrySkipped     EntryType = "skipped"
)

// Entry represents a single journal entry
type Entry struct {
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
	RunID      string          `json:"run_id"`
	Type       EntryType       `json:"type"`
	InstanceID string          `json:"instance_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// WAL writes entries for one batch run. Safe for concurrent use.
type WAL struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	runID    string
	path     string
}

// Open creates a new journal file for runID in dir
func Open(dir, runID string) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	filename := fmt.Sprintf("%s-%s.wal", FilePrefix, time.Now().Format("20060102-150405.000000"))
	path := filepath.Join(dir, filename)

	// #nosec G304 -- dir comes from operator config
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	return &WAL{
		file:   file,
		writer: bufio.NewWriter(file),
		runID:  runID,
		path:   path,
	}, nil
}

// Path returns the journal file path.
func (w *WAL) Path() string {
	return w.path
}

// Close flushes and closes the journal
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// Append adds an entry to the journal
func (w *WAL) Append(entryType EntryType, instanceID string, data interface{}) error {
	return w.append(entryType, instanceID, data, nil)
}

// AppendError adds an entry carrying an error
func (w *WAL) AppendError(entryType EntryType, instanceID string, data interface{}, errToLog error) error {
	return w.append(entryType, instanceID, data, errToLog)
}

func (w *WAL) append(entryType EntryType, instanceID string, data interface{}, errToLog error) error {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal data: %w", err)
		}
		raw = b
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.sequence++
	entry := Entry{
		Timestamp:  time.Now(),
		Sequence:   w.sequence,
		RunID:      w.runID,
		Type:       entryType,
		InstanceID: instanceID,
		Data:       raw,
	}
	if errToLog != nil {
		entry.Error = errToLog.Error()
	}

	return w.writeEntry(entry)
}

// writeEntry writes a single entry; callers hold w.mu
func (w *WAL) writeEntry(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if _, err := w.writer.Write(line); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}

	if _, err := w.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	return w.file.Sync()
}

// Files lists journal files in dir, oldest first.
func Files(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, FilePrefix+"-*.wal"))
	if err != nil {
		return nil, fmt.Errorf("failed to list journal files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}
