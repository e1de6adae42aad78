// Package wal is an fsync'd append-only outbox of feed events. An event is
// appended before it is handed to the broker and acknowledged once the broker
// accepted it, so a crash between commit and publish loses nothing.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/Baaaki/teamchat/pkg/logger"
	"go.uber.org/zap"
)

// Entry is one pending event.
type Entry struct {
	Event     feed.Event `json:"event"`
	WrittenAt time.Time  `json:"written_at"`
}

// WAL manages the outbox file.
type WAL struct {
	filePath string
	file     *os.File
	mu       sync.Mutex
}

// NewWAL opens (or creates) the outbox at filePath.
func NewWAL(filePath string) (*WAL, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}

	file, err := openAppend(filePath)
	if err != nil {
		return nil, err
	}

	return &WAL{filePath: filePath, file: file}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
}

// Append durably records ev.
func (w *WAL) Append(ev feed.Event) error {
	start := time.Now()

	data, err := json.Marshal(Entry{Event: ev, WrittenAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Write(append(data, '\n')); err != nil {
		logger.Log.Error("WAL: Failed to append event",
			zap.String("event_id", ev.ID),
			zap.Error(err),
		)
		return err
	}
	if err := w.file.Sync(); err != nil {
		logger.Log.Error("WAL: Failed to sync to disk",
			zap.String("event_id", ev.ID),
			zap.Error(err),
		)
		return err
	}

	logger.Log.Debug("WAL: Event appended",
		zap.String("event_id", ev.ID),
		zap.String("stream", string(ev.Stream)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Pending returns every unacknowledged entry in append order.
func (w *WAL) Pending() ([]Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.readLocked()
}

// Ack drops the entries with the given event ids by rewriting the file
// through a temp file and an atomic rename.
func (w *WAL) Ack(eventIDs ...string) error {
	if len(eventIDs) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	entries, err := w.readLocked()
	if err != nil {
		return err
	}

	acked := make(map[string]struct{}, len(eventIDs))
	for _, id := range eventIDs {
		acked[id] = struct{}{}
	}

	remaining := entries[:0]
	for _, e := range entries {
		if _, ok := acked[e.Event.ID]; !ok {
			remaining = append(remaining, e)
		}
	}
	if len(remaining) == len(entries) {
		return nil
	}

	tmpPath := w.filePath + ".tmp"
	if err := writeEntries(tmpPath, remaining); err != nil {
		logger.Log.Error("WAL: Failed to write compacted file",
			zap.String("temp_file", tmpPath),
			zap.Error(err),
		)
		return err
	}

	if err := w.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, w.filePath); err != nil {
		logger.Log.Error("WAL: Failed to replace file",
			zap.String("file_path", w.filePath),
			zap.Error(err),
		)
		// keep appending to the old file
		if f, reopenErr := openAppend(w.filePath); reopenErr == nil {
			w.file = f
		}
		return err
	}

	// The old descriptor points at the replaced inode; appends must go to the new one.
	file, err := openAppend(w.filePath)
	if err != nil {
		return fmt.Errorf("reopen wal: %w", err)
	}
	w.file = file

	logger.Log.Debug("WAL: Compacted",
		zap.Int("acked", len(entries)-len(remaining)),
		zap.Int("remaining", len(remaining)),
	)
	return nil
}

func writeEntries(path string, entries []Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(f)
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			f.Close()
			return err
		}
		bw.Write(data)
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (w *WAL) readLocked() ([]Entry, error) {
	file, err := os.Open(w.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			// torn tail write from a crash
			logger.Log.Warn("WAL: Skipping unreadable entry", zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}

	return entries, scanner.Err()
}

// Close closes the WAL file
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
