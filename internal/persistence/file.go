package persistence

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/peoplecore/flagguard/internal/rollback"
	"github.com/peoplecore/flagguard/internal/usage"
)

const (
	usageFileName     = "usage.json"
	rollbacksFileName = "rollbacks.jsonl"
)

// FileStore persists state under a directory: the usage-window map as one
// JSON document replaced atomically via temp-file rename, and rollback
// events as append-only JSON lines.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a file-backed store rooted at dir. The directory is
// created lazily on first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// SaveUsage writes the window map to a temp file and renames it over the
// previous one, so readers never observe a torn write.
func (f *FileStore) SaveUsage(ctx context.Context, windows map[string]usage.Window) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create persistence dir: %w", err)
	}

	data, err := json.Marshal(windows)
	if err != nil {
		return fmt.Errorf("marshal usage windows: %w", err)
	}

	target := filepath.Join(f.dir, usageFileName)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write usage temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("replace usage file: %w", err)
	}
	return nil
}

// LoadUsage reads the persisted window map. Missing or corrupt data
// degrades to an empty map with a warning, never an error.
func (f *FileStore) LoadUsage(ctx context.Context) (map[string]usage.Window, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(f.dir, usageFileName))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[persist] could not read usage file, starting empty: %v", err)
		}
		return map[string]usage.Window{}, nil
	}

	var windows map[string]usage.Window
	if err := json.Unmarshal(data, &windows); err != nil {
		log.Printf("[persist] usage file is corrupt, starting empty: %v", err)
		return map[string]usage.Window{}, nil
	}
	return windows, nil
}

// AppendRollbacks appends events as JSON lines.
func (f *FileStore) AppendRollbacks(ctx context.Context, events []rollback.Event) error {
	if len(events) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create persistence dir: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(f.dir, rollbacksFileName),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open rollback log: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("append rollback event: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush rollback log: %w", err)
	}
	return file.Sync()
}

// LoadRollbacks reads the full event history. Unreadable lines are skipped
// with a warning so one torn append cannot poison the whole log.
func (f *FileStore) LoadRollbacks(ctx context.Context) ([]rollback.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(filepath.Join(f.dir, rollbacksFileName))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[persist] could not read rollback log, starting empty: %v", err)
		}
		return nil, nil
	}
	defer file.Close()

	var events []rollback.Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e rollback.Event
		if err := json.Unmarshal(line, &e); err != nil {
			log.Printf("[persist] skipping corrupt rollback record: %v", err)
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		log.Printf("[persist] rollback log truncated mid-read: %v", err)
	}
	return events, nil
}

// Close is a no-op: files are opened per operation.
func (f *FileStore) Close() error { return nil }
