package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// JSONLStore keeps a session in one JSONL file: the header on the first
// line, then one entry per line.
type JSONLStore struct {
	path string
}

func NewJSONLStore(path string) *JSONLStore {
	return &JSONLStore{path: path}
}

// Path returns the JSONL file path.
func (s *JSONLStore) Path() string { return s.path }

func (s *JSONLStore) Load(ctx context.Context) (*Header, []*Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	var header *Header
	entries := make([]*Entry, 0)
	for n, line := range splitLines(data) {
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if header == nil {
			h, err := decodeHeader(line)
			if err != nil || h == nil {
				return nil, nil, fmt.Errorf("%s: missing session header", s.path)
			}
			header = h
			continue
		}
		entry, err := decodeEntry(line)
		if err != nil {
			slog.Warn("[Session] skipping malformed entry", "path", s.path, "line", n+1, "error", err)
			continue
		}
		if entry == nil {
			continue
		}
		entries = append(entries, entry)
	}
	return header, entries, nil
}

func (s *JSONLStore) Append(ctx context.Context, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	return s.withFileWriteLock(func() error {
		file, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return err
		}
		defer file.Close()
		if _, err := file.Write(data); err != nil {
			return err
		}
		return file.Sync()
	})
}

func (s *JSONLStore) Rewrite(ctx context.Context, header Header, entries []*Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.withFileWriteLock(func() error {
		return s.rewriteLocked(header, entries)
	})
}

func (s *JSONLStore) rewriteLocked(header Header, entries []*Entry) error {
	tmpPath := fmt.Sprintf("%s.tmp-%d-%d", s.path, os.Getpid(), time.Now().UnixNano())
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer func() {
		_ = file.Close()
		_ = os.Remove(tmpPath)
	}()

	encoder := json.NewEncoder(file)
	if err := encoder.Encode(header); err != nil {
		return err
	}
	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			return err
		}
	}
	if err := file.Sync(); err != nil {
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

func (s *JSONLStore) Close() error { return nil }

func (s *JSONLStore) withFileWriteLock(run func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	lockFile, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return err
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return err
	}
	defer func() {
		_ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
	}()

	return run()
}

func decodeEntry(line []byte) (*Entry, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, err
	}
	if probe.Type == EntryTypeSession {
		return nil, nil
	}
	if probe.Type == "" {
		return nil, errors.New("missing type")
	}
	var entry Entry
	if err := json.Unmarshal(line, &entry); err != nil {
		return nil, err
	}
	if entry.ID == "" {
		return nil, errors.New("missing entry id")
	}
	return &entry, nil
}

func splitLines(data []byte) [][]byte {
	lines := make([][]byte, 0)
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
