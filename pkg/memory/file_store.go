// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const sessionExt = ".jsonl"

// FileStore persists each session as a JSON-lines file in a directory.
// Appends only ever add lines, so a crash can at worst lose a tail.
type FileStore struct {
	mu  sync.RWMutex
	dir string
}

// NewFileStore creates a file-backed store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create memory directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) sessionFile(session string) string {
	// Base() keeps session ids from escaping the directory.
	return filepath.Join(f.dir, filepath.Base(session)+sessionExt)
}

// Append implements Store.
func (f *FileStore) Append(_ context.Context, session string, entries ...Entry) error {
	return f.write(session, func([]Entry) error { return nil }, entries...)
}

// AppendAt implements HeadAppender. The file lock is held while the tail is
// re-read and the entry written, so writers in other processes serialize.
func (f *FileStore) AppendAt(_ context.Context, session string, head int, entry Entry) error {
	return f.write(session, func(existing []Entry) error {
		current := 0
		if len(existing) > 0 {
			current = existing[len(existing)-1].Seq
		}
		if current != head {
			return ErrConflict
		}
		return nil
	}, entry)
}

func (f *FileStore) write(session string, check func([]Entry) error, entries ...Entry) (err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.sessionFile(session), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()
	if err := lockFile(file, true); err != nil {
		return fmt.Errorf("failed to lock session file: %w", err)
	}
	defer unlockFile(file)

	existing, err := readEntries(file)
	if err != nil {
		return err
	}
	if err := check(existing); err != nil {
		return err
	}

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("failed to encode entry: %w", err)
		}
	}
	return w.Flush()
}

// Load implements Store.
func (f *FileStore) Load(_ context.Context, session string) ([]Entry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	file, err := os.Open(f.sessionFile(session))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()
	if err := lockFile(file, false); err != nil {
		return nil, fmt.Errorf("failed to lock session file: %w", err)
	}
	defer unlockFile(file)
	return readEntries(file)
}

func readEntries(file *os.File) ([]Entry, error) {
	var out []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if len(strings.TrimSpace(scanner.Text())) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", filepath.Base(file.Name()), line, err)
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Sessions implements Store.
func (f *FileStore) Sessions(context.Context) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	var sessions []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, sessionExt) {
			continue
		}
		sessions = append(sessions, strings.TrimSuffix(name, sessionExt))
	}
	sort.Strings(sessions)
	return sessions, nil
}

// Delete implements Store.
func (f *FileStore) Delete(_ context.Context, session string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.sessionFile(session))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
