package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"
)

// FileStore keeps subscribers in a JSON object keyed by user id, the format
// the bot's menu surface writes. The file is re-read when its mtime changes.
type FileStore struct {
	path string

	mu      sync.Mutex
	data    map[int64]Preference
	modTime time.Time
}

// OpenFile loads path. A missing file is an empty store.
func OpenFile(path string) (*FileStore, error) {
	s := &FileStore{path: path, data: map[int64]Preference{}}
	if err := s.reloadLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) reloadLocked() error {
	info, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat subscribers: %w", err)
	}
	if info.ModTime().Equal(s.modTime) {
		return nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading subscribers: %w", err)
	}
	var byID map[string]Preference
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &byID); err != nil {
			return fmt.Errorf("parsing subscribers: %w", err)
		}
	}

	data := make(map[int64]Preference, len(byID))
	for k, p := range byID {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		p.UserID = id
		data[id] = p
	}
	s.data = data
	s.modTime = info.ModTime()
	return nil
}

// writeLocked replaces the file atomically through a temp file and rename.
func (s *FileStore) writeLocked() error {
	byID := make(map[string]Preference, len(s.data))
	for id, p := range s.data {
		byID[strconv.FormatInt(id, 10)] = p
	}
	out, err := json.MarshalIndent(byID, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding subscribers: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating subscribers dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("writing subscribers: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing subscribers: %w", err)
	}
	if info, err := os.Stat(s.path); err == nil {
		s.modTime = info.ModTime()
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(); err != nil {
		return nil, err
	}
	out := make([]Preference, 0, len(s.data))
	for _, p := range s.data {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *FileStore) Get(ctx context.Context, userID int64) (Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(); err != nil {
		return Preference{}, err
	}
	p, ok := s.data[userID]
	if !ok {
		return Preference{}, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *FileStore) Save(ctx context.Context, p Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(); err != nil {
		return err
	}
	s.data[p.UserID] = p.Clone()
	return s.writeLocked()
}

func (s *FileStore) Delete(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(); err != nil {
		return err
	}
	if _, ok := s.data[userID]; !ok {
		return ErrNotFound
	}
	delete(s.data, userID)
	return s.writeLocked()
}

func (s *FileStore) SetNotified(ctx context.Context, userID int64, n Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(); err != nil {
		return err
	}
	p, ok := s.data[userID]
	if !ok {
		return ErrNotFound
	}
	if err := p.setNotified(n); err != nil {
		return err
	}
	s.data[userID] = p
	return s.writeLocked()
}

func (s *FileStore) Close() error { return nil }
