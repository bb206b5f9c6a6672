// Package store persists the engine's three record kinds as independent
// JSON documents, one file per kind, each fully rewritten on mutation.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"devicegate/internal/model"
)

// Service is the narrow storage contract the engine depends on. Load
// methods return an independent snapshot; Update methods run fn with the
// document lock held for the whole load-mutate-save cycle, so concurrent
// read-modify-write sequences against the same kind cannot lose updates.
// If fn returns an error the document is not rewritten.
type Service interface {
	LoadRequests() (map[string]model.DeviceRequest, error)
	UpdateRequests(fn func(map[string]model.DeviceRequest) error) error

	LoadTokens() (map[string]model.DeviceToken, error)
	UpdateTokens(fn func(map[string]model.DeviceToken) error) error

	LoadRevocations() (map[string]model.RevocationRecord, error)
	UpdateRevocations(fn func(map[string]model.RevocationRecord) error) error
}

const (
	requestsFile    = "pending_requests.json"
	tokensFile      = "approved_devices.json"
	revocationsFile = "revoked_tokens.json"
)

// document is one JSON file holding a map of device_id to record. All
// access goes through its mutex; saves write to a temp file in the same
// directory and rename over the original so a failed write never
// corrupts the document.
type document[T any] struct {
	mu   sync.Mutex
	path string
}

func (d *document[T]) loadLocked() (map[string]T, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(map[string]T), nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", d.path, err)
	}
	records := make(map[string]T)
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", d.path, err)
	}
	return records, nil
}

func (d *document[T]) saveLocked(records map[string]T) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", d.path, err)
	}
	dir := filepath.Dir(d.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(d.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", d.path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", d.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for %s: %w", d.path, err)
	}
	if err := os.Rename(tmpName, d.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", d.path, err)
	}
	return nil
}

func (d *document[T]) load() (map[string]T, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadLocked()
}

func (d *document[T]) update(fn func(map[string]T) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	records, err := d.loadLocked()
	if err != nil {
		return err
	}
	if err := fn(records); err != nil {
		return err
	}
	return d.saveLocked(records)
}

// FileStore is the file-backed Service implementation.
type FileStore struct {
	requests    document[model.DeviceRequest]
	tokens      document[model.DeviceToken]
	revocations document[model.RevocationRecord]
}

// New creates the storage directory if needed and returns a store over
// the three credential documents inside it. Missing documents read as
// empty maps; they are created on first save.
func New(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}
	s := &FileStore{}
	s.requests.path = filepath.Join(dir, requestsFile)
	s.tokens.path = filepath.Join(dir, tokensFile)
	s.revocations.path = filepath.Join(dir, revocationsFile)
	return s, nil
}

func (s *FileStore) LoadRequests() (map[string]model.DeviceRequest, error) {
	return s.requests.load()
}

func (s *FileStore) UpdateRequests(fn func(map[string]model.DeviceRequest) error) error {
	return s.requests.update(fn)
}

func (s *FileStore) LoadTokens() (map[string]model.DeviceToken, error) {
	return s.tokens.load()
}

func (s *FileStore) UpdateTokens(fn func(map[string]model.DeviceToken) error) error {
	return s.tokens.update(fn)
}

func (s *FileStore) LoadRevocations() (map[string]model.RevocationRecord, error) {
	return s.revocations.load()
}

func (s *FileStore) UpdateRevocations(fn func(map[string]model.RevocationRecord) error) error {
	return s.revocations.update(fn)
}
