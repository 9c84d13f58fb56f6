package syncbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// QueueBackend persists the full queue snapshot (main list plus dead-letter
// list). Both lists are always read-modify-written as whole snapshots so a
// torn write can never interleave two logical operations.
type QueueBackend interface {
	Load() (*queueState, error)
	Save(state *queueState) error
}

type backendCloser interface {
	Close() error
}

// JSONFileQueueBackend stores the snapshot as a single JSON file, written
// atomically via a temp file and rename.
type JSONFileQueueBackend struct {
	Path string
}

func NewJSONFileQueueBackend(path string) (*JSONFileQueueBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &JSONFileQueueBackend{Path: path}, nil
}

func (b *JSONFileQueueBackend) Load() (*queueState, error) {
	if b == nil {
		return nil, nil
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var snapshot queueState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return &snapshot, nil
}

func (b *JSONFileQueueBackend) Save(state *queueState) error {
	if b == nil || state == nil {
		return nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(b.Path), 0o755); err != nil {
		return err
	}
	tmp := b.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.Path)
}

// InMemoryQueueBackend keeps the snapshot in process memory. The JSON
// round-trip on load/save keeps its aliasing behavior identical to the
// durable backends.
type InMemoryQueueBackend struct {
	mu       sync.Mutex
	snapshot *queueState
}

func NewInMemoryQueueBackend() *InMemoryQueueBackend {
	return &InMemoryQueueBackend{}
}

func (b *InMemoryQueueBackend) Load() (*queueState, error) {
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return nil, nil
	}
	return cloneQueueState(b.snapshot)
}

func (b *InMemoryQueueBackend) Save(state *queueState) error {
	if b == nil || state == nil {
		return nil
	}
	clone, err := cloneQueueState(state)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = clone
	return nil
}

func cloneQueueState(state *queueState) (*queueState, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var clone queueState
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}
