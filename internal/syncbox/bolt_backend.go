package syncbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	boltBucketName  = "syncbox"
	boltSnapshotKey = "queue"
	boltOpenTimeout = 2 * time.Second
)

// BoltQueueBackend stores the queue snapshot in a single embedded bbolt
// file. This is the default backend for a client-resident agent: durable,
// transactional, and no external service to reach while offline.
type BoltQueueBackend struct {
	path string

	initOnce sync.Once
	initErr  error
	db       *bolt.DB
}

func NewBoltQueueBackend(path string) (*BoltQueueBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &BoltQueueBackend{path: path}, nil
}

func (b *BoltQueueBackend) Load() (*queueState, error) {
	if b == nil {
		return nil, nil
	}
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	var payload []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boltBucketName))
		if bucket == nil {
			return nil
		}
		if value := bucket.Get([]byte(boltSnapshotKey)); value != nil {
			payload = append([]byte(nil), value...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}
	var snapshot queueState
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return &snapshot, nil
}

func (b *BoltQueueBackend) Save(state *queueState) error {
	if b == nil || state == nil {
		return nil
	}
	if err := b.ensureReady(); err != nil {
		return err
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(boltBucketName))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(boltSnapshotKey), payload)
	})
}

func (b *BoltQueueBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *BoltQueueBackend) ensureReady() error {
	if b == nil {
		return ErrInvalidInput
	}
	b.initOnce.Do(func() {
		if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
			b.initErr = err
			return
		}
		db, err := bolt.Open(b.path, 0o600, &bolt.Options{Timeout: boltOpenTimeout})
		if err != nil {
			b.initErr = err
			return
		}
		b.db = db
	})
	return b.initErr
}
