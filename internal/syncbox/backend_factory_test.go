package syncbox

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestBuildQueueBackendFromDSNSchemes(t *testing.T) {
	dir := t.TempDir()

	backend, err := BuildQueueBackendFromDSN("memory://")
	if err != nil {
		t.Fatalf("memory scheme failed: %v", err)
	}
	if _, ok := backend.(*InMemoryQueueBackend); !ok {
		t.Fatalf("expected in-memory backend, got %T", backend)
	}

	backend, err = BuildQueueBackendFromDSN("file://" + filepath.Join(dir, "queue.json"))
	if err != nil {
		t.Fatalf("file scheme failed: %v", err)
	}
	if _, ok := backend.(*JSONFileQueueBackend); !ok {
		t.Fatalf("expected JSON file backend, got %T", backend)
	}

	backend, err = BuildQueueBackendFromDSN(filepath.Join(dir, "bare.json"))
	if err != nil {
		t.Fatalf("bare path failed: %v", err)
	}
	if _, ok := backend.(*JSONFileQueueBackend); !ok {
		t.Fatalf("expected bare path to map to JSON file backend, got %T", backend)
	}

	backend, err = BuildQueueBackendFromDSN("bolt://" + filepath.Join(dir, "queue.db"))
	if err != nil {
		t.Fatalf("bolt scheme failed: %v", err)
	}
	if _, ok := backend.(*BoltQueueBackend); !ok {
		t.Fatalf("expected bolt backend, got %T", backend)
	}
}

func TestBuildQueueBackendFromDSNEmptyIsNil(t *testing.T) {
	backend, err := BuildQueueBackendFromDSN("  ")
	if err != nil || backend != nil {
		t.Fatalf("expected nil backend for empty DSN, got %v / %v", backend, err)
	}
}

func TestBuildQueueBackendFromDSNReservedSchemes(t *testing.T) {
	for _, dsn := range []string{"redis://localhost:6379", "mysql://root@/queue", "sqlite:///tmp/q.db"} {
		if _, err := BuildQueueBackendFromDSN(dsn); !errors.Is(err, ErrNotImplemented) {
			t.Fatalf("expected ErrNotImplemented for %s, got %v", dsn, err)
		}
	}
}

func TestBuildQueueBackendFromDSNUnknownScheme(t *testing.T) {
	if _, err := BuildQueueBackendFromDSN("carrier-pigeon://coop"); err == nil {
		t.Fatalf("expected unknown scheme to fail")
	}
}

func TestRegisteredFactoryOverridesSelection(t *testing.T) {
	called := false
	RegisterQueueBackendFactory("testmem", func(dsn string) (QueueBackend, error) {
		called = true
		return NewInMemoryQueueBackend(), nil
	})
	backend, err := BuildQueueBackendFromDSN("testmem://anything")
	if err != nil {
		t.Fatalf("registered scheme failed: %v", err)
	}
	if !called || backend == nil {
		t.Fatalf("expected registered factory to be used")
	}
}
