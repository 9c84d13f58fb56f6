package syncbox

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrVersionConflict = errors.New("version conflict")
	ErrRetryExhausted  = errors.New("retry exhausted")
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
	ErrNotImplemented  = errors.New("not implemented")
)

// ConflictDetail is implemented by submit errors that carry the server's
// current view of the entity. The processor uses it to distinguish a version
// conflict from a transient failure without depending on the transport.
type ConflictDetail interface {
	ServerEntity() json.RawMessage
	ServerVersion() string
}

// VersionConflictError reports a rejected optimistic write together with the
// entity the server currently holds.
type VersionConflictError struct {
	Entity  json.RawMessage
	Version string
}

func (e *VersionConflictError) Error() string {
	if e.Version == "" {
		return "version conflict"
	}
	return fmt.Sprintf("version conflict: server at version %s", e.Version)
}

func (e *VersionConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

func (e *VersionConflictError) ServerEntity() json.RawMessage {
	return e.Entity
}

func (e *VersionConflictError) ServerVersion() string {
	return e.Version
}
