package syncbox

import (
	"encoding/json"
	"strings"
	"time"
)

// MutationKind is a closed tag identifying the logical operation a queue
// item performs against the CRM server.
type MutationKind string

const (
	KindLeadCreate       MutationKind = "lead.create"
	KindLeadUpdate       MutationKind = "lead.update"
	KindLeadDelete       MutationKind = "lead.delete"
	KindCaseCreate       MutationKind = "case.create"
	KindCaseUpdate       MutationKind = "case.update"
	KindCaseDelete       MutationKind = "case.delete"
	KindDocumentCreate   MutationKind = "document.create"
	KindDocumentUpdate   MutationKind = "document.update"
	KindDocumentDelete   MutationKind = "document.delete"
	KindDocumentUpload   MutationKind = "document.upload"
	KindAssignmentCreate MutationKind = "assignment.create"
	KindAssignmentUpdate MutationKind = "assignment.update"
	KindAssignmentDelete MutationKind = "assignment.delete"
)

// EntityType returns the entity part of the kind, e.g. "lead" for
// "lead.update". Unknown kinds return the kind unchanged.
func (k MutationKind) EntityType() string {
	if idx := strings.Index(string(k), "."); idx > 0 {
		return string(k)[:idx]
	}
	return string(k)
}

// EnqueueRequest is the envelope a collaborator submits to the engine.
// Identity fields (id, enqueuedAt, retryCount) are assigned at enqueue time.
type EnqueueRequest struct {
	Kind          MutationKind    `json:"kind"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	PayloadRef    string          `json:"payloadRef,omitempty"`
	Endpoint      string          `json:"endpoint"`
	Method        string          `json:"method"`
	Version       string          `json:"version,omitempty"`
	LastKnownGood json.RawMessage `json:"lastKnownGood,omitempty"`
}

// QueueItem is one durable unit of pending work. PayloadRef, when set, names
// a local binary-safe file carrying an upload body; the queue snapshot only
// stores the reference.
type QueueItem struct {
	ID            string          `json:"id"`
	Kind          MutationKind    `json:"kind"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	PayloadRef    string          `json:"payloadRef,omitempty"`
	Endpoint      string          `json:"endpoint"`
	Method        string          `json:"method"`
	Version       string          `json:"version,omitempty"`
	LastKnownGood json.RawMessage `json:"lastKnownGood,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueuedAt"`
	RetryCount    int             `json:"retryCount"`
}

// DeadLetterItem is a queue item frozen at the moment it was expelled from
// the main queue.
type DeadLetterItem struct {
	QueueItem
	FailedAt  time.Time `json:"failedAt"`
	LastError string    `json:"lastError,omitempty"`
}

type queueState struct {
	Items       []QueueItem      `json:"items"`
	DeadLetters []DeadLetterItem `json:"deadLetters"`
}

// PassResult summarizes one processing pass over the queue.
type PassResult struct {
	Succeeded []QueueItem `json:"success"`
	Failed    []QueueItem `json:"failed"`
	Pending   []QueueItem `json:"pending"`
}

// QueueStats is the introspection surface for observability collaborators.
type QueueStats struct {
	PendingCount    int        `json:"pendingCount"`
	FailedCount     int        `json:"failedCount"`
	OldestEnqueued  *time.Time `json:"oldestTimestamp,omitempty"`
	InFlightFetches int        `json:"inFlightFetches"`
}

// SubmitResult is the success outcome of one network submission.
type SubmitResult struct {
	NewVersion string          `json:"newVersion,omitempty"`
	Entity     json.RawMessage `json:"entity,omitempty"`
}

// FieldConflict is one field changed on both sides of a three-way diff.
type FieldConflict struct {
	Field  string `json:"field"`
	Base   any    `json:"base,omitempty"`
	Local  any    `json:"local"`
	Remote any    `json:"remote"`
}

// ConflictState is handed to conflict subscribers. The engine does not
// retain it; the UI either resubmits a resolved mutation or discards it.
type ConflictState struct {
	ItemID        string          `json:"itemId"`
	EntityType    string          `json:"entityType"`
	Optimistic    json.RawMessage `json:"optimistic"`
	Server        json.RawMessage `json:"server"`
	Base          json.RawMessage `json:"base,omitempty"`
	ServerVersion string          `json:"serverVersion,omitempty"`
	Conflicts     []FieldConflict `json:"conflicts"`
	AutoMerged    map[string]any  `json:"autoMerged,omitempty"`
}

// Logger matches the stdlib log.Logger surface used by long-lived
// components.
type Logger interface {
	Printf(format string, args ...any)
}
