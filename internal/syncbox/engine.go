package syncbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// DefaultMaxRetries is the retry ceiling for transient failures. An item
// that has failed this many attempts moves to the dead-letter list.
const DefaultMaxRetries = 5

// Submitter performs one network submission of a queue item.
//
// Contract: a transient failure is ambiguous — the server may have applied
// the mutation before the connection dropped — so every mutation endpoint
// must be safely retriable (idempotent by the client-supplied item ID, or
// safe to reapply). The engine requires this precondition; it cannot
// enforce it.
type Submitter interface {
	Submit(ctx context.Context, item QueueItem) (SubmitResult, error)
}

// SubmitterFunc adapts a function to the Submitter interface.
type SubmitterFunc func(ctx context.Context, item QueueItem) (SubmitResult, error)

func (f SubmitterFunc) Submit(ctx context.Context, item QueueItem) (SubmitResult, error) {
	return f(ctx, item)
}

type EngineOptions struct {
	Backend    QueueBackend
	Submitter  Submitter
	Reconciler Reconciler
	MaxRetries int
	Logger     Logger
}

// Engine owns the durable queue, the in-flight deduplicator, and the
// conflict hand-off channel. One instance per process; collaborators hold a
// reference instead of sharing module-level state.
type Engine struct {
	store      *Store
	submitter  Submitter
	dedup      *Deduplicator
	reconciler Reconciler
	conflicts  *ConflictNotifier
	logger     Logger
	maxRetries int

	// passMu serializes processing passes. It is distinct from the store
	// mutex so enqueues stay possible while a pass is running.
	passMu sync.Mutex

	listenerMu    sync.Mutex
	passListeners []func(PassResult)
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Submitter == nil {
		return nil, fmt.Errorf("%w: submitter is required", ErrInvalidInput)
	}
	store, err := NewStore(opts.Backend, opts.Logger)
	if err != nil {
		return nil, err
	}
	reconciler := opts.Reconciler
	if reconciler == nil {
		reconciler = FieldReconciler{}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Engine{
		store:      store,
		submitter:  opts.Submitter,
		dedup:      NewDeduplicator(),
		reconciler: reconciler,
		conflicts:  NewConflictNotifier(),
		logger:     opts.Logger,
		maxRetries: maxRetries,
	}, nil
}

// AddToQueue persists a mutation for later submission and returns the
// finalized queue item. While offline, collaborators treat this as "saved,
// pending sync".
func (e *Engine) AddToQueue(req EnqueueRequest) (QueueItem, error) {
	return e.store.Enqueue(req)
}

// Queue returns the pending main list in FIFO order.
func (e *Engine) Queue() []QueueItem {
	return e.store.Snapshot()
}

// GetFailedQueue returns the dead-letter list.
func (e *Engine) GetFailedQueue() []DeadLetterItem {
	return e.store.DeadLetters()
}

// RetryFailedItem resets a dead-lettered item and re-injects it at the tail
// of the main queue.
func (e *Engine) RetryFailedItem(id string) (QueueItem, error) {
	return e.store.ReviveDeadLetter(id)
}

// ClearFailedQueue discards all dead-lettered items.
func (e *Engine) ClearFailedQueue() (int, error) {
	return e.store.ClearDeadLetters()
}

// GetQueueStats reports queue depths and staleness for observability
// surfaces.
func (e *Engine) GetQueueStats() QueueStats {
	stats := e.store.Stats()
	stats.InFlightFetches = e.dedup.InFlight()
	return stats
}

// SubscribeConflicts registers a conflict listener. The engine emits one
// notification per conflicting item and does not retain the state.
func (e *Engine) SubscribeConflicts(buffer int) (<-chan ConflictState, func()) {
	return e.conflicts.Subscribe(buffer)
}

// AddPassListener registers a callback invoked with the aggregate result of
// every processing pass.
func (e *Engine) AddPassListener(fn func(PassResult)) {
	if fn == nil {
		return
	}
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	e.passListeners = append(e.passListeners, fn)
}

// DeduplicatedFetch collapses concurrent identical fetches into one call;
// all callers share the first call's result.
func (e *Engine) DeduplicatedFetch(key string, fetcher func() (any, error)) (any, error) {
	return e.dedup.Do(key, fetcher)
}

// Close releases durable resources held by the queue backend.
func (e *Engine) Close() error {
	return e.store.Close()
}

// ProcessQueue drains one snapshot of the main queue in strict FIFO order.
// Items enqueued during the pass wait for the next pass. Concurrent callers
// serialize; the connectivity trigger coalesces redundant passes on top of
// this.
func (e *Engine) ProcessQueue(ctx context.Context) (PassResult, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	result := PassResult{
		Succeeded: []QueueItem{},
		Failed:    []QueueItem{},
		Pending:   []QueueItem{},
	}
	snapshot := e.store.Snapshot()
	for i := range snapshot {
		item := snapshot[i]
		if err := ctx.Err(); err != nil {
			// Items not yet attempted stay queued for the next pass.
			result.Pending = append(result.Pending, snapshot[i:]...)
			e.notifyPassListeners(result)
			return result, err
		}
		outcome, err := e.submitItem(ctx, item)
		switch {
		case err == nil:
			if removeErr := e.store.Remove(item.ID); removeErr != nil && !errors.Is(removeErr, ErrNotFound) {
				e.logf("remove %s after success: %v", item.ID, removeErr)
			}
			e.logf("mutation %s (%s) applied, server version %s", item.ID, item.Kind, outcome.NewVersion)
			result.Succeeded = append(result.Succeeded, item)

		case isConflict(err):
			// Never retried blindly and never counted as a retry: the item
			// leaves the queue and the resolution decision moves to the UI.
			if removeErr := e.store.Remove(item.ID); removeErr != nil && !errors.Is(removeErr, ErrNotFound) {
				e.logf("remove %s after conflict: %v", item.ID, removeErr)
			}
			state := e.buildConflictState(item, err)
			if !e.conflicts.Publish(state) {
				// No subscriber to claim the conflict: dead-letter instead
				// of dropping so the mutation stays recoverable.
				dead, dlErr := e.store.MoveToDeadLetter(item, "version conflict with no subscriber")
				if dlErr != nil {
					e.logf("dead-letter unclaimed conflict %s: %v", item.ID, dlErr)
					continue
				}
				result.Failed = append(result.Failed, dead.QueueItem)
				continue
			}
			e.logf("mutation %s (%s) conflicted, handed off to resolver", item.ID, item.Kind)

		default:
			item.RetryCount++
			if item.RetryCount >= e.maxRetries {
				reason := fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, item.RetryCount, err)
				dead, dlErr := e.store.MoveToDeadLetter(item, reason.Error())
				if dlErr != nil {
					e.logf("dead-letter %s: %v", item.ID, dlErr)
					result.Pending = append(result.Pending, item)
					continue
				}
				e.logf("mutation %s (%s) exhausted %d attempts: %v", item.ID, item.Kind, item.RetryCount, err)
				result.Failed = append(result.Failed, dead.QueueItem)
				continue
			}
			if updateErr := e.store.Update(item); updateErr != nil {
				e.logf("persist retry count for %s: %v", item.ID, updateErr)
			}
			result.Pending = append(result.Pending, item)
		}
	}
	e.notifyPassListeners(result)
	return result, nil
}

func (e *Engine) submitItem(ctx context.Context, item QueueItem) (SubmitResult, error) {
	value, err := e.dedup.Do(submitKey(item), func() (any, error) {
		return e.submitter.Submit(ctx, item)
	})
	if err != nil {
		return SubmitResult{}, err
	}
	outcome, ok := value.(SubmitResult)
	if !ok {
		return SubmitResult{}, nil
	}
	return outcome, nil
}

func (e *Engine) buildConflictState(item QueueItem, err error) ConflictState {
	state := ConflictState{
		ItemID:     item.ID,
		EntityType: item.Kind.EntityType(),
		Optimistic: item.Payload,
		Base:       item.LastKnownGood,
		Conflicts:  []FieldConflict{},
	}
	var detail ConflictDetail
	if errors.As(err, &detail) {
		state.Server = detail.ServerEntity()
		state.ServerVersion = detail.ServerVersion()
	}

	optimistic, okLocal := decodeObject(item.Payload)
	server, okRemote := decodeObject(state.Server)
	if !okLocal || !okRemote {
		// Binary or non-object payloads get no field diff; the raw entities
		// are still handed over.
		return state
	}
	base, _ := decodeObject(item.LastKnownGood)
	merged := e.reconciler.Reconcile(base, optimistic, server)
	if merged.Conflicts != nil {
		state.Conflicts = merged.Conflicts
	}
	state.AutoMerged = merged.AutoMerged
	return state
}

func (e *Engine) notifyPassListeners(result PassResult) {
	e.listenerMu.Lock()
	listeners := append([]func(PassResult){}, e.passListeners...)
	e.listenerMu.Unlock()
	for _, fn := range listeners {
		fn(result)
	}
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger == nil {
		return
	}
	e.logger.Printf(format, args...)
}

func isConflict(err error) bool {
	if errors.Is(err, ErrVersionConflict) {
		return true
	}
	var detail ConflictDetail
	return errors.As(err, &detail)
}

func decodeObject(raw json.RawMessage) (map[string]any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, false
	}
	return decoded, true
}
