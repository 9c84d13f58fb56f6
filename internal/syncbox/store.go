package syncbox

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the durable queue store: a persisted, ordered main list of
// pending mutations plus a separate dead-letter list for mutations that
// exhausted their retries. Local state is not the system of record, so an
// unreadable snapshot degrades to an empty queue instead of failing.
type Store struct {
	mu      sync.Mutex
	backend QueueBackend
	state   queueState
	logger  Logger
}

func NewStore(backend QueueBackend, logger Logger) (*Store, error) {
	if backend == nil {
		backend = NewInMemoryQueueBackend()
	}
	s := &Store{
		backend: backend,
		state:   queueState{Items: []QueueItem{}, DeadLetters: []DeadLetterItem{}},
		logger:  logger,
	}
	snapshot, err := backend.Load()
	if err != nil {
		if !errors.Is(err, ErrCorruptSnapshot) {
			return nil, err
		}
		s.logf("queue snapshot unreadable, starting empty: %v", err)
		snapshot = nil
	}
	if snapshot != nil {
		if snapshot.Items != nil {
			s.state.Items = snapshot.Items
		}
		if snapshot.DeadLetters != nil {
			s.state.DeadLetters = snapshot.DeadLetters
		}
	}
	return s, nil
}

// Enqueue assigns identity fields and appends the item to the persisted
// main list, returning the finalized item.
func (s *Store) Enqueue(req EnqueueRequest) (QueueItem, error) {
	if req.Kind == "" || req.Endpoint == "" || req.Method == "" {
		return QueueItem{}, fmt.Errorf("%w: kind, endpoint and method are required", ErrInvalidInput)
	}
	now := time.Now().UTC()
	item := QueueItem{
		ID:            newItemID(now),
		Kind:          req.Kind,
		Payload:       req.Payload,
		PayloadRef:    req.PayloadRef,
		Endpoint:      req.Endpoint,
		Method:        req.Method,
		Version:       req.Version,
		LastKnownGood: req.LastKnownGood,
		EnqueuedAt:    now,
		RetryCount:    0,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Items = append(s.state.Items, item)
	if err := s.saveLocked(); err != nil {
		s.state.Items = s.state.Items[:len(s.state.Items)-1]
		return QueueItem{}, err
	}
	return item, nil
}

// Remove deletes an item from the main list by identity.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOfLocked(id)
	if idx < 0 {
		return ErrNotFound
	}
	removed := s.state.Items[idx]
	s.state.Items = append(s.state.Items[:idx], s.state.Items[idx+1:]...)
	if err := s.saveLocked(); err != nil {
		s.state.Items = append(s.state.Items[:idx], append([]QueueItem{removed}, s.state.Items[idx:]...)...)
		return err
	}
	return nil
}

// Update replaces an item in the main list at its current position,
// preserving FIFO order for the next pass.
func (s *Store) Update(item QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOfLocked(item.ID)
	if idx < 0 {
		return ErrNotFound
	}
	previous := s.state.Items[idx]
	s.state.Items[idx] = item
	if err := s.saveLocked(); err != nil {
		s.state.Items[idx] = previous
		return err
	}
	return nil
}

// MoveToDeadLetter removes the item from the main list (if still present)
// and appends a frozen copy to the dead-letter list.
func (s *Store) MoveToDeadLetter(item QueueItem, lastError string) (DeadLetterItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	itemsBefore := s.state.Items
	if idx := s.indexOfLocked(item.ID); idx >= 0 {
		s.state.Items = append(append([]QueueItem{}, s.state.Items[:idx]...), s.state.Items[idx+1:]...)
	}
	dead := DeadLetterItem{
		QueueItem: item,
		FailedAt:  time.Now().UTC(),
		LastError: lastError,
	}
	s.state.DeadLetters = append(s.state.DeadLetters, dead)
	if err := s.saveLocked(); err != nil {
		s.state.Items = itemsBefore
		s.state.DeadLetters = s.state.DeadLetters[:len(s.state.DeadLetters)-1]
		return DeadLetterItem{}, err
	}
	return dead, nil
}

// Snapshot returns a copy of the main list in FIFO order.
func (s *Store) Snapshot() []QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]QueueItem(nil), s.state.Items...)
}

// DeadLetters returns a copy of the dead-letter list.
func (s *Store) DeadLetters() []DeadLetterItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeadLetterItem(nil), s.state.DeadLetters...)
}

// ReviveDeadLetter moves a dead-lettered item back to the tail of the main
// list with retryCount reset to 0 and a fresh timestamp.
func (s *Store) ReviveDeadLetter(id string) (QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i := range s.state.DeadLetters {
		if s.state.DeadLetters[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return QueueItem{}, ErrNotFound
	}
	dead := s.state.DeadLetters[idx]
	revived := dead.QueueItem
	revived.RetryCount = 0
	revived.EnqueuedAt = time.Now().UTC()
	s.state.DeadLetters = append(s.state.DeadLetters[:idx], s.state.DeadLetters[idx+1:]...)
	s.state.Items = append(s.state.Items, revived)
	if err := s.saveLocked(); err != nil {
		s.state.Items = s.state.Items[:len(s.state.Items)-1]
		s.state.DeadLetters = append(s.state.DeadLetters[:idx], append([]DeadLetterItem{dead}, s.state.DeadLetters[idx:]...)...)
		return QueueItem{}, err
	}
	return revived, nil
}

// ClearDeadLetters empties the dead-letter list and returns how many
// entries were discarded.
func (s *Store) ClearDeadLetters() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cleared := len(s.state.DeadLetters)
	if cleared == 0 {
		return 0, nil
	}
	previous := s.state.DeadLetters
	s.state.DeadLetters = []DeadLetterItem{}
	if err := s.saveLocked(); err != nil {
		s.state.DeadLetters = previous
		return 0, err
	}
	return cleared, nil
}

// Stats reports queue depth, dead-letter depth and the oldest pending
// enqueue time.
func (s *Store) Stats() QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := QueueStats{
		PendingCount: len(s.state.Items),
		FailedCount:  len(s.state.DeadLetters),
	}
	for i := range s.state.Items {
		ts := s.state.Items[i].EnqueuedAt
		if stats.OldestEnqueued == nil || ts.Before(*stats.OldestEnqueued) {
			oldest := ts
			stats.OldestEnqueued = &oldest
		}
	}
	return stats
}

// Close releases the backend if it holds external resources.
func (s *Store) Close() error {
	if closer, ok := s.backend.(backendCloser); ok {
		return closer.Close()
	}
	return nil
}

func (s *Store) indexOfLocked(id string) int {
	for i := range s.state.Items {
		if s.state.Items[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) saveLocked() error {
	snapshot := queueState{
		Items:       append([]QueueItem(nil), s.state.Items...),
		DeadLetters: append([]DeadLetterItem(nil), s.state.DeadLetters...),
	}
	return s.backend.Save(&snapshot)
}

func (s *Store) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

func newItemID(now time.Time) string {
	suffix := uuid.NewString()
	if idx := len(suffix); idx > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("mut_%d_%s", now.UnixMilli(), suffix)
}
