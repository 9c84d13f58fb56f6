package syncbox

import "sync"

// ConflictNotifier is the typed hand-off channel between the engine and UI
// collaborators. Publishing never blocks a processing pass: a subscriber
// whose buffer is full misses that notification.
type ConflictNotifier struct {
	mu   sync.Mutex
	subs map[int]chan ConflictState
	next int
}

func NewConflictNotifier() *ConflictNotifier {
	return &ConflictNotifier{subs: map[int]chan ConflictState{}}
}

// Subscribe registers a listener and returns its channel together with a
// cancel function. The channel is closed on cancel.
func (n *ConflictNotifier) Subscribe(buffer int) (<-chan ConflictState, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan ConflictState, buffer)
	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish fans the conflict out to all subscribers and reports whether at
// least one of them received it.
func (n *ConflictNotifier) Publish(state ConflictState) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	delivered := false
	for _, ch := range n.subs {
		select {
		case ch <- state:
			delivered = true
		default:
		}
	}
	return delivered
}

// SubscriberCount reports how many listeners are registered.
func (n *ConflictNotifier) SubscriberCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
