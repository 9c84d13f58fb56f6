package syncbox

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Deduplicator guarantees at most one in-flight call per key. Concurrent
// callers with the same key wait on the first call and share its result and
// error. Entries are removed the instant the call settles.
type Deduplicator struct {
	mu       sync.Mutex
	inflight map[string]*inflightCall
}

type inflightCall struct {
	done  chan struct{}
	value any
	err   error
}

func NewDeduplicator() *Deduplicator {
	return &Deduplicator{inflight: map[string]*inflightCall{}}
}

// Do invokes fn unless an identical-key call is already outstanding, in
// which case it waits for that call and returns its result. fn runs in the
// calling goroutine.
func (d *Deduplicator) Do(key string, fn func() (any, error)) (any, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrInvalidInput
	}
	d.mu.Lock()
	if call, ok := d.inflight[key]; ok {
		d.mu.Unlock()
		<-call.done
		return call.value, call.err
	}
	call := &inflightCall{done: make(chan struct{})}
	d.inflight[key] = call
	d.mu.Unlock()

	call.value, call.err = fn()

	// Drop the entry before waking waiters so a follow-up call with the
	// same key starts a fresh request rather than observing a settled one.
	d.mu.Lock()
	delete(d.inflight, key)
	d.mu.Unlock()
	close(call.done)
	return call.value, call.err
}

// InFlight reports how many keys currently have an outstanding call.
func (d *Deduplicator) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// RequestKey builds a canonical cache key from a base identifier and a
// parameter set: keys sorted, nil values omitted, values JSON-encoded. The
// same logical request always yields the same key.
func RequestKey(base string, params map[string]any) string {
	base = strings.TrimSpace(base)
	if len(params) == 0 {
		return base
	}
	keys := make([]string, 0, len(params))
	for key, value := range params {
		if value == nil {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return base
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		encoded, err := json.Marshal(params[key])
		if err != nil {
			encoded = []byte(fmt.Sprintf("%q", fmt.Sprintf("%v", params[key])))
		}
		parts = append(parts, key+"="+string(encoded))
	}
	return base + "?" + strings.Join(parts, "&")
}

// submitKey identifies one logical mutation so a retry never races a
// still-in-flight earlier attempt of itself.
func submitKey(item QueueItem) string {
	buf := make([]byte, 0, len(item.Payload)+len(item.PayloadRef)+1)
	buf = append(buf, item.Payload...)
	buf = append(buf, 0)
	buf = append(buf, item.PayloadRef...)
	sum := sha256.Sum256(buf)
	return item.Method + " " + item.Endpoint + " " + hex.EncodeToString(sum[:])
}
