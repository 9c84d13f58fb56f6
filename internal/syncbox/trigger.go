package syncbox

import (
	"context"
	"sync"
	"time"
)

// ProbeFunc reports whether the server of record is currently reachable.
type ProbeFunc func(ctx context.Context) bool

type TriggerOptions struct {
	Engine       *Engine
	Probe        ProbeFunc
	Interval     time.Duration
	ProbeTimeout time.Duration
	Logger       Logger
}

// ConnectivityTrigger kicks the queue processor on offline-to-online
// transitions and on demand. Kicks arriving while a pass is running
// coalesce into at most one follow-up pass.
type ConnectivityTrigger struct {
	engine       *Engine
	probe        ProbeFunc
	interval     time.Duration
	probeTimeout time.Duration
	logger       Logger

	kick chan struct{}

	mu        sync.Mutex
	online    bool
	listeners []func(PassResult)
}

func NewConnectivityTrigger(opts TriggerOptions) (*ConnectivityTrigger, error) {
	if opts.Engine == nil {
		return nil, ErrInvalidInput
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &ConnectivityTrigger{
		engine:       opts.Engine,
		probe:        opts.Probe,
		interval:     interval,
		probeTimeout: probeTimeout,
		logger:       opts.Logger,
		kick:         make(chan struct{}, 1),
	}, nil
}

// Kick requests a processing pass. Redundant kicks while one is pending
// collapse into a single pass.
func (t *ConnectivityTrigger) Kick() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

// SetOnline feeds an external connectivity signal. The offline-to-online
// edge kicks the processor.
func (t *ConnectivityTrigger) SetOnline(online bool) {
	t.mu.Lock()
	wasOnline := t.online
	t.online = online
	t.mu.Unlock()
	if online && !wasOnline {
		t.Kick()
	}
}

// Online reports the last observed connectivity state.
func (t *ConnectivityTrigger) Online() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online
}

// AddListener registers a callback for aggregate pass results.
func (t *ConnectivityTrigger) AddListener(fn func(PassResult)) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Run probes connectivity on a timer and serves kicks until ctx is done.
func (t *ConnectivityTrigger) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	if t.probe != nil {
		t.runProbe(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.kick:
			t.runPass(ctx)
		case <-ticker.C:
			if t.probe != nil {
				t.runProbe(ctx)
			}
		}
	}
}

func (t *ConnectivityTrigger) runProbe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, t.probeTimeout)
	defer cancel()
	t.SetOnline(t.probe(probeCtx))
}

func (t *ConnectivityTrigger) runPass(ctx context.Context) {
	result, err := t.engine.ProcessQueue(ctx)
	if err != nil {
		t.logf("processing pass interrupted: %v", err)
	}
	t.mu.Lock()
	listeners := append([]func(PassResult){}, t.listeners...)
	t.mu.Unlock()
	for _, fn := range listeners {
		fn(result)
	}
}

func (t *ConnectivityTrigger) logf(format string, args ...any) {
	if t.logger == nil {
		return
	}
	t.logger.Printf(format, args...)
}
