package syncbox

import (
	"context"
	"testing"
	"time"
)

func newIdleTrigger(t *testing.T, engine *Engine) *ConnectivityTrigger {
	t.Helper()
	trigger, err := NewConnectivityTrigger(TriggerOptions{
		Engine:   engine,
		Interval: time.Hour, // keep the probe ticker out of the test
	})
	if err != nil {
		t.Fatalf("new trigger failed: %v", err)
	}
	return trigger
}

func TestSetOnlineKicksOnOfflineToOnlineEdgeOnly(t *testing.T) {
	engine := newTestEngine(t, &fakeSubmitter{})
	trigger := newIdleTrigger(t, engine)

	trigger.SetOnline(false)
	if len(trigger.kick) != 0 {
		t.Fatalf("going offline must not kick")
	}
	trigger.SetOnline(true)
	if len(trigger.kick) != 1 {
		t.Fatalf("expected the offline-to-online edge to kick")
	}
	<-trigger.kick
	trigger.SetOnline(true)
	if len(trigger.kick) != 0 {
		t.Fatalf("staying online must not kick again")
	}
	if !trigger.Online() {
		t.Fatalf("expected online state to be recorded")
	}
}

func TestRedundantKicksCoalesce(t *testing.T) {
	engine := newTestEngine(t, &fakeSubmitter{})
	trigger := newIdleTrigger(t, engine)

	trigger.Kick()
	trigger.Kick()
	trigger.Kick()
	if len(trigger.kick) != 1 {
		t.Fatalf("expected redundant kicks to collapse into one, got %d", len(trigger.kick))
	}
}

func TestRunServesKicksAndNotifiesListeners(t *testing.T) {
	engine := newTestEngine(t, &fakeSubmitter{})
	enqueueN(t, engine, 2)
	trigger := newIdleTrigger(t, engine)

	results := make(chan PassResult, 1)
	trigger.AddListener(func(result PassResult) {
		results <- result
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = trigger.Run(ctx)
	}()

	trigger.Kick()
	select {
	case result := <-results:
		if len(result.Succeeded) != 2 {
			t.Fatalf("expected both items processed, got %+v", result)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for pass result")
	}
	if remaining := engine.Queue(); len(remaining) != 0 {
		t.Fatalf("expected queue drained by kicked pass, got %+v", remaining)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for Run to stop")
	}
}

func TestInitialProbeSetsOnlineState(t *testing.T) {
	engine := newTestEngine(t, &fakeSubmitter{})
	trigger, err := NewConnectivityTrigger(TriggerOptions{
		Engine:   engine,
		Interval: time.Hour,
		Probe:    func(context.Context) bool { return true },
	})
	if err != nil {
		t.Fatalf("new trigger failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = trigger.Run(ctx)
	}()

	deadline := time.After(5 * time.Second)
	for !trigger.Online() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for probe to report online")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestNewConnectivityTriggerRequiresEngine(t *testing.T) {
	if _, err := NewConnectivityTrigger(TriggerOptions{}); err == nil {
		t.Fatalf("expected missing engine to be rejected")
	}
}
