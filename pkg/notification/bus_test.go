package notification

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, sub *Subscription, n int) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	for len(out) < n {
		select {
		case ev, ok := <-sub.Events():
			require.True(t, ok, "stream closed after %d events", len(out))
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestBusProjectScoping(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	subA := bus.Subscribe("project-a")
	subB := bus.Subscribe("project-b")

	bus.Publish(Event{Action: "node.updated", ProjectID: "project-a", Event: map[string]any{"name": "r1"}})
	bus.Publish(Event{Action: "node.updated", ProjectID: "project-b", Event: map[string]any{"name": "r2"}})

	got := collect(t, subA, 1)
	assert.Equal(t, "project-a", got[0].ProjectID)

	got = collect(t, subB, 1)
	assert.Equal(t, "project-b", got[0].ProjectID)

	select {
	case ev := <-subA.Events():
		t.Fatalf("unexpected event on project-a stream: %+v", ev)
	default:
	}
}

func TestBusBroadcastActions(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	controller := bus.Subscribe("")
	project := bus.Subscribe("project-a")

	bus.Publish(Event{Action: ActionComputeUpdated, Event: map[string]any{"compute_id": "c1"}})
	bus.Publish(Event{Action: ActionSettingsUpdated, Event: map[string]any{}})

	assert.Equal(t, ActionComputeUpdated, collect(t, controller, 1)[0].Action)
	assert.Equal(t, ActionComputeUpdated, collect(t, project, 1)[0].Action)
	assert.Equal(t, ActionSettingsUpdated, collect(t, controller, 1)[0].Action)
	assert.Equal(t, ActionSettingsUpdated, collect(t, project, 1)[0].Action)
}

func TestBusOrderingPerSource(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe("project-a")

	for i := 0; i < 50; i++ {
		bus.Publish(Event{
			Action:    "node.updated",
			ProjectID: "project-a",
			Event:     map[string]any{"seq": i},
		})
	}

	got := collect(t, sub, 50)
	for i, ev := range got {
		payload := ev.Event.(map[string]any)
		assert.Equal(t, i, payload["seq"])
	}
}

func TestBusOverflowDropsOldest(t *testing.T) {
	drops := 0
	bus := NewBus(WithQueueSize(4), WithDropHook(func() { drops++ }))
	defer bus.Close()

	sub := bus.Subscribe("project-a")

	for i := 0; i < 10; i++ {
		bus.Publish(Event{
			Action:    "node.updated",
			ProjectID: "project-a",
			Event:     map[string]any{"seq": fmt.Sprint(i)},
		})
	}

	assert.Positive(t, drops)

	// The queue holds the newest events plus lag warnings; the final event
	// published must still be present.
	got := collect(t, sub, 4)
	var sawWarning, sawLast bool
	for _, ev := range got {
		if ev.Action == ActionLogWarning {
			sawWarning = true
		}
		if payload, ok := ev.Event.(map[string]any); ok && payload["seq"] == "9" {
			sawLast = true
		}
	}
	assert.True(t, sawWarning, "lag warning should be injected")
	assert.True(t, sawLast, "newest event should survive the overflow")
}

func TestBusCloseProjectIsTerminal(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe("project-a")
	other := bus.Subscribe("project-b")

	bus.CloseProject("project-a")

	got := collect(t, sub, 1)
	assert.Equal(t, ActionProjectClosed, got[0].Action)

	_, ok := <-sub.Events()
	assert.False(t, ok, "stream should be closed after project.closed")

	select {
	case <-other.Done():
		t.Fatal("unrelated project stream must stay open")
	default:
	}

	assert.Equal(t, 0, bus.SubscriberCount("project-a"))
	assert.Equal(t, 1, bus.SubscriberCount("project-b"))
}

func TestBusPing(t *testing.T) {
	bus := NewBus(WithPingInterval(20 * time.Millisecond))
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	controller := bus.Subscribe("")
	project := bus.Subscribe("project-a")

	assert.Equal(t, ActionPing, collect(t, controller, 1)[0].Action)
	assert.Equal(t, ActionPing, collect(t, project, 1)[0].Action)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe("project-a")
	bus.Unsubscribe(sub)

	_, ok := <-sub.Events()
	assert.False(t, ok)

	// Publishing after unsubscribe must not panic.
	bus.Publish(Event{Action: "node.updated", ProjectID: "project-a"})
}

func TestBusCloseIdempotent(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("")

	bus.Close()
	bus.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)

	// Subscribing after close returns an already-closed stream.
	late := bus.Subscribe("")
	_, ok = <-late.Events()
	assert.False(t, ok)
}
