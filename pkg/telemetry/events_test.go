package telemetry

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestPublishSync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}

	received := make(chan Event, 1)
	ep.Subscribe(func(event Event) { received <- event }, nil)

	if err := ep.PublishRunStarted("run-1", "orders"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case event := <-received:
		if event.Type != EventTypeRunStarted || event.RunID != "run-1" {
			t.Errorf("Unexpected event: %+v", event)
		}
		if event.ID == "" {
			t.Error("Expected an event ID to be assigned")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestPublishDisabledIsNoop(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{})
	if err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}

	if err := ep.PublishRunStarted("run-1", "orders"); err != nil {
		t.Errorf("Disabled publish should not fail: %v", err)
	}
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Errorf("Disabled shutdown should not fail: %v", err)
	}
}

func TestShutdownDrainsQueuedEvents(t *testing.T) {
	// Long flush interval and a large batch size force every event to sit
	// in the buffer until shutdown.
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:       true,
		EnableAsync:   true,
		BufferSize:    100,
		MaxBatchSize:  100,
		FlushInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}

	const published = 10
	received := make(chan Event, published)
	ep.Subscribe(func(event Event) { received <- event }, nil)

	for i := 0; i < published; i++ {
		if err := ep.PublishDriftDecision("run-1", fmt.Sprintf("resource-%d", i), "preserved", ""); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	got := 0
	deadline := time.After(5 * time.Second)
	for got < published {
		select {
		case <-received:
			got++
		case <-deadline:
			t.Fatalf("Expected %d events after shutdown, got %d", published, got)
		}
	}
}

func TestEventFilters(t *testing.T) {
	tests := []struct {
		name   string
		filter EventFilter
		event  Event
		want   bool
	}{
		{"level pass", FilterByLevel(EventLevelWarning), Event{Level: EventLevelError}, true},
		{"level reject", FilterByLevel(EventLevelWarning), Event{Level: EventLevelInfo}, false},
		{"type pass", FilterByType(EventTypeRunFailed), Event{Type: EventTypeRunFailed}, true},
		{"type reject", FilterByType(EventTypeRunFailed), Event{Type: EventTypeRunStarted}, false},
		{"run pass", FilterByRunID("run-1"), Event{RunID: "run-1"}, true},
		{"run reject", FilterByRunID("run-1"), Event{RunID: "run-2"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter(tt.event); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
