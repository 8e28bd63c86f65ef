package ingest

import (
	"testing"

	"surveil/internal/config"
)

func TestHandleErrorFrameShrinksCapOnSubscriptionLimit(t *testing.T) {
	c := NewConnection("ws://example.invalid", config.IngestConfig{SubscriptionCapProbe: 500}, testLogger())

	c.handleErrorFrame(mustMarshal(t, errorFrame{EventType: "error", Message: "subscription limit exceeded for this connection"}))

	c.mu.Lock()
	got := c.subscriptionCap
	c.mu.Unlock()
	if got != 250 {
		t.Errorf("subscriptionCap = %d, want 250 after a single over-cap rejection", got)
	}
}

func TestHandleErrorFrameIgnoresUnrelatedRejection(t *testing.T) {
	c := NewConnection("ws://example.invalid", config.IngestConfig{SubscriptionCapProbe: 500}, testLogger())

	c.handleErrorFrame(mustMarshal(t, errorFrame{EventType: "error", Message: "unknown asset id"}))

	c.mu.Lock()
	got := c.subscriptionCap
	c.mu.Unlock()
	if got != 500 {
		t.Errorf("subscriptionCap = %d, want unchanged 500 for a non-capacity rejection", got)
	}
}

func TestHandleMessageRoutesErrorEventTypeAwayFromFramesCh(t *testing.T) {
	c := NewConnection("ws://example.invalid", config.IngestConfig{SubscriptionCapProbe: 500}, testLogger())

	c.handleMessage(mustMarshal(t, errorFrame{EventType: "error", Message: "subscription limit exceeded"}))

	select {
	case f := <-c.framesCh:
		t.Errorf("expected no frame forwarded to framesCh, got %+v", f)
	default:
	}

	c.mu.Lock()
	got := c.subscriptionCap
	c.mu.Unlock()
	if got != 250 {
		t.Errorf("subscriptionCap = %d, want 250", got)
	}
}
