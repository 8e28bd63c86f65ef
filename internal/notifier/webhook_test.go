package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"surveil/internal/config"
	"surveil/internal/detect"
	"surveil/pkg/types"
)

func TestWebhookSinkSendsPayload(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Default().Notifier
	cfg.WebhookURL = srv.URL + "/hook"
	sink := NewWebhookSink(cfg, testLogger())

	alert := Alert{MarketID: "m1", SignalType: types.SignalVolumeSpike, Priority: types.PriorityHigh, Timestamp: time.Now()}
	if err := sink.Send(context.Background(), alert); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotPath != "/hook" {
		t.Errorf("request path = %v, want /hook", gotPath)
	}
}

func TestWebhookSinkRetriesAfter429(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Default().Notifier
	cfg.WebhookURL = srv.URL
	sink := NewWebhookSink(cfg, testLogger())

	alert := Alert{MarketID: "m1", SignalType: types.SignalVolumeSpike, Priority: types.PriorityHigh, Timestamp: time.Now()}
	if err := sink.Send(context.Background(), alert); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %v, want 2 (initial 429 then retry)", attempts)
	}
}

func TestWebhookSinkPayloadMatchesFixedSchema(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Default().Notifier
	cfg.WebhookURL = srv.URL
	sink := NewWebhookSink(cfg, testLogger())

	alert := Alert{
		MarketID:      "m1",
		SignalType:    types.SignalVolumeSpike,
		Priority:      types.PriorityHigh,
		Confidence:    0.8,
		AdjustedScore: 0.7,
		Direction:     types.DirectionBullish,
		Timestamp:     time.Now(),
		Metadata:      detect.VolumeSpikeMeta{CurrentVolume: 5000, RecentAverage: 1000, Multiple: 5},
	}
	if err := sink.Send(context.Background(), alert); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if got.Title == "" || got.Description == "" {
		t.Errorf("expected non-empty title/description, got %+v", got)
	}
	if got.Footer.Text == "" {
		t.Errorf("expected non-empty footer text")
	}
	if len(got.Fields) == 0 {
		t.Errorf("expected at least one embed field")
	}
	for _, f := range got.Fields {
		if f.Name == "" {
			t.Errorf("embed field has empty name: %+v", f)
		}
	}
}

func TestWebhookSinkDisablesOnNon429ClientError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	cfg := config.Default().Notifier
	cfg.WebhookURL = srv.URL
	sink := NewWebhookSink(cfg, testLogger())

	alert := Alert{MarketID: "m1", SignalType: types.SignalVolumeSpike, Timestamp: time.Now()}
	err := sink.Send(context.Background(), alert)
	if err == nil {
		t.Fatal("expected an error on a 403 response")
	}
	var disableErr *DisableError
	if !errors.As(err, &disableErr) {
		t.Fatalf("expected a *DisableError, got %T: %v", err, err)
	}
	if !sink.Disabled() {
		t.Errorf("expected sink to be disabled after a 403 response")
	}

	// A second Send must not hit the server again: delivery stays disabled.
	if err := sink.Send(context.Background(), alert); err == nil {
		t.Error("expected Send to keep failing once disabled")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry once disabled)", attempts)
	}
}

func TestWebhookSinkDoesNotDisableOn429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := config.Default().Notifier
	cfg.WebhookURL = srv.URL
	sink := NewWebhookSink(cfg, testLogger())

	alert := Alert{MarketID: "m1", SignalType: types.SignalVolumeSpike, Timestamp: time.Now()}
	err := sink.Send(context.Background(), alert)
	if err == nil {
		t.Fatal("expected an error when every attempt returns 429")
	}
	if sink.Disabled() {
		t.Errorf("429 must not disable delivery")
	}
}

func TestWebhookSinkErrorsWithoutURL(t *testing.T) {
	cfg := config.Default().Notifier
	cfg.WebhookURL = ""
	sink := NewWebhookSink(cfg, testLogger())

	alert := Alert{MarketID: "m1", SignalType: types.SignalVolumeSpike}
	if err := sink.Send(context.Background(), alert); err == nil {
		t.Error("expected an error when the webhook URL is unconfigured")
	}
}
