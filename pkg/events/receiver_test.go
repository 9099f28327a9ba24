package events

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

const samplePayload = `{"1": {"10": [100, 101]}}`

func mustParse(t *testing.T, payload string) *Event {
	t.Helper()
	ev, err := Parse(payload)
	if err != nil {
		t.Fatalf("parse %s: %v", payload, err)
	}
	return ev
}

func TestReceiverSubscribeUnsubscribe(t *testing.T) {
	r := NewReceiver(zap.NewNop())

	ch1 := r.Subscribe()
	ch2 := r.Subscribe()

	if r.Count() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", r.Count())
	}

	r.Unsubscribe(ch1)
	if r.Count() != 1 {
		t.Fatalf("expected 1 subscriber after unsubscribe, got %d", r.Count())
	}

	r.Unsubscribe(ch2)
	r.Unsubscribe(ch2)
	if r.Count() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", r.Count())
	}
	if _, open := <-ch1; open {
		t.Error("expected unsubscribed channel to be closed")
	}
}

func TestReceiverMultipleSubscribers(t *testing.T) {
	r := NewReceiver(zap.NewNop())
	ch1 := r.Subscribe()
	ch2 := r.Subscribe()
	defer r.Unsubscribe(ch1)
	defer r.Unsubscribe(ch2)

	r.Publish(mustParse(t, samplePayload))

	for i, ch := range []chan *Event{ch1, ch2} {
		select {
		case received := <-ch:
			if len(received.Entries()) != 2 {
				t.Errorf("subscriber %d: expected 2 revisions, got %d", i, len(received.Entries()))
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestReceiverDropsForSlowConsumer(t *testing.T) {
	r := NewReceiver(zap.NewNop())
	ch := r.Subscribe()
	defer r.Unsubscribe(ch)

	ev := mustParse(t, samplePayload)
	for i := 0; i < 100; i++ {
		r.Publish(ev)
	}

	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			goto done
		}
	}
done:
	if count != subscriberBuffer {
		t.Errorf("expected %d buffered events, got %d", subscriberBuffer, count)
	}
}

func TestReceiverServeHTTP(t *testing.T) {
	r := NewReceiver(zap.NewNop())
	ch := r.Subscribe()
	defer r.Unsubscribe(ch)

	form := url.Values{"target_events": {samplePayload}}
	req := httptest.NewRequest(http.MethodPost, "/pingback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	select {
	case ev := <-ch:
		if ev.Payload() != samplePayload {
			t.Errorf("unexpected payload %q", ev.Payload())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestReceiverServeHTTPJSONBody(t *testing.T) {
	r := NewReceiver(zap.NewNop())
	ch := r.Subscribe()
	defer r.Unsubscribe(ch)

	req := httptest.NewRequest(http.MethodPost, "/pingback", strings.NewReader(samplePayload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(ch) != 1 {
		t.Fatalf("expected 1 queued event, got %d", len(ch))
	}
}

func TestReceiverServeHTTPRejects(t *testing.T) {
	r := NewReceiver(zap.NewNop())
	ch := r.Subscribe()
	defer r.Unsubscribe(ch)

	tests := []struct {
		name   string
		method string
		target string
		want   int
	}{
		{"missing payload", http.MethodGet, "/pingback", http.StatusBadRequest},
		{"malformed payload", http.MethodGet, "/pingback?target_events=" + url.QueryEscape("{nope"), http.StatusBadRequest},
		{"wrong method", http.MethodDelete, "/pingback", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
	if len(ch) != 0 {
		t.Errorf("expected no events, got %d", len(ch))
	}
}
