package events

import (
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/fruitsalade/dropbox/internal/logging"
	"github.com/fruitsalade/dropbox/internal/metrics"
	"github.com/fruitsalade/dropbox/pkg/protocol"
)

const subscriberBuffer = 64

// Receiver accepts pingback requests over HTTP and fans the parsed events
// out to subscribers.
type Receiver struct {
	mu          sync.RWMutex
	subscribers map[chan *Event]struct{}
	logger      *zap.Logger
}

// NewReceiver creates a receiver. A nil logger uses the global one.
func NewReceiver(logger *zap.Logger) *Receiver {
	if logger == nil {
		logger = logging.L()
	}
	return &Receiver{
		subscribers: make(map[chan *Event]struct{}),
		logger:      logger,
	}
}

// Subscribe adds a new subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (r *Receiver) Subscribe() chan *Event {
	ch := make(chan *Event, subscriberBuffer)
	r.mu.Lock()
	r.subscribers[ch] = struct{}{}
	r.mu.Unlock()
	metrics.SetPingbackSubscribers(r.Count())
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (r *Receiver) Unsubscribe(ch chan *Event) {
	r.mu.Lock()
	if _, ok := r.subscribers[ch]; ok {
		delete(r.subscribers, ch)
		close(ch)
	}
	r.mu.Unlock()
	metrics.SetPingbackSubscribers(r.Count())
}

// Publish sends an event to all subscribers. Subscribers whose buffer is
// full miss the event.
func (r *Receiver) Publish(ev *Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for ch := range r.subscribers {
		select {
		case ch <- ev:
		default:
			r.logger.Warn("dropping pingback for slow subscriber", zap.String("payload", ev.Payload()))
		}
	}
}

// Count returns the number of active subscribers.
func (r *Receiver) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// ServeHTTP handles a pingback. The payload arrives in the target_events
// form field; a raw JSON request body is accepted as well.
func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost && req.Method != http.MethodGet {
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	payload, err := readPayload(req)
	if err != nil || payload == "" {
		metrics.RecordPingback(false)
		http.Error(w, "missing "+protocol.ParamTargetEvents, http.StatusBadRequest)
		return
	}

	ev, err := Parse(payload)
	if err != nil {
		metrics.RecordPingback(false)
		r.logger.Warn("rejected pingback", zap.Error(err))
		http.Error(w, ErrInvalidPingback.Error(), http.StatusBadRequest)
		return
	}
	ev.WithLogger(r.logger)

	metrics.RecordPingback(true)
	r.logger.Info("pingback received",
		zap.Int("revisions", len(ev.entries)),
		zap.Int64s("users", ev.users))
	r.Publish(ev)
	w.WriteHeader(http.StatusOK)
}

func readPayload(req *http.Request) (string, error) {
	if req.Header.Get("Content-Type") == "application/json" {
		body, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
		return string(body), err
	}
	if err := req.ParseForm(); err != nil {
		return "", err
	}
	return req.FormValue(protocol.ParamTargetEvents), nil
}
