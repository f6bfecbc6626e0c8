package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"toolgrid.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context so events
// emitted downstream can be correlated with the originating call.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Event is one append-only audit record. Every mutating engine operation
// emits exactly one.
type Event struct {
	ID         string            `json:"id"`
	OccurredAt time.Time         `json:"occurred_at"`
	ActorID    string            `json:"actor_id"`
	Action     string            `json:"action"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Metadata   map[string]string `json:"metadata"`
	RequestID  string            `json:"request_id,omitempty"`
}

// Sink accepts audit events. Implementations may buffer or forward; the
// engine never waits on delivery guarantees.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// LogSink writes events as JSON lines on the shared logger.
type LogSink struct{}

// Record marshals the event and emits it as a single log line.
func (LogSink) Record(_ context.Context, event Event) error {
	if strings.TrimSpace(event.Action) == "" {
		return errors.New("audit: action is required")
	}
	line := map[string]any{
		"ts":          event.OccurredAt.UTC().Format(time.RFC3339Nano),
		"type":        "audit",
		"event_id":    event.ID,
		"actor_id":    event.ActorID,
		"action":      event.Action,
		"entity_type": event.EntityType,
		"entity_id":   event.EntityID,
	}
	if event.RequestID != "" {
		line["request_id"] = event.RequestID
	}
	if len(event.Metadata) > 0 {
		line["metadata"] = event.Metadata
	} else {
		line["metadata"] = map[string]string{}
	}
	data, err := json.Marshal(line)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// MultiSink delivers each event to every sink in order. A failing sink does
// not stop delivery to the rest; the first error is reported.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, event Event) error {
	var first error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recorder emits events fire-and-forget: sink failures are logged and
// discarded so observability never breaks the primary operation.
type Recorder struct {
	sink Sink
	now  func() time.Time
}

// RecorderOption configures Recorder behavior.
type RecorderOption func(*Recorder)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder wraps a sink. A nil sink yields a recorder that drops events.
func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{sink: sink, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record builds and delivers one event. It never returns an error to the
// caller; a failing sink is reported on the shared logger only.
func (r *Recorder) Record(ctx context.Context, actorID, action, entityType, entityID string, metadata map[string]string) {
	if r == nil || r.sink == nil {
		return
	}
	event := Event{
		ID:         uuid.NewString(),
		OccurredAt: r.now().UTC(),
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   metadata,
		RequestID:  requestIDFromContext(ctx),
	}
	if err := r.sink.Record(ctx, event); err != nil {
		obs.Logger().Printf(`{"type":"audit_error","action":%q,"error":%q}`, action, err.Error())
	}
}
