package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	EventLoginSucceeded     = "auth.login.succeeded"
	EventLoginFailed        = "auth.login.failed"
	EventFederatedAssertion = "auth.federated.assertion"
	EventProfileCompleted   = "auth.profile.completed"
	EventProfileRejected    = "auth.profile.rejected"
	EventAccountRegistered  = "auth.account.registered"
	EventStatusChanged      = "auth.account.status_changed"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// Event is an append-only record of a security relevant action. Code carries
// the internal failure code, which may be more specific than what the
// caller was told.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	OccurredAt time.Time         `json:"occurredAt"`
	AccountID  string            `json:"accountId,omitempty"`
	Email      string            `json:"email,omitempty"`
	Code       string            `json:"code,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// NewEvent stamps an event with a sortable identifier and the current time.
func NewEvent(eventType string) Event {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
	entropyMu.Unlock()

	return Event{
		ID:         id,
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
	}
}

// Sink receives audit events. Implementations are best effort: a failing
// sink must never fail the request that produced the event.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// Recorder fans events out to sinks and logs sink failures.
type Recorder struct {
	sinks  []Sink
	logger *slog.Logger
}

func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	filtered := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			filtered = append(filtered, sink)
		}
	}
	return &Recorder{sinks: filtered, logger: logger}
}

// Emit delivers the event to every sink.
func (r *Recorder) Emit(ctx context.Context, event Event) {
	if r == nil {
		return
	}
	if strings.TrimSpace(event.ID) == "" {
		fresh := NewEvent(event.Type)
		event.ID = fresh.ID
		if event.OccurredAt.IsZero() {
			event.OccurredAt = fresh.OccurredAt
		}
	}
	for _, sink := range r.sinks {
		if err := sink.Record(ctx, event); err != nil {
			r.logger.WarnContext(ctx, "audit sink failed",
				slog.String("event", event.Type),
				slog.String("event_id", event.ID),
				slog.Any("error", err),
			)
		}
	}
}

// LogSink writes events as structured log lines.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(ctx context.Context, event Event) error {
	attrs := []any{
		slog.String("type", "audit"),
		slog.String("event", event.Type),
		slog.String("event_id", event.ID),
		slog.Time("occurred_at", event.OccurredAt),
	}
	if event.AccountID != "" {
		attrs = append(attrs, slog.String("account_id", event.AccountID))
	}
	if event.Code != "" {
		attrs = append(attrs, slog.String("code", event.Code))
	}
	if len(event.Fields) > 0 {
		attrs = append(attrs, slog.Any("fields", event.Fields))
	}
	s.logger.InfoContext(ctx, "audit", attrs...)
	return nil
}

// Publisher is the subset of the message queue used for audit delivery.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// PublisherSink forwards events to a message broker channel.
type PublisherSink struct {
	publisher Publisher
	channel   string
}

func NewPublisherSink(publisher Publisher, channel string) (*PublisherSink, error) {
	if publisher == nil {
		return nil, errors.New("audit publisher is required")
	}
	if strings.TrimSpace(channel) == "" {
		return nil, errors.New("audit channel is required")
	}
	return &PublisherSink{publisher: publisher, channel: channel}, nil
}

func (s *PublisherSink) Record(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	_, err = s.publisher.Publish(ctx, s.channel, data, map[string]string{
		"event":    event.Type,
		"event_id": event.ID,
	})
	return err
}

// Decode parses an event previously written by PublisherSink.
func Decode(data []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("decode audit event: %w", err)
	}
	return event, nil
}
