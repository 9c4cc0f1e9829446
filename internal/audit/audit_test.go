package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	channel string
	data    []byte
	attrs   map[string]string
	err     error
}

func (p *capturePublisher) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	p.channel = channel
	p.data = data
	p.attrs = attrs
	return "msg-1", p.err
}

func TestNewEventIDsAreUniqueAndSortable(t *testing.T) {
	first := NewEvent(EventLoginSucceeded)
	second := NewEvent(EventLoginSucceeded)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Less(t, first.ID, second.ID)
	assert.False(t, first.OccurredAt.IsZero())
}

func TestPublisherSinkRoundTrip(t *testing.T) {
	pub := &capturePublisher{}
	sink, err := NewPublisherSink(pub, "osda.auth.audit")
	require.NoError(t, err)

	event := NewEvent(EventLoginFailed)
	event.Email = "admin@x.test"
	event.Code = "invalid_credentials"
	require.NoError(t, sink.Record(context.Background(), event))

	assert.Equal(t, "osda.auth.audit", pub.channel)
	assert.Equal(t, EventLoginFailed, pub.attrs["event"])

	decoded, err := Decode(pub.data)
	require.NoError(t, err)
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, "invalid_credentials", decoded.Code)
}

func TestNewPublisherSinkValidates(t *testing.T) {
	_, err := NewPublisherSink(nil, "x")
	assert.Error(t, err)
	_, err = NewPublisherSink(&capturePublisher{}, " ")
	assert.Error(t, err)
}

func TestRecorderLogsSinkFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	failing, err := NewPublisherSink(&capturePublisher{err: errors.New("broker down")}, "audit")
	require.NoError(t, err)

	recorder := NewRecorder(logger, failing, nil, NewLogSink(logger))
	recorder.Emit(context.Background(), Event{Type: EventProfileCompleted, AccountID: "acc-1"})

	out := buf.String()
	assert.Contains(t, out, "audit sink failed")
	assert.Contains(t, out, "broker down")
	assert.Contains(t, out, `"account_id":"acc-1"`)
}

func TestNilRecorderIsNoop(t *testing.T) {
	var recorder *Recorder
	recorder.Emit(context.Background(), NewEvent(EventLoginSucceeded))
}
