package mq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/osda-portal/apiserver/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackendDeliversInOrder(t *testing.T) {
	backend := NewMemoryBackend()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := backend.Publish(ctx, "audit", []byte("one"), map[string]string{"event": "a"})
	require.NoError(t, err)

	received := make(chan Message, 2)
	done := make(chan error, 1)
	go func() {
		done <- backend.Subscribe(ctx, "audit", func(_ context.Context, msg Message) error {
			received <- msg
			return nil
		})
	}()

	_, err = backend.Publish(ctx, "audit", []byte("two"), nil)
	require.NoError(t, err)

	first := <-received
	second := <-received
	assert.Equal(t, "one", string(first.Data))
	assert.Equal(t, "a", first.Attributes["event"])
	assert.Equal(t, "two", string(second.Data))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestMemoryBackendRedeliversOnHandlerError(t *testing.T) {
	backend := NewMemoryBackend()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := backend.Publish(ctx, "audit", []byte("retry-me"), nil)
	require.NoError(t, err)

	attempts := 0
	err = backend.Subscribe(ctx, "audit", func(_ context.Context, msg Message) error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, attempts)
}

func TestMemoryBackendRejectsAfterClose(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Close())
	_, err := backend.Publish(context.Background(), "audit", nil, nil)
	assert.Error(t, err)
}

func TestNewSelectsBackend(t *testing.T) {
	backend, err := New(context.Background(), config.AuditConfig{Backend: "log"})
	require.NoError(t, err)
	assert.Nil(t, backend)

	backend, err = New(context.Background(), config.AuditConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, backend)

	_, err = New(context.Background(), config.AuditConfig{Backend: "rabbitmq"})
	assert.ErrorContains(t, err, "rabbitmq url is required")

	_, err = New(context.Background(), config.AuditConfig{Backend: "pubsub"})
	assert.ErrorContains(t, err, "project id is required")

	_, err = New(context.Background(), config.AuditConfig{Backend: "kafka"})
	assert.Error(t, err)
}

func TestHeadersToAttributes(t *testing.T) {
	attrs := headersToAttributes(amqp.Table{"event": "auth.login.failed", "raw": []byte("x"), "n": int32(3)})
	assert.Equal(t, map[string]string{"event": "auth.login.failed", "raw": "x", "n": "3"}, attrs)
	assert.Nil(t, headersToAttributes(nil))
	assert.Equal(t, "v", attributesToHeaders(map[string]string{"k": "v"})["k"])
}
