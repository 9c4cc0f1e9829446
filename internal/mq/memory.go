package mq

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryBackend delivers messages in process. Messages published before a
// subscriber attaches are buffered and replayed to it.
type MemoryBackend struct {
	mu     sync.Mutex
	queues map[string][]Message
	notify map[string]chan struct{}
	closed bool
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		queues: make(map[string][]Message),
		notify: make(map[string]chan struct{}),
	}
}

func (m *MemoryBackend) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("memory channel is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", errors.New("memory backend closed")
	}

	msg := Message{ID: uuid.NewString(), Data: append([]byte(nil), data...), Attributes: attrs}
	m.queues[channel] = append(m.queues[channel], msg)
	m.signal(channel)
	return msg.ID, nil
}

// Subscribe drains the channel until ctx is done. A message whose handler
// fails is put back at the head of the queue.
func (m *MemoryBackend) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("memory channel is required")
	}
	for {
		msg, wait, ok := m.next(channel)
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-wait:
				continue
			}
		}
		if err := handler(ctx, msg); err != nil {
			m.requeue(channel, msg)
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
	}
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryBackend) next(channel string) (Message, <-chan struct{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.queues[channel]
	if len(queue) == 0 {
		ch, ok := m.notify[channel]
		if !ok {
			ch = make(chan struct{})
			m.notify[channel] = ch
		}
		return Message{}, ch, false
	}
	m.queues[channel] = queue[1:]
	return queue[0], nil, true
}

func (m *MemoryBackend) requeue(channel string, msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[channel] = append([]Message{msg}, m.queues[channel]...)
}

func (m *MemoryBackend) signal(channel string) {
	if ch, ok := m.notify[channel]; ok {
		close(ch)
		delete(m.notify, channel)
	}
}
