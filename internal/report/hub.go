package report

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"commentguard/internal/session"
)

// Publisher delivers a message to one presentation surface.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, msg Message) error

func (f PublisherFunc) Publish(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Hub fans updateStats pushes out to every attached publisher. Surfaces that
// are absent or failing never affect the caller.
type Hub struct {
	log *zap.Logger

	mu         sync.RWMutex
	publishers []Publisher
	last       *Message
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{log: log}
}

// Attach adds a publisher.
func (h *Hub) Attach(p Publisher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishers = append(h.publishers, p)
}

// PublishStats implements session.Reporter.
func (h *Hub) PublishStats(ctx context.Context, snap session.Snapshot) {
	msg := statsMessage(snap)

	h.mu.Lock()
	h.last = &msg
	publishers := append([]Publisher(nil), h.publishers...)
	h.mu.Unlock()

	for _, p := range publishers {
		if err := p.Publish(ctx, msg); err != nil {
			h.log.Debug("stats push dropped", zap.Error(err))
		}
	}
}

// Last returns the most recent push, if any.
func (h *Hub) Last() (Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return Message{}, false
	}
	return *h.last, true
}
