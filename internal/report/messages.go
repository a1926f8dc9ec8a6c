// Package report carries session state to presentation surfaces: a tagged
// message dispatcher, a fan-out hub for stats pushes, a Redis publisher and
// the HTTP control API.
package report

import (
	"context"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"commentguard/internal/ledger"
	"commentguard/internal/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnknownAction is returned for a message whose tag has no handler.
var ErrUnknownAction = errors.New("unknown action")

// Action tags a message.
type Action string

const (
	ActionGetStats         Action = "getStats"
	ActionUpdateStats      Action = "updateStats"
	ActionRescan           Action = "rescan"
	ActionToggleHighlights Action = "toggleHighlights"
)

// Message is the envelope exchanged with presentation surfaces.
type Message struct {
	Action    Action        `json:"action"`
	Stats     *ledger.Stats `json:"stats,omitempty"`
	AIEnabled *bool         `json:"aiEnabled,omitempty"`
	UnitID    string        `json:"unitId,omitempty"`
	SessionID string        `json:"sessionId,omitempty"`
}

// Response answers a dispatched message. Only the fields relevant to the
// action are set.
type Response struct {
	Stats             *ledger.Stats `json:"stats,omitempty"`
	AIEnabled         *bool         `json:"aiEnabled,omitempty"`
	Success           *bool         `json:"success,omitempty"`
	HighlightsVisible *bool         `json:"highlightsVisible,omitempty"`
}

// Backend is the session state the dispatcher operates on.
type Backend interface {
	Snapshot() session.Snapshot
	Rescan(ctx context.Context) error
	ToggleHighlights(ctx context.Context) bool
}

// Handler answers one kind of message.
type Handler func(ctx context.Context, msg Message) (Response, error)

// Dispatcher routes messages by action.
type Dispatcher struct {
	handlers map[Action]Handler
	log      *zap.Logger
}

// NewDispatcher registers the built-in handlers. An updateStats message asks
// for the current snapshot to be pushed through hub.
func NewDispatcher(backend Backend, hub *Hub, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{handlers: make(map[Action]Handler), log: log}

	d.Register(ActionGetStats, func(_ context.Context, _ Message) (Response, error) {
		snap := backend.Snapshot()
		return Response{Stats: &snap.Stats, AIEnabled: &snap.AIEnabled}, nil
	})
	d.Register(ActionRescan, func(ctx context.Context, _ Message) (Response, error) {
		if err := backend.Rescan(ctx); err != nil {
			return Response{}, fmt.Errorf("rescan: %w", err)
		}
		ok := true
		return Response{Success: &ok}, nil
	})
	d.Register(ActionToggleHighlights, func(ctx context.Context, _ Message) (Response, error) {
		visible := backend.ToggleHighlights(ctx)
		return Response{HighlightsVisible: &visible}, nil
	})
	d.Register(ActionUpdateStats, func(ctx context.Context, _ Message) (Response, error) {
		snap := backend.Snapshot()
		if hub != nil {
			hub.PublishStats(ctx, snap)
		}
		ok := true
		return Response{Success: &ok}, nil
	})
	return d
}

// Register installs or replaces the handler for action.
func (d *Dispatcher) Register(action Action, h Handler) {
	d.handlers[action] = h
}

// Dispatch runs the handler for msg.Action.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) (Response, error) {
	h, ok := d.handlers[msg.Action]
	if !ok {
		return Response{}, fmt.Errorf("%w: %q", ErrUnknownAction, msg.Action)
	}
	d.log.Debug("dispatch message", zap.String("action", string(msg.Action)))
	return h(ctx, msg)
}

// statsMessage builds the updateStats push for snap.
func statsMessage(snap session.Snapshot) Message {
	stats := snap.Stats
	ai := snap.AIEnabled
	return Message{
		Action:    ActionUpdateStats,
		Stats:     &stats,
		AIEnabled: &ai,
		UnitID:    snap.UnitID,
		SessionID: snap.SessionID,
	}
}
