package realtime

import (
	"context"
	"errors"
	"strings"

	"github.com/teamsync/backend/internal/metrics"
	"github.com/teamsync/backend/internal/presence"
	"go.uber.org/zap"
)

var errMissingRegistry = errors.New("realtime: presence registry is required")

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Registry   presence.Registry
	SendBuffer int
	Metrics    metrics.Recorder
	Logger     *zap.Logger
}

// Engine ties presence, room membership and outbound queues together. It is
// the single object HTTP handlers, the connection gateway and the
// notification service share.
type Engine struct {
	registry presence.Registry
	hub      *Hub
	logger   *zap.Logger
}

// NewEngine builds an engine with its own hub and room table. Registry is
// required.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hub := NewHub(HubConfig{
		Rooms:      NewRooms(),
		SendBuffer: cfg.SendBuffer,
		Metrics:    cfg.Metrics,
		Logger:     logger,
	})
	return &Engine{registry: cfg.Registry, hub: hub, logger: logger}, nil
}

// Connect attaches a freshly opened connection and returns its outbound queue.
// The connection is not visible to user lookups until RegisterConnection.
func (e *Engine) Connect(connectionID ConnectionID) (<-chan Frame, error) {
	return e.hub.Attach(connectionID)
}

// Disconnect drops the presence entry pointing at the connection, removes all
// of its room memberships and closes its queue. Memberships of other
// connections are untouched.
func (e *Engine) Disconnect(ctx context.Context, connectionID ConnectionID) {
	if err := e.registry.Unregister(ctx, string(connectionID)); err != nil {
		e.logger.Warn("presence unregister failed",
			zap.String("connection_id", string(connectionID)),
			zap.Error(err),
		)
	}
	e.hub.Detach(connectionID)
}

// RegisterConnection makes connectionID the live connection for userID,
// replacing any earlier registration.
func (e *Engine) RegisterConnection(ctx context.Context, userID string, connectionID ConnectionID) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil
	}
	if !e.hub.Attached(connectionID) {
		return ErrUnknownConnection
	}
	return e.registry.Register(ctx, userID, string(connectionID))
}

// RefreshPresence renews the presence entry held by connectionID on
// registries that expire entries.
func (e *Engine) RefreshPresence(ctx context.Context, connectionID ConnectionID) error {
	if !e.hub.Attached(connectionID) {
		return ErrUnknownConnection
	}
	return e.registry.Touch(ctx, string(connectionID))
}

// LookupConnection returns the live connection registered for userID.
func (e *Engine) LookupConnection(ctx context.Context, userID string) (ConnectionID, bool, error) {
	connectionID, ok, err := e.registry.Lookup(ctx, userID)
	if err != nil || !ok {
		return "", false, err
	}
	return ConnectionID(connectionID), true, nil
}

func (e *Engine) JoinRoom(connectionID ConnectionID, room RoomName) error {
	return e.hub.Join(connectionID, room)
}

func (e *Engine) LeaveRoom(connectionID ConnectionID, room RoomName) {
	e.hub.Leave(connectionID, room)
}

func (e *Engine) IsMember(connectionID ConnectionID, room RoomName) bool {
	return e.hub.Rooms().IsMember(connectionID, room)
}

func (e *Engine) RoomSize(room RoomName) int {
	return e.hub.Rooms().Size(room)
}

// Broadcast delivers event to every member of room, the originator included.
func (e *Engine) Broadcast(room RoomName, event Event) int {
	return e.hub.Broadcast(room, event)
}

// BroadcastExcept delivers event to every member of room except exclude.
func (e *Engine) BroadcastExcept(room RoomName, event Event, exclude ConnectionID) int {
	return e.hub.BroadcastExcept(room, event, exclude)
}

// PushToConnection delivers event to one connection if it is still attached.
func (e *Engine) PushToConnection(connectionID ConnectionID, event Event) bool {
	return e.hub.PushToConnection(connectionID, event)
}
