package realtime

import (
	"errors"
	"sync"

	"github.com/teamsync/backend/internal/metrics"
	"go.uber.org/zap"
)

const defaultSendBuffer = 64

var (
	// ErrDuplicateConnection is returned when a connection id is attached twice.
	ErrDuplicateConnection = errors.New("realtime: connection already attached")

	// ErrUnknownConnection is returned when an operation names a connection that is not attached.
	ErrUnknownConnection = errors.New("realtime: unknown connection")
)

// HubConfig configures a Hub.
type HubConfig struct {
	Rooms      *Rooms
	SendBuffer int
	Metrics    metrics.Recorder
	Logger     *zap.Logger
}

// Hub owns the outbound queue of every attached connection and fans frames
// out to room members. Enqueueing never blocks; a full queue drops the frame
// for that connection only.
type Hub struct {
	mu          sync.Mutex
	connections map[ConnectionID]*connection
	rooms       *Rooms
	bufferSize  int
	metrics     metrics.Recorder
	logger      *zap.Logger
}

type connection struct {
	id     ConnectionID
	stream chan Frame
}

// NewHub fills in an empty room table and the default send buffer when cfg
// leaves them unset.
func NewHub(cfg HubConfig) *Hub {
	rooms := cfg.Rooms
	if rooms == nil {
		rooms = NewRooms()
	}
	bufferSize := cfg.SendBuffer
	if bufferSize <= 0 {
		bufferSize = defaultSendBuffer
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		connections: make(map[ConnectionID]*connection),
		rooms:       rooms,
		bufferSize:  bufferSize,
		metrics:     recorder,
		logger:      logger,
	}
}

// Rooms exposes the membership relation the hub broadcasts over.
func (h *Hub) Rooms() *Rooms {
	return h.rooms
}

// Attach registers an outbound queue for the connection.
func (h *Hub) Attach(connectionID ConnectionID) (<-chan Frame, error) {
	if connectionID == "" {
		return nil, ErrUnknownConnection
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.connections[connectionID]; exists {
		return nil, ErrDuplicateConnection
	}
	conn := &connection{
		id:     connectionID,
		stream: make(chan Frame, h.bufferSize),
	}
	h.connections[connectionID] = conn
	h.metrics.ConnectionOpened()
	return conn.stream, nil
}

// Detach removes every room membership of the connection and closes its queue.
func (h *Hub) Detach(connectionID ConnectionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rooms.LeaveAll(connectionID)
	conn, ok := h.connections[connectionID]
	if !ok {
		return
	}
	delete(h.connections, connectionID)
	close(conn.stream)
	h.metrics.ConnectionClosed()
}

// Attached reports whether the connection currently has a queue.
func (h *Hub) Attached(connectionID ConnectionID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.connections[connectionID]
	return ok
}

// Join adds the connection to room. Only attached connections may join.
func (h *Hub) Join(connectionID ConnectionID, room RoomName) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[connectionID]; !ok {
		return ErrUnknownConnection
	}
	h.rooms.Join(connectionID, room)
	return nil
}

// Leave removes the connection from room.
func (h *Hub) Leave(connectionID ConnectionID, room RoomName) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rooms.Leave(connectionID, room)
}

// Broadcast enqueues event for every member of room and returns the number of
// connections it was enqueued for.
func (h *Hub) Broadcast(room RoomName, event Event) int {
	return h.fanOut(room, event, "")
}

// BroadcastExcept enqueues event for every member of room except exclude.
func (h *Hub) BroadcastExcept(room RoomName, event Event, exclude ConnectionID) int {
	return h.fanOut(room, event, exclude)
}

// PushToConnection enqueues event for a single connection. It reports whether
// the frame was enqueued; a missing connection is a no-op.
func (h *Hub) PushToConnection(connectionID ConnectionID, event Event) bool {
	frame, err := Encode(event)
	if err != nil {
		h.logger.Error("realtime frame encoding failed", zap.String("event", string(event.Name())), zap.Error(err))
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enqueueLocked(connectionID, frame)
}

func (h *Hub) fanOut(room RoomName, event Event, exclude ConnectionID) int {
	frame, err := Encode(event)
	if err != nil {
		h.logger.Error("realtime frame encoding failed", zap.String("event", string(event.Name())), zap.Error(err))
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for _, member := range h.rooms.Members(room) {
		if member == exclude {
			continue
		}
		if h.enqueueLocked(member, frame) {
			delivered++
		}
	}
	return delivered
}

func (h *Hub) enqueueLocked(connectionID ConnectionID, frame Frame) bool {
	conn, ok := h.connections[connectionID]
	if !ok {
		h.metrics.FrameDropped(string(frame.Event))
		return false
	}
	select {
	case conn.stream <- frame:
		h.metrics.FrameDelivered(string(frame.Event))
		return true
	default:
		h.metrics.FrameDropped(string(frame.Event))
		h.logger.Debug("realtime frame dropped",
			zap.String("connection_id", string(connectionID)),
			zap.String("event", string(frame.Event)),
		)
		return false
	}
}
