package documents

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/teamsync/backend/internal/metrics"
	"github.com/teamsync/backend/internal/realtime"
	"github.com/teamsync/backend/internal/serviceerr"
	"go.uber.org/zap"
)

var (
	// ErrNotInRoom is returned when a connection edits a document whose room it has not joined.
	ErrNotInRoom = errors.New("documents: connection has not joined the document")

	errMissingStore = errors.New("document store is required")
	errMissingRooms = errors.New("room engine is required")
)

// RoomState describes whether anyone is editing a document.
type RoomState string

const (
	RoomIdle   RoomState = "idle"
	RoomActive RoomState = "active"
)

// Store is the persistence the relay needs.
type Store interface {
	Get(ctx context.Context, documentID string) (Document, error)
	SaveContent(ctx context.Context, documentID string, delta json.RawMessage) error
}

// Rooms is the subset of the realtime engine the relay drives.
type Rooms interface {
	JoinRoom(connectionID realtime.ConnectionID, room realtime.RoomName) error
	LeaveRoom(connectionID realtime.ConnectionID, room realtime.RoomName)
	IsMember(connectionID realtime.ConnectionID, room realtime.RoomName) bool
	RoomSize(room realtime.RoomName) int
	BroadcastExcept(room realtime.RoomName, event realtime.Event, exclude realtime.ConnectionID) int
}

// AccessChecker decides whether a user may open documents of a workspace.
type AccessChecker interface {
	IsMember(ctx context.Context, workspaceID, userID string) (bool, error)
}

type RelayConfig struct {
	Store   Store
	Rooms   Rooms
	Access  AccessChecker
	Metrics metrics.Recorder
	Logger  *zap.Logger
}

// Relay forwards full-content deltas between the editors of a document.
// Every edit overwrites the stored content before it is forwarded.
type Relay struct {
	store   Store
	rooms   Rooms
	access  AccessChecker
	metrics metrics.Recorder
	logger  *zap.Logger
}

// NewRelay builds a relay. A nil Access lets any connection join any existing document.
func NewRelay(cfg RelayConfig) (*Relay, error) {
	if cfg.Store == nil {
		return nil, serviceerr.New(opRelayNew, "missing_store", errMissingStore)
	}
	if cfg.Rooms == nil {
		return nil, serviceerr.New(opRelayNew, "missing_rooms", errMissingRooms)
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		store:   cfg.Store,
		rooms:   cfg.Rooms,
		access:  cfg.Access,
		metrics: recorder,
		logger:  logger,
	}, nil
}

// State reports whether the document currently has editors.
func (r *Relay) State(documentID string) RoomState {
	if r.rooms.RoomSize(realtime.DocumentRoom(documentID)) == 0 {
		return RoomIdle
	}
	return RoomActive
}

// Join adds the connection to the document's room. The document must exist
// and, when access checks are configured, userID must belong to its workspace.
func (r *Relay) Join(ctx context.Context, connectionID realtime.ConnectionID, userID, documentID string) (Document, error) {
	document, err := r.store.Get(ctx, documentID)
	if err != nil {
		return Document{}, err
	}
	if r.access != nil {
		allowed, err := r.access.IsMember(ctx, document.WorkspaceID, userID)
		if err != nil {
			return Document{}, err
		}
		if !allowed {
			return Document{}, serviceerr.New(opRelayJoin, "forbidden", serviceerr.ErrForbidden)
		}
	}
	if err := r.rooms.JoinRoom(connectionID, realtime.DocumentRoom(document.ID)); err != nil {
		return Document{}, serviceerr.New(opRelayJoin, "join_failed", err)
	}
	return document, nil
}

// Leave removes the connection from the document's room.
func (r *Relay) Leave(connectionID realtime.ConnectionID, documentID string) {
	r.rooms.LeaveRoom(connectionID, realtime.DocumentRoom(strings.TrimSpace(documentID)))
}

// ApplyEdit stores delta as the document's content and forwards it to every
// other editor. Nothing is forwarded when the write fails.
func (r *Relay) ApplyEdit(ctx context.Context, connectionID realtime.ConnectionID, documentID string, delta json.RawMessage) (int, error) {
	documentID = strings.TrimSpace(documentID)
	room := realtime.DocumentRoom(documentID)
	if documentID == "" || !r.rooms.IsMember(connectionID, room) {
		return 0, serviceerr.New(opRelayEdit, "not_in_room", ErrNotInRoom)
	}
	if err := r.store.SaveContent(ctx, documentID, delta); err != nil {
		r.logger.Error("document edit not persisted",
			zap.String("operation", opRelayEdit),
			zap.String("document_id", documentID),
			zap.String("connection_id", string(connectionID)),
			zap.Error(err))
		return 0, err
	}
	r.metrics.DocumentEditRelayed()
	update := realtime.DocumentUpdate{DocumentID: documentID, Delta: append(json.RawMessage(nil), delta...)}
	return r.rooms.BroadcastExcept(room, update, connectionID), nil
}
