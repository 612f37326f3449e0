package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/teamsync/backend/internal/ids"
	"github.com/teamsync/backend/internal/presence"
	"github.com/teamsync/backend/internal/realtime"
	"github.com/teamsync/backend/internal/serviceerr"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, documentIDs ...string) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:documents_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Document{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1700000000, 0).UTC() },
		IDProvider: &ids.Sequence{IDs: documentIDs},
	})
	if err != nil {
		t.Fatalf("failed to construct documents service: %v", err)
	}
	return service
}

func newTestEngine(t *testing.T) *realtime.Engine {
	t.Helper()
	engine, err := realtime.NewEngine(realtime.EngineConfig{Registry: presence.NewMemoryRegistry(), SendBuffer: 8})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return engine
}

type memberSet map[string]bool

func (m memberSet) IsMember(_ context.Context, workspaceID, userID string) (bool, error) {
	return m[workspaceID+"/"+userID], nil
}

func newTestRelay(t *testing.T, service *Service, engine *realtime.Engine, access AccessChecker) *Relay {
	t.Helper()
	relay, err := NewRelay(RelayConfig{Store: service, Rooms: engine, Access: access})
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	return relay
}

func connect(t *testing.T, engine *realtime.Engine, connectionID realtime.ConnectionID) <-chan realtime.Frame {
	t.Helper()
	stream, err := engine.Connect(connectionID)
	if err != nil {
		t.Fatalf("connect %s: %v", connectionID, err)
	}
	return stream
}

func TestApplyEditPersistsAndSkipsSender(t *testing.T) {
	service := newTestService(t, "d1")
	engine := newTestEngine(t)
	relay := newTestRelay(t, service, engine, nil)
	ctx := context.Background()

	if _, err := service.Create(ctx, "w1", "Roadmap", "u1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	editor := connect(t, engine, "c1")
	viewerOne := connect(t, engine, "c2")
	viewerTwo := connect(t, engine, "c3")
	for _, connectionID := range []realtime.ConnectionID{"c1", "c2", "c3"} {
		if _, err := relay.Join(ctx, connectionID, "u1", "d1"); err != nil {
			t.Fatalf("join %s: %v", connectionID, err)
		}
	}
	if relay.State("d1") != RoomActive {
		t.Fatal("expected active room")
	}

	delta := json.RawMessage(`{"ops":[{"insert":"hello\n"}]}`)
	delivered, err := relay.ApplyEdit(ctx, "c1", "d1", delta)
	if err != nil {
		t.Fatalf("apply edit: %v", err)
	}
	if delivered != 2 {
		t.Fatalf("expected 2 deliveries, got %d", delivered)
	}

	for _, stream := range []<-chan realtime.Frame{viewerOne, viewerTwo} {
		select {
		case frame := <-stream:
			var payload struct {
				DocumentID string          `json:"documentId"`
				Delta      json.RawMessage `json:"delta"`
			}
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if frame.Event != realtime.EventDocumentUpdate || payload.DocumentID != "d1" || string(payload.Delta) != string(delta) {
				t.Fatalf("unexpected frame %s %s", frame.Event, string(frame.Payload))
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatal("expected document_update frame")
		}
	}
	select {
	case frame := <-editor:
		t.Fatalf("sender must not receive its own delta, got %s", frame.Event)
	default:
	}

	stored, err := service.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(stored.Content) != string(delta) {
		t.Fatalf("expected persisted content to equal delta, got %s", string(stored.Content))
	}
}

func TestApplyEditRequiresRoomMembership(t *testing.T) {
	service := newTestService(t, "d1")
	engine := newTestEngine(t)
	relay := newTestRelay(t, service, engine, nil)
	ctx := context.Background()
	if _, err := service.Create(ctx, "w1", "Roadmap", "u1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	connect(t, engine, "c1")

	_, err := relay.ApplyEdit(ctx, "c1", "d1", json.RawMessage(`{"ops":[]}`))
	if !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("expected ErrNotInRoom, got %v", err)
	}
}

func TestApplyEditUnknownDocumentBroadcastsNothing(t *testing.T) {
	service := newTestService(t)
	engine := newTestEngine(t)
	relay := newTestRelay(t, service, engine, nil)
	ctx := context.Background()
	connect(t, engine, "c1")
	viewer := connect(t, engine, "c2")
	for _, connectionID := range []realtime.ConnectionID{"c1", "c2"} {
		if err := engine.JoinRoom(connectionID, realtime.DocumentRoom("ghost")); err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	delivered, err := relay.ApplyEdit(ctx, "c1", "ghost", json.RawMessage(`{"ops":[]}`))
	if !errors.Is(err, serviceerr.ErrNotFound) || delivered != 0 {
		t.Fatalf("expected not found and no deliveries, got %d (%v)", delivered, err)
	}
	select {
	case frame := <-viewer:
		t.Fatalf("expected no broadcast, got %s", frame.Event)
	default:
	}
}

func TestApplyEditRejectsInvalidDelta(t *testing.T) {
	service := newTestService(t, "d1")
	engine := newTestEngine(t)
	relay := newTestRelay(t, service, engine, nil)
	ctx := context.Background()
	if _, err := service.Create(ctx, "w1", "Roadmap", "u1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	connect(t, engine, "c1")
	if _, err := relay.Join(ctx, "c1", "u1", "d1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := relay.ApplyEdit(ctx, "c1", "d1", json.RawMessage(`{"ops":`)); !errors.Is(err, serviceerr.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestJoinEnforcesWorkspaceAccess(t *testing.T) {
	service := newTestService(t, "d1")
	engine := newTestEngine(t)
	relay := newTestRelay(t, service, engine, memberSet{"w1/u1": true})
	ctx := context.Background()
	if _, err := service.Create(ctx, "w1", "Roadmap", "u1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	connect(t, engine, "c1")
	connect(t, engine, "c2")

	if _, err := relay.Join(ctx, "c2", "stranger", "d1"); !errors.Is(err, serviceerr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := relay.Join(ctx, "c1", "u1", "missing"); !errors.Is(err, serviceerr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	document, err := relay.Join(ctx, "c1", "u1", "d1")
	if err != nil || document.Title != "Roadmap" {
		t.Fatalf("expected join to return the document, got %+v (%v)", document, err)
	}

	relay.Leave("c1", "d1")
	if relay.State("d1") != RoomIdle {
		t.Fatal("expected idle room after the last editor left")
	}
}
