package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/teamsync/backend/internal/presence"
)

func newTestEngine(t *testing.T, sendBuffer int) *Engine {
	t.Helper()
	engine, err := NewEngine(EngineConfig{
		Registry:   presence.NewMemoryRegistry(),
		SendBuffer: sendBuffer,
	})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	return engine
}

func mustConnect(t *testing.T, engine *Engine, connectionID ConnectionID) <-chan Frame {
	t.Helper()
	stream, err := engine.Connect(connectionID)
	if err != nil {
		t.Fatalf("connect %s failed: %v", connectionID, err)
	}
	return stream
}

func mustJoin(t *testing.T, engine *Engine, connectionID ConnectionID, room RoomName) {
	t.Helper()
	if err := engine.JoinRoom(connectionID, room); err != nil {
		t.Fatalf("join %s -> %s failed: %v", connectionID, room, err)
	}
}

func expectFrame(t *testing.T, stream <-chan Frame, event EventName) Frame {
	t.Helper()
	select {
	case frame, ok := <-stream:
		if !ok {
			t.Fatalf("expected %s frame, stream closed", event)
		}
		if frame.Event != event {
			t.Fatalf("expected %s frame, got %s", event, frame.Event)
		}
		return frame
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("expected %s frame within deadline", event)
	}
	return Frame{}
}

func expectNoFrame(t *testing.T, stream <-chan Frame) {
	t.Helper()
	select {
	case frame, ok := <-stream:
		if ok {
			t.Fatalf("did not expect a frame, got %s", frame.Event)
		}
	default:
	}
}

func TestBroadcastReachesOnlyRoomMembers(t *testing.T) {
	engine := newTestEngine(t, 8)
	room := WorkspaceRoom("w1")

	first := mustConnect(t, engine, "c1")
	second := mustConnect(t, engine, "c2")
	outsider := mustConnect(t, engine, "c3")
	mustJoin(t, engine, "c1", room)
	mustJoin(t, engine, "c2", room)
	mustJoin(t, engine, "c3", WorkspaceRoom("w2"))

	delivered := engine.Broadcast(room, TaskDeleted{TaskID: "t1"})
	if delivered != 2 {
		t.Fatalf("expected 2 deliveries, got %d", delivered)
	}
	frame := expectFrame(t, first, EventTaskDeleted)
	var taskID string
	if err := json.Unmarshal(frame.Payload, &taskID); err != nil || taskID != "t1" {
		t.Fatalf("expected task id payload t1, got %s (%v)", string(frame.Payload), err)
	}
	expectFrame(t, second, EventTaskDeleted)
	expectNoFrame(t, outsider)
}

func TestBroadcastToEmptyRoomIsNoop(t *testing.T) {
	engine := newTestEngine(t, 8)
	if delivered := engine.Broadcast(DocumentRoom("missing"), TaskDeleted{TaskID: "t1"}); delivered != 0 {
		t.Fatalf("expected no deliveries, got %d", delivered)
	}
}

func TestBroadcastExceptSkipsOriginator(t *testing.T) {
	engine := newTestEngine(t, 8)
	room := DocumentRoom("d1")
	editor := mustConnect(t, engine, "c1")
	viewer := mustConnect(t, engine, "c2")
	mustJoin(t, engine, "c1", room)
	mustJoin(t, engine, "c2", room)

	delivered := engine.BroadcastExcept(room, DocumentUpdate{DocumentID: "d1", Delta: json.RawMessage(`{"ops":[]}`)}, "c1")
	if delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}
	expectFrame(t, viewer, EventDocumentUpdate)
	expectNoFrame(t, editor)
}

func TestJoinRequiresAttachedConnection(t *testing.T) {
	engine := newTestEngine(t, 8)
	if err := engine.JoinRoom("ghost", WorkspaceRoom("w1")); err != ErrUnknownConnection {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}
	if size := engine.RoomSize(WorkspaceRoom("w1")); size != 0 {
		t.Fatalf("expected empty room, got %d members", size)
	}
}

func TestDuplicateConnectRejected(t *testing.T) {
	engine := newTestEngine(t, 8)
	mustConnect(t, engine, "c1")
	if _, err := engine.Connect("c1"); err != ErrDuplicateConnection {
		t.Fatalf("expected ErrDuplicateConnection, got %v", err)
	}
}

func TestDisconnectLeavesOtherMembershipsIntact(t *testing.T) {
	engine := newTestEngine(t, 8)
	ctx := context.Background()
	room := WorkspaceRoom("w1")

	leaving := mustConnect(t, engine, "c1")
	staying := mustConnect(t, engine, "c2")
	mustJoin(t, engine, "c1", room)
	mustJoin(t, engine, "c1", DocumentRoom("d1"))
	mustJoin(t, engine, "c2", room)
	if err := engine.RegisterConnection(ctx, "user-1", "c1"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	engine.Disconnect(ctx, "c1")

	if _, ok := <-leaving; ok {
		t.Fatal("expected disconnected stream to be closed")
	}
	if engine.IsMember("c1", room) || engine.IsMember("c1", DocumentRoom("d1")) {
		t.Fatal("expected disconnected connection to leave every room")
	}
	if !engine.IsMember("c2", room) {
		t.Fatal("expected other connection to keep its membership")
	}
	if _, ok, _ := engine.LookupConnection(ctx, "user-1"); ok {
		t.Fatal("expected presence entry to be removed")
	}
	engine.Broadcast(room, TaskDeleted{TaskID: "t2"})
	expectFrame(t, staying, EventTaskDeleted)
}

func TestDisconnectOfStaleConnectionKeepsNewerRegistration(t *testing.T) {
	engine := newTestEngine(t, 8)
	ctx := context.Background()
	mustConnect(t, engine, "c1")
	mustConnect(t, engine, "c2")
	if err := engine.RegisterConnection(ctx, "user-1", "c1"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := engine.RegisterConnection(ctx, "user-1", "c2"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	engine.Disconnect(ctx, "c1")

	connectionID, ok, err := engine.LookupConnection(ctx, "user-1")
	if err != nil || !ok || connectionID != "c2" {
		t.Fatalf("expected c2 to remain registered, got %q ok=%v err=%v", connectionID, ok, err)
	}
}

func TestUnregisteredConnectionIsNotVisible(t *testing.T) {
	engine := newTestEngine(t, 8)
	mustConnect(t, engine, "c1")
	if _, ok, err := engine.LookupConnection(context.Background(), "user-1"); ok || err != nil {
		t.Fatalf("expected no registration, got ok=%v err=%v", ok, err)
	}
}

func TestPushToMissingConnectionIsNoop(t *testing.T) {
	engine := newTestEngine(t, 8)
	if engine.PushToConnection("ghost", NewNotification{}) {
		t.Fatal("expected push to a missing connection to report false")
	}
}

func TestBroadcastPreservesOrderPerRoom(t *testing.T) {
	engine := newTestEngine(t, 64)
	room := WorkspaceRoom("w1")
	stream := mustConnect(t, engine, "c1")
	mustJoin(t, engine, "c1", room)

	for i := 0; i < 20; i++ {
		engine.Broadcast(room, MessageDeleted{MessageID: string(rune('a' + i))})
	}
	for i := 0; i < 20; i++ {
		frame := expectFrame(t, stream, EventMessageDeleted)
		var messageID string
		if err := json.Unmarshal(frame.Payload, &messageID); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if want := string(rune('a' + i)); messageID != want {
			t.Fatalf("frame %d: expected %s, got %s", i, want, messageID)
		}
	}
}

func TestFullQueueDropsFrameForSlowConsumerOnly(t *testing.T) {
	engine := newTestEngine(t, 1)
	room := WorkspaceRoom("w1")
	slow := mustConnect(t, engine, "slow")
	fast := mustConnect(t, engine, "fast")
	mustJoin(t, engine, "slow", room)
	mustJoin(t, engine, "fast", room)

	engine.Broadcast(room, TaskDeleted{TaskID: "t1"})
	expectFrame(t, fast, EventTaskDeleted)

	if delivered := engine.Broadcast(room, TaskDeleted{TaskID: "t2"}); delivered != 1 {
		t.Fatalf("expected only the fast consumer to receive the second frame, got %d", delivered)
	}
	expectFrame(t, fast, EventTaskDeleted)
	frame := expectFrame(t, slow, EventTaskDeleted)
	if string(frame.Payload) != `"t1"` {
		t.Fatalf("expected slow consumer to keep the first frame, got %s", string(frame.Payload))
	}
	expectNoFrame(t, slow)
}

func TestRefreshPresenceKeepsAttachedUserOnline(t *testing.T) {
	server := miniredis.RunT(t)
	client, err := presence.DialRedis(context.Background(), "redis://"+server.Addr())
	if err != nil {
		t.Fatalf("failed to dial miniredis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	engine, err := NewEngine(EngineConfig{
		Registry:   presence.NewRedisRegistry(client, presence.RedisConfig{TTL: time.Minute}),
		SendBuffer: 8,
	})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	ctx := context.Background()
	mustConnect(t, engine, "c1")
	if err := engine.RegisterConnection(ctx, "u1", "c1"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	for i := 0; i < 4; i++ {
		server.FastForward(30 * time.Second)
		if err := engine.RefreshPresence(ctx, "c1"); err != nil {
			t.Fatalf("refresh failed: %v", err)
		}
	}

	connectionID, ok, err := engine.LookupConnection(ctx, "u1")
	if err != nil || !ok || connectionID != "c1" {
		t.Fatalf("expected u1 online on c1 after refreshes, got %q ok=%v err=%v", connectionID, ok, err)
	}

	engine.Disconnect(ctx, "c1")
	if err := engine.RefreshPresence(ctx, "c1"); err != ErrUnknownConnection {
		t.Fatalf("expected ErrUnknownConnection after disconnect, got %v", err)
	}
}
