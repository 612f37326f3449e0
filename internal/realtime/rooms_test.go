package realtime

import "testing"

func TestRoomsJoinIsIdempotent(t *testing.T) {
	rooms := NewRooms()
	room := WorkspaceRoom("w1")
	rooms.Join("c1", room)
	rooms.Join("c1", room)
	if size := rooms.Size(room); size != 1 {
		t.Fatalf("expected 1 member, got %d", size)
	}
}

func TestRoomsLeaveAbsentIsNoop(t *testing.T) {
	rooms := NewRooms()
	rooms.Leave("c1", WorkspaceRoom("w1"))
	if members := rooms.Members(WorkspaceRoom("w1")); len(members) != 0 {
		t.Fatalf("expected no members, got %v", members)
	}
}

func TestRoomsLeaveAllReturnsLeftRooms(t *testing.T) {
	rooms := NewRooms()
	rooms.Join("c1", WorkspaceRoom("w1"))
	rooms.Join("c1", DocumentRoom("d1"))
	rooms.Join("c2", WorkspaceRoom("w1"))

	left := rooms.LeaveAll("c1")
	if len(left) != 2 || left[0] != DocumentRoom("d1") || left[1] != WorkspaceRoom("w1") {
		t.Fatalf("unexpected rooms left: %v", left)
	}
	if len(rooms.RoomsOf("c1")) != 0 {
		t.Fatal("expected c1 to have no rooms")
	}
	members := rooms.Members(WorkspaceRoom("w1"))
	if len(members) != 1 || members[0] != "c2" {
		t.Fatalf("expected c2 to remain, got %v", members)
	}
}
