package realtime

import (
	"sort"
	"strings"
	"sync"
)

// ConnectionID identifies one live socket. It exists only while the socket is open.
type ConnectionID string

// RoomName identifies a broadcast group.
type RoomName string

const (
	workspaceRoomPrefix = "workspace:"
	documentRoomPrefix  = "document:"
)

// WorkspaceRoom names the room used for a workspace's chat and task events.
func WorkspaceRoom(workspaceID string) RoomName {
	return RoomName(workspaceRoomPrefix + strings.TrimSpace(workspaceID))
}

// DocumentRoom names the room used for a document's edit relay.
func DocumentRoom(documentID string) RoomName {
	return RoomName(documentRoomPrefix + strings.TrimSpace(documentID))
}

// Rooms is the membership relation between connections and rooms.
// It knows nothing about users; presence is tracked separately.
type Rooms struct {
	mu      sync.RWMutex
	members map[RoomName]map[ConnectionID]struct{}
	joined  map[ConnectionID]map[RoomName]struct{}
}

// NewRooms returns an empty membership table.
func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[RoomName]map[ConnectionID]struct{}),
		joined:  make(map[ConnectionID]map[RoomName]struct{}),
	}
}

// Join adds the membership. Repeated joins are no-ops.
func (r *Rooms) Join(connectionID ConnectionID, room RoomName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[room]; !ok {
		r.members[room] = make(map[ConnectionID]struct{})
	}
	r.members[room][connectionID] = struct{}{}
	if _, ok := r.joined[connectionID]; !ok {
		r.joined[connectionID] = make(map[RoomName]struct{})
	}
	r.joined[connectionID][room] = struct{}{}
}

// Leave removes the membership. Leaving a room the connection is not in is a no-op.
func (r *Rooms) Leave(connectionID ConnectionID, room RoomName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connectionID, room)
}

// LeaveAll removes every membership of the connection and returns the rooms it left.
func (r *Rooms) LeaveAll(connectionID ConnectionID) []RoomName {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms := make([]RoomName, 0, len(r.joined[connectionID]))
	for room := range r.joined[connectionID] {
		rooms = append(rooms, room)
	}
	for _, room := range rooms {
		r.leaveLocked(connectionID, room)
	}
	sortRooms(rooms)
	return rooms
}

func (r *Rooms) leaveLocked(connectionID ConnectionID, room RoomName) {
	if members, ok := r.members[room]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(r.members, room)
		}
	}
	if rooms, ok := r.joined[connectionID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.joined, connectionID)
		}
	}
}

// Members returns the connections currently joined to room, sorted.
func (r *Rooms) Members(room RoomName) []ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := make([]ConnectionID, 0, len(r.members[room]))
	for connectionID := range r.members[room] {
		members = append(members, connectionID)
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members
}

// Size returns the number of connections joined to room.
func (r *Rooms) Size(room RoomName) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members[room])
}

// IsMember reports whether the connection is joined to room.
func (r *Rooms) IsMember(connectionID ConnectionID, room RoomName) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[room][connectionID]
	return ok
}

// RoomsOf returns the rooms the connection has joined, sorted.
func (r *Rooms) RoomsOf(connectionID ConnectionID) []RoomName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]RoomName, 0, len(r.joined[connectionID]))
	for room := range r.joined[connectionID] {
		rooms = append(rooms, room)
	}
	sortRooms(rooms)
	return rooms
}

func sortRooms(rooms []RoomName) {
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
}
