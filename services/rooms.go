package services

import "sync"

// RoomRegistry maps a conversation id to the connections joined to it.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Conn // conversationID -> connID -> conn
	joins map[string]map[string]struct{} // connID -> conversationIDs
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[string]map[string]Conn),
		joins: make(map[string]map[string]struct{}),
	}
}

// Join adds conn to the room. Returns false if it was already a member.
func (r *RoomRegistry) Join(conversationID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[conversationID]
	if !ok {
		members = make(map[string]Conn)
		r.rooms[conversationID] = members
	}
	if _, already := members[conn.ID()]; already {
		return false
	}
	members[conn.ID()] = conn

	joined, ok := r.joins[conn.ID()]
	if !ok {
		joined = make(map[string]struct{})
		r.joins[conn.ID()] = joined
	}
	joined[conversationID] = struct{}{}
	return true
}

// Leave removes conn from the room. Returns false if it was not a member.
func (r *RoomRegistry) Leave(conversationID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(conversationID, conn.ID())
}

func (r *RoomRegistry) leaveLocked(conversationID, connID string) bool {
	members, ok := r.rooms[conversationID]
	if !ok {
		return false
	}
	if _, member := members[connID]; !member {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, conversationID)
	}

	if joined, ok := r.joins[connID]; ok {
		delete(joined, conversationID)
		if len(joined) == 0 {
			delete(r.joins, connID)
		}
	}
	return true
}

// LeaveAll removes conn from every room and returns how many it left.
func (r *RoomRegistry) LeaveAll(conn Conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left int
	for conversationID := range r.joins[conn.ID()] {
		if r.leaveLocked(conversationID, conn.ID()) {
			left++
		}
	}
	return left
}

// Members returns a snapshot of the room's connections.
func (r *RoomRegistry) Members(conversationID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[conversationID]
	conns := make([]Conn, 0, len(members))
	for _, c := range members {
		conns = append(conns, c)
	}
	return conns
}

// IsMember reports whether conn has joined the room.
func (r *RoomRegistry) IsMember(conversationID string, conn Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[conversationID][conn.ID()]
	return ok
}
