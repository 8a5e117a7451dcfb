package services

import (
	"sync"

	"learnhub/realtime-service/models"
	"learnhub/realtime-service/utils"
)

type SessionState string

const (
	SessionUnauthenticated SessionState = "unauthenticated"
	SessionAuthenticated   SessionState = "authenticated"
	SessionClosed          SessionState = "closed"
)

// Session is the server-side state of one physical connection.
type Session struct {
	Conn       Conn
	UserID     string
	ClientID   string
	ClientType string
	Legacy     bool
	State      SessionState
}

// Authenticated reports whether the session is bound to a user.
func (s Session) Authenticated() bool {
	return s.State == SessionAuthenticated
}

// SessionManager owns the mapping from a connection to its (user, client)
// pair and reconciles presence when the connection goes away.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session // connID -> session

	presence *PresenceRegistry
	rooms    *RoomRegistry
	gateway  *Gateway
	logger   *utils.Logger
}

func NewSessionManager(presence *PresenceRegistry, rooms *RoomRegistry, gateway *Gateway, logger *utils.Logger) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		presence: presence,
		rooms:    rooms,
		gateway:  gateway,
		logger:   logger.With("component", "sessions"),
	}
}

// LegacyClientID is the synthetic client id given to connections that
// authenticate without one.
func LegacyClientID(connID string) string {
	return "legacy:" + connID
}

// Open registers a new anonymous connection.
func (m *SessionManager) Open(conn Conn) {
	m.mu.Lock()
	m.sessions[conn.ID()] = &Session{Conn: conn, State: SessionUnauthenticated}
	m.mu.Unlock()

	m.gateway.Attach(conn)
	m.logger.Debug("Connection opened", "conn_id", conn.ID())
}

// Authenticate binds the connection to auth's (user, client) pair. A
// connection that re-authenticates as a different pair releases its old
// binding once the new one is in place.
func (m *SessionManager) Authenticate(conn Conn, auth models.AuthPayload) Session {
	clientID := auth.ClientID
	if clientID == "" {
		clientID = LegacyClientID(conn.ID())
	}

	m.mu.Lock()
	sess, ok := m.sessions[conn.ID()]
	if !ok {
		sess = &Session{Conn: conn}
		m.sessions[conn.ID()] = sess
	}
	prev := *sess
	sess.UserID = auth.UserID
	sess.ClientID = clientID
	sess.ClientType = auth.ClientType
	sess.Legacy = auth.Legacy || auth.ClientID == ""
	sess.State = SessionAuthenticated
	current := *sess
	m.mu.Unlock()

	if !ok {
		m.gateway.Attach(conn)
	}

	// Bind before releasing the old pair so a user switching client ids on
	// this connection never passes through zero clients.
	m.presence.Bind(current.UserID, current.ClientID, conn)
	if prev.Authenticated() && (prev.UserID != current.UserID || prev.ClientID != current.ClientID) {
		m.presence.UnbindOwned(prev.UserID, prev.ClientID, conn)
	}

	m.logger.Info("Connection authenticated",
		"conn_id", conn.ID(),
		"user_id", current.UserID,
		"client_id", current.ClientID,
		"client_type", current.ClientType,
		"legacy", current.Legacy,
	)
	return current
}

// Lookup returns a snapshot of the connection's session.
func (m *SessionManager) Lookup(conn Conn) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[conn.ID()]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Count is the number of open sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close tears the connection down: it leaves every room, stops receiving
// broadcasts and releases its presence binding. Connections whose pair is
// unknown are found by scanning the registry for their handle.
func (m *SessionManager) Close(conn Conn) {
	m.mu.Lock()
	sess, ok := m.sessions[conn.ID()]
	var snapshot Session
	if ok {
		snapshot = *sess
		sess.State = SessionClosed
		delete(m.sessions, conn.ID())
	}
	m.mu.Unlock()

	left := m.rooms.LeaveAll(conn)
	m.gateway.Detach(conn)

	if ok && snapshot.Authenticated() {
		m.presence.UnbindOwned(snapshot.UserID, snapshot.ClientID, conn)
	} else {
		for _, b := range m.presence.UnbindConn(conn) {
			m.logger.Info("Released orphaned binding", "conn_id", conn.ID(), "user_id", b.UserID, "client_id", b.ClientID)
		}
	}

	m.logger.Debug("Connection closed", "conn_id", conn.ID(), "user_id", snapshot.UserID, "rooms_left", left)
}
