package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"learnhub/realtime-service/models"
	"learnhub/realtime-service/utils"
)

// StatusListener is told about online/offline transitions of a user.
type StatusListener func(userID string, status models.PresenceStatus)

// PresenceMirror shares presence across service instances.
type PresenceMirror interface {
	Add(ctx context.Context, userID, clientID string) error
	Remove(ctx context.Context, userID, clientID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	OnlineUsers(ctx context.Context) ([]string, error)
	Refresh(ctx context.Context, userIDs []string) error
}

// PresenceRegistry tracks which users are connected and through which
// device connections. A user is online iff at least one client is bound.
//
// transitionMu is taken before mu and held until listeners return, so
// listeners see transitions in the order they were applied. Listeners must
// not bind or unbind.
type PresenceRegistry struct {
	transitionMu sync.Mutex

	mu    sync.RWMutex
	users map[string]map[string]Conn // userID -> clientID -> conn

	listenerMu sync.RWMutex
	listeners  []StatusListener

	mirror        PresenceMirror
	mirrorTimeout time.Duration
	logger        *utils.Logger
}

func NewPresenceRegistry(logger *utils.Logger) *PresenceRegistry {
	return &PresenceRegistry{
		users:         make(map[string]map[string]Conn),
		mirrorTimeout: 2 * time.Second,
		logger:        logger.With("component", "presence"),
	}
}

// SetMirror attaches a cross-instance presence store. Must be called before
// connections are accepted.
func (pr *PresenceRegistry) SetMirror(mirror PresenceMirror) {
	pr.mirror = mirror
}

// OnStatusChange registers a listener for online/offline transitions.
func (pr *PresenceRegistry) OnStatusChange(listener StatusListener) {
	pr.listenerMu.Lock()
	pr.listeners = append(pr.listeners, listener)
	pr.listenerMu.Unlock()
}

// Bind registers conn as the connection of (userID, clientID). Re-binding
// the same pair replaces the handle. Returns true when this was the user's
// first client, in which case an online transition is emitted.
func (pr *PresenceRegistry) Bind(userID, clientID string, conn Conn) bool {
	pr.transitionMu.Lock()
	defer pr.transitionMu.Unlock()

	pr.mu.Lock()
	clients, ok := pr.users[userID]
	if !ok {
		clients = make(map[string]Conn)
		pr.users[userID] = clients
	}
	clients[clientID] = conn
	first := !ok
	pr.mu.Unlock()

	pr.mirrorAdd(userID, clientID)

	if first {
		pr.logger.Info("User online", "user_id", userID, "client_id", clientID)
		pr.notify(userID, models.StatusOnline)
	} else {
		pr.logger.Debug("Additional client bound", "user_id", userID, "client_id", clientID)
	}
	return first
}

// Unbind removes one device binding regardless of its handle. Returns true
// when the user went offline.
func (pr *PresenceRegistry) Unbind(userID, clientID string) bool {
	_, last := pr.unbind(userID, clientID, nil)
	return last
}

// UnbindOwned removes the binding only if it still points at conn, so a
// connection that was superseded by a re-bind cannot evict its successor.
func (pr *PresenceRegistry) UnbindOwned(userID, clientID string, conn Conn) bool {
	_, last := pr.unbind(userID, clientID, conn)
	return last
}

// unbind reports whether a binding was removed and whether it was the
// user's last one.
func (pr *PresenceRegistry) unbind(userID, clientID string, owner Conn) (removed, last bool) {
	pr.transitionMu.Lock()
	defer pr.transitionMu.Unlock()

	pr.mu.Lock()
	clients, ok := pr.users[userID]
	if !ok {
		pr.mu.Unlock()
		return false, false
	}
	current, bound := clients[clientID]
	if !bound || (owner != nil && current != owner) {
		pr.mu.Unlock()
		return false, false
	}
	delete(clients, clientID)
	last = len(clients) == 0
	if last {
		delete(pr.users, userID)
	}
	pr.mu.Unlock()

	pr.mirrorRemove(userID, clientID)

	if last {
		pr.logger.Info("User offline", "user_id", userID)
		pr.notify(userID, models.StatusOffline)
	}
	return true, last
}

// UnbindConn scans every binding for conn and removes each match. It backs
// disconnect cleanup for connections whose pair was never recorded.
func (pr *PresenceRegistry) UnbindConn(conn Conn) []models.Binding {
	pr.mu.RLock()
	var matches []models.Binding
	for userID, clients := range pr.users {
		for clientID, c := range clients {
			if c == conn {
				matches = append(matches, models.Binding{UserID: userID, ClientID: clientID})
			}
		}
	}
	pr.mu.RUnlock()

	var removed []models.Binding
	for _, b := range matches {
		if ok, _ := pr.unbind(b.UserID, b.ClientID, conn); ok {
			removed = append(removed, b)
		}
	}
	return removed
}

// IsOnline reports whether the user has a live connection on this instance
// or, with a mirror, on any instance.
func (pr *PresenceRegistry) IsOnline(userID string) bool {
	if pr.IsLocallyOnline(userID) {
		return true
	}
	if pr.mirror == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), pr.mirrorTimeout)
	defer cancel()
	online, err := pr.mirror.IsOnline(ctx, userID)
	if err != nil {
		pr.logger.Warn("Presence mirror lookup failed", "user_id", userID, "error", err)
		return false
	}
	return online
}

// IsLocallyOnline ignores the mirror.
func (pr *PresenceRegistry) IsLocallyOnline(userID string) bool {
	pr.mu.RLock()
	defer pr.mu.RUnlock()
	return len(pr.users[userID]) > 0
}

// Connections returns every connection bound to the user on this instance.
func (pr *PresenceRegistry) Connections(userID string) []Conn {
	pr.mu.RLock()
	defer pr.mu.RUnlock()

	clients := pr.users[userID]
	conns := make([]Conn, 0, len(clients))
	for _, c := range clients {
		conns = append(conns, c)
	}
	return conns
}

// Clients returns the sorted client ids bound for the user on this instance.
func (pr *PresenceRegistry) Clients(userID string) []string {
	pr.mu.RLock()
	defer pr.mu.RUnlock()

	ids := make([]string, 0, len(pr.users[userID]))
	for id := range pr.users[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OnlineUsers lists online users, merged with the mirror when present.
func (pr *PresenceRegistry) OnlineUsers(ctx context.Context) []string {
	seen := make(map[string]struct{})

	pr.mu.RLock()
	for userID := range pr.users {
		seen[userID] = struct{}{}
	}
	pr.mu.RUnlock()

	if pr.mirror != nil {
		remote, err := pr.mirror.OnlineUsers(ctx)
		if err != nil {
			pr.logger.Warn("Presence mirror listing failed", "error", err)
		}
		for _, userID := range remote {
			seen[userID] = struct{}{}
		}
	}

	users := make([]string, 0, len(seen))
	for userID := range seen {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// RefreshMirror extends the TTL of every locally online user in the mirror.
func (pr *PresenceRegistry) RefreshMirror(ctx context.Context) error {
	if pr.mirror == nil {
		return nil
	}

	pr.mu.RLock()
	users := make([]string, 0, len(pr.users))
	for userID := range pr.users {
		users = append(users, userID)
	}
	pr.mu.RUnlock()

	return pr.mirror.Refresh(ctx, users)
}

func (pr *PresenceRegistry) notify(userID string, status models.PresenceStatus) {
	pr.listenerMu.RLock()
	listeners := append([]StatusListener(nil), pr.listeners...)
	pr.listenerMu.RUnlock()

	for _, l := range listeners {
		l(userID, status)
	}
}

func (pr *PresenceRegistry) mirrorAdd(userID, clientID string) {
	if pr.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), pr.mirrorTimeout)
	defer cancel()
	if err := pr.mirror.Add(ctx, userID, clientID); err != nil {
		pr.logger.Warn("Presence mirror add failed", "user_id", userID, "client_id", clientID, "error", err)
	}
}

func (pr *PresenceRegistry) mirrorRemove(userID, clientID string) {
	if pr.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), pr.mirrorTimeout)
	defer cancel()
	if err := pr.mirror.Remove(ctx, userID, clientID); err != nil {
		pr.logger.Warn("Presence mirror remove failed", "user_id", userID, "client_id", clientID, "error", err)
	}
}
