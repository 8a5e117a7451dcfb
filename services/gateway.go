package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"learnhub/realtime-service/models"
	"learnhub/realtime-service/utils"
)

// FanoutPublisher forwards a fan-out to the other service instances.
type FanoutPublisher interface {
	Publish(ctx context.Context, f Fanout) error
}

// Gateway delivers outbound events to connected clients. Delivery is best
// effort: a failed write is logged and never retried.
type Gateway struct {
	presence *PresenceRegistry
	rooms    *RoomRegistry

	mu    sync.RWMutex
	conns map[string]Conn

	relay  FanoutPublisher
	logger *utils.Logger
}

func NewGateway(presence *PresenceRegistry, rooms *RoomRegistry, logger *utils.Logger) *Gateway {
	g := &Gateway{
		presence: presence,
		rooms:    rooms,
		conns:    make(map[string]Conn),
		logger:   logger.With("component", "gateway"),
	}

	presence.OnStatusChange(func(userID string, status models.PresenceStatus) {
		g.BroadcastAll(models.EventUserStatusChanged, models.UserStatusChanged{
			UserID: userID,
			Status: status,
		})
	})

	return g
}

// SetRelay enables cross-instance fan-out.
func (g *Gateway) SetRelay(relay FanoutPublisher) {
	g.relay = relay
}

// Attach registers a connection for global broadcasts.
func (g *Gateway) Attach(conn Conn) {
	g.mu.Lock()
	g.conns[conn.ID()] = conn
	g.mu.Unlock()
}

// Detach forgets a connection.
func (g *Gateway) Detach(conn Conn) {
	g.mu.Lock()
	delete(g.conns, conn.ID())
	g.mu.Unlock()
}

// ConnectionCount is the number of attached connections on this instance.
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// Send delivers an event to a single connection.
func (g *Gateway) Send(conn Conn, event string, payload interface{}) error {
	if err := conn.Send(event, payload); err != nil {
		g.logger.Warn("Delivery failed", "conn_id", conn.ID(), "event", event, "error", err)
		return err
	}
	return nil
}

// ToRoom delivers to every connection joined to the conversation's room.
func (g *Gateway) ToRoom(conversationID, event string, payload interface{}) int {
	return g.ToRoomExcept(conversationID, nil, event, payload)
}

// ToRoomExcept delivers to the room, skipping except.
func (g *Gateway) ToRoomExcept(conversationID string, except Conn, event string, payload interface{}) int {
	exceptID := ""
	if except != nil {
		exceptID = except.ID()
	}

	n := g.deliverRoom(conversationID, exceptID, event, payload)
	g.publish(Fanout{Scope: FanoutRoom, Target: conversationID, Event: event}, payload)
	return n
}

// ToUser delivers to every device of the user. Returns whether the user had
// at least one delivery target.
func (g *Gateway) ToUser(userID, event string, payload interface{}) bool {
	n := g.deliverUser(userID, event, payload)
	if g.relay == nil {
		return n > 0
	}

	g.publish(Fanout{Scope: FanoutUser, Target: userID, Event: event}, payload)
	return n > 0 || g.presence.IsOnline(userID)
}

// BroadcastAll delivers to every connected client regardless of state.
func (g *Gateway) BroadcastAll(event string, payload interface{}) int {
	n := g.deliverAll(event, payload)
	g.publish(Fanout{Scope: FanoutAll, Event: event}, payload)
	return n
}

// EmitNotification broadcasts a notification banner and its sound cue to
// everyone. User-scoped delivery goes through ToUser instead.
func (g *Gateway) EmitNotification(notification interface{}) {
	g.BroadcastAll(models.EventNewNotification, notification)
	g.BroadcastAll(models.EventPlayNotificationSound, struct{}{})
	g.logger.Debug("Notification and sound emitted")
}

// DeliverFanout performs only the local part of a fan-out received from
// another instance.
func (g *Gateway) DeliverFanout(f Fanout) int {
	switch f.Scope {
	case FanoutRoom:
		return g.deliverRoom(f.Target, "", f.Event, f.Payload)
	case FanoutUser:
		return g.deliverUser(f.Target, f.Event, f.Payload)
	case FanoutAll:
		return g.deliverAll(f.Event, f.Payload)
	default:
		g.logger.Warn("Unknown fan-out scope", "scope", f.Scope)
		return 0
	}
}

func (g *Gateway) deliverRoom(conversationID, exceptID, event string, payload interface{}) int {
	var n int
	for _, c := range g.rooms.Members(conversationID) {
		if c.ID() == exceptID {
			continue
		}
		if g.Send(c, event, payload) == nil {
			n++
		}
	}
	return n
}

func (g *Gateway) deliverUser(userID, event string, payload interface{}) int {
	var n int
	for _, c := range g.presence.Connections(userID) {
		if g.Send(c, event, payload) == nil {
			n++
		}
	}
	return n
}

func (g *Gateway) deliverAll(event string, payload interface{}) int {
	g.mu.RLock()
	conns := make([]Conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.RUnlock()

	var n int
	for _, c := range conns {
		if g.Send(c, event, payload) == nil {
			n++
		}
	}
	return n
}

func (g *Gateway) publish(f Fanout, payload interface{}) {
	if g.relay == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		g.logger.Error("Failed to encode fan-out payload", "event", f.Event, "error", err)
		return
	}
	f.Payload = data

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.relay.Publish(ctx, f); err != nil {
		g.logger.Warn("Failed to publish fan-out", "event", f.Event, "scope", f.Scope, "error", err)
	}
}
