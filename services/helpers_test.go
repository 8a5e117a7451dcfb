package services

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"learnhub/realtime-service/utils"
)

type sentEvent struct {
	Event   string
	Payload interface{}
}

// fakeConn records what the gateway sends to it.
type fakeConn struct {
	id   string
	fail bool

	mu     sync.Mutex
	events []sentEvent
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string {
	return c.id
}

func (c *fakeConn) Send(event string, payload interface{}) error {
	if c.fail {
		return errors.New("broken pipe")
	}
	c.mu.Lock()
	c.events = append(c.events, sentEvent{Event: event, Payload: payload})
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) received(event string) []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []interface{}
	for _, e := range c.events {
		if e.Event == event {
			out = append(out, e.Payload)
		}
	}
	return out
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// realtime wires the in-process core the way main does.
type realtime struct {
	presence   *PresenceRegistry
	rooms      *RoomRegistry
	gateway    *Gateway
	sessions   *SessionManager
	store      *MemoryStore
	dispatcher *Dispatcher
}

func newRealtime(enforce bool) *realtime {
	logger := utils.NewNopLogger()
	presence := NewPresenceRegistry(logger)
	rooms := NewRoomRegistry()
	gateway := NewGateway(presence, rooms, logger)
	sessions := NewSessionManager(presence, rooms, gateway, logger)
	store := NewMemoryStore()
	dispatcher := NewDispatcher(sessions, rooms, presence, gateway, store, DispatcherConfig{EnforceParticipants: enforce}, logger)

	return &realtime{
		presence:   presence,
		rooms:      rooms,
		gateway:    gateway,
		sessions:   sessions,
		store:      store,
		dispatcher: dispatcher,
	}
}
