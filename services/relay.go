package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"learnhub/realtime-service/utils"
)

const fanoutChannel = "realtime:fanout"

type FanoutScope string

const (
	FanoutRoom FanoutScope = "room"
	FanoutUser FanoutScope = "user"
	FanoutAll  FanoutScope = "all"
)

// Fanout is a delivery instruction shared between instances over Redis
// pub/sub.
type Fanout struct {
	Origin  string          `json:"origin"`
	Scope   FanoutScope     `json:"scope"`
	Target  string          `json:"target,omitempty"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Relay publishes local fan-outs and replays the fan-outs of other instances
// to this instance's connections.
type Relay struct {
	redis      *redis.Client
	gateway    *Gateway
	instanceID string
	logger     *utils.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ready  chan struct{}
}

func NewRelay(redisClient *redis.Client, gateway *Gateway, instanceID string, logger *utils.Logger) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		redis:      redisClient,
		gateway:    gateway,
		instanceID: instanceID,
		logger:     logger.With("component", "relay"),
		ctx:        ctx,
		cancel:     cancel,
		ready:      make(chan struct{}),
	}
}

// Publish sends a fan-out to every other instance.
func (r *Relay) Publish(ctx context.Context, f Fanout) error {
	f.Origin = r.instanceID
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode fan-out: %w", err)
	}
	if err := r.redis.Publish(ctx, fanoutChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish fan-out: %w", err)
	}
	return nil
}

// Start subscribes to the fan-out channel.
func (r *Relay) Start() {
	r.logger.Info("Starting relay", "instance_id", r.instanceID)
	r.wg.Add(1)
	go r.eventListener()
}

// Ready is closed once the subscription is confirmed.
func (r *Relay) Ready() <-chan struct{} {
	return r.ready
}

// Stop ends the subscription and waits for the listener to exit.
func (r *Relay) Stop() {
	r.cancel()
	r.wg.Wait()
	r.logger.Info("Relay stopped")
}

func (r *Relay) eventListener() {
	defer r.wg.Done()

	pubsub := r.redis.Subscribe(r.ctx, fanoutChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(r.ctx); err != nil {
		if r.ctx.Err() == nil {
			r.logger.Error("Relay subscription failed", "error", err)
		}
		return
	}
	close(r.ready)

	ch := pubsub.Channel()
	for {
		select {
		case <-r.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handleEvent(msg.Payload)
		}
	}
}

func (r *Relay) handleEvent(payload string) {
	var f Fanout
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		r.logger.Error("Failed to parse fan-out", "error", err)
		return
	}

	if f.Origin == r.instanceID {
		return
	}

	n := r.gateway.DeliverFanout(f)
	r.logger.Debug("Relayed fan-out", "origin", f.Origin, "scope", f.Scope, "event", f.Event, "delivered", n)
}
