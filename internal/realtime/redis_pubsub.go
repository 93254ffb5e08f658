package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "conference:"
	publishTimeout = 5 * time.Second

	// Broadcast scopes within a conference channel.
	scopeConference = "conference"
	scopeHost       = "host"
)

// redisPayload is the message published to Redis for cross-instance broadcast.
type redisPayload struct {
	Event  string          `json:"event"`
	Scope  string          `json:"scope"`
	Data   json.RawMessage `json:"data"`
	Origin string          `json:"origin"`
	At     int64           `json:"at"`
}

// RedisPubSub bridges conference room events across instances via Redis
// pub/sub. Each instance tags messages with its origin ID and drops its own
// on receipt, so local clients never see duplicates.
type RedisPubSub struct {
	client   *redis.Client
	instance string
	logger   *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for conference events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	return &RedisPubSub{client: client, instance: uuid.New().String(), logger: logger}
}

// PublishConferenceEvent publishes an event to the conference's Redis channel.
func (r *RedisPubSub) PublishConferenceEvent(conferenceID uuid.UUID, scope, event string, payload []byte) error {
	channel := channelPrefix + conferenceID.String()
	body, err := json.Marshal(redisPayload{Event: event, Scope: scope, Data: payload, Origin: r.instance, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, channel, body).Err()
}

// SubscribeConference subscribes to a conference's Redis channel and calls
// handler for each message from another instance.
// Returns a cancel function to stop the subscription.
func (r *RedisPubSub) SubscribeConference(conferenceID uuid.UUID, handler func(scope, event string, payload []byte)) (cancel func(), err error) {
	channel := channelPrefix + conferenceID.String()
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channel)
	_, err = pubsub.Receive(ctx)
	if err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p redisPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					continue
				}
				if p.Origin == r.instance {
					continue
				}
				handler(p.Scope, p.Event, p.Data)
			}
		}
	}()
	cancel = func() { cancelCtx() }
	return cancel, nil
}
