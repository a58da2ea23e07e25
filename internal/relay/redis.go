package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	eventMemberJoined = "relay:member-joined"
	eventMemberLeft   = "relay:member-left"

	heartbeatsPerTTL = 3

	opTimeout = 5 * time.Second
)

// envelope - the wire format of every published message.
type envelope struct {
	Sender  string          `json:"sender"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type memberPayload struct {
	ID string `json:"id"`
}

// Redis - a presence relay over Redis pub/sub. Membership lives in a set per
// channel; each member keeps a heartbeat key alive so abruptly vanished
// members are reaped and surface as member-left to the survivors.
type Redis struct {
	logger *slog.Logger
	client *redis.Client

	prefix            string
	heartbeatInterval time.Duration
}

func NewRedis(logger *slog.Logger, client *redis.Client, prefix string, heartbeatInterval time.Duration) *Redis {
	return &Redis{
		logger: logger.With("component", "relay"),
		client: client,

		prefix:            prefix,
		heartbeatInterval: heartbeatInterval,
	}
}

func (that *Redis) topicKey(channel string) string {
	return fmt.Sprintf("%s:chan:%s", that.prefix, channel)
}

func (that *Redis) membersKey(channel string) string {
	return fmt.Sprintf("%s:presence:%s:members", that.prefix, channel)
}

func (that *Redis) heartbeatKey(channel, member string) string {
	return fmt.Sprintf("%s:presence:%s:hb:%s", that.prefix, channel, member)
}

func (that *Redis) heartbeatTTL() time.Duration {
	return heartbeatsPerTTL * that.heartbeatInterval
}

// Subscribe - joins the named channel under a freshly assigned member id,
// delivers the membership snapshot and starts event dispatch.
func (that *Redis) Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error) {
	memberID := uuid.NewString()
	log := that.logger.With("channel", channel, "member", memberID)

	pubsub := that.client.Subscribe(ctx, that.topicKey(channel))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to channel %s: %w", channel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		relay:    that,
		logger:   log,
		channel:  channel,
		memberID: memberID,
		handler:  handler,
		pubsub:   pubsub,
		ctx:      subCtx,
		cancel:   cancel,
	}

	if err := sub.announce(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, err
	}

	members, err := that.client.SMembers(ctx, that.membersKey(channel)).Result()
	if err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to read channel members: %w", err)
	}

	go sub.loop(members)

	log.Debug("subscribed", "members", len(members))

	return sub, nil
}

type subscription struct {
	relay  *Redis
	logger *slog.Logger

	channel  string
	memberID string
	handler  Handler
	pubsub   *redis.PubSub

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func (that *subscription) MemberID() string {
	return that.memberID
}

func (that *subscription) Broadcast(ctx context.Context, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	return that.publish(ctx, envelope{
		Sender:  that.memberID,
		Event:   event,
		Payload: raw,
	})
}

func (that *subscription) Unsubscribe(ctx context.Context) error {
	var err error

	that.once.Do(func() {
		that.cancel()

		removed, remErr := that.relay.client.SRem(ctx, that.relay.membersKey(that.channel), that.memberID).Result()
		if remErr != nil {
			err = fmt.Errorf("failed to remove member: %w", remErr)
			return
		}

		if delErr := that.relay.client.Del(ctx, that.relay.heartbeatKey(that.channel, that.memberID)).Err(); delErr != nil {
			that.logger.Error("failed to delete heartbeat key", "error", delErr)
		}

		if removed > 0 {
			if pubErr := that.announceLeft(ctx, that.memberID); pubErr != nil {
				that.logger.Error("failed to announce departure", "error", pubErr)
			}
		}

		if closeErr := that.pubsub.Close(); closeErr != nil {
			that.logger.Error("failed to close pubsub", "error", closeErr)
		}
	})

	return err
}

// announce - makes the member visible to the channel.
func (that *subscription) announce(ctx context.Context) error {
	relay := that.relay

	pipe := relay.client.TxPipeline()
	pipe.SAdd(ctx, relay.membersKey(that.channel), that.memberID)
	pipe.Set(ctx, relay.heartbeatKey(that.channel, that.memberID), "1", relay.heartbeatTTL())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to announce member: %w", err)
	}

	payload, err := json.Marshal(memberPayload{ID: that.memberID})
	if err != nil {
		return fmt.Errorf("failed to marshal member payload: %w", err)
	}

	return that.publish(ctx, envelope{
		Sender:  that.memberID,
		Event:   eventMemberJoined,
		Payload: payload,
	})
}

func (that *subscription) announceLeft(ctx context.Context, memberID string) error {
	payload, err := json.Marshal(memberPayload{ID: memberID})
	if err != nil {
		return fmt.Errorf("failed to marshal member payload: %w", err)
	}

	return that.publish(ctx, envelope{
		Sender:  that.memberID,
		Event:   eventMemberLeft,
		Payload: payload,
	})
}

func (that *subscription) publish(ctx context.Context, env envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err = that.relay.client.Publish(ctx, that.relay.topicKey(that.channel), raw).Err(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	return nil
}

// loop - the single dispatch goroutine of this subscription. Every handler
// invocation, the membership snapshot included, happens here.
func (that *subscription) loop(snapshot []string) {
	that.handler.OnMembershipReady(snapshot)

	messages := that.pubsub.Channel()

	ticker := time.NewTicker(that.relay.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-that.ctx.Done():
			return

		case msg, ok := <-messages:
			if !ok {
				return
			}
			that.dispatch([]byte(msg.Payload))

		case <-ticker.C:
			that.refreshHeartbeat()
			that.reapExpired()
		}
	}
}

func (that *subscription) dispatch(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		that.logger.Error("failed to unmarshal envelope", "error", err)
		return
	}

	// A member never observes its own broadcasts.
	if env.Sender == that.memberID {
		return
	}

	switch env.Event {
	case eventMemberJoined, eventMemberLeft:
		var member memberPayload
		if err := json.Unmarshal(env.Payload, &member); err != nil {
			that.logger.Error("failed to unmarshal member payload", "error", err)
			return
		}
		if member.ID == that.memberID {
			return
		}
		if env.Event == eventMemberJoined {
			that.handler.OnMemberJoined(member.ID)
		} else {
			that.handler.OnMemberLeft(member.ID)
		}
	default:
		that.handler.OnEvent(env.Event, env.Payload)
	}
}

func (that *subscription) refreshHeartbeat() {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	relay := that.relay
	key := relay.heartbeatKey(that.channel, that.memberID)
	if err := relay.client.Set(ctx, key, "1", relay.heartbeatTTL()).Err(); err != nil {
		that.logger.Error("failed to refresh heartbeat", "error", err)
	}
}

// reapExpired - removes members whose heartbeat key expired and announces
// their departure. SRem guards against two survivors announcing the same
// member twice.
func (that *subscription) reapExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	relay := that.relay

	members, err := relay.client.SMembers(ctx, relay.membersKey(that.channel)).Result()
	if err != nil {
		that.logger.Error("failed to list members", "error", err)
		return
	}

	for _, member := range members {
		if member == that.memberID {
			continue
		}

		alive, err := relay.client.Exists(ctx, relay.heartbeatKey(that.channel, member)).Result()
		if err != nil {
			that.logger.Error("failed to check heartbeat", "member", member, "error", err)
			continue
		}
		if alive > 0 {
			continue
		}

		removed, err := relay.client.SRem(ctx, relay.membersKey(that.channel), member).Result()
		if err != nil {
			that.logger.Error("failed to remove expired member", "member", member, "error", err)
			continue
		}

		if removed > 0 {
			that.logger.Info("reaped expired member", "member", member)
			if err = that.announceLeft(ctx, member); err != nil {
				that.logger.Error("failed to announce reaped member", "member", member, "error", err)
			}
			// The published announcement carries this member as its sender and
			// would be skipped by our own dispatch, so deliver it locally. Runs
			// on the dispatch goroutine, same as every other handler call.
			that.handler.OnMemberLeft(member)
		}
	}
}
