// Package relaytest provides an in-memory relay for tests: same contract as
// the Redis relay, no network, deterministic member ids in join order.
package relaytest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rocketscienceinc/tictactoe-relay/internal/relay"
)

type eventKind int

const (
	kindSnapshot eventKind = iota
	kindJoined
	kindLeft
	kindMessage
)

type event struct {
	kind    eventKind
	members []string
	member  string
	name    string
	data    []byte
}

// Relay - an in-process relay.Relay. Every subscription gets its own dispatch
// goroutine, so handler calls behave like the real transport: asynchronous,
// one event at a time per member.
type Relay struct {
	mu       sync.Mutex
	channels map[string]map[string]*Subscription
	nextID   int
}

func New() *Relay {
	return &Relay{channels: make(map[string]map[string]*Subscription)}
}

func (that *Relay) Subscribe(_ context.Context, channel string, handler relay.Handler) (relay.Subscription, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	memberID := fmt.Sprintf("m-%03d", that.nextID)
	that.nextID++

	sub := &Subscription{
		relay:    that,
		channel:  channel,
		memberID: memberID,
		handler:  handler,
		queue:    make(chan event, 256),
	}

	members := that.channels[channel]
	if members == nil {
		members = make(map[string]*Subscription)
		that.channels[channel] = members
	}

	snapshot := make([]string, 0, len(members)+1)
	for id := range members {
		snapshot = append(snapshot, id)
	}
	snapshot = append(snapshot, memberID)

	for _, other := range members {
		other.enqueue(event{kind: kindJoined, member: memberID})
	}

	members[memberID] = sub

	go sub.loop()

	sub.enqueue(event{kind: kindSnapshot, members: snapshot})

	return sub, nil
}

type Subscription struct {
	relay    *Relay
	channel  string
	memberID string
	handler  relay.Handler

	queueMu sync.Mutex
	closed  bool
	queue   chan event
}

func (that *Subscription) MemberID() string {
	return that.memberID
}

func (that *Subscription) Broadcast(_ context.Context, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	that.relay.mu.Lock()
	defer that.relay.mu.Unlock()

	for id, other := range that.relay.channels[that.channel] {
		if id == that.memberID {
			continue
		}
		other.enqueue(event{kind: kindMessage, name: name, data: data})
	}

	return nil
}

func (that *Subscription) Unsubscribe(_ context.Context) error {
	that.relay.mu.Lock()
	defer that.relay.mu.Unlock()

	members := that.relay.channels[that.channel]
	if _, present := members[that.memberID]; !present {
		return nil
	}

	delete(members, that.memberID)

	for _, other := range members {
		other.enqueue(event{kind: kindLeft, member: that.memberID})
	}

	that.queueMu.Lock()
	that.closed = true
	close(that.queue)
	that.queueMu.Unlock()

	return nil
}

func (that *Subscription) enqueue(ev event) {
	that.queueMu.Lock()
	defer that.queueMu.Unlock()

	if that.closed {
		return
	}

	that.queue <- ev
}

func (that *Subscription) loop() {
	for ev := range that.queue {
		switch ev.kind {
		case kindSnapshot:
			that.handler.OnMembershipReady(ev.members)
		case kindJoined:
			that.handler.OnMemberJoined(ev.member)
		case kindLeft:
			that.handler.OnMemberLeft(ev.member)
		case kindMessage:
			that.handler.OnEvent(ev.name, ev.data)
		}
	}
}
