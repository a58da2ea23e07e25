package relay

import "context"

// Handler - receives every event of one subscription. The relay invokes all
// methods from a single goroutine per subscription, so implementations see one
// event at a time. No delivery order is guaranteed across distinct members and
// membership deltas may be delivered more than once.
type Handler interface {
	// OnMembershipReady - called once after the subscription succeeds, with
	// the full current member set (the local member included).
	OnMembershipReady(members []string)

	OnMemberJoined(id string)
	OnMemberLeft(id string)

	// OnEvent - application-level message delivery, at-least-once. The local
	// member never receives its own broadcasts.
	OnEvent(event string, data []byte)
}

// Subscription - a live membership in one named broadcast group.
type Subscription interface {
	// MemberID - the participant id the relay assigned to this connection.
	// A new subscription always gets a new id.
	MemberID() string

	// Broadcast - best-effort fan-out to all other current members.
	Broadcast(ctx context.Context, event string, payload any) error

	// Unsubscribe - leaves the group and stops event delivery. Idempotent.
	Unsubscribe(ctx context.Context) error
}

// Relay - the presence transport consumed by the matchmaking and room layers.
type Relay interface {
	Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error)
}
