package matchmaking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rocketscienceinc/tictactoe-relay/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-relay/internal/entity"
	"github.com/rocketscienceinc/tictactoe-relay/internal/protocol"
	"github.com/rocketscienceinc/tictactoe-relay/internal/relay"
	"github.com/rocketscienceinc/tictactoe-relay/internal/router"
	"github.com/rocketscienceinc/tictactoe-relay/internal/userstate"
)

const opTimeout = 5 * time.Second

// Coordinator - runs the matchmaking state machine against the relay: it
// pairs two anonymous waiting participants into exactly one new session with
// no central arbiter.
type Coordinator struct {
	logger  *slog.Logger
	relay   relay.Relay
	context *userstate.Context
	router  router.Router

	// OnMatched - called once the local participant enters a paired session.
	OnMatched func(sessionID string, creator bool)
	// OnNotice - user-facing transient notices (cancellations and the like).
	OnNotice func(message string)
	// OnWaiting - queue size updates while waiting.
	OnWaiting func(count int)

	mu     sync.Mutex
	joined bool
	sub    relay.Subscription
	state  State
	ctx    context.Context
}

func NewCoordinator(logger *slog.Logger, r relay.Relay, uctx *userstate.Context, rt router.Router) *Coordinator {
	return &Coordinator{
		logger:  logger.With("component", "matchmaking"),
		relay:   r,
		context: uctx,
		router:  rt,
	}
}

// Join - subscribes the local participant to the shared waiting channel.
func (that *Coordinator) Join(ctx context.Context) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.joined {
		return apperror.ErrAlreadyWaiting
	}

	sub, err := that.relay.Subscribe(ctx, entity.MatchmakingChannel, coordinatorHandler{that})
	if err != nil {
		return fmt.Errorf("failed to join waiting queue: %w", err)
	}

	that.joined = true
	that.sub = sub
	that.ctx = ctx
	that.state = NewState(sub.MemberID())

	that.context.Mode = userstate.ModeRandom
	that.context.Status = userstate.StatusWaiting
	if err = that.context.Save(); err != nil {
		that.logger.Error("failed to persist waiting status", "error", err)
	}

	that.router.Navigate("/matchmaking")

	that.logger.Info("joined waiting queue", "member", sub.MemberID())

	return nil
}

// Leave - unsubscribes from the waiting channel and discards all pending
// guards so a later rejoin starts clean. Safe to call multiple times.
func (that *Coordinator) Leave() error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if !that.joined {
		return nil
	}

	that.unsubscribeLocked()

	that.context.Mode = ""
	that.context.Status = userstate.StatusBrowsing
	that.context.RoomID = ""
	if err := that.context.Save(); err != nil {
		that.logger.Error("failed to persist browsing status", "error", err)
	}

	that.router.Navigate("/")

	return nil
}

func (that *Coordinator) unsubscribeLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := that.sub.Unsubscribe(ctx); err != nil {
		that.logger.Error("failed to unsubscribe from waiting queue", "error", err)
	}

	that.joined = false
	that.sub = nil
	that.state = State{}
}

// apply - feeds one event through the transition function and executes the
// resulting effects. Every external event goes through here under one lock,
// so no handler ever observes a half-updated state.
func (that *Coordinator) apply(event Event) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if !that.joined {
		return
	}

	that.applyLocked(event)
}

func (that *Coordinator) applyLocked(event Event) {
	next, effects := Transition(that.state, event)
	that.state = next

	for _, effect := range effects {
		that.execute(effect)
	}
}

func (that *Coordinator) execute(effect Effect) {
	switch fx := effect.(type) {
	case WaitingCount:
		if that.OnWaiting != nil {
			that.OnWaiting(fx.Count)
		}

	case AnnouncePair:
		announce := protocol.SessionCreated{
			SessionID:    entity.NewSessionID(),
			ParticipantA: fx.First,
			ParticipantB: fx.Second,
		}

		if err := that.sub.Broadcast(that.ctx, protocol.EventSessionCreated, announce); err != nil {
			that.logger.Error("failed to broadcast session announcement", "error", err)
		}

		that.logger.Info("announced session", "session", announce.SessionID, "pair", []string{fx.First, fx.Second})

		// The relay never echoes a broadcast back to its sender, so the
		// creator accepts its own announcement by local delivery.
		that.applyLocked(AnnouncementReceived{Announce: announce})

	case EnterSession:
		that.enterSession(fx)

	case MatchCancelled:
		that.context.Status = userstate.StatusWaiting
		that.context.RoomID = ""
		if err := that.context.Save(); err != nil {
			that.logger.Error("failed to persist cancellation", "error", err)
		}

		that.logger.Info("match cancelled, returning to waiting pool")

		if that.OnNotice != nil {
			that.OnNotice("match cancelled: opponent disconnected")
		}
	}
}

func (that *Coordinator) enterSession(fx EnterSession) {
	that.context.Status = userstate.StatusMatched
	that.context.RoomID = fx.SessionID
	if err := that.context.Save(); err != nil {
		that.logger.Error("failed to persist match", "error", err)
	}

	that.unsubscribeLocked()

	that.logger.Info("matched", "session", fx.SessionID, "creator", fx.Creator)

	that.router.Navigate("/game/" + fx.SessionID)

	if that.OnMatched != nil {
		that.OnMatched(fx.SessionID, fx.Creator)
	}
}

// coordinatorHandler - adapts relay events to matchmaking events.
type coordinatorHandler struct {
	coordinator *Coordinator
}

func (that coordinatorHandler) OnMembershipReady(members []string) {
	that.coordinator.apply(Snapshot{Members: members})
}

func (that coordinatorHandler) OnMemberJoined(id string) {
	that.coordinator.apply(MemberJoined{ID: id})
}

func (that coordinatorHandler) OnMemberLeft(id string) {
	that.coordinator.apply(MemberLeft{ID: id})
}

func (that coordinatorHandler) OnEvent(event string, data []byte) {
	if event != protocol.EventSessionCreated {
		return
	}

	var announce protocol.SessionCreated
	if err := json.Unmarshal(data, &announce); err != nil {
		that.coordinator.logger.Error("failed to unmarshal session announcement", "error", err)
		return
	}

	that.coordinator.apply(AnnouncementReceived{Announce: announce})
}
