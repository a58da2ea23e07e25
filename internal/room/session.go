package room

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

// View - a read-only snapshot of the session for rendering.
type View struct {
	SessionID    string
	Phase        string
	Role         entity.Role
	Turn         entity.Role
	Board        entity.Board
	Status       string
	Winner       entity.Role
	WinningCells []int
	Epoch        int
	Members      int
}

// Session - owns the state machine for exactly one paired session: role
// assignment, readiness, turn order, move application, disconnect detection
// and reset. All events and commands are serialized through one mutex, so a
// handler never observes a half-updated state.
type Session struct {
	logger  *slog.Logger
	relay   relay.Relay
	context *userstate.Context
	router  router.Router
	policy  Policy

	// OnUpdate - called after every state change with a fresh view.
	OnUpdate func(view View)
	// OnNotice - user-facing transient notices.
	OnNotice func(message string)

	mu     sync.Mutex
	joined bool
	sub    relay.Subscription
	state  State
	ctx    context.Context
}

func NewSession(logger *slog.Logger, r relay.Relay, uctx *userstate.Context, rt router.Router, policy Policy) *Session {
	return &Session{
		logger:  logger.With("component", "room"),
		relay:   r,
		context: uctx,
		router:  rt,
		policy:  policy,
	}
}

// Join - subscribes to the session channel without a creator hint; whether
// the local side opened the session is derived from the membership snapshot.
func (that *Session) Join(ctx context.Context, sessionID string) error {
	return that.join(ctx, sessionID, nil)
}

// JoinMatched - joins a session produced by matchmaking, where the creation
// announcement already fixed who the creator is.
func (that *Session) JoinMatched(ctx context.Context, sessionID string, creator bool) error {
	return that.join(ctx, sessionID, &creator)
}

func (that *Session) join(ctx context.Context, sessionID string, creator *bool) error {
	if err := entity.ValidateSessionID(sessionID); err != nil {
		return err
	}

	that.mu.Lock()
	defer that.mu.Unlock()

	if that.joined {
		return fmt.Errorf("%w: session %s", apperror.ErrAlreadyWaiting, that.state.SessionID)
	}

	storedRole, err := that.context.RoleFor(sessionID)
	if err != nil {
		return fmt.Errorf("failed to read stored role: %w", err)
	}

	sub, err := that.relay.Subscribe(ctx, entity.SessionChannel(sessionID), sessionHandler{that})
	if err != nil {
		return fmt.Errorf("failed to join session channel: %w", err)
	}

	that.joined = true
	that.sub = sub
	that.ctx = ctx
	that.state = NewState(sessionID, sub.MemberID(), that.policy, storedRole)

	if creator != nil {
		that.state.CreatorKnown = true
		that.state.Creator = *creator
	}

	that.context.Status = userstate.StatusInGame
	that.context.RoomID = sessionID
	if err = that.context.Save(); err != nil {
		that.logger.Error("failed to persist session context", "error", err)
	}

	that.router.Navigate("/game/" + sessionID)

	that.logger.Info("joined session", "session", sessionID, "member", sub.MemberID(), "stored_role", string(storedRole))

	return nil
}

// MakeMove - applies a local move; rejected moves are never broadcast.
func (that *Session) MakeMove(row, col int) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if !that.joined {
		return apperror.ErrNotSubscribed
	}

	return that.applyLocked(LocalMove{Row: row, Col: col})
}

// Reset - restarts a finished game; X moves first again.
func (that *Session) Reset() error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if !that.joined {
		return apperror.ErrNotSubscribed
	}

	return that.applyLocked(LocalReset{})
}

// Leave - abandons the session: unsubscribes, clears the stored role and
// returns to the idle view. Idempotent.
func (that *Session) Leave() error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if !that.joined {
		return nil
	}

	sessionID := that.state.SessionID
	that.unsubscribeLocked()

	if err := that.context.ClearRoleFor(sessionID); err != nil {
		that.logger.Error("failed to clear stored role", "error", err)
	}

	that.context.Status = userstate.StatusBrowsing
	that.context.RoomID = ""
	if err := that.context.Save(); err != nil {
		that.logger.Error("failed to persist browsing status", "error", err)
	}

	that.router.Navigate("/")

	return nil
}

// View - the current session snapshot.
func (that *Session) View() View {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.viewLocked()
}

func (that *Session) viewLocked() View {
	return View{
		SessionID:    that.state.SessionID,
		Phase:        that.state.Phase,
		Role:         that.state.Role,
		Turn:         that.state.Turn,
		Board:        that.state.Board,
		Status:       that.state.Status,
		Winner:       that.state.Winner,
		WinningCells: that.state.WinningCells,
		Epoch:        that.state.Epoch,
		Members:      len(that.state.Members),
	}
}

func (that *Session) unsubscribeLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := that.sub.Unsubscribe(ctx); err != nil {
		that.logger.Error("failed to unsubscribe from session channel", "error", err)
	}

	that.joined = false
	that.sub = nil
}

// apply - remote events; errors cannot occur on this path.
func (that *Session) apply(event Event) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if !that.joined {
		return
	}

	_ = that.applyLocked(event)
}

func (that *Session) applyLocked(event Event) error {
	next, effects, err := Transition(that.state, event)
	if err != nil {
		return err
	}

	that.state = next

	for _, effect := range effects {
		that.execute(effect)
	}

	if that.OnUpdate != nil {
		that.OnUpdate(that.viewLocked())
	}

	return nil
}

func (that *Session) execute(effect Effect) {
	switch fx := effect.(type) {
	case BroadcastRole:
		that.broadcast(protocol.EventRoleAssigned, protocol.RoleAssigned{Role: string(fx.Role)})

	case BroadcastStart:
		that.broadcast(protocol.EventSessionStart, protocol.SessionStart{StartingRole: string(fx.StartingRole)})

	case BroadcastMove:
		that.broadcast(protocol.EventMove, fx.Move)

	case BroadcastReset:
		that.broadcast(protocol.EventReset, fx.Reset)

	case PersistRole:
		if err := that.context.SetRoleFor(that.state.SessionID, fx.Role); err != nil {
			that.logger.Error("failed to persist role", "error", err)
		}

	case ClearRole:
		if err := that.context.ClearRoleFor(that.state.SessionID); err != nil {
			that.logger.Error("failed to clear role", "error", err)
		}

	case NotifyStarted:
		that.notice("game started, X moves first")

	case NotifyOpponentLeft:
		that.context.Status = userstate.StatusDisconnected
		if err := that.context.Save(); err != nil {
			that.logger.Error("failed to persist disconnect", "error", err)
		}
		that.notice("opponent disconnected")

	case NotifyResumed:
		that.context.Status = userstate.StatusInGame
		if err := that.context.Save(); err != nil {
			that.logger.Error("failed to persist resume", "error", err)
		}
		that.notice("opponent reconnected, game resumed")

	case FatalRoleConflict:
		// Never expected under the deterministic assignment rule; if it
		// happens the session is unrecoverable.
		that.logger.Error("role conflict detected", "session", that.state.SessionID, "error", apperror.ErrRoleConflict)
		if err := that.context.ClearRoleFor(that.state.SessionID); err != nil {
			that.logger.Error("failed to clear role", "error", err)
		}
		that.unsubscribeLocked()
		that.notice("session aborted: role conflict")

	case Discarded:
		that.logger.Debug("message discarded", "reason", fx.Reason, "session", that.state.SessionID)
	}
}

func (that *Session) broadcast(event string, payload any) {
	if err := that.sub.Broadcast(that.ctx, event, payload); err != nil {
		that.logger.Error("failed to broadcast", "event", event, "error", err)
	}
}

func (that *Session) notice(message string) {
	if that.OnNotice != nil {
		that.OnNotice(message)
	}
}

// sessionHandler - decodes relay traffic into session events. Malformed
// payloads are logged no-ops.
type sessionHandler struct {
	session *Session
}

func (that sessionHandler) OnMembershipReady(members []string) {
	that.session.apply(Snapshot{Members: members})
}

func (that sessionHandler) OnMemberJoined(id string) {
	that.session.apply(MemberJoined{ID: id})
}

func (that sessionHandler) OnMemberLeft(id string) {
	that.session.apply(MemberLeft{ID: id})
}

func (that sessionHandler) OnEvent(event string, data []byte) {
	log := that.session.logger

	switch event {
	case protocol.EventRoleAssigned:
		var payload protocol.RoleAssigned
		if err := json.Unmarshal(data, &payload); err != nil {
			log.Error("failed to unmarshal role payload", "error", err)
			return
		}
		that.session.apply(RoleReceived{Role: entity.Role(payload.Role)})

	case protocol.EventSessionStart:
		var payload protocol.SessionStart
		if err := json.Unmarshal(data, &payload); err != nil {
			log.Error("failed to unmarshal start payload", "error", err)
			return
		}
		that.session.apply(StartReceived{StartingRole: entity.Role(payload.StartingRole)})

	case protocol.EventMove:
		var payload protocol.Move
		if err := json.Unmarshal(data, &payload); err != nil {
			log.Error("failed to unmarshal move payload", "error", err)
			return
		}
		that.session.apply(MoveReceived{Move: payload})

	case protocol.EventReset:
		var payload protocol.Reset
		if err := json.Unmarshal(data, &payload); err != nil {
			log.Error("failed to unmarshal reset payload", "error", err)
			return
		}
		that.session.apply(ResetReceived{Reset: payload})
	}
}
