package room

import (
	"sort"

	"github.com/samber/lo"

	"github.com/rocketscienceinc/tictactoe-relay/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-relay/internal/entity"
	"github.com/rocketscienceinc/tictactoe-relay/internal/protocol"
)

// Policy - what a session does when the opponent drops mid-game.
type Policy string

const (
	// PolicyResume - keep role and board so a returning opponent resumes.
	PolicyResume = Policy("resume")
	// PolicyAbandon - clear the stored role and fall back to Waiting for a
	// fresh opponent.
	PolicyAbandon = Policy("abandon")
)

func (that Policy) IsValid() bool {
	return that == PolicyResume || that == PolicyAbandon
}

// State - one session's complete view: role assignment, readiness, turn
// order and board generation. A pure value; Transition never mutates input.
type State struct {
	SessionID string
	SelfID    string
	Policy    Policy

	Phase string
	Role  entity.Role
	Turn  entity.Role
	Board entity.Board
	Epoch int

	Status       string
	Winner       entity.Role
	WinningCells []int

	Members map[string]struct{}

	// CreatorKnown/Creator - whether the local side authored the session
	// (creator plays X). Unknown until either matchmaking says so or the
	// membership snapshot reveals we subscribed first.
	CreatorKnown bool
	Creator      bool
}

func NewState(sessionID, selfID string, policy Policy, storedRole entity.Role) State {
	return State{
		SessionID: sessionID,
		SelfID:    selfID,
		Policy:    policy,

		Phase:  entity.PhaseWaiting,
		Role:   storedRole,
		Status: entity.StatusPlaying,

		Members: map[string]struct{}{},
	}
}

// Event - one external observation or local command.
type Event interface{ isEvent() }

type Snapshot struct{ Members []string }

type MemberJoined struct{ ID string }

type MemberLeft struct{ ID string }

// RoleReceived - the counterpart broadcast its own role.
type RoleReceived struct{ Role entity.Role }

type StartReceived struct{ StartingRole entity.Role }

type MoveReceived struct{ Move protocol.Move }

type ResetReceived struct{ Reset protocol.Reset }

// LocalMove - the local participant tries to mark a cell.
type LocalMove struct{ Row, Col int }

// LocalReset - the local participant restarts a finished game.
type LocalReset struct{}

func (Snapshot) isEvent()      {}
func (MemberJoined) isEvent()  {}
func (MemberLeft) isEvent()    {}
func (RoleReceived) isEvent()  {}
func (StartReceived) isEvent() {}
func (MoveReceived) isEvent()  {}
func (ResetReceived) isEvent() {}
func (LocalMove) isEvent()     {}
func (LocalReset) isEvent()    {}

// Effect - a side effect the runner must perform after a transition.
type Effect interface{ isEffect() }

type BroadcastRole struct{ Role entity.Role }

type BroadcastStart struct{ StartingRole entity.Role }

type BroadcastMove struct{ Move protocol.Move }

type BroadcastReset struct{ Reset protocol.Reset }

type PersistRole struct{ Role entity.Role }

type ClearRole struct{}

type NotifyStarted struct{}

type NotifyOpponentLeft struct{}

type NotifyResumed struct{}

// FatalRoleConflict - both sides computed the same role; the session is dead.
type FatalRoleConflict struct{}

// Discarded - a message was dropped; logged only, never surfaced.
type Discarded struct{ Reason string }

func (BroadcastRole) isEffect()      {}
func (BroadcastStart) isEffect()     {}
func (BroadcastMove) isEffect()      {}
func (BroadcastReset) isEffect()     {}
func (PersistRole) isEffect()        {}
func (ClearRole) isEffect()          {}
func (NotifyStarted) isEffect()      {}
func (NotifyOpponentLeft) isEffect() {}
func (NotifyResumed) isEffect()      {}
func (FatalRoleConflict) isEffect()  {}
func (Discarded) isEffect()          {}

// Transition - the session state machine. The returned error is non-nil only
// for rejected local commands; remote input never errors, it either produces
// a transition or is discarded.
func Transition(state State, event Event) (State, []Effect, error) {
	switch ev := event.(type) {
	case Snapshot:
		state.Members = lo.SliceToMap(ev.Members, func(id string) (string, struct{}) {
			return id, struct{}{}
		})
		if !state.CreatorKnown {
			// Subscribing into an otherwise empty channel means we opened
			// the session.
			state.CreatorKnown = true
			state.Creator = len(state.Members) == 1
		}
		next, effects := onMembersChanged(state)
		return next, effects, nil

	case MemberJoined:
		state.Members = withMember(state.Members, ev.ID)
		next, effects := onMembersChanged(state)
		return next, effects, nil

	case MemberLeft:
		state.Members = withoutMember(state.Members, ev.ID)
		next, effects := onMemberLeft(state)
		return next, effects, nil

	case RoleReceived:
		next, effects := onRoleReceived(state, ev.Role)
		return next, effects, nil

	case StartReceived:
		next, effects := onStartReceived(state, ev.StartingRole)
		return next, effects, nil

	case MoveReceived:
		next, effects := onMoveReceived(state, ev.Move)
		return next, effects, nil

	case ResetReceived:
		next, effects := onResetReceived(state, ev.Reset)
		return next, effects, nil

	case LocalMove:
		return onLocalMove(state, ev.Row, ev.Col)

	case LocalReset:
		return onLocalReset(state)
	}

	return state, nil, nil
}

func onMembersChanged(state State) (State, []Effect) {
	if len(state.Members) < 2 {
		return state, nil
	}

	switch state.Phase {
	case entity.PhaseWaiting:
		return assignRoles(state)

	case entity.PhaseDisconnected:
		// The opponent is back; resume without re-running role assignment.
		if state.Status == entity.StatusPlaying {
			state.Phase = entity.PhasePlaying
		} else {
			state.Phase = entity.PhaseFinished
		}
		return state, []Effect{NotifyResumed{}}
	}

	return state, nil
}

// assignRoles - exactly one deterministic rule, no negotiation: the creator
// plays X, the other side O. A role persisted from a previous run of the same
// session short-circuits assignment entirely.
func assignRoles(state State) (State, []Effect) {
	state.Phase = entity.PhaseRoleAssigning

	var effects []Effect

	if state.Role == entity.EmptyCell {
		role := entity.RoleO
		switch {
		case state.CreatorKnown && state.Creator:
			role = entity.RoleX
		case state.CreatorKnown:
			role = entity.RoleO
		default:
			// Fallback: sorted member order decides.
			if sortedMembers(state.Members)[0] == state.SelfID {
				role = entity.RoleX
			}
		}

		state.Role = role
		effects = append(effects, PersistRole{Role: role}, BroadcastRole{Role: role})
	}

	return begin(state, effects)
}

// begin - both participants present and the local role known: X moves first,
// derived locally. The start notice only synchronizes the counterpart, since
// a broadcast is never delivered back to its own sender.
func begin(state State, effects []Effect) (State, []Effect) {
	state.Phase = entity.PhasePlaying
	state.Turn = entity.RoleX

	return state, append(effects, BroadcastStart{StartingRole: entity.RoleX}, NotifyStarted{})
}

func onMemberLeft(state State) (State, []Effect) {
	if len(state.Members) >= 2 {
		return state, nil
	}

	switch state.Phase {
	case entity.PhaseReady, entity.PhasePlaying:
		if state.Policy == PolicyAbandon {
			state.Phase = entity.PhaseWaiting
			// The survivor owns the session now and plays X against the
			// next opponent.
			state.CreatorKnown = true
			state.Creator = true
			state.Role = entity.EmptyCell
			state.Turn = entity.EmptyCell
			state.Board.Clear()
			state.Status = entity.StatusPlaying
			state.Winner = entity.EmptyCell
			state.WinningCells = nil
			// Invalidate any straggler moves from the dead pairing.
			state.Epoch++
			return state, []Effect{ClearRole{}, NotifyOpponentLeft{}}
		}

		state.Phase = entity.PhaseDisconnected
		return state, []Effect{NotifyOpponentLeft{}}

	case entity.PhaseFinished:
		return state, []Effect{NotifyOpponentLeft{}}
	}

	return state, nil
}

func onRoleReceived(state State, role entity.Role) (State, []Effect) {
	if !role.IsValid() {
		return state, []Effect{Discarded{Reason: "malformed role"}}
	}

	// The counterpart announces its own role; ours is the opposite.
	if state.Role == entity.EmptyCell {
		state.Role = role.Opponent()
		return state, []Effect{PersistRole{Role: state.Role}}
	}

	if state.Role == role {
		state.Phase = entity.PhaseAborted
		return state, []Effect{FatalRoleConflict{}}
	}

	// Matching assignment; advisory confirmation only.
	return state, nil
}

func onStartReceived(state State, starting entity.Role) (State, []Effect) {
	if !starting.IsValid() {
		return state, []Effect{Discarded{Reason: "malformed starting role"}}
	}

	switch state.Phase {
	case entity.PhaseWaiting, entity.PhaseRoleAssigning, entity.PhaseReady:
		state.Phase = entity.PhasePlaying
		state.Turn = starting
		return state, []Effect{NotifyStarted{}}
	}

	// Already playing (or beyond): a late or duplicate notice must not
	// clobber the running turn order.
	return state, nil
}

func onMoveReceived(state State, move protocol.Move) (State, []Effect) {
	if state.Phase != entity.PhasePlaying {
		return state, []Effect{Discarded{Reason: "move outside playing phase"}}
	}

	if move.Epoch != state.Epoch {
		return state, []Effect{Discarded{Reason: "stale epoch"}}
	}

	role := entity.Role(move.Role)
	if !role.IsValid() {
		return state, []Effect{Discarded{Reason: "malformed move role"}}
	}

	// A move authored locally is never applied a second time via the
	// network path: role equality is the canonical de-duplication rule.
	if role == state.Role {
		return state, nil
	}

	if move.Row < 0 || move.Row >= entity.BoardSize || move.Col < 0 || move.Col >= entity.BoardSize {
		return state, []Effect{Discarded{Reason: "cell out of bounds"}}
	}

	occupant := state.Board.Cell(move.Row, move.Col)
	if occupant == role {
		// Re-delivery of an already applied move; the board is unchanged.
		return state, nil
	}
	if occupant != entity.EmptyCell {
		return state, []Effect{Discarded{Reason: "cell already occupied"}}
	}

	state.Board[entity.Index(move.Row, move.Col)] = role
	state = evaluate(state)

	if state.Phase == entity.PhasePlaying {
		// The opponent moved; it is the local participant's turn now.
		state.Turn = state.Role
	}

	return state, nil
}

func onResetReceived(state State, reset protocol.Reset) (State, []Effect) {
	if reset.Epoch <= state.Epoch {
		return state, []Effect{Discarded{Reason: "stale reset"}}
	}

	state.Epoch = reset.Epoch
	state = clearBoard(state)

	return state, nil
}

func onLocalMove(state State, row, col int) (State, []Effect, error) {
	switch state.Phase {
	case entity.PhasePlaying:
	case entity.PhaseFinished:
		return state, nil, apperror.ErrGameFinished
	default:
		return state, nil, apperror.ErrGameNotStarted
	}

	if state.Role == entity.EmptyCell {
		return state, nil, apperror.ErrNoRoleAssigned
	}

	if state.Turn != state.Role {
		return state, nil, apperror.ErrNotYourTurn
	}

	if err := state.Board.Apply(row, col, state.Role); err != nil {
		return state, nil, err
	}

	move := protocol.Move{
		Row:   row,
		Col:   col,
		Role:  string(state.Role),
		Epoch: state.Epoch,
	}

	state = evaluate(state)

	if state.Phase == entity.PhasePlaying {
		state.Turn = state.Role.Opponent()
	}

	return state, []Effect{BroadcastMove{Move: move}}, nil
}

func onLocalReset(state State) (State, []Effect, error) {
	if state.Phase != entity.PhaseFinished {
		return state, nil, apperror.ErrGameNotFinished
	}

	state.Epoch++
	state = clearBoard(state)

	return state, []Effect{BroadcastReset{Reset: protocol.Reset{Epoch: state.Epoch}}}, nil
}

// evaluate - reruns win detection and folds a terminal result into the phase.
func evaluate(state State) State {
	status, winner, cells := entity.EvaluateStatus(state.Board)

	state.Status = status
	state.Winner = winner
	state.WinningCells = cells

	if status != entity.StatusPlaying {
		state.Phase = entity.PhaseFinished
		state.Turn = entity.EmptyCell
	}

	return state
}

func clearBoard(state State) State {
	state.Board.Clear()
	state.Status = entity.StatusPlaying
	state.Winner = entity.EmptyCell
	state.WinningCells = nil
	state.Turn = entity.RoleX
	state.Phase = entity.PhasePlaying

	return state
}

func sortedMembers(members map[string]struct{}) []string {
	ids := lo.Keys(members)
	sort.Strings(ids)
	return ids
}

func withMember(members map[string]struct{}, id string) map[string]struct{} {
	next := make(map[string]struct{}, len(members)+1)
	for member := range members {
		next[member] = struct{}{}
	}
	next[id] = struct{}{}
	return next
}

func withoutMember(members map[string]struct{}, id string) map[string]struct{} {
	next := make(map[string]struct{}, len(members))
	for member := range members {
		if member != id {
			next[member] = struct{}{}
		}
	}
	return next
}
