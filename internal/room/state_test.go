package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-relay/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-relay/internal/entity"
	"github.com/rocketscienceinc/tictactoe-relay/internal/protocol"
)

// playingPair returns a creator-side state already in the playing phase with
// both members present, role X, X to move.
func playingPair(t *testing.T, policy Policy) State {
	t.Helper()

	state := NewState("AB12CD", "m-001", policy, entity.EmptyCell)
	state, _, err := Transition(state, Snapshot{Members: []string{"m-001"}})
	require.NoError(t, err)
	state, _, err = Transition(state, MemberJoined{ID: "m-002"})
	require.NoError(t, err)
	require.Equal(t, entity.PhasePlaying, state.Phase)
	require.Equal(t, entity.RoleX, state.Role)

	return state
}

func hasEffect(effects []Effect, want Effect) bool {
	for _, effect := range effects {
		if effect == want {
			return true
		}
	}
	return false
}

func discardedWith(effects []Effect) (Discarded, bool) {
	for _, effect := range effects {
		if d, ok := effect.(Discarded); ok {
			return d, true
		}
	}
	return Discarded{}, false
}

func TestTransition_RoleAssignment(t *testing.T) {
	t.Run("Creator takes X and broadcasts it when the joiner arrives", func(t *testing.T) {
		// Given: the creator alone in a fresh session channel
		state := NewState("AB12CD", "m-001", PolicyResume, entity.EmptyCell)
		state, _, err := Transition(state, Snapshot{Members: []string{"m-001"}})
		require.NoError(t, err)
		require.True(t, state.Creator)

		// When: the opponent joins
		state, effects, err := Transition(state, MemberJoined{ID: "m-002"})
		require.NoError(t, err)

		// Then: the creator plays X, persists it, announces it and starts
		assert.Equal(t, entity.RoleX, state.Role)
		assert.Equal(t, entity.PhasePlaying, state.Phase)
		assert.Equal(t, entity.RoleX, state.Turn)
		assert.True(t, hasEffect(effects, PersistRole{Role: entity.RoleX}))
		assert.True(t, hasEffect(effects, BroadcastRole{Role: entity.RoleX}))
		assert.True(t, hasEffect(effects, BroadcastStart{StartingRole: entity.RoleX}))
		assert.True(t, hasEffect(effects, NotifyStarted{}))
	})

	t.Run("Joiner takes O when its snapshot already holds the creator", func(t *testing.T) {
		// Given: the joiner subscribing into a channel with the creator present
		state := NewState("AB12CD", "m-002", PolicyResume, entity.EmptyCell)

		// When: the snapshot arrives with both members
		state, effects, err := Transition(state, Snapshot{Members: []string{"m-001", "m-002"}})
		require.NoError(t, err)

		// Then: the joiner plays O
		assert.Equal(t, entity.RoleO, state.Role)
		assert.True(t, hasEffect(effects, PersistRole{Role: entity.RoleO}))
		assert.True(t, hasEffect(effects, BroadcastRole{Role: entity.RoleO}))
	})

	t.Run("A stored role short-circuits assignment after a reload", func(t *testing.T) {
		// Given: a participant rejoining with its persisted role O
		state := NewState("AB12CD", "m-002", PolicyResume, entity.RoleO)

		// When: both members are present again
		state, effects, err := Transition(state, Snapshot{Members: []string{"m-001", "m-002"}})
		require.NoError(t, err)

		// Then: O is kept and no second assignment is persisted or announced
		assert.Equal(t, entity.RoleO, state.Role)
		for _, effect := range effects {
			_, isPersist := effect.(PersistRole)
			_, isRole := effect.(BroadcastRole)
			assert.False(t, isPersist || isRole, "unexpected effect %T", effect)
		}
	})

	t.Run("Adopts the opposite of a received role when roleless", func(t *testing.T) {
		// Given: a participant with no role yet
		state := NewState("AB12CD", "m-002", PolicyResume, entity.EmptyCell)

		// When: the counterpart announces it plays X
		state, effects, err := Transition(state, RoleReceived{Role: entity.RoleX})
		require.NoError(t, err)

		// Then: the local side persists O
		assert.Equal(t, entity.RoleO, state.Role)
		assert.True(t, hasEffect(effects, PersistRole{Role: entity.RoleO}))
	})

	t.Run("Equal roles abort the session", func(t *testing.T) {
		// Given: a participant that already plays X
		state := playingPair(t, PolicyResume)

		// When: the counterpart also announces X
		state, effects, err := Transition(state, RoleReceived{Role: entity.RoleX})
		require.NoError(t, err)

		// Then: the session is aborted with a role conflict
		assert.Equal(t, entity.PhaseAborted, state.Phase)
		assert.True(t, hasEffect(effects, FatalRoleConflict{}))
	})
}

func TestTransition_MoveReceived(t *testing.T) {
	t.Run("Applies the opponent's move and hands the turn over", func(t *testing.T) {
		// Given: a playing session, X to move locally
		state := playingPair(t, PolicyResume)
		state, _, err := Transition(state, LocalMove{Row: 0, Col: 0})
		require.NoError(t, err)
		require.Equal(t, entity.RoleO, state.Turn)

		// When: O's move arrives
		state, _, err = Transition(state, MoveReceived{Move: protocol.Move{Row: 1, Col: 1, Role: "O", Epoch: 0}})
		require.NoError(t, err)

		// Then: the cell is marked and it is X's turn again
		assert.Equal(t, entity.RoleO, state.Board.Cell(1, 1))
		assert.Equal(t, entity.RoleX, state.Turn)
	})

	t.Run("Never applies an echo of the local side's own move", func(t *testing.T) {
		// Given: X just moved locally
		state := playingPair(t, PolicyResume)
		state, _, err := Transition(state, LocalMove{Row: 0, Col: 0})
		require.NoError(t, err)
		before := state

		// When: the same move comes back over the network
		state, effects, err := Transition(state, MoveReceived{Move: protocol.Move{Row: 0, Col: 0, Role: "X", Epoch: 0}})
		require.NoError(t, err)

		// Then: nothing changes
		assert.Equal(t, before.Board, state.Board)
		assert.Equal(t, before.Turn, state.Turn)
		assert.Empty(t, effects)
	})

	t.Run("Re-delivery of an already applied opponent move is a no-op", func(t *testing.T) {
		// Given: O's move already applied
		state := playingPair(t, PolicyResume)
		state, _, err := Transition(state, LocalMove{Row: 0, Col: 0})
		require.NoError(t, err)
		move := protocol.Move{Row: 1, Col: 1, Role: "O", Epoch: 0}
		state, _, err = Transition(state, MoveReceived{Move: move})
		require.NoError(t, err)
		before := state

		// When: the relay delivers the same move again
		state, effects, err := Transition(state, MoveReceived{Move: move})
		require.NoError(t, err)

		// Then: the board and turn are unchanged and nothing is discarded
		assert.Equal(t, before.Board, state.Board)
		assert.Equal(t, before.Turn, state.Turn)
		assert.Empty(t, effects)
	})

	t.Run("Discards a move from a stale epoch", func(t *testing.T) {
		// Given: a session whose epoch advanced past 0
		state := playingPair(t, PolicyResume)
		state.Epoch = 1

		// When: a move stamped with the old epoch arrives
		state, effects, err := Transition(state, MoveReceived{Move: protocol.Move{Row: 1, Col: 1, Role: "O", Epoch: 0}})
		require.NoError(t, err)

		// Then: it is discarded and the board stays empty
		discarded, ok := discardedWith(effects)
		require.True(t, ok)
		assert.Equal(t, "stale epoch", discarded.Reason)
		assert.Equal(t, entity.EmptyCell, state.Board.Cell(1, 1))
	})

	t.Run("Discards a move onto a cell held by the other role", func(t *testing.T) {
		// Given: X holds the corner
		state := playingPair(t, PolicyResume)
		state, _, err := Transition(state, LocalMove{Row: 0, Col: 0})
		require.NoError(t, err)

		// When: an O move targets the same cell
		state, effects, err := Transition(state, MoveReceived{Move: protocol.Move{Row: 0, Col: 0, Role: "O", Epoch: 0}})
		require.NoError(t, err)

		// Then: it is discarded and the corner still belongs to X
		_, ok := discardedWith(effects)
		assert.True(t, ok)
		assert.Equal(t, entity.RoleX, state.Board.Cell(0, 0))
	})

	t.Run("Discards a move outside the playing phase", func(t *testing.T) {
		// Given: a session still waiting for an opponent
		state := NewState("AB12CD", "m-001", PolicyResume, entity.EmptyCell)

		// When: a move arrives anyway
		_, effects, err := Transition(state, MoveReceived{Move: protocol.Move{Row: 0, Col: 0, Role: "O", Epoch: 0}})
		require.NoError(t, err)

		// Then: it is discarded
		_, ok := discardedWith(effects)
		assert.True(t, ok)
	})
}

func TestTransition_LocalMove(t *testing.T) {
	t.Run("Broadcasts the move stamped with the current epoch", func(t *testing.T) {
		// Given: a playing session, X to move
		state := playingPair(t, PolicyResume)

		// When: the local side marks the center
		state, effects, err := Transition(state, LocalMove{Row: 1, Col: 1})
		require.NoError(t, err)

		// Then: the board updates, the turn flips and the move is broadcast
		assert.Equal(t, entity.RoleX, state.Board.Cell(1, 1))
		assert.Equal(t, entity.RoleO, state.Turn)
		assert.True(t, hasEffect(effects, BroadcastMove{Move: protocol.Move{Row: 1, Col: 1, Role: "X", Epoch: 0}}))
	})

	t.Run("Rejects a move out of turn", func(t *testing.T) {
		// Given: the turn already handed to O
		state := playingPair(t, PolicyResume)
		state, _, err := Transition(state, LocalMove{Row: 0, Col: 0})
		require.NoError(t, err)

		// When: the local side moves again
		_, _, err = Transition(state, LocalMove{Row: 1, Col: 1})

		// Then: it fails with ErrNotYourTurn
		assert.ErrorIs(t, err, apperror.ErrNotYourTurn)
	})

	t.Run("Rejects a move before the game starts", func(t *testing.T) {
		// Given: a session with no opponent yet
		state := NewState("AB12CD", "m-001", PolicyResume, entity.EmptyCell)

		// When: the local side tries to move
		_, _, err := Transition(state, LocalMove{Row: 0, Col: 0})

		// Then: it fails with ErrGameNotStarted
		assert.ErrorIs(t, err, apperror.ErrGameNotStarted)
	})

	t.Run("Rejects a move onto an occupied cell", func(t *testing.T) {
		// Given: X holds the corner and it is X's turn again
		state := playingPair(t, PolicyResume)
		state, _, err := Transition(state, LocalMove{Row: 0, Col: 0})
		require.NoError(t, err)
		state, _, err = Transition(state, MoveReceived{Move: protocol.Move{Row: 2, Col: 2, Role: "O", Epoch: 0}})
		require.NoError(t, err)

		// When: the local side targets its own earlier cell
		_, _, err = Transition(state, LocalMove{Row: 0, Col: 0})

		// Then: it fails with ErrCellOccupied
		assert.ErrorIs(t, err, apperror.ErrCellOccupied)
	})

	t.Run("A winning move finishes the game", func(t *testing.T) {
		// Given: X one move away from the main diagonal
		state := playingPair(t, PolicyResume)
		for _, step := range []struct {
			local    [2]int
			remote   [2]int
			finished bool
		}{
			{local: [2]int{0, 0}, remote: [2]int{0, 1}},
			{local: [2]int{1, 1}, remote: [2]int{0, 2}},
		} {
			var err error
			state, _, err = Transition(state, LocalMove{Row: step.local[0], Col: step.local[1]})
			require.NoError(t, err)
			state, _, err = Transition(state, MoveReceived{Move: protocol.Move{Row: step.remote[0], Col: step.remote[1], Role: "O", Epoch: 0}})
			require.NoError(t, err)
		}

		// When: X completes the diagonal
		state, _, err := Transition(state, LocalMove{Row: 2, Col: 2})
		require.NoError(t, err)

		// Then: the game is finished with X the winner on 0, 4, 8
		assert.Equal(t, entity.PhaseFinished, state.Phase)
		assert.Equal(t, entity.StatusWon, state.Status)
		assert.Equal(t, entity.RoleX, state.Winner)
		assert.Equal(t, []int{0, 4, 8}, state.WinningCells)

		// And: further moves fail with ErrGameFinished
		_, _, err = Transition(state, LocalMove{Row: 2, Col: 0})
		assert.ErrorIs(t, err, apperror.ErrGameFinished)
	})
}

func TestTransition_Reset(t *testing.T) {
	finished := func(t *testing.T) State {
		t.Helper()

		state := playingPair(t, PolicyResume)
		moves := []struct {
			local  [2]int
			remote [2]int
		}{
			{local: [2]int{0, 0}, remote: [2]int{0, 1}},
			{local: [2]int{1, 1}, remote: [2]int{0, 2}},
		}
		for _, step := range moves {
			var err error
			state, _, err = Transition(state, LocalMove{Row: step.local[0], Col: step.local[1]})
			require.NoError(t, err)
			state, _, err = Transition(state, MoveReceived{Move: protocol.Move{Row: step.remote[0], Col: step.remote[1], Role: "O", Epoch: 0}})
			require.NoError(t, err)
		}
		state, _, err := Transition(state, LocalMove{Row: 2, Col: 2})
		require.NoError(t, err)
		require.Equal(t, entity.PhaseFinished, state.Phase)

		return state
	}

	t.Run("Local reset bumps the epoch and broadcasts it", func(t *testing.T) {
		// Given: a finished game
		state := finished(t)

		// When: the local side resets
		state, effects, err := Transition(state, LocalReset{})
		require.NoError(t, err)

		// Then: the board clears, X starts again and the new epoch goes out
		assert.Equal(t, 1, state.Epoch)
		assert.Equal(t, entity.PhasePlaying, state.Phase)
		assert.Equal(t, entity.RoleX, state.Turn)
		assert.True(t, state.Board.Cell(1, 1) == entity.EmptyCell)
		assert.True(t, hasEffect(effects, BroadcastReset{Reset: protocol.Reset{Epoch: 1}}))
	})

	t.Run("Local reset is rejected while still playing", func(t *testing.T) {
		// Given: a game in progress
		state := playingPair(t, PolicyResume)

		// When: the local side tries to reset
		_, _, err := Transition(state, LocalReset{})

		// Then: it fails with ErrGameNotFinished
		assert.ErrorIs(t, err, apperror.ErrGameNotFinished)
	})

	t.Run("Remote reset applies only with a greater epoch", func(t *testing.T) {
		// Given: a finished game at epoch 0
		state := finished(t)

		// When: a reset with the same epoch arrives
		state, effects, err := Transition(state, ResetReceived{Reset: protocol.Reset{Epoch: 0}})
		require.NoError(t, err)

		// Then: it is discarded
		_, discarded := discardedWith(effects)
		assert.True(t, discarded)
		assert.Equal(t, entity.PhaseFinished, state.Phase)

		// When: a reset with a greater epoch arrives
		state, _, err = Transition(state, ResetReceived{Reset: protocol.Reset{Epoch: 1}})
		require.NoError(t, err)

		// Then: the board clears and the epoch advances
		assert.Equal(t, 1, state.Epoch)
		assert.Equal(t, entity.PhasePlaying, state.Phase)
	})

	t.Run("A duplicated reset is discarded after the first applies", func(t *testing.T) {
		// Given: a finished game that already applied reset epoch 1
		state := finished(t)
		state, _, err := Transition(state, ResetReceived{Reset: protocol.Reset{Epoch: 1}})
		require.NoError(t, err)

		// When: the duplicate arrives
		_, effects, err := Transition(state, ResetReceived{Reset: protocol.Reset{Epoch: 1}})
		require.NoError(t, err)

		// Then: it is discarded
		_, discarded := discardedWith(effects)
		assert.True(t, discarded)
	})
}

func TestTransition_Disconnect(t *testing.T) {
	t.Run("Resume policy parks the session and resumes without re-assignment", func(t *testing.T) {
		// Given: a playing session with one move on the board
		state := playingPair(t, PolicyResume)
		state, _, err := Transition(state, LocalMove{Row: 0, Col: 0})
		require.NoError(t, err)

		// When: the opponent drops
		state, effects, err := Transition(state, MemberLeft{ID: "m-002"})
		require.NoError(t, err)

		// Then: the session parks with role and board intact
		assert.Equal(t, entity.PhaseDisconnected, state.Phase)
		assert.True(t, hasEffect(effects, NotifyOpponentLeft{}))
		assert.Equal(t, entity.RoleX, state.Role)
		assert.Equal(t, entity.RoleX, state.Board.Cell(0, 0))

		// When: the opponent returns
		state, effects, err = Transition(state, MemberJoined{ID: "m-002"})
		require.NoError(t, err)

		// Then: play resumes where it stopped, with no new role broadcast
		assert.Equal(t, entity.PhasePlaying, state.Phase)
		assert.True(t, hasEffect(effects, NotifyResumed{}))
		for _, effect := range effects {
			_, isRole := effect.(BroadcastRole)
			assert.False(t, isRole)
		}
	})

	t.Run("Abandon policy clears the pairing and waits for a fresh opponent", func(t *testing.T) {
		// Given: a playing session under the abandon policy
		state := playingPair(t, PolicyAbandon)
		state, _, err := Transition(state, LocalMove{Row: 0, Col: 0})
		require.NoError(t, err)

		// When: the opponent drops
		state, effects, err := Transition(state, MemberLeft{ID: "m-002"})
		require.NoError(t, err)

		// Then: role and board clear, the epoch advances and the survivor
		// owns the session
		assert.Equal(t, entity.PhaseWaiting, state.Phase)
		assert.Equal(t, entity.EmptyCell, state.Role)
		assert.Equal(t, entity.EmptyCell, state.Board.Cell(0, 0))
		assert.Equal(t, 1, state.Epoch)
		assert.True(t, state.CreatorKnown)
		assert.True(t, state.Creator)
		assert.True(t, hasEffect(effects, ClearRole{}))

		// When: a fresh opponent joins
		state, _, err = Transition(state, MemberJoined{ID: "m-003"})
		require.NoError(t, err)

		// Then: the survivor plays X against them
		assert.Equal(t, entity.RoleX, state.Role)
		assert.Equal(t, entity.PhasePlaying, state.Phase)
	})

	t.Run("A disconnect after the game finished only notifies", func(t *testing.T) {
		// Given: a finished game
		state := playingPair(t, PolicyResume)
		moves := []struct {
			local  [2]int
			remote [2]int
		}{
			{local: [2]int{0, 0}, remote: [2]int{0, 1}},
			{local: [2]int{1, 1}, remote: [2]int{0, 2}},
		}
		for _, step := range moves {
			var err error
			state, _, err = Transition(state, LocalMove{Row: step.local[0], Col: step.local[1]})
			require.NoError(t, err)
			state, _, err = Transition(state, MoveReceived{Move: protocol.Move{Row: step.remote[0], Col: step.remote[1], Role: "O", Epoch: 0}})
			require.NoError(t, err)
		}
		state, _, err := Transition(state, LocalMove{Row: 2, Col: 2})
		require.NoError(t, err)

		// When: the opponent leaves
		state, effects, err := Transition(state, MemberLeft{ID: "m-002"})
		require.NoError(t, err)

		// Then: the result stays on screen
		assert.Equal(t, entity.PhaseFinished, state.Phase)
		assert.True(t, hasEffect(effects, NotifyOpponentLeft{}))
	})
}
