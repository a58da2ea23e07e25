package matchmaking

import (
	"sort"

	"github.com/samber/lo"

	"github.com/rocketscienceinc/tictactoe-relay/internal/entity"
	"github.com/rocketscienceinc/tictactoe-relay/internal/protocol"
)

// State - the matchmaking coordinator's view of the waiting queue. It is a
// pure value: Transition never mutates its input.
type State struct {
	SelfID  string
	Members map[string]struct{}

	// Created - one-shot guard: the local side already announced a session
	// for this membership epoch. Protects against the >=2 threshold being
	// observed twice (once via snapshot, once via a join delta).
	Created bool

	// Matched - the local side accepted a creation announcement.
	Matched bool
}

func NewState(selfID string) State {
	return State{
		SelfID:  selfID,
		Members: map[string]struct{}{},
	}
}

func (that State) WaitingCount() int {
	return len(that.Members)
}

// Event - one external observation delivered to the coordinator.
type Event interface{ isEvent() }

type Snapshot struct{ Members []string }

type MemberJoined struct{ ID string }

type MemberLeft struct{ ID string }

// AnnouncementReceived - a session-created broadcast arrived (or was
// self-delivered after the local side announced one).
type AnnouncementReceived struct{ Announce protocol.SessionCreated }

func (Snapshot) isEvent()             {}
func (MemberJoined) isEvent()         {}
func (MemberLeft) isEvent()           {}
func (AnnouncementReceived) isEvent() {}

// Effect - a side effect the runner must perform after a transition.
type Effect interface{ isEffect() }

// AnnouncePair - the local side won leader election: mint a session id and
// broadcast a creation announcement for this ordered pair.
type AnnouncePair struct{ First, Second string }

// EnterSession - the local side is part of the announced pair: leave the
// queue and join the session channel.
type EnterSession struct {
	SessionID string
	Creator   bool
}

// MatchCancelled - membership dropped below two after pairing; report and
// return to the waiting pool.
type MatchCancelled struct{}

// WaitingCount - surface the current queue size.
type WaitingCount struct{ Count int }

func (AnnouncePair) isEffect()   {}
func (EnterSession) isEffect()   {}
func (MatchCancelled) isEffect() {}
func (WaitingCount) isEffect()   {}

// Transition - the matchmaking state machine. Leader election is a pure
// function of the member id set, never of event arrival order, so both sides
// converge on the same creator whatever interleaving they observe.
func Transition(state State, event Event) (State, []Effect) {
	switch ev := event.(type) {
	case Snapshot:
		state.Members = lo.SliceToMap(ev.Members, func(id string) (string, struct{}) {
			return id, struct{}{}
		})
		return maybeAnnounce(state, []Effect{WaitingCount{Count: len(state.Members)}})

	case MemberJoined:
		state.Members = withMember(state.Members, ev.ID)
		return maybeAnnounce(state, []Effect{WaitingCount{Count: len(state.Members)}})

	case MemberLeft:
		state.Members = withoutMember(state.Members, ev.ID)
		effects := []Effect{WaitingCount{Count: len(state.Members)}}

		if state.Matched && len(state.Members) < 2 {
			state.Matched = false
			state.Created = false
			effects = append(effects, MatchCancelled{})
		}

		return state, effects

	case AnnouncementReceived:
		return acceptAnnouncement(state, ev.Announce)
	}

	return state, nil
}

// maybeAnnounce - runs leader election once the queue holds two or more
// participants. The lexicographically smallest id creates the session.
func maybeAnnounce(state State, effects []Effect) (State, []Effect) {
	if len(state.Members) < 2 || state.Created || state.Matched {
		return state, effects
	}

	sorted := sortedMembers(state.Members)
	if sorted[0] != state.SelfID {
		return state, effects
	}

	state.Created = true

	return state, append(effects, AnnouncePair{First: sorted[0], Second: sorted[1]})
}

func acceptAnnouncement(state State, announce protocol.SessionCreated) (State, []Effect) {
	if state.Matched {
		return state, nil
	}

	// Only announcements naming the local participant are accepted.
	if !lo.Contains([]string{announce.ParticipantA, announce.ParticipantB}, state.SelfID) {
		return state, nil
	}

	if err := entity.ValidateSessionID(announce.SessionID); err != nil {
		return state, nil
	}

	state.Matched = true

	return state, []Effect{EnterSession{
		SessionID: announce.SessionID,
		Creator:   announce.ParticipantA == state.SelfID,
	}}
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
