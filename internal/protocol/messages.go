package protocol

// Application-level event names exchanged over a presence channel.
const (
	EventSessionCreated = "session-created"
	EventRoleAssigned   = "role-assigned"
	EventSessionStart   = "session-start"
	EventMove           = "move"
	EventReset          = "reset"
)

// SessionCreated - the matchmaking creation announcement. The creator mints
// the session id and names the ordered pair it believes is joining; the
// creator is always ParticipantA.
type SessionCreated struct {
	SessionID    string `json:"session_id"`
	ParticipantA string `json:"participant_a"`
	ParticipantB string `json:"participant_b"`
}

// RoleAssigned - advisory broadcast of the sender's own role. The counterpart
// adopts the opposite role if it has none yet.
type RoleAssigned struct {
	Role string `json:"role"`
}

// SessionStart - notifies the counterpart that play begins.
type SessionStart struct {
	StartingRole string `json:"starting_role"`
}

// Move - one validated move. Epoch distinguishes board generations so moves
// from before a reset are discarded.
type Move struct {
	Row   int    `json:"row"`
	Col   int    `json:"col"`
	Role  string `json:"role"`
	Epoch int    `json:"epoch"`
}

// Reset - clears the board and advances the epoch.
type Reset struct {
	Epoch int `json:"epoch"`
}
