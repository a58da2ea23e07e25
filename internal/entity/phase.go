package entity

// Session phases. A session starts Waiting, assigns roles once both
// participants are present, plays until the board is terminal and can detour
// through Disconnected when the opponent drops. Aborted is the terminal phase
// for protocol invariant violations.
const (
	PhaseWaiting       = "waiting"
	PhaseRoleAssigning = "role_assigning"
	PhaseReady         = "ready"
	PhasePlaying       = "playing"
	PhaseFinished      = "finished"
	PhaseDisconnected  = "disconnected"
	PhaseAborted       = "aborted"
)
