package apperror

import "errors"

var (
	ErrNotYourTurn     = errors.New("it's not your turn")
	ErrCellOccupied    = errors.New("cell is already occupied")
	ErrInvalidCell     = errors.New("invalid cell index")
	ErrGameFinished    = errors.New("game is already finished")
	ErrGameNotStarted  = errors.New("game is not started")
	ErrGameNotFinished = errors.New("game is not finished yet")
	ErrNoRoleAssigned  = errors.New("no role assigned yet")

	ErrInvalidSessionID = errors.New("invalid session id")
	ErrRoleConflict     = errors.New("both participants computed the same role")

	ErrAlreadyWaiting = errors.New("already in the waiting queue")
	ErrNotSubscribed  = errors.New("not subscribed to a channel")
)
