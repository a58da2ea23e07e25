package entity

import (
	"fmt"

	"github.com/rocketscienceinc/tictactoe-relay/internal/apperror"
)

const (
	StatusPlaying = "playing"
	StatusWon     = "won"
	StatusDraw    = "draw"
)

const (
	RoleX = Role("X")
	RoleO = Role("O")

	EmptyCell = Role("")
)

const BoardSize = 3

// WinCombos - the eight winning triples as flat board indices.
var WinCombos = [][3]int{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{2, 4, 6},
}

// Role - the mark a participant plays with. X always moves first.
type Role string

func (that Role) IsValid() bool {
	return that == RoleX || that == RoleO
}

// Opponent - returns the other role.
func (that Role) Opponent() Role {
	if that == RoleX {
		return RoleO
	}
	return RoleX
}

// Board - a 3x3 grid stored flat, row-major.
type Board [9]Role

// Index - converts (row, col) to a flat board index.
func Index(row, col int) int {
	return row*BoardSize + col
}

func (that *Board) Cell(row, col int) Role {
	return that[Index(row, col)]
}

func (that *Board) IsFull() bool {
	for _, cell := range that {
		if cell == EmptyCell {
			return false
		}
	}
	return true
}

// Clear - empties every cell.
func (that *Board) Clear() {
	for i := range that {
		that[i] = EmptyCell
	}
}

// Apply - marks a cell for the given role after validating the move.
func (that *Board) Apply(row, col int, role Role) error {
	if row < 0 || row >= BoardSize || col < 0 || col >= BoardSize {
		return fmt.Errorf("%w: row %d col %d", apperror.ErrInvalidCell, row, col)
	}

	if that[Index(row, col)] != EmptyCell {
		return apperror.ErrCellOccupied
	}

	that[Index(row, col)] = role

	return nil
}

// EvaluateStatus - checks the board for a terminal state.
// Returns the status, the winner (empty for playing and draw) and the flat
// indices of the winning triple (empty unless won).
func EvaluateStatus(board Board) (string, Role, []int) {
	for _, combo := range WinCombos {
		a, b, c := board[combo[0]], board[combo[1]], board[combo[2]]
		if a != EmptyCell && a == b && b == c {
			return StatusWon, a, []int{combo[0], combo[1], combo[2]}
		}
	}

	if board.IsFull() {
		return StatusDraw, EmptyCell, []int{}
	}

	return StatusPlaying, EmptyCell, []int{}
}
