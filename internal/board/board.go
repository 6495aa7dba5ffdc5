// Package board defines the static board model for GameBridge rooms.
//
// A board is pure data: cell count, die range, a jump table linking source
// cells to destinations (shortcuts upward, setbacks downward), and an
// overshoot policy for rolls past the final cell. Resolution is deterministic:
// the same from-position and dice value always yield the same result.
package board

import (
	"errors"
	"fmt"
)

// OvershootPolicy fixes what happens when a dice roll would move a participant
// past the final cell.
type OvershootPolicy string

const (
	// OvershootBounce reflects the excess back from the final cell.
	// From 28 on a 30-cell board, a 5 lands on 27 (30 - 3).
	OvershootBounce OvershootPolicy = "bounce"
	// OvershootStay leaves the participant in place when the roll overshoots.
	OvershootStay OvershootPolicy = "stay"
)

// Start is the position every participant begins from.
const Start = 0

// Validation errors for board definitions.
var (
	ErrInvalidCellCount = errors.New("board must have at least one cell")
	ErrInvalidDieSides  = errors.New("die must have at least two sides")
	ErrInvalidPolicy    = errors.New("unknown overshoot policy")
	ErrJumpOutOfRange   = errors.New("jump references a cell outside the board")
	ErrJumpToSelf       = errors.New("jump source and destination are identical")
	ErrUnknownBoard     = errors.New("unknown board")
)

// Jump is a board-defined link between two cells, applied when a move lands on
// its source cell.
type Jump struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// IsSetback reports whether the jump moves the participant backward.
func (j Jump) IsSetback() bool {
	return j.To < j.From
}

// Board is the static definition of one playing board. Positions run from
// Start (0) to Cells inclusive; Cells is the final cell.
type Board struct {
	Name      string          `json:"name"`
	Cells     int             `json:"cells"`
	DieSides  int             `json:"die_sides"`
	Jumps     map[int]int     `json:"jumps"`
	Overshoot OvershootPolicy `json:"overshoot"`
}

// Validate checks the board definition for internal consistency.
func (b Board) Validate() error {
	if b.Cells < 1 {
		return ErrInvalidCellCount
	}
	if b.DieSides < 2 {
		return ErrInvalidDieSides
	}
	if b.Overshoot != OvershootBounce && b.Overshoot != OvershootStay {
		return ErrInvalidPolicy
	}
	for from, to := range b.Jumps {
		if from <= Start || from > b.Cells || to < Start || to > b.Cells {
			return fmt.Errorf("%w: %d -> %d", ErrJumpOutOfRange, from, to)
		}
		if from == to {
			return fmt.Errorf("%w: %d", ErrJumpToSelf, from)
		}
	}
	return nil
}

// ValidDice reports whether a dice value is within the board's die range.
func (b Board) ValidDice(dice int) bool {
	return dice >= 1 && dice <= b.DieSides
}

// Resolve computes the final position for a move from the given position with
// the given dice value. The overshoot policy is applied first, then the jump
// table on the resulting raw target. The applied jump, if any, is returned so
// it can be recorded on the move.
func (b Board) Resolve(from, dice int) (to int, applied *Jump) {
	raw := from + dice
	if raw > b.Cells {
		switch b.Overshoot {
		case OvershootStay:
			raw = from
		default: // bounce
			raw = b.Cells - (raw - b.Cells)
			if raw < Start {
				raw = Start
			}
		}
	}
	if dest, ok := b.Jumps[raw]; ok {
		j := Jump{From: raw, To: dest}
		return dest, &j
	}
	return raw, nil
}

// Final reports whether the position is the board's final cell.
func (b Board) Final(pos int) bool {
	return pos == b.Cells
}
