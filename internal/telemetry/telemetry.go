// Package telemetry derives rolling signals from a room's move history.
//
// All functions are pure: they take the persisted history and return numbers,
// leaving storage and locking to the caller.
package telemetry

import (
	"time"

	"github.com/CALM-Lab/GameBridge/internal/models"
)

// participantMoves filters the history to one participant's board moves,
// preserving order. Pre-start rolls are excluded because they never change
// position.
func participantMoves(moves []models.Move, participantID string) []models.Move {
	var out []models.Move
	for _, m := range moves {
		if m.ParticipantID == participantID && !m.PreStart {
			out = append(out, m)
		}
	}
	return out
}

// RepeatCount reports how many times the participant landed on their current
// cell within the most recent window of their own moves. A nil window means
// the whole history counts. The second return value is the cell in question;
// both are zero when the participant has no board moves yet.
func RepeatCount(moves []models.Move, participantID string, window *int) (count, pos int) {
	own := participantMoves(moves, participantID)
	if len(own) == 0 {
		return 0, 0
	}
	pos = own[len(own)-1].ToPos
	start := 0
	if window != nil && *window > 0 && len(own) > *window {
		start = len(own) - *window
	}
	for _, m := range own[start:] {
		if m.ToPos == pos {
			count++
		}
	}
	return count, pos
}

// SetbackStreak reports the participant's current run of consecutive moves
// that ended in an adverse jump. Any move without one resets the streak.
func SetbackStreak(moves []models.Move, participantID string) int {
	own := participantMoves(moves, participantID)
	streak := 0
	for i := len(own) - 1; i >= 0; i-- {
		if !own[i].IsSetback() {
			break
		}
		streak++
	}
	return streak
}

// PreStartRolls counts the dice rolls recorded for the room before board
// movement began.
func PreStartRolls(moves []models.Move) int {
	count := 0
	for _, m := range moves {
		if m.PreStart {
			count++
		}
	}
	return count
}

// InactivityMinutes reports whole minutes since the room's last recorded move
// of any kind, falling back to room creation when no moves exist yet.
func InactivityMinutes(moves []models.Move, roomCreatedAt, now time.Time) int {
	last := roomCreatedAt
	for _, m := range moves {
		if m.CreatedAt.After(last) {
			last = m.CreatedAt
		}
	}
	elapsed := now.Sub(last)
	if elapsed < 0 {
		return 0
	}
	return int(elapsed / time.Minute)
}

// Compute assembles the full signal set for one participant at the current
// point in the history. The repeat window comes from trigger configuration,
// so the repeat count here uses the whole history; trigger evaluation
// recomputes it per trigger with that trigger's window.
func Compute(room models.Room, moves []models.Move, participantID string, now time.Time) models.Signals {
	repeat, pos := RepeatCount(moves, participantID, nil)
	atSeq := 0
	if len(moves) > 0 {
		atSeq = moves[len(moves)-1].Seq
	}
	return models.Signals{
		ParticipantID:     participantID,
		RepeatCount:       repeat,
		RepeatPos:         pos,
		SetbackStreak:     SetbackStreak(moves, participantID),
		PreStartRolls:     PreStartRolls(moves),
		InactivityMinutes: InactivityMinutes(moves, room.CreatedAt, now),
		AtSeq:             atSeq,
	}
}
