// Package engine applies dice rolls to the board and guards turn order.
package engine

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/CALM-Lab/GameBridge/internal/board"
	"github.com/CALM-Lab/GameBridge/internal/models"
	"github.com/CALM-Lab/GameBridge/internal/store"
)

// Roller produces dice values in [1, sides].
type Roller interface {
	Roll(sides int) int
}

type systemRoller struct{}

func (systemRoller) Roll(sides int) int { return rand.IntN(sides) + 1 }

// SystemRoller returns the default crypto-free dice source.
func SystemRoller() Roller { return systemRoller{} }

// Engine validates and records moves. Callers must serialize SubmitMove per
// room; the engine itself holds no room state between calls.
type Engine struct {
	store  store.Store
	boards *board.Catalog
	dice   Roller
	now    func() time.Time
}

// NewEngine creates a turn engine over the given store and board catalog.
func NewEngine(st store.Store, boards *board.Catalog, dice Roller) *Engine {
	if dice == nil {
		dice = systemRoller{}
	}
	return &Engine{store: st, boards: boards, dice: dice, now: time.Now}
}

// EligibleActors filters the roster to participants who take turns: players
// always, the therapist only when the room is configured for it. The result
// is ordered by turn order.
func EligibleActors(room models.Room, roster []models.Participant) []models.Participant {
	var out []models.Participant
	for _, p := range roster {
		if p.Role == models.RolePlayer || (p.Role == models.RoleTherapist && room.TherapistPlays) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TurnOrder < out[j].TurnOrder })
	return out
}

// NextActor determines whose turn it is: the successor of the most recent
// mover who is still on the roster, wrapping round-robin. With no usable
// history the first eligible participant starts.
func NextActor(room models.Room, roster []models.Participant, moves []models.Move) (models.Participant, error) {
	eligible := EligibleActors(room, roster)
	if len(eligible) == 0 {
		return models.Participant{}, models.ErrNoEligibleActors
	}

	for i := len(moves) - 1; i >= 0; i-- {
		for idx, p := range eligible {
			if p.ID == moves[i].ParticipantID {
				return eligible[(idx+1)%len(eligible)], nil
			}
		}
		// Mover has left the room; fall through to an earlier move.
	}
	return eligible[0], nil
}

// Position reports the participant's current cell, the destination of their
// last board move. Pre-start rolls never change position.
func Position(moves []models.Move, participantID string) int {
	for i := len(moves) - 1; i >= 0; i-- {
		if moves[i].ParticipantID == participantID && !moves[i].PreStart {
			return moves[i].ToPos
		}
	}
	return board.Start
}

// SubmitMove validates the actor's turn, rolls (or accepts an override),
// resolves board movement and appends the move to the room history.
func (e *Engine) SubmitMove(room models.Room, roster []models.Participant, actorID string, diceOverride *int) (*models.Move, error) {
	if room.Status != models.RoomStatusActive {
		return nil, models.ErrRoomNotActive
	}
	b, err := e.boards.Lookup(room.BoardName)
	if err != nil {
		return nil, fmt.Errorf("room %s has unknown board %q: %w", room.ID, room.BoardName, err)
	}
	if diceOverride != nil && !b.ValidDice(*diceOverride) {
		return nil, models.ErrInvalidDiceOverride
	}

	moves, err := e.store.ListMoves(room.ID)
	if err != nil {
		return nil, err
	}
	expected, err := NextActor(room, roster, moves)
	if err != nil {
		return nil, err
	}
	if expected.ID != actorID {
		slog.Debug("Engine SubmitMove rejected out-of-turn actor",
			"roomID", room.ID, "actor", actorID, "expected", expected.ID)
		return nil, models.ErrNotYourTurn
	}

	dice := 0
	if diceOverride != nil {
		dice = *diceOverride
	} else {
		dice = e.dice.Roll(b.DieSides)
	}

	seq := len(moves) + 1
	move := models.Move{
		RoomID:        room.ID,
		Seq:           seq,
		ParticipantID: actorID,
		Dice:          dice,
		CreatedAt:     e.now(),
	}

	if seq <= room.PreStartRolls {
		// Recorded for telemetry but produces no movement.
		pos := Position(moves, actorID)
		move.FromPos = pos
		move.ToPos = pos
		move.PreStart = true
	} else {
		from := Position(moves, actorID)
		to, jump := b.Resolve(from, dice)
		move.FromPos = from
		move.ToPos = to
		if jump != nil {
			move.AppliedJumpFrom = &jump.From
			move.AppliedJumpTo = &jump.To
		}
	}

	if err := e.store.AppendMove(move); err != nil {
		return nil, err
	}
	slog.Debug("Engine SubmitMove recorded",
		"roomID", room.ID, "seq", move.Seq, "actor", actorID,
		"dice", dice, "from", move.FromPos, "to", move.ToPos, "preStart", move.PreStart)
	return &move, nil
}
