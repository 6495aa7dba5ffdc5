// Package models defines the core data structures for GameBridge.
//
// It includes room, participant, and move types shared across modules, the
// intervention trigger catalog, and the runtime intervention records produced
// by the trigger engine.
package models

import (
	"errors"
	"time"
)

// RoomStatus represents the lifecycle status of a room.
type RoomStatus string

const (
	// RoomStatusWaiting indicates the room exists but play has not started.
	RoomStatusWaiting RoomStatus = "waiting"
	// RoomStatusActive indicates the room is accepting moves.
	RoomStatusActive RoomStatus = "active"
	// RoomStatusClosed indicates the room was ended before completion.
	RoomStatusClosed RoomStatus = "closed"
	// RoomStatusCompleted indicates the room finished normally.
	RoomStatusCompleted RoomStatus = "completed"
)

// IsValidRoomStatus checks if the given room status is supported.
func IsValidRoomStatus(s RoomStatus) bool {
	switch s {
	case RoomStatusWaiting, RoomStatusActive, RoomStatusClosed, RoomStatusCompleted:
		return true
	default:
		return false
	}
}

// CanTransitionRoomStatus reports whether a room may move from one status to
// another. Transitions are monotonic: waiting -> active -> closed|completed.
func CanTransitionRoomStatus(from, to RoomStatus) bool {
	switch from {
	case RoomStatusWaiting:
		return to == RoomStatusActive || to == RoomStatusClosed
	case RoomStatusActive:
		return to == RoomStatusClosed || to == RoomStatusCompleted
	default:
		return false
	}
}

// Role identifies a participant's role inside a room.
type Role string

const (
	// RoleTherapist is the supervising role that drives approval decisions.
	RoleTherapist Role = "therapist"
	// RolePlayer is a regular playing participant.
	RolePlayer Role = "player"
)

// Error variables for validation and engine failure modes.
var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomNotActive       = errors.New("room is not active")
	ErrRoomNotWaiting      = errors.New("room is not waiting")
	ErrRoomFull            = errors.New("room is at capacity")
	ErrInvalidTransition   = errors.New("invalid room status transition")
	ErrNotYourTurn         = errors.New("not this participant's turn")
	ErrInvalidDiceOverride = errors.New("dice override out of range")
	ErrNoEligibleActors    = errors.New("room has no eligible participants")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrTherapistPresent    = errors.New("room already has a therapist")
	ErrMoveNotFound        = errors.New("move not found")
	ErrInviteNotFound      = errors.New("invite not found")
	ErrInviteAccepted      = errors.New("invite already accepted")
	ErrNotTherapist        = errors.New("only the room therapist may resolve interventions")
	ErrInterventionClosed  = errors.New("intervention already resolved")
	ErrEmptyContact        = errors.New("contact cannot be empty")
	ErrEmptyDisplayName    = errors.New("display name cannot be empty")
)

// Room is one instance of a shared game session among participants.
type Room struct {
	ID             string     `json:"id"`
	JoinCode       string     `json:"join_code"`
	Status         RoomStatus `json:"status"`
	Capacity       int        `json:"capacity"`
	TherapistPlays bool       `json:"therapist_plays"` // therapist occupies a turn slot
	PreStartRolls  int        `json:"pre_start_rolls"` // rolls required before movement begins
	Locale         string     `json:"locale"`
	BoardName      string     `json:"board_name"`
	DeckName       string     `json:"deck_name"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Participant is a room member with role player or therapist.
type Participant struct {
	ID          string     `json:"id"`
	RoomID      string     `json:"room_id"`
	Role        Role       `json:"role"`
	DisplayName string     `json:"display_name"`
	Contact     string     `json:"contact,omitempty"`
	ConsentAt   *time.Time `json:"consent_at,omitempty"`
	JoinedAt    time.Time  `json:"joined_at"`
	TurnOrder   int        `json:"turn_order"`
}

// Invite is a pending invitation to join a room. It does not affect engine
// state until accepted, which creates a Participant.
type Invite struct {
	ID         string     `json:"id"`
	RoomID     string     `json:"room_id"`
	Contact    string     `json:"contact"`
	Role       Role       `json:"role"`
	SentAt     time.Time  `json:"sent_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
}

// Move is one turn's dice roll and resulting position change. Moves are
// append-only: once recorded they are never mutated or deleted.
type Move struct {
	RoomID          string    `json:"room_id"`
	Seq             int       `json:"seq"` // strictly increasing per room, no gaps
	ParticipantID   string    `json:"participant_id"`
	Dice            int       `json:"dice"`
	FromPos         int       `json:"from_pos"`
	ToPos           int       `json:"to_pos"`
	AppliedJumpFrom *int      `json:"applied_jump_from,omitempty"`
	AppliedJumpTo   *int      `json:"applied_jump_to,omitempty"`
	PreStart        bool      `json:"pre_start"` // recorded before the room's pre-start requirement was met
	CreatedAt       time.Time `json:"created_at"`
}

// IsSetback reports whether the move ended in an adverse jump, i.e. a jump
// whose destination is lower than its source.
func (m Move) IsSetback() bool {
	return m.AppliedJumpFrom != nil && m.AppliedJumpTo != nil && *m.AppliedJumpTo < *m.AppliedJumpFrom
}

// CardDraw is a set of cards drawn from the room's configured deck, optionally
// attached to a move.
type CardDraw struct {
	ID            string    `json:"id"`
	RoomID        string    `json:"room_id"`
	ParticipantID string    `json:"participant_id"`
	Cards         []int     `json:"cards"`
	MoveSeq       *int      `json:"move_seq,omitempty"` // nil = standalone draw
	CreatedAt     time.Time `json:"created_at"`
}

// TherapyEntry is a free-form reflection attached to a move. The engine counts
// entries but never interprets their content.
type TherapyEntry struct {
	ID            string    `json:"id"`
	RoomID        string    `json:"room_id"`
	ParticipantID string    `json:"participant_id"`
	MoveSeq       int       `json:"move_seq"`
	Body          string    `json:"body"`
	CreatedAt     time.Time `json:"created_at"`
}

// Signals is the telemetry snapshot derived from a room's move history. The
// repeat fields describe the acting participant's landing pattern; the
// remaining fields are room-wide.
type Signals struct {
	ParticipantID     string `json:"participant_id,omitempty"`
	RepeatCount       int    `json:"repeat_count"`
	RepeatPos         int    `json:"repeat_pos"`
	SetbackStreak     int    `json:"setback_streak"`
	PreStartRolls     int    `json:"pre_start_rolls"`
	InactivityMinutes int    `json:"inactivity_minutes"`
	AtSeq             int    `json:"at_seq"`
}
