package engine

import (
	"testing"
	"time"

	"github.com/CALM-Lab/GameBridge/internal/board"
	"github.com/CALM-Lab/GameBridge/internal/models"
	"github.com/CALM-Lab/GameBridge/internal/store"
)

func intPtr(v int) *int { return &v }

// scriptedRoller returns canned dice values in order.
type scriptedRoller struct {
	values []int
	pos    int
}

func (r *scriptedRoller) Roll(sides int) int {
	v := r.values[r.pos%len(r.values)]
	r.pos++
	return v
}

func newTestEngine(t *testing.T, dice Roller) (*Engine, store.Store) {
	t.Helper()
	st := store.NewInMemoryStore()
	return NewEngine(st, board.NewCatalog(), dice), st
}

func activeRoom(preStartRolls int, therapistPlays bool) models.Room {
	return models.Room{
		ID:             "room_1",
		JoinCode:       "ABC123",
		Status:         models.RoomStatusActive,
		Capacity:       4,
		TherapistPlays: therapistPlays,
		PreStartRolls:  preStartRolls,
		Locale:         "en",
		BoardName:      board.DefaultName,
		CreatedAt:      time.Now(),
	}
}

func player(id string, order int) models.Participant {
	return models.Participant{ID: id, RoomID: "room_1", Role: models.RolePlayer, DisplayName: id, TurnOrder: order}
}

func therapist(id string, order int) models.Participant {
	p := player(id, order)
	p.Role = models.RoleTherapist
	return p
}

func TestSubmitMoveRejectsInactiveRoom(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	room := activeRoom(0, false)
	room.Status = models.RoomStatusWaiting
	_, err := e.SubmitMove(room, []models.Participant{player("p_1", 0)}, "p_1", nil)
	if err != models.ErrRoomNotActive {
		t.Errorf("expected ErrRoomNotActive, got %v", err)
	}
}

func TestSubmitMoveRejectsOutOfTurnActor(t *testing.T) {
	e, st := newTestEngine(t, &scriptedRoller{values: []int{1}})
	room := activeRoom(0, false)
	roster := []models.Participant{player("p_1", 0), player("p_2", 1)}

	_, err := e.SubmitMove(room, roster, "p_2", nil)
	if err != models.ErrNotYourTurn {
		t.Fatalf("expected ErrNotYourTurn, got %v", err)
	}
	moves, _ := st.ListMoves(room.ID)
	if len(moves) != 0 {
		t.Errorf("rejected move must not be persisted, found %d moves", len(moves))
	}
}

func TestSubmitMoveRoundRobin(t *testing.T) {
	e, st := newTestEngine(t, &scriptedRoller{values: []int{1, 2, 1}})
	room := activeRoom(0, false)
	roster := []models.Participant{player("p_1", 0), player("p_2", 1)}

	for i, actor := range []string{"p_1", "p_2", "p_1"} {
		m, err := e.SubmitMove(room, roster, actor, nil)
		if err != nil {
			t.Fatalf("move %d by %s failed: %v", i+1, actor, err)
		}
		if m.Seq != i+1 {
			t.Errorf("expected seq %d, got %d", i+1, m.Seq)
		}
	}
	moves, _ := st.ListMoves(room.ID)
	if len(moves) != 3 {
		t.Fatalf("expected 3 persisted moves, got %d", len(moves))
	}
	for i, m := range moves {
		if m.Seq != i+1 {
			t.Errorf("sequence gap at index %d: seq %d", i, m.Seq)
		}
	}
}

func TestSubmitMovePreStartRollsProduceNoMovement(t *testing.T) {
	e, _ := newTestEngine(t, &scriptedRoller{values: []int{6, 6, 2}})
	room := activeRoom(2, false)
	roster := []models.Participant{player("p_1", 0), player("p_2", 1)}

	m1, err := e.SubmitMove(room, roster, "p_1", nil)
	if err != nil {
		t.Fatalf("pre-start move failed: %v", err)
	}
	if !m1.PreStart || m1.FromPos != 0 || m1.ToPos != 0 {
		t.Errorf("expected recorded pre-start roll without movement, got %+v", m1)
	}

	// Pre-start rolls still advance the turn.
	m2, err := e.SubmitMove(room, roster, "p_2", nil)
	if err != nil {
		t.Fatalf("second pre-start move failed: %v", err)
	}
	if !m2.PreStart {
		t.Errorf("expected second roll to be pre-start, got %+v", m2)
	}

	m3, err := e.SubmitMove(room, roster, "p_1", nil)
	if err != nil {
		t.Fatalf("first board move failed: %v", err)
	}
	if m3.PreStart {
		t.Error("third roll should move on the board")
	}
	if m3.FromPos != 0 || m3.ToPos != 2 {
		t.Errorf("expected move 0 -> 2, got %d -> %d", m3.FromPos, m3.ToPos)
	}
}

func TestSubmitMoveDiceOverrideAndJumpResolution(t *testing.T) {
	e, st := newTestEngine(t, nil)
	room := activeRoom(0, false)
	roster := []models.Participant{player("p_1", 0)}

	// Walk to cell 10: 6 + 4. Cell 10 carries no jump on the default board.
	if _, err := e.SubmitMove(room, roster, "p_1", intPtr(6)); err != nil {
		t.Fatalf("override move failed: %v", err)
	}
	if _, err := e.SubmitMove(room, roster, "p_1", intPtr(4)); err != nil {
		t.Fatalf("override move failed: %v", err)
	}

	// From 10, dice 3 lands raw on 13 which jumps back to 4.
	m, err := e.SubmitMove(room, roster, "p_1", intPtr(3))
	if err != nil {
		t.Fatalf("override move failed: %v", err)
	}
	if m.FromPos != 10 || m.ToPos != 4 {
		t.Errorf("expected 10 -> 4 via jump, got %d -> %d", m.FromPos, m.ToPos)
	}
	if m.AppliedJumpFrom == nil || *m.AppliedJumpFrom != 13 || m.AppliedJumpTo == nil || *m.AppliedJumpTo != 4 {
		t.Errorf("applied jump not recorded: %+v", m)
	}
	if !m.IsSetback() {
		t.Error("jump 13 -> 4 should read as a setback")
	}

	moves, _ := st.ListMoves(room.ID)
	if len(moves) != 3 {
		t.Errorf("expected 3 moves persisted, got %d", len(moves))
	}
}

func TestSubmitMoveRejectsOutOfRangeOverride(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	room := activeRoom(0, false)
	roster := []models.Participant{player("p_1", 0)}

	for _, v := range []int{0, 7, -1} {
		if _, err := e.SubmitMove(room, roster, "p_1", intPtr(v)); err != models.ErrInvalidDiceOverride {
			t.Errorf("override %d: expected ErrInvalidDiceOverride, got %v", v, err)
		}
	}
}

func TestEligibleActorsTherapistConfiguration(t *testing.T) {
	roster := []models.Participant{therapist("p_t", 0), player("p_1", 1)}

	room := activeRoom(0, false)
	eligible := EligibleActors(room, roster)
	if len(eligible) != 1 || eligible[0].ID != "p_1" {
		t.Errorf("non-playing therapist must not take turns: %+v", eligible)
	}

	room.TherapistPlays = true
	eligible = EligibleActors(room, roster)
	if len(eligible) != 2 || eligible[0].ID != "p_t" {
		t.Errorf("playing therapist must join the rotation: %+v", eligible)
	}
}

func TestNextActorSurvivesRosterChurn(t *testing.T) {
	room := activeRoom(0, false)
	p1, p2, p3 := player("p_1", 0), player("p_2", 1), player("p_3", 2)
	moves := []models.Move{
		{RoomID: room.ID, Seq: 1, ParticipantID: "p_1", ToPos: 2},
		{RoomID: room.ID, Seq: 2, ParticipantID: "p_2", ToPos: 3},
	}

	// p_2 leaves; the most recent mover still present is p_1, so p_3 is next.
	next, err := NextActor(room, []models.Participant{p1, p3}, moves)
	if err != nil {
		t.Fatalf("NextActor failed: %v", err)
	}
	if next.ID != "p_3" {
		t.Errorf("expected p_3 after roster churn, got %s", next.ID)
	}

	// Empty history starts with the lowest turn order regardless of roster
	// slice ordering.
	next, err = NextActor(room, []models.Participant{p2, p1}, nil)
	if err != nil {
		t.Fatalf("NextActor failed: %v", err)
	}
	if next.ID != "p_1" {
		t.Errorf("expected lowest turn order to start, got %s", next.ID)
	}

	if _, err := NextActor(room, nil, nil); err != models.ErrNoEligibleActors {
		t.Errorf("expected ErrNoEligibleActors, got %v", err)
	}
}

func TestPositionIgnoresPreStartRolls(t *testing.T) {
	moves := []models.Move{
		{Seq: 1, ParticipantID: "p_1", ToPos: 0, PreStart: true},
		{Seq: 2, ParticipantID: "p_1", ToPos: 5},
		{Seq: 3, ParticipantID: "p_2", ToPos: 9},
	}
	if got := Position(moves, "p_1"); got != 5 {
		t.Errorf("expected position 5, got %d", got)
	}
	if got := Position(moves, "p_3"); got != board.Start {
		t.Errorf("expected start position for new participant, got %d", got)
	}
}
