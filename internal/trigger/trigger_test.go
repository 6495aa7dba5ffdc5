package trigger

import (
	"testing"
	"time"

	"github.com/CALM-Lab/GameBridge/internal/models"
)

func intPtr(v int) *int { return &v }

// fakeSource implements configSource for testing.
type fakeSource struct {
	configs []models.TriggerConfig
	pending map[string]bool
}

func (f *fakeSource) ListTriggerConfigs() ([]models.TriggerConfig, error) {
	return f.configs, nil
}

func (f *fakeSource) HasPendingIntervention(roomID, triggerID string) (bool, error) {
	return f.pending[triggerID], nil
}

func activeRoom() models.Room {
	return models.Room{
		ID:        "room_1",
		Status:    models.RoomStatusActive,
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func repeatConfig(id string, count, window int) models.TriggerConfig {
	return models.TriggerConfig{
		ID:       id,
		Enabled:  true,
		Severity: models.SeverityAttention,
		Thresholds: models.Thresholds{
			RepeatCount:       intPtr(count),
			RepeatWindowMoves: intPtr(window),
		},
		Metadata: models.TriggerMetadata{Message: "Noticing a pattern here."},
	}
}

func landing(seq, toPos int) models.Move {
	return models.Move{RoomID: "room_1", Seq: seq, ParticipantID: "p_1", ToPos: toPos}
}

func TestRepeatTriggerFiresOnceThenCoolsDown(t *testing.T) {
	cfg := repeatConfig("repeat_cell", 3, 5)
	cfg.CooldownMoves = 3
	source := &fakeSource{configs: []models.TriggerConfig{cfg}, pending: map[string]bool{}}
	engine := NewEngine(source)
	room := activeRoom()
	now := room.CreatedAt

	// Cell 7 hit at moves 2, 4 and 5.
	history := []models.Move{
		landing(1, 3), landing(2, 7), landing(3, 5), landing(4, 7),
	}
	fired, err := engine.Evaluate(room, history, "p_1", now)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(fired) != 0 {
		t.Fatalf("trigger fired early at move 4: %+v", fired)
	}

	history = append(history, landing(5, 7))
	fired, err = engine.Evaluate(room, history, "p_1", now)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(fired) != 1 {
		t.Fatalf("expected exactly one firing at move 5, got %d", len(fired))
	}
	if fired[0].Signals.RepeatCount != 3 || fired[0].Signals.RepeatPos != 7 {
		t.Errorf("unexpected firing signals: %+v", fired[0].Signals)
	}

	// Moves 6 through 7 stay inside the 3-move cooldown even when cell 7
	// is revisited.
	for seq := 6; seq <= 7; seq++ {
		history = append(history, landing(seq, 7))
		fired, err = engine.Evaluate(room, history, "p_1", now)
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if len(fired) != 0 {
			t.Errorf("trigger re-fired at move %d during cooldown", seq)
		}
	}

	// Move 8 releases the move cooldown (no time cooldown configured).
	history = append(history, landing(8, 7))
	fired, err = engine.Evaluate(room, history, "p_1", now)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(fired) != 1 {
		t.Errorf("expected re-fire after cooldown, got %d firings", len(fired))
	}
}

func TestCooldownRequiresBothDimensions(t *testing.T) {
	cfg := repeatConfig("repeat_cell", 1, 5)
	cfg.CooldownMoves = 2
	cfg.Cooldown = 10 * time.Minute
	source := &fakeSource{configs: []models.TriggerConfig{cfg}, pending: map[string]bool{}}
	engine := NewEngine(source)
	room := activeRoom()
	start := room.CreatedAt

	history := []models.Move{landing(1, 7)}
	fired, _ := engine.Evaluate(room, history, "p_1", start)
	if len(fired) != 1 {
		t.Fatalf("expected initial firing, got %d", len(fired))
	}

	// Move dimension satisfied, time dimension not.
	history = append(history, landing(2, 7), landing(3, 7))
	fired, _ = engine.Evaluate(room, history, "p_1", start.Add(time.Minute))
	if len(fired) != 0 {
		t.Error("trigger re-fired before time cooldown elapsed")
	}

	// Time dimension satisfied, move dimension not.
	engine2 := NewEngine(source)
	engine2.SeedCooldown(room.ID, cfg.ID, 3, start)
	history = append(history, landing(4, 7))
	fired, _ = engine2.Evaluate(room, history, "p_1", start.Add(time.Hour))
	if len(fired) != 0 {
		t.Error("trigger re-fired before move cooldown elapsed")
	}

	// Both elapsed.
	history = append(history, landing(5, 7))
	fired, _ = engine.Evaluate(room, history, "p_1", start.Add(time.Hour))
	if len(fired) != 1 {
		t.Errorf("expected re-fire with both dimensions elapsed, got %d", len(fired))
	}
}

func TestThresholdANDSemantics(t *testing.T) {
	cfg := models.TriggerConfig{
		ID:       "repeat_and_setback",
		Enabled:  true,
		Severity: models.SeverityAttention,
		Thresholds: models.Thresholds{
			RepeatCount:   intPtr(2),
			SetbackStreak: intPtr(1),
		},
		Metadata: models.TriggerMetadata{Message: "Rough stretch."},
	}
	source := &fakeSource{configs: []models.TriggerConfig{cfg}, pending: map[string]bool{}}
	engine := NewEngine(source)
	room := activeRoom()

	// Repeat threshold met, setback streak zero.
	history := []models.Move{landing(1, 7), landing(2, 7)}
	fired, _ := engine.Evaluate(room, history, "p_1", room.CreatedAt)
	if len(fired) != 0 {
		t.Error("trigger fired with only one of two thresholds satisfied")
	}

	// Both thresholds met: revisit 7 via a setback jump.
	from, to := 13, 7
	sb := landing(3, 7)
	sb.AppliedJumpFrom = &from
	sb.AppliedJumpTo = &to
	history = append(history, sb)
	fired, _ = engine.Evaluate(room, history, "p_1", room.CreatedAt)
	if len(fired) != 1 {
		t.Errorf("expected firing with both thresholds satisfied, got %d", len(fired))
	}
}

func TestAllCandidatesFireIndependently(t *testing.T) {
	a := repeatConfig("trigger_a", 1, 5)
	b := repeatConfig("trigger_b", 1, 5)
	source := &fakeSource{configs: []models.TriggerConfig{a, b}, pending: map[string]bool{}}
	engine := NewEngine(source)
	room := activeRoom()

	fired, _ := engine.Evaluate(room, []models.Move{landing(1, 7)}, "p_1", room.CreatedAt)
	if len(fired) != 2 {
		t.Errorf("expected both candidates to fire, got %d", len(fired))
	}
}

func TestPendingInterventionSuppressesCandidate(t *testing.T) {
	cfg := repeatConfig("repeat_cell", 1, 5)
	source := &fakeSource{
		configs: []models.TriggerConfig{cfg},
		pending: map[string]bool{"repeat_cell": true},
	}
	engine := NewEngine(source)
	room := activeRoom()

	fired, _ := engine.Evaluate(room, []models.Move{landing(1, 7)}, "p_1", room.CreatedAt)
	if len(fired) != 0 {
		t.Error("candidate fired while a pending intervention exists for the same trigger")
	}
}

func TestDisabledAndInvalidConfigsNeverFire(t *testing.T) {
	disabled := repeatConfig("disabled", 1, 5)
	disabled.Enabled = false
	// No thresholds and no renderable content.
	broken := models.TriggerConfig{ID: "broken", Enabled: true, Severity: models.SeverityInfo}
	source := &fakeSource{configs: []models.TriggerConfig{disabled, broken}, pending: map[string]bool{}}
	engine := NewEngine(source)
	room := activeRoom()

	fired, err := engine.Evaluate(room, []models.Move{landing(1, 7)}, "p_1", room.CreatedAt)
	if err != nil {
		t.Fatalf("Evaluate must tolerate broken configs: %v", err)
	}
	if len(fired) != 0 {
		t.Errorf("expected no firings, got %d", len(fired))
	}
}

func TestInactiveRoomNeverEvaluates(t *testing.T) {
	cfg := repeatConfig("repeat_cell", 1, 5)
	source := &fakeSource{configs: []models.TriggerConfig{cfg}, pending: map[string]bool{}}
	engine := NewEngine(source)
	room := activeRoom()
	room.Status = models.RoomStatusClosed

	fired, err := engine.Evaluate(room, []models.Move{landing(1, 7)}, "p_1", room.CreatedAt)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if fired != nil {
		t.Errorf("closed room produced firings: %+v", fired)
	}
}

func TestInactivityTriggerOnSweep(t *testing.T) {
	cfg := models.TriggerConfig{
		ID:       "gone_quiet",
		Enabled:  true,
		Severity: models.SeverityInfo,
		Thresholds: models.Thresholds{
			InactivityMinutes: intPtr(30),
		},
		Metadata: models.TriggerMetadata{Question: "Still with us?"},
	}
	source := &fakeSource{configs: []models.TriggerConfig{cfg}, pending: map[string]bool{}}
	engine := NewEngine(source)
	room := activeRoom()

	m := landing(1, 4)
	m.CreatedAt = room.CreatedAt
	history := []models.Move{m}

	// Sweep with no participant context.
	fired, _ := engine.Evaluate(room, history, "", room.CreatedAt.Add(10*time.Minute))
	if len(fired) != 0 {
		t.Error("inactivity trigger fired before threshold")
	}
	fired, _ = engine.Evaluate(room, history, "", room.CreatedAt.Add(45*time.Minute))
	if len(fired) != 1 {
		t.Errorf("expected inactivity firing after 45 minutes, got %d", len(fired))
	}
}

func TestClearRoomResetsCooldowns(t *testing.T) {
	cfg := repeatConfig("repeat_cell", 1, 5)
	cfg.CooldownMoves = 100
	source := &fakeSource{configs: []models.TriggerConfig{cfg}, pending: map[string]bool{}}
	engine := NewEngine(source)
	room := activeRoom()
	history := []models.Move{landing(1, 7)}

	if fired, _ := engine.Evaluate(room, history, "p_1", room.CreatedAt); len(fired) != 1 {
		t.Fatal("expected initial firing")
	}
	if fired, _ := engine.Evaluate(room, history, "p_1", room.CreatedAt); len(fired) != 0 {
		t.Fatal("expected cooldown suppression")
	}
	engine.ClearRoom(room.ID)
	if fired, _ := engine.Evaluate(room, history, "p_1", room.CreatedAt); len(fired) != 1 {
		t.Error("expected firing after cooldown state cleared")
	}
}
