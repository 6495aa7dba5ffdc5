// Package trigger evaluates telemetry signals against the configured
// intervention catalog and tracks per-room cooldown state.
package trigger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/CALM-Lab/GameBridge/internal/models"
	"github.com/CALM-Lab/GameBridge/internal/telemetry"
)

// configSource is the slice of the store the engine reads on every
// evaluation, so configuration changes apply without a restart.
type configSource interface {
	ListTriggerConfigs() ([]models.TriggerConfig, error)
	HasPendingIntervention(roomID, triggerID string) (bool, error)
}

// cooldownKey identifies one cooldown track.
type cooldownKey struct {
	roomID    string
	triggerID string
}

// cooldownState records when a trigger last fired for a room. Release
// requires both the move-count and time dimensions to elapse.
type cooldownState struct {
	firedSeq int
	firedAt  time.Time
}

// Firing is one trigger that fired during an evaluation, with the signals
// that caused it.
type Firing struct {
	Config  models.TriggerConfig
	Signals models.Signals
}

// Engine decides which triggers fire for a room. Callers must serialize
// evaluations per room; the engine's own lock only guards the cooldown map
// across rooms.
type Engine struct {
	source    configSource
	mu        sync.Mutex
	cooldowns map[cooldownKey]cooldownState
}

// NewEngine creates a trigger engine reading configuration from source.
func NewEngine(source configSource) *Engine {
	return &Engine{
		source:    source,
		cooldowns: make(map[cooldownKey]cooldownState),
	}
}

// SeedCooldown primes the cooldown track for a (room, trigger) pair, used on
// startup to restore state from persisted interventions.
func (e *Engine) SeedCooldown(roomID, triggerID string, firedSeq int, firedAt time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cooldowns[cooldownKey{roomID, triggerID}] = cooldownState{firedSeq: firedSeq, firedAt: firedAt}
}

// ClearRoom drops all cooldown state for a room, called when the room leaves
// the active status.
func (e *Engine) ClearRoom(roomID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.cooldowns {
		if key.roomID == roomID {
			delete(e.cooldowns, key)
		}
	}
}

// Evaluate runs the full catalog against the room's current signals and
// returns every trigger that fires. participantID may be empty for
// room-level sweeps; participant-scoped signals then read as zero.
// Firing immediately starts the trigger's cooldown.
func (e *Engine) Evaluate(room models.Room, moves []models.Move, participantID string, now time.Time) ([]Firing, error) {
	if room.Status != models.RoomStatusActive {
		return nil, nil
	}
	configs, err := e.source.ListTriggerConfigs()
	if err != nil {
		return nil, err
	}

	atSeq := 0
	if len(moves) > 0 {
		atSeq = moves[len(moves)-1].Seq
	}
	base := telemetry.Compute(room, moves, participantID, now)

	var fired []Firing
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if err := cfg.Validate(); err != nil {
			// Misconfigured triggers never fire but must not break the room.
			slog.Warn("Trigger config invalid, treating as non-firing", "triggerID", cfg.ID, "error", err)
			continue
		}

		signals := base
		signals.RepeatCount, signals.RepeatPos = telemetry.RepeatCount(moves, participantID, cfg.Thresholds.RepeatWindowMoves)
		if !thresholdsMet(cfg.Thresholds, signals) {
			continue
		}

		if !e.cooldownReleased(room.ID, cfg.ID, atSeq, now, cfg) {
			slog.Debug("Trigger candidate suppressed by cooldown", "roomID", room.ID, "triggerID", cfg.ID, "atSeq", atSeq)
			continue
		}

		pending, err := e.source.HasPendingIntervention(room.ID, cfg.ID)
		if err != nil {
			return fired, err
		}
		if pending {
			slog.Debug("Trigger candidate suppressed by pending intervention", "roomID", room.ID, "triggerID", cfg.ID)
			continue
		}

		e.mu.Lock()
		e.cooldowns[cooldownKey{room.ID, cfg.ID}] = cooldownState{firedSeq: atSeq, firedAt: now}
		e.mu.Unlock()
		slog.Info("Trigger fired", "roomID", room.ID, "triggerID", cfg.ID, "severity", cfg.Severity, "atSeq", atSeq)
		fired = append(fired, Firing{Config: cfg, Signals: signals})
	}
	return fired, nil
}

// thresholdsMet applies signal >= threshold for every configured field.
// Unset fields are vacuously true; all configured fields must hold.
func thresholdsMet(t models.Thresholds, s models.Signals) bool {
	if !t.Configured() {
		return false
	}
	if t.RepeatCount != nil && s.RepeatCount < *t.RepeatCount {
		return false
	}
	if t.SetbackStreak != nil && s.SetbackStreak < *t.SetbackStreak {
		return false
	}
	if t.PreStartRolls != nil && s.PreStartRolls < *t.PreStartRolls {
		return false
	}
	if t.InactivityMinutes != nil && s.InactivityMinutes < *t.InactivityMinutes {
		return false
	}
	return true
}

// cooldownReleased reports whether both cooldown dimensions have elapsed
// since the last firing for this (room, trigger) pair.
func (e *Engine) cooldownReleased(roomID, triggerID string, atSeq int, now time.Time, cfg models.TriggerConfig) bool {
	e.mu.Lock()
	state, ok := e.cooldowns[cooldownKey{roomID, triggerID}]
	e.mu.Unlock()
	if !ok {
		return true
	}
	if atSeq-state.firedSeq < cfg.CooldownMoves {
		return false
	}
	if now.Sub(state.firedAt) < cfg.Cooldown {
		return false
	}
	return true
}
