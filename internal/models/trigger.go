// Package models: intervention trigger catalog and runtime intervention records.
package models

import (
	"errors"
	"time"
)

// Severity classifies how urgently a fired intervention should be treated.
type Severity string

const (
	// SeverityInfo marks routine, low-urgency interventions.
	SeverityInfo Severity = "info"
	// SeverityAttention marks interventions a therapist should look at soon.
	SeverityAttention Severity = "attention"
	// SeverityCritical marks interventions requiring immediate attention.
	SeverityCritical Severity = "critical"
)

// IsValidSeverity checks if the given severity is supported.
func IsValidSeverity(s Severity) bool {
	switch s {
	case SeverityInfo, SeverityAttention, SeverityCritical:
		return true
	default:
		return false
	}
}

// InterventionStatus is the approval state of a fired intervention.
type InterventionStatus string

const (
	// InterventionAutoApproved means the intervention was published without review.
	InterventionAutoApproved InterventionStatus = "auto_approved"
	// InterventionPending means the intervention awaits therapist action.
	InterventionPending InterventionStatus = "pending"
	// InterventionApproved means the therapist approved the intervention.
	InterventionApproved InterventionStatus = "approved"
	// InterventionRejected means the therapist rejected the intervention.
	// Rejected interventions are retained for audit but never shown to players.
	InterventionRejected InterventionStatus = "rejected"
)

// Validation errors for trigger catalog entries.
var (
	ErrEmptyTriggerID       = errors.New("trigger id cannot be empty")
	ErrInvalidSeverity      = errors.New("invalid trigger severity")
	ErrNegativeCooldown     = errors.New("cooldown values cannot be negative")
	ErrNoThresholds         = errors.New("trigger has no configured thresholds")
	ErrNoRenderableContent  = errors.New("trigger has neither prompts nor metadata templates")
	ErrMissingUserPrompt    = errors.New("prompt template requires a user instruction")
	ErrEmptyPromptLocale    = errors.New("prompt template requires a locale")
	ErrNegativeThreshold    = errors.New("threshold values cannot be negative")
)

// Thresholds is the optional numeric condition bundle of a trigger. A nil
// field means the corresponding signal is not evaluated for that trigger; all
// configured fields must hold (signal >= threshold) for the trigger to become
// a candidate.
type Thresholds struct {
	RepeatCount       *int `json:"repeat_count,omitempty"`
	RepeatWindowMoves *int `json:"repeat_window_moves,omitempty"`
	SetbackStreak     *int `json:"setback_streak,omitempty"`
	PreStartRolls     *int `json:"pre_start_rolls,omitempty"`
	InactivityMinutes *int `json:"inactivity_minutes,omitempty"`
}

// Configured reports whether at least one comparable threshold is set.
// RepeatWindowMoves only scopes RepeatCount and does not count on its own.
func (t Thresholds) Configured() bool {
	return t.RepeatCount != nil || t.SetbackStreak != nil || t.PreStartRolls != nil || t.InactivityMinutes != nil
}

// TriggerMetadata holds the deterministic fallback templates for a trigger.
// They are interpolated directly when the trigger does not use AI, or when
// content generation fails.
type TriggerMetadata struct {
	Message     string `json:"message,omitempty"`
	Question    string `json:"question,omitempty"`
	MicroAction string `json:"micro_action,omitempty"`
}

// Empty reports whether no fallback template is set.
func (m TriggerMetadata) Empty() bool {
	return m.Message == "" && m.Question == "" && m.MicroAction == ""
}

// PromptTemplate is a localized content-generation prompt for a trigger.
type PromptTemplate struct {
	Locale       string `json:"locale"`
	Name         string `json:"name"`
	Active       bool   `json:"active"`
	Priority     int    `json:"priority"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	UserPrompt   string `json:"user_prompt"` // may reference room/participant/trigger variables
}

// TriggerConfig is one externally administered entry of the trigger catalog.
// The engine treats the catalog as a read-only input within an evaluation; it
// may change between evaluations without a restart.
type TriggerConfig struct {
	ID                  string           `json:"id"`
	Enabled             bool             `json:"enabled"`
	UsesAI              bool             `json:"uses_ai"`
	Sensitive           bool             `json:"sensitive"` // stricter downstream visibility, firing logic unchanged
	RequiresApproval    bool             `json:"requires_approval"`
	AutoApproveWhenSolo bool             `json:"auto_approve_when_solo"`
	Severity            Severity         `json:"severity"`
	CooldownMoves       int              `json:"cooldown_moves"`
	Cooldown            time.Duration    `json:"cooldown"`
	Thresholds          Thresholds       `json:"thresholds"`
	Metadata            TriggerMetadata  `json:"metadata"`
	Prompts             []PromptTemplate `json:"prompts,omitempty"`
}

// Validate checks a catalog entry for internal consistency. An invalid entry
// is treated as permanently non-firing by the trigger engine; it is reported
// but never fatal to a room session.
func (c TriggerConfig) Validate() error {
	if c.ID == "" {
		return ErrEmptyTriggerID
	}
	if !IsValidSeverity(c.Severity) {
		return ErrInvalidSeverity
	}
	if c.CooldownMoves < 0 || c.Cooldown < 0 {
		return ErrNegativeCooldown
	}
	for _, v := range []*int{
		c.Thresholds.RepeatCount, c.Thresholds.RepeatWindowMoves,
		c.Thresholds.SetbackStreak, c.Thresholds.PreStartRolls,
		c.Thresholds.InactivityMinutes,
	} {
		if v != nil && *v < 0 {
			return ErrNegativeThreshold
		}
	}
	if !c.Thresholds.Configured() {
		return ErrNoThresholds
	}
	if c.Metadata.Empty() && !c.hasUsablePrompt() {
		return ErrNoRenderableContent
	}
	for _, p := range c.Prompts {
		if p.Locale == "" {
			return ErrEmptyPromptLocale
		}
		if p.UserPrompt == "" {
			return ErrMissingUserPrompt
		}
	}
	return nil
}

func (c TriggerConfig) hasUsablePrompt() bool {
	if !c.UsesAI {
		return false
	}
	for _, p := range c.Prompts {
		if p.Active && p.UserPrompt != "" {
			return true
		}
	}
	return false
}

// Intervention is a fired trigger's runtime record: rendered content plus the
// approval state and the telemetry window that caused the firing. It is
// created by the trigger engine and mutated only by the approval workflow.
type Intervention struct {
	ID            string             `json:"id"`
	TriggerID     string             `json:"trigger_id"`
	RoomID        string             `json:"room_id"`
	ParticipantID string             `json:"participant_id,omitempty"`
	Severity      Severity           `json:"severity"`
	Sensitive     bool               `json:"sensitive"`
	Content       string             `json:"content"`
	Degraded      bool               `json:"degraded"` // fallback content after a generation failure
	Status        InterventionStatus `json:"status"`
	FiredAtSeq    int                `json:"fired_at_seq"`
	FiredAt       time.Time          `json:"fired_at"`
	ResolvedBy    string             `json:"resolved_by,omitempty"`
	ResolvedAt    *time.Time         `json:"resolved_at,omitempty"`
	Signals       Signals            `json:"signals"`
}

// VisibleToPlayers reports whether the intervention content may be shown to
// playing participants. Sensitive content stays therapist-only regardless of
// approval state.
func (i Intervention) VisibleToPlayers() bool {
	if i.Sensitive {
		return false
	}
	return i.Status == InterventionAutoApproved || i.Status == InterventionApproved
}
