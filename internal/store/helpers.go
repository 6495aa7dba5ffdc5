package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/CALM-Lab/GameBridge/internal/models"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullableInt converts an optional int for a nullable column.
func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// nullableTime converts an optional time for a nullable column.
func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func scanRoom(row rowScanner) (models.Room, error) {
	var r models.Room
	err := row.Scan(&r.ID, &r.JoinCode, &r.Status, &r.Capacity, &r.TherapistPlays,
		&r.PreStartRolls, &r.Locale, &r.BoardName, &r.DeckName, &r.CreatedAt)
	if err != nil {
		return r, err
	}
	return r, nil
}

func scanParticipant(row rowScanner) (models.Participant, error) {
	var p models.Participant
	var contact sql.NullString
	var consentAt sql.NullTime
	err := row.Scan(&p.ID, &p.RoomID, &p.Role, &p.DisplayName, &contact, &consentAt, &p.JoinedAt, &p.TurnOrder)
	if err != nil {
		return p, err
	}
	p.Contact = contact.String
	if consentAt.Valid {
		p.ConsentAt = &consentAt.Time
	}
	return p, nil
}

func scanInvite(row rowScanner) (models.Invite, error) {
	var inv models.Invite
	var acceptedAt sql.NullTime
	err := row.Scan(&inv.ID, &inv.RoomID, &inv.Contact, &inv.Role, &inv.SentAt, &acceptedAt)
	if err != nil {
		return inv, err
	}
	if acceptedAt.Valid {
		inv.AcceptedAt = &acceptedAt.Time
	}
	return inv, nil
}

func scanMove(row rowScanner) (models.Move, error) {
	var m models.Move
	var jumpFrom, jumpTo sql.NullInt64
	err := row.Scan(&m.RoomID, &m.Seq, &m.ParticipantID, &m.Dice, &m.FromPos, &m.ToPos,
		&jumpFrom, &jumpTo, &m.PreStart, &m.CreatedAt)
	if err != nil {
		return m, fmt.Errorf("scan move failed: %w", err)
	}
	if jumpFrom.Valid {
		v := int(jumpFrom.Int64)
		m.AppliedJumpFrom = &v
	}
	if jumpTo.Valid {
		v := int(jumpTo.Int64)
		m.AppliedJumpTo = &v
	}
	return m, nil
}

func scanCardDraw(row rowScanner) (models.CardDraw, error) {
	var d models.CardDraw
	var cardsJSON string
	var moveSeq sql.NullInt64
	err := row.Scan(&d.ID, &d.RoomID, &d.ParticipantID, &cardsJSON, &moveSeq, &d.CreatedAt)
	if err != nil {
		return d, fmt.Errorf("scan card draw failed: %w", err)
	}
	if err := json.Unmarshal([]byte(cardsJSON), &d.Cards); err != nil {
		return d, fmt.Errorf("decode card draw %s cards: %w", d.ID, err)
	}
	if moveSeq.Valid {
		v := int(moveSeq.Int64)
		d.MoveSeq = &v
	}
	return d, nil
}

func scanTherapyEntry(row rowScanner) (models.TherapyEntry, error) {
	var e models.TherapyEntry
	err := row.Scan(&e.ID, &e.RoomID, &e.ParticipantID, &e.MoveSeq, &e.Body, &e.CreatedAt)
	if err != nil {
		return e, fmt.Errorf("scan therapy entry failed: %w", err)
	}
	return e, nil
}

func scanTriggerConfig(row rowScanner) (models.TriggerConfig, error) {
	var cfg models.TriggerConfig
	var cooldownSeconds int64
	var thresholdsJSON, metadataJSON, promptsJSON string
	err := row.Scan(&cfg.ID, &cfg.Enabled, &cfg.UsesAI, &cfg.Sensitive, &cfg.RequiresApproval,
		&cfg.AutoApproveWhenSolo, &cfg.Severity, &cfg.CooldownMoves, &cooldownSeconds,
		&thresholdsJSON, &metadataJSON, &promptsJSON)
	if err != nil {
		return cfg, fmt.Errorf("scan trigger config failed: %w", err)
	}
	cfg.Cooldown = time.Duration(cooldownSeconds) * time.Second
	if err := json.Unmarshal([]byte(thresholdsJSON), &cfg.Thresholds); err != nil {
		return cfg, fmt.Errorf("decode trigger %s thresholds: %w", cfg.ID, err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &cfg.Metadata); err != nil {
		return cfg, fmt.Errorf("decode trigger %s metadata: %w", cfg.ID, err)
	}
	if promptsJSON != "" {
		if err := json.Unmarshal([]byte(promptsJSON), &cfg.Prompts); err != nil {
			return cfg, fmt.Errorf("decode trigger %s prompts: %w", cfg.ID, err)
		}
	}
	return cfg, nil
}

func scanIntervention(row rowScanner) (models.Intervention, error) {
	var iv models.Intervention
	var participantID, resolvedBy sql.NullString
	var resolvedAt sql.NullTime
	var signalsJSON string
	err := row.Scan(&iv.ID, &iv.TriggerID, &iv.RoomID, &participantID, &iv.Severity,
		&iv.Sensitive, &iv.Content, &iv.Degraded, &iv.Status, &iv.FiredAtSeq, &iv.FiredAt,
		&resolvedBy, &resolvedAt, &signalsJSON)
	if err != nil {
		return iv, fmt.Errorf("scan intervention failed: %w", err)
	}
	iv.ParticipantID = participantID.String
	iv.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		iv.ResolvedAt = &resolvedAt.Time
	}
	if err := json.Unmarshal([]byte(signalsJSON), &iv.Signals); err != nil {
		return iv, fmt.Errorf("decode intervention %s signals: %w", iv.ID, err)
	}
	return iv, nil
}

// triggerConfigColumns marshals the JSON-encoded columns of a trigger config.
func triggerConfigColumns(cfg models.TriggerConfig) (thresholds, metadata, prompts string, err error) {
	tb, err := json.Marshal(cfg.Thresholds)
	if err != nil {
		return "", "", "", fmt.Errorf("encode trigger %s thresholds: %w", cfg.ID, err)
	}
	mb, err := json.Marshal(cfg.Metadata)
	if err != nil {
		return "", "", "", fmt.Errorf("encode trigger %s metadata: %w", cfg.ID, err)
	}
	pb, err := json.Marshal(cfg.Prompts)
	if err != nil {
		return "", "", "", fmt.Errorf("encode trigger %s prompts: %w", cfg.ID, err)
	}
	return string(tb), string(mb), string(pb), nil
}
