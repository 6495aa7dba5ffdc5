// Package store: SQLite-backed implementation.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/CALM-Lab/GameBridge/internal/models"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists GameBridge state in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN (a file path).
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	dsn := cfg.SQLiteDSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite store ready", "path", dsn)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateRoom(r models.Room) error {
	_, err := s.db.Exec(`INSERT INTO rooms (id, join_code, status, capacity, therapist_plays, pre_start_rolls, locale, board_name, deck_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.JoinCode, r.Status, r.Capacity, r.TherapistPlays, r.PreStartRolls, r.Locale, r.BoardName, r.DeckName, r.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateRoom failed", "error", err, "roomID", r.ID)
		return fmt.Errorf("failed to insert room %s: %w", r.ID, err)
	}
	slog.Debug("SQLiteStore CreateRoom succeeded", "roomID", r.ID)
	return nil
}

func (s *SQLiteStore) GetRoom(id string) (*models.Room, error) {
	row := s.db.QueryRow(`SELECT id, join_code, status, capacity, therapist_plays, pre_start_rolls, locale, board_name, deck_name, created_at
		FROM rooms WHERE id = ?`, id)
	r, err := scanRoom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetRoom failed", "error", err, "roomID", id)
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) GetRoomByJoinCode(code string) (*models.Room, error) {
	row := s.db.QueryRow(`SELECT id, join_code, status, capacity, therapist_plays, pre_start_rolls, locale, board_name, deck_name, created_at
		FROM rooms WHERE join_code = ?`, code)
	r, err := scanRoom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetRoomByJoinCode failed", "error", err)
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) UpdateRoomStatus(id string, status models.RoomStatus) error {
	res, err := s.db.Exec(`UPDATE rooms SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		slog.Error("SQLiteStore UpdateRoomStatus failed", "error", err, "roomID", id)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	slog.Debug("SQLiteStore UpdateRoomStatus succeeded", "roomID", id, "status", status)
	return nil
}

func (s *SQLiteStore) ListRoomsByStatus(status models.RoomStatus) ([]models.Room, error) {
	rows, err := s.db.Query(`SELECT id, join_code, status, capacity, therapist_plays, pre_start_rolls, locale, board_name, deck_name, created_at
		FROM rooms WHERE status = ? ORDER BY created_at`, status)
	if err != nil {
		slog.Error("SQLiteStore ListRoomsByStatus query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []models.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddParticipant(p models.Participant) error {
	_, err := s.db.Exec(`INSERT INTO participants (id, room_id, role, display_name, contact, consent_at, joined_at, turn_order)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.RoomID, p.Role, p.DisplayName, nilIfEmpty(p.Contact), nullableTime(p.ConsentAt), p.JoinedAt, p.TurnOrder)
	if err != nil {
		slog.Error("SQLiteStore AddParticipant failed", "error", err, "participantID", p.ID)
		return fmt.Errorf("failed to insert participant %s: %w", p.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListParticipants(roomID string) ([]models.Participant, error) {
	rows, err := s.db.Query(`SELECT id, room_id, role, display_name, contact, consent_at, joined_at, turn_order
		FROM participants WHERE room_id = ? ORDER BY turn_order`, roomID)
	if err != nil {
		slog.Error("SQLiteStore ListParticipants query failed", "error", err, "roomID", roomID)
		return nil, err
	}
	defer rows.Close()

	var out []models.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RemoveParticipant(roomID, participantID string) error {
	res, err := s.db.Exec(`DELETE FROM participants WHERE room_id = ? AND id = ?`, roomID, participantID)
	if err != nil {
		slog.Error("SQLiteStore RemoveParticipant failed", "error", err, "participantID", participantID)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AddInvite(inv models.Invite) error {
	_, err := s.db.Exec(`INSERT INTO invites (id, room_id, contact, role, sent_at, accepted_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.RoomID, inv.Contact, inv.Role, inv.SentAt, nullableTime(inv.AcceptedAt))
	if err != nil {
		slog.Error("SQLiteStore AddInvite failed", "error", err, "inviteID", inv.ID)
		return fmt.Errorf("failed to insert invite %s: %w", inv.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetInvite(id string) (*models.Invite, error) {
	row := s.db.QueryRow(`SELECT id, room_id, contact, role, sent_at, accepted_at FROM invites WHERE id = ?`, id)
	inv, err := scanInvite(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetInvite failed", "error", err, "inviteID", id)
		return nil, err
	}
	return &inv, nil
}

func (s *SQLiteStore) MarkInviteAccepted(id string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE invites SET accepted_at = ? WHERE id = ?`, at, id)
	if err != nil {
		slog.Error("SQLiteStore MarkInviteAccepted failed", "error", err, "inviteID", id)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AppendMove(m models.Move) error {
	_, err := s.db.Exec(`INSERT INTO moves (room_id, seq, participant_id, dice, from_pos, to_pos, applied_jump_from, applied_jump_to, pre_start, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RoomID, m.Seq, m.ParticipantID, m.Dice, m.FromPos, m.ToPos,
		nullableInt(m.AppliedJumpFrom), nullableInt(m.AppliedJumpTo), m.PreStart, m.CreatedAt)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			slog.Warn("SQLiteStore AppendMove sequence conflict", "roomID", m.RoomID, "seq", m.Seq)
			return ErrDuplicateSeq
		}
		slog.Error("SQLiteStore AppendMove failed", "error", err, "roomID", m.RoomID, "seq", m.Seq)
		return fmt.Errorf("failed to insert move %s/%d: %w", m.RoomID, m.Seq, err)
	}
	slog.Debug("SQLiteStore AppendMove succeeded", "roomID", m.RoomID, "seq", m.Seq)
	return nil
}

func (s *SQLiteStore) ListMoves(roomID string) ([]models.Move, error) {
	rows, err := s.db.Query(`SELECT room_id, seq, participant_id, dice, from_pos, to_pos, applied_jump_from, applied_jump_to, pre_start, created_at
		FROM moves WHERE room_id = ? ORDER BY seq`, roomID)
	if err != nil {
		slog.Error("SQLiteStore ListMoves query failed", "error", err, "roomID", roomID)
		return nil, err
	}
	defer rows.Close()

	var out []models.Move
	for rows.Next() {
		m, err := scanMove(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddCardDraw(d models.CardDraw) error {
	cards, err := json.Marshal(d.Cards)
	if err != nil {
		return fmt.Errorf("encode card draw %s cards: %w", d.ID, err)
	}
	_, err = s.db.Exec(`INSERT INTO card_draws (id, room_id, participant_id, cards, move_seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.RoomID, d.ParticipantID, string(cards), nullableInt(d.MoveSeq), d.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddCardDraw failed", "error", err, "drawID", d.ID)
		return fmt.Errorf("failed to insert card draw %s: %w", d.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListCardDraws(roomID string) ([]models.CardDraw, error) {
	rows, err := s.db.Query(`SELECT id, room_id, participant_id, cards, move_seq, created_at
		FROM card_draws WHERE room_id = ? ORDER BY created_at, id`, roomID)
	if err != nil {
		slog.Error("SQLiteStore ListCardDraws query failed", "error", err, "roomID", roomID)
		return nil, err
	}
	defer rows.Close()

	var out []models.CardDraw
	for rows.Next() {
		d, err := scanCardDraw(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddTherapyEntry(e models.TherapyEntry) error {
	_, err := s.db.Exec(`INSERT INTO therapy_entries (id, room_id, participant_id, move_seq, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.RoomID, e.ParticipantID, e.MoveSeq, e.Body, e.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddTherapyEntry failed", "error", err, "entryID", e.ID)
		return fmt.Errorf("failed to insert therapy entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListTherapyEntries(roomID string) ([]models.TherapyEntry, error) {
	rows, err := s.db.Query(`SELECT id, room_id, participant_id, move_seq, body, created_at
		FROM therapy_entries WHERE room_id = ? ORDER BY created_at, id`, roomID)
	if err != nil {
		slog.Error("SQLiteStore ListTherapyEntries query failed", "error", err, "roomID", roomID)
		return nil, err
	}
	defer rows.Close()

	var out []models.TherapyEntry
	for rows.Next() {
		e, err := scanTherapyEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveTriggerConfig(cfg models.TriggerConfig) error {
	thresholds, metadata, prompts, err := triggerConfigColumns(cfg)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO trigger_configs
		(id, enabled, uses_ai, sensitive, requires_approval, auto_approve_when_solo, severity, cooldown_moves, cooldown_seconds, thresholds, metadata, prompts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ID, cfg.Enabled, cfg.UsesAI, cfg.Sensitive, cfg.RequiresApproval, cfg.AutoApproveWhenSolo,
		cfg.Severity, cfg.CooldownMoves, int64(cfg.Cooldown/time.Second), thresholds, metadata, prompts)
	if err != nil {
		slog.Error("SQLiteStore SaveTriggerConfig failed", "error", err, "triggerID", cfg.ID)
		return fmt.Errorf("failed to save trigger config %s: %w", cfg.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListTriggerConfigs() ([]models.TriggerConfig, error) {
	rows, err := s.db.Query(`SELECT id, enabled, uses_ai, sensitive, requires_approval, auto_approve_when_solo, severity, cooldown_moves, cooldown_seconds, thresholds, metadata, prompts
		FROM trigger_configs ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore ListTriggerConfigs query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []models.TriggerConfig
	for rows.Next() {
		cfg, err := scanTriggerConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddIntervention(iv models.Intervention) error {
	signals, err := json.Marshal(iv.Signals)
	if err != nil {
		return fmt.Errorf("encode intervention %s signals: %w", iv.ID, err)
	}
	_, err = s.db.Exec(`INSERT INTO interventions
		(id, trigger_id, room_id, participant_id, severity, sensitive, content, degraded, status, fired_at_seq, fired_at, resolved_by, resolved_at, signals)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		iv.ID, iv.TriggerID, iv.RoomID, nilIfEmpty(iv.ParticipantID), iv.Severity, iv.Sensitive,
		iv.Content, iv.Degraded, iv.Status, iv.FiredAtSeq, iv.FiredAt,
		nilIfEmpty(iv.ResolvedBy), nullableTime(iv.ResolvedAt), string(signals))
	if err != nil {
		slog.Error("SQLiteStore AddIntervention failed", "error", err, "interventionID", iv.ID)
		return fmt.Errorf("failed to insert intervention %s: %w", iv.ID, err)
	}
	slog.Debug("SQLiteStore AddIntervention succeeded", "interventionID", iv.ID, "triggerID", iv.TriggerID, "status", iv.Status)
	return nil
}

func (s *SQLiteStore) GetIntervention(id string) (*models.Intervention, error) {
	row := s.db.QueryRow(`SELECT id, trigger_id, room_id, participant_id, severity, sensitive, content, degraded, status, fired_at_seq, fired_at, resolved_by, resolved_at, signals
		FROM interventions WHERE id = ?`, id)
	iv, err := scanIntervention(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetIntervention failed", "error", err, "interventionID", id)
		return nil, err
	}
	return &iv, nil
}

func (s *SQLiteStore) ListInterventions(roomID string) ([]models.Intervention, error) {
	rows, err := s.db.Query(`SELECT id, trigger_id, room_id, participant_id, severity, sensitive, content, degraded, status, fired_at_seq, fired_at, resolved_by, resolved_at, signals
		FROM interventions WHERE room_id = ? ORDER BY fired_at_seq, fired_at`, roomID)
	if err != nil {
		slog.Error("SQLiteStore ListInterventions query failed", "error", err, "roomID", roomID)
		return nil, err
	}
	defer rows.Close()

	var out []models.Intervention
	for rows.Next() {
		iv, err := scanIntervention(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateInterventionStatus(id string, status models.InterventionStatus, resolvedBy string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE interventions SET status = ?, resolved_by = ?, resolved_at = ? WHERE id = ?`,
		status, nilIfEmpty(resolvedBy), at, id)
	if err != nil {
		slog.Error("SQLiteStore UpdateInterventionStatus failed", "error", err, "interventionID", id)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) HasPendingIntervention(roomID, triggerID string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM interventions WHERE room_id = ? AND trigger_id = ? AND status = ?`,
		roomID, triggerID, models.InterventionPending).Scan(&count)
	if err != nil {
		slog.Error("SQLiteStore HasPendingIntervention failed", "error", err, "roomID", roomID, "triggerID", triggerID)
		return false, err
	}
	return count > 0, nil
}

func (s *SQLiteStore) LatestFiredIntervention(roomID, triggerID string) (*models.Intervention, error) {
	row := s.db.QueryRow(`SELECT id, trigger_id, room_id, participant_id, severity, sensitive, content, degraded, status, fired_at_seq, fired_at, resolved_by, resolved_at, signals
		FROM interventions WHERE room_id = ? AND trigger_id = ? ORDER BY fired_at DESC, fired_at_seq DESC LIMIT 1`,
		roomID, triggerID)
	iv, err := scanIntervention(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore LatestFiredIntervention failed", "error", err, "roomID", roomID, "triggerID", triggerID)
		return nil, err
	}
	return &iv, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
