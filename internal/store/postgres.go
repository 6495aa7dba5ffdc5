package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/CALM-Lab/GameBridge/internal/models"
	"github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists GameBridge state in a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	dsn := cfg.PostgresDSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run PostgreSQL migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgreSQL store ready")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) CreateRoom(r models.Room) error {
	_, err := s.db.Exec(`INSERT INTO rooms (id, join_code, status, capacity, therapist_plays, pre_start_rolls, locale, board_name, deck_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.JoinCode, r.Status, r.Capacity, r.TherapistPlays, r.PreStartRolls, r.Locale, r.BoardName, r.DeckName, r.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateRoom failed", "error", err, "roomID", r.ID)
		return fmt.Errorf("failed to insert room %s: %w", r.ID, err)
	}
	slog.Debug("PostgresStore CreateRoom succeeded", "roomID", r.ID)
	return nil
}

func (s *PostgresStore) GetRoom(id string) (*models.Room, error) {
	row := s.db.QueryRow(`SELECT id, join_code, status, capacity, therapist_plays, pre_start_rolls, locale, board_name, deck_name, created_at
		FROM rooms WHERE id = $1`, id)
	r, err := scanRoom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetRoom failed", "error", err, "roomID", id)
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) GetRoomByJoinCode(code string) (*models.Room, error) {
	row := s.db.QueryRow(`SELECT id, join_code, status, capacity, therapist_plays, pre_start_rolls, locale, board_name, deck_name, created_at
		FROM rooms WHERE join_code = $1`, code)
	r, err := scanRoom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetRoomByJoinCode failed", "error", err)
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) UpdateRoomStatus(id string, status models.RoomStatus) error {
	res, err := s.db.Exec(`UPDATE rooms SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		slog.Error("PostgresStore UpdateRoomStatus failed", "error", err, "roomID", id)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	slog.Debug("PostgresStore UpdateRoomStatus succeeded", "roomID", id, "status", status)
	return nil
}

func (s *PostgresStore) ListRoomsByStatus(status models.RoomStatus) ([]models.Room, error) {
	rows, err := s.db.Query(`SELECT id, join_code, status, capacity, therapist_plays, pre_start_rolls, locale, board_name, deck_name, created_at
		FROM rooms WHERE status = $1 ORDER BY created_at`, status)
	if err != nil {
		slog.Error("PostgresStore ListRoomsByStatus query failed", "error", err)
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

func (s *PostgresStore) AddParticipant(p models.Participant) error {
	_, err := s.db.Exec(`INSERT INTO participants (id, room_id, role, display_name, contact, consent_at, joined_at, turn_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.RoomID, p.Role, p.DisplayName, nilIfEmpty(p.Contact), nullableTime(p.ConsentAt), p.JoinedAt, p.TurnOrder)
	if err != nil {
		slog.Error("PostgresStore AddParticipant failed", "error", err, "participantID", p.ID)
		return fmt.Errorf("failed to insert participant %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListParticipants(roomID string) ([]models.Participant, error) {
	rows, err := s.db.Query(`SELECT id, room_id, role, display_name, contact, consent_at, joined_at, turn_order
		FROM participants WHERE room_id = $1 ORDER BY turn_order`, roomID)
	if err != nil {
		slog.Error("PostgresStore ListParticipants query failed", "error", err, "roomID", roomID)
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

func (s *PostgresStore) RemoveParticipant(roomID, participantID string) error {
	res, err := s.db.Exec(`DELETE FROM participants WHERE room_id = $1 AND id = $2`, roomID, participantID)
	if err != nil {
		slog.Error("PostgresStore RemoveParticipant failed", "error", err, "participantID", participantID)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddInvite(inv models.Invite) error {
	_, err := s.db.Exec(`INSERT INTO invites (id, room_id, contact, role, sent_at, accepted_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		inv.ID, inv.RoomID, inv.Contact, inv.Role, inv.SentAt, nullableTime(inv.AcceptedAt))
	if err != nil {
		slog.Error("PostgresStore AddInvite failed", "error", err, "inviteID", inv.ID)
		return fmt.Errorf("failed to insert invite %s: %w", inv.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetInvite(id string) (*models.Invite, error) {
	row := s.db.QueryRow(`SELECT id, room_id, contact, role, sent_at, accepted_at FROM invites WHERE id = $1`, id)
	inv, err := scanInvite(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetInvite failed", "error", err, "inviteID", id)
		return nil, err
	}
	return &inv, nil
}

func (s *PostgresStore) MarkInviteAccepted(id string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE invites SET accepted_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		slog.Error("PostgresStore MarkInviteAccepted failed", "error", err, "inviteID", id)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendMove(m models.Move) error {
	_, err := s.db.Exec(`INSERT INTO moves (room_id, seq, participant_id, dice, from_pos, to_pos, applied_jump_from, applied_jump_to, pre_start, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.RoomID, m.Seq, m.ParticipantID, m.Dice, m.FromPos, m.ToPos,
		nullableInt(m.AppliedJumpFrom), nullableInt(m.AppliedJumpTo), m.PreStart, m.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			slog.Warn("PostgresStore AppendMove sequence conflict", "roomID", m.RoomID, "seq", m.Seq)
			return ErrDuplicateSeq
		}
		slog.Error("PostgresStore AppendMove failed", "error", err, "roomID", m.RoomID, "seq", m.Seq)
		return fmt.Errorf("failed to insert move %s/%d: %w", m.RoomID, m.Seq, err)
	}
	slog.Debug("PostgresStore AppendMove succeeded", "roomID", m.RoomID, "seq", m.Seq)
	return nil
}

func (s *PostgresStore) ListMoves(roomID string) ([]models.Move, error) {
	rows, err := s.db.Query(`SELECT room_id, seq, participant_id, dice, from_pos, to_pos, applied_jump_from, applied_jump_to, pre_start, created_at
		FROM moves WHERE room_id = $1 ORDER BY seq`, roomID)
	if err != nil {
		slog.Error("PostgresStore ListMoves query failed", "error", err, "roomID", roomID)
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

func (s *PostgresStore) AddCardDraw(d models.CardDraw) error {
	cards, err := json.Marshal(d.Cards)
	if err != nil {
		return fmt.Errorf("encode card draw %s cards: %w", d.ID, err)
	}
	_, err = s.db.Exec(`INSERT INTO card_draws (id, room_id, participant_id, cards, move_seq, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.RoomID, d.ParticipantID, string(cards), nullableInt(d.MoveSeq), d.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddCardDraw failed", "error", err, "drawID", d.ID)
		return fmt.Errorf("failed to insert card draw %s: %w", d.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListCardDraws(roomID string) ([]models.CardDraw, error) {
	rows, err := s.db.Query(`SELECT id, room_id, participant_id, cards, move_seq, created_at
		FROM card_draws WHERE room_id = $1 ORDER BY created_at, id`, roomID)
	if err != nil {
		slog.Error("PostgresStore ListCardDraws query failed", "error", err, "roomID", roomID)
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

func (s *PostgresStore) AddTherapyEntry(e models.TherapyEntry) error {
	_, err := s.db.Exec(`INSERT INTO therapy_entries (id, room_id, participant_id, move_seq, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.RoomID, e.ParticipantID, e.MoveSeq, e.Body, e.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddTherapyEntry failed", "error", err, "entryID", e.ID)
		return fmt.Errorf("failed to insert therapy entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListTherapyEntries(roomID string) ([]models.TherapyEntry, error) {
	rows, err := s.db.Query(`SELECT id, room_id, participant_id, move_seq, body, created_at
		FROM therapy_entries WHERE room_id = $1 ORDER BY created_at, id`, roomID)
	if err != nil {
		slog.Error("PostgresStore ListTherapyEntries query failed", "error", err, "roomID", roomID)
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

func (s *PostgresStore) SaveTriggerConfig(cfg models.TriggerConfig) error {
	thresholds, metadata, prompts, err := triggerConfigColumns(cfg)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO trigger_configs
		(id, enabled, uses_ai, sensitive, requires_approval, auto_approve_when_solo, severity, cooldown_moves, cooldown_seconds, thresholds, metadata, prompts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			uses_ai = EXCLUDED.uses_ai,
			sensitive = EXCLUDED.sensitive,
			requires_approval = EXCLUDED.requires_approval,
			auto_approve_when_solo = EXCLUDED.auto_approve_when_solo,
			severity = EXCLUDED.severity,
			cooldown_moves = EXCLUDED.cooldown_moves,
			cooldown_seconds = EXCLUDED.cooldown_seconds,
			thresholds = EXCLUDED.thresholds,
			metadata = EXCLUDED.metadata,
			prompts = EXCLUDED.prompts`,
		cfg.ID, cfg.Enabled, cfg.UsesAI, cfg.Sensitive, cfg.RequiresApproval, cfg.AutoApproveWhenSolo,
		cfg.Severity, cfg.CooldownMoves, int64(cfg.Cooldown/time.Second), thresholds, metadata, prompts)
	if err != nil {
		slog.Error("PostgresStore SaveTriggerConfig failed", "error", err, "triggerID", cfg.ID)
		return fmt.Errorf("failed to save trigger config %s: %w", cfg.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListTriggerConfigs() ([]models.TriggerConfig, error) {
	rows, err := s.db.Query(`SELECT id, enabled, uses_ai, sensitive, requires_approval, auto_approve_when_solo, severity, cooldown_moves, cooldown_seconds, thresholds, metadata, prompts
		FROM trigger_configs ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore ListTriggerConfigs query failed", "error", err)
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

func (s *PostgresStore) AddIntervention(iv models.Intervention) error {
	signals, err := json.Marshal(iv.Signals)
	if err != nil {
		return fmt.Errorf("encode intervention %s signals: %w", iv.ID, err)
	}
	_, err = s.db.Exec(`INSERT INTO interventions
		(id, trigger_id, room_id, participant_id, severity, sensitive, content, degraded, status, fired_at_seq, fired_at, resolved_by, resolved_at, signals)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		iv.ID, iv.TriggerID, iv.RoomID, nilIfEmpty(iv.ParticipantID), iv.Severity, iv.Sensitive,
		iv.Content, iv.Degraded, iv.Status, iv.FiredAtSeq, iv.FiredAt,
		nilIfEmpty(iv.ResolvedBy), nullableTime(iv.ResolvedAt), string(signals))
	if err != nil {
		slog.Error("PostgresStore AddIntervention failed", "error", err, "interventionID", iv.ID)
		return fmt.Errorf("failed to insert intervention %s: %w", iv.ID, err)
	}
	slog.Debug("PostgresStore AddIntervention succeeded", "interventionID", iv.ID, "triggerID", iv.TriggerID, "status", iv.Status)
	return nil
}

func (s *PostgresStore) GetIntervention(id string) (*models.Intervention, error) {
	row := s.db.QueryRow(`SELECT id, trigger_id, room_id, participant_id, severity, sensitive, content, degraded, status, fired_at_seq, fired_at, resolved_by, resolved_at, signals
		FROM interventions WHERE id = $1`, id)
	iv, err := scanIntervention(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetIntervention failed", "error", err, "interventionID", id)
		return nil, err
	}
	return &iv, nil
}

func (s *PostgresStore) ListInterventions(roomID string) ([]models.Intervention, error) {
	rows, err := s.db.Query(`SELECT id, trigger_id, room_id, participant_id, severity, sensitive, content, degraded, status, fired_at_seq, fired_at, resolved_by, resolved_at, signals
		FROM interventions WHERE room_id = $1 ORDER BY fired_at_seq, fired_at`, roomID)
	if err != nil {
		slog.Error("PostgresStore ListInterventions query failed", "error", err, "roomID", roomID)
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

func (s *PostgresStore) UpdateInterventionStatus(id string, status models.InterventionStatus, resolvedBy string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE interventions SET status = $1, resolved_by = $2, resolved_at = $3 WHERE id = $4`,
		status, nilIfEmpty(resolvedBy), at, id)
	if err != nil {
		slog.Error("PostgresStore UpdateInterventionStatus failed", "error", err, "interventionID", id)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) HasPendingIntervention(roomID, triggerID string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM interventions WHERE room_id = $1 AND trigger_id = $2 AND status = $3`,
		roomID, triggerID, models.InterventionPending).Scan(&count)
	if err != nil {
		slog.Error("PostgresStore HasPendingIntervention failed", "error", err, "roomID", roomID, "triggerID", triggerID)
		return false, err
	}
	return count > 0, nil
}

func (s *PostgresStore) LatestFiredIntervention(roomID, triggerID string) (*models.Intervention, error) {
	row := s.db.QueryRow(`SELECT id, trigger_id, room_id, participant_id, severity, sensitive, content, degraded, status, fired_at_seq, fired_at, resolved_by, resolved_at, signals
		FROM interventions WHERE room_id = $1 AND trigger_id = $2 ORDER BY fired_at DESC, fired_at_seq DESC LIMIT 1`,
		roomID, triggerID)
	iv, err := scanIntervention(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore LatestFiredIntervention failed", "error", err, "roomID", roomID, "triggerID", triggerID)
		return nil, err
	}
	return &iv, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}
