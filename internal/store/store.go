// Package store provides storage backends for GameBridge.
//
// It defines the persistence interface consumed by the session manager and
// trigger engine, with in-memory, SQLite, and PostgreSQL implementations.
// Move, card draw, therapy entry, and intervention histories are append-only.
package store

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/CALM-Lab/GameBridge/internal/models"
)

// Shared store errors.
var (
	// ErrDuplicateSeq indicates an append with an already-used move sequence
	// number. The caller's per-room serialization should make this unreachable.
	ErrDuplicateSeq = errors.New("move sequence number already recorded")
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateID indicates an insert with an already-used identifier.
	ErrDuplicateID = errors.New("record id already exists")
)

// Store is the persistence interface for GameBridge. The trigger catalog
// methods serve as the hot-reloadable read-only config source: the engine
// re-reads the catalog at evaluation time.
type Store interface {
	// Rooms
	CreateRoom(r models.Room) error
	GetRoom(id string) (*models.Room, error)
	GetRoomByJoinCode(code string) (*models.Room, error)
	UpdateRoomStatus(id string, status models.RoomStatus) error
	ListRoomsByStatus(status models.RoomStatus) ([]models.Room, error)

	// Participants
	AddParticipant(p models.Participant) error
	ListParticipants(roomID string) ([]models.Participant, error)
	RemoveParticipant(roomID, participantID string) error

	// Invites
	AddInvite(inv models.Invite) error
	GetInvite(id string) (*models.Invite, error)
	MarkInviteAccepted(id string, at time.Time) error

	// Moves (append-only)
	AppendMove(m models.Move) error
	ListMoves(roomID string) ([]models.Move, error)

	// Card draws and therapy entries (append-only)
	AddCardDraw(d models.CardDraw) error
	ListCardDraws(roomID string) ([]models.CardDraw, error)
	AddTherapyEntry(e models.TherapyEntry) error
	ListTherapyEntries(roomID string) ([]models.TherapyEntry, error)

	// Trigger catalog (externally administered, read-only to the engine)
	SaveTriggerConfig(cfg models.TriggerConfig) error
	ListTriggerConfigs() ([]models.TriggerConfig, error)

	// Interventions
	AddIntervention(iv models.Intervention) error
	GetIntervention(id string) (*models.Intervention, error)
	ListInterventions(roomID string) ([]models.Intervention, error)
	UpdateInterventionStatus(id string, status models.InterventionStatus, resolvedBy string, at time.Time) error
	HasPendingIntervention(roomID, triggerID string) (bool, error)
	LatestFiredIntervention(roomID, triggerID string) (*models.Intervention, error)

	Close() error
}

// Opts holds configuration options for store construction.
type Opts struct {
	SQLiteDSN   string
	PostgresDSN string
}

// Option defines a configuration option for store construction.
type Option func(*Opts)

// WithSQLiteDSN configures a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.SQLiteDSN = dsn }
}

// WithPostgresDSN configures a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.PostgresDSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". File paths are
// assumed to be SQLite databases.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// NewStore constructs a store from options: PostgreSQL if a postgres DSN is
// set, SQLite if a file DSN is set, otherwise in-memory.
func NewStore(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.PostgresDSN != "":
		slog.Debug("NewStore selecting PostgreSQL backend")
		return NewPostgresStore(WithPostgresDSN(cfg.PostgresDSN))
	case cfg.SQLiteDSN != "":
		slog.Debug("NewStore selecting SQLite backend", "path", cfg.SQLiteDSN)
		return NewSQLiteStore(WithSQLiteDSN(cfg.SQLiteDSN))
	default:
		slog.Debug("NewStore selecting in-memory backend")
		return NewInMemoryStore(), nil
	}
}
