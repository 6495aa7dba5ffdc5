// Package session owns room lifecycle and sequences every accepted move
// through telemetry, trigger evaluation, rendering and approval.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/CALM-Lab/GameBridge/internal/approval"
	"github.com/CALM-Lab/GameBridge/internal/board"
	"github.com/CALM-Lab/GameBridge/internal/deck"
	"github.com/CALM-Lab/GameBridge/internal/engine"
	"github.com/CALM-Lab/GameBridge/internal/messaging"
	"github.com/CALM-Lab/GameBridge/internal/models"
	"github.com/CALM-Lab/GameBridge/internal/render"
	"github.com/CALM-Lab/GameBridge/internal/store"
	"github.com/CALM-Lab/GameBridge/internal/trigger"
	"github.com/CALM-Lab/GameBridge/internal/util"
)

// DefaultJoinCodeLength is the length of generated room join codes.
const DefaultJoinCodeLength = 6

// Opts holds optional collaborators for the manager.
type Opts struct {
	Boards            *board.Catalog
	Decks             deck.Provider
	Dice              engine.Roller
	DrawSource        deck.Source
	Generator         render.Generator
	GenerationTimeout time.Duration
	Clock             func() time.Time
}

// Option configures the session manager.
type Option func(*Opts)

// WithBoardCatalog overrides the built-in board catalog.
func WithBoardCatalog(c *board.Catalog) Option {
	return func(o *Opts) { o.Boards = c }
}

// WithDeckProvider overrides the built-in deck provider.
func WithDeckProvider(p deck.Provider) Option {
	return func(o *Opts) { o.Decks = p }
}

// WithDiceRoller injects a deterministic dice source.
func WithDiceRoller(r engine.Roller) Option {
	return func(o *Opts) { o.Dice = r }
}

// WithDrawSource injects a deterministic card-draw source.
func WithDrawSource(s deck.Source) Option {
	return func(o *Opts) { o.DrawSource = s }
}

// WithGenerator sets the text-generation collaborator for AI-backed triggers.
func WithGenerator(g render.Generator) Option {
	return func(o *Opts) { o.Generator = g }
}

// WithGenerationTimeout bounds each text-generation call.
func WithGenerationTimeout(d time.Duration) Option {
	return func(o *Opts) { o.GenerationTimeout = d }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// Manager is the entry point for all room operations. Every mutating
// operation for a room runs inside that room's exclusive lane; different
// rooms proceed fully in parallel.
type Manager struct {
	store     store.Store
	msg       messaging.Service
	engine    *engine.Engine
	triggers  *trigger.Engine
	renderer  *render.Renderer
	approvals *approval.Workflow
	boards    *board.Catalog
	decks     deck.Provider
	drawSrc   deck.Source
	now       func() time.Time

	lanesMu sync.Mutex
	lanes   map[string]*sync.Mutex
}

// NewManager wires a session manager over the given store and messaging
// service. msg may be nil when no delivery channel is configured.
func NewManager(st store.Store, msg messaging.Service, opts ...Option) *Manager {
	cfg := Opts{
		Boards:     board.NewCatalog(),
		Decks:      deck.NewStaticProvider(),
		DrawSource: deck.SystemSource(),
		Clock:      time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager{
		store:     st,
		msg:       msg,
		engine:    engine.NewEngine(st, cfg.Boards, cfg.Dice),
		triggers:  trigger.NewEngine(st),
		renderer:  render.NewRenderer(cfg.Generator, cfg.GenerationTimeout),
		approvals: approval.NewWorkflow(st, msg),
		boards:    cfg.Boards,
		decks:     cfg.Decks,
		drawSrc:   cfg.DrawSource,
		now:       cfg.Clock,
		lanes:     make(map[string]*sync.Mutex),
	}
}

// Triggers exposes the trigger engine for cooldown restoration on startup.
func (m *Manager) Triggers() *trigger.Engine { return m.triggers }

// lane returns the exclusive execution lane for a room.
func (m *Manager) lane(roomID string) *sync.Mutex {
	m.lanesMu.Lock()
	defer m.lanesMu.Unlock()
	l, ok := m.lanes[roomID]
	if !ok {
		l = &sync.Mutex{}
		m.lanes[roomID] = l
	}
	return l
}

// CreateRoomParams describes a new room and its supervising therapist.
type CreateRoomParams struct {
	TherapistName    string
	TherapistContact string
	TherapistPlays   bool
	Capacity         int
	PreStartRolls    int
	Locale           string
	BoardName        string
	DeckName         string
}

// CreateRoom creates a WAITING room with the therapist as its first
// participant and returns the room plus the therapist's participant record.
func (m *Manager) CreateRoom(params CreateRoomParams) (*models.Room, *models.Participant, error) {
	if strings.TrimSpace(params.TherapistName) == "" {
		return nil, nil, models.ErrEmptyDisplayName
	}
	if params.Capacity <= 0 {
		params.Capacity = 4
	}
	if params.Locale == "" {
		params.Locale = render.DefaultLocale
	}
	b, err := m.boards.Lookup(params.BoardName)
	if err != nil {
		return nil, nil, err
	}
	d, err := m.decks.Lookup(params.DeckName)
	if err != nil {
		return nil, nil, err
	}

	now := m.now()
	room := models.Room{
		ID:             util.GenerateRoomID(),
		JoinCode:       util.GenerateJoinCode(DefaultJoinCodeLength),
		Status:         models.RoomStatusWaiting,
		Capacity:       params.Capacity,
		TherapistPlays: params.TherapistPlays,
		PreStartRolls:  params.PreStartRolls,
		Locale:         params.Locale,
		BoardName:      b.Name,
		DeckName:       d.Name,
		CreatedAt:      now,
	}
	if err := m.store.CreateRoom(room); err != nil {
		return nil, nil, err
	}

	therapist := models.Participant{
		ID:          util.GenerateParticipantID(),
		RoomID:      room.ID,
		Role:        models.RoleTherapist,
		DisplayName: params.TherapistName,
		Contact:     params.TherapistContact,
		JoinedAt:    now,
		TurnOrder:   0,
	}
	if err := m.store.AddParticipant(therapist); err != nil {
		return nil, nil, err
	}
	slog.Info("Room created", "roomID", room.ID, "joinCode", room.JoinCode, "board", room.BoardName, "deck", room.DeckName)
	return &room, &therapist, nil
}

// getRoom loads a room or reports ErrRoomNotFound.
func (m *Manager) getRoom(roomID string) (*models.Room, error) {
	room, err := m.store.GetRoom(roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, models.ErrRoomNotFound
	}
	return room, nil
}

// GetRoom loads a room by ID.
func (m *Manager) GetRoom(roomID string) (*models.Room, error) {
	return m.getRoom(roomID)
}

// GetRoomByJoinCode resolves a join code to its room.
func (m *Manager) GetRoomByJoinCode(code string) (*models.Room, error) {
	room, err := m.store.GetRoomByJoinCode(code)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, models.ErrRoomNotFound
	}
	return room, nil
}

// Roster lists the room's participants ordered by turn order.
func (m *Manager) Roster(roomID string) ([]models.Participant, error) {
	if _, err := m.getRoom(roomID); err != nil {
		return nil, err
	}
	return m.store.ListParticipants(roomID)
}

// SendInvite records an invite and delivers the join code to the contact.
// Invites are rejected for rooms that already hold capacity participants.
func (m *Manager) SendInvite(ctx context.Context, roomID, contact string, role models.Role) (*models.Invite, error) {
	l := m.lane(roomID)
	l.Lock()
	defer l.Unlock()

	room, err := m.getRoom(roomID)
	if err != nil {
		return nil, err
	}
	if room.Status != models.RoomStatusWaiting && room.Status != models.RoomStatusActive {
		return nil, models.ErrRoomNotActive
	}
	if strings.TrimSpace(contact) == "" {
		return nil, models.ErrEmptyContact
	}
	roster, err := m.store.ListParticipants(roomID)
	if err != nil {
		return nil, err
	}
	if len(roster) >= room.Capacity {
		return nil, models.ErrRoomFull
	}
	if role == models.RoleTherapist && hasTherapist(roster) {
		return nil, models.ErrTherapistPresent
	}

	canonical := contact
	if m.msg != nil {
		canonical, err = m.msg.ValidateAndCanonicalizeRecipient(contact)
		if err != nil {
			return nil, err
		}
	}

	inv := models.Invite{
		ID:      util.GenerateInviteID(),
		RoomID:  roomID,
		Contact: canonical,
		Role:    role,
		SentAt:  m.now(),
	}
	if err := m.store.AddInvite(inv); err != nil {
		return nil, err
	}
	if m.msg != nil {
		body := "You are invited to a GameBridge session. Join with code " + room.JoinCode + "."
		if err := m.msg.SendMessage(ctx, canonical, body); err != nil {
			slog.Error("Invite delivery failed", "inviteID", inv.ID, "error", err)
		}
	}
	slog.Info("Invite sent", "inviteID", inv.ID, "roomID", roomID, "role", role)
	return &inv, nil
}

// AcceptInvite converts an open invite into a roster entry. The new
// participant joins at the end of the turn order.
func (m *Manager) AcceptInvite(inviteID, displayName string) (*models.Participant, error) {
	if strings.TrimSpace(displayName) == "" {
		return nil, models.ErrEmptyDisplayName
	}
	inv, err := m.store.GetInvite(inviteID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, models.ErrInviteNotFound
	}

	l := m.lane(inv.RoomID)
	l.Lock()
	defer l.Unlock()

	// Re-read under the lane: a concurrent accept of the same invite may
	// have won the race while we waited for the lock.
	inv, err = m.store.GetInvite(inviteID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, models.ErrInviteNotFound
	}
	if inv.AcceptedAt != nil {
		return nil, models.ErrInviteAccepted
	}

	room, err := m.getRoom(inv.RoomID)
	if err != nil {
		return nil, err
	}
	if room.Status != models.RoomStatusWaiting && room.Status != models.RoomStatusActive {
		return nil, models.ErrRoomNotActive
	}
	roster, err := m.store.ListParticipants(inv.RoomID)
	if err != nil {
		return nil, err
	}
	if len(roster) >= room.Capacity {
		return nil, models.ErrRoomFull
	}
	if inv.Role == models.RoleTherapist && hasTherapist(roster) {
		return nil, models.ErrTherapistPresent
	}

	order := 0
	for _, p := range roster {
		if p.TurnOrder >= order {
			order = p.TurnOrder + 1
		}
	}
	now := m.now()
	participant := models.Participant{
		ID:          util.GenerateParticipantID(),
		RoomID:      inv.RoomID,
		Role:        inv.Role,
		DisplayName: displayName,
		Contact:     inv.Contact,
		ConsentAt:   &now,
		JoinedAt:    now,
		TurnOrder:   order,
	}
	if err := m.store.AddParticipant(participant); err != nil {
		return nil, err
	}
	if err := m.store.MarkInviteAccepted(inv.ID, now); err != nil {
		return nil, err
	}
	slog.Info("Invite accepted", "inviteID", inv.ID, "roomID", inv.RoomID, "participantID", participant.ID)
	return &participant, nil
}

// RemoveParticipant drops a participant from the roster. Their move history
// stays in the room record.
func (m *Manager) RemoveParticipant(roomID, participantID string) error {
	l := m.lane(roomID)
	l.Lock()
	defer l.Unlock()

	if _, err := m.getRoom(roomID); err != nil {
		return err
	}
	if err := m.store.RemoveParticipant(roomID, participantID); err != nil {
		if err == store.ErrNotFound {
			return models.ErrParticipantNotFound
		}
		return err
	}
	slog.Info("Participant removed", "roomID", roomID, "participantID", participantID)
	return nil
}

// ActivateRoom moves a WAITING room into play.
func (m *Manager) ActivateRoom(roomID string) error {
	return m.transition(roomID, models.RoomStatusActive)
}

// CloseRoom ends a session early. Further moves and evaluations stop.
func (m *Manager) CloseRoom(roomID string) error {
	return m.transition(roomID, models.RoomStatusClosed)
}

// CompleteRoom marks a finished session.
func (m *Manager) CompleteRoom(roomID string) error {
	return m.transition(roomID, models.RoomStatusCompleted)
}

func (m *Manager) transition(roomID string, to models.RoomStatus) error {
	l := m.lane(roomID)
	l.Lock()
	defer l.Unlock()

	room, err := m.getRoom(roomID)
	if err != nil {
		return err
	}
	if !models.CanTransitionRoomStatus(room.Status, to) {
		return models.ErrInvalidTransition
	}
	if err := m.store.UpdateRoomStatus(roomID, to); err != nil {
		return err
	}
	if room.Status == models.RoomStatusActive {
		// Leaving the active status cancels all trigger scheduling.
		m.triggers.ClearRoom(roomID)
	}
	slog.Info("Room status changed", "roomID", roomID, "from", room.Status, "to", to)
	return nil
}

// SubmitMove runs the full pipeline for one dice roll: turn validation and
// move persistence first, then trigger evaluation. Evaluation failures are
// logged and never roll back the recorded move.
func (m *Manager) SubmitMove(ctx context.Context, roomID, actorID string, diceOverride *int) (*models.Move, error) {
	l := m.lane(roomID)
	l.Lock()
	defer l.Unlock()

	room, err := m.getRoom(roomID)
	if err != nil {
		return nil, err
	}
	roster, err := m.store.ListParticipants(roomID)
	if err != nil {
		return nil, err
	}
	move, err := m.engine.SubmitMove(*room, roster, actorID, diceOverride)
	if err != nil {
		return nil, err
	}

	m.evaluateAndRoute(ctx, *room, roster, actorID)
	return move, nil
}

// evaluateAndRoute runs trigger evaluation for the room and routes every
// firing through rendering and approval. Callers hold the room lane.
func (m *Manager) evaluateAndRoute(ctx context.Context, room models.Room, roster []models.Participant, participantID string) {
	moves, err := m.store.ListMoves(room.ID)
	if err != nil {
		slog.Error("Trigger evaluation skipped, history unavailable", "roomID", room.ID, "error", err)
		return
	}
	now := m.now()
	firings, err := m.triggers.Evaluate(room, moves, participantID, now)
	if err != nil {
		slog.Error("Trigger evaluation failed", "roomID", room.ID, "error", err)
		return
	}

	for _, firing := range firings {
		vars := render.Vars{
			RoomCode:        room.JoinCode,
			Locale:          room.Locale,
			ParticipantName: displayNameOf(roster, participantID),
			TriggerID:       firing.Config.ID,
			Severity:        firing.Config.Severity,
			Signals:         firing.Signals,
		}
		rendered := m.renderer.Render(ctx, firing.Config, vars)

		iv := models.Intervention{
			ID:            util.GenerateInterventionID(),
			TriggerID:     firing.Config.ID,
			RoomID:        room.ID,
			ParticipantID: participantID,
			Severity:      firing.Config.Severity,
			Sensitive:     firing.Config.Sensitive,
			Content:       rendered.Content,
			Degraded:      rendered.Degraded,
			FiredAtSeq:    firing.Signals.AtSeq,
			FiredAt:       now,
			Signals:       firing.Signals,
		}
		if _, err := m.approvals.Route(ctx, room, roster, iv, firing.Config); err != nil {
			slog.Error("Intervention routing failed", "roomID", room.ID, "triggerID", firing.Config.ID, "error", err)
		}
	}
}

func hasTherapist(roster []models.Participant) bool {
	for _, p := range roster {
		if p.Role == models.RoleTherapist {
			return true
		}
	}
	return false
}

func onRoster(roster []models.Participant, participantID string) bool {
	for _, p := range roster {
		if p.ID == participantID {
			return true
		}
	}
	return false
}

func displayNameOf(roster []models.Participant, participantID string) string {
	for _, p := range roster {
		if p.ID == participantID {
			return p.DisplayName
		}
	}
	return ""
}

// DrawCards draws count cards from the room's deck for a participant,
// optionally tied to a move. Draws serialize on the room lane because the
// draw source is shared.
func (m *Manager) DrawCards(ctx context.Context, roomID, participantID string, count int, moveSeq *int) (*models.CardDraw, error) {
	l := m.lane(roomID)
	l.Lock()
	defer l.Unlock()

	room, err := m.getRoom(roomID)
	if err != nil {
		return nil, err
	}
	if room.Status != models.RoomStatusActive {
		return nil, models.ErrRoomNotActive
	}
	roster, err := m.store.ListParticipants(roomID)
	if err != nil {
		return nil, err
	}
	if !onRoster(roster, participantID) {
		return nil, models.ErrParticipantNotFound
	}
	d, err := m.decks.Lookup(room.DeckName)
	if err != nil {
		return nil, err
	}
	cards, err := deck.Draw(d, count, m.drawSrc)
	if err != nil {
		return nil, err
	}

	draw := models.CardDraw{
		ID:            util.GenerateDrawID(),
		RoomID:        roomID,
		ParticipantID: participantID,
		Cards:         cards,
		MoveSeq:       moveSeq,
		CreatedAt:     m.now(),
	}
	if err := m.store.AddCardDraw(draw); err != nil {
		return nil, err
	}
	slog.Debug("Cards drawn", "roomID", roomID, "participantID", participantID, "cards", cards)
	return &draw, nil
}

// AddTherapyEntry records a therapist note against a recorded move. Entries
// are only accepted while the room is in play.
func (m *Manager) AddTherapyEntry(roomID, participantID string, moveSeq int, body string) (*models.TherapyEntry, error) {
	l := m.lane(roomID)
	l.Lock()
	defer l.Unlock()

	room, err := m.getRoom(roomID)
	if err != nil {
		return nil, err
	}
	if room.Status != models.RoomStatusActive {
		return nil, models.ErrRoomNotActive
	}
	moves, err := m.store.ListMoves(roomID)
	if err != nil {
		return nil, err
	}
	// Seqs are gapless, so the length bounds the recorded range.
	if moveSeq < 1 || moveSeq > len(moves) {
		return nil, models.ErrMoveNotFound
	}
	entry := models.TherapyEntry{
		ID:            util.GenerateEntryID(),
		RoomID:        roomID,
		ParticipantID: participantID,
		MoveSeq:       moveSeq,
		Body:          body,
		CreatedAt:     m.now(),
	}
	if err := m.store.AddTherapyEntry(entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ResolveIntervention lets the room's therapist approve or reject a pending
// intervention.
func (m *Manager) ResolveIntervention(ctx context.Context, roomID, interventionID, resolverID string, approve bool) (*models.Intervention, error) {
	l := m.lane(roomID)
	l.Lock()
	defer l.Unlock()

	if _, err := m.getRoom(roomID); err != nil {
		return nil, err
	}
	iv, err := m.store.GetIntervention(interventionID)
	if err != nil {
		return nil, err
	}
	if iv == nil || iv.RoomID != roomID {
		return nil, store.ErrNotFound
	}
	roster, err := m.store.ListParticipants(roomID)
	if err != nil {
		return nil, err
	}
	return m.approvals.Resolve(ctx, roster, interventionID, resolverID, approve)
}

// SweepInactivity evaluates inactivity triggers for every active room. It is
// meant to run on a fixed schedule and shares the per-room lanes with move
// processing.
func (m *Manager) SweepInactivity(ctx context.Context) {
	rooms, err := m.store.ListRoomsByStatus(models.RoomStatusActive)
	if err != nil {
		slog.Error("Inactivity sweep failed to list rooms", "error", err)
		return
	}
	for _, room := range rooms {
		if ctx.Err() != nil {
			return
		}
		l := m.lane(room.ID)
		l.Lock()
		// Re-read under the lane: the room may have closed while waiting.
		current, err := m.getRoom(room.ID)
		if err == nil && current.Status == models.RoomStatusActive {
			roster, rosterErr := m.store.ListParticipants(room.ID)
			if rosterErr != nil {
				slog.Error("Inactivity sweep roster load failed", "roomID", room.ID, "error", rosterErr)
			} else {
				m.evaluateAndRoute(ctx, *current, roster, "")
			}
		}
		l.Unlock()
	}
	slog.Debug("Inactivity sweep completed", "rooms", len(rooms))
}
