package store

import (
	"sort"
	"sync"
	"time"

	"github.com/CALM-Lab/GameBridge/internal/models"
)

// InMemoryStore keeps all records in process memory. It is the default
// backend for tests and ephemeral runs.
type InMemoryStore struct {
	mu             sync.RWMutex
	rooms          map[string]models.Room
	participants   map[string][]models.Participant // roomID -> roster
	invites        map[string]models.Invite
	moves          map[string][]models.Move // roomID -> ordered history
	cardDraws      map[string][]models.CardDraw
	therapyEntries map[string][]models.TherapyEntry
	triggers       map[string]models.TriggerConfig
	interventions  map[string][]string // roomID -> ordered intervention IDs
	byID           map[string]models.Intervention
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		rooms:          make(map[string]models.Room),
		participants:   make(map[string][]models.Participant),
		invites:        make(map[string]models.Invite),
		moves:          make(map[string][]models.Move),
		cardDraws:      make(map[string][]models.CardDraw),
		therapyEntries: make(map[string][]models.TherapyEntry),
		triggers:       make(map[string]models.TriggerConfig),
		interventions:  make(map[string][]string),
		byID:           make(map[string]models.Intervention),
	}
}

func (s *InMemoryStore) CreateRoom(r models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[r.ID]; exists {
		return ErrDuplicateID
	}
	s.rooms[r.ID] = r
	return nil
}

func (s *InMemoryStore) GetRoom(id string) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *InMemoryStore) GetRoomByJoinCode(code string) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rooms {
		if r.JoinCode == code {
			room := r
			return &room, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) UpdateRoomStatus(id string, status models.RoomStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	s.rooms[id] = r
	return nil
}

func (s *InMemoryStore) ListRoomsByStatus(status models.RoomStatus) ([]models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Room
	for _, r := range s.rooms {
		if r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) AddParticipant(p models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[p.RoomID] = append(s.participants[p.RoomID], p)
	return nil
}

func (s *InMemoryStore) ListParticipants(roomID string) ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roster := make([]models.Participant, len(s.participants[roomID]))
	copy(roster, s.participants[roomID])
	sort.Slice(roster, func(i, j int) bool { return roster[i].TurnOrder < roster[j].TurnOrder })
	return roster, nil
}

func (s *InMemoryStore) RemoveParticipant(roomID, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	roster := s.participants[roomID]
	for i, p := range roster {
		if p.ID == participantID {
			s.participants[roomID] = append(roster[:i:i], roster[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *InMemoryStore) AddInvite(inv models.Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.invites[inv.ID]; exists {
		return ErrDuplicateID
	}
	s.invites[inv.ID] = inv
	return nil
}

func (s *InMemoryStore) GetInvite(id string) (*models.Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invites[id]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (s *InMemoryStore) MarkInviteAccepted(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[id]
	if !ok {
		return ErrNotFound
	}
	inv.AcceptedAt = &at
	s.invites[id] = inv
	return nil
}

func (s *InMemoryStore) AppendMove(m models.Move) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.moves[m.RoomID]
	if len(history) > 0 && m.Seq != history[len(history)-1].Seq+1 {
		return ErrDuplicateSeq
	}
	if len(history) == 0 && m.Seq != 1 {
		return ErrDuplicateSeq
	}
	s.moves[m.RoomID] = append(history, m)
	return nil
}

func (s *InMemoryStore) ListMoves(roomID string) ([]models.Move, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := make([]models.Move, len(s.moves[roomID]))
	copy(history, s.moves[roomID])
	return history, nil
}

func (s *InMemoryStore) AddCardDraw(d models.CardDraw) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cardDraws[d.RoomID] = append(s.cardDraws[d.RoomID], d)
	return nil
}

func (s *InMemoryStore) ListCardDraws(roomID string) ([]models.CardDraw, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	draws := make([]models.CardDraw, len(s.cardDraws[roomID]))
	copy(draws, s.cardDraws[roomID])
	return draws, nil
}

func (s *InMemoryStore) AddTherapyEntry(e models.TherapyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.therapyEntries[e.RoomID] = append(s.therapyEntries[e.RoomID], e)
	return nil
}

func (s *InMemoryStore) ListTherapyEntries(roomID string) ([]models.TherapyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]models.TherapyEntry, len(s.therapyEntries[roomID]))
	copy(entries, s.therapyEntries[roomID])
	return entries, nil
}

func (s *InMemoryStore) SaveTriggerConfig(cfg models.TriggerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers[cfg.ID] = cfg
	return nil
}

func (s *InMemoryStore) ListTriggerConfigs() ([]models.TriggerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TriggerConfig, 0, len(s.triggers))
	for _, cfg := range s.triggers {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) AddIntervention(iv models.Intervention) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[iv.ID]; exists {
		return ErrDuplicateID
	}
	s.interventions[iv.RoomID] = append(s.interventions[iv.RoomID], iv.ID)
	s.byID[iv.ID] = iv
	return nil
}

func (s *InMemoryStore) GetIntervention(id string) (*models.Intervention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	iv, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return &iv, nil
}

func (s *InMemoryStore) ListInterventions(roomID string) ([]models.Intervention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.interventions[roomID]
	out := make([]models.Intervention, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id])
	}
	return out, nil
}

func (s *InMemoryStore) UpdateInterventionStatus(id string, status models.InterventionStatus, resolvedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	iv, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	iv.Status = status
	iv.ResolvedBy = resolvedBy
	resolved := at
	iv.ResolvedAt = &resolved
	s.byID[id] = iv
	return nil
}

func (s *InMemoryStore) HasPendingIntervention(roomID, triggerID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.interventions[roomID] {
		iv := s.byID[id]
		if iv.TriggerID == triggerID && iv.Status == models.InterventionPending {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) LatestFiredIntervention(roomID, triggerID string) (*models.Intervention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.interventions[roomID]
	for i := len(ids) - 1; i >= 0; i-- {
		iv := s.byID[ids[i]]
		if iv.TriggerID == triggerID {
			return &iv, nil
		}
	}
	return nil, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
