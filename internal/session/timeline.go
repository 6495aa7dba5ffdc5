package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/CALM-Lab/GameBridge/internal/models"
)

// Timeline entry kinds.
const (
	EntryMove         = "move"
	EntryCardDraw     = "card_draw"
	EntryIntervention = "intervention"
)

// TimelineEntry is one event in a room's merged history. Exactly one of the
// payload fields is set, matching Kind.
type TimelineEntry struct {
	Kind         string               `json:"kind"`
	Move         *models.Move         `json:"move,omitempty"`
	CardDraw     *models.CardDraw     `json:"card_draw,omitempty"`
	Intervention *models.Intervention `json:"intervention,omitempty"`
}

// Export is the structured form of a room's full history.
type Export struct {
	Room         models.Room          `json:"room"`
	Participants []models.Participant `json:"participants"`
	Timeline     []TimelineEntry      `json:"timeline"`
}

// ListTimeline merges a room's moves, card draws and player-visible
// interventions in order. participantID, when non-empty, filters to that
// participant's events. includeHidden additionally surfaces pending,
// rejected and sensitive interventions for therapist views.
func (m *Manager) ListTimeline(roomID, participantID string, includeHidden bool) ([]TimelineEntry, error) {
	if _, err := m.getRoom(roomID); err != nil {
		return nil, err
	}
	moves, err := m.store.ListMoves(roomID)
	if err != nil {
		return nil, err
	}
	draws, err := m.store.ListCardDraws(roomID)
	if err != nil {
		return nil, err
	}
	interventions, err := m.store.ListInterventions(roomID)
	if err != nil {
		return nil, err
	}

	var entries []TimelineEntry
	for i := range moves {
		if participantID != "" && moves[i].ParticipantID != participantID {
			continue
		}
		entries = append(entries, TimelineEntry{Kind: EntryMove, Move: &moves[i]})
	}
	for i := range draws {
		if participantID != "" && draws[i].ParticipantID != participantID {
			continue
		}
		entries = append(entries, TimelineEntry{Kind: EntryCardDraw, CardDraw: &draws[i]})
	}
	for i := range interventions {
		iv := interventions[i]
		if !includeHidden && !iv.VisibleToPlayers() {
			continue
		}
		if participantID != "" && iv.ParticipantID != "" && iv.ParticipantID != participantID {
			continue
		}
		entries = append(entries, TimelineEntry{Kind: EntryIntervention, Intervention: &interventions[i]})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		si, ti := entrySortKey(entries[i], moves)
		sj, tj := entrySortKey(entries[j], moves)
		if si != sj {
			return si < sj
		}
		return ti < tj
	})
	return entries, nil
}

// entrySortKey orders entries by the move sequence they relate to, then by
// kind so a move precedes the draws and interventions it caused. Standalone
// draws anchor to the latest move recorded before them.
func entrySortKey(e TimelineEntry, moves []models.Move) (int, int) {
	switch e.Kind {
	case EntryMove:
		return e.Move.Seq, 0
	case EntryCardDraw:
		if e.CardDraw.MoveSeq != nil {
			return *e.CardDraw.MoveSeq, 1
		}
		return seqBefore(moves, e.CardDraw.CreatedAt), 1
	case EntryIntervention:
		return e.Intervention.FiredAtSeq, 2
	}
	return 0, 3
}

// seqBefore returns the seq of the last move recorded at or before t, or 0
// when no move precedes it. moves are ordered by seq.
func seqBefore(moves []models.Move, t time.Time) int {
	seq := 0
	for _, mv := range moves {
		if mv.CreatedAt.After(t) {
			break
		}
		seq = mv.Seq
	}
	return seq
}

// ExportHistory serializes the room's history. format is "json" for the
// structured export or "text" for a flat human-readable transcript. The
// therapist view is always complete, including hidden interventions.
func (m *Manager) ExportHistory(roomID, format string) ([]byte, error) {
	room, err := m.getRoom(roomID)
	if err != nil {
		return nil, err
	}
	roster, err := m.store.ListParticipants(roomID)
	if err != nil {
		return nil, err
	}
	timeline, err := m.ListTimeline(roomID, "", true)
	if err != nil {
		return nil, err
	}
	export := Export{Room: *room, Participants: roster, Timeline: timeline}

	switch format {
	case "", "json":
		return json.MarshalIndent(export, "", "  ")
	case "text":
		return []byte(renderTextExport(export)), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// ParseExport reads a structured export back into memory, for read models
// and round-trip checks.
func ParseExport(data []byte) (*Export, error) {
	var export Export
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("parse export: %w", err)
	}
	return &export, nil
}

func renderTextExport(export Export) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Room %s (%s) on board %s\n", export.Room.JoinCode, export.Room.Status, export.Room.BoardName)
	names := make(map[string]string, len(export.Participants))
	for _, p := range export.Participants {
		names[p.ID] = p.DisplayName
		fmt.Fprintf(&b, "- %s (%s)\n", p.DisplayName, p.Role)
	}
	b.WriteString("\n")

	for _, e := range export.Timeline {
		switch e.Kind {
		case EntryMove:
			mv := e.Move
			name := nameOr(names, mv.ParticipantID)
			if mv.PreStart {
				fmt.Fprintf(&b, "#%d %s rolled %d (pre-start)\n", mv.Seq, name, mv.Dice)
				continue
			}
			fmt.Fprintf(&b, "#%d %s rolled %d: %d -> %d", mv.Seq, name, mv.Dice, mv.FromPos, mv.ToPos)
			if mv.AppliedJumpFrom != nil && mv.AppliedJumpTo != nil {
				fmt.Fprintf(&b, " (jump %d -> %d)", *mv.AppliedJumpFrom, *mv.AppliedJumpTo)
			}
			b.WriteString("\n")
		case EntryCardDraw:
			d := e.CardDraw
			fmt.Fprintf(&b, "cards %v drawn by %s\n", d.Cards, nameOr(names, d.ParticipantID))
		case EntryIntervention:
			iv := e.Intervention
			fmt.Fprintf(&b, "[%s/%s] %s: %s\n", iv.Severity, iv.Status, iv.TriggerID, iv.Content)
		}
	}
	return b.String()
}

func nameOr(names map[string]string, id string) string {
	if name, ok := names[id]; ok {
		return name
	}
	return id
}
