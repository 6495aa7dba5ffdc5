// Package approval routes fired interventions through the therapist review
// policy and delivers approved content to participants.
package approval

import (
	"context"
	"log/slog"
	"time"

	"github.com/CALM-Lab/GameBridge/internal/messaging"
	"github.com/CALM-Lab/GameBridge/internal/models"
	"github.com/CALM-Lab/GameBridge/internal/store"
)

// IsSolo reports whether the room is effectively a single-player session:
// exactly one player and no therapist taking part in play.
func IsSolo(room models.Room, roster []models.Participant) bool {
	players := 0
	hasTherapist := false
	for _, p := range roster {
		switch p.Role {
		case models.RolePlayer:
			players++
		case models.RoleTherapist:
			hasTherapist = true
		}
	}
	if players != 1 {
		return false
	}
	return !hasTherapist || !room.TherapistPlays
}

// Workflow persists interventions with the right approval status and handles
// therapist resolution.
type Workflow struct {
	store store.Store
	msg   messaging.Service
	now   func() time.Time
}

// NewWorkflow creates an approval workflow. msg may be nil when no outbound
// delivery channel is configured.
func NewWorkflow(st store.Store, msg messaging.Service) *Workflow {
	return &Workflow{store: st, msg: msg, now: time.Now}
}

// Route decides the initial approval status for a fired intervention,
// persists it and delivers auto-approved content. The returned intervention
// carries the assigned status.
func (w *Workflow) Route(ctx context.Context, room models.Room, roster []models.Participant, iv models.Intervention, cfg models.TriggerConfig) (models.Intervention, error) {
	switch {
	case !cfg.RequiresApproval:
		iv.Status = models.InterventionAutoApproved
	case cfg.AutoApproveWhenSolo && IsSolo(room, roster):
		iv.Status = models.InterventionAutoApproved
	default:
		iv.Status = models.InterventionPending
	}

	if err := w.store.AddIntervention(iv); err != nil {
		return iv, err
	}
	slog.Info("Intervention routed",
		"interventionID", iv.ID, "triggerID", iv.TriggerID, "roomID", iv.RoomID, "status", iv.Status)

	switch iv.Status {
	case models.InterventionAutoApproved:
		w.deliver(ctx, roster, iv)
	case models.InterventionPending:
		w.notifyTherapist(ctx, roster, iv)
	}
	return iv, nil
}

// Resolve lets the room's therapist approve or reject a pending
// intervention. Approval delivers the content; rejection keeps it for audit
// but never surfaces it to players.
func (w *Workflow) Resolve(ctx context.Context, roster []models.Participant, interventionID, resolverID string, approve bool) (*models.Intervention, error) {
	iv, err := w.store.GetIntervention(interventionID)
	if err != nil {
		return nil, err
	}
	if iv == nil {
		return nil, store.ErrNotFound
	}
	if iv.Status != models.InterventionPending {
		return nil, models.ErrInterventionClosed
	}
	if !isTherapist(roster, resolverID) {
		return nil, models.ErrNotTherapist
	}

	status := models.InterventionRejected
	if approve {
		status = models.InterventionApproved
	}
	at := w.now()
	if err := w.store.UpdateInterventionStatus(interventionID, status, resolverID, at); err != nil {
		return nil, err
	}
	iv.Status = status
	iv.ResolvedBy = resolverID
	iv.ResolvedAt = &at
	slog.Info("Intervention resolved",
		"interventionID", iv.ID, "roomID", iv.RoomID, "status", status, "resolvedBy", resolverID)

	if approve {
		w.deliver(ctx, roster, *iv)
	}
	return iv, nil
}

func isTherapist(roster []models.Participant, participantID string) bool {
	for _, p := range roster {
		if p.ID == participantID && p.Role == models.RoleTherapist {
			return true
		}
	}
	return false
}

// deliver sends the intervention content to everyone allowed to see it.
// Sensitive content only ever reaches the therapist. Delivery failures are
// logged, never propagated: the intervention is already durably recorded.
func (w *Workflow) deliver(ctx context.Context, roster []models.Participant, iv models.Intervention) {
	if w.msg == nil {
		return
	}
	visible := iv.VisibleToPlayers()
	for _, p := range roster {
		if p.Contact == "" {
			continue
		}
		if p.Role != models.RoleTherapist && !visible {
			continue
		}
		if err := w.msg.SendMessage(ctx, p.Contact, iv.Content); err != nil {
			slog.Error("Intervention delivery failed",
				"interventionID", iv.ID, "participantID", p.ID, "error", err)
		}
	}
}

// notifyTherapist pings the therapist that a pending intervention awaits
// review.
func (w *Workflow) notifyTherapist(ctx context.Context, roster []models.Participant, iv models.Intervention) {
	if w.msg == nil {
		return
	}
	for _, p := range roster {
		if p.Role != models.RoleTherapist || p.Contact == "" {
			continue
		}
		body := "An intervention is waiting for your review:\n" + iv.Content
		if err := w.msg.SendMessage(ctx, p.Contact, body); err != nil {
			slog.Error("Therapist notification failed",
				"interventionID", iv.ID, "participantID", p.ID, "error", err)
		}
	}
}
