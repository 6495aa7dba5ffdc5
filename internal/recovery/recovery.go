// Package recovery restores in-memory trigger state from the store after a
// restart, so cooldowns and pending work survive process boundaries.
package recovery

import (
	"log/slog"
	"time"

	"github.com/CALM-Lab/GameBridge/internal/models"
)

// cooldownSeeder is the slice of the trigger engine recovery needs.
type cooldownSeeder interface {
	SeedCooldown(roomID, triggerID string, firedSeq int, firedAt time.Time)
}

// recoveryStore is the slice of the store recovery reads from.
type recoveryStore interface {
	ListRoomsByStatus(status models.RoomStatus) ([]models.Room, error)
	ListTriggerConfigs() ([]models.TriggerConfig, error)
	LatestFiredIntervention(roomID, triggerID string) (*models.Intervention, error)
	ListInterventions(roomID string) ([]models.Intervention, error)
}

// RestoreTriggerState reseeds cooldown tracks for every active room from the
// most recent persisted firing of each trigger, and reports how much pending
// work awaits therapists. Returns the number of cooldown tracks restored.
func RestoreTriggerState(st recoveryStore, seeder cooldownSeeder) (int, error) {
	rooms, err := st.ListRoomsByStatus(models.RoomStatusActive)
	if err != nil {
		return 0, err
	}
	configs, err := st.ListTriggerConfigs()
	if err != nil {
		return 0, err
	}

	restored := 0
	pending := 0
	for _, room := range rooms {
		for _, cfg := range configs {
			iv, err := st.LatestFiredIntervention(room.ID, cfg.ID)
			if err != nil {
				return restored, err
			}
			if iv == nil {
				continue
			}
			seeder.SeedCooldown(room.ID, cfg.ID, iv.FiredAtSeq, iv.FiredAt)
			restored++
		}

		interventions, err := st.ListInterventions(room.ID)
		if err != nil {
			return restored, err
		}
		for _, iv := range interventions {
			if iv.Status == models.InterventionPending {
				pending++
			}
		}
	}

	slog.Info("Trigger state restored",
		"activeRooms", len(rooms), "cooldownsRestored", restored, "pendingInterventions", pending)
	return restored, nil
}
