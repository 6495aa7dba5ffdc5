// Package api provides HTTP handlers and the main API server logic for GameBridge.
//
// It exposes RESTful endpoints for room lifecycle, invitations, moves, card
// draws, timelines, and intervention review. The API integrates with the
// session, store, genai, messaging, and scheduler modules.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CALM-Lab/GameBridge/internal/board"
	"github.com/CALM-Lab/GameBridge/internal/deck"
	"github.com/CALM-Lab/GameBridge/internal/genai"
	"github.com/CALM-Lab/GameBridge/internal/messaging"
	"github.com/CALM-Lab/GameBridge/internal/models"
	"github.com/CALM-Lab/GameBridge/internal/recovery"
	"github.com/CALM-Lab/GameBridge/internal/scheduler"
	"github.com/CALM-Lab/GameBridge/internal/session"
	"github.com/CALM-Lab/GameBridge/internal/store"
	"github.com/CALM-Lab/GameBridge/internal/util"
)

const (
	// DefaultAddr is the address the API server listens on when none is configured.
	DefaultAddr = ":8080"
	// DefaultSweepSchedule runs the inactivity sweep once a minute.
	DefaultSweepSchedule = "@every 1m"
	// shutdownTimeout bounds how long in-flight requests may run during shutdown.
	shutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr          string
	SweepSchedule string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address for the API server.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithSweepSchedule sets the cron expression for the inactivity sweep job.
func WithSweepSchedule(expr string) Option {
	return func(o *Opts) { o.SweepSchedule = expr }
}

// Server bundles the HTTP handlers with the session manager they delegate to.
type Server struct {
	manager *session.Manager
}

// NewServer creates an API server around an existing session manager.
func NewServer(manager *session.Manager) *Server {
	return &Server{manager: manager}
}

// Handler returns the routing table for the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rooms", s.createRoomHandler)
	mux.HandleFunc("GET /rooms/{id}", s.getRoomHandler)
	mux.HandleFunc("GET /rooms/code/{code}", s.roomByCodeHandler)
	mux.HandleFunc("POST /rooms/{id}/invites", s.sendInviteHandler)
	mux.HandleFunc("POST /invites/{id}/accept", s.acceptInviteHandler)
	mux.HandleFunc("DELETE /rooms/{id}/participants/{participantID}", s.removeParticipantHandler)
	mux.HandleFunc("POST /rooms/{id}/activate", s.activateRoomHandler)
	mux.HandleFunc("POST /rooms/{id}/close", s.closeRoomHandler)
	mux.HandleFunc("POST /rooms/{id}/complete", s.completeRoomHandler)
	mux.HandleFunc("POST /rooms/{id}/moves", s.submitMoveHandler)
	mux.HandleFunc("POST /rooms/{id}/draws", s.drawCardsHandler)
	mux.HandleFunc("POST /rooms/{id}/entries", s.addEntryHandler)
	mux.HandleFunc("GET /rooms/{id}/timeline", s.timelineHandler)
	mux.HandleFunc("POST /rooms/{id}/interventions/{interventionID}/resolve", s.resolveInterventionHandler)
	mux.HandleFunc("GET /rooms/{id}/export", s.exportHandler)
	return mux
}

// Run wires up the configured modules and serves the API until the process
// receives SIGINT or SIGTERM.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, msgOpts []messaging.Option, apiOpts []Option) error {
	cfg := Opts{Addr: DefaultAddr, SweepSchedule: DefaultSweepSchedule}
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	st, err := store.NewStore(storeOpts...)
	if err != nil {
		slog.Error("Run: failed to initialize store", "error", err)
		return err
	}
	defer st.Close()

	mgrOpts := []session.Option{
		session.WithGenerationTimeout(time.Duration(util.ParseIntEnv("GENERATION_TIMEOUT_SECONDS", 15)) * time.Second),
	}
	gaClient, err := genai.NewClient(genaiOpts...)
	if err != nil {
		slog.Warn("Run: generative prompts disabled, falling back to template rendering", "error", err)
	} else {
		mgrOpts = append(mgrOpts, session.WithGenerator(gaClient))
	}

	var msgService messaging.Service
	twilioService, err := messaging.NewTwilioService(msgOpts...)
	if err != nil {
		slog.Warn("Run: SMS delivery disabled, invites and interventions will not be sent", "error", err)
		msgService = messaging.NewMockService()
	} else {
		msgService = twilioService
	}
	defer msgService.Stop()

	mgr := session.NewManager(st, msgService, mgrOpts...)
	if _, err := recovery.RestoreTriggerState(st, mgr.Triggers()); err != nil {
		slog.Error("Run: failed to restore trigger state", "error", err)
		return err
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(cfg.SweepSchedule, func() {
		mgr.SweepInactivity(context.Background())
	}); err != nil {
		slog.Error("Run: failed to schedule inactivity sweep", "error", err, "schedule", cfg.SweepSchedule)
		return err
	}

	server := NewServer(mgr)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("GameBridge API running", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		slog.Error("Run: HTTP server failed", "error", err)
		return err
	case <-ctx.Done():
		slog.Info("Run: shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Run: graceful shutdown failed", "error", err)
		return err
	}
	slog.Info("Run: server stopped")
	return nil
}

// statusForError maps domain errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrRoomNotFound),
		errors.Is(err, models.ErrInviteNotFound),
		errors.Is(err, models.ErrParticipantNotFound),
		errors.Is(err, models.ErrMoveNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrRoomFull),
		errors.Is(err, models.ErrRoomNotActive),
		errors.Is(err, models.ErrRoomNotWaiting),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrInviteAccepted),
		errors.Is(err, models.ErrTherapistPresent),
		errors.Is(err, models.ErrInterventionClosed),
		errors.Is(err, store.ErrDuplicateSeq):
		return http.StatusConflict
	case errors.Is(err, models.ErrNotYourTurn),
		errors.Is(err, models.ErrNotTherapist):
		return http.StatusForbidden
	case errors.Is(err, models.ErrInvalidDiceOverride),
		errors.Is(err, models.ErrNoEligibleActors),
		errors.Is(err, models.ErrEmptyContact),
		errors.Is(err, models.ErrEmptyDisplayName),
		errors.Is(err, board.ErrUnknownBoard),
		errors.Is(err, deck.ErrUnknownDeck):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
