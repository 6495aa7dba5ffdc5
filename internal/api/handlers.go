// Package api provides HTTP handlers for GameBridge endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/CALM-Lab/GameBridge/internal/models"
	"github.com/CALM-Lab/GameBridge/internal/session"
)

type createRoomRequest struct {
	TherapistName    string `json:"therapist_name"`
	TherapistContact string `json:"therapist_contact"`
	TherapistPlays   bool   `json:"therapist_plays"`
	Capacity         int    `json:"capacity"`
	PreStartRolls    int    `json:"pre_start_rolls"`
	Locale           string `json:"locale"`
	Board            string `json:"board"`
	Deck             string `json:"deck"`
}

type createRoomResult struct {
	Room      models.Room        `json:"room"`
	Therapist models.Participant `json:"therapist"`
}

type roomResult struct {
	Room         models.Room          `json:"room"`
	Participants []models.Participant `json:"participants"`
}

type inviteRequest struct {
	Contact string `json:"contact"`
	Role    string `json:"role"`
}

type acceptInviteRequest struct {
	DisplayName string `json:"display_name"`
}

type moveRequest struct {
	ParticipantID string `json:"participant_id"`
	Dice          *int   `json:"dice,omitempty"`
}

type drawRequest struct {
	ParticipantID string `json:"participant_id"`
	Count         int    `json:"count"`
	MoveSeq       *int   `json:"move_seq,omitempty"`
}

type entryRequest struct {
	ParticipantID string `json:"participant_id"`
	MoveSeq       int    `json:"move_seq"`
	Body          string `json:"body"`
}

type resolveRequest struct {
	ResolverID string `json:"resolver_id"`
	Approve    bool   `json:"approve"`
}

// decodeJSONBody decodes a request body into dst, closing the body.
func decodeJSONBody(r *http.Request, dst interface{}) error {
	if r.Body != nil {
		defer r.Body.Close()
	}
	return json.NewDecoder(r.Body).Decode(dst)
}

func (s *Server) createRoomHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.createRoomHandler: processing create room request", "path", r.URL.Path)
	var req createRoomRequest
	if err := decodeJSONBody(r, &req); err != nil {
		slog.Warn("Server.createRoomHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if strings.TrimSpace(req.TherapistName) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("therapist_name is required"))
		return
	}

	room, therapist, err := s.manager.CreateRoom(session.CreateRoomParams{
		TherapistName:    req.TherapistName,
		TherapistContact: req.TherapistContact,
		TherapistPlays:   req.TherapistPlays,
		Capacity:         req.Capacity,
		PreStartRolls:    req.PreStartRolls,
		Locale:           req.Locale,
		BoardName:        req.Board,
		DeckName:         req.Deck,
	})
	if err != nil {
		slog.Warn("Server.createRoomHandler: failed to create room", "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}

	slog.Info("Server.createRoomHandler: room created", "roomID", room.ID, "joinCode", room.JoinCode)
	writeJSONResponse(w, http.StatusCreated, models.Success(createRoomResult{Room: *room, Therapist: *therapist}))
}

func (s *Server) getRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	slog.Debug("Server.getRoomHandler: processing get room request", "roomID", roomID)

	room, err := s.manager.GetRoom(roomID)
	if err != nil {
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	roster, err := s.manager.Roster(roomID)
	if err != nil {
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(roomResult{Room: *room, Participants: roster}))
}

func (s *Server) roomByCodeHandler(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	slog.Debug("Server.roomByCodeHandler: processing lookup", "code", code)

	room, err := s.manager.GetRoomByJoinCode(code)
	if err != nil {
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(room))
}

func (s *Server) sendInviteHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	slog.Debug("Server.sendInviteHandler: processing invite request", "roomID", roomID)
	var req inviteRequest
	if err := decodeJSONBody(r, &req); err != nil {
		slog.Warn("Server.sendInviteHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	role := models.RolePlayer
	switch req.Role {
	case "", string(models.RolePlayer):
	case string(models.RoleTherapist):
		role = models.RoleTherapist
	default:
		writeJSONResponse(w, http.StatusBadRequest, models.Error("role must be player or therapist"))
		return
	}

	invite, err := s.manager.SendInvite(r.Context(), roomID, req.Contact, role)
	if err != nil {
		slog.Warn("Server.sendInviteHandler: failed to send invite", "error", err, "roomID", roomID)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}

	slog.Info("Server.sendInviteHandler: invite sent", "roomID", roomID, "inviteID", invite.ID)
	writeJSONResponse(w, http.StatusCreated, models.Success(invite))
}

func (s *Server) acceptInviteHandler(w http.ResponseWriter, r *http.Request) {
	inviteID := r.PathValue("id")
	slog.Debug("Server.acceptInviteHandler: processing accept request", "inviteID", inviteID)
	var req acceptInviteRequest
	if err := decodeJSONBody(r, &req); err != nil {
		slog.Warn("Server.acceptInviteHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	participant, err := s.manager.AcceptInvite(inviteID, req.DisplayName)
	if err != nil {
		slog.Warn("Server.acceptInviteHandler: failed to accept invite", "error", err, "inviteID", inviteID)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}

	slog.Info("Server.acceptInviteHandler: invite accepted", "inviteID", inviteID, "participantID", participant.ID)
	writeJSONResponse(w, http.StatusOK, models.Success(participant))
}

func (s *Server) removeParticipantHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	participantID := r.PathValue("participantID")
	slog.Debug("Server.removeParticipantHandler: processing removal", "roomID", roomID, "participantID", participantID)

	if err := s.manager.RemoveParticipant(roomID, participantID); err != nil {
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Participant removed", nil))
}

func (s *Server) activateRoomHandler(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(w, r, "activate", s.manager.ActivateRoom)
}

func (s *Server) closeRoomHandler(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(w, r, "close", s.manager.CloseRoom)
}

func (s *Server) completeRoomHandler(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(w, r, "complete", s.manager.CompleteRoom)
}

func (s *Server) transitionHandler(w http.ResponseWriter, r *http.Request, action string, fn func(string) error) {
	roomID := r.PathValue("id")
	slog.Debug("Server.transitionHandler: processing status change", "roomID", roomID, "action", action)

	if err := fn(roomID); err != nil {
		slog.Warn("Server.transitionHandler: status change rejected", "error", err, "roomID", roomID, "action", action)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	room, err := s.manager.GetRoom(roomID)
	if err != nil {
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	slog.Info("Server.transitionHandler: room status changed", "roomID", roomID, "status", room.Status)
	writeJSONResponse(w, http.StatusOK, models.Success(room))
}

func (s *Server) submitMoveHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	slog.Debug("Server.submitMoveHandler: processing move request", "roomID", roomID)
	var req moveRequest
	if err := decodeJSONBody(r, &req); err != nil {
		slog.Warn("Server.submitMoveHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ParticipantID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("participant_id is required"))
		return
	}

	move, err := s.manager.SubmitMove(r.Context(), roomID, req.ParticipantID, req.Dice)
	if err != nil {
		slog.Warn("Server.submitMoveHandler: move rejected", "error", err, "roomID", roomID, "participantID", req.ParticipantID)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}

	slog.Info("Server.submitMoveHandler: move recorded", "roomID", roomID, "seq", move.Seq, "toPos", move.ToPos)
	writeJSONResponse(w, http.StatusCreated, models.Recorded(move))
}

func (s *Server) drawCardsHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	slog.Debug("Server.drawCardsHandler: processing draw request", "roomID", roomID)
	var req drawRequest
	if err := decodeJSONBody(r, &req); err != nil {
		slog.Warn("Server.drawCardsHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Count <= 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("count must be positive"))
		return
	}

	draw, err := s.manager.DrawCards(r.Context(), roomID, req.ParticipantID, req.Count, req.MoveSeq)
	if err != nil {
		slog.Warn("Server.drawCardsHandler: draw rejected", "error", err, "roomID", roomID)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Recorded(draw))
}

func (s *Server) addEntryHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	slog.Debug("Server.addEntryHandler: processing therapy entry", "roomID", roomID)
	var req entryRequest
	if err := decodeJSONBody(r, &req); err != nil {
		slog.Warn("Server.addEntryHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("body is required"))
		return
	}

	entry, err := s.manager.AddTherapyEntry(roomID, req.ParticipantID, req.MoveSeq, req.Body)
	if err != nil {
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Recorded(entry))
}

func (s *Server) timelineHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	participantID := r.URL.Query().Get("participant_id")
	includeHidden := false
	if raw := r.URL.Query().Get("include_hidden"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("include_hidden must be a boolean"))
			return
		}
		includeHidden = parsed
	}
	slog.Debug("Server.timelineHandler: processing timeline request",
		"roomID", roomID, "participantID", participantID, "includeHidden", includeHidden)

	timeline, err := s.manager.ListTimeline(roomID, participantID, includeHidden)
	if err != nil {
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(timeline))
}

func (s *Server) resolveInterventionHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	interventionID := r.PathValue("interventionID")
	slog.Debug("Server.resolveInterventionHandler: processing resolution", "roomID", roomID, "interventionID", interventionID)
	var req resolveRequest
	if err := decodeJSONBody(r, &req); err != nil {
		slog.Warn("Server.resolveInterventionHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	iv, err := s.manager.ResolveIntervention(r.Context(), roomID, interventionID, req.ResolverID, req.Approve)
	if err != nil {
		slog.Warn("Server.resolveInterventionHandler: resolution rejected", "error", err, "interventionID", interventionID)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}

	slog.Info("Server.resolveInterventionHandler: intervention resolved",
		"interventionID", interventionID, "status", iv.Status)
	writeJSONResponse(w, http.StatusOK, models.Success(iv))
}

func (s *Server) exportHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	format := r.URL.Query().Get("format")
	slog.Debug("Server.exportHandler: processing export request", "roomID", roomID, "format", format)

	data, err := s.manager.ExportHistory(roomID, format)
	if err != nil {
		status := statusForError(err)
		if strings.Contains(err.Error(), "unsupported export format") {
			status = http.StatusBadRequest
		}
		writeJSONResponse(w, status, models.Error(err.Error()))
		return
	}

	contentType := "application/json"
	if format == "text" {
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("Server.exportHandler: failed to write export", "error", err, "roomID", roomID)
	}
}
