package api_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/CALM-Lab/GameBridge/internal/models"
	"github.com/CALM-Lab/GameBridge/internal/testutil"
)

func intPtr(v int) *int { return &v }

// serve routes a request through the server's mux so path values resolve.
func serve(env *testutil.Env, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	env.Server.Handler().ServeHTTP(rr, req)
	return rr
}

// createRoom provisions a room over HTTP and returns room ID, join code, and
// therapist ID.
func createRoom(t *testing.T, env *testutil.Env, therapistPlays bool) (string, string, string) {
	t.Helper()
	req := testutil.CreateHTTPRequest(t, "POST", "/rooms", map[string]interface{}{
		"therapist_name":    "Dr. Reyes",
		"therapist_contact": "15550000001",
		"therapist_plays":   therapistPlays,
	})
	rr := serve(env, req)
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "create room")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	result := resp["result"].(map[string]interface{})
	room := result["room"].(map[string]interface{})
	therapist := result["therapist"].(map[string]interface{})
	return room["id"].(string), room["join_code"].(string), therapist["id"].(string)
}

// joinPlayer invites and accepts one player, returning the participant ID.
func joinPlayer(t *testing.T, env *testutil.Env, roomID, contact, name string) string {
	t.Helper()
	req := testutil.CreateHTTPRequest(t, "POST", "/rooms/"+roomID+"/invites", map[string]interface{}{
		"contact": contact,
	})
	rr := serve(env, req)
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "send invite")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	inviteID := resp["result"].(map[string]interface{})["id"].(string)

	req = testutil.CreateHTTPRequest(t, "POST", "/invites/"+inviteID+"/accept", map[string]interface{}{
		"display_name": name,
	})
	rr = serve(env, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "accept invite")
	resp = testutil.AssertJSONResponse(t, rr, "ok")
	return resp["result"].(map[string]interface{})["id"].(string)
}

func activateRoom(t *testing.T, env *testutil.Env, roomID string) {
	t.Helper()
	rr := serve(env, testutil.CreateHTTPRequest(t, "POST", "/rooms/"+roomID+"/activate", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "activate room")
}

func submitMove(t *testing.T, env *testutil.Env, roomID, participantID string, dice int) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.CreateHTTPRequest(t, "POST", "/rooms/"+roomID+"/moves", map[string]interface{}{
		"participant_id": participantID,
		"dice":           dice,
	})
	return serve(env, req)
}

func TestCreateRoomAndLookup(t *testing.T) {
	env := testutil.NewTestEnv()
	roomID, joinCode, therapistID := createRoom(t, env, false)
	if joinCode == "" || therapistID == "" {
		t.Fatalf("expected join code and therapist ID, got %q / %q", joinCode, therapistID)
	}

	rr := serve(env, testutil.CreateHTTPRequest(t, "GET", "/rooms/"+roomID, nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "get room")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	result := resp["result"].(map[string]interface{})
	participants := result["participants"].([]interface{})
	if len(participants) != 1 {
		t.Errorf("expected therapist in roster, got %d participants", len(participants))
	}

	rr = serve(env, testutil.CreateHTTPRequest(t, "GET", "/rooms/code/"+joinCode, nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "room by code")

	rr = serve(env, testutil.CreateHTTPRequest(t, "GET", "/rooms/room_missing", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown room")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestCreateRoomValidation(t *testing.T) {
	env := testutil.NewTestEnv()

	rr := serve(env, testutil.CreateHTTPRequest(t, "POST", "/rooms", map[string]interface{}{
		"therapist_contact": "15550000001",
	}))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "missing therapist name")

	req, _ := http.NewRequest("POST", "/rooms", strings.NewReader("{not json"))
	rr = serve(env, req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "malformed JSON")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestInviteFlow(t *testing.T) {
	env := testutil.NewTestEnv()
	roomID, joinCode, _ := createRoom(t, env, false)

	playerID := joinPlayer(t, env, roomID, "15551234567", "Sam")
	if playerID == "" {
		t.Fatal("expected player ID after accept")
	}

	sent := env.Messenger.Sent()
	if len(sent) == 0 {
		t.Fatal("expected invite message to be delivered")
	}
	if !strings.Contains(sent[0].Body, joinCode) {
		t.Errorf("invite message should carry the join code %s: %q", joinCode, sent[0].Body)
	}

	rr := serve(env, testutil.CreateHTTPRequest(t, "POST", "/rooms/"+roomID+"/invites", map[string]interface{}{
		"contact": "15559876543", "role": "supervisor",
	}))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "invalid role")

	rr = serve(env, testutil.CreateHTTPRequest(t, "POST", "/rooms/"+roomID+"/invites", map[string]interface{}{
		"contact": "",
	}))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "empty contact")
}

func TestAcceptInviteTwice(t *testing.T) {
	env := testutil.NewTestEnv()
	roomID, _, _ := createRoom(t, env, false)

	rr := serve(env, testutil.CreateHTTPRequest(t, "POST", "/rooms/"+roomID+"/invites", map[string]interface{}{
		"contact": "15551234567",
	}))
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "send invite")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	inviteID := resp["result"].(map[string]interface{})["id"].(string)

	accept := func() *httptest.ResponseRecorder {
		return serve(env, testutil.CreateHTTPRequest(t, "POST", "/invites/"+inviteID+"/accept", map[string]interface{}{
			"display_name": "Sam",
		}))
	}
	testutil.AssertHTTPStatus(t, http.StatusOK, accept().Code, "first accept")
	testutil.AssertHTTPStatus(t, http.StatusConflict, accept().Code, "second accept")

	rr = serve(env, testutil.CreateHTTPRequest(t, "POST", "/invites/inv_missing/accept", map[string]interface{}{
		"display_name": "Sam",
	}))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown invite")
}

func TestRoomTransitions(t *testing.T) {
	env := testutil.NewTestEnv()
	roomID, _, _ := createRoom(t, env, false)
	joinPlayer(t, env, roomID, "15551234567", "Sam")

	rr := serve(env, testutil.CreateHTTPRequest(t, "POST", "/rooms/"+roomID+"/activate", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "activate")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	room := resp["result"].(map[string]interface{})
	if room["status"] != string(models.RoomStatusActive) {
		t.Errorf("expected active status, got %v", room["status"])
	}

	rr = serve(env, testutil.CreateHTTPRequest(t, "POST", "/rooms/"+roomID+"/activate", nil))
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "double activate")

	rr = serve(env, testutil.CreateHTTPRequest(t, "POST", "/rooms/"+roomID+"/close", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "close")

	// Closed rooms are terminal apart from audit reads.
	rr = serve(env, testutil.CreateHTTPRequest(t, "POST", "/rooms/"+roomID+"/complete", nil))
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "complete after close")
}

func TestSubmitMoveOverHTTP(t *testing.T) {
	env := testutil.NewTestEnv()
	roomID, _, _ := createRoom(t, env, false)
	playerID := joinPlayer(t, env, roomID, "15551234567", "Sam")

	rr := submitMove(t, env, roomID, playerID, 4)
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "move before activation")

	activateRoom(t, env, roomID)

	rr = submitMove(t, env, roomID, playerID, 7)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "dice out of range")

	rr = submitMove(t, env, roomID, "p_nobody", 4)
	testutil.AssertHTTPStatus(t, http.StatusForbidden, rr.Code, "out of turn actor")

	rr = submitMove(t, env, roomID, playerID, 4)
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "valid move")
	resp := testutil.AssertJSONResponse(t, rr, "recorded")
	move := resp["result"].(map[string]interface{})
	if move["to_pos"].(float64) != 4 {
		t.Errorf("expected landing on 4, got %v", move["to_pos"])
	}
}

func TestInterventionPipelineOverHTTP(t *testing.T) {
	env := testutil.NewTestEnv()
	testutil.SeedTriggerConfig(t, env.Store, models.TriggerConfig{
		ID:                  "repeat_cell",
		Enabled:             true,
		RequiresApproval:    true,
		AutoApproveWhenSolo: true,
		Severity:            models.SeverityAttention,
		CooldownMoves:       3,
		Thresholds: models.Thresholds{
			RepeatCount:       intPtr(3),
			RepeatWindowMoves: intPtr(5),
		},
		Metadata: models.TriggerMetadata{
			Message: "{{participant_name}} keeps landing on cell {{repeat_pos}}.",
		},
	})

	roomID, _, _ := createRoom(t, env, false)
	playerID := joinPlayer(t, env, roomID, "15551234567", "Sam")
	activateRoom(t, env, roomID)

	// A 13 -> 4 jump puts the player on cell 4 at sequences 1, 3 and 5.
	for _, dice := range []int{4, 5, 4, 5, 4} {
		rr := submitMove(t, env, roomID, playerID, dice)
		testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "move")
	}

	rr := serve(env, testutil.CreateHTTPRequest(t, "GET", "/rooms/"+roomID+"/timeline?include_hidden=true", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "timeline")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	entries := resp["result"].([]interface{})

	var intervention map[string]interface{}
	for _, raw := range entries {
		entry := raw.(map[string]interface{})
		if entry["kind"] == "intervention" {
			intervention = entry["intervention"].(map[string]interface{})
		}
	}
	if intervention == nil {
		t.Fatal("expected an intervention in the timeline")
	}
	if intervention["status"] != string(models.InterventionAutoApproved) {
		t.Errorf("solo room intervention should auto-approve, got %v", intervention["status"])
	}
	if !strings.Contains(intervention["content"].(string), "Sam keeps landing on cell 4.") {
		t.Errorf("unexpected intervention content: %v", intervention["content"])
	}

	delivered := false
	for _, msg := range env.Messenger.Sent() {
		if strings.Contains(msg.Body, "keeps landing on cell 4") {
			delivered = true
		}
	}
	if !delivered {
		t.Error("expected intervention content to be delivered to the player")
	}
}

func TestResolveInterventionUnknown(t *testing.T) {
	env := testutil.NewTestEnv()
	roomID, _, therapistID := createRoom(t, env, false)

	rr := serve(env, testutil.CreateHTTPRequest(t, "POST",
		"/rooms/"+roomID+"/interventions/itv_missing/resolve", map[string]interface{}{
			"resolver_id": therapistID, "approve": true,
		}))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown intervention")
}

func TestDrawCardsAndEntriesOverHTTP(t *testing.T) {
	env := testutil.NewTestEnv()
	roomID, _, _ := createRoom(t, env, false)
	playerID := joinPlayer(t, env, roomID, "15551234567", "Sam")
	activateRoom(t, env, roomID)

	rr := serve(env, testutil.CreateHTTPRequest(t, "POST", "/rooms/"+roomID+"/draws", map[string]interface{}{
		"participant_id": playerID, "count": 0,
	}))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "zero count draw")

	rr = serve(env, testutil.CreateHTTPRequest(t, "POST", "/rooms/"+roomID+"/draws", map[string]interface{}{
		"participant_id": playerID, "count": 2,
	}))
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "draw cards")
	resp := testutil.AssertJSONResponse(t, rr, "recorded")
	draw := resp["result"].(map[string]interface{})
	cards := draw["cards"].([]interface{})
	if len(cards) != 2 {
		t.Errorf("expected 2 cards, got %d", len(cards))
	}

	rr = submitMove(t, env, roomID, playerID, 3)
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "move")

	rr = serve(env, testutil.CreateHTTPRequest(t, "POST", "/rooms/"+roomID+"/entries", map[string]interface{}{
		"participant_id": playerID, "move_seq": 1, "body": "felt calmer after the draw",
	}))
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "therapy entry")

	rr = serve(env, testutil.CreateHTTPRequest(t, "POST", "/rooms/"+roomID+"/entries", map[string]interface{}{
		"participant_id": playerID, "move_seq": 9, "body": "note for a move that never happened",
	}))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "entry for unrecorded move")

	rr = serve(env, testutil.CreateHTTPRequest(t, "POST", "/rooms/"+roomID+"/entries", map[string]interface{}{
		"participant_id": playerID, "move_seq": 1, "body": "  ",
	}))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "blank entry body")
}

func TestExportOverHTTP(t *testing.T) {
	env := testutil.NewTestEnv()
	roomID, _, _ := createRoom(t, env, false)
	playerID := joinPlayer(t, env, roomID, "15551234567", "Sam")
	activateRoom(t, env, roomID)
	rr := submitMove(t, env, roomID, playerID, 4)
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "move")

	rr = serve(env, testutil.CreateHTTPRequest(t, "GET", "/rooms/"+roomID+"/export", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "json export")
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}
	if !strings.Contains(rr.Body.String(), "\"timeline\"") {
		t.Error("json export missing timeline section")
	}

	rr = serve(env, testutil.CreateHTTPRequest(t, "GET", "/rooms/"+roomID+"/export?format=text", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "text export")
	if !strings.Contains(rr.Body.String(), "rolled 4: 0 -> 4") {
		t.Errorf("text export missing move line: %s", rr.Body.String())
	}

	rr = serve(env, testutil.CreateHTTPRequest(t, "GET", "/rooms/"+roomID+"/export?format=xml", nil))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "unsupported format")
}

func TestRemoveParticipantOverHTTP(t *testing.T) {
	env := testutil.NewTestEnv()
	roomID, _, _ := createRoom(t, env, false)
	playerID := joinPlayer(t, env, roomID, "15551234567", "Sam")

	rr := serve(env, testutil.CreateHTTPRequest(t, "DELETE",
		"/rooms/"+roomID+"/participants/"+playerID, nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "remove participant")

	rr = serve(env, testutil.CreateHTTPRequest(t, "DELETE",
		"/rooms/"+roomID+"/participants/"+playerID, nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "remove twice")
}
