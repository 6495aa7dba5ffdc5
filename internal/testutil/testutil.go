// Package testutil provides common test utilities and helpers for GameBridge tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/CALM-Lab/GameBridge/internal/api"
	"github.com/CALM-Lab/GameBridge/internal/messaging"
	"github.com/CALM-Lab/GameBridge/internal/models"
	"github.com/CALM-Lab/GameBridge/internal/session"
	"github.com/CALM-Lab/GameBridge/internal/store"
)

// Env bundles a test API server with its in-memory backing pieces so tests
// can observe and seed state directly.
type Env struct {
	Server    *api.Server
	Manager   *session.Manager
	Store     *store.InMemoryStore
	Messenger *messaging.MockService
}

// NewTestEnv creates a test API server with in-memory dependencies.
// This centralizes the test server creation logic used across multiple test files.
func NewTestEnv(opts ...session.Option) *Env {
	st := store.NewInMemoryStore()
	msg := messaging.NewMockService()
	mgr := session.NewManager(st, msg, opts...)
	return &Env{
		Server:    api.NewServer(mgr),
		Manager:   mgr,
		Store:     st,
		Messenger: msg,
	}
}

// ScriptedRoller plays back a fixed sequence of dice values, cycling when
// exhausted. It satisfies the engine's Roller interface.
type ScriptedRoller struct {
	rolls []int
	next  int
}

// NewScriptedRoller creates a roller that returns the given values in order.
func NewScriptedRoller(rolls ...int) *ScriptedRoller {
	return &ScriptedRoller{rolls: rolls}
}

// Roll returns the next scripted value regardless of the die size.
func (r *ScriptedRoller) Roll(sides int) int {
	if len(r.rolls) == 0 {
		return 1
	}
	v := r.rolls[r.next%len(r.rolls)]
	r.next++
	return v
}

// SeedTriggerConfig stores a trigger catalog entry, failing the test on error.
func SeedTriggerConfig(t *testing.T, st store.Store, cfg models.TriggerConfig) {
	t.Helper()
	if err := st.SaveTriggerConfig(cfg); err != nil {
		t.Fatalf("failed to seed trigger config %s: %v", cfg.ID, err)
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}
