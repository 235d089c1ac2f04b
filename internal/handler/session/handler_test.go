package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/hangout/backend/internal/model/hangout"
	"github.com/zhouzirui/hangout/backend/internal/observability"
	"github.com/zhouzirui/hangout/backend/internal/service/orchestrator"
	sessionService "github.com/zhouzirui/hangout/backend/internal/service/session"
)

type stubExtractor struct{}

// Extract treats "Name @ Location" as a self introduction.
func (stubExtractor) Extract(_ context.Context, text string, _ *hangout.Participant) (hangout.ParticipantUpdate, error) {
	if text == "garbled" {
		return hangout.ParticipantUpdate{}, fmt.Errorf("no json: %w", hangout.ErrExtraction)
	}
	name, loc, ok := strings.Cut(text, " @ ")
	if !ok {
		return hangout.ParticipantUpdate{}, nil
	}
	return hangout.ParticipantUpdate{Name: name, HomeLocation: &loc}, nil
}

type stubPlanner struct {
	err error
}

func (p *stubPlanner) GeneratePlan(_ context.Context, req hangout.PlanRequest) (hangout.PlanDraft, error) {
	if p.err != nil {
		return hangout.PlanDraft{}, p.err
	}
	return hangout.PlanDraft{
		Venues:    []hangout.Venue{{Name: "Foreign Cinema", Address: "2534 Mission St", Rationale: "central"}},
		Reasoning: fmt.Sprintf("%d participants", len(req.Participants)),
	}, nil
}

func setupRouter(t *testing.T) (*chi.Mux, *sessionService.Registry, *stubPlanner) {
	t.Helper()

	registry := sessionService.NewRegistry()
	planner := &stubPlanner{}
	orch, err := orchestrator.New(orchestrator.Dependencies{
		Sessions:  registry,
		Extractor: stubExtractor{},
		Planner:   planner,
	}, orchestrator.Config{AutoPlanThreshold: 2})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}

	handler := New(registry, orch, "https://hangout.example", observability.NewMetrics(), nil)
	r := chi.NewRouter()
	r.Route("/api", handler.RegisterRoutes)
	return r, registry, planner
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", resp.Body.String(), err)
	}
	return out
}

func createSession(t *testing.T, r http.Handler) SessionView {
	t.Helper()
	resp := doJSON(t, r, http.MethodPost, "/api/sessions", nil)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	return decode[SessionView](t, resp)
}

func TestCreateSession(t *testing.T) {
	r, registry, _ := setupRouter(t)

	view := createSession(t, r)

	if view.ID == "" {
		t.Fatalf("expected session id")
	}
	if view.State != hangout.StateCollecting {
		t.Fatalf("expected collecting_info, got %s", view.State)
	}
	if view.ShareURL != "https://hangout.example/?session="+view.ID {
		t.Fatalf("unexpected share url %s", view.ShareURL)
	}
	if view.Plan != nil {
		t.Fatalf("expected no plan")
	}
	if registry.Len() != 1 {
		t.Fatalf("expected one session, got %d", registry.Len())
	}
}

func TestJoinSessionByLink(t *testing.T) {
	r, registry, _ := setupRouter(t)

	resp := doJSON(t, r, http.MethodGet, "/api/session", nil)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 for new session, got %d", resp.Code)
	}
	created := decode[SessionView](t, resp)

	resp = doJSON(t, r, http.MethodGet, "/api/session?session="+created.ID, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 when rejoining, got %d", resp.Code)
	}
	if joined := decode[SessionView](t, resp); joined.ID != created.ID {
		t.Fatalf("expected %s, got %s", created.ID, joined.ID)
	}

	resp = doJSON(t, r, http.MethodGet, "/api/session?session=friday-dinner", nil)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 for unknown link id, got %d", resp.Code)
	}

	resp = doJSON(t, r, http.MethodGet, "/api/session?session=bad%20id!", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", resp.Code)
	}

	if registry.Len() != 2 {
		t.Fatalf("expected two sessions, got %d", registry.Len())
	}
}

func TestGetUnknownSession(t *testing.T) {
	r, _, _ := setupRouter(t)

	resp := doJSON(t, r, http.MethodGet, "/api/sessions/nope1234", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if body := decode[map[string]string](t, resp); body["kind"] != "session_not_found" {
		t.Fatalf("unexpected kind %q", body["kind"])
	}
}

func TestPostMessageBuildsPlanAtThreshold(t *testing.T) {
	r, _, _ := setupRouter(t)
	view := createSession(t, r)
	path := "/api/sessions/" + view.ID + "/messages"

	resp := doJSON(t, r, http.MethodPost, path, map[string]any{"sender": "Alex", "text": "Alex @ Mission District"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	first := decode[messageResponse](t, resp)
	if !first.Created || first.Participant == nil || first.Participant.Name != "Alex" {
		t.Fatalf("expected Alex to be created, got %+v", first.Participant)
	}
	if first.Plan != nil {
		t.Fatalf("expected no plan below threshold")
	}

	resp = doJSON(t, r, http.MethodPost, path, map[string]any{"sender": "Jordan", "text": "Jordan @ Marina District"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	second := decode[messageResponse](t, resp)
	if second.Plan == nil || second.Plan.Version != 1 {
		t.Fatalf("expected plan v1, got %+v", second.Plan)
	}
	if len(second.Plan.Venues) == 0 {
		t.Fatalf("expected venues")
	}
	if second.Session.State != hangout.StatePlanReady {
		t.Fatalf("expected plan_ready, got %s", second.Session.State)
	}
	if len(second.Session.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(second.Session.Participants))
	}
}

func TestPostMessageValidation(t *testing.T) {
	r, _, _ := setupRouter(t)
	view := createSession(t, r)
	path := "/api/sessions/" + view.ID + "/messages"

	cases := map[string]any{
		"missing text":  map[string]any{"sender": "Alex"},
		"unknown field": map[string]any{"text": "hi", "persona": "x"},
		"long sender":   map[string]any{"sender": strings.Repeat("x", 65), "text": "hi"},
	}
	for name, body := range cases {
		resp := doJSON(t, r, http.MethodPost, path, body)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, resp.Code)
		}
	}

	resp := doJSON(t, r, http.MethodPost, "/api/sessions/missing1/messages", map[string]any{"text": "hi"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestPostMessageExtractionFailure(t *testing.T) {
	r, registry, _ := setupRouter(t)
	view := createSession(t, r)

	resp := doJSON(t, r, http.MethodPost, "/api/sessions/"+view.ID+"/messages", map[string]any{"sender": "Alex", "text": "garbled"})
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}
	if body := decode[map[string]string](t, resp); body["kind"] != "extraction_error" {
		t.Fatalf("unexpected kind %q", body["kind"])
	}

	entry, err := registry.Get(context.Background(), view.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap := entry.Snapshot(); len(snap.Messages) == 0 || snap.Messages[0].Text != "garbled" {
		t.Fatalf("expected user message to be kept")
	}
}

func TestRegenerateEmptySessionConflict(t *testing.T) {
	r, _, _ := setupRouter(t)
	view := createSession(t, r)

	resp := doJSON(t, r, http.MethodPost, "/api/sessions/"+view.ID+"/plan", nil)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
	if body := decode[map[string]string](t, resp); body["kind"] != "insufficient_data" {
		t.Fatalf("unexpected kind %q", body["kind"])
	}

	resp = doJSON(t, r, http.MethodGet, "/api/sessions/"+view.ID, nil)
	if got := decode[SessionView](t, resp); got.Plan != nil || got.PlanVersion != 0 {
		t.Fatalf("expected untouched plan, got %+v (v%d)", got.Plan, got.PlanVersion)
	}
}

func TestRegenerateFinalizeAndHistory(t *testing.T) {
	r, _, planner := setupRouter(t)
	view := createSession(t, r)
	base := "/api/sessions/" + view.ID

	doJSON(t, r, http.MethodPost, base+"/messages", map[string]any{"sender": "Alex", "text": "Alex @ SoMa"})

	resp := doJSON(t, r, http.MethodPost, base+"/plan", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if plan := decode[hangout.Plan](t, resp); plan.Version != 1 || plan.Confidence != hangout.ConfidenceLow {
		t.Fatalf("unexpected plan %+v", plan)
	}

	planner.err = fmt.Errorf("timed out: %w", hangout.ErrTimeout)
	resp = doJSON(t, r, http.MethodPost, base+"/plan", nil)
	if resp.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", resp.Code)
	}
	planner.err = nil

	resp = doJSON(t, r, http.MethodPost, base+"/plan/finalize", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if plan := decode[hangout.Plan](t, resp); plan.Version != 2 {
		t.Fatalf("expected v2, got %d", plan.Version)
	}

	resp = doJSON(t, r, http.MethodGet, base, nil)
	got := decode[SessionView](t, resp)
	if got.State != hangout.StateFinalized || got.FinalizedPlan == nil {
		t.Fatalf("expected finalized session, got %s", got.State)
	}

	resp = doJSON(t, r, http.MethodGet, base+"/plans", nil)
	history := decode[struct {
		Plans []hangout.Plan `json:"plans"`
	}](t, resp)
	if len(history.Plans) != 2 || history.Plans[0].Version != 1 || history.Plans[1].Version != 2 {
		t.Fatalf("unexpected history %+v", history.Plans)
	}
}

func TestSnapshotTrimsMessages(t *testing.T) {
	r, _, _ := setupRouter(t)
	view := createSession(t, r)
	base := "/api/sessions/" + view.ID

	for i := 0; i < 15; i++ {
		doJSON(t, r, http.MethodPost, base+"/messages", map[string]any{"sender": "Alex", "text": fmt.Sprintf("note %d", i)})
	}

	recent := decode[SessionView](t, doJSON(t, r, http.MethodGet, base, nil))
	if len(recent.Messages) != recentMessages || recent.MessageCount != 30 {
		t.Fatalf("expected %d of 30 messages, got %d of %d", recentMessages, len(recent.Messages), recent.MessageCount)
	}

	all := decode[SessionView](t, doJSON(t, r, http.MethodGet, base+"?messages=all", nil))
	if len(all.Messages) != 30 {
		t.Fatalf("expected 30 messages, got %d", len(all.Messages))
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{hangout.ErrSessionNotFound, http.StatusNotFound},
		{sessionService.ErrInvalidID, http.StatusBadRequest},
		{orchestrator.ErrEmptyMessage, http.StatusBadRequest},
		{fmt.Errorf("x: %w", hangout.ErrInsufficientData), http.StatusConflict},
		{fmt.Errorf("x: %w", hangout.ErrPlanGeneration), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("%w: upstream reset", context.Canceled), statusClientClosedRequest},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.err); got != tc.want {
			t.Fatalf("StatusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
