package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/broadcomms/brainstormx-transcribe/external/transport/ws"
	"github.com/broadcomms/brainstormx-transcribe/internal/repository"
	"github.com/broadcomms/brainstormx-transcribe/internal/session"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeSessions struct {
	infos []session.SessionInfo
}

func (f *fakeSessions) Snapshot() []session.SessionInfo { return f.infos }

type narrationCall struct {
	room   string
	active bool
	ttl    time.Duration
}

type fakeRooms struct {
	narration []narrationCall
	added     []string
	removed   []string
	err       error
}

func (f *fakeRooms) SetNarration(_ context.Context, room string, active bool, ttl time.Duration) error {
	f.narration = append(f.narration, narrationCall{room: room, active: active, ttl: ttl})
	return f.err
}

func (f *fakeRooms) AddParticipant(_ context.Context, room, participant string) error {
	f.added = append(f.added, room+"/"+participant)
	return f.err
}

func (f *fakeRooms) RemoveParticipant(_ context.Context, room, participant string) error {
	f.removed = append(f.removed, room+"/"+participant)
	return f.err
}

type fakeTranscripts struct {
	byRoom map[string][]repository.Utterance
}

func (f *fakeTranscripts) ListUtterancesByRoom(_ context.Context, roomID string) ([]repository.Utterance, error) {
	return f.byRoom[roomID], nil
}

func serve(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "router_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()
	router := NewRouter(Options{Gatherer: reg})

	rec := serve(t, router, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("unexpected health response: %d %s", rec.Code, rec.Body.String())
	}
	rec = serve(t, router, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "router_test_total 1") {
		t.Fatalf("unexpected metrics response: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_ListSessions(t *testing.T) {
	sessions := &fakeSessions{infos: []session.SessionInfo{{Room: "room-1", Participant: "alice", Status: session.StatusActive}}}
	router := NewRouter(Options{Sessions: sessions})

	rec := serve(t, router, http.MethodGet, "/admin/sessions", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var body struct {
		Sessions []session.SessionInfo `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(body.Sessions) != 1 || body.Sessions[0].Participant != "alice" {
		t.Fatalf("unexpected sessions: %+v", body.Sessions)
	}
}

func TestRouter_AdminKey(t *testing.T) {
	router := NewRouter(Options{AdminAPIKey: "s3cret", Sessions: &fakeSessions{}})

	if rec := serve(t, router, http.MethodGet, "/admin/sessions", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}
	if rec := serve(t, router, http.MethodGet, "/admin/sessions", "", map[string]string{adminKeyHeader: "s3cret"}); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", rec.Code)
	}
}

func TestRouter_IssueToken(t *testing.T) {
	tokens, err := ws.NewTokens("secret", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	router := NewRouter(Options{Tokens: tokens})

	rec := serve(t, router, http.MethodPost, "/admin/tokens", `{"participant":"alice","room":"room-1"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	id, err := tokens.Verify(body.Token)
	if err != nil || id.Participant != "alice" || id.Room != "room-1" {
		t.Fatalf("issued token did not verify: %+v %v", id, err)
	}

	if rec := serve(t, router, http.MethodPost, "/admin/tokens", `{"room":"room-1"}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing participant should be 400, got %d", rec.Code)
	}
}

func TestRouter_RoomControl(t *testing.T) {
	rooms := &fakeRooms{}
	router := NewRouter(Options{Rooms: rooms})

	rec := serve(t, router, http.MethodPut, "/admin/rooms/room-1/narration", `{"active":true,"ttlSeconds":30}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	if len(rooms.narration) != 1 || rooms.narration[0] != (narrationCall{room: "room-1", active: true, ttl: 30 * time.Second}) {
		t.Fatalf("unexpected narration calls: %+v", rooms.narration)
	}
	if rec := serve(t, router, http.MethodPut, "/admin/rooms/room-1/narration", `{"active":true,"ttlSeconds":-1}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative ttl should be 400, got %d", rec.Code)
	}

	if rec := serve(t, router, http.MethodPut, "/admin/rooms/room-1/participants/alice", "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected add status: %d", rec.Code)
	}
	if rec := serve(t, router, http.MethodDelete, "/admin/rooms/room-1/participants/alice", "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected remove status: %d", rec.Code)
	}
	if len(rooms.added) != 1 || rooms.added[0] != "room-1/alice" || len(rooms.removed) != 1 {
		t.Fatalf("unexpected membership calls: %v %v", rooms.added, rooms.removed)
	}

	rooms.err = errors.New("redis down")
	if rec := serve(t, router, http.MethodPut, "/admin/rooms/room-1/participants/bob", "", nil); rec.Code != http.StatusBadGateway {
		t.Fatalf("backend failure should be 502, got %d", rec.Code)
	}
}

func TestRouter_UnconfiguredFeatures(t *testing.T) {
	router := NewRouter(Options{})
	paths := []struct{ method, path, body string }{
		{http.MethodGet, "/admin/sessions", ""},
		{http.MethodPost, "/admin/tokens", `{"participant":"alice"}`},
		{http.MethodPut, "/admin/rooms/room-1/narration", `{"active":true}`},
		{http.MethodGet, "/admin/rooms/room-1/utterances", ""},
	}
	for _, p := range paths {
		if rec := serve(t, router, p.method, p.path, p.body, nil); rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s %s: expected 503, got %d", p.method, p.path, rec.Code)
		}
	}
}

func TestRouter_ListUtterances(t *testing.T) {
	start := 1500 * time.Millisecond
	transcripts := &fakeTranscripts{byRoom: map[string][]repository.Utterance{
		"room-1": {{ID: "utt-1", RoomID: "room-1", Participant: "alice", Text: "hello", Status: repository.UtteranceStatusFinal, StartTime: &start}},
	}}
	router := NewRouter(Options{Transcripts: transcripts})

	rec := serve(t, router, http.MethodGet, "/admin/rooms/room-1/utterances", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var body struct {
		Utterances []utteranceView `json:"utterances"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(body.Utterances) != 1 || body.Utterances[0].ID != "utt-1" || body.Utterances[0].StartTime == nil || *body.Utterances[0].StartTime != 1.5 {
		t.Fatalf("unexpected utterances: %+v", body.Utterances)
	}

	rec = serve(t, router, http.MethodGet, "/admin/rooms/room-2/utterances", "", nil)
	if !strings.Contains(rec.Body.String(), `"utterances":[]`) {
		t.Fatalf("empty room should list no utterances: %s", rec.Body.String())
	}
}
