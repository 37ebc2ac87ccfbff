package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"hexmarket.gg/internal/game/directory"
	"hexmarket.gg/internal/game/tuning"
	"hexmarket.gg/internal/persistence/statestore"
	"hexmarket.gg/internal/protocol"
	"hexmarket.gg/internal/transport/ws"
)

func newTestRouter(t *testing.T) (*mux.Router, *directory.Directory) {
	t.Helper()
	store, err := statestore.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	dir := directory.New(tuning.Default(), store, t.TempDir())
	validator, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	discard := log.New(io.Discard, "", 0)
	wsSrv := ws.NewServer(dir, validator, discard)
	r := buildRouter(dir, wsSrv, discard, true, false, time.Now())
	t.Cleanup(func() {
		dir.Close()
		_ = store.Close()
	})
	return r, dir
}

func TestCreateAndListRooms(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/rooms", strings.NewReader(`{"round_count":10}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rec.Code, rec.Body.String())
	}
	var created createRoomResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.RoomID == "" || created.RoundCount != 10 {
		t.Fatalf("create response=%+v", created)
	}
	if !strings.HasSuffix(created.WSURL, "/v1/rooms/"+created.RoomID+"/ws") {
		t.Fatalf("ws_url=%q", created.WSURL)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/rooms", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status=%d body=%s", rec.Code, rec.Body.String())
	}
	var listing struct {
		Rooms []directory.RoomInfo `json:"rooms"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Rooms) != 1 || listing.Rooms[0].RoomID != created.RoomID {
		t.Fatalf("listing=%+v", listing)
	}
}

func TestCreateRoomRejectsBadPayloads(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/rooms", strings.NewReader(`{"round_count":0}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("round_count=0 status=%d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/rooms", strings.NewReader(`not json`))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status=%d", rec.Code)
	}
}

func TestJoinRoomEndpoint(t *testing.T) {
	r, dir := newTestRouter(t)
	rm, err := dir.CreateRoom(3)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/rooms/"+rm.ID()+"/join", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("join status=%d body=%s", rec.Code, rec.Body.String())
	}
	var join joinRoomResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &join); err != nil {
		t.Fatalf("decode join response: %v", err)
	}
	if join.RoomID != rm.ID() || !strings.HasSuffix(join.WSURL, "/ws") {
		t.Fatalf("join response=%+v", join)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/rooms/nope/join", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown room join status=%d", rec.Code)
	}
}

func TestAdminStateIsLoopbackOnly(t *testing.T) {
	r, dir := newTestRouter(t)
	rm, err := dir.CreateRoom(3)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/rooms/"+rm.ID()+"/state", nil)
	req.RemoteAddr = "8.8.8.8:1234"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-loopback admin status=%d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/v1/rooms/nope/state", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown room admin status=%d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/v1/rooms/"+rm.ID()+"/state", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin state status=%d body=%s", rec.Code, rec.Body.String())
	}
	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode admin state: %v", err)
	}
	if _, ok := doc["config"]; !ok {
		t.Fatalf("admin state missing config: %v", doc)
	}
}

func TestMetricsExposition(t *testing.T) {
	r, dir := newTestRouter(t)
	if _, err := dir.CreateRoom(3); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"hexmarket_rooms_active 1",
		"hexmarket_rooms_created_total 1",
		"hexmarket_connections_active 0",
		"hexmarket_uptime_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz status=%d body=%q", rec.Code, rec.Body.String())
	}
}
