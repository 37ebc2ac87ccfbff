package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"hexmarket.gg/internal/game/directory"
)

// apiServer carries the room lifecycle endpoints.
type apiServer struct {
	dir *directory.Directory
	log *log.Logger
}

type createRoomRequest struct {
	RoundCount int `json:"round_count"`
}

type createRoomResponse struct {
	RoomID     string `json:"room_id"`
	WSURL      string `json:"ws_url"`
	RoundCount int    `json:"round_count"`
}

type joinRoomResponse struct {
	RoomID string `json:"room_id"`
	WSURL  string `json:"ws_url"`
}

func (a *apiServer) createRoom(rw http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(rw, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rm, err := a.dir.CreateRoom(req.RoundCount)
	if err != nil {
		writeJSONError(rw, http.StatusBadRequest, err.Error())
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(rw).Encode(createRoomResponse{
		RoomID:     rm.ID(),
		WSURL:      wsURL(r, rm.ID()),
		RoundCount: rm.RoundCount(),
	})
}

func (a *apiServer) listRooms(rw http.ResponseWriter, r *http.Request) {
	rooms, err := a.dir.List()
	if err != nil {
		a.log.Printf("list rooms: %v", err)
		writeJSONError(rw, http.StatusInternalServerError, "listing unavailable")
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(map[string]any{"rooms": rooms})
}

// joinRoom resolves a room for a prospective player. The join itself
// happens as the first frame on the websocket.
func (a *apiServer) joinRoom(rw http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]
	if a.dir.Room(roomID) == nil {
		writeJSONError(rw, http.StatusNotFound, "unknown room")
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(joinRoomResponse{
		RoomID: roomID,
		WSURL:  wsURL(r, roomID),
	})
}

// wsURL builds the websocket endpoint for a room as seen by the caller.
func wsURL(r *http.Request, roomID string) string {
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/v1/rooms/%s/ws", scheme, r.Host, roomID)
}

func writeJSONError(rw http.ResponseWriter, status int, message string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(map[string]string{"error": message})
}
