// Package directory is the process-wide room registry: it creates rooms,
// runs their loops, answers discovery listings from the state store, and
// receives the occupancy/departure callbacks rooms make while running.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"hexmarket.gg/internal/game/room"
	"hexmarket.gg/internal/game/tuning"
	"hexmarket.gg/internal/persistence/statestore"
)

// Bounds on the requested game length.
const (
	MinRounds = 1
	MaxRounds = 100
)

// RoomInfo is one entry of the public discovery listing.
type RoomInfo struct {
	RoomID      string    `json:"room_id"`
	RoundCount  int       `json:"round_count"`
	PlayerCount int       `json:"player_count"`
	PlayerNames []string  `json:"player_names"`
	Phase       string    `json:"phase"`
	CreatedAt   time.Time `json:"created_at"`
}

// Directory owns every live room in the process. Rooms register at
// create and deregister through RegisterDeparture when they finish.
type Directory struct {
	mu     sync.RWMutex
	rooms  map[string]*room.Room
	closed bool

	tun     tuning.Tuning
	store   *statestore.Store
	dataDir string
	log     *log.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	created atomic.Uint64
}

// New opens the registry. Rooms never resume across restarts, so rows
// left in the store by a previous process are purged before serving.
func New(tun tuning.Tuning, store *statestore.Store, dataDir string) *Directory {
	logger := log.New(os.Stdout, "[directory] ", log.LstdFlags|log.Lmicroseconds)
	if err := store.Reset(); err != nil {
		logger.Printf("boot reset: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Directory{
		rooms:   make(map[string]*room.Room),
		tun:     tun,
		store:   store,
		dataDir: dataDir,
		log:     logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// CreateRoom validates the requested game length, registers a listing
// row, and starts the room loop. The loop runs until the game finishes
// or the directory shuts down.
func (d *Directory) CreateRoom(roundCount int) (*room.Room, error) {
	if roundCount < MinRounds || roundCount > MaxRounds {
		return nil, fmt.Errorf("round_count must be %d..%d, got %d", MinRounds, MaxRounds, roundCount)
	}

	rm := room.New(room.Config{
		ID:         uuid.NewString(),
		RoundCount: roundCount,
		DataDir:    d.dataDir,
	}, d.tun, d.store, d)

	if err := d.store.UpsertRoom(rm.ID(), roundCount, time.Now()); err != nil {
		return nil, fmt.Errorf("register room: %w", err)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		_ = d.store.DeleteRoom(rm.ID())
		return nil, errors.New("directory closed")
	}
	d.rooms[rm.ID()] = rm
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		_ = rm.Run(d.ctx)
	}()

	d.created.Add(1)
	d.log.Printf("room created id=%s rounds=%d", rm.ID(), roundCount)
	return rm, nil
}

// Room returns the live room with the given id, or nil.
func (d *Directory) Room(id string) *room.Room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rooms[id]
}

// List returns the discovery listing from the store, oldest first.
// Occupancy lags create by one async writer hop.
func (d *Directory) List() ([]RoomInfo, error) {
	rows, err := d.store.ListRooms()
	if err != nil {
		return nil, err
	}
	out := make([]RoomInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, RoomInfo{
			RoomID:      r.RoomID,
			RoundCount:  r.RoundCount,
			PlayerCount: r.PlayerCount,
			PlayerNames: r.PlayerNames,
			Phase:       r.Phase,
			CreatedAt:   r.CreatedAt,
		})
	}
	return out, nil
}

// ReportOccupancy implements room.Directory. Best-effort by contract.
func (d *Directory) ReportOccupancy(roomID string, players int, names []string, phase string) {
	d.store.UpdateOccupancy(roomID, players, names, phase)
}

// RegisterDeparture implements room.Directory. The room purges its own
// store rows before calling, so only the registry entry remains.
func (d *Directory) RegisterDeparture(roomID string) {
	d.mu.Lock()
	delete(d.rooms, roomID)
	d.mu.Unlock()
	d.log.Printf("room departed id=%s", roomID)
}

// RoomsActive returns the number of registered live rooms.
func (d *Directory) RoomsActive() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}

// RoomsCreated returns the total rooms created since boot.
func (d *Directory) RoomsCreated() uint64 { return d.created.Load() }

// Close stops every room loop and waits for them to exit. Safe to call
// more than once.
func (d *Directory) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		d.cancel()
		d.wg.Wait()
		d.mu.Lock()
		d.rooms = make(map[string]*room.Room)
		d.mu.Unlock()
		d.log.Printf("directory closed")
	})
}
