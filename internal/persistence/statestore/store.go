// Package statestore is the durable session state store: one SQLite
// file holding a per-room key/value table plus the rooms table that
// backs directory listings. Each room's actor goroutine is the sole
// writer of that room's key/value rows.
package statestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// Well-known room_state keys.
const (
	KeyConfig  = "config"
	KeyPlayers = "players"
	KeyGrid    = "grid"
	KeyPending = "pending"
	KeyPaths   = "paths"
	KeyWinner  = "winner"
)

type Store struct {
	db *sql.DB

	ch   chan occupancyReq
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

// occupancyReq is a best-effort listing update; it never blocks a room.
type occupancyReq struct {
	roomID  string
	players int
	names   []string
	phase   string
}

type RoomRow struct {
	RoomID      string    `json:"room_id"`
	RoundCount  int       `json:"round_count"`
	PlayerCount int       `json:"player_count"`
	PlayerNames []string  `json:"player_names"`
	Phase       string    `json:"phase"`
	CreatedAt   time.Time `json:"created_at"`
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db: db,
		ch: make(chan occupancyReq, 1024),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL keeps per-action writes cheap; NORMAL is enough durability for
	// state that is rebuilt per game anyway.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS room_state (
			room_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (room_id, key)
		);`,
		`CREATE TABLE IF NOT EXISTS rooms (
			room_id TEXT PRIMARY KEY,
			round_count INTEGER NOT NULL,
			player_count INTEGER NOT NULL,
			player_names TEXT NOT NULL,
			phase TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rooms_created ON rooms(created_at);`,
	}
	for _, q := range stmts {
		if _, err := db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loop() {
	for req := range s.ch {
		names, err := json.Marshal(req.names)
		if err != nil {
			continue
		}
		_, _ = s.db.Exec(
			`UPDATE rooms SET player_count = ?, player_names = ?, phase = ? WHERE room_id = ?`,
			req.players, string(names), req.phase, req.roomID,
		)
	}
}

// ---- room_state (room actor is the sole writer per room) ----

func (s *Store) PutState(roomID, key string, value []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO room_state(room_id, key, value, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(room_id, key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		roomID, key, string(value), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetState returns (value, true, nil) when the key exists.
func (s *Store) GetState(roomID, key string) ([]byte, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM room_state WHERE room_id = ? AND key = ?`, roomID, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(v), true, nil
}

func (s *Store) DeleteState(roomID, key string) error {
	_, err := s.db.Exec(`DELETE FROM room_state WHERE room_id = ? AND key = ?`, roomID, key)
	return err
}

func (s *Store) StateKeys(roomID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM room_state WHERE room_id = ? ORDER BY key`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ---- rooms listing (directory) ----

func (s *Store) UpsertRoom(roomID string, roundCount int, createdAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO rooms(room_id, round_count, player_count, player_names, phase, created_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(room_id) DO UPDATE SET round_count=excluded.round_count`,
		roomID, roundCount, 0, "[]", "lobby", createdAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// UpdateOccupancy enqueues a listing refresh. Best-effort: on a full
// queue or a closed store the update is dropped.
func (s *Store) UpdateOccupancy(roomID string, players int, names []string, phase string) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- occupancyReq{roomID: roomID, players: players, names: names, phase: phase}:
	default:
	}
}

// DeleteRoom removes the listing row and every room_state row.
func (s *Store) DeleteRoom(roomID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM rooms WHERE room_id = ?`, roomID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.Exec(`DELETE FROM room_state WHERE room_id = ?`, roomID); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) ListRooms() ([]RoomRow, error) {
	rows, err := s.db.Query(
		`SELECT room_id, round_count, player_count, player_names, phase, created_at
		 FROM rooms ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RoomRow
	for rows.Next() {
		var r RoomRow
		var names, created string
		if err := rows.Scan(&r.RoomID, &r.RoundCount, &r.PlayerCount, &names, &r.Phase, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(names), &r.PlayerNames); err != nil {
			r.PlayerNames = nil
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = ts
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Reset purges all rooms and room state. Rooms do not survive a process
// restart, so boot calls this before serving.
func (s *Store) Reset() error {
	if _, err := s.db.Exec(`DELETE FROM rooms`); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM room_state`)
	return err
}

// Close stops the occupancy writer, drains it, and closes the database.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}
