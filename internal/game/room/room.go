// Package room implements the authoritative game session actor. A Room
// owns all state for one game: the phase machine, the pending-action
// ballot box, conflict resolution, timers, persistence, and the
// personalized state broadcast. All state is accessed only from the
// room loop goroutine.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"hexmarket.gg/internal/game/tuning"
	"hexmarket.gg/internal/persistence/journal"
	"hexmarket.gg/internal/persistence/statestore"
	"hexmarket.gg/internal/protocol"
)

type Config struct {
	ID         string
	RoundCount int
	Seed       int64
	DataDir    string
}

// Directory is the narrow callback surface a room holds on the room
// directory. Both calls are best-effort from the room's perspective.
type Directory interface {
	ReportOccupancy(roomID string, players int, names []string, phase string)
	RegisterDeparture(roomID string)
}

type JoinRequest struct {
	Name   string
	Out    chan []byte
	ConnID uint64
	Resp   chan JoinResponse
}

type AttachRequest struct {
	PlayerID string
	Name     string
	Out      chan []byte
	ConnID   uint64
	Resp     chan JoinResponse
}

// JoinResponse carries the assigned player id, or a rejection code.
type JoinResponse struct {
	PlayerID string
	Code     string
	Message  string
}

func (jr JoinResponse) OK() bool { return jr.Code == "" }

type LeaveNotice struct {
	PlayerID string
	ConnID   uint64
}

// ActionEnvelope is one decoded-enough inbound frame: the transport layer
// has already schema-validated Raw and bound the connection to a player.
type ActionEnvelope struct {
	PlayerID string
	Type     string
	Raw      json.RawMessage
}

type controlRequest struct {
	resp chan []byte
}

type clientState struct {
	Out    chan []byte
	ConnID uint64
}

// Room is a single-threaded authoritative game session.
type Room struct {
	cfg Config
	tun tuning.Tuning
	log *log.Logger

	phase       string
	phaseSeq    uint64
	roundIndex  int
	phaseEndsAt time.Time

	players map[string]*Player
	order   []string // join order

	grid       *Grid
	marketDice []int
	consumed   map[int]bool // pool indexes awarded but not yet dropped

	pending   pendingState
	conflicts map[string]*Conflict
	confOrder []string
	paths     map[string]*SubmittedPath
	winner    *protocol.WinnerState

	clients map[string]*clientState

	inbox    chan ActionEnvelope
	joinCh   chan JoinRequest
	attachCh chan AttachRequest
	leaveCh  chan LeaveNotice
	control  chan controlRequest
	stop     chan struct{}
	stopOnce sync.Once

	timer *time.Timer

	// Optional collaborators (may be nil).
	store   *statestore.Store
	journal *journal.RoomJournal
	dir     Directory

	rng *rand.Rand

	createdAt time.Time
}

func New(cfg Config, tun tuning.Tuning, store *statestore.Store, dir Directory) *Room {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	r := &Room{
		cfg: cfg,
		tun: tun,
		log: log.New(os.Stdout, fmt.Sprintf("[room %s] ", shortID(cfg.ID)), log.LstdFlags|log.Lmicroseconds),

		phase:      PhaseLobby,
		roundIndex: 0,

		players:   make(map[string]*Player),
		consumed:  make(map[int]bool),
		pending:   newPending(),
		conflicts: make(map[string]*Conflict),
		paths:     make(map[string]*SubmittedPath),
		clients:   make(map[string]*clientState),

		inbox:    make(chan ActionEnvelope, 256),
		joinCh:   make(chan JoinRequest, 16),
		attachCh: make(chan AttachRequest, 16),
		leaveCh:  make(chan LeaveNotice, 64),
		control:  make(chan controlRequest, 4),
		stop:     make(chan struct{}),

		timer: timer,
		store: store,
		dir:   dir,

		rng: rand.New(rand.NewSource(seed)),

		createdAt: time.Now(),
	}
	if cfg.DataDir != "" {
		r.journal = journal.NewRoomJournal(cfg.DataDir, cfg.ID)
	}
	return r
}

func (r *Room) ID() string      { return r.cfg.ID }
func (r *Room) RoundCount() int { return r.cfg.RoundCount }

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Run is the room loop. It owns all room state; everything else talks to
// it through channels. Returns when the room is stopped or ctx ends.
func (r *Room) Run(ctx context.Context) error {
	r.log.Printf("room starting round_count=%d", r.cfg.RoundCount)
	defer r.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return nil
		case req := <-r.joinCh:
			r.handleJoin(req)
		case req := <-r.attachCh:
			r.handleAttach(req)
		case n := <-r.leaveCh:
			r.handleLeave(n)
		case env := <-r.inbox:
			r.handleAction(env)
		case req := <-r.control:
			r.handleControl(req)
		case <-r.timer.C:
			r.checkDeadline()
		}
	}
}

// Stop asks the room loop to exit. Safe to call more than once.
func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// shutdown releases connections and the journal once the loop exits.
func (r *Room) shutdown() {
	// Loop exits via Stop or ctx cancel; either way later transport
	// sends must fail fast instead of parking on a dead inbox.
	r.Stop()
	for id, cl := range r.clients {
		close(cl.Out)
		delete(r.clients, id)
	}
	if r.journal != nil {
		if err := r.journal.Close(); err != nil {
			r.log.Printf("journal close: %v", err)
		}
	}
	r.log.Printf("room stopped")
}

// ---- transport-facing API (callable from any goroutine) ----

func (r *Room) Join(req JoinRequest) bool {
	select {
	case r.joinCh <- req:
		return true
	case <-r.stop:
		return false
	}
}

func (r *Room) Attach(req AttachRequest) bool {
	select {
	case r.attachCh <- req:
		return true
	case <-r.stop:
		return false
	}
}

func (r *Room) Leave(n LeaveNotice) {
	select {
	case r.leaveCh <- n:
	case <-r.stop:
	}
}

func (r *Room) Deliver(env ActionEnvelope) bool {
	select {
	case r.inbox <- env:
		return true
	case <-r.stop:
		return false
	}
}

// Snapshot returns the full authoritative room state as JSON, fetched
// through the room loop. Used by the admin endpoint.
func (r *Room) Snapshot(ctx context.Context) ([]byte, error) {
	req := controlRequest{resp: make(chan []byte, 1)}
	select {
	case r.control <- req:
	case <-r.stop:
		return nil, errors.New("room stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case b := <-req.resp:
		return b, nil
	case <-r.stop:
		return nil, errors.New("room stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ---- join / rejoin / leave ----

func (r *Room) handleJoin(req JoinRequest) {
	respond := func(resp JoinResponse) {
		if req.Resp != nil {
			req.Resp <- resp
		}
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		respond(JoinResponse{Code: protocol.ErrBadRequest, Message: "player_name required"})
		return
	}
	if r.phase != PhaseLobby {
		respond(JoinResponse{Code: protocol.ErrGameRunning, Message: "game already running"})
		return
	}
	if len(r.players) >= r.tun.MaxPlayers {
		respond(JoinResponse{Code: protocol.ErrRoomFull, Message: "room is full"})
		return
	}

	p := &Player{
		ID:       uuid.NewString(),
		Name:     name,
		Color:    r.assignColor(),
		JoinedAt: time.Now(),
	}
	r.players[p.ID] = p
	r.order = append(r.order, p.ID)
	if req.Out != nil {
		r.clients[p.ID] = &clientState{Out: req.Out, ConnID: req.ConnID}
	}

	r.savePlayers()
	r.reportOccupancy()
	r.journalPlayer("join", p.ID, map[string]any{"name": p.Name})
	r.log.Printf("join player=%s name=%q players=%d", shortID(p.ID), p.Name, len(r.players))

	respond(JoinResponse{PlayerID: p.ID})
	r.broadcast()
}

func (r *Room) handleAttach(req AttachRequest) {
	respond := func(resp JoinResponse) {
		if req.Resp != nil {
			req.Resp <- resp
		}
	}

	p := r.players[req.PlayerID]
	if p == nil {
		respond(JoinResponse{Code: protocol.ErrNotInRoom, Message: "unknown player_id"})
		return
	}

	// A newer connection supersedes the old one for this player.
	if old := r.clients[p.ID]; old != nil {
		close(old.Out)
		delete(r.clients, p.ID)
	}
	if req.Out != nil {
		r.clients[p.ID] = &clientState{Out: req.Out, ConnID: req.ConnID}
	}
	if name := strings.TrimSpace(req.Name); name != "" && name != p.Name {
		p.Name = name
		r.savePlayers()
	}

	r.reportOccupancy()
	r.journalPlayer("rejoin", p.ID, nil)
	r.log.Printf("rejoin player=%s", shortID(p.ID))

	respond(JoinResponse{PlayerID: p.ID})
	r.broadcast()
}

func (r *Room) handleLeave(n LeaveNotice) {
	cl := r.clients[n.PlayerID]
	if cl == nil || (n.ConnID != 0 && cl.ConnID != n.ConnID) {
		return // stale notice from a superseded connection
	}
	delete(r.clients, n.PlayerID)
	r.reportOccupancy()
	r.broadcast()
}

// ---- action dispatch ----

func (r *Room) handleAction(env ActionEnvelope) {
	p := r.players[env.PlayerID]
	if p == nil {
		return
	}

	switch env.Type {
	case protocol.TypeTick:
		// Deadline poke: same check the timer runs, nothing else.
		r.checkDeadline()
		return
	case protocol.TypeStartGame:
		r.handleStartGame(p)
	case protocol.TypeMarketBid:
		var m protocol.MarketBidMsg
		if !r.decode(env.Raw, &m, p) {
			return
		}
		r.handleMarketBid(p, m)
	case protocol.TypeMarketSkip:
		r.handleMarketSkip(p)
	case protocol.TypeMarketRecycle:
		var m protocol.MarketRecycleMsg
		if !r.decode(env.Raw, &m, p) {
			return
		}
		r.handleMarketRecycle(p, m)
	case protocol.TypeBuyCell:
		var m protocol.BuyCellMsg
		if !r.decode(env.Raw, &m, p) {
			return
		}
		r.handleBuyCell(p, m)
	case protocol.TypeBuyCellCancel:
		var m protocol.BuyCellCancelMsg
		if !r.decode(env.Raw, &m, p) {
			return
		}
		r.handleBuyCellCancel(p, m)
	case protocol.TypeBuyDone:
		r.handleBuyDone(p)
	case protocol.TypeAuctionBid:
		var m protocol.AuctionBidMsg
		if !r.decode(env.Raw, &m, p) {
			return
		}
		r.handleAuctionBid(p, m)
	case protocol.TypePath:
		var m protocol.PathMsg
		if !r.decode(env.Raw, &m, p) {
			return
		}
		r.handlePath(p, m)
	case protocol.TypePathDone:
		r.handlePathDone(p)
	default:
		// Unknown types are dropped at the transport layer already.
		return
	}

	// Every handled action ends in a broadcast, valid or rejected. A
	// rejection changes nothing, so clients just see the same state again.
	r.broadcast()
}

func (r *Room) decode(raw json.RawMessage, v any, p *Player) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		r.errorTo(p.ID, protocol.ErrProtoBadRequest, "malformed payload")
		return false
	}
	return true
}

// reject sends a validation error to one player. State is untouched.
func (r *Room) reject(p *Player, code, format string, args ...any) {
	r.errorTo(p.ID, code, fmt.Sprintf(format, args...))
}

func (r *Room) errorTo(playerID, code, message string) {
	cl := r.clients[playerID]
	if cl == nil {
		return
	}
	b, err := json.Marshal(protocol.ErrorMsg{Type: protocol.TypeError, Code: code, Message: message})
	if err != nil {
		return
	}
	sendLatest(cl.Out, b)
}

// ---- phase plumbing ----

// setPhase moves the machine and re-arms the single wake-up timer.
// Arming supersedes any previous deadline; seconds <= 0 means untimed.
func (r *Room) setPhase(phase string, seconds int) {
	r.phase = phase
	r.phaseSeq++
	if seconds > 0 {
		r.phaseEndsAt = time.Now().Add(time.Duration(seconds) * time.Second)
		r.armTimer(time.Until(r.phaseEndsAt))
	} else {
		r.phaseEndsAt = time.Time{}
		r.stopTimer()
	}
	r.reportOccupancy()
}

func (r *Room) armTimer(d time.Duration) {
	if !r.timer.Stop() {
		select {
		case <-r.timer.C:
		default:
		}
	}
	if d < 0 {
		d = 0
	}
	r.timer.Reset(d)
}

func (r *Room) stopTimer() {
	if !r.timer.Stop() {
		select {
		case <-r.timer.C:
		default:
		}
	}
}

// checkDeadline resolves the current phase if its deadline has passed.
// Called from the timer and from client tick pokes; a stale call (phase
// already moved on, deadline not yet reached) is a silent no-op.
func (r *Room) checkDeadline() {
	if r.phaseEndsAt.IsZero() || time.Now().Before(r.phaseEndsAt) {
		return
	}
	switch r.phase {
	case PhaseRoundStart:
		r.enterMarket()
	case PhaseMarket:
		r.resolveMarket()
	case PhaseBuy:
		r.resolveBuy()
	case PhaseAuction:
		r.resolveAuction()
	case PhasePath:
		r.resolvePath()
	case PhaseRoundEnd:
		r.resolveRoundEnd()
	case PhaseEnded:
		r.cleanup()
	}
}

// ---- broadcast ----

func (r *Room) broadcast() {
	if len(r.clients) == 0 {
		return
	}
	shared := r.buildState()
	for playerID, cl := range r.clients {
		msg := shared
		msg.You = r.youFor(playerID)
		b, err := json.Marshal(&msg)
		if err != nil {
			r.log.Printf("marshal state: %v", err)
			return
		}
		sendLatest(cl.Out, b)
	}
}

func (r *Room) sendTo(playerID string, v any) {
	cl := r.clients[playerID]
	if cl == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	sendLatest(cl.Out, b)
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

// ---- best-effort collaborators ----

func (r *Room) reportOccupancy() {
	if r.dir == nil {
		return
	}
	names := make([]string, 0, len(r.order))
	for _, id := range r.order {
		names = append(names, r.players[id].Name)
	}
	r.dir.ReportOccupancy(r.cfg.ID, len(r.players), names, r.phase)
}

func (r *Room) journalEvent(typ string, data map[string]any) {
	r.journalPlayer(typ, "", data)
}

func (r *Room) journalPlayer(typ, playerID string, data map[string]any) {
	if r.journal == nil {
		return
	}
	ev := journal.Event{Type: typ, Phase: r.phase, Round: r.roundIndex, Player: playerID, Data: data}
	if err := r.journal.Write(ev); err != nil {
		r.log.Printf("journal %s: %v", typ, err)
	}
}

func (r *Room) handleControl(req controlRequest) {
	b, err := json.Marshal(r.snapshotDoc())
	if err != nil {
		r.log.Printf("snapshot: %v", err)
		b = []byte("{}")
	}
	req.resp <- b
}
