package room

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"hexmarket.gg/internal/game/hexgrid"
	"hexmarket.gg/internal/game/tuning"
	"hexmarket.gg/internal/protocol"
)

// newTestRoom builds a room with n joined players and no transport,
// store, or directory attached. Handlers are driven directly.
func newTestRoom(t *testing.T, n int) (*Room, []string) {
	t.Helper()
	r := New(Config{ID: "room-test", RoundCount: 3, Seed: 7}, tuning.Default(), nil, nil)
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		resp := make(chan JoinResponse, 1)
		r.handleJoin(JoinRequest{Name: fmt.Sprintf("p%d", i+1), Resp: resp})
		jr := <-resp
		if !jr.OK() {
			t.Fatalf("join %d rejected: %s %s", i, jr.Code, jr.Message)
		}
		ids = append(ids, jr.PlayerID)
	}
	return r, ids
}

// attachClient binds a buffered outbound channel to a player, as the
// transport layer would.
func attachClient(r *Room, playerID string, connID uint64) chan []byte {
	out := make(chan []byte, 16)
	r.clients[playerID] = &clientState{Out: out, ConnID: connID}
	return out
}

// drainFrames empties a client channel and returns the decoded frames.
func drainFrames(t *testing.T, out chan []byte) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for {
		select {
		case b := <-out:
			var m map[string]any
			if err := json.Unmarshal(b, &m); err != nil {
				t.Fatalf("decode frame: %v", err)
			}
			frames = append(frames, m)
		default:
			return frames
		}
	}
}

func lastErrorCode(t *testing.T, out chan []byte) string {
	t.Helper()
	code := ""
	for _, f := range drainFrames(t, out) {
		if f["type"] == protocol.TypeError {
			code, _ = f["code"].(string)
		}
	}
	return code
}

// setBoard replaces the grid with a handmade board.
func setBoard(r *Room, cells ...hexgrid.Cell) {
	r.grid = newGrid(5, cells)
}

// own appends an ownership record directly, bypassing the buy flow.
func own(r *Room, cellID, playerID, role string) {
	c := r.grid.Cell(cellID)
	c.Owners = append(c.Owners, Owner{PlayerID: playerID, Role: role})
}

func cell(q, r, diceValue, producer, seller int) hexgrid.Cell {
	co := hexgrid.Coord{Q: q, R: r}
	return hexgrid.Cell{ID: co.Key(), Q: q, R: r, DiceValue: diceValue, Producer: producer, Seller: seller}
}

func blockedCell(q, r int) hexgrid.Cell {
	c := cell(q, r, 1, 1, 1)
	c.Blocked = true
	return c
}

func startGame(t *testing.T, r *Room, ids []string) {
	t.Helper()
	r.handleStartGame(r.players[ids[0]])
	if r.phase != PhaseRoundStart {
		t.Fatalf("phase after start = %s, want %s", r.phase, PhaseRoundStart)
	}
}

func TestJoin_LobbyRules(t *testing.T) {
	r, ids := newTestRoom(t, 2)

	if len(r.order) != 2 || r.players[ids[0]] == nil {
		t.Fatalf("players not registered: %v", r.order)
	}
	if r.players[ids[0]].Color == r.players[ids[1]].Color {
		t.Fatalf("players share a color: %s", r.players[ids[0]].Color)
	}

	resp := make(chan JoinResponse, 1)
	r.handleJoin(JoinRequest{Name: "   ", Resp: resp})
	if jr := <-resp; jr.Code != protocol.ErrBadRequest {
		t.Fatalf("blank name join: got %q want %q", jr.Code, protocol.ErrBadRequest)
	}

	for i := len(r.players); i < r.tun.MaxPlayers; i++ {
		r.handleJoin(JoinRequest{Name: fmt.Sprintf("extra%d", i), Resp: resp})
		if jr := <-resp; !jr.OK() {
			t.Fatalf("join %d rejected: %s", i, jr.Code)
		}
	}
	r.handleJoin(JoinRequest{Name: "overflow", Resp: resp})
	if jr := <-resp; jr.Code != protocol.ErrRoomFull {
		t.Fatalf("overflow join: got %q want %q", jr.Code, protocol.ErrRoomFull)
	}
}

func TestJoin_RejectedOnceRunning(t *testing.T) {
	r, ids := newTestRoom(t, 2)
	startGame(t, r, ids)

	resp := make(chan JoinResponse, 1)
	r.handleJoin(JoinRequest{Name: "late", Resp: resp})
	if jr := <-resp; jr.Code != protocol.ErrGameRunning {
		t.Fatalf("late join: got %q want %q", jr.Code, protocol.ErrGameRunning)
	}
}

func TestStartGame_NeedsTwoPlayers(t *testing.T) {
	r, ids := newTestRoom(t, 1)
	out := attachClient(r, ids[0], 1)

	r.handleStartGame(r.players[ids[0]])
	if r.phase != PhaseLobby {
		t.Fatalf("phase = %s, want lobby", r.phase)
	}
	if code := lastErrorCode(t, out); code != protocol.ErrNeedPlayers {
		t.Fatalf("error code = %q, want %q", code, protocol.ErrNeedPlayers)
	}
}

func TestStartGame_InitializesRoundOne(t *testing.T) {
	r, ids := newTestRoom(t, 3)
	startGame(t, r, ids)

	if r.roundIndex != 1 {
		t.Fatalf("round_index = %d, want 1", r.roundIndex)
	}
	if r.grid == nil || r.grid.Radius < r.tun.BoardMinRadius {
		t.Fatalf("board not generated: %+v", r.grid)
	}
	// round_start pays the round bonus on top of the starting money.
	wantMoney := r.tun.StartingMoney + r.tun.RoundBonus
	for _, id := range ids {
		p := r.players[id]
		if p.Money != wantMoney {
			t.Fatalf("player money = %d, want %d", p.Money, wantMoney)
		}
		if len(p.Dice) != r.tun.StartingDice {
			t.Fatalf("player dice = %v, want %d dice", p.Dice, r.tun.StartingDice)
		}
	}
	wantPool := len(ids) + r.tun.MarketDiceExtra
	if len(r.marketDice) != wantPool {
		t.Fatalf("market pool = %d dice, want %d", len(r.marketDice), wantPool)
	}

	// A second start is rejected.
	out := attachClient(r, ids[0], 1)
	r.handleStartGame(r.players[ids[0]])
	if code := lastErrorCode(t, out); code != protocol.ErrGameRunning {
		t.Fatalf("restart error = %q, want %q", code, protocol.ErrGameRunning)
	}
}

func TestWrongPhaseAction_RejectedWithoutMutation(t *testing.T) {
	r, ids := newTestRoom(t, 2)
	out := attachClient(r, ids[0], 1)
	p := r.players[ids[0]]

	// Still in lobby: every in-game action must bounce with E_BAD_PHASE
	// and leave the ballot box and player untouched.
	raw := func(v any) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}
	actions := []ActionEnvelope{
		{PlayerID: p.ID, Type: protocol.TypeMarketBid, Raw: raw(protocol.MarketBidMsg{Type: protocol.TypeMarketBid, DieIndex: 0, Amount: 5})},
		{PlayerID: p.ID, Type: protocol.TypeMarketSkip, Raw: raw(protocol.MarketSkipMsg{Type: protocol.TypeMarketSkip})},
		{PlayerID: p.ID, Type: protocol.TypeBuyCell, Raw: raw(protocol.BuyCellMsg{Type: protocol.TypeBuyCell, CellID: "0,0", Role: "producer"})},
		{PlayerID: p.ID, Type: protocol.TypeBuyDone, Raw: raw(protocol.BuyDoneMsg{Type: protocol.TypeBuyDone})},
		{PlayerID: p.ID, Type: protocol.TypeAuctionBid, Raw: raw(protocol.AuctionBidMsg{Type: protocol.TypeAuctionBid, ConflictID: "x", Amount: 1})},
		{PlayerID: p.ID, Type: protocol.TypePath, Raw: raw(protocol.PathMsg{Type: protocol.TypePath, ProducerID: "0,0", SellerID: "0,0", Path: [][2]int{{0, 0}}})},
		{PlayerID: p.ID, Type: protocol.TypePathDone, Raw: raw(protocol.PathDoneMsg{Type: protocol.TypePathDone})},
	}
	moneyBefore := p.Money
	for _, env := range actions {
		r.handleAction(env)
		if code := lastErrorCode(t, out); code != protocol.ErrBadPhase {
			t.Fatalf("%s: error code = %q, want %q", env.Type, code, protocol.ErrBadPhase)
		}
	}
	if p.Money != moneyBefore || len(r.pending.marketBids) != 0 || len(r.pending.buyQueues) != 0 {
		t.Fatalf("wrong-phase action mutated state")
	}
	if r.phase != PhaseLobby {
		t.Fatalf("phase drifted to %s", r.phase)
	}
}

func TestRejoin_MidGameSupersedesConnection(t *testing.T) {
	r, ids := newTestRoom(t, 2)
	oldOut := attachClient(r, ids[0], 1)
	startGame(t, r, ids)

	newOut := make(chan []byte, 16)
	resp := make(chan JoinResponse, 1)
	r.handleAttach(AttachRequest{PlayerID: ids[0], Out: newOut, ConnID: 2, Resp: resp})
	jr := <-resp
	if !jr.OK() || jr.PlayerID != ids[0] {
		t.Fatalf("rejoin rejected: %+v", jr)
	}

	// The old channel is closed, the new one receives the broadcast.
	if _, open := <-oldOut; open {
		// Drain any buffered frames until close.
		for range oldOut {
		}
	}
	frames := drainFrames(t, newOut)
	if len(frames) == 0 {
		t.Fatalf("rejoined client got no state frame")
	}
	last := frames[len(frames)-1]
	if last["type"] != protocol.TypeState {
		t.Fatalf("last frame type = %v, want state", last["type"])
	}
	you, _ := last["you"].(map[string]any)
	if you == nil || you["player_id"] != ids[0] {
		t.Fatalf("state not personalized: %v", last["you"])
	}

	// A leave notice from the superseded connection must not detach the
	// new one.
	r.handleLeave(LeaveNotice{PlayerID: ids[0], ConnID: 1})
	if r.clients[ids[0]] == nil || r.clients[ids[0]].ConnID != 2 {
		t.Fatalf("stale leave detached the live connection")
	}
	r.handleLeave(LeaveNotice{PlayerID: ids[0], ConnID: 2})
	if r.clients[ids[0]] != nil {
		t.Fatalf("live leave did not detach")
	}
}

func TestRejoin_UnknownPlayerRejected(t *testing.T) {
	r, _ := newTestRoom(t, 2)
	resp := make(chan JoinResponse, 1)
	r.handleAttach(AttachRequest{PlayerID: "nope", Resp: resp})
	if jr := <-resp; jr.Code != protocol.ErrNotInRoom {
		t.Fatalf("unknown rejoin: got %q want %q", jr.Code, protocol.ErrNotInRoom)
	}
}

func TestCheckDeadline_IdempotentBeforeAndAfter(t *testing.T) {
	r, ids := newTestRoom(t, 2)
	startGame(t, r, ids)

	// Deadline not reached: the poke is a no-op.
	seq := r.phaseSeq
	r.checkDeadline()
	if r.phaseSeq != seq || r.phase != PhaseRoundStart {
		t.Fatalf("early poke advanced the phase")
	}

	// Deadline passed: round_start rolls into market_phase exactly once,
	// repeated pokes hit the new (future) deadline and no-op.
	r.phaseEndsAt = time.Now().Add(-time.Millisecond)
	r.checkDeadline()
	if r.phase != PhaseMarket {
		t.Fatalf("phase = %s, want %s", r.phase, PhaseMarket)
	}
	seq = r.phaseSeq
	r.checkDeadline()
	r.checkDeadline()
	if r.phaseSeq != seq || r.phase != PhaseMarket {
		t.Fatalf("stale pokes re-resolved the phase")
	}
}

func TestTickAction_RunsDeadlineCheck(t *testing.T) {
	r, ids := newTestRoom(t, 2)
	startGame(t, r, ids)
	r.phaseEndsAt = time.Now().Add(-time.Millisecond)

	r.handleAction(ActionEnvelope{PlayerID: ids[0], Type: protocol.TypeTick})
	if r.phase != PhaseMarket {
		t.Fatalf("tick did not advance: phase = %s", r.phase)
	}
}

func TestSnapshot_ThroughRoomLoop(t *testing.T) {
	r, ids := newTestRoom(t, 2)
	startGame(t, r, ids)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = r.Run(ctx) }()
	defer r.Stop()

	b, err := r.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("snapshot decode: %v", err)
	}
	cfg, _ := doc["config"].(map[string]any)
	if cfg == nil || cfg["room_id"] != "room-test" {
		t.Fatalf("snapshot config missing: %v", doc)
	}
}
