package room

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"hexmarket.gg/internal/game/tuning"
	"hexmarket.gg/internal/persistence/archive"
	"hexmarket.gg/internal/persistence/statestore"
	"hexmarket.gg/internal/protocol"
)

// forceDeadline expires the current phase and pokes the machine, the way
// the room loop's timer would.
func forceDeadline(t *testing.T, r *Room) {
	t.Helper()
	if r.phaseEndsAt.IsZero() {
		t.Fatalf("phase %s is untimed", r.phase)
	}
	r.phaseEndsAt = time.Now().Add(-time.Millisecond)
	r.checkDeadline()
}

type fakeDirectory struct {
	departed []string
}

func (f *fakeDirectory) ReportOccupancy(string, int, []string, string) {}
func (f *fakeDirectory) RegisterDeparture(roomID string) {
	f.departed = append(f.departed, roomID)
}

func TestAgePlots_DecaysOwnedCellsToFloor(t *testing.T) {
	r, ids := newTestRoom(t, 2)
	startGame(t, r, ids)
	setBoard(r,
		cell(0, 0, 3, 7, 4),
		cell(1, 0, 3, 6, 5),
		cell(2, 0, 3, 1, 1),
	)
	own(r, "0,0", ids[0], protocol.RoleProducer)
	own(r, "2,0", ids[0], protocol.RoleSeller)

	r.agePlots()

	if c := r.grid.Cell("0,0"); c.Producer != 6 || c.Seller != 3 {
		t.Fatalf("owned cell = P%d S%d, want P6 S3", c.Producer, c.Seller)
	}
	if c := r.grid.Cell("1,0"); c.Producer != 6 || c.Seller != 5 {
		t.Fatalf("unowned cell aged: P%d S%d", c.Producer, c.Seller)
	}
	if c := r.grid.Cell("2,0"); c.Producer != 1 || c.Seller != 1 {
		t.Fatalf("floored cell moved: P%d S%d", c.Producer, c.Seller)
	}

	// Ten more rounds bottom out at 1 without touching ownership.
	for i := 0; i < 10; i++ {
		r.agePlots()
	}
	c := r.grid.Cell("0,0")
	if c.Producer != 1 || c.Seller != 1 {
		t.Fatalf("cell after long decay = P%d S%d, want P1 S1", c.Producer, c.Seller)
	}
	if len(c.Owners) != 1 || c.Owners[0].PlayerID != ids[0] {
		t.Fatalf("decay disturbed ownership: %+v", c.Owners)
	}
}

func TestRoundStart_PaysOutAndReplenishesMarket(t *testing.T) {
	r, ids := newTestRoom(t, 2)
	startGame(t, r, ids)
	p := r.players[ids[0]]
	p.PendingRevenue = 7
	money := p.Money
	r.marketDice = []int{5}

	r.enterRoundStart()

	if p.Money != money+r.tun.RoundBonus+7 {
		t.Fatalf("money = %d, want %d", p.Money, money+r.tun.RoundBonus+7)
	}
	if p.PendingRevenue != 0 {
		t.Fatalf("pending revenue not cleared: %d", p.PendingRevenue)
	}
	wantPool := len(ids) + r.tun.MarketDiceExtra
	if len(r.marketDice) != wantPool || r.marketDice[0] != 5 {
		t.Fatalf("pool = %v, want %d dice with the carryover first", r.marketDice, wantPool)
	}
	if r.phase != PhaseRoundStart {
		t.Fatalf("phase = %s", r.phase)
	}
}

func TestRoundEnd_AdvancesAndClearsPathLedger(t *testing.T) {
	r, ids := newTestRoom(t, 2)
	startGame(t, r, ids)
	r.paths[ids[0]] = &SubmittedPath{PlayerID: ids[0], Round: 1}

	r.enterRoundEnd()
	forceDeadline(t, r)

	if r.roundIndex != 2 || r.phase != PhaseRoundStart {
		t.Fatalf("round=%d phase=%s, want round 2 round_start", r.roundIndex, r.phase)
	}
	if len(r.paths) != 0 {
		t.Fatalf("path ledger survived the round boundary")
	}
}

func TestRoundEnd_FinalRoundWinnerTieBreaks(t *testing.T) {
	r, ids := newTestRoom(t, 3)
	startGame(t, r, ids)
	setBoard(r, cell(0, 0, 3, 7, 4))
	r.players[ids[0]].Money = 15
	r.players[ids[1]].Money = 15
	r.players[ids[2]].Money = 10
	own(r, "0,0", ids[1], protocol.RoleSeller)

	r.roundIndex = r.cfg.RoundCount
	r.enterRoundEnd()
	forceDeadline(t, r)

	if r.phase != PhaseEnded {
		t.Fatalf("phase = %s, want %s", r.phase, PhaseEnded)
	}
	w := r.winner
	if w == nil || w.PlayerID != ids[1] || w.Money != 15 || w.CellsOwned != 1 {
		t.Fatalf("winner = %+v, want %s on the cells tie-break", w, ids[1])
	}
	if st := r.buildState(); st.Winner == nil || st.Winner.PlayerID != ids[1] {
		t.Fatalf("winner missing from the broadcast state")
	}

	// A full tie falls back to join order.
	r2, ids2 := newTestRoom(t, 2)
	startGame(t, r2, ids2)
	r2.roundIndex = r2.cfg.RoundCount
	r2.enterRoundEnd()
	forceDeadline(t, r2)
	if r2.winner == nil || r2.winner.PlayerID != ids2[0] {
		t.Fatalf("tie winner = %+v, want first joiner", r2.winner)
	}
}

func TestCleanup_ArchivesPurgesAndDeregisters(t *testing.T) {
	dataDir := t.TempDir()
	store, err := statestore.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	fake := &fakeDirectory{}

	r := New(Config{ID: "room-clean", RoundCount: 1, Seed: 7, DataDir: dataDir}, tuning.Default(), store, fake)
	join := func(name string) string {
		resp := make(chan JoinResponse, 1)
		r.handleJoin(JoinRequest{Name: name, Resp: resp})
		jr := <-resp
		if !jr.OK() {
			t.Fatalf("join %s: %s", name, jr.Code)
		}
		return jr.PlayerID
	}
	ids := []string{join("alice"), join("bob")}
	startGame(t, r, ids)

	r.enterRoundEnd()
	forceDeadline(t, r)
	if r.phase != PhaseEnded {
		t.Fatalf("phase = %s, want %s", r.phase, PhaseEnded)
	}
	if keys, _ := store.StateKeys("room-clean"); len(keys) == 0 {
		t.Fatalf("no persisted state before cleanup")
	}

	r.cleanup()

	arch, err := archive.ReadArchive(filepath.Join(dataDir, "archives", "room-clean", archive.ArchiveFileName))
	if err != nil {
		t.Fatalf("ReadArchive: %v", err)
	}
	if arch.Header.RoomID != "room-clean" || len(arch.Players) != 2 {
		t.Fatalf("archive = %+v", arch.Header)
	}
	if arch.WinnerID != r.winner.PlayerID {
		t.Fatalf("archive winner = %q, want %q", arch.WinnerID, r.winner.PlayerID)
	}
	if keys, _ := store.StateKeys("room-clean"); len(keys) != 0 {
		t.Fatalf("state rows survived cleanup: %v", keys)
	}
	if len(fake.departed) != 1 || fake.departed[0] != "room-clean" {
		t.Fatalf("departures = %v", fake.departed)
	}

	// Outside ended, cleanup is a no-op.
	idleDir := t.TempDir()
	fake2 := &fakeDirectory{}
	r2 := New(Config{ID: "room-idle", RoundCount: 1, Seed: 7, DataDir: idleDir}, tuning.Default(), nil, fake2)
	r2.cleanup()
	if len(fake2.departed) != 0 {
		t.Fatalf("lobby cleanup deregistered: %v", fake2.departed)
	}
	if _, err := os.Stat(filepath.Join(idleDir, "archives")); !os.IsNotExist(err) {
		t.Fatalf("lobby cleanup wrote an archive")
	}
}

func TestFullGame_TwoRoundsToWinner(t *testing.T) {
	r := New(Config{ID: "room-cycle", RoundCount: 2, Seed: 11}, tuning.Default(), nil, nil)
	join := func(name string) string {
		resp := make(chan JoinResponse, 1)
		r.handleJoin(JoinRequest{Name: name, Resp: resp})
		jr := <-resp
		if !jr.OK() {
			t.Fatalf("join %s: %s", name, jr.Code)
		}
		return jr.PlayerID
	}
	ids := []string{join("alice"), join("bob")}
	p1, p2 := r.players[ids[0]], r.players[ids[1]]
	startGame(t, r, ids)

	for round := 1; round <= 2; round++ {
		if r.roundIndex != round {
			t.Fatalf("round = %d, want %d", r.roundIndex, round)
		}
		forceDeadline(t, r) // round_start pause elapses
		if r.phase != PhaseMarket {
			t.Fatalf("round %d: phase = %s, want %s", round, r.phase, PhaseMarket)
		}
		r.handleMarketSkip(p1)
		r.handleMarketSkip(p2) // full ballot resolves early
		if r.phase != PhaseBuy {
			t.Fatalf("round %d: phase = %s, want %s", round, r.phase, PhaseBuy)
		}
		r.handleBuyDone(p1)
		r.handleBuyDone(p2) // no claims; path auto-resolves into round_end
		if r.phase != PhaseRoundEnd {
			t.Fatalf("round %d: phase = %s, want %s", round, r.phase, PhaseRoundEnd)
		}
		forceDeadline(t, r)
	}

	if r.phase != PhaseEnded {
		t.Fatalf("phase = %s, want %s", r.phase, PhaseEnded)
	}
	wantMoney := r.tun.StartingMoney + 2*r.tun.RoundBonus
	if p1.Money != wantMoney || p2.Money != wantMoney {
		t.Fatalf("money = %d/%d, want %d", p1.Money, p2.Money, wantMoney)
	}
	if r.winner == nil || r.winner.PlayerID != ids[0] {
		t.Fatalf("winner = %+v, want first joiner on the full tie", r.winner)
	}
}
