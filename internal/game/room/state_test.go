package room

import (
	"bytes"
	"encoding/json"
	"testing"

	"hexmarket.gg/internal/protocol"
)

func TestState_MarketBidsStayPrivate(t *testing.T) {
	r, ids := marketRoom(t, 3, 5, 2)
	r.handleMarketBid(r.players[ids[0]], protocol.MarketBidMsg{DieIndex: 0, Amount: 4})
	r.handleMarketSkip(r.players[ids[1]])

	st := r.buildState()
	if st.You != nil {
		t.Fatalf("shared state carries a You section")
	}
	raw, err := json.Marshal(&st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if bytes.Contains(raw, []byte(`"market_bid"`)) {
		t.Fatalf("shared state leaks a bid: %s", raw)
	}

	you1 := r.youFor(ids[0])
	if you1.MarketBid == nil || you1.MarketBid.DieIndex != 0 || you1.MarketBid.Amount != 4 {
		t.Fatalf("own bid missing: %+v", you1.MarketBid)
	}
	if you1.MarketSkipped {
		t.Fatalf("bidder marked skipped")
	}
	you2 := r.youFor(ids[1])
	if you2.MarketBid != nil || !you2.MarketSkipped {
		t.Fatalf("skipper section = %+v", you2)
	}
	you3 := r.youFor(ids[2])
	if you3.MarketBid != nil || you3.MarketSkipped {
		t.Fatalf("silent player section = %+v", you3)
	}
}

func TestState_ConflictsExposeMembershipNotBids(t *testing.T) {
	r, ids := auctionRoom(t, 2)
	r.marketDice = []int{4, 2}
	r.newConflict(cellConflict("c1", "0,0",
		map[string]string{ids[0]: protocol.RoleProducer, ids[1]: protocol.RoleSeller},
		ids[0], ids[1]))
	r.newConflict(marketConflict("m1", 1, ids[0], ids[1]))
	r.enterAuction()
	r.handleAuctionBid(r.players[ids[0]], protocol.AuctionBidMsg{ConflictID: "c1", Amount: 3})

	st := r.buildState()
	if len(st.Conflicts) != 2 {
		t.Fatalf("conflicts = %d, want 2", len(st.Conflicts))
	}
	cc := st.Conflicts[0]
	if cc.Kind != protocol.ConflictCell || cc.CellID != "0,0" || cc.DieIndex != nil {
		t.Fatalf("cell conflict = %+v", cc)
	}
	mc := st.Conflicts[1]
	if mc.Kind != protocol.ConflictMarket || mc.DieIndex == nil || *mc.DieIndex != 1 {
		t.Fatalf("market conflict = %+v", mc)
	}
	if len(cc.PlayerIDs) != 2 {
		t.Fatalf("membership = %v", cc.PlayerIDs)
	}

	raw, err := json.Marshal(&st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if bytes.Contains(raw, []byte(`"bids"`)) || bytes.Contains(raw, []byte(`"auction_bids"`)) {
		t.Fatalf("shared state leaks auction bids: %s", raw)
	}

	if you := r.youFor(ids[0]); you.AuctionBids["c1"] != 3 {
		t.Fatalf("own auction bid missing: %+v", you.AuctionBids)
	}
	if you := r.youFor(ids[1]); you.AuctionBids != nil {
		t.Fatalf("rival sees a bid: %+v", you.AuctionBids)
	}
}

func TestState_PublicLedgersAndReadiness(t *testing.T) {
	r, ids := buyRoom(t, 2)
	p1 := r.players[ids[0]]
	p1.Dice = []int{3}
	r.handleBuyCell(p1, protocol.BuyCellMsg{CellID: "0,0", Role: protocol.RoleProducer})
	attachClient(r, ids[1], 1)

	st := r.buildState()
	if len(st.PendingBuys) != 1 {
		t.Fatalf("pending buys = %+v", st.PendingBuys)
	}
	pb := st.PendingBuys[0]
	if pb.PlayerID != ids[0] || pb.CellID != "0,0" || pb.Role != protocol.RoleProducer {
		t.Fatalf("pending buy = %+v", pb)
	}
	if st.Phase != PhaseBuy || st.PhaseEndsAt == 0 {
		t.Fatalf("phase projection = %s ends_at=%d", st.Phase, st.PhaseEndsAt)
	}
	if st.Grid.Radius != 5 || len(st.Grid.Cells) != 5 {
		t.Fatalf("grid projection = radius %d, %d cells", st.Grid.Radius, len(st.Grid.Cells))
	}
	if st.MarketMinPrice != r.tun.MarketMinPrice {
		t.Fatalf("market min price = %d", st.MarketMinPrice)
	}
	var conn1, conn2 bool
	for _, ps := range st.Players {
		switch ps.PlayerID {
		case ids[0]:
			conn1 = ps.Connected
		case ids[1]:
			conn2 = ps.Connected
		}
	}
	if conn1 || !conn2 {
		t.Fatalf("connected flags = %v/%v, want false/true", conn1, conn2)
	}
	if st.Winner != nil {
		t.Fatalf("winner set mid-game")
	}

	// Path phase: auto-ready players and submissions are public.
	r2, ids2 := pathRoom(t)
	st2 := r2.buildState()
	if len(st2.Ready) != 1 || st2.Ready[0] != ids2[1] {
		t.Fatalf("ready = %v, want the auto-ready player", st2.Ready)
	}
	r2.handlePath(r2.players[ids2[0]], protocol.PathMsg{
		ProducerID: "0,0", SellerID: "2,0",
		Path: [][2]int{{0, 0}, {1, 0}, {2, 0}},
	})
	st2 = r2.buildState()
	if len(st2.PathsSubmitted) != 1 || st2.PathsSubmitted[0] != ids2[0] {
		t.Fatalf("paths submitted = %v", st2.PathsSubmitted)
	}
}

func TestBroadcast_PersonalizesPerConnection(t *testing.T) {
	r, ids := newTestRoom(t, 2)
	out1 := attachClient(r, ids[0], 1)
	out2 := attachClient(r, ids[1], 2)
	startGame(t, r, ids)

	check := func(out chan []byte, playerID string) {
		t.Helper()
		frames := drainFrames(t, out)
		if len(frames) == 0 {
			t.Fatalf("no frames for %s", playerID)
		}
		last := frames[len(frames)-1]
		if last["type"] != protocol.TypeState {
			t.Fatalf("last frame = %v", last["type"])
		}
		you, _ := last["you"].(map[string]any)
		if you == nil || you["player_id"] != playerID {
			t.Fatalf("you = %v, want %s", last["you"], playerID)
		}
	}
	check(out1, ids[0])
	check(out2, ids[1])
}
