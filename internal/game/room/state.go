package room

import (
	"time"

	"hexmarket.gg/internal/protocol"
)

// buildState assembles the shared portion of a state broadcast. The You
// section is attached per connection by the caller; everything here is
// public knowledge. Pending market/auction bids never appear.
func (r *Room) buildState() protocol.StateMsg {
	msg := protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		RoomID:          r.cfg.ID,

		Phase:      r.phase,
		RoundIndex: r.roundIndex,
		RoundCount: r.cfg.RoundCount,
		Now:        time.Now().UnixMilli(),

		MarketDice:     append([]int(nil), r.marketDice...),
		MarketMinPrice: r.tun.MarketMinPrice,

		Winner: r.winner,
	}
	if !r.phaseEndsAt.IsZero() {
		msg.PhaseEndsAt = r.phaseEndsAt.UnixMilli()
	}

	for _, id := range r.order {
		p := r.players[id]
		msg.Players = append(msg.Players, protocol.PlayerState{
			PlayerID:  p.ID,
			Name:      p.Name,
			Color:     p.Color,
			Money:     p.Money,
			Dice:      append([]int(nil), p.Dice...),
			Connected: r.clients[id] != nil,
		})
	}

	if r.grid != nil {
		gs := protocol.GridState{Radius: r.grid.Radius}
		for _, c := range r.grid.All() {
			cs := protocol.CellState{
				ID:        c.ID,
				Q:         c.Q,
				R:         c.R,
				DiceValue: c.DiceValue,
				Producer:  c.Producer,
				Seller:    c.Seller,
				Blocked:   c.Blocked,
			}
			for _, o := range c.Owners {
				cs.Owners = append(cs.Owners, protocol.OwnerState{PlayerID: o.PlayerID, Role: o.Role})
			}
			gs.Cells = append(gs.Cells, cs)
		}
		msg.Grid = gs
	}

	// Queued buys are open information.
	for _, id := range r.order {
		for _, claim := range r.pending.buyQueues[id] {
			msg.PendingBuys = append(msg.PendingBuys, protocol.PendingBuy{
				PlayerID: id, CellID: claim.CellID, Role: claim.Role,
			})
		}
	}

	// Conflicts expose membership only, never bids.
	for _, cid := range r.confOrder {
		c := r.conflicts[cid]
		cs := protocol.ConflictState{
			ConflictID: c.ID,
			Kind:       c.Kind,
			CellID:     c.CellID,
			PlayerIDs:  append([]string(nil), c.PlayerIDs...),
		}
		if c.Kind == protocol.ConflictMarket {
			idx := c.DieIndex
			cs.DieIndex = &idx
		}
		msg.Conflicts = append(msg.Conflicts, cs)
	}

	for _, id := range r.order {
		if r.paths[id] != nil {
			msg.PathsSubmitted = append(msg.PathsSubmitted, id)
		}
	}
	for _, id := range r.order {
		if r.pending.pathReady[id] || r.pending.autoReady[id] {
			msg.Ready = append(msg.Ready, id)
		}
	}

	return msg
}

// youFor builds the private section for one player: their own pending
// bids, their own path, their own ready flags.
func (r *Room) youFor(playerID string) *protocol.YouState {
	you := &protocol.YouState{PlayerID: playerID}

	if b := r.pending.marketBids[playerID]; b != nil {
		you.MarketBid = &protocol.MarketBidState{DieIndex: b.DieIndex, Amount: b.Amount}
	}
	you.MarketSkipped = r.pending.marketSkip[playerID]

	for _, cid := range r.confOrder {
		if b := r.conflicts[cid].Bids[playerID]; b != nil {
			if you.AuctionBids == nil {
				you.AuctionBids = make(map[string]int)
			}
			you.AuctionBids[cid] = b.Amount
		}
	}

	if sp := r.paths[playerID]; sp != nil {
		ps := &protocol.PathState{
			ProducerID: sp.ProducerID,
			SellerID:   sp.SellerID,
			Revenue:    sp.Revenue,
		}
		for _, co := range sp.Cells {
			ps.Path = append(ps.Path, [2]int{co.Q, co.R})
		}
		you.Path = ps
	}

	you.BuyDone = r.pending.buyDone[playerID]
	you.PathReady = r.pending.pathReady[playerID]
	you.AutoReady = r.pending.autoReady[playerID]
	return you
}
