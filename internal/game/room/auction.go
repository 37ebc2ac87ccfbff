package room

import (
	"hexmarket.gg/internal/protocol"
)

// handleAuctionBid records a contender's blind bid. Resubmission
// overwrites both the amount and the player's position in submission
// order. Non-bidders default to 0 at resolution.
func (r *Room) handleAuctionBid(p *Player, m protocol.AuctionBidMsg) {
	if r.phase != PhaseAuction {
		r.reject(p, protocol.ErrBadPhase, "auction_bid not valid in %s", r.phase)
		return
	}
	c := r.conflicts[m.ConflictID]
	if c == nil {
		r.reject(p, protocol.ErrConflictUnknown, "no conflict %s", m.ConflictID)
		return
	}
	contender := false
	for _, id := range c.PlayerIDs {
		if id == p.ID {
			contender = true
			break
		}
	}
	if !contender {
		r.reject(p, protocol.ErrNotYours, "you are not contending conflict %s", m.ConflictID)
		return
	}
	if m.Amount < 0 {
		r.reject(p, protocol.ErrBadRequest, "bid must be >= 0")
		return
	}
	if m.Amount > p.Money {
		r.reject(p, protocol.ErrNoMoney, "bid %d exceeds money %d", m.Amount, p.Money)
		return
	}

	c.Bids[p.ID] = &AuctionBid{Amount: m.Amount, Seq: r.pending.nextSeq()}
	r.savePending()
}

// resolveAuction settles every conflict independently, in creation order.
// The auction has no early exit; only the deadline lands here.
//
// Market conflicts crown exactly one designated winner: the first bidder
// in submission order to reach the top amount. Cell conflicts honor ties
// collectively: every top bidder who can still pay and still holds the
// needed die becomes a co-owner in their declared role.
func (r *Room) resolveAuction() {
	if r.phase != PhaseAuction {
		return
	}

	for _, cid := range r.confOrder {
		c := r.conflicts[cid]
		top := 0
		for _, id := range c.PlayerIDs {
			if b := c.Bids[id]; b != nil && b.Amount > top {
				top = b.Amount
			}
		}

		switch c.Kind {
		case protocol.ConflictMarket:
			r.settleMarketConflict(c, top)
		case protocol.ConflictCell:
			r.settleCellConflict(c, top)
		}
	}

	r.clearConflicts()
	r.dropConsumedDice()
	r.savePlayers()
	r.saveGrid()
	r.saveConfig()
	r.enterPath()
}

func (r *Room) settleMarketConflict(c *Conflict, top int) {
	// Designated winner: first bidder reaching the top amount in
	// submission order; with no bids at all, the first contender.
	winner := ""
	bestSeq := 0
	for _, id := range c.PlayerIDs {
		b := c.Bids[id]
		if b == nil || b.Amount != top {
			continue
		}
		if winner == "" || b.Seq < bestSeq {
			winner = id
			bestSeq = b.Seq
		}
	}
	if winner == "" {
		winner = c.PlayerIDs[0]
	}

	pl := r.players[winner]
	if pl.Money < top {
		// Insolvent by the time the hammer falls: the die stays in the pool.
		r.journalPlayer("auction_forfeit", winner, map[string]any{"die_index": c.DieIndex, "bid": top})
		return
	}
	pl.Money -= top
	pl.Dice = append(pl.Dice, r.marketDice[c.DieIndex])
	r.consumed[c.DieIndex] = true
	r.journalPlayer("auction_award", winner, map[string]any{
		"die_index": c.DieIndex, "face": r.marketDice[c.DieIndex], "paid": top,
	})
}

func (r *Room) settleCellConflict(c *Conflict, top int) {
	cell := r.grid.Cell(c.CellID)
	if cell == nil {
		return
	}
	for _, id := range c.PlayerIDs {
		amount := 0
		if b := c.Bids[id]; b != nil {
			amount = b.Amount
		}
		if amount != top {
			continue
		}
		pl := r.players[id]
		if pl.Money < amount || !pl.hasDie(cell.DiceValue) {
			continue
		}
		pl.Money -= amount
		pl.removeDie(cell.DiceValue)
		cell.Owners = append(cell.Owners, Owner{
			PlayerID: id,
			Role:     c.Roles[id],
			Price:    amount,
			Round:    r.roundIndex,
		})
		r.journalPlayer("auction_coown", id, map[string]any{
			"cell": c.CellID, "role": c.Roles[id], "paid": amount,
		})
	}
}
