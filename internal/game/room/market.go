package room

import (
	"sort"

	"github.com/google/uuid"

	"hexmarket.gg/internal/protocol"
)

// A player gets one market action per phase: a single bid on one pool die,
// or an explicit skip. Recycling is separate and unlimited.

func (r *Room) handleMarketBid(p *Player, m protocol.MarketBidMsg) {
	if r.phase != PhaseMarket {
		r.reject(p, protocol.ErrBadPhase, "market_bid not valid in %s", r.phase)
		return
	}
	if r.pending.marketBids[p.ID] != nil || r.pending.marketSkip[p.ID] {
		r.reject(p, protocol.ErrAlreadyBid, "already bid or skipped this market phase")
		return
	}
	if m.DieIndex < 0 || m.DieIndex >= len(r.marketDice) {
		r.reject(p, protocol.ErrBadRequest, "no market die at index %d", m.DieIndex)
		return
	}
	if m.Amount < r.tun.MarketMinPrice {
		r.reject(p, protocol.ErrMinPrice, "bid %d below minimum price %d", m.Amount, r.tun.MarketMinPrice)
		return
	}
	if m.Amount > p.Money {
		r.reject(p, protocol.ErrNoMoney, "bid %d exceeds money %d", m.Amount, p.Money)
		return
	}

	r.pending.marketBids[p.ID] = &MarketBid{DieIndex: m.DieIndex, Amount: m.Amount, Seq: r.pending.nextSeq()}
	r.savePending()

	if r.allMarketActed() {
		r.resolveMarket()
	}
}

func (r *Room) handleMarketSkip(p *Player) {
	if r.phase != PhaseMarket {
		r.reject(p, protocol.ErrBadPhase, "market_skip not valid in %s", r.phase)
		return
	}
	if r.pending.marketBids[p.ID] != nil || r.pending.marketSkip[p.ID] {
		r.reject(p, protocol.ErrAlreadyBid, "already bid or skipped this market phase")
		return
	}
	r.pending.marketSkip[p.ID] = true
	r.savePending()

	if r.allMarketActed() {
		r.resolveMarket()
	}
}

// handleMarketRecycle trades one die from the player's own hand for a
// flat payment. Independent of bid/skip state, repeatable.
func (r *Room) handleMarketRecycle(p *Player, m protocol.MarketRecycleMsg) {
	if r.phase != PhaseMarket {
		r.reject(p, protocol.ErrBadPhase, "market_recycle not valid in %s", r.phase)
		return
	}
	if m.DieIndex < 0 || m.DieIndex >= len(p.Dice) {
		r.reject(p, protocol.ErrBadRequest, "you hold no die at index %d", m.DieIndex)
		return
	}
	face := p.Dice[m.DieIndex]
	p.Dice = append(p.Dice[:m.DieIndex], p.Dice[m.DieIndex+1:]...)
	p.Money += r.tun.RecyclePayment

	r.savePlayers()
	r.journalPlayer("recycle", p.ID, map[string]any{"face": face, "payment": r.tun.RecyclePayment})
}

func (r *Room) allMarketActed() bool {
	for _, id := range r.order {
		if r.pending.marketBids[id] == nil && !r.pending.marketSkip[id] {
			return false
		}
	}
	return true
}

type marketEntry struct {
	playerID string
	bid      *MarketBid
}

// resolveMarket awards each contested pool die to its strict highest
// bidder; a tie escalates to a market conflict and the die stays put.
// Awarded dice leave the pool immediately unless an auction follows, so
// conflict die indexes stay valid until the auction resolves.
func (r *Room) resolveMarket() {
	if r.phase != PhaseMarket {
		return
	}

	byDie := make(map[int][]marketEntry)
	for _, id := range r.order {
		if bid := r.pending.marketBids[id]; bid != nil {
			byDie[bid.DieIndex] = append(byDie[bid.DieIndex], marketEntry{playerID: id, bid: bid})
		}
	}

	for _, idx := range sortedDieIndexes(byDie) {
		entries := byDie[idx]
		top := 0
		for _, e := range entries {
			if e.bid.Amount > top {
				top = e.bid.Amount
			}
		}
		var winners []marketEntry
		for _, e := range entries {
			if e.bid.Amount == top {
				winners = append(winners, e)
			}
		}

		if len(winners) == 1 {
			w := winners[0]
			pl := r.players[w.playerID]
			pl.Money -= top
			pl.Dice = append(pl.Dice, r.marketDice[idx])
			r.consumed[idx] = true
			r.journalPlayer("market_award", w.playerID, map[string]any{
				"die_index": idx, "face": r.marketDice[idx], "paid": top,
			})
			continue
		}

		// Tied top bids: the die is not dispersed yet.
		ids := make([]string, 0, len(winners))
		for _, e := range winners {
			ids = append(ids, e.playerID)
		}
		sortBySeq(ids, func(id string) int { return r.pending.marketBids[id].Seq })
		r.newConflict(&Conflict{
			ID:        uuid.NewString(),
			Kind:      protocol.ConflictMarket,
			DieIndex:  idx,
			PlayerIDs: ids,
			Bids:      make(map[string]*AuctionBid),
		})
		r.journalEvent("market_conflict", map[string]any{"die_index": idx, "players": ids})
	}

	r.savePlayers()
	if len(r.confOrder) > 0 {
		r.enterAuction()
		return
	}
	r.dropConsumedDice()
	r.saveConfig()
	r.enterBuy()
}

// sortBySeq orders ids ascending by a per-id sequence number (submission
// order), stable for equal values.
func sortBySeq(ids []string, seq func(string) int) {
	sort.SliceStable(ids, func(i, j int) bool { return seq(ids[i]) < seq(ids[j]) })
}
