package room

import (
	"github.com/google/uuid"

	"hexmarket.gg/internal/protocol"
)

func (r *Room) handleBuyCell(p *Player, m protocol.BuyCellMsg) {
	if r.phase != PhaseBuy {
		r.reject(p, protocol.ErrBadPhase, "buy_cell not valid in %s", r.phase)
		return
	}
	if m.Role != protocol.RoleProducer && m.Role != protocol.RoleSeller {
		r.reject(p, protocol.ErrBadRequest, "role must be producer or seller")
		return
	}
	c := r.grid.Cell(m.CellID)
	if c == nil {
		r.reject(p, protocol.ErrInvalidTarget, "no cell %s", m.CellID)
		return
	}
	if c.Blocked {
		r.reject(p, protocol.ErrInvalidTarget, "cell %s is blocked", m.CellID)
		return
	}
	if !p.hasDie(c.DiceValue) {
		r.reject(p, protocol.ErrNoDie, "no die of value %d", c.DiceValue)
		return
	}
	for _, claim := range r.pending.buyQueues[p.ID] {
		if claim.CellID == m.CellID {
			r.reject(p, protocol.ErrAlreadyQueued, "cell %s already queued", m.CellID)
			return
		}
	}
	if c.hasOwner(p.ID, m.Role) {
		r.reject(p, protocol.ErrAlreadyOwned, "you already own %s as %s", m.CellID, m.Role)
		return
	}

	r.pending.buyQueues[p.ID] = append(r.pending.buyQueues[p.ID],
		&BuyClaim{CellID: m.CellID, Role: m.Role, Seq: r.pending.nextSeq()})
	r.savePending()
}

func (r *Room) handleBuyCellCancel(p *Player, m protocol.BuyCellCancelMsg) {
	if r.phase != PhaseBuy {
		r.reject(p, protocol.ErrBadPhase, "buy_cell_cancel not valid in %s", r.phase)
		return
	}
	queue := r.pending.buyQueues[p.ID]
	for i, claim := range queue {
		if claim.CellID == m.CellID {
			r.pending.buyQueues[p.ID] = append(queue[:i], queue[i+1:]...)
			r.savePending()
			return
		}
	}
	r.reject(p, protocol.ErrBadRequest, "cell %s is not queued", m.CellID)
}

func (r *Room) handleBuyDone(p *Player) {
	if r.phase != PhaseBuy {
		r.reject(p, protocol.ErrBadPhase, "buy_done not valid in %s", r.phase)
		return
	}
	r.pending.buyDone[p.ID] = true
	r.savePending()

	if r.allBuyDone() {
		r.resolveBuy()
	}
}

func (r *Room) allBuyDone() bool {
	for _, id := range r.order {
		if !r.pending.buyDone[id] {
			return false
		}
	}
	return true
}

type buyEntry struct {
	playerID string
	claim    *BuyClaim
}

// resolveBuy commits uncontested claims and escalates contested cells.
// Each die unit backs at most one claim: every player's queue is walked
// in submission order against a copy of their dice pool, and claims that
// find no die left are silently dropped. Surviving claims with a single
// claimant commit (the real die is spent); cells with several distinct
// claimants become cell conflicts with each claimant's declared role.
func (r *Room) resolveBuy() {
	if r.phase != PhaseBuy {
		return
	}

	byCell := make(map[string][]buyEntry)
	var cellOrder []string
	for _, id := range r.order {
		counts := make(map[int]int)
		for _, d := range r.players[id].Dice {
			counts[d]++
		}
		for _, claim := range r.pending.buyQueues[id] {
			c := r.grid.Cell(claim.CellID)
			if c == nil || c.Blocked {
				continue
			}
			if counts[c.DiceValue] == 0 {
				continue // out of matching dice, drop the claim
			}
			counts[c.DiceValue]--
			if len(byCell[claim.CellID]) == 0 {
				cellOrder = append(cellOrder, claim.CellID)
			}
			byCell[claim.CellID] = append(byCell[claim.CellID], buyEntry{playerID: id, claim: claim})
		}
	}

	// Resolve cells in first-claim order across all queues.
	sortBySeq(cellOrder, func(cellID string) int { return byCell[cellID][0].claim.Seq })

	for _, cellID := range cellOrder {
		entries := byCell[cellID]
		c := r.grid.Cell(cellID)

		if len(entries) == 1 {
			e := entries[0]
			pl := r.players[e.playerID]
			if !pl.removeDie(c.DiceValue) {
				continue // should be impossible, the pool copy reserved it
			}
			c.Owners = append(c.Owners, Owner{
				PlayerID: e.playerID,
				Role:     e.claim.Role,
				Round:    r.roundIndex,
			})
			r.journalPlayer("buy_commit", e.playerID, map[string]any{
				"cell": cellID, "role": e.claim.Role, "die": c.DiceValue,
			})
			continue
		}

		ids := make([]string, 0, len(entries))
		roles := make(map[string]string, len(entries))
		for _, e := range entries {
			ids = append(ids, e.playerID)
			roles[e.playerID] = e.claim.Role
		}
		sortBySeq(ids, func(id string) int {
			for _, e := range entries {
				if e.playerID == id {
					return e.claim.Seq
				}
			}
			return 0
		})
		r.newConflict(&Conflict{
			ID:        uuid.NewString(),
			Kind:      protocol.ConflictCell,
			CellID:    cellID,
			Roles:     roles,
			PlayerIDs: ids,
			Bids:      make(map[string]*AuctionBid),
		})
		r.journalEvent("cell_conflict", map[string]any{"cell": cellID, "players": ids})
	}

	r.savePlayers()
	r.saveGrid()
	if len(r.confOrder) > 0 {
		r.enterAuction()
		return
	}
	r.enterPath()
}
