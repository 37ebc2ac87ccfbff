package room

import (
	"sort"
	"time"

	"hexmarket.gg/internal/game/hexgrid"
	"hexmarket.gg/internal/persistence/archive"
	"hexmarket.gg/internal/protocol"
)

// handleStartGame leaves the lobby: it funds every player, deals starting
// hands, generates the board, and enters round 1.
func (r *Room) handleStartGame(p *Player) {
	if r.phase != PhaseLobby {
		r.reject(p, protocol.ErrGameRunning, "game already started")
		return
	}
	if len(r.players) < 2 {
		r.reject(p, protocol.ErrNeedPlayers, "need at least 2 players, have %d", len(r.players))
		return
	}

	for _, id := range r.order {
		pl := r.players[id]
		pl.Money = r.tun.StartingMoney
		pl.Dice = rollDice(r.rng, r.tun.StartingDice)
		pl.PendingRevenue = 0
	}

	radius := hexgrid.Radius(len(r.players), r.cfg.RoundCount, r.tun.BoardMinRadius, r.tun.BoardMaxRadius)
	cells := hexgrid.Generate(r.rng, radius, r.tun.BoardBlockFraction)
	r.grid = newGrid(radius, cells)
	r.marketDice = nil
	r.consumed = make(map[int]bool)
	r.roundIndex = 1

	r.saveGrid()
	r.journalEvent("game_start", map[string]any{
		"players": len(r.players),
		"radius":  radius,
		"rounds":  r.cfg.RoundCount,
	})
	r.log.Printf("game start players=%d radius=%d rounds=%d", len(r.players), radius, r.cfg.RoundCount)

	r.enterRoundStart()
}

// enterRoundStart is the top of every round: ownership aging, the flat
// round bonus, last round's path payout, and market replenishment all
// land here, then a short display pause runs before market_phase.
func (r *Room) enterRoundStart() {
	r.agePlots()
	for _, id := range r.order {
		pl := r.players[id]
		pl.Money += r.tun.RoundBonus
		if pl.PendingRevenue > 0 {
			pl.Money += pl.PendingRevenue
			r.journalPlayer("revenue_paid", id, map[string]any{"amount": pl.PendingRevenue})
		}
		pl.PendingRevenue = 0
	}
	r.replenishMarket()

	r.pending = newPending()
	r.setPhase(PhaseRoundStart, r.tun.Phases.RoundStart)
	r.persistAll()
	r.journalEvent("round_start", nil)
	r.broadcast()
}

// agePlots decays every owned cell's values by 1, floored at 1.
// Ownership records are permanent.
func (r *Room) agePlots() {
	if r.grid == nil {
		return
	}
	for _, c := range r.grid.All() {
		if len(c.Owners) == 0 {
			continue
		}
		if c.Producer > 1 {
			c.Producer--
		}
		if c.Seller > 1 {
			c.Seller--
		}
	}
}

// replenishMarket rolls fresh dice until the pool holds
// players+market_dice_extra. Unbought dice carry over between rounds.
func (r *Room) replenishMarket() {
	target := len(r.players) + r.tun.MarketDiceExtra
	for len(r.marketDice) < target {
		r.marketDice = append(r.marketDice, 1+r.rng.Intn(6))
	}
}

func (r *Room) enterMarket() {
	r.pending = newPending()
	r.setPhase(PhaseMarket, r.tun.Phases.Market)
	r.saveConfig()
	r.savePending()
	r.broadcast()
}

func (r *Room) enterBuy() {
	r.pending = newPending()
	r.setPhase(PhaseBuy, r.tun.Phases.Buy)
	r.saveConfig()
	r.savePending()
	r.broadcast()
}

func (r *Room) enterAuction() {
	r.pending = newPending()
	r.setPhase(PhaseAuction, r.tun.Phases.Auction)
	r.saveConfig()
	r.savePending()
	r.journalEvent("auction_open", map[string]any{"conflicts": len(r.confOrder)})
	r.broadcast()
}

// enterPath opens the path phase. Players without both a producer and a
// seller cell cannot submit a path and are auto-ready; if that already
// covers everyone the phase resolves immediately.
func (r *Room) enterPath() {
	r.pending = newPending()
	for _, id := range r.order {
		if !r.ownsRole(id, protocol.RoleProducer) || !r.ownsRole(id, protocol.RoleSeller) {
			r.pending.autoReady[id] = true
		}
	}
	r.setPhase(PhasePath, r.tun.Phases.Path)
	r.saveConfig()
	r.savePending()
	r.broadcast()

	if r.allPathReady() {
		r.resolvePath()
	}
}

func (r *Room) ownsRole(playerID, role string) bool {
	if r.grid == nil {
		return false
	}
	for _, c := range r.grid.All() {
		if c.hasOwner(playerID, role) {
			return true
		}
	}
	return false
}

func (r *Room) allPathReady() bool {
	for _, id := range r.order {
		if !r.pending.pathReady[id] && !r.pending.autoReady[id] {
			return false
		}
	}
	return true
}

// resolvePath closes the round's play: any player out of dice is dealt a
// fresh hand, then the round_end pause begins.
func (r *Room) resolvePath() {
	if r.phase != PhasePath {
		return
	}
	for _, id := range r.order {
		pl := r.players[id]
		if len(pl.Dice) == 0 {
			pl.Dice = rollDice(r.rng, r.tun.StartingDice)
			r.journalPlayer("dice_replenished", id, map[string]any{"dice": pl.Dice})
		}
	}
	r.savePlayers()
	r.enterRoundEnd()
}

func (r *Room) enterRoundEnd() {
	r.pending = newPending()
	r.setPhase(PhaseRoundEnd, r.tun.Phases.RoundEnd)
	r.saveConfig()
	r.savePending()
	r.journalEvent("round_end", nil)
	r.broadcast()
}

// resolveRoundEnd either advances to the next round or finishes the game.
func (r *Room) resolveRoundEnd() {
	if r.phase != PhaseRoundEnd {
		return
	}
	if r.roundIndex >= r.cfg.RoundCount {
		r.winner = r.computeWinner()
		r.saveWinner()
		r.setPhase(PhaseEnded, r.tun.Phases.EndedCleanup)
		r.saveConfig()
		if r.winner != nil {
			r.journalPlayer("winner", r.winner.PlayerID, map[string]any{
				"money":       r.winner.Money,
				"cells_owned": r.winner.CellsOwned,
			})
			r.log.Printf("game over winner=%s money=%d cells=%d",
				shortID(r.winner.PlayerID), r.winner.Money, r.winner.CellsOwned)
		}
		r.broadcast()
		return
	}

	// Paths are a per-round ledger; revenue already sits in
	// pending_revenue and survives this clear.
	r.paths = make(map[string]*SubmittedPath)
	r.roundIndex++
	r.savePaths()
	r.enterRoundStart()
}

// computeWinner picks the richest player; ties go to the player owning
// more distinct cells, then to join order.
func (r *Room) computeWinner() *protocol.WinnerState {
	var best *Player
	var bestCells int
	for _, id := range r.order {
		pl := r.players[id]
		cells := r.cellsOwnedBy(id)
		if best == nil || pl.Money > best.Money || (pl.Money == best.Money && cells > bestCells) {
			best = pl
			bestCells = cells
		}
	}
	if best == nil {
		return nil
	}
	return &protocol.WinnerState{
		PlayerID:   best.ID,
		Name:       best.Name,
		Money:      best.Money,
		CellsOwned: bestCells,
	}
}

// cellsOwnedBy counts distinct cells where the player holds any role.
func (r *Room) cellsOwnedBy(playerID string) int {
	if r.grid == nil {
		return 0
	}
	n := 0
	for _, c := range r.grid.All() {
		for _, o := range c.Owners {
			if o.PlayerID == playerID {
				n++
				break
			}
		}
	}
	return n
}

// dropConsumedDice compacts the market pool, removing dice awarded by
// market or auction resolution. Conflict die indexes are only valid
// between resolutions, so this runs only when none are outstanding.
func (r *Room) dropConsumedDice() {
	if len(r.consumed) == 0 {
		return
	}
	kept := make([]int, 0, len(r.marketDice))
	for i, face := range r.marketDice {
		if r.consumed[i] {
			continue
		}
		kept = append(kept, face)
	}
	r.marketDice = kept
	r.consumed = make(map[int]bool)
}

// cleanup tears the ended room down: archive, purge, deregister, stop.
func (r *Room) cleanup() {
	if r.phase != PhaseEnded {
		return
	}
	r.journalEvent("room_closed", nil)

	if r.cfg.DataDir != "" {
		if _, err := archive.ArchiveRoom(r.cfg.DataDir, r.buildArchive()); err != nil {
			r.log.Printf("archive: %v", err)
		}
	}
	if r.store != nil {
		if err := r.store.DeleteRoom(r.cfg.ID); err != nil {
			r.log.Printf("purge state: %v", err)
		}
	}
	if r.dir != nil {
		r.dir.RegisterDeparture(r.cfg.ID)
	}
	r.Stop()
}

func (r *Room) buildArchive() archive.RoomArchiveV1 {
	arch := archive.RoomArchiveV1{
		Header:     archive.Header{Version: 1, RoomID: r.cfg.ID, Rounds: r.cfg.RoundCount},
		Seed:       r.cfg.Seed,
		RoundCount: r.cfg.RoundCount,
		CreatedAt:  r.createdAt.UTC().Format(time.RFC3339Nano),
		EndedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	if r.winner != nil {
		arch.WinnerID = r.winner.PlayerID
	}
	for _, id := range r.order {
		pl := r.players[id]
		dice := make([]int, len(pl.Dice))
		copy(dice, pl.Dice)
		arch.Players = append(arch.Players, archive.PlayerV1{
			ID:         pl.ID,
			Name:       pl.Name,
			Color:      pl.Color,
			Money:      pl.Money,
			Dice:       dice,
			CellsOwned: r.cellsOwnedBy(id),
		})
	}
	if r.grid != nil {
		arch.Radius = r.grid.Radius
		for _, c := range r.grid.All() {
			ac := archive.CellV1{
				ID:        c.ID,
				Q:         c.Q,
				R:         c.R,
				DiceValue: c.DiceValue,
				Producer:  c.Producer,
				Seller:    c.Seller,
				Blocked:   c.Blocked,
			}
			for _, o := range c.Owners {
				ac.Owners = append(ac.Owners, archive.OwnerV1{
					PlayerID: o.PlayerID,
					Role:     o.Role,
					Price:    o.Price,
					Round:    o.Round,
				})
			}
			arch.Cells = append(arch.Cells, ac)
		}
	}
	// Only non-final rounds clear the paths ledger, so the final
	// round's deliveries are still here and ride along.
	for _, id := range r.order {
		sp := r.paths[id]
		if sp == nil {
			continue
		}
		cells := make([][2]int, len(sp.Cells))
		for i, c := range sp.Cells {
			cells[i] = [2]int{c.Q, c.R}
		}
		arch.Paths = append(arch.Paths, archive.PathV1{
			PlayerID:   sp.PlayerID,
			ProducerID: sp.ProducerID,
			SellerID:   sp.SellerID,
			Cells:      cells,
			Revenue:    sp.Revenue,
			Round:      sp.Round,
		})
	}
	return arch
}

// newConflict registers a conflict and keeps creation order for
// deterministic resolution.
func (r *Room) newConflict(c *Conflict) {
	r.conflicts[c.ID] = c
	r.confOrder = append(r.confOrder, c.ID)
}

func (r *Room) clearConflicts() {
	r.conflicts = make(map[string]*Conflict)
	r.confOrder = nil
}

// sortedDieIndexes returns the contested pool indexes of a bid grouping
// in ascending order, for deterministic per-die resolution.
func sortedDieIndexes(m map[int][]marketEntry) []int {
	out := make([]int, 0, len(m))
	for idx := range m {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}
