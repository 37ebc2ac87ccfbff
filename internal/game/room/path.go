package room

import (
	"hexmarket.gg/internal/game/hexgrid"
	"hexmarket.gg/internal/protocol"
)

func (r *Room) handlePath(p *Player, m protocol.PathMsg) {
	if r.phase != PhasePath {
		r.reject(p, protocol.ErrBadPhase, "path not valid in %s", r.phase)
		return
	}

	cells := make([]hexgrid.Coord, len(m.Path))
	for i, qr := range m.Path {
		cells[i] = hexgrid.Coord{Q: qr[0], R: qr[1]}
	}
	if code, msg := r.validatePath(p.ID, m.ProducerID, m.SellerID, cells); code != "" {
		r.reject(p, code, "%s", msg)
		return
	}

	revenue := r.computeRevenue(p.ID, cells)
	r.paths[p.ID] = &SubmittedPath{
		PlayerID:   p.ID,
		ProducerID: m.ProducerID,
		SellerID:   m.SellerID,
		Cells:      cells,
		Revenue:    revenue,
		Round:      r.roundIndex,
	}
	// Paid at the next round_start; resubmission replaces, never adds.
	p.PendingRevenue = revenue
	delete(r.pending.autoReady, p.ID)

	r.savePaths()
	r.savePlayers()
	r.savePending()
	r.journalPlayer("path", p.ID, map[string]any{
		"producer": m.ProducerID, "seller": m.SellerID,
		"len": len(cells) - 1, "revenue": revenue,
	})
	r.sendTo(p.ID, protocol.PathRevenueMsg{Type: protocol.TypePathRevenue, Revenue: revenue})
}

func (r *Room) handlePathDone(p *Player) {
	if r.phase != PhasePath {
		r.reject(p, protocol.ErrBadPhase, "path_done not valid in %s", r.phase)
		return
	}
	r.pending.pathReady[p.ID] = true
	r.savePending()

	if r.allPathReady() {
		r.resolvePath()
	}
}

// validatePath checks a route end to end: endpoints are the submitter's
// owned producer/seller cells and really the polyline's ends, every hop
// is a hex neighbor, every entry is a board cell, and no interior entry
// is blocked. Returns an error code and message, or "" when valid.
func (r *Room) validatePath(playerID, producerID, sellerID string, cells []hexgrid.Coord) (string, string) {
	if r.grid == nil || len(cells) == 0 {
		return protocol.ErrInvalidPath, "empty path"
	}
	prod := r.grid.Cell(producerID)
	sell := r.grid.Cell(sellerID)
	if prod == nil || sell == nil {
		return protocol.ErrInvalidTarget, "unknown endpoint cell"
	}
	if !prod.hasOwner(playerID, protocol.RoleProducer) {
		return protocol.ErrNotYours, "you do not own " + producerID + " as producer"
	}
	if !sell.hasOwner(playerID, protocol.RoleSeller) {
		return protocol.ErrNotYours, "you do not own " + sellerID + " as seller"
	}
	if cells[0] != prod.Coord() {
		return protocol.ErrInvalidPath, "path must start at the producer cell"
	}
	if cells[len(cells)-1] != sell.Coord() {
		return protocol.ErrInvalidPath, "path must end at the seller cell"
	}
	for i, co := range cells {
		c := r.grid.Cell(co.Key())
		if c == nil {
			return protocol.ErrInvalidPath, "path leaves the board at " + co.Key()
		}
		if i > 0 && i < len(cells)-1 && c.Blocked {
			return protocol.ErrInvalidPath, "path crosses blocked cell " + co.Key()
		}
		if i > 0 && !hexgrid.Adjacent(cells[i-1], co) {
			return protocol.ErrInvalidPath, "path entries " + cells[i-1].Key() + " and " + co.Key() + " are not neighbors"
		}
	}
	return "", ""
}

// computeRevenue prices a validated route. Path length and enemy
// territory erode the seller value, which saturates fast: the effective
// seller value is clamped into [0,1], so revenue is the producer value
// or nothing.
func (r *Room) computeRevenue(playerID string, cells []hexgrid.Coord) int {
	prod := r.grid.Cell(cells[0].Key())
	sell := r.grid.Cell(cells[len(cells)-1].Key())

	enemy := 0
	if len(cells) > 2 {
		for _, co := range cells[1 : len(cells)-1] {
			if c := r.grid.Cell(co.Key()); c != nil && c.ownedByOther(playerID) {
				enemy++
			}
		}
	}
	length := len(cells) - 1

	eff := sell.Seller - length - 2*enemy
	if eff < 0 {
		eff = 0
	}
	if eff > 1 {
		eff = 1
	}
	return prod.Producer * eff
}
