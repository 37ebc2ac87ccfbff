package room

import (
	"encoding/json"
	"time"

	"hexmarket.gg/internal/persistence/statestore"
)

// Stored document shapes. The room actor is the sole writer of its keys;
// reads happen only through the admin snapshot and offline tooling.

type configDoc struct {
	RoomID         string    `json:"room_id"`
	RoundCount     int       `json:"round_count"`
	Phase          string    `json:"phase"`
	PhaseSeq       uint64    `json:"phase_seq"`
	RoundIndex     int       `json:"round_index"`
	MarketDice     []int     `json:"market_dice"`
	MarketMinPrice int       `json:"market_min_price"`
	PhaseEndsAt    int64     `json:"phase_ends_at,omitempty"` // unix ms, 0 untimed
	CreatedAt      time.Time `json:"created_at"`
}

type gridDoc struct {
	Radius int     `json:"radius"`
	Cells  []*Cell `json:"cells"`
}

type pendingDoc struct {
	MarketBids  map[string]*MarketBid  `json:"market_bids,omitempty"`
	MarketSkips []string               `json:"market_skips,omitempty"`
	BuyQueues   map[string][]*BuyClaim `json:"buy_queues,omitempty"`
	BuyDone     []string               `json:"buy_done,omitempty"`
	PathReady   []string               `json:"path_ready,omitempty"`
	AutoReady   []string               `json:"auto_ready,omitempty"`
	Conflicts   []*Conflict            `json:"conflicts,omitempty"`
}

func (r *Room) put(key string, v any) {
	if r.store == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		r.log.Printf("marshal %s: %v", key, err)
		return
	}
	if err := r.store.PutState(r.cfg.ID, key, b); err != nil {
		r.log.Printf("statestore put %s: %v", key, err)
	}
}

func (r *Room) configDoc() configDoc {
	doc := configDoc{
		RoomID:         r.cfg.ID,
		RoundCount:     r.cfg.RoundCount,
		Phase:          r.phase,
		PhaseSeq:       r.phaseSeq,
		RoundIndex:     r.roundIndex,
		MarketDice:     append([]int(nil), r.marketDice...),
		MarketMinPrice: r.tun.MarketMinPrice,
		CreatedAt:      r.createdAt,
	}
	if !r.phaseEndsAt.IsZero() {
		doc.PhaseEndsAt = r.phaseEndsAt.UnixMilli()
	}
	return doc
}

func (r *Room) pendingDoc() pendingDoc {
	doc := pendingDoc{
		MarketSkips: sortedKeys(r.pending.marketSkip),
		BuyDone:     sortedKeys(r.pending.buyDone),
		PathReady:   sortedKeys(r.pending.pathReady),
		AutoReady:   sortedKeys(r.pending.autoReady),
	}
	if len(r.pending.marketBids) > 0 {
		doc.MarketBids = r.pending.marketBids
	}
	if len(r.pending.buyQueues) > 0 {
		doc.BuyQueues = r.pending.buyQueues
	}
	for _, cid := range r.confOrder {
		doc.Conflicts = append(doc.Conflicts, r.conflicts[cid])
	}
	return doc
}

func (r *Room) playersDoc() []*Player {
	out := make([]*Player, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.players[id])
	}
	return out
}

func (r *Room) pathsDoc() []*SubmittedPath {
	out := make([]*SubmittedPath, 0, len(r.paths))
	for _, id := range r.order {
		if sp := r.paths[id]; sp != nil {
			out = append(out, sp)
		}
	}
	return out
}

func (r *Room) saveConfig()  { r.put(statestore.KeyConfig, r.configDoc()) }
func (r *Room) savePlayers() { r.put(statestore.KeyPlayers, r.playersDoc()) }
func (r *Room) savePending() { r.put(statestore.KeyPending, r.pendingDoc()) }
func (r *Room) savePaths()   { r.put(statestore.KeyPaths, r.pathsDoc()) }

func (r *Room) saveGrid() {
	if r.grid == nil {
		return
	}
	r.put(statestore.KeyGrid, gridDoc{Radius: r.grid.Radius, Cells: r.grid.All()})
}

func (r *Room) saveWinner() {
	if r.winner == nil {
		return
	}
	r.put(statestore.KeyWinner, r.winner)
}

func (r *Room) persistAll() {
	r.saveConfig()
	r.savePlayers()
	r.saveGrid()
	r.savePending()
	r.savePaths()
}

// snapshotDoc is the full authoritative dump served by the admin endpoint.
func (r *Room) snapshotDoc() map[string]any {
	doc := map[string]any{
		"config":  r.configDoc(),
		"players": r.playersDoc(),
		"pending": r.pendingDoc(),
		"paths":   r.pathsDoc(),
	}
	if r.grid != nil {
		doc["grid"] = gridDoc{Radius: r.grid.Radius, Cells: r.grid.All()}
	}
	if r.winner != nil {
		doc["winner"] = r.winner
	}
	return doc
}
