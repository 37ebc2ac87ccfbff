package room

import (
	"math/rand"
	"sort"
	"time"

	"hexmarket.gg/internal/game/hexgrid"
)

// Phase names as they appear on the wire and in storage.
const (
	PhaseLobby      = "lobby"
	PhaseRoundStart = "round_start"
	PhaseMarket     = "market_phase"
	PhaseBuy        = "buy_phase"
	PhaseAuction    = "auction"
	PhasePath       = "path_phase"
	PhaseRoundEnd   = "round_end"
	PhaseEnded      = "ended"
)

type Player struct {
	ID    string `json:"player_id"`
	Name  string `json:"name"`
	Color string `json:"color"`
	Money int    `json:"money"`
	Dice  []int  `json:"dice"`

	// PendingRevenue is this round's computed path revenue, paid out at
	// the next round_start and zeroed there.
	PendingRevenue int `json:"pending_revenue"`

	JoinedAt time.Time `json:"joined_at"`
}

func (p *Player) hasDie(face int) bool {
	for _, d := range p.Dice {
		if d == face {
			return true
		}
	}
	return false
}

// removeDie removes one die of the given face. Reports whether one was held.
func (p *Player) removeDie(face int) bool {
	for i, d := range p.Dice {
		if d == face {
			p.Dice = append(p.Dice[:i], p.Dice[i+1:]...)
			return true
		}
	}
	return false
}

func rollDice(rng *rand.Rand, n int) []int {
	dice := make([]int, n)
	for i := range dice {
		dice[i] = 1 + rng.Intn(6)
	}
	return dice
}

// Owner is one ownership record on a cell. Records accumulate for the
// life of the room; aging decays cell values, never ownership.
type Owner struct {
	PlayerID string `json:"player_id"`
	Role     string `json:"role"`
	Price    int    `json:"price,omitempty"`
	Round    int    `json:"round,omitempty"`
}

type Cell struct {
	hexgrid.Cell
	Owners []Owner `json:"owners,omitempty"`
}

func (c *Cell) hasOwner(playerID, role string) bool {
	for _, o := range c.Owners {
		if o.PlayerID == playerID && o.Role == role {
			return true
		}
	}
	return false
}

// ownedByOther reports whether any owner record belongs to a different
// player. Co-owned cells count even when playerID is among the owners.
func (c *Cell) ownedByOther(playerID string) bool {
	for _, o := range c.Owners {
		if o.PlayerID != playerID {
			return true
		}
	}
	return false
}

// Grid is the room's board: a hex-shaped region keyed by the canonical
// "q,r" cell id, with a fixed iteration order for determinism.
type Grid struct {
	Radius int
	cells  map[string]*Cell
	order  []string
}

func newGrid(radius int, base []hexgrid.Cell) *Grid {
	g := &Grid{
		Radius: radius,
		cells:  make(map[string]*Cell, len(base)),
		order:  make([]string, 0, len(base)),
	}
	for _, bc := range base {
		g.cells[bc.ID] = &Cell{Cell: bc}
		g.order = append(g.order, bc.ID)
	}
	return g
}

func (g *Grid) Cell(id string) *Cell {
	if g == nil {
		return nil
	}
	return g.cells[id]
}

// All returns every cell in the grid's canonical order.
func (g *Grid) All() []*Cell {
	out := make([]*Cell, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.cells[id])
	}
	return out
}

// Conflict is a contested resource (cell or market die) escalated to the
// blind-auction sub-phase. Bids are private until resolution.
type Conflict struct {
	ID        string            `json:"conflict_id"`
	Kind      string            `json:"kind"` // "cell" or "market"
	CellID    string            `json:"cell_id,omitempty"`
	DieIndex  int               `json:"die_index,omitempty"`
	Roles     map[string]string `json:"roles,omitempty"` // player -> declared role (cell kind)
	PlayerIDs []string          `json:"player_ids"`

	Bids map[string]*AuctionBid `json:"bids,omitempty"`
}

type AuctionBid struct {
	Amount int `json:"amount"`
	Seq    int `json:"seq"`
}

// SubmittedPath is a player's trade route for the current round.
// Resubmission overwrites; the ledger is cleared at round_end.
type SubmittedPath struct {
	PlayerID   string          `json:"player_id"`
	ProducerID string          `json:"producer_id"`
	SellerID   string          `json:"seller_id"`
	Cells      []hexgrid.Coord `json:"cells"`
	Revenue    int             `json:"revenue"`
	Round      int             `json:"round"`
}

type MarketBid struct {
	DieIndex int `json:"die_index"`
	Amount   int `json:"amount"`
	Seq      int `json:"seq"`
}

type BuyClaim struct {
	CellID string `json:"cell_id"`
	Role   string `json:"role"`
	Seq    int    `json:"seq"`
}

// pendingState is the phase's ballot box: every in-flight intent keyed by
// player, gathered until the phase resolves. Cleared at phase boundaries.
type pendingState struct {
	seq int

	marketBids map[string]*MarketBid
	marketSkip map[string]bool

	buyQueues map[string][]*BuyClaim
	buyDone   map[string]bool

	pathReady map[string]bool
	autoReady map[string]bool
}

func newPending() pendingState {
	return pendingState{
		marketBids: make(map[string]*MarketBid),
		marketSkip: make(map[string]bool),
		buyQueues:  make(map[string][]*BuyClaim),
		buyDone:    make(map[string]bool),
		pathReady:  make(map[string]bool),
		autoReady:  make(map[string]bool),
	}
}

func (p *pendingState) nextSeq() int {
	p.seq++
	return p.seq
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
