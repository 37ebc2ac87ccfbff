package protocol

// Ownership roles as they appear on the wire.
const (
	RoleProducer = "producer"
	RoleSeller   = "seller"
)

// Conflict kinds.
const (
	ConflictCell   = "cell"
	ConflictMarket = "market"
)

// ---- client -> room ----

type JoinMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerName      string `json:"player_name"`
}

type RejoinMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerID        string `json:"player_id"`
	PlayerName      string `json:"player_name,omitempty"`
}

type StartGameMsg struct {
	Type string `json:"type"`
}

type BuyCellMsg struct {
	Type   string `json:"type"`
	CellID string `json:"cell_id"`
	Role   string `json:"role"`
}

type BuyCellCancelMsg struct {
	Type   string `json:"type"`
	CellID string `json:"cell_id"`
}

type BuyDoneMsg struct {
	Type string `json:"type"`
}

type MarketBidMsg struct {
	Type     string `json:"type"`
	DieIndex int    `json:"die_index"`
	Amount   int    `json:"amount"`
}

type MarketSkipMsg struct {
	Type string `json:"type"`
}

// MarketRecycleMsg discards one die from the sender's own hand for a
// flat payment. DieIndex addresses the sender's dice, not the market.
type MarketRecycleMsg struct {
	Type     string `json:"type"`
	DieIndex int    `json:"die_index"`
}

type AuctionBidMsg struct {
	Type       string `json:"type"`
	ConflictID string `json:"conflict_id"`
	Amount     int    `json:"amount"`
}

// PathMsg submits a trade route. Path entries are [q, r] axial pairs;
// the first must be the producer cell, the last the seller cell.
type PathMsg struct {
	Type       string   `json:"type"`
	ProducerID string   `json:"producer_id"`
	SellerID   string   `json:"seller_id"`
	Path       [][2]int `json:"path"`
}

type PathDoneMsg struct {
	Type string `json:"type"`
}

// TickMsg asks the room to check its phase deadline. Idempotent.
type TickMsg struct {
	Type string `json:"type"`
}

// ---- room -> client ----

type JoinedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RoomID          string `json:"room_id"`
	PlayerID        string `json:"player_id"`
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type PathRevenueMsg struct {
	Type    string `json:"type"`
	Revenue int    `json:"revenue"`
}

// StateMsg is the authoritative broadcast sent to every connection after
// any mutation. Everything in it is shared knowledge except You, which
// carries the receiving player's private pending submissions.
type StateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RoomID          string `json:"room_id"`

	Phase       string `json:"phase"`
	RoundIndex  int    `json:"round_index"`
	RoundCount  int    `json:"round_count"`
	PhaseEndsAt int64  `json:"phase_ends_at,omitempty"` // unix ms, 0 when untimed
	Now         int64  `json:"now"`                     // unix ms, for client countdowns

	MarketDice     []int `json:"market_dice"`
	MarketMinPrice int   `json:"market_min_price"`

	Players []PlayerState `json:"players"`
	Grid    GridState     `json:"grid"`

	PendingBuys    []PendingBuy    `json:"pending_buys,omitempty"`
	Conflicts      []ConflictState `json:"conflicts,omitempty"`
	PathsSubmitted []string        `json:"paths_submitted,omitempty"`
	Ready          []string        `json:"ready,omitempty"`

	You    *YouState    `json:"you,omitempty"`
	Winner *WinnerState `json:"winner,omitempty"`
}

type PlayerState struct {
	PlayerID  string `json:"player_id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	Money     int    `json:"money"`
	Dice      []int  `json:"dice"`
	Connected bool   `json:"connected"`
}

type GridState struct {
	Radius int         `json:"radius"`
	Cells  []CellState `json:"cells"`
}

type CellState struct {
	ID        string       `json:"id"`
	Q         int          `json:"q"`
	R         int          `json:"r"`
	DiceValue int          `json:"dice_value"`
	Producer  int          `json:"producer"`
	Seller    int          `json:"seller"`
	Blocked   bool         `json:"blocked"`
	Owners    []OwnerState `json:"owners,omitempty"`
}

type OwnerState struct {
	PlayerID string `json:"player_id"`
	Role     string `json:"role"`
}

// PendingBuy is public: queued buys are open information, unlike bids.
type PendingBuy struct {
	PlayerID string `json:"player_id"`
	CellID   string `json:"cell_id"`
	Role     string `json:"role"`
}

// ConflictState exposes a conflict's membership, never its bids.
type ConflictState struct {
	ConflictID string   `json:"conflict_id"`
	Kind       string   `json:"kind"` // "cell" or "market"
	CellID     string   `json:"cell_id,omitempty"`
	DieIndex   *int     `json:"die_index,omitempty"`
	PlayerIDs  []string `json:"player_ids"`
}

// YouState is the personalized section of a state broadcast.
type YouState struct {
	PlayerID      string          `json:"player_id"`
	MarketBid     *MarketBidState `json:"market_bid,omitempty"`
	MarketSkipped bool            `json:"market_skipped,omitempty"`
	AuctionBids   map[string]int  `json:"auction_bids,omitempty"` // conflict_id -> amount
	Path          *PathState      `json:"path,omitempty"`
	BuyDone       bool            `json:"buy_done,omitempty"`
	PathReady     bool            `json:"path_ready,omitempty"`
	AutoReady     bool            `json:"auto_ready,omitempty"`
}

type MarketBidState struct {
	DieIndex int `json:"die_index"`
	Amount   int `json:"amount"`
}

type PathState struct {
	ProducerID string   `json:"producer_id"`
	SellerID   string   `json:"seller_id"`
	Path       [][2]int `json:"path"`
	Revenue    int      `json:"revenue"`
}

type WinnerState struct {
	PlayerID   string `json:"player_id"`
	Name       string `json:"name"`
	Money      int    `json:"money"`
	CellsOwned int    `json:"cells_owned"`
}
