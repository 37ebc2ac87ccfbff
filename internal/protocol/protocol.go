package protocol

import "encoding/json"

const Version = "1.0"

// Inbound message types (client -> room).
const (
	TypeJoin          = "join"
	TypeRejoin        = "rejoin"
	TypeStartGame     = "start_game"
	TypeBuyCell       = "buy_cell"
	TypeBuyCellCancel = "buy_cell_cancel"
	TypeBuyDone       = "buy_done"
	TypeMarketBid     = "market_bid"
	TypeMarketSkip    = "market_skip"
	TypeMarketRecycle = "market_recycle"
	TypeAuctionBid    = "auction_bid"
	TypePath          = "path"
	TypePathDone      = "path_done"
	TypeTick          = "tick"
)

// Outbound message types (room -> client).
const (
	TypeJoined      = "joined"
	TypeError       = "error"
	TypePathRevenue = "path_revenue"
	TypeState       = "state"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// IsInboundType reports whether t is a known client->room message type.
func IsInboundType(t string) bool {
	switch t {
	case TypeJoin, TypeRejoin, TypeStartGame,
		TypeBuyCell, TypeBuyCellCancel, TypeBuyDone,
		TypeMarketBid, TypeMarketSkip, TypeMarketRecycle,
		TypeAuctionBid, TypePath, TypePathDone, TypeTick:
		return true
	}
	return false
}
