package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Session/room membership.
	ErrBadPhase    = "E_BAD_PHASE"
	ErrNotInRoom   = "E_NOT_IN_ROOM"
	ErrRoomFull    = "E_ROOM_FULL"
	ErrGameRunning = "E_GAME_RUNNING"
	ErrNeedPlayers = "E_NEED_PLAYERS"

	// Rule/action layer.
	ErrBadRequest      = "E_BAD_REQUEST"
	ErrNoDie           = "E_NO_DIE"
	ErrNoMoney         = "E_NO_MONEY"
	ErrMinPrice        = "E_MIN_PRICE"
	ErrAlreadyBid      = "E_ALREADY_BID"
	ErrAlreadyQueued   = "E_ALREADY_QUEUED"
	ErrAlreadyOwned    = "E_ALREADY_OWNED"
	ErrInvalidTarget   = "E_INVALID_TARGET"
	ErrInvalidPath     = "E_INVALID_PATH"
	ErrNotYours        = "E_NOT_YOURS"
	ErrConflictUnknown = "E_CONFLICT_UNKNOWN"
	ErrInternal        = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadPhase:        {},
	ErrNotInRoom:       {},
	ErrRoomFull:        {},
	ErrGameRunning:     {},
	ErrNeedPlayers:     {},
	ErrBadRequest:      {},
	ErrNoDie:           {},
	ErrNoMoney:         {},
	ErrMinPrice:        {},
	ErrAlreadyBid:      {},
	ErrAlreadyQueued:   {},
	ErrAlreadyOwned:    {},
	ErrInvalidTarget:   {},
	ErrInvalidPath:     {},
	ErrNotYours:        {},
	ErrConflictUnknown: {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
