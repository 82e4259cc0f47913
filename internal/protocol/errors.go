package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Command layer.
	ErrBadRequest      = "E_BAD_REQUEST"
	ErrUnknownBuilding = "E_UNKNOWN_BUILDING"
	ErrInvalidTarget   = "E_INVALID_TARGET"
	ErrRateLimit       = "E_RATE_LIMIT"
	ErrBlocked         = "E_BLOCKED"
	ErrOutOfBounds     = "E_OUT_OF_BOUNDS"
	ErrStale           = "E_STALE"
	ErrInternal        = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrUnknownBuilding: {},
	ErrInvalidTarget:   {},
	ErrRateLimit:       {},
	ErrBlocked:         {},
	ErrOutOfBounds:     {},
	ErrStale:           {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
