package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrRateLimit       = "E_RATE_LIMIT"
	ErrNoPermission    = "E_NO_PERMISSION"

	// Engine failure families.
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrNotFound     = "E_NOT_FOUND"
	ErrInvalidState = "E_INVALID_STATE"
	ErrPrecondition = "E_PRECONDITION"
	ErrLedger       = "E_LEDGER"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrRateLimit:       {},
	ErrNoPermission:    {},
	ErrBadRequest:      {},
	ErrNotFound:        {},
	ErrInvalidState:    {},
	ErrPrecondition:    {},
	ErrLedger:          {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
