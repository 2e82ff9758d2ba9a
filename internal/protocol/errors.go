package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// World routing.
	ErrWorldNotFound = "E_WORLD_NOT_FOUND"
	ErrWorldBusy     = "E_WORLD_BUSY"

	// Admission.
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrNoPermission = "E_NO_PERMISSION"
	ErrRateLimit    = "E_RATE_LIMIT"

	// Storage.
	ErrPersistence = "E_PERSISTENCE"
	ErrInternal    = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrWorldNotFound:   {},
	ErrWorldBusy:       {},
	ErrBadRequest:      {},
	ErrNoPermission:    {},
	ErrRateLimit:       {},
	ErrPersistence:     {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Codes lists every known code in a stable order.
func Codes() []string {
	return []string{
		ErrProtoBadRequest,
		ErrWorldNotFound,
		ErrWorldBusy,
		ErrBadRequest,
		ErrNoPermission,
		ErrRateLimit,
		ErrPersistence,
		ErrInternal,
	}
}
