package negotiation

import (
	"github.com/1ureka/tinywatch/internal/media"
	"github.com/1ureka/tinywatch/internal/state"
)

// State is the engine's position in the offer/answer exchange.
type State string

const (
	StateIdle                     State = "idle"
	StateLocalDescriptionPending  State = "local-description-pending"
	StateLocalDescriptionSet      State = "local-description-set"
	StateRemoteDescriptionPending State = "remote-description-pending"
	StateRemoteDescriptionSet     State = "remote-description-set"
	StateStable                   State = "stable"
	StateConnected                State = "connected"
	StateClosed                   State = "closed"
)

// Role selects which side of the exchange the engine plays.
type Role string

const (
	RoleCaller Role = "caller" // sends the offer
	RoleCallee Role = "callee" // answers it
)

// MapConnectionState folds the media layer's connection state into the
// user-facing status. "new" has no counterpart and reports ok == false.
func MapConnectionState(s media.ConnectionState) (status state.Status, ok bool) {
	switch s {
	case media.StateConnecting:
		return state.StatusConnecting, true
	case media.StateConnected:
		return state.StatusConnected, true
	case media.StateFailed:
		return state.StatusError, true
	case media.StateDisconnected, media.StateClosed:
		return state.StatusIdle, true
	}
	return "", false
}
