package instance

import "strings"

// FromRemoteState maps the gateway's connection state vocabulary.
// Unknown states map to error so they are never silently treated as healthy.
func FromRemoteState(state string) Status {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "open", "connected", "online":
		return StatusConnected
	case "connecting", "pairing", "qrcode":
		return StatusConnecting
	case "close", "closed", "disconnected", "logout", "offline":
		return StatusDisconnected
	default:
		return StatusError
	}
}
