package instance

import "fmt"

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
	StatusSuspended    Status = "suspended"
	StatusMaintenance  Status = "maintenance"
)

// AllStatuses lists every valid status in a stable order.
var AllStatuses = []Status{
	StatusDisconnected,
	StatusConnecting,
	StatusConnected,
	StatusError,
	StatusSuspended,
	StatusMaintenance,
}

func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown status %q", v)
	}
	return s, nil
}

// transitions holds the allowed edges. Staying in the same status is always
// allowed and moving to error is allowed from anywhere.
var transitions = map[Status][]Status{
	StatusDisconnected: {StatusConnecting, StatusSuspended, StatusMaintenance},
	StatusConnecting:   {StatusConnected, StatusDisconnected},
	StatusConnected:    {StatusDisconnected, StatusSuspended, StatusMaintenance},
	StatusError:        {StatusConnecting, StatusDisconnected},
	StatusSuspended:    {StatusDisconnected, StatusMaintenance},
	StatusMaintenance:  {StatusDisconnected, StatusSuspended},
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to Status) bool {
	if !from.IsValid() || !to.IsValid() {
		return false
	}
	if from == to || to == StatusError {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PathTo returns the statuses to walk from -> to, inserting connecting when a
// remote confirmation arrives for an instance that never started connecting,
// and disconnected when a connected session starts over.
// It returns nil when no path exists.
func PathTo(from, to Status) []Status {
	if CanTransition(from, to) {
		return []Status{to}
	}
	if from == StatusConnected && to == StatusConnecting {
		return []Status{StatusDisconnected, StatusConnecting}
	}
	if to == StatusConnected && CanTransition(from, StatusConnecting) {
		return []Status{StatusConnecting, StatusConnected}
	}
	return nil
}

// IsAdministrative reports statuses set by operators rather than the gateway.
func (s Status) IsAdministrative() bool {
	return s == StatusSuspended || s == StatusMaintenance
}
