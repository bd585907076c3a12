package webhook

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// EventType is the normalized event vocabulary.
type EventType string

const (
	EventConnectionUpdate EventType = "connection_update"
	EventQRCodeUpdated    EventType = "qrcode_updated"
	EventMessagesUpsert   EventType = "messages_upsert"
	EventSendMessage      EventType = "send_message"
	EventLogout           EventType = "logout_instance"
	EventUnknown          EventType = "unknown"
)

// NormalizeEventName folds the gateway dialects ("connection.update",
// "CONNECTION_UPDATE", "connection-update") into one EventType.
func NormalizeEventName(name string) EventType {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer(".", "_", "-", "_").Replace(key)
	switch EventType(key) {
	case EventConnectionUpdate, EventQRCodeUpdated, EventMessagesUpsert, EventSendMessage, EventLogout:
		return EventType(key)
	}
	return EventUnknown
}

// Event is one inbound gateway delivery.
type Event struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
	DateTime string          `json:"date_time,omitempty"`
	Sender   string          `json:"sender,omitempty"`
	// EventID is the dedup id when the gateway supplies one (body or header).
	EventID string `json:"id,omitempty"`
}

// OccurredAt parses DateTime, falling back to now.
func (e Event) OccurredAt(now time.Time) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, e.DateTime); err == nil {
			return t
		}
	}
	return now
}

// DedupStore remembers (instance, event id) pairs. Seen reports true when
// the pair was already recorded, otherwise it records it. Release forgets a
// pair whose processing failed so a redelivery is applied.
type DedupStore interface {
	Seen(ctx context.Context, instanceID, eventID string) (bool, error)
	Release(ctx context.Context, instanceID, eventID string) error
}

// DedupKey scopes an event id by its normalized type, so different events
// carrying the same message id do not suppress each other.
func DedupKey(event EventType, eventID string) string {
	return string(event) + ":" + eventID
}
