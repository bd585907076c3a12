package audit

import (
	"context"
	"time"
)

type Action string

const (
	ActionCreated       Action = "instance.created"
	ActionUpdated       Action = "instance.updated"
	ActionDeleted       Action = "instance.deleted"
	ActionConnect       Action = "instance.connect"
	ActionConnectFailed Action = "instance.connect_failed"
	ActionDisconnect    Action = "instance.disconnect"
	ActionStatusChanged Action = "instance.status_changed"
	ActionQRRequested   Action = "instance.qr_requested"
)

// Entry is immutable once written.
type Entry struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	InstanceID string         `json:"instance_id"`
	Action     Action         `json:"action"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Store is append-only: there is deliberately no update or delete.
type Store interface {
	Append(ctx context.Context, entries ...Entry) error
	List(ctx context.Context, tenantID, instanceID string, limit int) ([]Entry, error)
}

// Logger records lifecycle activity.
type Logger interface {
	Log(ctx context.Context, entry Entry)
}
