package conversation

import (
	"context"
	"time"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusResolved  Status = "resolved"
	StatusEscalated Status = "escalated"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusResolved, StatusEscalated:
		return true
	}
	return false
}

// Record tracks one remote conversation of an instance. Records are never
// deleted; they are soft-closed through Status.
type Record struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	InstanceID    string    `json:"instance_id"`
	RemoteJID     string    `json:"remote_jid"`
	ContactName   string    `json:"contact_name,omitempty"`
	Status        Status    `json:"status"`
	MessageCount  int64     `json:"message_count"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Key struct {
	TenantID   string
	InstanceID string
	RemoteJID  string
}

// Stats aggregates conversations of one instance over a period.
type Stats struct {
	Total       int64            `json:"total"`
	ByStatus    map[Status]int64 `json:"by_status"`
	Messages    int64            `json:"messages"`
	NewInPeriod int64            `json:"new_in_period"`
}

type Repository interface {
	// Touch creates the record on first message or increments its counter,
	// reopening resolved conversations.
	Touch(ctx context.Context, key Key, contactName string, at time.Time) (*Record, error)
	Get(ctx context.Context, key Key) (*Record, error)
	SetStatus(ctx context.Context, key Key, status Status) error
	Stats(ctx context.Context, tenantID, instanceID string, since time.Time) (Stats, error)
}
