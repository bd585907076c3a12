package message

import (
	"context"
	"time"

	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/instance"
)

// IncomingMessage is a normalized inbound chat message.
type IncomingMessage struct {
	TenantID    string         `json:"tenant_id"`
	InstanceID  string         `json:"instance_id"`
	MessageID   string         `json:"message_id"`
	ChatID      string         `json:"chat_id"`   // normalized JID
	SenderID    string         `json:"sender_id"` // phone / user part
	PushName    string         `json:"push_name,omitempty"`
	IsGroup     bool           `json:"is_group"`
	Text        string         `json:"text"`
	MessageType string         `json:"message_type"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ProcessResult is what the understanding layer reports back. It is logged;
// only Reply and the escalate intent have side effects here.
type ProcessResult struct {
	Intent      string   `json:"intent"`
	Confidence  float64  `json:"confidence"`
	NextActions []string `json:"next_actions,omitempty"`
	Reply       string   `json:"reply,omitempty"`
}

const IntentEscalate = "escalate"

// Interpreter is the external message-understanding collaborator.
type Interpreter interface {
	Interpret(ctx context.Context, msg IncomingMessage, cfg instance.AIConfig) (ProcessResult, error)
}

// AppointmentCounter reports booking activity attributed to an instance.
// Booking itself lives outside this subsystem.
type AppointmentCounter interface {
	CountAppointments(ctx context.Context, tenantID, instanceID string, since time.Time) (int64, error)
}
