package application

import (
	"context"
	"errors"
	"time"

	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/audit"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/conversation"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/instance"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/message"
	"github.com/kinopsis/agensalud-mvp-sub003/pkg/breaker"
	pkgError "github.com/kinopsis/agensalud-mvp-sub003/pkg/error"
)

// ChannelService owns the lifecycle of every instance of one channel type
// for one tenant. Status-mutating operations are serialized per instance.
type ChannelService interface {
	ChannelType() instance.ChannelType
	Create(ctx context.Context, tenantID string, req CreateRequest) (*instance.ChannelInstance, error)
	Update(ctx context.Context, tenantID, id string, req UpdateRequest) (*instance.ChannelInstance, error)
	Delete(ctx context.Context, tenantID, id string) error
	Connect(ctx context.Context, tenantID, id string) error
	Disconnect(ctx context.Context, tenantID, id string) error
	GetStatus(ctx context.Context, tenantID, id string) (instance.Status, error)
	GetQR(ctx context.Context, tenantID, id string) (QRResult, error)
	GetMetrics(ctx context.Context, tenantID, id string, period time.Duration) (Metrics, error)
	List(ctx context.Context, tenantID string) ([]instance.ChannelInstance, error)
	Get(ctx context.Context, tenantID, id string) (*instance.ChannelInstance, error)
	ApplyRemoteStatus(ctx context.Context, tenantID, id string, status instance.Status, detail string) error
	CacheQR(ctx context.Context, tenantID, id string, qr instance.QRCode)
	SendText(ctx context.Context, tenantID, id, to, text string) error
	Health(ctx context.Context, tenantID string) (HealthSummary, error)
	Watch(tenantID, id string) (<-chan struct{}, func())
}

type CreateRequest struct {
	Name   string                         `json:"name"`
	Config instance.ChannelInstanceConfig `json:"config"`
	// SkipConnection provisions the record without contacting the gateway.
	SkipConnection bool `json:"skipConnection"`
}

// UpdateRequest carries a rename and/or a JSON merge patch of the config.
type UpdateRequest struct {
	Name   *string        `json:"name,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

const (
	QRStatusConnected = "connected"
	QRStatusLoading   = "loading"
	QRStatusReady     = "qr"
)

type QRResult struct {
	Status string           `json:"status"`
	QR     *instance.QRCode `json:"qr,omitempty"`
}

type Metrics struct {
	InstanceID    string               `json:"instance_id"`
	ChannelType   instance.ChannelType `json:"channel_type"`
	Status        instance.Status      `json:"status"`
	Period        string               `json:"period"`
	Since         time.Time            `json:"since"`
	Conversations conversation.Stats   `json:"conversations"`
	Appointments  int64                `json:"appointments"`
}

type InstanceHealth struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Status       instance.Status   `json:"status"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Breaker      *breaker.Snapshot `json:"breaker,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
	LastUpdate   string            `json:"last_update"`
}

type HealthSummary struct {
	ChannelType instance.ChannelType    `json:"channel_type"`
	Total       int                     `json:"total"`
	ByStatus    map[instance.Status]int `json:"by_status"`
	Healthy     bool                    `json:"healthy"`
	Instances   []InstanceHealth        `json:"instances"`
}

// Notifier pushes lifecycle changes to live subscribers.
type Notifier interface {
	StatusChanged(inst instance.ChannelInstance, from instance.Status)
	QRUpdated(tenantID, instanceID string, qr instance.QRCode)
	Deleted(tenantID, instanceID string)
}

type NopNotifier struct{}

func (NopNotifier) StatusChanged(instance.ChannelInstance, instance.Status) {}
func (NopNotifier) QRUpdated(string, string, instance.QRCode) {}
func (NopNotifier) Deleted(string, string) {}

// Dependencies are shared by every service the manager builds.
type Dependencies struct {
	Repository    instance.Repository
	Gateway       instance.Gateway
	Breakers      *breaker.Registry
	Cancellations *CancellationHub
	Audit         audit.Logger
	Conversations conversation.Repository
	Appointments  message.AppointmentCounter
	Notifier      Notifier
	// WebhookBaseURL is the public base the gateway posts events to. Empty
	// leaves webhook registration to the operator.
	WebhookBaseURL string
	Now            func() time.Time
}

// ServiceConstructor builds the service of one channel type for one tenant.
type ServiceConstructor func(tenantID string, deps Dependencies) (ChannelService, error)

// IsInfrastructureFailure decides what counts against a circuit breaker.
// Answers that prove the gateway is healthy (not found, already connected)
// and caller-side problems do not.
func IsInfrastructureFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch {
	case pkgError.IsNotFound(err), pkgError.IsConflict(err), pkgError.IsValidation(err), pkgError.IsCircuitOpen(err):
		return false
	}
	return true
}
