package instance

import (
	"context"
	"time"
)

// ChannelInstance is one tenant-owned connection to the messaging gateway.
type ChannelInstance struct {
	ID              string                `json:"id"`
	TenantID        string                `json:"tenant_id"`
	ChannelType     ChannelType           `json:"channel_type"`
	Name            string                `json:"name"`
	Status          Status                `json:"status"`
	Config          ChannelInstanceConfig `json:"config"`
	GatewayMetadata map[string]any        `json:"gateway_metadata,omitempty"`
	ErrorMessage    string                `json:"error_message,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

type ChannelType string

const (
	ChannelTypeWhatsApp ChannelType = "whatsapp"
)

// Gateway metadata keys written from adapter responses.
const (
	MetaRemoteInstanceID = "remote_instance_id"
	MetaRemoteStatus     = "remote_status"
	MetaIntegration      = "integration"
	MetaInstanceName     = "instance_name"
	MetaLastQRAt         = "last_qr_at"
)

// GatewayName is the name the instance is registered under at the gateway.
func (i *ChannelInstance) GatewayName() string {
	if wa := i.Config.ChannelSpecific.WhatsApp; wa != nil && wa.GatewayInstanceName != "" {
		return wa.GatewayInstanceName
	}
	return i.ID
}

// MergeMetadata copies non-empty values into GatewayMetadata.
func (i *ChannelInstance) MergeMetadata(values map[string]any) {
	if i.GatewayMetadata == nil {
		i.GatewayMetadata = make(map[string]any, len(values))
	}
	for k, v := range values {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		i.GatewayMetadata[k] = v
	}
}

// Repository persists instances. Every method is tenant scoped; an instance
// of another tenant is indistinguishable from a missing one.
type Repository interface {
	Create(ctx context.Context, inst *ChannelInstance) error
	Save(ctx context.Context, inst *ChannelInstance) error
	Get(ctx context.Context, tenantID, id string) (*ChannelInstance, error)
	GetByGatewayName(ctx context.Context, tenantID, name string) (*ChannelInstance, error)
	List(ctx context.Context, tenantID string, channelType ChannelType) ([]ChannelInstance, error)
	Delete(ctx context.Context, tenantID, id string) (bool, error)
}
