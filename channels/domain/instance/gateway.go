package instance

import "context"

// Gateway is the port to the external messaging gateway. Implementations
// return normalized payloads or typed errors from pkg/error
// (NotFoundError, AlreadyConnectedError, TimeoutError, ExternalAPIError)
// and never touch persisted state.
type Gateway interface {
	CreateInstance(ctx context.Context, req RemoteCreateRequest) (RemoteInstance, error)
	ConnectInstance(ctx context.Context, name string) (QRCode, error)
	FetchStatus(ctx context.Context, name string) (RemoteStatus, error)
	FetchQR(ctx context.Context, name string) (QRCode, error)
	Logout(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	DeleteInstance(ctx context.Context, name string) error
	SetWebhook(ctx context.Context, name string, settings WebhookSettings) error
	SendText(ctx context.Context, name, to, text string) (SentMessage, error)
}

type RemoteCreateRequest struct {
	InstanceName string
	PhoneNumber  string
	Integration  string
	Token        string
	BusinessID   string
	RejectCalls  bool
	Webhook      WebhookSettings
}

type RemoteInstance struct {
	InstanceName string
	InstanceID   string
	State        string
	Integration  string
	QR           QRCode
}

// Metadata is what the service persists into GatewayMetadata.
func (r RemoteInstance) Metadata() map[string]any {
	return map[string]any{
		MetaRemoteInstanceID: r.InstanceID,
		MetaRemoteStatus:     r.State,
		MetaIntegration:      r.Integration,
		MetaInstanceName:     r.InstanceName,
	}
}

type RemoteStatus struct {
	State  string // raw gateway vocabulary
	Status Status // mapped
}

// QRCode is the canonical pairing material. Image is always a
// "data:image/png;base64,..." URI when present.
type QRCode struct {
	Connected   bool   `json:"connected,omitempty"`
	Image       string `json:"image,omitempty"`
	PairingCode string `json:"pairing_code,omitempty"`
	Count       int    `json:"count,omitempty"`
}

func (q QRCode) Empty() bool {
	return !q.Connected && q.Image == "" && q.PairingCode == ""
}

type WebhookSettings struct {
	URL      string
	Events   []string
	ByEvents bool
	Base64   bool
	Headers  map[string]string
}

type SentMessage struct {
	ID        string
	RemoteJID string
	Status    string
}
