package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/instance"
	pkgError "github.com/kinopsis/agensalud-mvp-sub003/pkg/error"
)

// SetWebhook points the gateway's event delivery for one instance at url.
func (c *Client) SetWebhook(ctx context.Context, name string, settings instance.WebhookSettings) error {
	payload := map[string]any{"webhook": webhookPayload(settings)}
	_, err := c.call(ctx, "SetWebhook", name, http.MethodPost, "/webhook/set/"+url.PathEscape(name), payload)
	return err
}

func webhookPayload(s instance.WebhookSettings) map[string]any {
	events := s.Events
	if events == nil {
		events = []string{}
	}
	out := map[string]any{
		"enabled":  true,
		"url":      s.URL,
		"byEvents": s.ByEvents,
		"base64":   s.Base64,
		"events":   events,
	}
	if len(s.Headers) > 0 {
		out["headers"] = s.Headers
	}
	return out
}

func asExternal(err error, target **pkgError.ExternalAPIError) bool {
	return err != nil && errors.As(err, target)
}
