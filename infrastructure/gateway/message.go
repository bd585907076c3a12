package gateway

import (
	"context"
	"net/http"
	"net/url"

	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/instance"
	"github.com/tidwall/gjson"
)

// SendText delivers a plain text message. to is a phone number or JID.
func (c *Client) SendText(ctx context.Context, name, to, text string) (instance.SentMessage, error) {
	payload := map[string]any{
		"number": to,
		"text":   text,
	}
	raw, err := c.call(ctx, "SendText", name, http.MethodPost, "/message/sendText/"+url.PathEscape(name), payload)
	if err != nil {
		return instance.SentMessage{}, err
	}
	res := gjson.ParseBytes(raw)
	return instance.SentMessage{
		ID:        firstString(res, "key.id", "id", "messageId"),
		RemoteJID: firstString(res, "key.remoteJid", "remoteJid"),
		Status:    firstString(res, "status"),
	}, nil
}
