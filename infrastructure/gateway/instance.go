package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/instance"
	pkgError "github.com/kinopsis/agensalud-mvp-sub003/pkg/error"
	"github.com/tidwall/gjson"
)

var _ instance.Gateway = (*Client)(nil)

func (c *Client) CreateInstance(ctx context.Context, req instance.RemoteCreateRequest) (instance.RemoteInstance, error) {
	payload := map[string]any{
		"instanceName": req.InstanceName,
		"qrcode":       true,
		"integration":  req.Integration,
		"rejectCall":   req.RejectCalls,
	}
	if req.Token != "" {
		payload["token"] = req.Token
	}
	if req.PhoneNumber != "" {
		payload["number"] = strings.TrimPrefix(req.PhoneNumber, "+")
	}
	if req.BusinessID != "" {
		payload["businessId"] = req.BusinessID
	}
	if req.Webhook.URL != "" {
		payload["webhook"] = webhookPayload(req.Webhook)
	}

	raw, err := c.call(ctx, "CreateInstance", req.InstanceName, http.MethodPost, "/instance/create", payload)
	if err != nil {
		return instance.RemoteInstance{}, err
	}
	return parseRemoteInstance(raw, req.InstanceName)
}

func parseRemoteInstance(raw []byte, fallbackName string) (instance.RemoteInstance, error) {
	res := gjson.ParseBytes(raw)
	out := instance.RemoteInstance{
		InstanceName: firstString(res, "instance.instanceName", "instanceName", "name"),
		InstanceID:   firstString(res, "instance.instanceId", "instance.id", "instanceId", "id", "hash.apikey", "hash"),
		State:        firstString(res, "instance.status", "instance.state", "status", "state"),
		Integration:  firstString(res, "instance.integration", "integration.integration", "integration"),
	}
	if out.InstanceName == "" {
		out.InstanceName = fallbackName
	}
	if qr := res.Get("qrcode"); qr.Exists() {
		parsed, err := qrFromResult(qr)
		if err != nil {
			return out, err
		}
		out.QR = parsed
	}
	return out, nil
}

func (c *Client) ConnectInstance(ctx context.Context, name string) (instance.QRCode, error) {
	raw, err := c.call(ctx, "ConnectInstance", name, http.MethodGet, "/instance/connect/"+url.PathEscape(name), nil)
	if err != nil {
		return instance.QRCode{}, err
	}
	return ParseQR(raw)
}

func (c *Client) FetchStatus(ctx context.Context, name string) (instance.RemoteStatus, error) {
	raw, err := c.call(ctx, "FetchStatus", name, http.MethodGet, "/instance/connectionState/"+url.PathEscape(name), nil)
	if err != nil {
		return instance.RemoteStatus{}, err
	}
	state := firstString(gjson.ParseBytes(raw), "instance.state", "state", "instance.status", "status")
	return instance.RemoteStatus{State: state, Status: instance.FromRemoteState(state)}, nil
}

// FetchQR reads the current pairing material. The gateway only serves it
// from the connect endpoint.
func (c *Client) FetchQR(ctx context.Context, name string) (instance.QRCode, error) {
	raw, err := c.call(ctx, "FetchQR", name, http.MethodGet, "/instance/connect/"+url.PathEscape(name), nil)
	if err != nil {
		if pkgError.IsAlreadyConnected(err) {
			return instance.QRCode{Connected: true}, nil
		}
		return instance.QRCode{}, err
	}
	return ParseQR(raw)
}

// Logout treats "not connected" answers as done.
func (c *Client) Logout(ctx context.Context, name string) error {
	_, err := c.call(ctx, "Logout", name, http.MethodDelete, "/instance/logout/"+url.PathEscape(name), nil)
	var apiErr *pkgError.ExternalAPIError
	if asExternal(err, &apiErr) && apiErr.Upstream == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(apiErr.Body), "not connected") {
		return nil
	}
	return err
}

func (c *Client) Restart(ctx context.Context, name string) error {
	_, err := c.call(ctx, "Restart", name, http.MethodPost, "/instance/restart/"+url.PathEscape(name), nil)
	return err
}

func (c *Client) DeleteInstance(ctx context.Context, name string) error {
	_, err := c.call(ctx, "DeleteInstance", name, http.MethodDelete, "/instance/delete/"+url.PathEscape(name), nil)
	return err
}
