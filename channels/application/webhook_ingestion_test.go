package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/conversation"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/instance"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/message"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/webhook"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/repository"
	pkgError "github.com/kinopsis/agensalud-mvp-sub003/pkg/error"
	"github.com/kinopsis/agensalud-mvp-sub003/pkg/msgworker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newIngestor(h *harness, interp message.Interpreter, opts ...IngestorOption) *WebhookIngestor {
	resolver := resolverFunc(func(_ context.Context, _ instance.ChannelType, tenantID string) (ChannelService, error) {
		if tenantID != testTenant {
			return nil, pkgError.NotFoundf("tenant %s", tenantID)
		}
		return h.svc, nil
	})
	processor := NewMessageProcessor(h.deps.Conversations, interp)
	return NewWebhookIngestor(resolver, h.deps.Repository, repository.NewMemoryDedupStore(time.Hour), processor, opts...)
}

func TestIngest_TwoStepConnection(t *testing.T) {
	h := newHarness(t)
	inst, err := h.svc.Create(context.Background(), testTenant, validRequest("Front desk"))
	require.NoError(t, err)
	require.Equal(t, instance.StatusConnecting, inst.Status)

	w := newIngestor(h, nil)
	res, err := w.Ingest(context.Background(), Delivery{
		TenantID:    testTenant,
		InstanceRef: inst.ID,
		Body:        []byte(`{"event":"connection.update","instance":"x","data":{"state":"open","statusReason":200}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, webhook.EventConnectionUpdate, res.Event)
	assert.Equal(t, instance.StatusConnected, res.Status)

	stored, err := h.svc.Get(context.Background(), testTenant, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.StatusConnected, stored.Status)
}

func TestIngest_ResolvesByGatewayName(t *testing.T) {
	h := newHarness(t)
	req := validRequest("Front desk")
	req.Config.ChannelSpecific.WhatsApp.GatewayInstanceName = "clinic1-front"
	inst, err := h.svc.Create(context.Background(), testTenant, req)
	require.NoError(t, err)

	w := newIngestor(h, nil)
	res, err := w.Ingest(context.Background(), Delivery{
		TenantID:    testTenant,
		InstanceRef: "clinic1-front",
		Body:        []byte(`{"event":"CONNECTION_UPDATE","data":{"connection":"close"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, inst.ID, res.InstanceID)
	assert.Equal(t, instance.StatusDisconnected, res.Status)

	_, err = w.Ingest(context.Background(), Delivery{TenantID: testTenant, InstanceRef: "nope", Body: []byte(`{"event":"x"}`)})
	assert.True(t, pkgError.IsNotFound(err))
}

func TestIngest_RejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	req := validRequest("Front desk")
	req.Config.Webhook.Secret = "s3cret"
	inst, err := h.svc.Create(context.Background(), testTenant, req)
	require.NoError(t, err)

	w := newIngestor(h, nil)
	body := []byte(`{"event":"connection.update","data":{"state":"open"}}`)

	_, err = w.Ingest(context.Background(), Delivery{TenantID: testTenant, InstanceRef: inst.ID, Body: body})
	assert.True(t, pkgError.IsUnauthorized(err))
	_, err = w.Ingest(context.Background(), Delivery{TenantID: testTenant, InstanceRef: inst.ID, Body: body, Signature: Sign("other", body)})
	assert.True(t, pkgError.IsUnauthorized(err))

	res, err := w.Ingest(context.Background(), Delivery{TenantID: testTenant, InstanceRef: inst.ID, Body: body, Signature: Sign("s3cret", body)})
	require.NoError(t, err)
	assert.Equal(t, instance.StatusConnected, res.Status)
}

func TestIngest_DuplicateDeliveryAppliedOnce(t *testing.T) {
	h := newHarness(t)
	inst, err := h.svc.Create(context.Background(), testTenant, validRequest("Front desk"))
	require.NoError(t, err)
	require.NoError(t, h.svc.ApplyRemoteStatus(context.Background(), testTenant, inst.ID, instance.StatusConnected, "open"))

	w := newIngestor(h, stubInterpreter{result: message.ProcessResult{Intent: "greeting"}})
	body := []byte(`{"event":"messages.upsert","data":{"key":{"id":"3EB0A1","remoteJid":"573001112233@s.whatsapp.net","fromMe":false},"pushName":"Ana","message":{"conversation":"hola"},"messageTimestamp":1772463600}}`)
	d := Delivery{TenantID: testTenant, InstanceRef: inst.ID, Body: body}

	first, err := w.Ingest(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Messages)
	assert.Equal(t, "3EB0A1", first.EventID)

	second, err := w.Ingest(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)

	rec, err := h.deps.Conversations.Get(context.Background(), conversation.Key{
		TenantID: testTenant, InstanceID: inst.ID, RemoteJID: "573001112233@s.whatsapp.net",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, rec.MessageCount)
	assert.Equal(t, "Ana", rec.ContactName)
}

func TestIngest_FailedDeliveryIsAppliedOnRetry(t *testing.T) {
	h := newHarness(t)
	inst, err := h.svc.Create(context.Background(), testTenant, validRequest("Front desk"))
	require.NoError(t, err)
	require.Equal(t, instance.StatusConnecting, inst.Status)

	calls := 0
	resolver := resolverFunc(func(context.Context, instance.ChannelType, string) (ChannelService, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient failure")
		}
		return h.svc, nil
	})
	w := NewWebhookIngestor(resolver, h.deps.Repository, repository.NewMemoryDedupStore(time.Hour), nil)
	d := Delivery{
		TenantID:    testTenant,
		InstanceRef: inst.ID,
		Body:        []byte(`{"event":"connection.update","id":"evt-1","data":{"state":"open"}}`),
	}

	_, err = w.Ingest(context.Background(), d)
	require.Error(t, err)

	retry, err := w.Ingest(context.Background(), d)
	require.NoError(t, err)
	assert.False(t, retry.Duplicate)
	assert.Equal(t, instance.StatusConnected, retry.Status)

	again, err := w.Ingest(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)

	stored, err := h.svc.Get(context.Background(), testTenant, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.StatusConnected, stored.Status)
}

func TestIngest_SameIDAcrossEventTypes(t *testing.T) {
	h := newHarness(t)
	inst, err := h.svc.Create(context.Background(), testTenant, validRequest("Front desk"))
	require.NoError(t, err)
	require.NoError(t, h.svc.ApplyRemoteStatus(context.Background(), testTenant, inst.ID, instance.StatusConnected, "open"))

	w := newIngestor(h, stubInterpreter{result: message.ProcessResult{Intent: "greeting"}})
	upsert := []byte(`{"event":"messages.upsert","data":{"key":{"id":"3EB0B2","remoteJid":"573001112233@s.whatsapp.net","fromMe":false},"message":{"conversation":"hola"}}}`)
	ack := []byte(`{"event":"send.message","data":{"key":{"id":"3EB0B2","remoteJid":"573001112233@s.whatsapp.net","fromMe":true}}}`)

	first, err := w.Ingest(context.Background(), Delivery{TenantID: testTenant, InstanceRef: inst.ID, Body: ack})
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := w.Ingest(context.Background(), Delivery{TenantID: testTenant, InstanceRef: inst.ID, Body: upsert})
	require.NoError(t, err)
	assert.False(t, second.Duplicate)
	assert.Equal(t, 1, second.Messages)
}

func TestIngest_OperatorStatusIsHeld(t *testing.T) {
	h := newHarness(t)
	req := validRequest("Front desk")
	req.SkipConnection = true
	inst, err := h.svc.Create(context.Background(), testTenant, req)
	require.NoError(t, err)
	require.NoError(t, h.svc.ApplyRemoteStatus(context.Background(), testTenant, inst.ID, instance.StatusSuspended, "unpaid"))

	w := newIngestor(h, nil)
	for _, body := range []string{
		`{"event":"connection.update","data":{"state":"close"}}`,
		`{"event":"qrcode.updated","data":{"qrcode":{"base64":"data:image/png;base64,EEEE"}}}`,
		`{"event":"logout.instance","data":{}}`,
	} {
		res, err := w.Ingest(context.Background(), Delivery{TenantID: testTenant, InstanceRef: inst.ID, Body: []byte(body)})
		require.NoError(t, err)
		assert.True(t, res.Ignored, body)
	}

	stored, err := h.svc.Get(context.Background(), testTenant, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.StatusSuspended, stored.Status)
	assert.Equal(t, 0, h.notifier.qrs)

	// Operators can still release the instance.
	require.NoError(t, h.svc.ApplyRemoteStatus(context.Background(), testTenant, inst.ID, instance.StatusDisconnected, "paid"))
}

func TestIngest_MessagesSkipOwnAndNormalizeGroups(t *testing.T) {
	h := newHarness(t)
	inst, err := h.svc.Create(context.Background(), testTenant, validRequest("Front desk"))
	require.NoError(t, err)

	w := newIngestor(h, nil)
	body := []byte(`{"event":"messages.upsert","data":[
		{"key":{"id":"A1","remoteJid":"573001112233@s.whatsapp.net","fromMe":true},"message":{"conversation":"mine"}},
		{"key":{"id":"A2","remoteJid":"120363025246125486@g.us","participant":"573009998877@s.whatsapp.net"},"message":{"extendedTextMessage":{"text":"hi all"}}},
		{"key":{"id":"A3"},"message":{"conversation":"no jid"}}
	]}`)
	res, err := w.Ingest(context.Background(), Delivery{TenantID: testTenant, InstanceRef: inst.ID, Body: body})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Messages)

	rec, err := h.deps.Conversations.Get(context.Background(), conversation.Key{
		TenantID: testTenant, InstanceID: inst.ID, RemoteJID: "120363025246125486@g.us",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, rec.MessageCount)
}

func TestToIncoming(t *testing.T) {
	inst := &instance.ChannelInstance{ID: "i1", TenantID: testTenant}
	body := `{"key":{"id":"B1","remoteJid":"120363025246125486@g.us","participant":"573009998877@s.whatsapp.net"},"pushName":"Luis","message":{"imageMessage":{"caption":"receta"}},"messageType":"imageMessage","messageTimestamp":1772463600}`
	msg, ok := toIncoming(inst, gjson.Parse(body))
	require.True(t, ok)
	assert.True(t, msg.IsGroup)
	assert.Equal(t, "573009998877", msg.SenderID)
	assert.Equal(t, "120363025246125486@g.us", msg.ChatID)
	assert.Equal(t, "receta", msg.Text)
	assert.Equal(t, "imageMessage", msg.MessageType)
	assert.Equal(t, time.Unix(1772463600, 0).UTC(), msg.Timestamp)
}

func TestIngest_QRUpdatedIsCached(t *testing.T) {
	h := newHarness(t)
	req := validRequest("Front desk")
	req.SkipConnection = true
	inst, err := h.svc.Create(context.Background(), testTenant, req)
	require.NoError(t, err)

	w := newIngestor(h, nil)
	res, err := w.Ingest(context.Background(), Delivery{
		TenantID:    testTenant,
		InstanceRef: inst.ID,
		Body:        []byte(`{"event":"qrcode.updated","data":{"qrcode":{"base64":"data:image/png;base64,EEEE","pairingCode":"ABCD1234"}}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, instance.StatusConnecting, res.Status)
	assert.Equal(t, 1, h.notifier.qrs)

	qr, err := h.svc.GetQR(context.Background(), testTenant, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, QRStatusReady, qr.Status)
	assert.Equal(t, "data:image/png;base64,EEEE", qr.QR.Image)
	assert.Equal(t, 0, h.gw.count("qr"))
}

func TestIngest_IgnoredEvents(t *testing.T) {
	h := newHarness(t)
	req := validRequest("Front desk")
	req.SkipConnection = true
	inst, err := h.svc.Create(context.Background(), testTenant, req)
	require.NoError(t, err)
	require.NoError(t, h.svc.ApplyRemoteStatus(context.Background(), testTenant, inst.ID, instance.StatusMaintenance, "window"))

	w := newIngestor(h, nil)
	cases := map[string]string{
		"unknown event":          `{"event":"presence.update","data":{}}`,
		"send ack":               `{"event":"send.message","data":{"key":{"id":"Z1"}}}`,
		"refused by state":       `{"event":"connection.update","data":{"state":"open"}}`,
		"connection without key": `{"event":"connection.update","data":{}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := w.Ingest(context.Background(), Delivery{TenantID: testTenant, InstanceRef: inst.ID, Body: []byte(body)})
			require.NoError(t, err)
			assert.True(t, res.Ignored)
		})
	}

	stored, err := h.svc.Get(context.Background(), testTenant, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.StatusMaintenance, stored.Status)

	_, err = w.Ingest(context.Background(), Delivery{TenantID: testTenant, InstanceRef: inst.ID, Body: []byte(`not json`)})
	assert.True(t, pkgError.IsValidation(err))
}

func TestIngest_LogoutDisconnects(t *testing.T) {
	h := newHarness(t)
	inst, err := h.svc.Create(context.Background(), testTenant, validRequest("Front desk"))
	require.NoError(t, err)

	w := newIngestor(h, nil)
	res, err := w.Ingest(context.Background(), Delivery{TenantID: testTenant, InstanceRef: inst.ID, Body: []byte(`{"event":"LOGOUT_INSTANCE","data":{}}`)})
	require.NoError(t, err)
	assert.Equal(t, instance.StatusDisconnected, res.Status)
}

func TestIngest_UsesWorkerPool(t *testing.T) {
	h := newHarness(t)
	inst, err := h.svc.Create(context.Background(), testTenant, validRequest("Front desk"))
	require.NoError(t, err)

	pool := msgworker.New(2, 8)
	pool.Start(context.Background())
	w := newIngestor(h, nil, WithWorkerPool(pool))

	body := []byte(`{"event":"messages.upsert","data":{"messages":[
		{"key":{"id":"P1","remoteJid":"573001112233@s.whatsapp.net"},"message":{"conversation":"uno"}},
		{"key":{"id":"P2","remoteJid":"573001112233@s.whatsapp.net"},"message":{"conversation":"dos"}}
	]}}`)
	res, err := w.Ingest(context.Background(), Delivery{TenantID: testTenant, InstanceRef: inst.ID, Body: body})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Messages)
	pool.Stop()

	rec, err := h.deps.Conversations.Get(context.Background(), conversation.Key{
		TenantID: testTenant, InstanceID: inst.ID, RemoteJID: "573001112233@s.whatsapp.net",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, rec.MessageCount)
}

func TestSignature(t *testing.T) {
	body := []byte(`{"event":"x"}`)
	sig := Sign("k", body)
	assert.True(t, ValidSignature("k", body, sig))
	assert.True(t, ValidSignature("k", body, " "+sig+" "))
	assert.False(t, ValidSignature("k", []byte(`{"event":"y"}`), sig))
	assert.Len(t, sig, len("sha256=")+64)
}
