package application

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/common"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/instance"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/message"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/webhook"
	"github.com/kinopsis/agensalud-mvp-sub003/infrastructure/gateway"
	pkgError "github.com/kinopsis/agensalud-mvp-sub003/pkg/error"
	"github.com/kinopsis/agensalud-mvp-sub003/pkg/msgworker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"go.mau.fi/whatsmeow/types"
)

var webhookEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Inbound gateway webhook events by normalized type and outcome.",
	},
	[]string{"event", "outcome"},
)

func init() {
	prometheus.MustRegister(webhookEvents)
}

// ServiceResolver returns the channel service of a type for a tenant.
type ServiceResolver interface {
	Service(ctx context.Context, channelType instance.ChannelType, tenantID string) (ChannelService, error)
}

// Delivery is one raw webhook request.
type Delivery struct {
	TenantID string
	// InstanceRef is the instance id, or the name it is registered under at the gateway.
	InstanceRef string
	Body        []byte
	Signature   string // X-Signature-256
	EventID     string // X-Event-Id
}

type IngestResult struct {
	Event      webhook.EventType `json:"event"`
	InstanceID string            `json:"instance_id"`
	EventID    string            `json:"event_id,omitempty"`
	Duplicate  bool              `json:"duplicate"`
	Ignored    bool              `json:"ignored"`
	Status     instance.Status   `json:"status,omitempty"`
	Messages   int               `json:"messages,omitempty"`
}

// WebhookIngestor normalizes gateway events and applies them.
type WebhookIngestor struct {
	services     ServiceResolver
	repo         instance.Repository
	dedup        webhook.DedupStore
	processor    *MessageProcessor
	pool         *msgworker.Pool
	globalSecret string
}

type IngestorOption func(*WebhookIngestor)

// WithWorkerPool hands message processing to pool; without it messages are
// processed inline.
func WithWorkerPool(pool *msgworker.Pool) IngestorOption {
	return func(w *WebhookIngestor) { w.pool = pool }
}

// WithGlobalSecret sets the HMAC secret used for instances without their own.
func WithGlobalSecret(secret string) IngestorOption {
	return func(w *WebhookIngestor) { w.globalSecret = secret }
}

func NewWebhookIngestor(services ServiceResolver, repo instance.Repository, dedup webhook.DedupStore, processor *MessageProcessor, opts ...IngestorOption) *WebhookIngestor {
	w := &WebhookIngestor{
		services:  services,
		repo:      repo,
		dedup:     dedup,
		processor: processor,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *WebhookIngestor) Ingest(ctx context.Context, d Delivery) (res IngestResult, err error) {
	defer func() {
		outcome := "applied"
		switch {
		case err != nil:
			outcome = "error"
		case res.Duplicate:
			outcome = "duplicate"
		case res.Ignored:
			outcome = "ignored"
		}
		webhookEvents.WithLabelValues(string(res.Event), outcome).Inc()
	}()
	res.Event = webhook.EventUnknown

	var evt webhook.Event
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		return res, pkgError.NewValidationError("body", "must be a JSON webhook event")
	}
	res.Event = webhook.NormalizeEventName(evt.Event)

	inst, err := w.resolve(ctx, d.TenantID, d.InstanceRef)
	if err != nil {
		return res, err
	}
	res.InstanceID = inst.ID

	if err := w.verify(inst, d.Body, d.Signature); err != nil {
		return res, err
	}

	log := logrus.WithFields(logrus.Fields{
		"tenant_id":   inst.TenantID,
		"instance_id": inst.ID,
		"event":       res.Event,
	})

	res.EventID = eventID(evt, d.EventID)
	if res.EventID != "" && w.dedup != nil {
		key := webhook.DedupKey(res.Event, res.EventID)
		seen, dErr := w.dedup.Seen(ctx, inst.ID, key)
		if dErr != nil {
			log.WithError(dErr).Warn("[WEBHOOK] Dedup store unavailable, processing anyway")
		} else if seen {
			log.WithField("event_id", res.EventID).Debug("[WEBHOOK] Duplicate delivery ignored")
			res.Duplicate = true
			return res, nil
		} else {
			// Only applied events count as seen; a failed one must be retried.
			defer func() {
				if err == nil {
					return
				}
				if rErr := w.dedup.Release(context.WithoutCancel(ctx), inst.ID, key); rErr != nil {
					log.WithError(rErr).Warn("[WEBHOOK] Could not release event id after failure")
				}
			}()
		}
	}

	svc, err := w.services.Service(ctx, inst.ChannelType, inst.TenantID)
	if err != nil {
		return res, err
	}

	data := gjson.ParseBytes(evt.Data)
	switch res.Event {
	case webhook.EventConnectionUpdate:
		return w.connectionUpdate(ctx, svc, inst, data, res, log)
	case webhook.EventQRCodeUpdated:
		return w.qrUpdated(ctx, svc, inst, evt.Data, res, log)
	case webhook.EventMessagesUpsert:
		res.Messages = w.messages(ctx, svc, inst, data, log)
		return res, nil
	case webhook.EventLogout:
		return w.apply(ctx, svc, inst, instance.StatusDisconnected, "gateway logout", res, log)
	case webhook.EventSendMessage:
		log.WithField("message_id", data.Get("key.id").String()).Debug("[WEBHOOK] Outbound message acknowledged")
		res.Ignored = true
		return res, nil
	default:
		log.WithField("raw_event", evt.Event).Info("[WEBHOOK] Unknown event acknowledged")
		res.Ignored = true
		return res, nil
	}
}

// resolve finds the instance by id, then by gateway name, inside the tenant.
func (w *WebhookIngestor) resolve(ctx context.Context, tenantID, ref string) (*instance.ChannelInstance, error) {
	inst, err := w.repo.Get(ctx, tenantID, ref)
	if err == nil {
		return inst, nil
	}
	if !errors.Is(err, common.ErrInstanceNotFound) {
		return nil, err
	}
	inst, err = w.repo.GetByGatewayName(ctx, tenantID, ref)
	if err != nil {
		if errors.Is(err, common.ErrInstanceNotFound) {
			return nil, pkgError.NotFoundf("channel instance %s not found", ref)
		}
		return nil, err
	}
	return inst, nil
}

// verify checks "sha256=<hex>" against the instance secret, or the global
// one. Without any secret configured unsigned deliveries are accepted.
func (w *WebhookIngestor) verify(inst *instance.ChannelInstance, body []byte, signature string) error {
	secret := inst.Config.Webhook.Secret
	if secret == "" {
		secret = w.globalSecret
	}
	if secret == "" {
		return nil
	}
	if signature == "" {
		return pkgError.UnauthorizedError("missing webhook signature")
	}
	if !ValidSignature(secret, body, signature) {
		return pkgError.UnauthorizedError("invalid webhook signature")
	}
	return nil
}

// Sign returns the X-Signature-256 value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func ValidSignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(strings.TrimSpace(signature)))
}

func eventID(evt webhook.Event, header string) string {
	data := gjson.ParseBytes(evt.Data)
	for _, p := range []string{"key.id", "id"} {
		if v := data.Get(p); v.Exists() && v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	if evt.EventID != "" {
		return evt.EventID
	}
	return strings.TrimSpace(header)
}

func (w *WebhookIngestor) connectionUpdate(ctx context.Context, svc ChannelService, inst *instance.ChannelInstance, data gjson.Result, res IngestResult, log *logrus.Entry) (IngestResult, error) {
	state := data.Get("state").String()
	if state == "" {
		state = data.Get("connection").String()
	}
	if state == "" {
		res.Ignored = true
		return res, nil
	}
	detail := "gateway state " + state
	if reason := data.Get("statusReason"); reason.Exists() {
		detail = fmt.Sprintf("%s (reason %s)", detail, reason.String())
	}
	return w.apply(ctx, svc, inst, instance.FromRemoteState(state), detail, res, log)
}

// apply sets a gateway-reported status. Suspended and maintenance belong to
// operators, so the gateway cannot move an instance out of them. Edges the
// state machine refuses are acknowledged and ignored as well.
func (w *WebhookIngestor) apply(ctx context.Context, svc ChannelService, inst *instance.ChannelInstance, status instance.Status, detail string, res IngestResult, log *logrus.Entry) (IngestResult, error) {
	if inst.Status.IsAdministrative() {
		log.WithField("status", inst.Status).Info("[WEBHOOK] Instance held by operator, gateway status ignored")
		res.Ignored = true
		return res, nil
	}
	if err := svc.ApplyRemoteStatus(ctx, inst.TenantID, inst.ID, status, detail); err != nil {
		if pkgError.IsConflict(err) {
			log.WithError(err).Info("[WEBHOOK] Status change not applicable, ignored")
			res.Ignored = true
			return res, nil
		}
		return res, err
	}
	res.Status = status
	return res, nil
}

func (w *WebhookIngestor) qrUpdated(ctx context.Context, svc ChannelService, inst *instance.ChannelInstance, raw json.RawMessage, res IngestResult, log *logrus.Entry) (IngestResult, error) {
	qr, err := gateway.ParseQR(raw)
	if err != nil {
		return res, pkgError.NewValidationError("data", err.Error())
	}
	if qr.Empty() {
		res.Ignored = true
		return res, nil
	}
	if inst.Status != instance.StatusConnecting {
		if res, err = w.apply(ctx, svc, inst, instance.StatusConnecting, "qr code updated", res, log); err != nil || res.Ignored {
			return res, err
		}
	}
	svc.CacheQR(ctx, inst.TenantID, inst.ID, qr)
	res.Status = instance.StatusConnecting
	return res, nil
}

// messages hands every inbound message to the processor and returns how
// many were accepted.
func (w *WebhookIngestor) messages(ctx context.Context, svc ChannelService, inst *instance.ChannelInstance, data gjson.Result, log *logrus.Entry) int {
	var items []gjson.Result
	switch {
	case data.IsArray():
		items = data.Array()
	case data.Get("messages").IsArray():
		items = data.Get("messages").Array()
	default:
		items = []gjson.Result{data}
	}

	accepted := 0
	for _, item := range items {
		msg, ok := toIncoming(inst, item)
		if !ok {
			continue
		}
		accepted++
		w.dispatch(ctx, svc, msg, log)
	}
	return accepted
}

func (w *WebhookIngestor) dispatch(ctx context.Context, svc ChannelService, msg message.IncomingMessage, log *logrus.Entry) {
	if w.processor == nil {
		return
	}
	handler := func(ctx context.Context) error {
		done, release := svc.Watch(msg.TenantID, msg.InstanceID)
		defer release()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-done:
				cancel()
			case <-ctx.Done():
			}
		}()
		_, err := w.processor.Process(ctx, svc, msg)
		return err
	}

	job := msgworker.Job{TenantID: msg.TenantID, InstanceID: msg.InstanceID, ChatID: msg.ChatID, Handler: handler}
	if w.pool != nil && w.pool.TryDispatch(job) {
		return
	}
	// No room in the pool: process inline so the message is not lost.
	if err := handler(context.WithoutCancel(ctx)); err != nil {
		log.WithError(err).WithField("message_id", msg.MessageID).Error("[WEBHOOK] Inline message processing failed")
	}
}

func toIncoming(inst *instance.ChannelInstance, item gjson.Result) (message.IncomingMessage, bool) {
	if item.Get("key.fromMe").Bool() {
		return message.IncomingMessage{}, false
	}
	remote := item.Get("key.remoteJid").String()
	if remote == "" {
		return message.IncomingMessage{}, false
	}
	jid, err := types.ParseJID(remote)
	if err != nil {
		logrus.WithError(err).WithField("remote_jid", remote).Warn("[WEBHOOK] Unparseable remote JID")
		return message.IncomingMessage{}, false
	}

	msg := message.IncomingMessage{
		TenantID:    inst.TenantID,
		InstanceID:  inst.ID,
		MessageID:   item.Get("key.id").String(),
		ChatID:      jid.String(),
		SenderID:    jid.User,
		PushName:    item.Get("pushName").String(),
		IsGroup:     jid.Server == types.GroupServer,
		Text:        messageText(item.Get("message")),
		MessageType: item.Get("messageType").String(),
	}
	if msg.IsGroup {
		if participant, err := types.ParseJID(item.Get("key.participant").String()); err == nil {
			msg.SenderID = participant.User
		}
	}
	if ts := item.Get("messageTimestamp").Int(); ts > 0 {
		msg.Timestamp = time.Unix(ts, 0).UTC()
	}
	if msg.MessageType == "" {
		msg.MessageType = "unknown"
	}
	return msg, true
}

func messageText(m gjson.Result) string {
	for _, p := range []string{
		"conversation",
		"extendedTextMessage.text",
		"imageMessage.caption",
		"videoMessage.caption",
		"buttonsResponseMessage.selectedDisplayText",
		"listResponseMessage.title",
	} {
		if v := m.Get(p).String(); v != "" {
			return v
		}
	}
	return ""
}
