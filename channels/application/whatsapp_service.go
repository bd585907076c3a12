package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/audit"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/common"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/instance"
	"github.com/kinopsis/agensalud-mvp-sub003/pkg/breaker"
	pkgError "github.com/kinopsis/agensalud-mvp-sub003/pkg/error"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// qrTTL bounds how long pairing material pushed by the gateway is served
// without asking again.
const qrTTL = 30 * time.Second

type cachedQR struct {
	qr instance.QRCode
	at time.Time
}

// WhatsAppService is the ChannelService of the WhatsApp channel for one tenant.
type WhatsAppService struct {
	tenantID  string
	deps      Dependencies
	validator instance.ConfigValidator
	locks     *keyedLocker
	now       func() time.Time

	qrMu sync.Mutex
	qrs  map[string]cachedQR
}

var _ ChannelService = (*WhatsAppService)(nil)

// NewWhatsAppService is the ServiceConstructor registered for WhatsApp.
func NewWhatsAppService(tenantID string, deps Dependencies) (ChannelService, error) {
	if tenantID == "" {
		return nil, pkgError.NewValidationError("tenant_id", "cannot be blank")
	}
	if deps.Repository == nil || deps.Gateway == nil || deps.Breakers == nil {
		return nil, errors.New("whatsapp service requires a repository, a gateway and a breaker registry")
	}
	if deps.Cancellations == nil {
		deps.Cancellations = NewCancellationHub()
	}
	if deps.Audit == nil {
		deps.Audit = LogOnlyAuditLogger{}
	}
	if deps.Notifier == nil {
		deps.Notifier = NopNotifier{}
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &WhatsAppService{
		tenantID:  tenantID,
		deps:      deps,
		validator: instance.WhatsAppValidator{},
		locks:     newKeyedLocker(),
		now:       now,
		qrs:       make(map[string]cachedQR),
	}, nil
}

func (s *WhatsAppService) ChannelType() instance.ChannelType {
	return instance.ChannelTypeWhatsApp
}

// scope rejects calls for another tenant the same way a missing instance is rejected.
func (s *WhatsAppService) scope(tenantID, id string) error {
	if tenantID != s.tenantID {
		return pkgError.NotFoundf("channel instance %s not found", id)
	}
	return nil
}

func (s *WhatsAppService) log(inst *instance.ChannelInstance) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"tenant_id":    inst.TenantID,
		"instance_id":  inst.ID,
		"channel_type": inst.ChannelType,
	})
}

func (s *WhatsAppService) span(ctx context.Context, op, id string) (context.Context, trace.Span) {
	return otel.Tracer("channels/WhatsAppService").Start(ctx, op,
		trace.WithAttributes(
			attribute.String("tenant.id", s.tenantID),
			attribute.String("instance.id", id),
		),
	)
}

func (s *WhatsAppService) breakerKey(id string) breaker.Key {
	return breaker.Key{TenantID: s.tenantID, ChannelType: string(instance.ChannelTypeWhatsApp), InstanceID: id}
}

// guard runs one gateway call behind the instance's breaker.
func (s *WhatsAppService) guard(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	return s.deps.Breakers.Execute(ctx, s.breakerKey(id), fn)
}

func (s *WhatsAppService) load(ctx context.Context, id string) (*instance.ChannelInstance, error) {
	inst, err := s.deps.Repository.Get(ctx, s.tenantID, id)
	if err != nil {
		if errors.Is(err, common.ErrInstanceNotFound) {
			return nil, pkgError.NotFoundf("channel instance %s not found", id)
		}
		return nil, fmt.Errorf("load instance %s: %w", id, err)
	}
	if inst.ChannelType != instance.ChannelTypeWhatsApp {
		return nil, pkgError.NotFoundf("channel instance %s not found", id)
	}
	return inst, nil
}

func (s *WhatsAppService) audit(ctx context.Context, inst *instance.ChannelInstance, action audit.Action, details map[string]any) {
	s.deps.Audit.Log(ctx, audit.Entry{
		ID:         uuid.NewString(),
		TenantID:   inst.TenantID,
		InstanceID: inst.ID,
		Action:     action,
		Details:    details,
		Timestamp:  s.now(),
	})
}

// moveTo walks inst to status along allowed edges, persists and notifies.
// Every intermediate step is audited.
func (s *WhatsAppService) moveTo(ctx context.Context, inst *instance.ChannelInstance, to instance.Status, reason string) error {
	path := instance.PathTo(inst.Status, to)
	if path == nil {
		return pkgError.ConflictError(fmt.Sprintf("invalid status transition %s -> %s", inst.Status, to))
	}
	original := inst.Status
	steps := make([]map[string]any, 0, len(path))
	for _, next := range path {
		if next != inst.Status {
			steps = append(steps, map[string]any{"from": string(inst.Status), "to": string(next), "reason": reason})
		}
		inst.Status = next
	}
	inst.UpdatedAt = s.now()
	if err := s.deps.Repository.Save(ctx, inst); err != nil {
		return fmt.Errorf("save instance %s: %w", inst.ID, err)
	}
	for _, step := range steps {
		s.audit(ctx, inst, audit.ActionStatusChanged, step)
	}
	if original != inst.Status {
		s.log(inst).Infof("[CHANNEL] Status %s -> %s (%s)", original, inst.Status, reason)
		s.deps.Notifier.StatusChanged(*inst, original)
	}
	return nil
}

// fail records err on the instance and moves it to error. The original
// error is what the caller sees.
func (s *WhatsAppService) fail(ctx context.Context, inst *instance.ChannelInstance, action audit.Action, err error) {
	inst.ErrorMessage = err.Error()
	if mErr := s.moveTo(ctx, inst, instance.StatusError, string(action)); mErr != nil {
		s.log(inst).WithError(mErr).Error("[CHANNEL] Failed to persist error status")
	}
	s.audit(ctx, inst, action, map[string]any{"error": err.Error()})
}

func (s *WhatsAppService) Create(ctx context.Context, tenantID string, req CreateRequest) (*instance.ChannelInstance, error) {
	if err := s.scope(tenantID, ""); err != nil {
		return nil, err
	}
	ctx, span := s.span(ctx, "WhatsAppService.Create", "")
	defer span.End()

	cfg := req.Config.WithDefaults()
	name := strings.TrimSpace(req.Name)
	if err := s.validate(name, cfg); err != nil {
		return nil, err
	}

	now := s.now()
	inst := &instance.ChannelInstance{
		ID:          uuid.NewString(),
		TenantID:    s.tenantID,
		ChannelType: instance.ChannelTypeWhatsApp,
		Name:        name,
		Status:      instance.StatusConnecting,
		Config:      cfg,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.SkipConnection {
		inst.Status = instance.StatusDisconnected
	}
	span.SetAttributes(attribute.String("instance.id", inst.ID))

	if err := s.deps.Repository.Create(ctx, inst); err != nil {
		if errors.Is(err, common.ErrDuplicateInstance) {
			return nil, pkgError.ConflictError(fmt.Sprintf("gateway instance name %q is already registered", inst.GatewayName()))
		}
		return nil, fmt.Errorf("create instance: %w", err)
	}
	s.audit(ctx, inst, audit.ActionCreated, map[string]any{
		"name":            inst.Name,
		"status":          string(inst.Status),
		"skip_connection": req.SkipConnection,
	})
	s.log(inst).Infof("[CHANNEL] Instance %q created", inst.Name)

	if req.SkipConnection {
		return inst, nil
	}

	unlock := s.locks.Lock(inst.ID)
	defer unlock()
	if err := s.connectLocked(ctx, inst); err != nil {
		// The record stays so the caller can retry the connection later.
		s.log(inst).WithError(err).Warn("[CHANNEL] Initial connection failed")
	}
	return inst, nil
}

// validate reports the name and every config violation together.
func (s *WhatsAppService) validate(name string, cfg instance.ChannelInstanceConfig) error {
	violations := map[string]string{}
	if err := s.validator.Validate(cfg); err != nil {
		var verr *pkgError.ValidationError
		if !errors.As(err, &verr) {
			return err
		}
		for k, v := range verr.Violations {
			violations["config."+k] = v
		}
	}
	if name == "" {
		violations["name"] = "cannot be blank"
	}
	if len(violations) > 0 {
		return &pkgError.ValidationError{Violations: violations}
	}
	return nil
}

func (s *WhatsAppService) Update(ctx context.Context, tenantID, id string, req UpdateRequest) (*instance.ChannelInstance, error) {
	if err := s.scope(tenantID, id); err != nil {
		return nil, err
	}
	ctx, span := s.span(ctx, "WhatsAppService.Update", id)
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	inst, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	name := inst.Name
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
	}
	cfg := inst.Config
	if len(req.Config) > 0 {
		cfg, err = inst.Config.MergePatch(req.Config)
		if err != nil {
			return nil, pkgError.NewValidationError("config", err.Error())
		}
		cfg = cfg.WithDefaults()
	}
	if err := s.validate(name, cfg); err != nil {
		return nil, err
	}

	inst.Name = name
	inst.Config = cfg
	inst.UpdatedAt = s.now()
	if err := s.deps.Repository.Save(ctx, inst); err != nil {
		if errors.Is(err, common.ErrDuplicateInstance) {
			return nil, pkgError.ConflictError(fmt.Sprintf("gateway instance name %q is already registered", inst.GatewayName()))
		}
		return nil, fmt.Errorf("save instance %s: %w", id, err)
	}
	fields := make([]string, 0, len(req.Config)+1)
	for k := range req.Config {
		fields = append(fields, "config."+k)
	}
	if req.Name != nil {
		fields = append(fields, "name")
	}
	s.audit(ctx, inst, audit.ActionUpdated, map[string]any{"fields": fields})

	// A live session picks up new settings only through a reconnect.
	if inst.Status == instance.StatusConnected {
		if err := s.disconnectLocked(ctx, inst); err != nil {
			s.log(inst).WithError(err).Warn("[CHANNEL] Disconnect before reconnect failed")
		}
		if err := s.connectLocked(ctx, inst); err != nil {
			s.log(inst).WithError(err).Warn("[CHANNEL] Reconnect after update failed")
		}
	}
	return inst, nil
}

func (s *WhatsAppService) Delete(ctx context.Context, tenantID, id string) error {
	if err := s.scope(tenantID, id); err != nil {
		return nil
	}
	ctx, span := s.span(ctx, "WhatsAppService.Delete", id)
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	inst, err := s.load(ctx, id)
	if err != nil {
		if pkgError.IsNotFound(err) {
			return nil
		}
		return err
	}

	name := inst.GatewayName()
	if inst.Status != instance.StatusDisconnected {
		if err := s.guard(ctx, id, func(ctx context.Context) error { return s.deps.Gateway.Logout(ctx, name) }); err != nil && !pkgError.IsNotFound(err) {
			s.log(inst).WithError(err).Warn("[CHANNEL] Logout during delete failed, continuing")
		}
	}
	if err := s.guard(ctx, id, func(ctx context.Context) error { return s.deps.Gateway.DeleteInstance(ctx, name) }); err != nil && !pkgError.IsNotFound(err) {
		s.log(inst).WithError(err).Warn("[CHANNEL] Remote delete failed, continuing")
	}

	cancelled := s.deps.Cancellations.Cancel(inst.TenantID, inst.ID)
	s.deps.Notifier.Deleted(inst.TenantID, inst.ID)

	if _, err := s.deps.Repository.Delete(ctx, s.tenantID, id); err != nil {
		return fmt.Errorf("delete instance %s: %w", id, err)
	}
	s.deps.Breakers.Remove(s.breakerKey(id))
	s.forgetQR(id)
	s.audit(ctx, inst, audit.ActionDeleted, map[string]any{
		"name":              inst.Name,
		"last_status":       string(inst.Status),
		"cancelled_watches": cancelled,
	})
	s.log(inst).Infof("[CHANNEL] Instance %q deleted", inst.Name)
	return nil
}

func (s *WhatsAppService) Connect(ctx context.Context, tenantID, id string) error {
	if err := s.scope(tenantID, id); err != nil {
		return err
	}
	ctx, span := s.span(ctx, "WhatsAppService.Connect", id)
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	inst, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.connectLocked(ctx, inst); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// connectLocked registers (or resumes) the session at the gateway. Caller
// holds the instance lock.
func (s *WhatsAppService) connectLocked(ctx context.Context, inst *instance.ChannelInstance) error {
	if instance.PathTo(inst.Status, instance.StatusConnecting) == nil {
		return pkgError.ConflictError(fmt.Sprintf("instance is %s and cannot be connected", inst.Status))
	}

	name := inst.GatewayName()
	resumed := false
	var remote instance.RemoteInstance
	err := s.guard(ctx, inst.ID, func(ctx context.Context) error {
		r, err := s.deps.Gateway.CreateInstance(ctx, s.createRequest(inst))
		if err == nil {
			remote = r
			return nil
		}
		if !pkgError.IsAlreadyConnected(err) {
			return err
		}
		// The name is already registered remotely: resume that session.
		resumed = true
		qr, err := s.deps.Gateway.ConnectInstance(ctx, name)
		if err != nil {
			return err
		}
		remote = instance.RemoteInstance{InstanceName: name, QR: qr}
		return nil
	})

	switch {
	case err == nil:
	case pkgError.IsAlreadyConnected(err):
		return s.confirmAlreadyConnected(ctx, inst)
	default:
		s.fail(ctx, inst, audit.ActionConnectFailed, err)
		return err
	}

	if resumed {
		s.registerWebhook(ctx, inst)
	}

	inst.MergeMetadata(remote.Metadata())
	inst.ErrorMessage = ""
	target := instance.StatusConnecting
	if remote.QR.Connected || instance.FromRemoteState(remote.State) == instance.StatusConnected {
		target = instance.StatusConnected
	}
	if !remote.QR.Empty() && !remote.QR.Connected {
		s.storeQR(inst.ID, remote.QR)
		s.deps.Notifier.QRUpdated(inst.TenantID, inst.ID, remote.QR)
	}
	if err := s.moveTo(ctx, inst, target, "connect"); err != nil {
		return err
	}
	s.audit(ctx, inst, audit.ActionConnect, map[string]any{
		"status":             string(inst.Status),
		"resumed":            resumed,
		"remote_instance_id": remote.InstanceID,
	})
	return nil
}

// confirmAlreadyConnected handles a gateway that reports a live session:
// not a failure, but the real state is asked for before trusting it.
func (s *WhatsAppService) confirmAlreadyConnected(ctx context.Context, inst *instance.ChannelInstance) error {
	target := instance.StatusConnecting
	var remote instance.RemoteStatus
	err := s.guard(ctx, inst.ID, func(ctx context.Context) error {
		var err error
		remote, err = s.deps.Gateway.FetchStatus(ctx, inst.GatewayName())
		return err
	})
	if err != nil {
		s.log(inst).WithError(err).Warn("[CHANNEL] Could not confirm already connected session")
	} else if remote.Status == instance.StatusConnected {
		target = instance.StatusConnected
	}

	inst.ErrorMessage = ""
	inst.MergeMetadata(map[string]any{instance.MetaRemoteStatus: remote.State})
	if err := s.moveTo(ctx, inst, target, "already connected"); err != nil {
		return err
	}
	s.audit(ctx, inst, audit.ActionConnect, map[string]any{
		"status": string(inst.Status),
		"note":   "already connected",
	})
	return nil
}

func (s *WhatsAppService) createRequest(inst *instance.ChannelInstance) instance.RemoteCreateRequest {
	req := instance.RemoteCreateRequest{
		InstanceName: inst.GatewayName(),
		Integration:  instance.IntegrationBaileys,
		Webhook:      s.webhookSettings(inst),
	}
	if wa := inst.Config.ChannelSpecific.WhatsApp; wa != nil {
		req.PhoneNumber = wa.PhoneNumber
		req.Token = wa.GatewayToken
		req.BusinessID = wa.BusinessID
		req.RejectCalls = wa.RejectCalls
		if wa.Integration != "" {
			req.Integration = wa.Integration
		}
	}
	return req
}

func (s *WhatsAppService) webhookSettings(inst *instance.ChannelInstance) instance.WebhookSettings {
	url := inst.Config.Webhook.URL
	if url == "" && s.deps.WebhookBaseURL != "" {
		url = strings.TrimRight(s.deps.WebhookBaseURL, "/") + "/webhooks/" + inst.TenantID + "/" + inst.ID
	}
	if url == "" {
		return instance.WebhookSettings{}
	}
	events := inst.Config.Webhook.Events
	if len(events) == 0 {
		for _, e := range instance.KnownWebhookEvents {
			events = append(events, e.(string))
		}
	}
	return instance.WebhookSettings{URL: url, Events: events}
}

func (s *WhatsAppService) registerWebhook(ctx context.Context, inst *instance.ChannelInstance) {
	settings := s.webhookSettings(inst)
	if settings.URL == "" {
		return
	}
	name := inst.GatewayName()
	err := s.guard(ctx, inst.ID, func(ctx context.Context) error {
		return s.deps.Gateway.SetWebhook(ctx, name, settings)
	})
	if err != nil {
		s.log(inst).WithError(err).Warn("[CHANNEL] Webhook registration failed")
	}
}

func (s *WhatsAppService) Disconnect(ctx context.Context, tenantID, id string) error {
	if err := s.scope(tenantID, id); err != nil {
		return err
	}
	ctx, span := s.span(ctx, "WhatsAppService.Disconnect", id)
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	inst, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	return s.disconnectLocked(ctx, inst)
}

// disconnectLocked logs the session out. The local status ends up
// disconnected whatever the gateway answers.
func (s *WhatsAppService) disconnectLocked(ctx context.Context, inst *instance.ChannelInstance) error {
	var remoteErr error
	if inst.Status != instance.StatusDisconnected {
		name := inst.GatewayName()
		remoteErr = s.guard(ctx, inst.ID, func(ctx context.Context) error { return s.deps.Gateway.Logout(ctx, name) })
		if remoteErr != nil && !pkgError.IsNotFound(remoteErr) {
			s.log(inst).WithError(remoteErr).Warn("[CHANNEL] Gateway logout failed, marking disconnected anyway")
		}
	}

	inst.ErrorMessage = ""
	if err := s.moveTo(ctx, inst, instance.StatusDisconnected, "disconnect"); err != nil {
		return err
	}
	s.forgetQR(inst.ID)
	details := map[string]any{}
	if remoteErr != nil {
		details["remote_error"] = remoteErr.Error()
	}
	s.audit(ctx, inst, audit.ActionDisconnect, details)
	return nil
}

func (s *WhatsAppService) GetStatus(ctx context.Context, tenantID, id string) (instance.Status, error) {
	if err := s.scope(tenantID, id); err != nil {
		return "", err
	}
	ctx, span := s.span(ctx, "WhatsAppService.GetStatus", id)
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	inst, err := s.load(ctx, id)
	if err != nil {
		return "", err
	}
	if inst.Status != instance.StatusConnected {
		return inst.Status, nil
	}

	var remote instance.RemoteStatus
	err = s.guard(ctx, id, func(ctx context.Context) error {
		var err error
		remote, err = s.deps.Gateway.FetchStatus(ctx, inst.GatewayName())
		return err
	})
	if err != nil {
		s.log(inst).WithError(err).Warn("[CHANNEL] Remote status check failed, keeping local status")
		return inst.Status, nil
	}
	if remote.Status == inst.Status {
		return inst.Status, nil
	}

	if remote.Status == instance.StatusError {
		inst.ErrorMessage = fmt.Sprintf("unexpected gateway state %q", remote.State)
	}
	inst.MergeMetadata(map[string]any{instance.MetaRemoteStatus: remote.State})
	if err := s.moveTo(ctx, inst, remote.Status, "remote status check"); err != nil {
		s.log(inst).WithError(err).Warn("[CHANNEL] Could not correct status from gateway")
	}
	return inst.Status, nil
}

func (s *WhatsAppService) GetQR(ctx context.Context, tenantID, id string) (QRResult, error) {
	if err := s.scope(tenantID, id); err != nil {
		return QRResult{}, err
	}
	ctx, span := s.span(ctx, "WhatsAppService.GetQR", id)
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	inst, err := s.load(ctx, id)
	if err != nil {
		return QRResult{}, err
	}
	if inst.Status == instance.StatusConnected {
		return QRResult{Status: QRStatusConnected}, nil
	}
	if inst.Status.IsAdministrative() {
		return QRResult{}, pkgError.ConflictError(fmt.Sprintf("instance is %s", inst.Status))
	}
	if qr, ok := s.cachedQR(id); ok && inst.Status == instance.StatusConnecting {
		return QRResult{Status: QRStatusReady, QR: &qr}, nil
	}

	var qr instance.QRCode
	err = s.guard(ctx, id, func(ctx context.Context) error {
		var err error
		qr, err = s.deps.Gateway.FetchQR(ctx, inst.GatewayName())
		return err
	})
	if err != nil {
		return QRResult{}, err
	}

	if qr.Connected {
		inst.ErrorMessage = ""
		if err := s.moveTo(ctx, inst, instance.StatusConnected, "qr reports open session"); err != nil {
			s.log(inst).WithError(err).Warn("[CHANNEL] Could not mark instance connected")
		}
		return QRResult{Status: QRStatusConnected}, nil
	}
	if qr.Empty() {
		return QRResult{Status: QRStatusLoading}, nil
	}

	// Serving pairing material means the instance is pairing.
	inst.MergeMetadata(map[string]any{instance.MetaLastQRAt: s.now().Format(time.RFC3339)})
	if inst.Status != instance.StatusConnecting {
		inst.ErrorMessage = ""
	}
	if err := s.moveTo(ctx, inst, instance.StatusConnecting, "qr requested"); err != nil {
		return QRResult{}, err
	}
	s.storeQR(id, qr)
	s.audit(ctx, inst, audit.ActionQRRequested, map[string]any{"pairing_code": qr.PairingCode != ""})
	return QRResult{Status: QRStatusReady, QR: &qr}, nil
}

func (s *WhatsAppService) GetMetrics(ctx context.Context, tenantID, id string, period time.Duration) (Metrics, error) {
	if err := s.scope(tenantID, id); err != nil {
		return Metrics{}, err
	}
	inst, err := s.load(ctx, id)
	if err != nil {
		return Metrics{}, err
	}
	if period <= 0 {
		period = 24 * time.Hour
	}
	since := s.now().Add(-period)

	m := Metrics{
		InstanceID:  inst.ID,
		ChannelType: inst.ChannelType,
		Status:      inst.Status,
		Period:      period.String(),
		Since:       since,
	}
	if s.deps.Conversations != nil {
		stats, err := s.deps.Conversations.Stats(ctx, inst.TenantID, inst.ID, since)
		if err != nil {
			return Metrics{}, fmt.Errorf("conversation stats of %s: %w", id, err)
		}
		m.Conversations = stats
	}
	if s.deps.Appointments != nil {
		n, err := s.deps.Appointments.CountAppointments(ctx, inst.TenantID, inst.ID, since)
		if err != nil {
			return Metrics{}, fmt.Errorf("appointment count of %s: %w", id, err)
		}
		m.Appointments = n
	}
	return m, nil
}

func (s *WhatsAppService) List(ctx context.Context, tenantID string) ([]instance.ChannelInstance, error) {
	if tenantID != s.tenantID {
		return []instance.ChannelInstance{}, nil
	}
	return s.deps.Repository.List(ctx, s.tenantID, instance.ChannelTypeWhatsApp)
}

func (s *WhatsAppService) Get(ctx context.Context, tenantID, id string) (*instance.ChannelInstance, error) {
	if err := s.scope(tenantID, id); err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

// ApplyRemoteStatus sets a status reported by the gateway (or an operator)
// without running the connect flow.
func (s *WhatsAppService) ApplyRemoteStatus(ctx context.Context, tenantID, id string, status instance.Status, detail string) error {
	if err := s.scope(tenantID, id); err != nil {
		return err
	}
	if !status.IsValid() {
		return pkgError.NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	inst, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if inst.Status == status && status != instance.StatusError {
		return nil
	}

	switch status {
	case instance.StatusError:
		inst.ErrorMessage = detail
	case instance.StatusConnected, instance.StatusDisconnected:
		inst.ErrorMessage = ""
	}
	if status != instance.StatusConnecting {
		s.forgetQR(id)
	}
	return s.moveTo(ctx, inst, status, detail)
}

// CacheQR keeps pairing material pushed by the gateway for the next GetQR.
func (s *WhatsAppService) CacheQR(_ context.Context, tenantID, id string, qr instance.QRCode) {
	if tenantID != s.tenantID || qr.Empty() {
		return
	}
	s.storeQR(id, qr)
	s.deps.Notifier.QRUpdated(tenantID, id, qr)
}

func (s *WhatsAppService) SendText(ctx context.Context, tenantID, id, to, text string) error {
	if err := s.scope(tenantID, id); err != nil {
		return err
	}
	inst, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if inst.Status != instance.StatusConnected {
		return pkgError.ConflictError(fmt.Sprintf("instance is %s, not connected", inst.Status))
	}
	return s.guard(ctx, id, func(ctx context.Context) error {
		_, err := s.deps.Gateway.SendText(ctx, inst.GatewayName(), to, text)
		return err
	})
}

func (s *WhatsAppService) Health(ctx context.Context, tenantID string) (HealthSummary, error) {
	summary := HealthSummary{
		ChannelType: instance.ChannelTypeWhatsApp,
		ByStatus:    map[instance.Status]int{},
		Healthy:     true,
		Instances:   []InstanceHealth{},
	}
	list, err := s.List(ctx, tenantID)
	if err != nil {
		return summary, err
	}
	for _, inst := range list {
		h := InstanceHealth{
			ID:           inst.ID,
			Name:         inst.Name,
			Status:       inst.Status,
			ErrorMessage: inst.ErrorMessage,
			UpdatedAt:    inst.UpdatedAt,
			LastUpdate:   humanize.RelTime(inst.UpdatedAt, s.now(), "ago", "from now"),
		}
		if snap, ok := s.deps.Breakers.Snapshot(s.breakerKey(inst.ID)); ok {
			h.Breaker = &snap
			if snap.State != breaker.Closed.String() {
				summary.Healthy = false
			}
		}
		if inst.Status == instance.StatusError {
			summary.Healthy = false
		}
		summary.ByStatus[inst.Status]++
		summary.Instances = append(summary.Instances, h)
	}
	summary.Total = len(list)
	return summary, nil
}

func (s *WhatsAppService) Watch(tenantID, id string) (<-chan struct{}, func()) {
	return s.deps.Cancellations.Watch(tenantID, id)
}

func (s *WhatsAppService) storeQR(id string, qr instance.QRCode) {
	s.qrMu.Lock()
	s.qrs[id] = cachedQR{qr: qr, at: s.now()}
	s.qrMu.Unlock()
}

func (s *WhatsAppService) cachedQR(id string) (instance.QRCode, bool) {
	s.qrMu.Lock()
	defer s.qrMu.Unlock()
	c, ok := s.qrs[id]
	if !ok || s.now().Sub(c.at) > qrTTL {
		delete(s.qrs, id)
		return instance.QRCode{}, false
	}
	return c.qr, true
}

func (s *WhatsAppService) forgetQR(id string) {
	s.qrMu.Lock()
	delete(s.qrs, id)
	s.qrMu.Unlock()
}
