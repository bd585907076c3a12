package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/audit"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/instance"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/message"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/repository"
	"github.com/kinopsis/agensalud-mvp-sub003/pkg/breaker"
	"github.com/kinopsis/agensalud-mvp-sub003/pkg/crypto"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeGateway answers every call from an optional hook, with harmless
// defaults, and counts calls per operation.
type fakeGateway struct {
	mu    sync.Mutex
	calls map[string]int
	sent  []string

	create  func(req instance.RemoteCreateRequest) (instance.RemoteInstance, error)
	connect func(name string) (instance.QRCode, error)
	status  func(name string) (instance.RemoteStatus, error)
	qr      func(name string) (instance.QRCode, error)
	logout  func(name string) error
	send    func(to, text string) error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{calls: map[string]int{}}
}

func (g *fakeGateway) record(op string) {
	g.mu.Lock()
	g.calls[op]++
	g.mu.Unlock()
}

func (g *fakeGateway) count(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *fakeGateway) CreateInstance(_ context.Context, req instance.RemoteCreateRequest) (instance.RemoteInstance, error) {
	g.record("create")
	if g.create != nil {
		return g.create(req)
	}
	return instance.RemoteInstance{
		InstanceName: req.InstanceName,
		InstanceID:   "remote-" + req.InstanceName,
		State:        "connecting",
		Integration:  req.Integration,
		QR:           instance.QRCode{Image: "data:image/png;base64,AAAA", Count: 1},
	}, nil
}

func (g *fakeGateway) ConnectInstance(_ context.Context, name string) (instance.QRCode, error) {
	g.record("connect")
	if g.connect != nil {
		return g.connect(name)
	}
	return instance.QRCode{Image: "data:image/png;base64,BBBB"}, nil
}

func (g *fakeGateway) FetchStatus(_ context.Context, name string) (instance.RemoteStatus, error) {
	g.record("status")
	if g.status != nil {
		return g.status(name)
	}
	return instance.RemoteStatus{State: "open", Status: instance.StatusConnected}, nil
}

func (g *fakeGateway) FetchQR(_ context.Context, name string) (instance.QRCode, error) {
	g.record("qr")
	if g.qr != nil {
		return g.qr(name)
	}
	return instance.QRCode{Image: "data:image/png;base64,CCCC"}, nil
}

func (g *fakeGateway) Logout(_ context.Context, name string) error {
	g.record("logout")
	if g.logout != nil {
		return g.logout(name)
	}
	return nil
}

func (g *fakeGateway) Restart(context.Context, string) error {
	g.record("restart")
	return nil
}

func (g *fakeGateway) DeleteInstance(context.Context, string) error {
	g.record("delete")
	return nil
}

func (g *fakeGateway) SetWebhook(context.Context, string, instance.WebhookSettings) error {
	g.record("webhook")
	return nil
}

func (g *fakeGateway) SendText(_ context.Context, _ string, to, text string) (instance.SentMessage, error) {
	g.record("send")
	if g.send != nil {
		if err := g.send(to, text); err != nil {
			return instance.SentMessage{}, err
		}
	}
	g.mu.Lock()
	g.sent = append(g.sent, to+": "+text)
	g.mu.Unlock()
	return instance.SentMessage{ID: uuid.NewString(), RemoteJID: to + "@s.whatsapp.net", Status: "PENDING"}, nil
}

func (g *fakeGateway) sentMessages() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.sent...)
}

// recordingAudit keeps entries in memory.
type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *recordingAudit) Log(_ context.Context, e audit.Entry) {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
}

func (a *recordingAudit) actions(instanceID string) []audit.Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []audit.Action
	for _, e := range a.entries {
		if e.InstanceID == instanceID {
			out = append(out, e.Action)
		}
	}
	return out
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []string
	qrs      int
	deleted  []string
}

func (n *recordingNotifier) StatusChanged(inst instance.ChannelInstance, from instance.Status) {
	n.mu.Lock()
	n.statuses = append(n.statuses, fmt.Sprintf("%s->%s", from, inst.Status))
	n.mu.Unlock()
}

func (n *recordingNotifier) QRUpdated(string, string, instance.QRCode) {
	n.mu.Lock()
	n.qrs++
	n.mu.Unlock()
}

func (n *recordingNotifier) Deleted(_ string, id string) {
	n.mu.Lock()
	n.deleted = append(n.deleted, id)
	n.mu.Unlock()
}

type stubInterpreter struct {
	result message.ProcessResult
	err    error
	delay  time.Duration
}

func (s stubInterpreter) Interpret(ctx context.Context, _ message.IncomingMessage, _ instance.AIConfig) (message.ProcessResult, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return message.ProcessResult{}, ctx.Err()
		}
	}
	return s.result, s.err
}

func openTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:app_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := repository.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type harness struct {
	db       *gorm.DB
	gw       *fakeGateway
	audit    *recordingAudit
	notifier *recordingNotifier
	deps     Dependencies
	svc      ChannelService
	clock    *time.Time
}

const testTenant = "clinic-1"

func newHarness(t *testing.T, settings ...breaker.Settings) *harness {
	t.Helper()
	db := openTestDB(t)
	sealer, err := crypto.NewSealer("")
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	bs := breaker.DefaultSettings()
	if len(settings) > 0 {
		bs = settings[0]
	}
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	h := &harness{
		db:       db,
		gw:       newFakeGateway(),
		audit:    &recordingAudit{},
		notifier: &recordingNotifier{},
		clock:    &now,
	}
	h.deps = Dependencies{
		Repository:     repository.NewInstanceGormRepository(db, sealer),
		Gateway:        h.gw,
		Breakers:       breaker.NewRegistry(bs, breaker.WithFailureClassifier(IsInfrastructureFailure)),
		Cancellations:  NewCancellationHub(),
		Audit:          h.audit,
		Conversations:  repository.NewConversationGormRepository(db),
		Notifier:       h.notifier,
		WebhookBaseURL: "https://api.example.com",
		Now:            func() time.Time { return *h.clock },
	}
	svc, err := NewWhatsAppService(testTenant, h.deps)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	h.svc = svc
	return h
}

func (h *harness) advance(d time.Duration) {
	*h.clock = h.clock.Add(d)
}

func validRequest(name string) CreateRequest {
	return CreateRequest{
		Name: name,
		Config: instance.ChannelInstanceConfig{
			ChannelSpecific: instance.ChannelSpecific{
				WhatsApp: &instance.WhatsAppSettings{PhoneNumber: "+573001234567"},
			},
		},
	}
}

// resolverFunc serves one service for every tenant and type.
type resolverFunc func(ctx context.Context, channelType instance.ChannelType, tenantID string) (ChannelService, error)

func (f resolverFunc) Service(ctx context.Context, channelType instance.ChannelType, tenantID string) (ChannelService, error) {
	return f(ctx, channelType, tenantID)
}
