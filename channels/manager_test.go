package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/application"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/conversation"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/instance"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/repository"
	"github.com/kinopsis/agensalud-mvp-sub003/pkg/crypto"
	pkgError "github.com/kinopsis/agensalud-mvp-sub003/pkg/error"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// stubService answers the aggregate calls from fixed data. Methods it does
// not override panic through the nil embedded interface.
type stubService struct {
	application.ChannelService
	channelType instance.ChannelType
	instances   []instance.ChannelInstance
	listErr     error
	metricsErr  map[string]error
	healthy     bool
}

func (s *stubService) ChannelType() instance.ChannelType { return s.channelType }

func (s *stubService) List(context.Context, string) ([]instance.ChannelInstance, error) {
	return s.instances, s.listErr
}

func (s *stubService) GetMetrics(_ context.Context, _ string, id string, period time.Duration) (application.Metrics, error) {
	if err := s.metricsErr[id]; err != nil {
		return application.Metrics{}, err
	}
	return application.Metrics{
		InstanceID:    id,
		ChannelType:   s.channelType,
		Period:        period.String(),
		Conversations: conversation.Stats{Total: 2, Messages: 7},
		Appointments:  1,
	}, nil
}

func (s *stubService) Health(context.Context, string) (application.HealthSummary, error) {
	if s.listErr != nil {
		return application.HealthSummary{}, s.listErr
	}
	return application.HealthSummary{ChannelType: s.channelType, Total: len(s.instances), Healthy: s.healthy}, nil
}

func ctorFor(svc *stubService, built *int32) application.ServiceConstructor {
	return func(string, application.Dependencies) (application.ChannelService, error) {
		if built != nil {
			atomic.AddInt32(built, 1)
		}
		return svc, nil
	}
}

func TestService_CachedPerTenant(t *testing.T) {
	m := NewManager(Dependencies{})
	var built int32
	m.RegisterChannelType(instance.ChannelTypeWhatsApp, func(tenantID string, _ application.Dependencies) (application.ChannelService, error) {
		atomic.AddInt32(&built, 1)
		return &stubService{channelType: instance.ChannelTypeWhatsApp}, nil
	})

	var wg sync.WaitGroup
	results := make([]application.ChannelService, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			svc, err := m.Service(context.Background(), instance.ChannelTypeWhatsApp, "t1")
			assert.NoError(t, err)
			results[i] = svc
		}(i)
	}
	wg.Wait()
	for _, svc := range results[1:] {
		assert.Same(t, results[0], svc)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&built))

	other, err := m.Service(context.Background(), instance.ChannelTypeWhatsApp, "t2")
	require.NoError(t, err)
	assert.NotSame(t, results[0], other)

	m.Shutdown()
	_, err = m.Service(context.Background(), instance.ChannelTypeWhatsApp, "t1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&built))
}

func TestService_UnknownTypeAndBlankTenant(t *testing.T) {
	m := NewManager(Dependencies{})
	_, err := m.Service(context.Background(), "telegram", "t1")
	assert.True(t, pkgError.IsNotFound(err))

	m.RegisterChannelType(instance.ChannelTypeWhatsApp, ctorFor(&stubService{}, nil))
	_, err = m.Service(context.Background(), instance.ChannelTypeWhatsApp, "")
	assert.True(t, pkgError.IsValidation(err))
}

func TestService_ConstructorErrorNotCached(t *testing.T) {
	m := NewManager(Dependencies{})
	calls := 0
	m.RegisterChannelType(instance.ChannelTypeWhatsApp, func(string, application.Dependencies) (application.ChannelService, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("gateway not configured")
		}
		return &stubService{}, nil
	})
	_, err := m.Service(context.Background(), instance.ChannelTypeWhatsApp, "t1")
	require.Error(t, err)
	_, err = m.Service(context.Background(), instance.ChannelTypeWhatsApp, "t1")
	require.NoError(t, err)
}

func TestAggregates_CollectAndContinue(t *testing.T) {
	m := NewManager(Dependencies{})
	now := time.Now()
	wa := &stubService{
		channelType: instance.ChannelTypeWhatsApp,
		healthy:     true,
		instances: []instance.ChannelInstance{
			{ID: "b", Status: instance.StatusConnected, CreatedAt: now},
			{ID: "a", Status: instance.StatusError, CreatedAt: now.Add(-time.Hour)},
		},
		metricsErr: map[string]error{"a": errors.New("stats query failed")},
	}
	broken := &stubService{channelType: "telegram", listErr: errors.New("database is locked")}
	m.RegisterChannelType(instance.ChannelTypeWhatsApp, ctorFor(wa, nil))
	m.RegisterChannelType("telegram", ctorFor(broken, nil))

	list := m.GetAllInstances(context.Background(), "t1")
	require.Len(t, list.Instances, 2)
	assert.Equal(t, "a", list.Instances[0].ID)
	require.Len(t, list.Partial, 1)
	assert.Equal(t, instance.ChannelType("telegram"), list.Partial[0].ChannelType)

	metrics := m.UnifiedMetrics(context.Background(), "t1", 0)
	assert.Equal(t, "24h0m0s", metrics.Period)
	require.Len(t, metrics.Instances, 1)
	assert.EqualValues(t, 2, metrics.Totals.Conversations)
	assert.EqualValues(t, 7, metrics.Totals.Messages)
	assert.EqualValues(t, 1, metrics.Totals.Appointments)
	assert.Equal(t, 1, metrics.ByStatus[instance.StatusError])
	assert.Len(t, metrics.Partial, 2)

	health := m.HealthSummary(context.Background(), "t1")
	assert.False(t, health.Healthy)
	assert.Equal(t, 2, health.Total)
	assert.Len(t, health.Channels, 1)
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:mgr_%s?mode=memory&cache=shared", uuid.NewString())),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, repository.Migrate(context.Background(), db))
	return db
}

func TestServiceForInstance(t *testing.T) {
	sealer, err := crypto.NewSealer("")
	require.NoError(t, err)
	repo := repository.NewInstanceGormRepository(openDB(t), sealer)
	inst := &instance.ChannelInstance{
		ID:          uuid.NewString(),
		TenantID:    "t1",
		ChannelType: instance.ChannelTypeWhatsApp,
		Name:        "Front desk",
		Status:      instance.StatusDisconnected,
		Config: instance.ChannelInstanceConfig{
			ChannelSpecific: instance.ChannelSpecific{WhatsApp: &instance.WhatsAppSettings{PhoneNumber: "+573001234567"}},
		}.WithDefaults(),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Create(context.Background(), inst))

	m := NewManager(Dependencies{Repository: repo})
	wa := &stubService{channelType: instance.ChannelTypeWhatsApp}
	m.RegisterChannelType(instance.ChannelTypeWhatsApp, ctorFor(wa, nil))

	svc, got, err := m.ServiceForInstance(context.Background(), "t1", inst.ID)
	require.NoError(t, err)
	assert.Same(t, application.ChannelService(wa), svc)
	assert.Equal(t, inst.ID, got.ID)

	_, _, err = m.ServiceForInstance(context.Background(), "t2", inst.ID)
	assert.True(t, pkgError.IsNotFound(err))
}

func TestNewManagerOwnsSharedState(t *testing.T) {
	m := NewManager(Dependencies{})
	require.NotNil(t, m.Breakers())
	require.NotNil(t, m.Cancellations())

	var seen application.Dependencies
	m.RegisterChannelType(instance.ChannelTypeWhatsApp, func(_ string, deps application.Dependencies) (application.ChannelService, error) {
		seen = deps
		return &stubService{}, nil
	})
	_, err := m.Service(context.Background(), instance.ChannelTypeWhatsApp, "t1")
	require.NoError(t, err)
	assert.Same(t, m.Breakers(), seen.Breakers)
	assert.Same(t, m.Cancellations(), seen.Cancellations)
}
