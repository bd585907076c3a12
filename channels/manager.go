package channels

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kinopsis/agensalud-mvp-sub003/channels/application"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/common"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/instance"
	"github.com/kinopsis/agensalud-mvp-sub003/pkg/breaker"
	pkgError "github.com/kinopsis/agensalud-mvp-sub003/pkg/error"
	"github.com/sirupsen/logrus"
)

// Manager hands out one ChannelService per (channel type, tenant) and
// aggregates across channel types. It owns the breaker registry and the
// cancellation hub shared by every service it builds.
type Manager struct {
	deps Dependencies

	ctorMu       sync.RWMutex
	constructors map[instance.ChannelType]application.ServiceConstructor

	mu       sync.RWMutex
	services map[serviceKey]application.ChannelService
}

type serviceKey struct {
	channelType instance.ChannelType
	tenantID    string
}

// Dependencies are the collaborators injected into every service. Breakers
// and Cancellations are created when left nil.
type Dependencies = application.Dependencies

func NewManager(deps Dependencies) *Manager {
	if deps.Breakers == nil {
		deps.Breakers = breaker.NewRegistry(breaker.DefaultSettings(),
			breaker.WithFailureClassifier(application.IsInfrastructureFailure))
	}
	if deps.Cancellations == nil {
		deps.Cancellations = application.NewCancellationHub()
	}
	return &Manager{
		deps:         deps,
		constructors: make(map[instance.ChannelType]application.ServiceConstructor),
		services:     make(map[serviceKey]application.ChannelService),
	}
}

// RegisterChannelType makes channelType available. Registering again
// replaces the constructor and drops services built with the old one.
func (m *Manager) RegisterChannelType(channelType instance.ChannelType, ctor application.ServiceConstructor) {
	m.ctorMu.Lock()
	m.constructors[channelType] = ctor
	m.ctorMu.Unlock()

	m.mu.Lock()
	for k := range m.services {
		if k.channelType == channelType {
			delete(m.services, k)
		}
	}
	m.mu.Unlock()
	logrus.WithField("channel_type", channelType).Info("[MANAGER] Channel type registered")
}

func (m *Manager) ChannelTypes() []instance.ChannelType {
	m.ctorMu.RLock()
	defer m.ctorMu.RUnlock()
	out := make([]instance.ChannelType, 0, len(m.constructors))
	for t := range m.constructors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Manager) Breakers() *breaker.Registry { return m.deps.Breakers }

func (m *Manager) Cancellations() *application.CancellationHub { return m.deps.Cancellations }

// Service returns the cached service of channelType for tenantID, building
// it on first use.
func (m *Manager) Service(_ context.Context, channelType instance.ChannelType, tenantID string) (application.ChannelService, error) {
	if tenantID == "" {
		return nil, pkgError.NewValidationError("tenant_id", "cannot be blank")
	}
	key := serviceKey{channelType: channelType, tenantID: tenantID}

	m.mu.RLock()
	svc, ok := m.services[key]
	m.mu.RUnlock()
	if ok {
		return svc, nil
	}

	m.ctorMu.RLock()
	ctor, ok := m.constructors[channelType]
	m.ctorMu.RUnlock()
	if !ok {
		return nil, pkgError.NotFoundf("channel type %q is not supported", channelType)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if svc, ok := m.services[key]; ok {
		return svc, nil
	}
	svc, err := ctor(tenantID, m.deps)
	if err != nil {
		return nil, fmt.Errorf("build %s service for tenant %s: %w", channelType, tenantID, err)
	}
	m.services[key] = svc
	return svc, nil
}

// ServiceForInstance looks the instance up and returns the service of its
// channel type.
func (m *Manager) ServiceForInstance(ctx context.Context, tenantID, id string) (application.ChannelService, *instance.ChannelInstance, error) {
	inst, err := m.deps.Repository.Get(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, common.ErrInstanceNotFound) {
			return nil, nil, pkgError.NotFoundf("channel instance %s not found", id)
		}
		return nil, nil, fmt.Errorf("load instance %s: %w", id, err)
	}
	svc, err := m.Service(ctx, inst.ChannelType, tenantID)
	if err != nil {
		return nil, nil, err
	}
	return svc, inst, nil
}

// PartialFailure names a channel type whose part of an aggregate could not
// be collected.
type PartialFailure struct {
	ChannelType instance.ChannelType `json:"channel_type"`
	Error       string               `json:"error"`
}

type InstanceList struct {
	Instances []instance.ChannelInstance `json:"instances"`
	Partial   []PartialFailure           `json:"partial,omitempty"`
}

type UnifiedMetrics struct {
	Period    string                  `json:"period"`
	Instances []application.Metrics   `json:"instances"`
	ByStatus  map[instance.Status]int `json:"by_status"`
	Totals    MetricTotals            `json:"totals"`
	Partial   []PartialFailure        `json:"partial,omitempty"`
}

type MetricTotals struct {
	Conversations int64 `json:"conversations"`
	Messages      int64 `json:"messages"`
	Appointments  int64 `json:"appointments"`
}

type HealthReport struct {
	Healthy  bool                        `json:"healthy"`
	Total    int                         `json:"total"`
	Channels []application.HealthSummary `json:"channels"`
	Partial  []PartialFailure            `json:"partial,omitempty"`
}

// eachService runs fn for every registered channel type of tenantID. A
// failing type is logged and reported, the rest still run.
func (m *Manager) eachService(ctx context.Context, tenantID, op string, fn func(application.ChannelService) error) []PartialFailure {
	var partial []PartialFailure
	for _, t := range m.ChannelTypes() {
		svc, err := m.Service(ctx, t, tenantID)
		if err == nil {
			err = fn(svc)
		}
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"tenant_id":    tenantID,
				"channel_type": t,
			}).Warnf("[MANAGER] %s failed for channel type", op)
			partial = append(partial, PartialFailure{ChannelType: t, Error: err.Error()})
		}
	}
	return partial
}

func (m *Manager) GetAllInstances(ctx context.Context, tenantID string) InstanceList {
	out := InstanceList{Instances: []instance.ChannelInstance{}}
	out.Partial = m.eachService(ctx, tenantID, "list", func(svc application.ChannelService) error {
		list, err := svc.List(ctx, tenantID)
		if err != nil {
			return err
		}
		out.Instances = append(out.Instances, list...)
		return nil
	})
	sort.SliceStable(out.Instances, func(i, j int) bool {
		return out.Instances[i].CreatedAt.Before(out.Instances[j].CreatedAt)
	})
	return out
}

// UnifiedMetrics collects per-instance metrics of every channel type. An
// instance whose metrics fail is reported and skipped.
func (m *Manager) UnifiedMetrics(ctx context.Context, tenantID string, period time.Duration) UnifiedMetrics {
	if period <= 0 {
		period = 24 * time.Hour
	}
	out := UnifiedMetrics{
		Period:    period.String(),
		Instances: []application.Metrics{},
		ByStatus:  map[instance.Status]int{},
	}
	out.Partial = m.eachService(ctx, tenantID, "metrics", func(svc application.ChannelService) error {
		list, err := svc.List(ctx, tenantID)
		if err != nil {
			return err
		}
		var failed []string
		for _, inst := range list {
			out.ByStatus[inst.Status]++
			metrics, err := svc.GetMetrics(ctx, tenantID, inst.ID, period)
			if err != nil {
				failed = append(failed, inst.ID)
				continue
			}
			out.Instances = append(out.Instances, metrics)
			out.Totals.Conversations += metrics.Conversations.Total
			out.Totals.Messages += metrics.Conversations.Messages
			out.Totals.Appointments += metrics.Appointments
		}
		if len(failed) > 0 {
			return fmt.Errorf("metrics unavailable for %d instance(s): %v", len(failed), failed)
		}
		return nil
	})
	return out
}

func (m *Manager) HealthSummary(ctx context.Context, tenantID string) HealthReport {
	out := HealthReport{Healthy: true, Channels: []application.HealthSummary{}}
	out.Partial = m.eachService(ctx, tenantID, "health", func(svc application.ChannelService) error {
		summary, err := svc.Health(ctx, tenantID)
		if err != nil {
			return err
		}
		out.Channels = append(out.Channels, summary)
		out.Total += summary.Total
		if !summary.Healthy {
			out.Healthy = false
		}
		return nil
	})
	if len(out.Partial) > 0 {
		out.Healthy = false
	}
	return out
}

// Shutdown drops every cached service. Later calls build fresh ones.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	n := len(m.services)
	m.services = make(map[serviceKey]application.ChannelService)
	m.mu.Unlock()
	logrus.Infof("[MANAGER] Released %d channel services", n)
}
