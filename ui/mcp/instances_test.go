package mcp

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/kinopsis/agensalud-mvp-sub003/channels"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/application"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/instance"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/repository"
	"github.com/kinopsis/agensalud-mvp-sub003/pkg/crypto"
	pkgError "github.com/kinopsis/agensalud-mvp-sub003/pkg/error"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type stubService struct {
	application.ChannelService
	repo instance.Repository
}

func (s *stubService) List(ctx context.Context, tenantID string) ([]instance.ChannelInstance, error) {
	return s.repo.List(ctx, tenantID, instance.ChannelTypeWhatsApp)
}

func (s *stubService) GetStatus(context.Context, string, string) (instance.Status, error) {
	return instance.StatusConnecting, nil
}

func (s *stubService) GetQR(context.Context, string, string) (application.QRResult, error) {
	return application.QRResult{Status: application.QRStatusReady, QR: &instance.QRCode{Image: "data:image/png;base64,AAAA"}}, nil
}

func newHandler(t *testing.T) (*InstanceHandler, string) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:mcp_%s?mode=memory&cache=shared", uuid.NewString())),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, repository.Migrate(context.Background(), db))

	sealer, err := crypto.NewSealer("")
	require.NoError(t, err)
	repo := repository.NewInstanceGormRepository(db, sealer)
	now := time.Now().UTC()
	inst := &instance.ChannelInstance{
		ID:          uuid.NewString(),
		TenantID:    "clinic-1",
		ChannelType: instance.ChannelTypeWhatsApp,
		Name:        "Front desk",
		Status:      instance.StatusConnecting,
		Config: instance.ChannelInstanceConfig{
			ChannelSpecific: instance.ChannelSpecific{WhatsApp: &instance.WhatsAppSettings{PhoneNumber: "+573001234567"}},
		}.WithDefaults(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, repo.Create(context.Background(), inst))

	manager := channels.NewManager(channels.Dependencies{Repository: repo})
	manager.RegisterChannelType(instance.ChannelTypeWhatsApp, func(string, application.Dependencies) (application.ChannelService, error) {
		return &stubService{repo: repo}, nil
	})
	return InitMcpInstances(manager), inst.ID
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func TestListInstancesTool(t *testing.T) {
	h, id := newHandler(t)

	res, err := h.handleListInstances(context.Background(), call(map[string]any{"tenant_id": "clinic-1"}))
	require.NoError(t, err)
	list, ok := res.StructuredContent.(channels.InstanceList)
	require.True(t, ok)
	require.Len(t, list.Instances, 1)
	assert.Equal(t, id, list.Instances[0].ID)

	res, err = h.handleListInstances(context.Background(), call(map[string]any{"tenant_id": "clinic-2"}))
	require.NoError(t, err)
	assert.Empty(t, res.StructuredContent.(channels.InstanceList).Instances)

	_, err = h.handleListInstances(context.Background(), call(map[string]any{}))
	assert.Error(t, err)
}

func TestGetStatusAndQRTools(t *testing.T) {
	h, id := newHandler(t)
	args := map[string]any{"tenant_id": "clinic-1", "instance_id": id}

	res, err := h.handleGetStatus(context.Background(), call(args))
	require.NoError(t, err)
	assert.Equal(t, instance.StatusConnecting, res.StructuredContent.(map[string]any)["status"])

	res, err = h.handleGetQR(context.Background(), call(args))
	require.NoError(t, err)
	qr := res.StructuredContent.(application.QRResult)
	assert.Equal(t, application.QRStatusReady, qr.Status)

	_, err = h.handleGetStatus(context.Background(), call(map[string]any{"tenant_id": "clinic-2", "instance_id": id}))
	assert.True(t, pkgError.IsNotFound(err))
}
