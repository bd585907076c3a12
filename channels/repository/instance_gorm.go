package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/common"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/instance"
	"github.com/kinopsis/agensalud-mvp-sub003/pkg/crypto"
	"gorm.io/gorm"
)

// --- Persistence Models ---

type instanceModel struct {
	ID              string         `gorm:"primaryKey;column:id"`
	TenantID        string         `gorm:"column:tenant_id;not null;index:idx_instances_tenant_type"`
	ChannelType     string         `gorm:"column:channel_type;not null;index:idx_instances_tenant_type"`
	Name            string         `gorm:"column:name;not null"`
	GatewayName     string         `gorm:"column:gateway_name;not null;uniqueIndex"`
	Status          string         `gorm:"column:status;not null;default:'disconnected'"`
	Config          sql.NullString `gorm:"column:config;type:text"`           // JSON
	GatewayMetadata sql.NullString `gorm:"column:gateway_metadata;type:text"` // JSON, opaque
	ErrorMessage    sql.NullString `gorm:"column:error_message"`
	CreatedAt       time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt       time.Time      `gorm:"column:updated_at;not null"`
}

func (instanceModel) TableName() string { return "channel_instances" }

// --- Repository Implementation ---

// InstanceGormRepository implements instance.Repository. Secrets inside the
// config blob are sealed before they reach the database.
type InstanceGormRepository struct {
	db     *gorm.DB
	sealer *crypto.Sealer
}

func NewInstanceGormRepository(db *gorm.DB, sealer *crypto.Sealer) *InstanceGormRepository {
	return &InstanceGormRepository{db: db, sealer: sealer}
}

func (r *InstanceGormRepository) Create(ctx context.Context, inst *instance.ChannelInstance) error {
	model, err := r.toModel(inst)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isDuplicate(err) {
			return common.ErrDuplicateInstance
		}
		return err
	}
	return nil
}

// Save overwrites the mutable columns. The tenant is part of the WHERE
// clause so a record can never be moved to, or written by, another tenant.
func (r *InstanceGormRepository) Save(ctx context.Context, inst *instance.ChannelInstance) error {
	model, err := r.toModel(inst)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&instanceModel{}).
		Where("id = ? AND tenant_id = ?", inst.ID, inst.TenantID).
		Updates(map[string]any{
			"name":             model.Name,
			"gateway_name":     model.GatewayName,
			"status":           model.Status,
			"config":           model.Config,
			"gateway_metadata": model.GatewayMetadata,
			"error_message":    model.ErrorMessage,
			"updated_at":       model.UpdatedAt,
		})
	if res.Error != nil {
		if isDuplicate(res.Error) {
			return common.ErrDuplicateInstance
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return common.ErrInstanceNotFound
	}
	return nil
}

func (r *InstanceGormRepository) Get(ctx context.Context, tenantID, id string) (*instance.ChannelInstance, error) {
	var m instanceModel
	err := r.db.WithContext(ctx).First(&m, "id = ? AND tenant_id = ?", id, tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrInstanceNotFound
		}
		return nil, err
	}
	return r.fromModel(m)
}

func (r *InstanceGormRepository) GetByGatewayName(ctx context.Context, tenantID, name string) (*instance.ChannelInstance, error) {
	var m instanceModel
	err := r.db.WithContext(ctx).First(&m, "gateway_name = ? AND tenant_id = ?", name, tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrInstanceNotFound
		}
		return nil, err
	}
	return r.fromModel(m)
}

// List returns the tenant's instances; an empty channelType lists every type.
func (r *InstanceGormRepository) List(ctx context.Context, tenantID string, channelType instance.ChannelType) ([]instance.ChannelInstance, error) {
	q := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if channelType != "" {
		q = q.Where("channel_type = ?", string(channelType))
	}
	var models []instanceModel
	if err := q.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]instance.ChannelInstance, 0, len(models))
	for _, m := range models {
		inst, err := r.fromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, *inst)
	}
	return res, nil
}

// Delete reports whether a record was removed.
func (r *InstanceGormRepository) Delete(ctx context.Context, tenantID, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).Delete(&instanceModel{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// --- Mappers ---

func (r *InstanceGormRepository) toModel(inst *instance.ChannelInstance) (instanceModel, error) {
	cfg, err := r.sealConfig(inst.Config)
	if err != nil {
		return instanceModel{}, fmt.Errorf("seal config: %w", err)
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return instanceModel{}, err
	}

	var meta sql.NullString
	if len(inst.GatewayMetadata) > 0 {
		b, err := json.Marshal(inst.GatewayMetadata)
		if err != nil {
			return instanceModel{}, err
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}

	return instanceModel{
		ID:              inst.ID,
		TenantID:        inst.TenantID,
		ChannelType:     string(inst.ChannelType),
		Name:            inst.Name,
		GatewayName:     inst.GatewayName(),
		Status:          string(inst.Status),
		Config:          sql.NullString{String: string(cfgJSON), Valid: true},
		GatewayMetadata: meta,
		ErrorMessage:    sql.NullString{String: inst.ErrorMessage, Valid: inst.ErrorMessage != ""},
		CreatedAt:       inst.CreatedAt,
		UpdatedAt:       inst.UpdatedAt,
	}, nil
}

func (r *InstanceGormRepository) fromModel(m instanceModel) (*instance.ChannelInstance, error) {
	inst := &instance.ChannelInstance{
		ID:           m.ID,
		TenantID:     m.TenantID,
		ChannelType:  instance.ChannelType(m.ChannelType),
		Name:         m.Name,
		Status:       instance.Status(m.Status),
		ErrorMessage: nullStringValue(m.ErrorMessage),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.Config.Valid && m.Config.String != "" {
		if err := json.Unmarshal([]byte(m.Config.String), &inst.Config); err != nil {
			return nil, fmt.Errorf("decode config of %s: %w", m.ID, err)
		}
		cfg, err := r.openConfig(inst.Config)
		if err != nil {
			return nil, fmt.Errorf("open config of %s: %w", m.ID, err)
		}
		inst.Config = cfg
	}
	if m.GatewayMetadata.Valid && m.GatewayMetadata.String != "" {
		_ = json.Unmarshal([]byte(m.GatewayMetadata.String), &inst.GatewayMetadata)
	}
	return inst, nil
}

func (r *InstanceGormRepository) sealConfig(cfg instance.ChannelInstanceConfig) (instance.ChannelInstanceConfig, error) {
	return transformSecrets(cfg, r.sealer.Seal)
}

func (r *InstanceGormRepository) openConfig(cfg instance.ChannelInstanceConfig) (instance.ChannelInstanceConfig, error) {
	return transformSecrets(cfg, r.sealer.Open)
}

func transformSecrets(cfg instance.ChannelInstanceConfig, fn func(string) (string, error)) (instance.ChannelInstanceConfig, error) {
	var err error
	if cfg.Webhook.Secret, err = fn(cfg.Webhook.Secret); err != nil {
		return cfg, err
	}
	if wa := cfg.ChannelSpecific.WhatsApp; wa != nil {
		copied := *wa
		if copied.GatewayToken, err = fn(copied.GatewayToken); err != nil {
			return cfg, err
		}
		cfg.ChannelSpecific.WhatsApp = &copied
	}
	return cfg, nil
}

func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// isDuplicate recognises unique violations across drivers.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
