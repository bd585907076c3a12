package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/audit"
	"gorm.io/gorm"
)

type auditModel struct {
	ID         string         `gorm:"primaryKey;column:id"`
	TenantID   string         `gorm:"column:tenant_id;not null;index:idx_audit_scope"`
	InstanceID string         `gorm:"column:instance_id;not null;index:idx_audit_scope"`
	Action     string         `gorm:"column:action;not null"`
	Details    sql.NullString `gorm:"column:details;type:text"` // JSON
	Timestamp  time.Time      `gorm:"column:timestamp;not null;index"`
}

func (auditModel) TableName() string { return "channel_audit_log" }

// AuditGormStore is append-only.
type AuditGormStore struct {
	db *gorm.DB
}

func NewAuditGormStore(db *gorm.DB) *AuditGormStore {
	return &AuditGormStore{db: db}
}

func (s *AuditGormStore) Append(ctx context.Context, entries ...audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	models := make([]auditModel, 0, len(entries))
	for _, e := range entries {
		m := auditModel{
			ID:         e.ID,
			TenantID:   e.TenantID,
			InstanceID: e.InstanceID,
			Action:     string(e.Action),
			Timestamp:  e.Timestamp,
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = time.Now().UTC()
		}
		if len(e.Details) > 0 {
			b, err := json.Marshal(e.Details)
			if err != nil {
				return err
			}
			m.Details = sql.NullString{String: string(b), Valid: true}
		}
		models = append(models, m)
	}
	return s.db.WithContext(ctx).Create(&models).Error
}

// List returns the newest entries first.
func (s *AuditGormStore) List(ctx context.Context, tenantID, instanceID string, limit int) ([]audit.Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var models []auditModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND instance_id = ?", tenantID, instanceID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]audit.Entry, 0, len(models))
	for _, m := range models {
		e := audit.Entry{
			ID:         m.ID,
			TenantID:   m.TenantID,
			InstanceID: m.InstanceID,
			Action:     audit.Action(m.Action),
			Timestamp:  m.Timestamp,
		}
		if m.Details.Valid {
			_ = json.Unmarshal([]byte(m.Details.String), &e.Details)
		}
		out = append(out, e)
	}
	return out, nil
}
