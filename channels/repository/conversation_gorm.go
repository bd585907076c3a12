package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/common"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/conversation"
	"gorm.io/gorm"
)

type conversationModel struct {
	ID            string    `gorm:"primaryKey;column:id"`
	TenantID      string    `gorm:"column:tenant_id;not null;uniqueIndex:idx_conversation_key"`
	InstanceID    string    `gorm:"column:instance_id;not null;uniqueIndex:idx_conversation_key;index"`
	RemoteJID     string    `gorm:"column:remote_jid;not null;uniqueIndex:idx_conversation_key"`
	ContactName   string    `gorm:"column:contact_name"`
	Status        string    `gorm:"column:status;not null;default:'active'"`
	MessageCount  int64     `gorm:"column:message_count;not null;default:0"`
	LastMessageAt time.Time `gorm:"column:last_message_at;not null;index"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null"`
}

func (conversationModel) TableName() string { return "channel_conversations" }

type ConversationGormRepository struct {
	db *gorm.DB
}

func NewConversationGormRepository(db *gorm.DB) *ConversationGormRepository {
	return &ConversationGormRepository{db: db}
}

func (r *ConversationGormRepository) Touch(ctx context.Context, key conversation.Key, contactName string, at time.Time) (*conversation.Record, error) {
	rec, err := r.touchOnce(ctx, key, contactName, at)
	if err != nil && isDuplicate(err) {
		// Lost the create race against a concurrent first message; the row exists now.
		rec, err = r.touchOnce(ctx, key, contactName, at)
	}
	return rec, err
}

func (r *ConversationGormRepository) touchOnce(ctx context.Context, key conversation.Key, contactName string, at time.Time) (*conversation.Record, error) {
	var out conversationModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m conversationModel
		err := tx.Where("tenant_id = ? AND instance_id = ? AND remote_jid = ?", key.TenantID, key.InstanceID, key.RemoteJID).
			First(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			now := time.Now().UTC()
			m = conversationModel{
				ID:            uuid.NewString(),
				TenantID:      key.TenantID,
				InstanceID:    key.InstanceID,
				RemoteJID:     key.RemoteJID,
				ContactName:   contactName,
				Status:        string(conversation.StatusActive),
				MessageCount:  1,
				LastMessageAt: at,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := tx.Create(&m).Error; err != nil {
				return err
			}
			out = m
			return nil
		}
		if err != nil {
			return err
		}

		m.MessageCount++
		if at.After(m.LastMessageAt) {
			m.LastMessageAt = at
		}
		if contactName != "" {
			m.ContactName = contactName
		}
		if m.Status == string(conversation.StatusResolved) {
			m.Status = string(conversation.StatusActive)
		}
		m.UpdatedAt = time.Now().UTC()
		if err := tx.Save(&m).Error; err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	rec := fromConversationModel(out)
	return &rec, nil
}

func (r *ConversationGormRepository) Get(ctx context.Context, key conversation.Key) (*conversation.Record, error) {
	var m conversationModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND instance_id = ? AND remote_jid = ?", key.TenantID, key.InstanceID, key.RemoteJID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrConversationNotFound
		}
		return nil, err
	}
	rec := fromConversationModel(m)
	return &rec, nil
}

func (r *ConversationGormRepository) SetStatus(ctx context.Context, key conversation.Key, status conversation.Status) error {
	res := r.db.WithContext(ctx).Model(&conversationModel{}).
		Where("tenant_id = ? AND instance_id = ? AND remote_jid = ?", key.TenantID, key.InstanceID, key.RemoteJID).
		Updates(map[string]any{"status": string(status), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return common.ErrConversationNotFound
	}
	return nil
}

// Stats counts conversations with activity since the given time. Message
// totals are the lifetime counters of those conversations.
func (r *ConversationGormRepository) Stats(ctx context.Context, tenantID, instanceID string, since time.Time) (conversation.Stats, error) {
	stats := conversation.Stats{ByStatus: map[conversation.Status]int64{}}

	type row struct {
		Status   string
		Total    int64
		Messages int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&conversationModel{}).
		Select("status, COUNT(*) AS total, COALESCE(SUM(message_count), 0) AS messages").
		Where("tenant_id = ? AND instance_id = ? AND last_message_at >= ?", tenantID, instanceID, since).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return stats, err
	}
	for _, rw := range rows {
		stats.ByStatus[conversation.Status(rw.Status)] = rw.Total
		stats.Total += rw.Total
		stats.Messages += rw.Messages
	}

	err = r.db.WithContext(ctx).Model(&conversationModel{}).
		Where("tenant_id = ? AND instance_id = ? AND created_at >= ?", tenantID, instanceID, since).
		Count(&stats.NewInPeriod).Error
	return stats, err
}

func fromConversationModel(m conversationModel) conversation.Record {
	return conversation.Record{
		ID:            m.ID,
		TenantID:      m.TenantID,
		InstanceID:    m.InstanceID,
		RemoteJID:     m.RemoteJID,
		ContactName:   m.ContactName,
		Status:        conversation.Status(m.Status),
		MessageCount:  m.MessageCount,
		LastMessageAt: m.LastMessageAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}
