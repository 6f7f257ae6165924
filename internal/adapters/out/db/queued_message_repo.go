package db

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/EthanQC/IM-realtime/internal/domain/entity"
	"github.com/EthanQC/IM-realtime/internal/ports/out"
)

// QueuedMessageModel GORM模型
type QueuedMessageModel struct {
	ID          string    `gorm:"column:id;type:varchar(36);primaryKey"`
	UserID      string    `gorm:"column:user_id;type:varchar(36);not null;index"`
	Payload     string    `gorm:"column:payload;type:json;not null"`
	Status      int8      `gorm:"column:status;not null;default:0;index"`
	RetryCount  int       `gorm:"column:retry_count;not null;default:0"`
	MaxRetries  int       `gorm:"column:max_retries;not null"`
	NextRetryAt int64     `gorm:"column:next_retry_at;not null"`
	EnqueuedAt  time.Time `gorm:"column:enqueued_at;not null;index"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (QueuedMessageModel) TableName() string {
	return "queued_messages"
}

func (m *QueuedMessageModel) toEntity() *entity.QueuedMessage {
	return &entity.QueuedMessage{
		ID:          m.ID,
		UserID:      m.UserID,
		Payload:     m.Payload,
		Status:      entity.QueueStatus(m.Status),
		RetryCount:  m.RetryCount,
		MaxRetries:  m.MaxRetries,
		NextRetryAt: time.Unix(m.NextRetryAt, 0),
		EnqueuedAt:  m.EnqueuedAt,
	}
}

func queuedMessageModelFromEntity(e *entity.QueuedMessage) *QueuedMessageModel {
	return &QueuedMessageModel{
		ID:          e.ID,
		UserID:      e.UserID,
		Payload:     e.Payload,
		Status:      int8(e.Status),
		RetryCount:  e.RetryCount,
		MaxRetries:  e.MaxRetries,
		NextRetryAt: e.NextRetryAt.Unix(),
		EnqueuedAt:  e.EnqueuedAt,
	}
}

// QueuedMessageRepositoryMySQL MySQL离线消息仓储实现
type QueuedMessageRepositoryMySQL struct {
	db *gorm.DB
}

func NewQueuedMessageRepositoryMySQL(db *gorm.DB) out.QueuedMessageRepository {
	return &QueuedMessageRepositoryMySQL{db: db}
}

func (r *QueuedMessageRepositoryMySQL) Save(ctx context.Context, msg *entity.QueuedMessage) error {
	return r.db.WithContext(ctx).Create(queuedMessageModelFromEntity(msg)).Error
}

// LoadPending 按入队时间升序，保证补投顺序与入队顺序一致
func (r *QueuedMessageRepositoryMySQL) LoadPending(ctx context.Context, userID string, limit int) ([]*entity.QueuedMessage, error) {
	q := r.db.WithContext(ctx).
		Where("status = ?", int8(entity.QueueStatusPending)).
		Order("enqueued_at ASC")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var models []QueuedMessageModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}

	msgs := make([]*entity.QueuedMessage, len(models))
	for i := range models {
		msgs[i] = models[i].toEntity()
	}
	return msgs, nil
}

func (r *QueuedMessageRepositoryMySQL) UpdateRetry(ctx context.Context, id string, retryCount int, nextRetryAt int64) error {
	return r.db.WithContext(ctx).
		Model(&QueuedMessageModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count":   retryCount,
			"next_retry_at": nextRetryAt,
		}).Error
}

func (r *QueuedMessageRepositoryMySQL) MarkDelivered(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, entity.QueueStatusDelivered)
}

func (r *QueuedMessageRepositoryMySQL) MarkFailed(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, entity.QueueStatusFailed)
}

func (r *QueuedMessageRepositoryMySQL) markStatus(ctx context.Context, id string, status entity.QueueStatus) error {
	return r.db.WithContext(ctx).
		Model(&QueuedMessageModel{}).
		Where("id = ?", id).
		Update("status", int8(status)).Error
}

// DeleteFinished 清理早于 before 的终态记录，返回删除条数
func (r *QueuedMessageRepositoryMySQL) DeleteFinished(ctx context.Context, before int64) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?",
			[]int8{int8(entity.QueueStatusDelivered), int8(entity.QueueStatusFailed)},
			time.Unix(before, 0)).
		Delete(&QueuedMessageModel{})
	return result.RowsAffected, result.Error
}
