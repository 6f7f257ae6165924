package db

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/EthanQC/IM-realtime/internal/domain/entity"
	"github.com/EthanQC/IM-realtime/internal/ports/out"
)

// DeviceSessionModel GORM模型
type DeviceSessionModel struct {
	UserID       string    `gorm:"column:user_id;type:varchar(36);primaryKey"`
	DeviceID     string    `gorm:"column:device_id;type:varchar(64);primaryKey"`
	ConnectionID string    `gorm:"column:connection_id;type:varchar(36);index"`
	Platform     string    `gorm:"column:platform;type:varchar(32)"`
	Active       bool      `gorm:"column:active;not null;default:false;index"`
	LastSyncAt   int64     `gorm:"column:last_sync_at;not null;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (DeviceSessionModel) TableName() string {
	return "device_sessions"
}

func (m *DeviceSessionModel) toEntity() *entity.DeviceSession {
	return &entity.DeviceSession{
		UserID:       m.UserID,
		DeviceID:     m.DeviceID,
		ConnectionID: m.ConnectionID,
		Platform:     m.Platform,
		Active:       m.Active,
		LastSyncAt:   time.Unix(m.LastSyncAt, 0),
		CreatedAt:    m.CreatedAt,
	}
}

// DeviceSessionRepositoryMySQL MySQL设备会话仓储实现
type DeviceSessionRepositoryMySQL struct {
	db *gorm.DB
}

func NewDeviceSessionRepositoryMySQL(db *gorm.DB) out.DeviceSessionRepository {
	return &DeviceSessionRepositoryMySQL{db: db}
}

// Upsert 同一 (user, device) 重复注册时刷新连接与活跃标记
func (r *DeviceSessionRepositoryMySQL) Upsert(ctx context.Context, s *entity.DeviceSession) error {
	model := &DeviceSessionModel{
		UserID:       s.UserID,
		DeviceID:     s.DeviceID,
		ConnectionID: s.ConnectionID,
		Platform:     s.Platform,
		Active:       s.Active,
		LastSyncAt:   s.LastSyncAt.Unix(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "device_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"connection_id", "platform", "active",
			}),
		}).
		Create(model).Error
}

func (r *DeviceSessionRepositoryMySQL) DeactivateByConn(ctx context.Context, userID, connID string) error {
	return r.db.WithContext(ctx).
		Model(&DeviceSessionModel{}).
		Where("user_id = ? AND connection_id = ?", userID, connID).
		Updates(map[string]interface{}{
			"active":        false,
			"connection_id": "",
		}).Error
}

func (r *DeviceSessionRepositoryMySQL) ActiveByUser(ctx context.Context, userID string) ([]*entity.DeviceSession, error) {
	var models []DeviceSessionModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	sessions := make([]*entity.DeviceSession, len(models))
	for i := range models {
		sessions[i] = models[i].toEntity()
	}
	return sessions, nil
}

func (r *DeviceSessionRepositoryMySQL) UsersWithActiveDevices(ctx context.Context, min int) ([]string, error) {
	var userIDs []string
	err := r.db.WithContext(ctx).
		Model(&DeviceSessionModel{}).
		Where("active = ?", true).
		Group("user_id").
		Having("COUNT(*) >= ?", min).
		Pluck("user_id", &userIDs).Error
	return userIDs, err
}

func (r *DeviceSessionRepositoryMySQL) TouchSync(ctx context.Context, userID, deviceID string, at int64) error {
	return r.db.WithContext(ctx).
		Model(&DeviceSessionModel{}).
		Where("user_id = ? AND device_id = ?", userID, deviceID).
		Update("last_sync_at", at).Error
}
