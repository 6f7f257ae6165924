package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/EthanQC/IM-realtime/internal/config"
	"github.com/EthanQC/IM-realtime/internal/domain/entity"
	"github.com/EthanQC/IM-realtime/internal/ports/in"
	"github.com/EthanQC/IM-realtime/internal/ports/out"
)

// DeviceSyncImpl 设备会话与多端同步实现
// 注册/重连后按需同步，在线多端用户周期性推送会话快照
type DeviceSyncImpl struct {
	repo    out.DeviceSessionRepository
	chat    out.ChatService
	gateway out.ConnectionGateway
	cfg     config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDeviceSync 创建设备同步服务
func NewDeviceSync(
	repo out.DeviceSessionRepository,
	chat out.ChatService,
	gateway out.ConnectionGateway,
	cfg config.Config,
) in.DeviceUseCase {
	return &DeviceSyncImpl{repo: repo, chat: chat, gateway: gateway, cfg: cfg}
}

// RegisterDevice 注册设备会话并立即同步一次
func (s *DeviceSyncImpl) RegisterDevice(ctx context.Context, userID, deviceID, connID, platform string) error {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
	defer cancel()

	session := &entity.DeviceSession{
		UserID:       userID,
		DeviceID:     deviceID,
		ConnectionID: connID,
		Platform:     platform,
		Active:       true,
		CreatedAt:    time.Now(),
	}
	if err := s.repo.Upsert(cctx, session); err != nil {
		return fmt.Errorf("register device failed: %w", err)
	}

	if err := s.Synchronize(ctx, userID); err != nil {
		zap.L().Warn("sync after device registration failed",
			zap.String("userID", userID), zap.Error(err))
	}
	return nil
}

// OnDisconnect 连接断开时把对应设备会话置为不活跃，历史保留
func (s *DeviceSyncImpl) OnDisconnect(ctx context.Context, userID, connID string) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
	defer cancel()

	if err := s.repo.DeactivateByConn(cctx, userID, connID); err != nil {
		zap.L().Warn("deactivate device session failed",
			zap.String("userID", userID),
			zap.String("connID", connID),
			zap.Error(err))
	}
}

// Synchronize 给该用户全部活跃设备推送同步快照（最近会话预览 + 未读数）
func (s *DeviceSyncImpl) Synchronize(ctx context.Context, userID string) error {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
	defer cancel()

	devices, err := s.repo.ActiveByUser(cctx, userID)
	if err != nil {
		return fmt.Errorf("load active devices failed: %w", err)
	}
	if len(devices) == 0 {
		return nil
	}

	previews, err := s.chat.RecentPreviews(cctx, userID, 20)
	if err != nil {
		return fmt.Errorf("load previews failed: %w", err)
	}
	unread, err := s.chat.UnreadCount(cctx, userID, "")
	if err != nil {
		return fmt.Errorf("load unread count failed: %w", err)
	}

	now := time.Now()
	frame := outFrame("device_sync_complete", map[string]any{
		"previews":    previews,
		"unreadTotal": unread,
		"devices":     len(devices),
		"syncedAt":    now.Format(time.RFC3339),
	})

	for _, d := range devices {
		if d.ConnectionID == "" {
			continue
		}
		// 设备可能正在断开，单个失败不影响其它设备
		if err := s.gateway.SendToConn(d.ConnectionID, frame); err != nil {
			continue
		}
		_ = s.repo.TouchSync(cctx, userID, d.DeviceID, now.Unix())
	}
	return nil
}

// ActiveDevices 活跃设备列表
func (s *DeviceSyncImpl) ActiveDevices(ctx context.Context, userID string) ([]*entity.DeviceSession, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
	defer cancel()
	return s.repo.ActiveByUser(cctx, userID)
}

// SweepOnce 给在线的多端用户跑一轮周期同步
func (s *DeviceSyncImpl) SweepOnce(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
	users, err := s.repo.UsersWithActiveDevices(cctx, 2)
	cancel()
	if err != nil {
		zap.L().Warn("list multi-device users failed", zap.Error(err))
		return
	}

	for _, userID := range users {
		if !s.gateway.IsOnline(userID) {
			continue
		}
		if err := s.Synchronize(ctx, userID); err != nil {
			zap.L().Warn("periodic device sync failed",
				zap.String("userID", userID), zap.Error(err))
		}
	}
}

// Start 启动周期同步
func (s *DeviceSyncImpl) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.DeviceSyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SweepOnce(ctx)
			}
		}
	}()
	return nil
}

// Stop 停止周期同步
func (s *DeviceSyncImpl) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
