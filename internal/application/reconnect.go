package application

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/EthanQC/IM-realtime/internal/config"
	"github.com/EthanQC/IM-realtime/internal/domain/backoff"
	"github.com/EthanQC/IM-realtime/internal/domain/entity"
	"github.com/EthanQC/IM-realtime/internal/ports/in"
	"github.com/EthanQC/IM-realtime/internal/ports/out"
)

// ReconnectTrackerImpl 重连窗口实现
// 意外断开后按指数退避记账每用户的重连预期；不主动建连，重连由客户端发起
type ReconnectTrackerImpl struct {
	gateway  out.ConnectionGateway
	health   in.HealthUseCase
	delivery in.DeliveryUseCase
	device   in.DeviceUseCase
	cfg      config.Config

	mu       sync.Mutex
	attempts map[string]*entity.ReconnectionAttempt

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReconnectTracker 创建重连跟踪器
func NewReconnectTracker(
	gateway out.ConnectionGateway,
	health in.HealthUseCase,
	delivery in.DeliveryUseCase,
	device in.DeviceUseCase,
	cfg config.Config,
) in.ReconnectUseCase {
	return &ReconnectTrackerImpl{
		gateway:  gateway,
		health:   health,
		delivery: delivery,
		device:   device,
		cfg:      cfg,
		attempts: make(map[string]*entity.ReconnectionAttempt),
	}
}

// Schedule 开启重连窗口；已有记录只刷新失败原因，不重置进度
func (t *ReconnectTrackerImpl) Schedule(ctx context.Context, userID, deviceID, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.attempts[userID]; ok {
		rec.LastReason = reason
		return
	}

	now := time.Now()
	t.attempts[userID] = &entity.ReconnectionAttempt{
		UserID:        userID,
		DeviceID:      deviceID,
		Attempts:      0,
		MaxAttempts:   t.cfg.ReconnectMax,
		NextAttemptAt: now,
		LastReason:    reason,
		CreatedAt:     now,
	}
	zap.L().Info("reconnection window opened",
		zap.String("userID", userID),
		zap.String("reason", reason))
}

// SweepOnce 执行一轮调度
// 跳过未到期的记录；删除已耗尽或用户已在线的记录；其余推进退避进度
func (t *ReconnectTrackerImpl) SweepOnce(ctx context.Context) {
	now := time.Now()

	t.mu.Lock()
	snapshot := make([]*entity.ReconnectionAttempt, 0, len(t.attempts))
	for _, rec := range t.attempts {
		snapshot = append(snapshot, rec)
	}
	t.mu.Unlock()

	for _, rec := range snapshot {
		if rec.NextAttemptAt.After(now) {
			continue
		}
		if rec.Exhausted() {
			zap.L().Warn("reconnection attempts exhausted",
				zap.String("userID", rec.UserID),
				zap.Int("attempts", rec.Attempts),
				zap.String("lastReason", rec.LastReason))
			t.Cancel(rec.UserID)
			continue
		}
		// 客户端可能已经自己重连成功了，直接收尾
		if t.gateway.IsOnline(rec.UserID) {
			t.Cancel(rec.UserID)
			continue
		}

		t.mu.Lock()
		rec.Attempts++
		rec.NextAttemptAt = now.Add(backoff.Delay(t.cfg.ReconnectBackoff, t.cfg.ReconnectCap, rec.Attempts))
		t.mu.Unlock()
	}
}

// OnReconnected 重新认证成功：删记录、恢复健康监测、补投离线消息、多端同步
func (t *ReconnectTrackerImpl) OnReconnected(ctx context.Context, userID, connID, deviceID string) {
	t.Cancel(userID)
	t.health.Register(connID)

	if err := t.delivery.Drain(ctx, userID); err != nil {
		zap.L().Warn("drain after reconnect failed", zap.String("userID", userID), zap.Error(err))
	}
	if err := t.device.Synchronize(ctx, userID); err != nil {
		zap.L().Warn("device sync after reconnect failed", zap.String("userID", userID), zap.Error(err))
	}
}

// Force 运维强制重连：关闭该用户全部连接并立即开窗
func (t *ReconnectTrackerImpl) Force(ctx context.Context, userID, reason string) int {
	closed := t.gateway.CloseUser(userID, entity.CloseForceReconnect, reason)
	t.Schedule(ctx, userID, "", reason)
	zap.L().Info("forced reconnection",
		zap.String("userID", userID),
		zap.Int("closed", closed),
		zap.String("reason", reason))
	return closed
}

// Cancel 删除窗口记录
func (t *ReconnectTrackerImpl) Cancel(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.attempts, userID)
}

// Status 查询窗口记录
func (t *ReconnectTrackerImpl) Status(userID string) (*entity.ReconnectionAttempt, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.attempts[userID]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// Start 启动后台调度
func (t *ReconnectTrackerImpl) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.cfg.ReconnectSweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.SweepOnce(ctx)
			}
		}
	}()
	return nil
}

// Stop 停止后台调度
func (t *ReconnectTrackerImpl) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}
