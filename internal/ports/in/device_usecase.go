package in

import (
	"context"

	"github.com/EthanQC/IM-realtime/internal/domain/entity"
)

// DeviceUseCase 设备会话与多端同步用例
type DeviceUseCase interface {
	// RegisterDevice 注册设备会话并触发一次同步
	RegisterDevice(ctx context.Context, userID, deviceID, connID, platform string) error
	// OnDisconnect 连接断开时把对应设备会话置为不活跃
	OnDisconnect(ctx context.Context, userID, connID string)
	// Synchronize 给该用户全部活跃设备推送同步快照
	Synchronize(ctx context.Context, userID string) error
	// ActiveDevices 活跃设备列表
	ActiveDevices(ctx context.Context, userID string) ([]*entity.DeviceSession, error)
	// SweepOnce 给多端在线用户跑一轮周期同步（测试可单步驱动）
	SweepOnce(ctx context.Context)
	// Start 启动周期同步
	Start(ctx context.Context) error
	// Stop 停止周期同步
	Stop()
}
