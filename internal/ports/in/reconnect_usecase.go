package in

import (
	"context"

	"github.com/EthanQC/IM-realtime/internal/domain/entity"
)

// ReconnectUseCase 重连窗口用例
// 服务端不主动建连，只节流与记账，重连由客户端发起
type ReconnectUseCase interface {
	// Schedule 意外断开时开窗；已有记录只刷新原因，不重置进度
	Schedule(ctx context.Context, userID, deviceID, reason string)
	// OnReconnected 重新认证成功，删除记录并触发补投与多端同步
	OnReconnected(ctx context.Context, userID, connID, deviceID string)
	// Force 运维强制重连：关闭全部连接并立即开窗，返回关闭连接数
	Force(ctx context.Context, userID, reason string) int
	// Cancel 删除某用户的窗口记录
	Cancel(userID string)
	// SweepOnce 执行一轮调度（测试可单步驱动）
	SweepOnce(ctx context.Context)
	// Status 查询窗口记录
	Status(userID string) (*entity.ReconnectionAttempt, bool)
	// Start 启动后台调度
	Start(ctx context.Context) error
	// Stop 停止后台调度
	Stop()
}
