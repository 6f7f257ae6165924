package in

import (
	"context"

	"github.com/EthanQC/IM-realtime/internal/domain/entity"
)

// HealthUseCase 连接健康监测用例
type HealthUseCase interface {
	// Register 纳入监测，幂等
	Register(connID string)
	// Unregister 移出监测，幂等
	Unregister(connID string)
	// Ack 收到探测应答
	Ack(connID string)
	// SweepOnce 执行一轮探测（测试可单步驱动）
	SweepOnce(ctx context.Context)
	// HealthOf 查询单连接健康记录
	HealthOf(connID string) (*entity.ConnectionHealth, bool)
	// Unhealthy 当前不健康的连接列表
	Unhealthy() []string
	// Stats 健康汇总
	Stats() entity.HealthStats
	// Start 启动后台探测
	Start(ctx context.Context) error
	// Stop 停止后台探测
	Stop()
}
