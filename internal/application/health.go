package application

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/EthanQC/IM-realtime/internal/config"
	"github.com/EthanQC/IM-realtime/internal/domain/entity"
	"github.com/EthanQC/IM-realtime/internal/ports/in"
	"github.com/EthanQC/IM-realtime/internal/ports/out"
)

// HealthMonitorImpl 健康监测实现
// 周期性对每条注册连接发探测帧，连续未应答达到阈值即判定失活并强制关闭
type HealthMonitorImpl struct {
	gateway out.ConnectionGateway
	cfg     config.Config

	mu      sync.RWMutex
	records map[string]*entity.ConnectionHealth

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHealthMonitor 创建健康监测器
func NewHealthMonitor(gateway out.ConnectionGateway, cfg config.Config) in.HealthUseCase {
	return &HealthMonitorImpl{
		gateway: gateway,
		cfg:     cfg,
		records: make(map[string]*entity.ConnectionHealth),
	}
}

// Register 纳入监测，幂等
func (m *HealthMonitorImpl) Register(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[connID]; ok {
		return
	}
	m.records[connID] = &entity.ConnectionHealth{
		ConnectionID: connID,
		LastAckAt:    time.Now(),
		Healthy:      true,
	}
}

// Unregister 移出监测，幂等
func (m *HealthMonitorImpl) Unregister(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, connID)
}

// Ack 收到探测应答：清零未应答计数并记录时延
func (m *HealthMonitorImpl) Ack(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[connID]
	if !ok {
		return
	}
	now := time.Now()
	if !rec.LastProbeAt.IsZero() {
		rec.Latency = now.Sub(rec.LastProbeAt)
	}
	rec.LastAckAt = now
	rec.MissedProbes = 0
	rec.Healthy = true
}

// SweepOnce 执行一轮探测
// 先持锁算出要关闭和要探测的连接，再在锁外执行副作用，避免阻塞前台路径
func (m *HealthMonitorImpl) SweepOnce(ctx context.Context) {
	now := time.Now()
	var toClose, toProbe []string

	m.mu.Lock()
	for id, rec := range m.records {
		probeOutstanding := !rec.LastProbeAt.IsZero() && rec.LastAckAt.Before(rec.LastProbeAt)
		if probeOutstanding && now.Sub(rec.LastProbeAt) > m.cfg.ProbeTimeout {
			rec.MissedProbes++
			if rec.MissedProbes >= m.cfg.MaxMissed {
				rec.Healthy = false
				toClose = append(toClose, id)
				continue
			}
		}
		rec.LastProbeAt = now
		toProbe = append(toProbe, id)
	}
	m.mu.Unlock()

	for _, id := range toClose {
		zap.L().Warn("connection unhealthy, forcing close",
			zap.String("connID", id),
			zap.Int("maxMissed", m.cfg.MaxMissed))
		_ = m.gateway.Close(id, entity.CloseUnhealthy, "health probes missed")
	}
	for _, id := range toProbe {
		if err := m.gateway.Probe(id); err != nil {
			zap.L().Debug("probe send failed", zap.String("connID", id), zap.Error(err))
		}
	}
}

// HealthOf 查询单连接健康记录
func (m *HealthMonitorImpl) HealthOf(connID string) (*entity.ConnectionHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[connID]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// Unhealthy 当前不健康的连接列表
func (m *HealthMonitorImpl) Unhealthy() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, rec := range m.records {
		if !rec.Healthy {
			ids = append(ids, id)
		}
	}
	return ids
}

// Stats 健康汇总
func (m *HealthMonitorImpl) Stats() entity.HealthStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats entity.HealthStats
	var total time.Duration
	var measured int
	for _, rec := range m.records {
		if rec.Healthy {
			stats.Healthy++
		} else {
			stats.Unhealthy++
		}
		if rec.Latency > 0 {
			total += rec.Latency
			measured++
		}
	}
	if measured > 0 {
		stats.AvgLatency = total / time.Duration(measured)
	}
	return stats
}

// Start 启动后台探测
func (m *HealthMonitorImpl) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.ProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.SweepOnce(ctx)
			}
		}
	}()
	return nil
}

// Stop 停止后台探测
func (m *HealthMonitorImpl) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
