package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EthanQC/IM-realtime/internal/config"
	"github.com/EthanQC/IM-realtime/internal/domain/entity"
)

func newReconnectFixture(cfg config.Config) (*ReconnectTrackerImpl, *stubGateway) {
	gateway := newStubGateway()
	health := NewHealthMonitor(gateway, cfg)
	delivery := NewDeliveryQueue(newStubQueuedRepo(), gateway, cfg)
	device := NewDeviceSync(newStubDeviceRepo(), newStubChat(), gateway, cfg)
	tracker := NewReconnectTracker(gateway, health, delivery, device, cfg).(*ReconnectTrackerImpl)
	return tracker, gateway
}

// 重复开窗不重置进度，只刷新失败原因
func TestScheduleKeepsProgress(t *testing.T) {
	tracker, _ := newReconnectFixture(config.Default())
	ctx := context.Background()

	tracker.Schedule(ctx, "u1", "", "close code 1006")
	tracker.SweepOnce(ctx)

	rec, ok := tracker.Status("u1")
	require.True(t, ok)
	require.Equal(t, 1, rec.Attempts)

	tracker.Schedule(ctx, "u1", "", "close code 4004")
	rec, ok = tracker.Status("u1")
	require.True(t, ok)
	assert.Equal(t, 1, rec.Attempts, "已有记录不应重置进度")
	assert.Equal(t, "close code 4004", rec.LastReason)
}

// 每轮调度推进退避：间隔指数增长并封顶
func TestSweepAdvancesExponentialBackoff(t *testing.T) {
	cfg := config.Default()
	cfg.ReconnectBackoff = time.Second
	cfg.ReconnectCap = 4 * time.Second
	tracker, _ := newReconnectFixture(cfg)
	ctx := context.Background()

	tracker.Schedule(ctx, "u1", "", "network error")

	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}
	for i, want := range expected {
		// 人为把到期时间拨回过去，驱动下一轮
		tracker.mu.Lock()
		tracker.attempts["u1"].NextAttemptAt = time.Now().Add(-time.Millisecond)
		tracker.mu.Unlock()

		before := time.Now()
		tracker.SweepOnce(ctx)

		rec, ok := tracker.Status("u1")
		require.True(t, ok)
		require.Equal(t, i+1, rec.Attempts)
		gap := rec.NextAttemptAt.Sub(before)
		assert.InDelta(t, want.Seconds(), gap.Seconds(), 0.1)
	}
}

// 未到期的记录整轮跳过
func TestSweepSkipsNotDueRecords(t *testing.T) {
	tracker, _ := newReconnectFixture(config.Default())
	ctx := context.Background()

	tracker.Schedule(ctx, "u1", "", "network error")
	tracker.mu.Lock()
	tracker.attempts["u1"].NextAttemptAt = time.Now().Add(time.Hour)
	tracker.mu.Unlock()

	tracker.SweepOnce(ctx)
	rec, ok := tracker.Status("u1")
	require.True(t, ok)
	assert.Equal(t, 0, rec.Attempts)
}

// 用户已经在线则直接收尾删记录
func TestSweepCancelsWhenUserBackOnline(t *testing.T) {
	tracker, gateway := newReconnectFixture(config.Default())
	ctx := context.Background()

	tracker.Schedule(ctx, "u1", "", "network error")
	gateway.setOnline("u1", true)
	tracker.SweepOnce(ctx)

	_, ok := tracker.Status("u1")
	assert.False(t, ok)
}

// 尝试耗尽后删除记录，不再调度
func TestSweepRemovesExhaustedRecord(t *testing.T) {
	cfg := config.Default()
	cfg.ReconnectMax = 2
	tracker, _ := newReconnectFixture(cfg)
	ctx := context.Background()

	tracker.Schedule(ctx, "u1", "", "network error")
	for i := 0; i < cfg.ReconnectMax+1; i++ {
		tracker.mu.Lock()
		if rec, ok := tracker.attempts["u1"]; ok {
			rec.NextAttemptAt = time.Now().Add(-time.Millisecond)
		}
		tracker.mu.Unlock()
		tracker.SweepOnce(ctx)
	}

	_, ok := tracker.Status("u1")
	assert.False(t, ok)
}

// 强制重连：关闭全部连接并立即开窗
func TestForceClosesAndSchedules(t *testing.T) {
	tracker, gateway := newReconnectFixture(config.Default())
	ctx := context.Background()

	gateway.setOnline("u1", true)
	closed := tracker.Force(ctx, "u1", "rolling restart")

	assert.Equal(t, 1, closed)
	assert.Equal(t, entity.CloseForceReconnect, gateway.closed["user:u1"])

	rec, ok := tracker.Status("u1")
	require.True(t, ok)
	assert.Equal(t, "rolling restart", rec.LastReason)
}

// 重连成功：删记录并触发离线补投
func TestOnReconnectedDrainsQueue(t *testing.T) {
	cfg := config.Default()
	gateway := newStubGateway()
	health := NewHealthMonitor(gateway, cfg)
	delivery := NewDeliveryQueue(newStubQueuedRepo(), gateway, cfg)
	device := NewDeviceSync(newStubDeviceRepo(), newStubChat(), gateway, cfg)
	tracker := NewReconnectTracker(gateway, health, delivery, device, cfg)
	ctx := context.Background()

	_, err := delivery.Enqueue(ctx, "u1", []byte(`{"type":"message"}`))
	require.NoError(t, err)

	tracker.Schedule(ctx, "u1", "", "network error")
	gateway.setOnline("u1", true)
	tracker.OnReconnected(ctx, "u1", "conn-1", "")

	_, ok := tracker.Status("u1")
	assert.False(t, ok)
	assert.Equal(t, 0, delivery.QueuedCount("u1"))
	assert.NotEmpty(t, gateway.sentTo("u1"))

	// 同时恢复健康监测
	_, registered := health.HealthOf("conn-1")
	assert.True(t, registered)
}
