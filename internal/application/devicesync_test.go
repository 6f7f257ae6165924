package application

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EthanQC/IM-realtime/internal/config"
)

// 注册设备后立即给全部活跃设备推一次同步快照
func TestRegisterDeviceTriggersSync(t *testing.T) {
	gateway := newStubGateway()
	repo := newStubDeviceRepo()
	svc := NewDeviceSync(repo, newStubChat(), gateway, config.Default())
	ctx := context.Background()

	require.NoError(t, svc.RegisterDevice(ctx, "u1", "d1", "c1", "ios"))

	devices, err := svc.ActiveDevices(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.True(t, devices[0].Active)

	// 快照按连接推送
	frames := gateway.sentTo("c1")
	require.Len(t, frames, 1)
	var frame struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(frames[0], &frame))
	assert.Equal(t, "device_sync_complete", frame.Type)
}

// 断开只置为不活跃，历史保留
func TestOnDisconnectDeactivatesSession(t *testing.T) {
	gateway := newStubGateway()
	repo := newStubDeviceRepo()
	svc := NewDeviceSync(repo, newStubChat(), gateway, config.Default())
	ctx := context.Background()

	require.NoError(t, svc.RegisterDevice(ctx, "u1", "d1", "c1", "ios"))
	svc.OnDisconnect(ctx, "u1", "c1")

	devices, err := svc.ActiveDevices(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, devices)

	// 会话记录本身还在
	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Len(t, repo.sessions, 1)
}

// 周期同步只覆盖在线的多端用户
func TestSweepSyncsMultiDeviceUsersOnly(t *testing.T) {
	gateway := newStubGateway()
	repo := newStubDeviceRepo()
	svc := NewDeviceSync(repo, newStubChat(), gateway, config.Default())
	ctx := context.Background()

	// u1 两台设备在线，u2 一台
	require.NoError(t, svc.RegisterDevice(ctx, "u1", "d1", "c1", "ios"))
	require.NoError(t, svc.RegisterDevice(ctx, "u1", "d2", "c2", "web"))
	require.NoError(t, svc.RegisterDevice(ctx, "u2", "d3", "c3", "android"))
	gateway.setOnline("u1", true)
	gateway.setOnline("u2", true)

	before1 := len(gateway.sentTo("c1"))
	before3 := len(gateway.sentTo("c3"))

	svc.SweepOnce(ctx)

	assert.Greater(t, len(gateway.sentTo("c1")), before1, "多端用户应收到周期同步")
	assert.Equal(t, before3, len(gateway.sentTo("c3")), "单设备用户不参与周期同步")
}
