package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/EthanQC/IM-realtime/internal/config"
	"github.com/EthanQC/IM-realtime/internal/domain/entity"
	"github.com/EthanQC/IM-realtime/internal/ports/in"
	"github.com/EthanQC/IM-realtime/internal/ports/out"
)

// ConnectServiceImpl 连接生命周期用例实现
// 认证成功和断开清理是在线状态唯一的翻转点，保证 presence 与连接索引同步变化
type ConnectServiceImpl struct {
	gateway   out.ConnectionGateway
	verifier  out.TokenVerifier
	presence  out.PresenceMirror
	health    in.HealthUseCase
	reconnect in.ReconnectUseCase
	delivery  in.DeliveryUseCase
	device    in.DeviceUseCase
	cfg       config.Config
}

// NewConnectService 创建连接用例
func NewConnectService(
	gateway out.ConnectionGateway,
	verifier out.TokenVerifier,
	presence out.PresenceMirror,
	health in.HealthUseCase,
	reconnect in.ReconnectUseCase,
	delivery in.DeliveryUseCase,
	device in.DeviceUseCase,
	cfg config.Config,
) in.ConnectionUseCase {
	return &ConnectServiceImpl{
		gateway:   gateway,
		verifier:  verifier,
		presence:  presence,
		health:    health,
		reconnect: reconnect,
		delivery:  delivery,
		device:    device,
		cfg:       cfg,
	}
}

// Authenticate 校验凭证并把连接提升为 authenticated
// 成功路径：绑定用户 → 纳入健康监测 → 取消重连窗口 → 在线广播 → 补投 → 多端同步
func (s *ConnectServiceImpl) Authenticate(ctx context.Context, connID, token string) (*entity.User, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
	defer cancel()

	user, err := s.verifier.Verify(cctx, token)
	if err != nil {
		zap.L().Warn("authentication failed",
			zap.String("connID", connID), zap.Error(err))
		return nil, err
	}

	firstConn, err := s.gateway.MarkAuthenticated(connID, user.ID)
	if err != nil {
		return nil, fmt.Errorf("bind connection failed: %w", err)
	}

	if firstConn {
		s.broadcastPresence(user.ID, true)
	}
	if err := s.presence.SetOnline(cctx, user.ID, connID, ""); err != nil {
		zap.L().Warn("presence mirror update failed",
			zap.String("userID", user.ID), zap.Error(err))
	}

	// 删除重连窗口、恢复健康监测、补投离线消息、多端同步
	s.reconnect.OnReconnected(ctx, user.ID, connID, "")

	zap.L().Info("connection authenticated",
		zap.String("connID", connID),
		zap.String("userID", user.ID),
		zap.Bool("firstConn", firstConn))
	return user, nil
}

// Disconnected 传输层关闭后的统一清理
// 清理索引、健康记录、设备会话；最后一条连接断开时翻转 presence 并按关闭码决定开窗
func (s *ConnectServiceImpl) Disconnected(ctx context.Context, connID string, code int, reason string) {
	conn, remaining, ok := s.gateway.Unregister(connID)
	if !ok {
		return
	}
	s.health.Unregister(connID)

	if conn.UserID == "" {
		// 未认证连接，没有 presence 相关状态
		return
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
	if err := s.presence.SetOffline(cctx, conn.UserID, connID); err != nil {
		zap.L().Warn("presence mirror removal failed",
			zap.String("userID", conn.UserID), zap.Error(err))
	}
	cancel()

	s.device.OnDisconnect(ctx, conn.UserID, connID)

	if remaining == 0 {
		s.broadcastPresence(conn.UserID, false)
		if entity.ShouldReconnect(code) {
			s.reconnect.Schedule(ctx, conn.UserID, "", fmt.Sprintf("close code %d: %s", code, reason))
		}
	}

	zap.L().Info("connection closed",
		zap.String("connID", connID),
		zap.String("userID", conn.UserID),
		zap.Int("code", code),
		zap.Int("remaining", remaining))
}

// Heartbeat 应用层心跳，同时视作健康探测应答并给镜像标记续期
func (s *ConnectServiceImpl) Heartbeat(ctx context.Context, connID string) {
	s.gateway.TouchHeartbeat(connID)
	s.health.Ack(connID)

	// 镜像标记带 TTL，长连接靠心跳续期，否则在线用户会从镜像里过期消失
	conn, ok := s.gateway.Get(connID)
	if !ok || conn.UserID == "" {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
	defer cancel()
	if err := s.presence.Refresh(cctx, conn.UserID, connID); err != nil {
		zap.L().Warn("presence mirror refresh failed",
			zap.String("userID", conn.UserID), zap.Error(err))
	}
}

// Status 连接状态查询
func (s *ConnectServiceImpl) Status(ctx context.Context, connID string) (*in.ConnectionStatus, error) {
	conn, ok := s.gateway.Get(connID)
	if !ok {
		return nil, out.ErrConnNotFound
	}

	status := &in.ConnectionStatus{
		ConnectionID:  connID,
		Authenticated: conn.IsAuthenticated(),
		Timestamp:     time.Now(),
	}
	if rec, ok := s.health.HealthOf(connID); ok {
		status.Health = rec
	}
	if conn.UserID != "" {
		status.QueuedMessages = s.delivery.QueuedCount(conn.UserID)
		if devices, err := s.device.ActiveDevices(ctx, conn.UserID); err == nil {
			status.ActiveDevices = len(devices)
		}
	}
	return status, nil
}

// IsOnline 供 REST 层查询
func (s *ConnectServiceImpl) IsOnline(ctx context.Context, userID string) bool {
	return s.gateway.IsOnline(userID)
}

// Stats 聚合统计
func (s *ConnectServiceImpl) Stats(ctx context.Context) in.CoreStats {
	return in.CoreStats{
		Connections: s.gateway.Stats(),
		Health:      s.health.Stats(),
		Queue:       s.delivery.Stats(),
	}
}

// broadcastPresence 向全部已认证连接广播某用户的上下线
func (s *ConnectServiceImpl) broadcastPresence(userID string, online bool) {
	s.gateway.Broadcast(outFrame("presence", map[string]any{
		"userId": userID,
		"online": online,
	}))
}
