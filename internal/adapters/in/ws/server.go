package ws

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/EthanQC/IM-realtime/internal/config"
	"github.com/EthanQC/IM-realtime/internal/domain/entity"
)

// Server WebSocket 接入层：升级、注册、起读写协程
type Server struct {
	registry *Registry
	uc       UseCases
	cfg      config.Config
	upgrader websocket.Upgrader
}

// NewServer 创建 WebSocket 服务
func NewServer(registry *Registry, uc UseCases, cfg config.Config) *Server {
	return &Server{
		registry: registry,
		uc:       uc,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // 生产环境应该校验Origin
			},
		},
	}
}

// HandleConnection 处理一次 WebSocket 握手
// 升级成功即注册为 pending 连接并下发 connection_ack，认证窗口从这里开始计时
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("WebSocket upgrade error", zap.Error(err))
		return
	}

	connID := uuid.NewString()
	meta := entity.NewConnection(connID, r.RemoteAddr, r.UserAgent())
	wsc := newWSConn(connID, conn, s.uc, s.cfg)

	s.registry.Register(wsc, meta)

	go wsc.writePump()
	go wsc.readPump()

	wsc.reply(frameConnectionAck, map[string]any{
		"connectionId":      connID,
		"authWindowSeconds": int(s.cfg.AuthWindow.Seconds()),
	}, "")
}
