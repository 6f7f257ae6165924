package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/EthanQC/IM-realtime/internal/adapters/in/ws"
	"github.com/EthanQC/IM-realtime/internal/ports/in"
	"github.com/EthanQC/IM-realtime/pkg/zlog"
)

// Router 实时核心的 HTTP 面：WS 升级入口、健康检查与内部运维接口
type Router struct {
	wsServer  *ws.Server
	connUC    in.ConnectionUseCase
	reconnect in.ReconnectUseCase
}

// NewRouter 创建 HTTP 路由
func NewRouter(wsServer *ws.Server, connUC in.ConnectionUseCase, reconnect in.ReconnectUseCase) *Router {
	return &Router{wsServer: wsServer, connUC: connUC, reconnect: reconnect}
}

// Setup 挂载路由
func (r *Router) Setup() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), zlog.GinLogger())

	engine.GET("/ws", func(c *gin.Context) {
		r.wsServer.HandleConnection(c.Writer, c.Request)
	})

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 内部接口给 CRUD 层与运维用，由网关隔离外网
	internal := engine.Group("/internal")
	{
		internal.GET("/online/:user_id", r.handleOnline)
		internal.GET("/stats", r.handleStats)
		internal.POST("/force-reconnect/:user_id", r.handleForceReconnect)
	}
	return engine
}

func (r *Router) handleOnline(c *gin.Context) {
	userID := c.Param("user_id")
	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"online":  r.connUC.IsOnline(c.Request.Context(), userID),
	})
}

func (r *Router) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, r.connUC.Stats(c.Request.Context()))
}

func (r *Router) handleForceReconnect(c *gin.Context) {
	userID := c.Param("user_id")
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Reason == "" {
		body.Reason = "operator requested"
	}

	closed := r.reconnect.Force(c.Request.Context(), userID, body.Reason)
	c.JSON(http.StatusOK, gin.H{
		"user_id":            userID,
		"closed_connections": closed,
	})
}
