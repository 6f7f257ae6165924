package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/EthanQC/IM-realtime/internal/config"
	"github.com/EthanQC/IM-realtime/internal/domain/entity"
)

// dialTestConn 经真实升级握手拿到一条服务端连接，客户端侧持续读并丢弃
func dialTestConn(t *testing.T) (*wsConn, func()) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- conn
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	conn := newWSConn("c1", <-accepted, UseCases{}, config.Default())
	return conn, func() {
		client.Close()
		srv.Close()
	}
}

// 健康探测、强制关闭与出站帧并发时底层连接只能有一个数据帧写者
func TestControlFramesConcurrentWithWritePump(t *testing.T) {
	conn, cleanup := dialTestConn(t)
	defer cleanup()

	go conn.writePump()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			conn.Send([]byte(`{"type":"heartbeat_ack"}`))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			conn.Ping()
		}
	}()
	wg.Wait()

	require.NoError(t, conn.Close(entity.CloseForceReconnect, "rolling restart"))
}

// Close 和扇出 Send 赛跑：帧被跳过而不是 panic
func TestSendDuringCloseIsSkipped(t *testing.T) {
	conn, cleanup := dialTestConn(t)
	defer cleanup()

	go conn.writePump()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				conn.Send([]byte(`{"type":"message"}`))
			}
		}()
	}
	time.Sleep(time.Millisecond)
	conn.Close(entity.CloseUnhealthy, "missed probes")
	wg.Wait()

	require.Error(t, conn.Send([]byte(`{"type":"message"}`)))
	require.Error(t, conn.Ping())
	// 幂等
	require.NoError(t, conn.Close(entity.CloseNormal, "again"))
}
