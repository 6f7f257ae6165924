package entity

// 关闭码按语义区分，重连窗口是否开启取决于它
const (
	CloseNormal         = 1000 // 客户端主动登出
	CloseGoingAway      = 1001 // 页面关闭
	CloseAuthTimeout    = 4001 // 认证窗口超时
	CloseAuthFailed     = 4002 // 凭证校验失败
	CloseAdmin          = 4003 // 管理员断开
	CloseUnhealthy      = 4004 // 健康探测判定失活
	CloseForceReconnect = 4005 // 运维触发的强制重连
)

// ShouldReconnect 该关闭码是否应该开启重连窗口
// 主动登出与认证失败不开窗：前者是用户意图，后者必须重新走认证
func ShouldReconnect(code int) bool {
	switch code {
	case CloseNormal, CloseAuthFailed:
		return false
	}
	return true
}
