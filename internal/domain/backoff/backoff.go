// Package backoff 提供重连与离线重投共用的指数退避计算
package backoff

import "time"

// Delay 第 attempt 次（从 1 开始）的等待时长：min(base * 2^(attempt-1), cap)
func Delay(base, cap time.Duration, attempt int) time.Duration {
	if attempt <= 1 {
		if base > cap {
			return cap
		}
		return base
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
