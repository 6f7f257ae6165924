package application

import (
	"encoding/json"
	"time"
)

// outFrame 构造统一的出站帧信封 {type, data, timestamp}
func outFrame(typ string, data any) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":      typ,
		"data":      data,
		"timestamp": time.Now().Format(time.RFC3339),
	})
	return b
}
