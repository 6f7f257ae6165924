package entity

import "time"

// ConnectionHealth 每连接的健康记录，只由健康监测器修改
type ConnectionHealth struct {
	ConnectionID string        `json:"connection_id"`
	LastProbeAt  time.Time     `json:"last_probe_at"`
	LastAckAt    time.Time     `json:"last_ack_at"`
	MissedProbes int           `json:"missed_probes"`
	Latency      time.Duration `json:"latency"`
	Healthy      bool          `json:"healthy"`
}

// HealthStats 健康汇总
type HealthStats struct {
	Healthy    int           `json:"healthy"`
	Unhealthy  int           `json:"unhealthy"`
	AvgLatency time.Duration `json:"avg_latency"`
}
