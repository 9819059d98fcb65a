package models

import (
	"time"

	"gorm.io/gorm"
)

// AttemptLog 单次 Key 尝试记录 (只保存 Key 前缀，不落完整 Key)
type AttemptLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	RequestID  string    `gorm:"index" json:"request_id,omitempty"`
	KeyPrefix  string    `gorm:"index;not null" json:"key_prefix"`
	KeyIndex   int       `json:"key_index"`
	Attempt    int       `json:"attempt"`
	Host       string    `json:"host"`
	Path       string    `json:"path"`
	StatusCode int       `json:"status_code"`
	Result     string    `gorm:"index" json:"result"` // success / transport_error / http_status / invalid_json / quota_exceeded
	Duration   int64     `json:"duration"`            // 毫秒
	ErrorMsg   string    `json:"error_msg,omitempty"`
}

// KeyStats 按 Key 前缀聚合的统计
type KeyStats struct {
	gorm.Model
	KeyPrefix      string  `gorm:"uniqueIndex;not null" json:"key_prefix"`
	Success        int     `gorm:"default:0" json:"success"`
	QuotaExceeded  int     `gorm:"default:0" json:"quota_exceeded"`
	HTTPErrors     int     `gorm:"default:0" json:"http_errors"`
	TransportError int     `gorm:"default:0" json:"transport_errors"`
	InvalidJSON    int     `gorm:"default:0" json:"invalid_json"`
	TotalLatency   float64 `gorm:"default:0" json:"total_latency"` // 毫秒
	TotalAttempts  int64   `gorm:"default:0" json:"total_attempts"`
}

// AvgLatency 平均耗时 (毫秒)
func (s KeyStats) AvgLatency() float64 {
	if s.TotalAttempts == 0 {
		return 0
	}
	return s.TotalLatency / float64(s.TotalAttempts)
}

// AutoMigrate 自动迁移数据库结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AttemptLog{},
		&KeyStats{},
	)
}
