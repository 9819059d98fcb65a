package models

import "time"

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail 错误详情
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string `json:"status"`
	Gateway   string `json:"gateway"`
	KeyCount  int    `json:"key_count"`
	Timestamp int64  `json:"timestamp"`
}

// AdminKeyStats 管理员视角的单 Key 统计
type AdminKeyStats struct {
	KeyPrefix      string  `json:"key_prefix"`
	Success        int     `json:"success"`
	QuotaExceeded  int     `json:"quota_exceeded"`
	HTTPErrors     int     `json:"http_errors"`
	TransportError int     `json:"transport_errors"`
	InvalidJSON    int     `json:"invalid_json"`
	AvgLatency     float64 `json:"avg_latency"`
	TotalAttempts  int64   `json:"total_attempts"`
}

// AdminStatsResponse 管理员统计响应
type AdminStatsResponse struct {
	KeyCount  int             `json:"key_count"`
	Cursor    int             `json:"cursor"`
	Keys      []AdminKeyStats `json:"keys"`
	Timestamp int64           `json:"timestamp"`
}

// NewAdminKeyStats 将存储模型转换为响应模型
func NewAdminKeyStats(s KeyStats) AdminKeyStats {
	return AdminKeyStats{
		KeyPrefix:      s.KeyPrefix,
		Success:        s.Success,
		QuotaExceeded:  s.QuotaExceeded,
		HTTPErrors:     s.HTTPErrors,
		TransportError: s.TransportError,
		InvalidJSON:    s.InvalidJSON,
		AvgLatency:     s.AvgLatency(),
		TotalAttempts:  s.TotalAttempts,
	}
}

// LiveStatusQuery 实时车次状态查询参数
type LiveStatusQuery struct {
	StartDay int `form:"startDay"`
}

// LiveStationQuery 车站实时到发查询参数
type LiveStationQuery struct {
	To    string `form:"to"`
	Hours int    `form:"hours"`
}

// FareQuery 票价查询参数
type FareQuery struct {
	TrainNo string `form:"trainNo" binding:"required"`
	From    string `form:"from" binding:"required"`
	To      string `form:"to" binding:"required"`
}

// SeatQuery 余票查询参数
type SeatQuery struct {
	TrainNo   string `form:"trainNo" binding:"required"`
	From      string `form:"from" binding:"required"`
	To        string `form:"to" binding:"required"`
	ClassType string `form:"class" binding:"required"`
	Quota     string `form:"quota"`
}

// NewInvalidRequest 构造参数错误响应
func NewInvalidRequest(message string) ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{Message: message, Type: "invalid_request_error"},
	}
}

// ServiceInfo 根路径返回的服务信息
type ServiceInfo struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
	Timestamp int64             `json:"timestamp"`
}

// NewServiceInfo 创建服务信息
func NewServiceInfo(version string, endpoints map[string]string) ServiceInfo {
	return ServiceInfo{
		Name:      "Rail Data Gateway",
		Version:   version,
		Endpoints: endpoints,
		Timestamp: time.Now().Unix(),
	}
}
