package core

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DetectorMessageContains = "message_contains"
	DetectorNever           = "never"

	// DefaultQuotaSubstring 上游在 message 字段里提示配额耗尽的关键字 (区分大小写)
	DefaultQuotaSubstring = "exceeded"
)

var (
	ErrUnknownDetector = errors.New("unknown quota detector")
)

// MessageContainsDetector 顶层 message 字段为字符串且包含关键字即视为配额耗尽
type MessageContainsDetector struct {
	Field     string
	Substring string
}

// NewMessageContainsDetector 空关键字会退回默认值，否则任何 message 都会命中
func NewMessageContainsDetector(substring string) *MessageContainsDetector {
	if substring == "" {
		substring = DefaultQuotaSubstring
	}
	return &MessageContainsDetector{Field: "message", Substring: substring}
}

func (d *MessageContainsDetector) Name() string { return DetectorMessageContains }

func (d *MessageContainsDetector) Exceeded(payload any) bool {
	obj, ok := payload.(map[string]any)
	if !ok {
		return false
	}
	msg, ok := obj[d.Field].(string)
	if !ok {
		return false
	}
	return strings.Contains(msg, d.Substring)
}

// NeverDetector 从不判定配额耗尽，仅依赖 HTTP 状态码
type NeverDetector struct{}

func (d *NeverDetector) Name() string { return DetectorNever }

func (d *NeverDetector) Exceeded(any) bool { return false }

// NewQuotaDetector 按名称创建策略，空名称使用默认的 message_contains
func NewQuotaDetector(name, substring string) (QuotaDetector, error) {
	switch name {
	case "", DetectorMessageContains:
		return NewMessageContainsDetector(substring), nil
	case DetectorNever:
		return &NeverDetector{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDetector, name)
	}
}
