package core

import (
	"strings"
	"sync"
)

// ParseKeyList 解析逗号分隔的 Key 列表，去掉空白与空项
func ParseKeyList(raw string) []string {
	keys := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		k := strings.TrimSpace(part)
		if k == "" {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// KeyRotator Key 池 + 轮换游标 (线程安全)
//
// Key 池在构造后不可变。游标从 0 开始，每次失败的尝试推进一格并回绕，
// 成功或耗尽都不会重置它，它的位置属于整个进程而不是某一次请求。
// 每次读取和推进各自加锁；并发请求之间不串行化，轮换顺序在并发下是近似的。
type KeyRotator struct {
	keys   []string
	cursor int
	mutex  sync.Mutex
}

// NewKeyRotator 创建轮换器，keys 会被复制
func NewKeyRotator(keys []string) *KeyRotator {
	pool := make([]string, len(keys))
	copy(pool, keys)
	return &KeyRotator{keys: pool}
}

// Size Key 池大小
func (r *KeyRotator) Size() int {
	return len(r.keys)
}

// Current 返回游标处的 Key 及其下标；池为空时 ok=false
func (r *KeyRotator) Current() (index int, key string, ok bool) {
	if len(r.keys) == 0 {
		return 0, "", false
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.cursor, r.keys[r.cursor], true
}

// Advance 游标推进一格 (mod 池大小)，返回新位置
func (r *KeyRotator) Advance() int {
	if len(r.keys) == 0 {
		return 0
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.cursor = (r.cursor + 1) % len(r.keys)
	return r.cursor
}

// Cursor 当前游标位置
func (r *KeyRotator) Cursor() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.cursor
}

// KeyPrefix 日志用的 Key 前缀，绝不返回完整 Key
// 按字符截取，避免把多字节字符截断后写进 JSON 日志
func KeyPrefix(key string) string {
	r := []rune(key)
	n := 8
	if len(r) <= n {
		n = len(r) / 2
	}
	return string(r[:n]) + "..."
}
