package core

import (
	"net/http"
	"rail-gateway/models"
)

// QuotaDetector 判断上游响应体是否表示当前 Key 配额耗尽
// 上游没有结构化错误码，约定随时可能变化，因此抽成策略
type QuotaDetector interface {
	// Name 返回策略名称，如 "message_contains", "never"
	Name() string

	// Exceeded payload 为已解析的 JSON 响应体
	Exceeded(payload any) bool
}

// AttemptRecorder 接收每一次 Key 尝试的记录
// 实现必须是非阻塞的，Fetch 的主循环不会等待它
type AttemptRecorder interface {
	Record(log *models.AttemptLog)
}

// HTTPDoer 抽象 HTTP 发送 (*http.Client 满足此接口)
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SecretProvider 抽象密钥加解密
// 用于读取配置时自动解密 API Key
type SecretProvider interface {
	Decrypt(ciphertext string) (string, error)
	Encrypt(plaintext string) (string, error)
}
