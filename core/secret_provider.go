package core

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// EncryptedKeyPrefix 配置中以此开头的 Key 需要解密
const EncryptedKeyPrefix = "enc:"

// DecryptKeys 解密带 enc: 前缀的 Key，明文 Key 原样保留
// 解密失败的 Key 记录错误后丢弃 (不打印 Key 内容)
func DecryptKeys(keys []string, sp SecretProvider, logger *logrus.Logger) []string {
	out := make([]string, 0, len(keys))
	for i, k := range keys {
		if !strings.HasPrefix(k, EncryptedKeyPrefix) {
			out = append(out, k)
			continue
		}
		if sp == nil {
			logger.Errorf("API key #%d is encrypted but no secret is configured, skipping", i)
			continue
		}
		plain, err := sp.Decrypt(strings.TrimPrefix(k, EncryptedKeyPrefix))
		if err != nil || plain == "" {
			logger.Errorf("Failed to decrypt API key #%d: %v", i, err)
			continue
		}
		out = append(out, plain)
	}
	return out
}
