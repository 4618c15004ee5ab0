package document

import (
	"crypto/sha256"
	"encoding/hex"
)

// IdentityLength 文档ID长度（十六进制字符数，12位即48比特）
const IdentityLength = 12

// Identify 根据文档全文计算内容ID
// 对原始UTF-8字节做SHA-256并截断，不做任何归一化：
// 仅空白或编码不同的两份文本会得到不同的ID
func Identify(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:IdentityLength]
}

// ValidID 检查ID是否为 Identify 产生的格式
func ValidID(id string) bool {
	if len(id) != IdentityLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
