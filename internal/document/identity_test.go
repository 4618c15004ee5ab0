package document

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIdentifyDeterministic 测试相同内容得到相同ID
func TestIdentifyDeterministic(t *testing.T) {
	text := "This Agreement is entered into by and between the parties."
	id := Identify(text)

	assert.Equal(t, id, Identify(text))
	assert.Len(t, id, IdentityLength)
	assert.True(t, ValidID(id))

	// 已知的SHA-256前缀
	assert.Equal(t, "e3b0c44298fc", Identify(""))
}

// TestIdentifyNoNormalization 测试不做归一化
func TestIdentifyNoNormalization(t *testing.T) {
	base := "clause one"
	assert.NotEqual(t, Identify(base), Identify(base+" "))
	assert.NotEqual(t, Identify(base), Identify("Clause one"))
	assert.NotEqual(t, Identify(base), Identify(base+"\n"))
}

// TestIdentifyNoCollisions 测试大量不同文本没有碰撞
func TestIdentifyNoCollisions(t *testing.T) {
	seen := make(map[string]string, 20000)
	for i := 0; i < 20000; i++ {
		text := fmt.Sprintf("document %d: section %d of the sample corpus", i, i%97)
		id := Identify(text)
		prev, exists := seen[id]
		require.False(t, exists, "collision between %q and %q", prev, text)
		seen[id] = text
	}
}

// TestValidID 测试ID格式校验
func TestValidID(t *testing.T) {
	assert.True(t, ValidID("0123456789ab"))
	assert.False(t, ValidID("0123456789AB"))
	assert.False(t, ValidID("0123456789a"))
	assert.False(t, ValidID("../etc/pass"))
	assert.False(t, ValidID("nonexistent-id"))
	assert.False(t, ValidID(""))
}
