package cache

import (
	"testing"

	"BridgeFM/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReportCacheWithoutRedis(t *testing.T) {
	require.Nil(t, RedisClient)
	assert.Nil(t, NewReportCache("evt-123"))
}

// redis 未配置时缓存为 nil，所有操作都必须安全退化为空操作
func TestNilReportCacheIsNoOp(t *testing.T) {
	var c *ReportCache

	assert.NoError(t, c.Save([]model.NowPlayingPayload{{Title: "Strobe"}}))
	assert.NoError(t, c.Clear())

	payloads, err := c.Load()
	assert.NoError(t, err)
	assert.Nil(t, payloads)
}
