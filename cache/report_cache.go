package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"BridgeFM/model"
)

// ReportCache 待重放上报载荷的持久化镜像
// 进程重启后未送达的上报不丢失；历史播放记录仍由后端负责，这里只存积压
type ReportCache struct {
	eventCode string
}

// NewReportCache 创建上报缓存，redis 未连接时返回 nil
func NewReportCache(eventCode string) *ReportCache {
	if RedisClient == nil {
		return nil
	}
	return &ReportCache{eventCode: eventCode}
}

// key 按事件标识隔离不同安装
func (c *ReportCache) key() string {
	return fmt.Sprintf("bridgefm:pending:%s", c.eventCode)
}

// Save 用当前积压整体覆盖缓存
func (c *ReportCache) Save(payloads []model.NowPlayingPayload) error {
	if c == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	pipe := RedisClient.TxPipeline()
	pipe.Del(ctx, c.key())
	for _, p := range payloads {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal pending report: %w", err)
		}
		pipe.RPush(ctx, c.key(), data)
	}
	pipe.Expire(ctx, c.key(), 24*time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save pending reports: %w", err)
	}
	return nil
}

// Load 读取缓存中的积压载荷，保持原始顺序
func (c *ReportCache) Load() ([]model.NowPlayingPayload, error) {
	if c == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rows, err := RedisClient.LRange(ctx, c.key(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load pending reports: %w", err)
	}

	payloads := make([]model.NowPlayingPayload, 0, len(rows))
	for _, row := range rows {
		var p model.NowPlayingPayload
		if err := json.Unmarshal([]byte(row), &p); err != nil {
			// 坏数据跳过，不阻塞恢复
			continue
		}
		payloads = append(payloads, p)
	}
	return payloads, nil
}

// Clear 删除缓存
func (c *ReportCache) Clear() error {
	if c == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := RedisClient.Del(ctx, c.key()).Err(); err != nil {
		return fmt.Errorf("failed to clear pending reports: %w", err)
	}
	return nil
}
