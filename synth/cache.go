package synth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/callflow/internal/metrics"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("audio cache miss")

const cacheKeyPrefix = "callflow:audio:"

// cacheEntry 缓存条目
type cacheEntry struct {
	Format    string    `json:"format"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// AudioCache 基于 Redis 的合成音频缓存。所有故障降级为未命中，
// 缓存不可达绝不影响合成链路。
type AudioCache struct {
	client  redis.UniversalClient
	ttl     time.Duration
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewAudioCache 创建音频缓存。
func NewAudioCache(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *AudioCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AudioCache{client: client, ttl: ttl, logger: logger}
}

// SetMetrics 注入指标收集器（可为 nil）。
func (c *AudioCache) SetMetrics(m *metrics.Collector) {
	c.metrics = m
}

// Key 由文本、声音参数与链版本生成缓存键。
func (c *AudioCache) Key(text string, params VoiceParams, chainVersion string) string {
	payload, _ := json.Marshal(struct {
		Text    string      `json:"text"`
		Params  VoiceParams `json:"params"`
		Version string      `json:"version"`
	}{text, params, chainVersion})
	sum := sha256.Sum256(payload)
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

// Get 查询缓存音频。未命中或任何故障返回 ErrCacheMiss。
func (c *AudioCache) Get(ctx context.Context, key string) (*Audio, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("audio cache get failed", zap.Error(err))
		}
		c.metrics.RecordCacheMiss()
		return nil, ErrCacheMiss
	}
	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("audio cache entry corrupt", zap.String("key", key), zap.Error(err))
		c.metrics.RecordCacheMiss()
		return nil, ErrCacheMiss
	}
	c.metrics.RecordCacheHit()
	return NewAudio(entry.Format, entry.Data, nil), nil
}

// Set 写入缓存。失败仅记录日志。
func (c *AudioCache) Set(ctx context.Context, key string, audio *Audio) error {
	entry := cacheEntry{Format: audio.Format, Data: audio.Data, CreatedAt: time.Now()}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("audio cache set failed", zap.Error(err))
		return err
	}
	return nil
}
