package dialogue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/callflow/types"
)

// HTTPConfig HTTP 引擎客户端配置
type HTTPConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
	// RateLimit 每秒请求上限；零值不限流
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// HTTPEngine 通过 HTTP JSON 接口访问外部对话引擎。
type HTTPEngine struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHTTPEngine 创建 HTTP 引擎客户端。
func NewHTTPEngine(cfg HTTPConfig, logger *zap.Logger) *HTTPEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &HTTPEngine{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger.With(zap.String("component", "dialogue_http_engine")),
	}
}

// Respond 转发请求并解析引擎响应。
func (e *HTTPEngine) Respond(ctx context.Context, req Request) (*Response, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, types.WrapError(types.ErrEngineError, "rate limit wait cancelled", err)
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal engine request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, types.WrapError(types.ErrEngineError, "engine request failed", err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		err := types.NewError(types.ErrEngineError,
			fmt.Sprintf("engine returned status %d", resp.StatusCode))
		if resp.StatusCode >= 500 {
			err = err.WithRetryable(true)
		}
		return nil, err
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.WrapError(types.ErrEngineError, "malformed engine response", err)
	}
	e.logger.Debug("engine responded",
		zap.Duration("latency", time.Since(start)),
		zap.Bool("success", out.Success),
		zap.Bool("should_hang_up", out.ShouldHangUp))
	return &out, nil
}
