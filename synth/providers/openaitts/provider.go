// Package openaitts 实现 OpenAI 兼容的 /audio/speech 语音合成提供者。
package openaitts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/callflow/capability"
	"github.com/BaSui01/callflow/synth"
	"github.com/BaSui01/callflow/synth/providers"
)

// Config OpenAI 兼容合成提供者配置。
type Config struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Model        string        `yaml:"model"`
	DefaultVoice string        `yaml:"default_voice"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Provider OpenAI 兼容合成提供者。
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New 创建提供者实例。
func New(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.DefaultVoice == "" {
		cfg.DefaultVoice = "alloy"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("provider", "openai_tts")),
	}
}

// Name 返回提供者标识。
func (p *Provider) Name() string { return "openai_tts" }

// Available 远端提供者要求端点可达且配置了密钥。
func (p *Provider) Available(caps capability.Descriptor) bool {
	return p.cfg.APIKey != "" && caps.RemoteReachable
}

type speechRequest struct {
	Model string  `json:"model"`
	Input string  `json:"input"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed,omitempty"`
}

// Synthesize 调用 /audio/speech 接口合成音频。
func (p *Provider) Synthesize(ctx context.Context, text string, params synth.VoiceParams) (*synth.Audio, error) {
	voice := params.Voice
	if voice == "" {
		voice = p.cfg.DefaultVoice
	}
	payload, err := json.Marshal(speechRequest{
		Model: p.cfg.Model,
		Input: text,
		Voice: voice,
		Speed: params.Rate,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal speech request: %w", err)
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/audio/speech"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, providers.MapHTTPError(http.StatusServiceUnavailable, err.Error(), p.Name()).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio body: %w", err)
	}
	if len(data) == 0 {
		return nil, providers.MapHTTPError(http.StatusBadGateway, "empty audio response", p.Name())
	}

	format := resp.Header.Get("Content-Type")
	if format == "" {
		format = "audio/mpeg"
	}
	p.logger.Debug("speech response received", zap.Int("bytes", len(data)))
	return synth.NewAudio(format, data, nil), nil
}
