// Package polly 实现 Polly 风格远端语音合成提供者。
// 请求为 JSON（文本 + 声音参数），响应为音频字节流。
package polly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/callflow/capability"
	"github.com/BaSui01/callflow/synth"
	"github.com/BaSui01/callflow/synth/providers"
)

// Config Polly 提供者配置。凭证与端点来自环境或配置文件。
type Config struct {
	Endpoint     string        `yaml:"endpoint"`
	APIKey       string        `yaml:"api_key"`
	Region       string        `yaml:"region"`
	DefaultVoice string        `yaml:"default_voice"`
	OutputFormat string        `yaml:"output_format"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Provider Polly 风格远端合成提供者。
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New 创建 Polly 提供者实例。
func New(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultVoice == "" {
		cfg.DefaultVoice = "Joanna"
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "mp3"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("provider", "polly")),
	}
}

// Name 返回提供者标识。
func (p *Provider) Name() string { return "polly" }

// Available 远端提供者要求端点可达。
func (p *Provider) Available(caps capability.Descriptor) bool {
	return p.cfg.Endpoint != "" && caps.RemoteReachable
}

type synthesizeRequest struct {
	Text         string  `json:"text"`
	VoiceID      string  `json:"voice_id"`
	OutputFormat string  `json:"output_format"`
	Rate         float64 `json:"rate,omitempty"`
	Pitch        float64 `json:"pitch,omitempty"`
	Volume       float64 `json:"volume,omitempty"`
	Region       string  `json:"region,omitempty"`
}

// Synthesize 调用远端接口合成音频。
func (p *Provider) Synthesize(ctx context.Context, text string, params synth.VoiceParams) (*synth.Audio, error) {
	voice := params.Voice
	if voice == "" {
		voice = p.cfg.DefaultVoice
	}
	payload, err := json.Marshal(synthesizeRequest{
		Text:         text,
		VoiceID:      voice,
		OutputFormat: p.cfg.OutputFormat,
		Rate:         params.Rate,
		Pitch:        params.Pitch,
		Volume:       params.Volume,
		Region:       p.cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal synthesize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

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
	p.logger.Debug("synthesis response received",
		zap.Int("bytes", len(data)), zap.String("format", format))
	return synth.NewAudio(format, data, nil), nil
}
