// Package localtts 把宿主平台的本地合成原语包装为链中的兜底提供者。
// 本地引擎无网络依赖，只要设备具备合成能力即可用。
package localtts

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/callflow/capability"
	"github.com/BaSui01/callflow/synth"
	"github.com/BaSui01/callflow/types"
)

// Engine 本地合成原语，由宿主 UI 层提供（浏览器内置引擎、piper 等）。
type Engine interface {
	Synthesize(ctx context.Context, text string, params synth.VoiceParams) ([]byte, error)
}

// EngineFunc 函数式 Engine 适配器。
type EngineFunc func(ctx context.Context, text string, params synth.VoiceParams) ([]byte, error)

func (f EngineFunc) Synthesize(ctx context.Context, text string, params synth.VoiceParams) ([]byte, error) {
	return f(ctx, text, params)
}

// Provider 本地合成提供者。
type Provider struct {
	engine Engine
	logger *zap.Logger
}

// New 创建本地提供者实例。
func New(engine Engine, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		engine: engine,
		logger: logger.With(zap.String("provider", "local_tts")),
	}
}

// Name 返回提供者标识。
func (p *Provider) Name() string { return "local_tts" }

// Available 要求设备具备本地合成原语。
func (p *Provider) Available(caps capability.Descriptor) bool {
	return p.engine != nil && caps.HasSynthesis
}

// Synthesize 调用本地引擎合成音频。
func (p *Provider) Synthesize(ctx context.Context, text string, params synth.VoiceParams) (*synth.Audio, error) {
	data, err := p.engine.Synthesize(ctx, text, params)
	if err != nil {
		return nil, types.NewError(types.ErrProviderError, "local engine failed").
			WithProvider(p.Name()).WithCause(err)
	}
	if len(data) == 0 {
		return nil, types.NewError(types.ErrProviderError, "local engine produced no audio").
			WithProvider(p.Name())
	}
	return synth.NewAudio("audio/pcm", data, nil), nil
}
