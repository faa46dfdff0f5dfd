package synth

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/callflow/capability"
)

// VoiceParams 声音参数
type VoiceParams struct {
	Voice  string  `json:"voice,omitempty"`
	Rate   float64 `json:"rate,omitempty"`   // 1.0 = normal
	Pitch  float64 `json:"pitch,omitempty"`  // 1.0 = normal
	Volume float64 `json:"volume,omitempty"` // 0.0–1.0
}

// Audio 一次合成产出的音频资源。Release 幂等，负责回收底层句柄。
type Audio struct {
	Format string // e.g. "audio/mpeg", "audio/pcm"
	Data   []byte

	releaseOnce sync.Once
	release     func()
}

// NewAudio 创建音频资源；release 可为 nil。
func NewAudio(format string, data []byte, release func()) *Audio {
	return &Audio{Format: format, Data: data, release: release}
}

// Release 释放底层资源。可安全多次调用。
func (a *Audio) Release() {
	a.releaseOnce.Do(func() {
		if a.release != nil {
			a.release()
		}
		a.Data = nil
	})
}

// Provider 单个语音合成后端。
type Provider interface {
	// Name 返回提供者标识，用于日志、指标与尝试记录。
	Name() string
	// Available 报告该提供者在给定能力描述下是否可用。
	Available(caps capability.Descriptor) bool
	// Synthesize 合成给定文本，受调用方传入的上下文超时约束。
	Synthesize(ctx context.Context, text string, params VoiceParams) (*Audio, error)
}

// Attempt 提供者尝试记录
type Attempt struct {
	Provider string        `json:"provider"`
	Err      string        `json:"err,omitempty"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out,omitempty"`
}
