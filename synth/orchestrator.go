package synth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/callflow/capability"
	"github.com/BaSui01/callflow/internal/metrics"
	"github.com/BaSui01/callflow/types"
)

// OutcomeStatus 一次合成请求的终态
type OutcomeStatus string

const (
	OutcomeSuccess   OutcomeStatus = "success"
	OutcomeCancelled OutcomeStatus = "cancelled"
)

// Outcome 一次合成请求的结果，含完整的提供者尝试记录。
type Outcome struct {
	Status   OutcomeStatus `json:"status"`
	Provider string        `json:"provider,omitempty"` // 成功提供者；缓存命中时为 "cache"
	Cached   bool          `json:"cached,omitempty"`
	Attempts []Attempt     `json:"attempts,omitempty"`
}

// speakOp 一次进行中的合成请求
type speakOp struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator 语音合成编排器。同一时刻至多一个进行中的请求；
// 后到的 Speak 或 Stop 取代之。
type Orchestrator struct {
	chain  *Chain
	caps   capability.Descriptor
	policy capability.Policy
	player Player
	logger *zap.Logger

	cache   *AudioCache
	metrics *metrics.Collector

	mu       sync.Mutex
	current  *speakOp
	speaking bool
}

// NewOrchestrator 创建合成编排器。
func NewOrchestrator(chain *Chain, caps capability.Descriptor, policy capability.Policy, player Player, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if player == nil {
		player = NopPlayer{}
	}
	return &Orchestrator{
		chain:  chain,
		caps:   caps,
		policy: policy,
		player: player,
		logger: logger.With(zap.String("component", "synth_orchestrator")),
	}
}

// SetCache 注入音频缓存（可为 nil）。
func (o *Orchestrator) SetCache(c *AudioCache) {
	o.cache = c
}

// SetMetrics 注入指标收集器（可为 nil）。
func (o *Orchestrator) SetMetrics(m *metrics.Collector) {
	o.metrics = m
	if o.cache != nil {
		o.cache.SetMetrics(m)
	}
}

// Speaking 报告当前是否在播放合成音频。
func (o *Orchestrator) Speaking() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.speaking
}

// Speak 执行一次文本转语音请求：依序尝试链中每个可用提供者，成功后
// 播放至完成。任何后续 Speak 或 Stop 都会取消本次请求；被取消的调用
// 以 cancelled 结果返回而非错误。
func (o *Orchestrator) Speak(ctx context.Context, text string, params VoiceParams) (*Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, types.NewInvalidInputError("synthesis text is empty")
	}

	reqID := uuid.NewString()
	logger := o.logger.With(zap.String("request_id", reqID))

	opCtx, cancel := context.WithCancel(ctx)
	op := &speakOp{cancel: cancel, done: make(chan struct{})}

	// 取代进行中的请求。检查与安装在同一临界区内完成，
	// 并发的 Speak 不会同时越过此处
	for {
		o.mu.Lock()
		if o.current == nil {
			o.current = op
			o.mu.Unlock()
			break
		}
		prev := o.current
		o.mu.Unlock()
		prev.cancel()
		<-prev.done
	}
	defer func() {
		cancel()
		o.mu.Lock()
		if o.current == op {
			o.current = nil
		}
		o.mu.Unlock()
		close(op.done)
	}()

	var attempts []Attempt

	// 缓存在链之前；故障等同未命中
	var cacheKey string
	if o.cache != nil {
		cacheKey = o.cache.Key(text, params, o.chain.Version())
		if audio, err := o.cache.Get(opCtx, cacheKey); err == nil {
			logger.Debug("audio cache hit", zap.String("key", cacheKey))
			return o.play(opCtx, audio, &Outcome{Provider: "cache", Cached: true})
		}
	}

	for _, entry := range o.chain.Entries() {
		if opCtx.Err() != nil {
			return &Outcome{Status: OutcomeCancelled, Attempts: attempts}, nil
		}
		p := entry.Provider
		if !p.Available(o.caps) {
			logger.Debug("provider unavailable, skipping", zap.String("provider", p.Name()))
			continue
		}

		timeout := entry.Timeout
		if timeout <= 0 {
			timeout = o.policy.ProviderTimeout
		}
		if timeout <= 0 {
			timeout = 8 * time.Second
		}

		attemptCtx, attemptCancel := context.WithTimeout(opCtx, timeout)
		startAt := time.Now()
		audio, err := p.Synthesize(attemptCtx, text, params)
		duration := time.Since(startAt)
		timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && opCtx.Err() == nil
		attemptCancel()

		if opCtx.Err() != nil {
			if audio != nil {
				audio.Release()
			}
			return &Outcome{Status: OutcomeCancelled, Attempts: attempts}, nil
		}

		if err != nil {
			label := "error"
			if timedOut {
				label = "timeout"
			}
			attempts = append(attempts, Attempt{
				Provider: p.Name(),
				Err:      err.Error(),
				Duration: duration,
				TimedOut: timedOut,
			})
			o.metrics.RecordProviderAttempt(p.Name(), label, duration)
			o.metrics.RecordFallback()
			logger.Warn("synthesis provider failed, advancing chain",
				zap.String("provider", p.Name()),
				zap.Duration("duration", duration),
				zap.Bool("timed_out", timedOut),
				zap.Error(err))
			continue
		}

		attempts = append(attempts, Attempt{Provider: p.Name(), Duration: duration})
		o.metrics.RecordProviderAttempt(p.Name(), "success", duration)
		logger.Debug("synthesis succeeded",
			zap.String("provider", p.Name()),
			zap.Duration("duration", duration))

		if o.cache != nil && cacheKey != "" {
			_ = o.cache.Set(opCtx, cacheKey, audio)
		}
		return o.play(opCtx, audio, &Outcome{Provider: p.Name(), Attempts: attempts})
	}

	logger.Error("synthesis chain exhausted", zap.Int("attempts", len(attempts)))
	return nil, types.NewError(types.ErrSynthesisExhausted, "all synthesis providers failed")
}

// Stop 取消进行中的合成与播放，并等待挂起的 Speak 调用解除。幂等。
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	op := o.current
	o.mu.Unlock()
	if op != nil {
		op.cancel()
	}
	o.player.Stop()
	if op != nil {
		<-op.done
	}
}

// play 播放音频至完成，并保证句柄释放（播放后立即释放，另以
// 有界清理延迟兜底）。
func (o *Orchestrator) play(ctx context.Context, audio *Audio, outcome *Outcome) (*Outcome, error) {
	cleanup := o.policy.CleanupDelay
	if cleanup <= 0 {
		cleanup = 30 * time.Second
	}
	guard := time.AfterFunc(cleanup, audio.Release)
	defer func() {
		guard.Stop()
		audio.Release()
	}()

	o.setSpeaking(true)
	err := o.player.Play(ctx, audio)
	o.setSpeaking(false)

	if ctx.Err() != nil {
		outcome.Status = OutcomeCancelled
		return outcome, nil
	}
	if err != nil {
		return nil, types.WrapError(types.ErrPlayback, "audio playback failed", err)
	}
	outcome.Status = OutcomeSuccess
	return outcome, nil
}

func (o *Orchestrator) setSpeaking(on bool) {
	o.mu.Lock()
	o.speaking = on
	o.mu.Unlock()
}
