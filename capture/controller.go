package capture

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/callflow/capability"
	"github.com/BaSui01/callflow/internal/metrics"
	"github.com/BaSui01/callflow/types"
)

// Status 监听操作的终态
type Status string

const (
	StatusResult    Status = "result"    // Final transcript delivered
	StatusCancelled Status = "cancelled" // Stopped by caller before a result
)

// Outcome 一次逻辑监听操作的结果
type Outcome struct {
	Status     Status  `json:"status"`
	Text       string  `json:"text,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Events 采集过程中的回调。所有回调在控制器内部 goroutine 上同步调用，
// 实现方不得阻塞。
type Events struct {
	OnInterim func(text string)
	OnFinal   func(text string, confidence float64)
	OnError   func(err *types.Error)
	OnSilence func()
}

// listenOp 一次逻辑监听操作，可跨越多次物理采集会话。
type listenOp struct {
	ctx     context.Context
	done    chan struct{}
	once    sync.Once
	outcome *Outcome
	err     error
}

// Controller 语音采集控制器。持有单个逻辑监听操作的生命周期，
// 对意外结束的物理会话执行重启协议。
type Controller struct {
	rec    Recognizer
	caps   capability.Descriptor
	policy capability.Policy
	logger *zap.Logger

	events  Events
	metrics *metrics.Collector

	mu           sync.Mutex
	continuous   bool
	restartGate  func() bool
	lastStart    time.Time
	op           *listenOp
	listening    bool
	interim      strings.Builder
	cancelPhys   context.CancelFunc
	restartTimer *time.Timer
	silenceTimer *time.Timer
}

// NewController 创建采集控制器。
func NewController(rec Recognizer, caps capability.Descriptor, policy capability.Policy, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		rec:    rec,
		caps:   caps,
		policy: policy,
		logger: logger,
	}
}

// SetEvents 注册事件回调。须在 Start 之前调用。
func (c *Controller) SetEvents(ev Events) {
	c.events = ev
}

// SetMetrics 注入指标收集器（可为 nil）。
func (c *Controller) SetMetrics(m *metrics.Collector) {
	c.metrics = m
}

// SetContinuous 开关连续模式。连续模式下物理会话意外结束会触发重启协议。
func (c *Controller) SetContinuous(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.continuous = on
}

// SetRestartGate 注入重启闸门；返回 false 时（例如合成进行中）不重启。
func (c *Controller) SetRestartGate(gate func() bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restartGate = gate
}

// Supported 报告当前环境是否具备语音采集条件。
func (c *Controller) Supported() bool {
	return c.caps.HasCapture && c.caps.HasMicrophoneAPI
}

// Listening 报告当前是否有活跃的物理采集会话。
func (c *Controller) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

// InterimText 返回当前操作累积的临时转写文本。
func (c *Controller) InterimText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interim.String()
}

// Start 开始一次逻辑监听，阻塞直至最终识别结果或终止性错误。
// 物理会话的意外结束由重启协议在内部吸收，不会提前返回。
func (c *Controller) Start(ctx context.Context) (*Outcome, error) {
	if !c.caps.HasCapture {
		return nil, types.NewCapabilityUnsupportedError("no speech capture primitive")
	}
	if !c.caps.HasMicrophoneAPI {
		return nil, types.NewPermissionError("microphone API unavailable")
	}

	c.mu.Lock()
	if c.op != nil {
		c.mu.Unlock()
		c.logger.Warn("capture start rejected: operation already active")
		return nil, types.NewStateViolationError("capture already active")
	}
	if elapsed := time.Since(c.lastStart); elapsed < c.policy.MinRestartInterval {
		c.mu.Unlock()
		c.logger.Warn("capture start rejected: within minimum restart interval",
			zap.Duration("elapsed", elapsed),
			zap.Duration("min_interval", c.policy.MinRestartInterval))
		return nil, types.NewStateViolationError("start within minimum restart interval")
	}
	op := &listenOp{ctx: ctx, done: make(chan struct{})}
	c.op = op
	c.interim.Reset()
	c.mu.Unlock()

	if err := c.startPhysical(ctx); err != nil {
		c.clearOp(op)
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.Stop()
		<-op.done
		return op.outcome, op.err
	case <-op.done:
		return op.outcome, op.err
	}
}

// Stop 停止采集。幂等；取消已调度的重启，并以 cancelled 结果
// 立即解除任何挂起的 Start 调用。
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.restartTimer != nil {
		c.restartTimer.Stop()
		c.restartTimer = nil
	}
	c.stopSilenceTimerLocked()
	c.listening = false
	cancel := c.cancelPhys
	c.cancelPhys = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = c.rec.Stop()
	c.resolve(&Outcome{Status: StatusCancelled}, nil)
}

// startPhysical 启动一次物理采集会话并挂接事件泵。
func (c *Controller) startPhysical(ctx context.Context) error {
	physCtx, cancel := context.WithCancel(ctx)
	events, err := c.rec.Start(physCtx)
	if err != nil {
		cancel()
		return types.WrapError(types.ErrCaptureFailed, "recognizer start failed", err)
	}

	c.mu.Lock()
	c.cancelPhys = cancel
	c.listening = true
	c.lastStart = time.Now()
	c.armSilenceTimerLocked()
	c.mu.Unlock()

	c.metrics.RecordCaptureStart()
	go c.pump(physCtx, events)
	return nil
}

// pump 消费一次物理会话的事件流，流关闭即物理会话结束。
func (c *Controller) pump(ctx context.Context, events <-chan Event) {
	terminal := false
	for ev := range events {
		switch ev.Kind {
		case EventResult:
			c.noteActivity()
			if ev.IsFinal {
				terminal = true
				text := strings.TrimSpace(ev.Transcript)
				c.finishPhysical()
				if c.events.OnFinal != nil {
					c.events.OnFinal(text, ev.Confidence)
				}
				c.resolve(&Outcome{Status: StatusResult, Text: text, Confidence: ev.Confidence}, nil)
			} else {
				c.appendInterim(ev.Transcript)
				if c.events.OnInterim != nil {
					c.events.OnInterim(ev.Transcript)
				}
			}
		case EventError:
			c.metrics.RecordCaptureError(string(ev.Code))
			cerr := ClassifyError(ev.Code)
			if Transient(ev.Code) {
				c.logger.Debug("transient capture error", zap.String("code", string(ev.Code)))
				if c.events.OnError != nil {
					c.events.OnError(cerr)
				}
				// 等待随后的 end 事件，由重启协议接管
			} else {
				terminal = true
				c.logger.Error("fatal capture error", zap.String("code", string(ev.Code)))
				c.finishPhysical()
				if c.events.OnError != nil {
					c.events.OnError(cerr)
				}
				c.resolve(nil, cerr)
			}
		case EventEnd:
			// 结束由事件流关闭表达
		}
	}
	if terminal || ctx.Err() != nil {
		return
	}
	c.onUnplannedEnd()
}

// onUnplannedEnd 处理未产生结果即结束的物理会话：依照重启协议
// 放弃、调度重启，或以瞬态错误终结本次操作。
func (c *Controller) onUnplannedEnd() {
	c.mu.Lock()
	c.listening = false
	c.stopSilenceTimerLocked()
	op := c.op
	if op == nil {
		c.mu.Unlock()
		return
	}
	gate := c.restartGate
	continuous := c.continuous
	elapsed := time.Since(c.lastStart)

	if !continuous || (gate != nil && !gate()) {
		c.mu.Unlock()
		c.resolve(nil, types.NewError(types.ErrTransientRecognition, "capture ended without result").WithRetryable(true))
		return
	}
	if elapsed < c.policy.MinRestartInterval {
		c.mu.Unlock()
		c.logger.Debug("discarding capture restart",
			zap.Duration("elapsed", elapsed),
			zap.Duration("min_interval", c.policy.MinRestartInterval))
		c.resolve(nil, types.NewError(types.ErrTransientRecognition, "restart discarded: too soon after last start").WithRetryable(true))
		return
	}

	opCtx := op.ctx
	c.restartTimer = time.AfterFunc(c.policy.RestartDelay, func() {
		// Stop 可能赶在计时器触发与重启完成之间落地；
		// 前后各校验一次操作仍然存活
		c.mu.Lock()
		live := c.op == op
		if live {
			c.restartTimer = nil
		}
		c.mu.Unlock()
		if !live {
			return
		}
		c.metrics.RecordCaptureRestart()
		c.logger.Debug("restarting capture", zap.Duration("delay", c.policy.RestartDelay))
		if err := c.startPhysical(opCtx); err != nil {
			c.resolve(nil, err)
			return
		}
		c.mu.Lock()
		stale := c.op != op
		c.mu.Unlock()
		if stale {
			c.finishPhysical()
		}
	})
	c.mu.Unlock()
}

// finishPhysical 终结当前物理会话（最终结果或致命错误之后）。
func (c *Controller) finishPhysical() {
	c.mu.Lock()
	c.listening = false
	c.stopSilenceTimerLocked()
	cancel := c.cancelPhys
	c.cancelPhys = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = c.rec.Stop()
}

// resolve 以给定结果终结当前操作；每个操作恰好报告一次结果。
func (c *Controller) resolve(out *Outcome, err error) {
	c.mu.Lock()
	op := c.op
	c.op = nil
	c.mu.Unlock()
	if op == nil {
		return
	}
	op.once.Do(func() {
		op.outcome, op.err = out, err
		close(op.done)
	})
}

// clearOp 回收未能启动的操作。
func (c *Controller) clearOp(op *listenOp) {
	c.mu.Lock()
	if c.op == op {
		c.op = nil
	}
	c.mu.Unlock()
}

func (c *Controller) appendInterim(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interim.Len() > 0 {
		c.interim.WriteByte(' ')
	}
	c.interim.WriteString(strings.TrimSpace(text))
}

// noteActivity 收到识别结果时重置静默计时器。
func (c *Controller) noteActivity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armSilenceTimerLocked()
}

func (c *Controller) armSilenceTimerLocked() {
	c.stopSilenceTimerLocked()
	if c.policy.NoSpeechTimeout <= 0 {
		return
	}
	c.silenceTimer = time.AfterFunc(c.policy.NoSpeechTimeout, func() {
		c.metrics.RecordSilence("capture")
		c.logger.Debug("no speech detected", zap.Duration("timeout", c.policy.NoSpeechTimeout))
		if c.events.OnSilence != nil {
			c.events.OnSilence()
		}
	})
}

func (c *Controller) stopSilenceTimerLocked() {
	if c.silenceTimer != nil {
		c.silenceTimer.Stop()
		c.silenceTimer = nil
	}
}
