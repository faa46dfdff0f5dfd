/*
Package conversation 提供对话轮次协调器：系统中唯一的"发言权"仲裁者。

任一时刻 {listening, speaking, processing} 至多一个为真。协调器的
处理锁是唯一的串行化点：锁被持有期间到达的新 SubmitUtterance 或采集
启动被直接拒绝（绝不静默排队），从而在不引入工作队列的前提下保持
"单一发言权持有者"不变量。

合成完成后的采集恢复遵循平台策略：桌面端自动重启采集；移动端有意
保持空闲，须由调用方显式重新武装——移动端采集引擎在缺少新鲜用户
交互时重启不可靠，这是文档化的平台不对称而非缺陷。
*/
package conversation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/callflow/capability"
	"github.com/BaSui01/callflow/capture"
	"github.com/BaSui01/callflow/dialogue"
	"github.com/BaSui01/callflow/synth"
	"github.com/BaSui01/callflow/types"
)

// Log 是协调器面向会话日志持有者（通话状态机）的窄接口。
// 协调器从不直接改写轮次日志；所有追加都经由此接口。
type Log interface {
	// State 返回当前通话状态。
	State() types.CallState
	// AppendTurn 追加一条轮次记录；最终用户轮次恰好递增一次交换计数。
	AppendTurn(turn types.Turn) error
	// Context 返回转发给对话引擎的会话上下文快照。
	Context() types.SessionContext
	// NoteActivity 重置静默升级计时。
	NoteActivity()
	// RecordEvaluation 保存引擎给出的不透明评估负载。
	RecordEvaluation(raw json.RawMessage)
	// FinishSession 以给定原因结束会话。
	FinishSession(reason types.EndReason)
	// FailSession 以致命错误结束会话。
	FailSession(err *types.Error)
}

// Floor 发言权快照
type Floor struct {
	Listening  bool `json:"listening"`
	Speaking   bool `json:"speaking"`
	Processing bool `json:"processing"`
}

// Coordinator 对话轮次协调器。
type Coordinator struct {
	log     Log
	engine  dialogue.Engine
	synth   *synth.Orchestrator
	capture *capture.Controller
	policy  capability.Policy
	logger  *zap.Logger

	mu         sync.Mutex
	processing bool
	muted      bool
	voice      synth.VoiceParams
}

// NewCoordinator 创建协调器并接管采集控制器的事件与重启闸门。
func NewCoordinator(log Log, engine dialogue.Engine, orch *synth.Orchestrator, ctrl *capture.Controller, policy capability.Policy, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		log:     log,
		engine:  engine,
		synth:   orch,
		capture: ctrl,
		policy:  policy,
		logger:  logger.With(zap.String("component", "turn_coordinator")),
	}

	ctrl.SetContinuous(true)
	// 合成或处理进行中不得重启采集
	ctrl.SetRestartGate(func() bool {
		return !c.synth.Speaking() && !c.Processing()
	})
	ctrl.SetEvents(capture.Events{
		OnInterim: func(text string) {
			c.log.NoteActivity()
			_ = c.log.AppendTurn(types.Turn{
				Speaker:   types.SpeakerUser,
				Text:      text,
				Interim:   true,
				Timestamp: time.Now(),
			})
		},
		OnError: func(err *types.Error) {
			switch err.Code {
			case types.ErrPermissionDenied:
				c.log.FailSession(err)
			case types.ErrCapabilityUnsupported:
				// 文本通道仍可用
				c.logger.Warn("capture unsupported, leaving session on text channel", zap.Error(err))
			default:
				c.logger.Debug("transient capture error", zap.Error(err))
			}
		},
		OnSilence: func() {
			c.logger.Debug("capture reported no speech")
		},
	})
	return c
}

// SetVoice 设置 AI 回复使用的声音参数。
func (c *Coordinator) SetVoice(params synth.VoiceParams) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voice = params
}

// SetMuted 开关语音输出。静音时 AI 回复仅写入轮次日志。
func (c *Coordinator) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
}

// Processing 报告发言权是否处于处理阶段。发言权在整轮内持有，
// 播报期间对外呈现为 speaking 而非 processing。
func (c *Coordinator) Processing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing && !c.synth.Speaking()
}

// FloorState 返回发言权快照。speaking 只读取一次，
// 保证快照内 speaking 与 processing 不会同时为真。
func (c *Coordinator) FloorState() Floor {
	c.mu.Lock()
	processing := c.processing
	c.mu.Unlock()
	speaking := c.synth.Speaking()
	return Floor{
		Listening:  c.capture.Listening(),
		Speaking:   speaking,
		Processing: processing && !speaking,
	}
}

// SubmitUtterance 提交一条最终用户发言：取得处理锁，转发给对话引擎，
// 把回复交给合成编排器，并按平台策略恢复采集。会话不在 connected
// 状态或锁已被持有时按无操作拒绝。
func (c *Coordinator) SubmitUtterance(ctx context.Context, text string, confidence float64) error {
	if state := c.log.State(); state != types.StateConnected {
		c.logger.Warn("utterance rejected: session not connected",
			zap.String("state", string(state)))
		return types.NewStateViolationError("session is not connected")
	}
	if !c.acquire() {
		c.logger.Warn("utterance rejected: floor already held")
		return types.NewStateViolationError("another turn is in progress")
	}
	// 发言权贯穿整轮：引擎处理、合成、播放期间均不释放
	defer c.release()

	// 文本通道提交时采集可能仍在监听；保持单一发言权
	if c.capture.Listening() {
		c.capture.Stop()
	}

	c.log.NoteActivity()
	if err := c.log.AppendTurn(types.Turn{
		Speaker:    types.SpeakerUser,
		Text:       text,
		Confidence: confidence,
		Timestamp:  time.Now(),
	}); err != nil {
		return err
	}

	resp, err := c.engine.Respond(ctx, dialogue.Request{
		Transcript:     text,
		Confidence:     confidence,
		SessionContext: c.log.Context(),
	})
	if err != nil {
		c.logger.Error("dialogue engine failed", zap.Error(err))
		return err
	}
	if !resp.Success {
		c.logger.Error("dialogue engine rejected utterance", zap.String("error", resp.Error))
		return types.NewError(types.ErrEngineError, resp.Error)
	}
	if len(resp.Evaluation) > 0 {
		c.log.RecordEvaluation(resp.Evaluation)
	}

	rearm, err := c.deliverAI(ctx, resp.Response, resp.ShouldHangUp)
	c.release()
	if err != nil {
		return err
	}
	if rearm {
		c.maybeRearm(ctx)
	}
	return nil
}

// DeliverGreeting 播报会话的开场白，作为第一条 AI 轮次。
// 由通话状态机在进入 connected 时调用；播报期间同样持有发言权。
func (c *Coordinator) DeliverGreeting(ctx context.Context, text string) error {
	if state := c.log.State(); state != types.StateConnected {
		return types.NewStateViolationError("session is not connected")
	}
	if !c.acquire() {
		return types.NewStateViolationError("another turn is in progress")
	}
	rearm, err := c.deliverAI(ctx, text, false)
	c.release()
	if err != nil {
		return err
	}
	if rearm {
		c.maybeRearm(ctx)
	}
	return nil
}

// ArmCapture 启动一次监听并在产生最终结果时自动提交。
// 移动端合成结束后不会自动调用；由 UI 在用户交互时显式调用。
func (c *Coordinator) ArmCapture(ctx context.Context) {
	go func() {
		out, err := c.capture.Start(ctx)
		if err != nil {
			e := types.AsError(err)
			if e != nil && e.Code == types.ErrPermissionDenied {
				c.log.FailSession(e)
				return
			}
			if e != nil && e.Code == types.ErrCapabilityUnsupported {
				// 文本通道仍可用；不因缺失原语终止会话
				c.logger.Warn("capture unsupported, leaving session on text channel", zap.Error(e))
				return
			}
			c.logger.Debug("capture ended without result", zap.Error(err))
			return
		}
		if out.Status != capture.StatusResult || out.Text == "" {
			return
		}
		if err := c.SubmitUtterance(ctx, out.Text, out.Confidence); err != nil {
			c.logger.Warn("auto-submitted utterance rejected", zap.Error(err))
		}
	}()
}

// StopAll 停止采集与合成。幂等；由状态机在会话结束时调用。
func (c *Coordinator) StopAll() {
	c.capture.Stop()
	c.synth.Stop()
}

// deliverAI 追加 AI 轮次并（未静音时）合成播报。调用方须持有发言权；
// 返回值报告释放后是否应按平台策略恢复采集。
func (c *Coordinator) deliverAI(ctx context.Context, text string, hangup bool) (bool, error) {
	if err := c.log.AppendTurn(types.Turn{
		Speaker:   types.SpeakerAI,
		Text:      text,
		Timestamp: time.Now(),
	}); err != nil {
		return false, err
	}

	c.mu.Lock()
	muted := c.muted
	voice := c.voice
	c.mu.Unlock()

	if !muted {
		out, err := c.synth.Speak(ctx, text, voice)
		if err != nil {
			// 链耗尽不终止对话；轮次已入日志，继续流程
			c.logger.Error("synthesis failed for AI turn", zap.Error(err))
		} else if out.Status == synth.OutcomeCancelled {
			c.logger.Debug("AI turn playback cancelled")
			return false, nil
		}
	}

	// 挂断推迟到播放完成之后，保证最后一句不被截断
	if hangup {
		c.log.FinishSession(types.EndReasonEngineHangup)
		return false, nil
	}
	return true, nil
}

// maybeRearm 在发言权释放后按平台策略恢复采集。
func (c *Coordinator) maybeRearm(ctx context.Context) {
	if c.policy.AutoRearmAfterSpeech && c.capture.Supported() && c.log.State() == types.StateConnected {
		c.ArmCapture(ctx)
	}
}

func (c *Coordinator) acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processing || c.synth.Speaking() {
		return false
	}
	c.processing = true
	return true
}

func (c *Coordinator) release() {
	c.mu.Lock()
	c.processing = false
	c.mu.Unlock()
}
