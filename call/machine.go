package call

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/callflow/capability"
	"github.com/BaSui01/callflow/conversation"
	"github.com/BaSui01/callflow/internal/metrics"
	"github.com/BaSui01/callflow/progress"
	"github.com/BaSui01/callflow/types"
)

// teardownTimeout 限定会话收尾（成绩落库）的最长等待。
const teardownTimeout = 5 * time.Second

// defaultPassThreshold 默认通过所需的最少交换次数。
const defaultPassThreshold = 3

// Machine 通话会话状态机。会话与轮次日志的唯一写入方。
type Machine struct {
	caps     capability.Descriptor
	policy   capability.Policy
	recorder progress.Recorder
	metrics  *metrics.Collector
	logger   *zap.Logger

	passThreshold int
	onWarn        func()

	mu      sync.Mutex
	session *types.Session
	summary *types.SessionSummary
	lastErr *types.Error

	coord *conversation.Coordinator

	sessionCtx    context.Context
	sessionCancel context.CancelFunc

	setupTimer  *time.Timer
	warnTimer   *time.Timer
	hangupTimer *time.Timer
}

// Option 配置状态机的可选项。
type Option func(*Machine)

// WithPassThreshold 设置判定通过所需的最少交换次数。
func WithPassThreshold(n int) Option {
	return func(m *Machine) { m.passThreshold = n }
}

// WithSilenceWarning 注册静默警告回调。警告是非终止的；
// 到达挂断阈值才会结束会话。
func WithSilenceWarning(fn func()) Option {
	return func(m *Machine) { m.onWarn = fn }
}

// NewMachine 创建状态机。协调器因相互依赖需随后通过 Bind 接线。
func NewMachine(caps capability.Descriptor, policy capability.Policy, recorder progress.Recorder, collector *metrics.Collector, logger *zap.Logger, opts ...Option) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = progress.NopRecorder{}
	}
	m := &Machine{
		caps:          caps,
		policy:        policy,
		recorder:      recorder,
		metrics:       collector,
		logger:        logger.With(zap.String("component", "call_machine")),
		passThreshold: defaultPassThreshold,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Bind 接入轮次协调器。必须在 StartSession 之前调用一次。
func (m *Machine) Bind(coord *conversation.Coordinator) {
	m.mu.Lock()
	m.coord = coord
	m.mu.Unlock()
}

// StartSession 创建会话并开始拨号。仅在 idle 状态合法。
// 固定的接通延迟过后状态进入 connected，并播报开场白作为第一条轮次。
func (m *Machine) StartSession(callType, mode string, persona types.Persona) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		return "", types.NewStateViolationError("a session already exists; reset first")
	}
	if m.coord == nil {
		return "", types.NewStateViolationError("machine is not bound to a coordinator")
	}

	id := uuid.NewString()
	m.session = &types.Session{
		ID:        id,
		CallType:  callType,
		Mode:      mode,
		Persona:   persona,
		State:     types.StateIdle,
		StartedAt: time.Now(),
	}
	m.summary = nil
	m.lastErr = nil
	m.sessionCtx, m.sessionCancel = context.WithCancel(context.Background())

	if err := m.transitionLocked(types.StateDialing); err != nil {
		m.session = nil
		return "", err
	}
	m.logger.Info("session started",
		zap.String("session_id", id),
		zap.String("call_type", callType),
		zap.String("mode", mode))

	m.setupTimer = time.AfterFunc(m.policy.SetupDelay, m.onSetupComplete)
	return id, nil
}

// onSetupComplete 拨号延迟到期：接通并播报开场白。
func (m *Machine) onSetupComplete() {
	m.mu.Lock()
	if m.session == nil || m.session.State != types.StateDialing {
		m.mu.Unlock()
		return
	}
	if err := m.transitionLocked(types.StateConnected); err != nil {
		m.mu.Unlock()
		return
	}
	m.resetSilenceTimersLocked()
	ctx := m.sessionCtx
	greeting := m.session.Persona.Greeting
	coord := m.coord
	m.mu.Unlock()

	if greeting == "" {
		greeting = "Hello?"
	}
	if err := coord.DeliverGreeting(ctx, greeting); err != nil {
		m.logger.Warn("failed to deliver greeting", zap.Error(err))
	}
}

// GetState 返回当前通话状态；无会话时为 idle。
func (m *Machine) GetState() types.CallState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return types.StateIdle
	}
	return m.session.State
}

// State 实现 conversation.Log。
func (m *Machine) State() types.CallState { return m.GetState() }

// Snapshot 返回会话的只读副本；无会话时为 nil。
func (m *Machine) Snapshot() *types.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	cp := *m.session
	cp.Turns = append([]types.Turn(nil), m.session.Turns...)
	if m.session.State == types.StateConnected || m.session.State == types.StateDialing {
		cp.Duration = time.Since(m.session.StartedAt)
	}
	return &cp
}

// LastError 返回迫使会话终止的致命错误；正常结束时为 nil。
func (m *Machine) LastError() *types.Error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Summary 返回最近一次已结束会话的汇总；尚无时为 nil。
func (m *Machine) Summary() *types.SessionSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.summary == nil {
		return nil
	}
	cp := *m.summary
	return &cp
}

// AppendTurn 追加一条轮次。实现 conversation.Log。
//
// 临时轮次就地覆盖同发言方的前一条临时轮次；用户的最终轮次
// 取代其临时轮次并使交换计数恰好递增一次。
func (m *Machine) AppendTurn(turn types.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil || m.session.State != types.StateConnected {
		return types.NewError(types.ErrSessionEnded, "session is not connected; turn discarded")
	}

	n := len(m.session.Turns)
	supersede := n > 0 &&
		m.session.Turns[n-1].Interim &&
		m.session.Turns[n-1].Speaker == turn.Speaker

	if supersede {
		m.session.Turns[n-1] = turn
	} else {
		m.session.Turns = append(m.session.Turns, turn)
	}

	if turn.Speaker == types.SpeakerUser {
		m.resetSilenceTimersLocked()
		if !turn.Interim {
			m.session.Exchanges++
			m.metrics.RecordExchange()
		}
	}
	return nil
}

// Context 实现 conversation.Log：转发给对话引擎的上下文快照。
func (m *Machine) Context() types.SessionContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return types.SessionContext{}
	}
	return types.SessionContext{
		SessionID: m.session.ID,
		CallType:  m.session.CallType,
		Mode:      m.session.Mode,
		Persona:   m.session.Persona,
		Exchanges: m.session.Exchanges,
		Turns:     append([]types.Turn(nil), m.session.Turns...),
	}
}

// NoteActivity 实现 conversation.Log：重置静默升级计时。
func (m *Machine) NoteActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil && m.session.State == types.StateConnected {
		m.resetSilenceTimersLocked()
	}
}

// RecordEvaluation 实现 conversation.Log：保存引擎的评估负载。
func (m *Machine) RecordEvaluation(raw json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.session.Evaluation = raw
	}
}

// FinishSession 实现 conversation.Log：以给定原因结束会话。
func (m *Machine) FinishSession(reason types.EndReason) {
	if err := m.EndSession(reason); err != nil {
		m.logger.Debug("finish ignored", zap.String("reason", string(reason)), zap.Error(err))
	}
}

// FailSession 实现 conversation.Log：以致命错误结束会话。
func (m *Machine) FailSession(err *types.Error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
	m.logger.Error("session failed", zap.Error(err))
	if e := m.EndSession(types.EndReasonFatalError); e != nil {
		m.logger.Debug("fail ignored", zap.Error(e))
	}
}

// EndSession 结束会话：停止采集与合成、取消计时器、计算汇总并落库。
// 对 dialing 与 connected 状态合法；重复调用返回状态冲突。
func (m *Machine) EndSession(reason types.EndReason) error {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return types.NewStateViolationError("no session to end")
	}
	if err := m.transitionLocked(types.StateEnded); err != nil {
		m.mu.Unlock()
		return err
	}

	m.cancelTimersLocked()
	if m.sessionCancel != nil {
		m.sessionCancel()
	}

	m.session.EndReason = reason
	m.session.Duration = time.Since(m.session.StartedAt)
	summary := types.SessionSummary{
		SessionID:  m.session.ID,
		CallType:   m.session.CallType,
		Mode:       m.session.Mode,
		Duration:   m.session.Duration,
		Exchanges:  m.session.Exchanges,
		Passed:     m.session.Exchanges >= m.passThreshold,
		EndReason:  reason,
		EndedAt:    time.Now(),
		Evaluation: m.session.Evaluation,
	}
	m.summary = &summary
	coord := m.coord
	m.mu.Unlock()

	m.metrics.RecordSessionEnd(string(reason), summary.Duration)
	m.logger.Info("session ended",
		zap.String("session_id", summary.SessionID),
		zap.String("reason", string(reason)),
		zap.Duration("duration", summary.Duration),
		zap.Int("exchanges", summary.Exchanges),
		zap.Bool("passed", summary.Passed))

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		coord.StopAll()
		return nil
	})
	g.Go(func() error {
		return m.recorder.RecordOutcome(gctx, summary)
	})
	if err := g.Wait(); err != nil {
		// 成绩落库失败不影响终态
		m.logger.Warn("failed to record session outcome", zap.Error(err))
	}
	return nil
}

// Reset 销毁会话并回到 idle。对 ended 状态合法；
// 会话仍活跃时先以 aborted 强制结束（UI 卸载时的逃生口）。
func (m *Machine) Reset() {
	m.mu.Lock()
	active := m.session != nil && m.session.State != types.StateEnded
	m.mu.Unlock()

	if active {
		if err := m.EndSession(types.EndReasonAborted); err != nil {
			m.logger.Debug("forced abort during reset", zap.Error(err))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimersLocked()
	if m.sessionCancel != nil {
		m.sessionCancel()
		m.sessionCancel = nil
	}
	m.sessionCtx = nil
	m.session = nil
	m.lastErr = nil
	m.logger.Debug("machine reset to idle")
}

// transitionLocked 执行一次状态转换。调用方须持有 m.mu。
func (m *Machine) transitionLocked(to types.CallState) error {
	from := m.session.State
	if !types.CanTransition(from, to) {
		return types.WrapError(types.ErrInvalidTransition, "call state transition rejected", types.ErrTransition{From: from, To: to})
	}
	m.session.State = to
	m.metrics.RecordTransition(string(from), string(to))
	m.logger.Debug("state transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return nil
}

// resetSilenceTimersLocked 重新武装两段静默计时器。调用方须持有 m.mu。
func (m *Machine) resetSilenceTimersLocked() {
	if m.warnTimer != nil {
		m.warnTimer.Stop()
	}
	if m.hangupTimer != nil {
		m.hangupTimer.Stop()
	}
	if m.policy.SilenceWarn > 0 {
		m.warnTimer = time.AfterFunc(m.policy.SilenceWarn, m.onSilenceWarn)
	}
	if m.policy.SilenceHangup > 0 {
		m.hangupTimer = time.AfterFunc(m.policy.SilenceHangup, m.onSilenceHangup)
	}
}

// cancelTimersLocked 取消全部会话计时器。调用方须持有 m.mu。
func (m *Machine) cancelTimersLocked() {
	for _, t := range []*time.Timer{m.setupTimer, m.warnTimer, m.hangupTimer} {
		if t != nil {
			t.Stop()
		}
	}
	m.setupTimer, m.warnTimer, m.hangupTimer = nil, nil, nil
}

// onSilenceWarn 警告阈值到期。非终止：通知调用方，会话保持 connected。
func (m *Machine) onSilenceWarn() {
	m.mu.Lock()
	connected := m.session != nil && m.session.State == types.StateConnected
	warn := m.onWarn
	m.mu.Unlock()
	if !connected {
		return
	}
	m.metrics.RecordSilence("warn")
	m.logger.Info("silence warning threshold reached")
	if warn != nil {
		warn()
	}
}

// onSilenceHangup 挂断阈值到期：以 silence_timeout 结束会话。
func (m *Machine) onSilenceHangup() {
	m.metrics.RecordSilence("hangup")
	if err := m.EndSession(types.EndReasonSilenceTimeout); err != nil {
		m.logger.Debug("silence hangup ignored", zap.Error(err))
	}
}
