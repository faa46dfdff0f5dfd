package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// CallState 定义通话生命周期状态
type CallState string

const (
	StateIdle      CallState = "idle"      // No session
	StateDialing   CallState = "dialing"   // Session created, setup delay running
	StateConnected CallState = "connected" // Conversation in progress
	StateEnded     CallState = "ended"     // Terminal until reset
)

// stateOrder 状态在生命周期序列中的位置，用于单调性校验
var stateOrder = map[CallState]int{
	StateIdle:      0,
	StateDialing:   1,
	StateConnected: 2,
	StateEnded:     3,
}

// validTransitions 定义合法的状态转换
// 转换单调不可逆：任何目标状态都不会早于其来源状态。
var validTransitions = map[CallState][]CallState{
	StateIdle:      {StateDialing},
	StateDialing:   {StateConnected, StateEnded},
	StateConnected: {StateEnded},
	StateEnded:     {}, // Terminal; only an explicit reset destroys the session
}

// CanTransition 检查状态转换是否合法
func CanTransition(from, to CallState) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// StateOrder 返回状态在生命周期序列中的序号（idle=0 … ended=3）。
func StateOrder(s CallState) int {
	return stateOrder[s]
}

// ErrTransition 非法状态转换错误
type ErrTransition struct {
	From CallState
	To   CallState
}

func (e ErrTransition) Error() string {
	return fmt.Sprintf("invalid call state transition: %s -> %s", e.From, e.To)
}

// Speaker 标识轮次的发言方
type Speaker string

const (
	SpeakerUser Speaker = "user"
	SpeakerAI   Speaker = "ai"
)

// Turn 表示会话日志中的一条发言记录
type Turn struct {
	Speaker    Speaker   `json:"speaker"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence,omitempty"` // 0.0–1.0, capture confidence for user turns
	Interim    bool      `json:"interim,omitempty"`    // Provisional; may be superseded by a final turn
	Timestamp  time.Time `json:"timestamp"`
}

// EndReason 通话终止原因
type EndReason string

const (
	EndReasonUserEnded      EndReason = "user_ended"
	EndReasonEngineHangup   EndReason = "engine_hangup"
	EndReasonSilenceTimeout EndReason = "silence_timeout"
	EndReasonFatalError     EndReason = "fatal_error"
	EndReasonAborted        EndReason = "aborted"
)

// Persona 描述通话对端的合成角色
type Persona struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Voice    string `json:"voice,omitempty"`
	Greeting string `json:"greeting,omitempty"`
}

// Session 表示一次通话会话。由 call.Machine 独占持有与写入；
// 其余组件至多持有只读引用。
type Session struct {
	ID         string          `json:"id"`
	CallType   string          `json:"call_type"`
	Mode       string          `json:"mode"`
	Persona    Persona         `json:"persona"`
	State      CallState       `json:"state"`
	StartedAt  time.Time       `json:"started_at"`
	Duration   time.Duration   `json:"duration"`
	Exchanges  int             `json:"exchanges"`
	Turns      []Turn          `json:"turns"`
	EndReason  EndReason       `json:"end_reason,omitempty"` // Set exactly once, on entry to ended
	Evaluation json.RawMessage `json:"evaluation,omitempty"` // Opaque payload from the dialogue engine
}

// SessionContext 是转发给外部对话引擎的会话上下文快照
type SessionContext struct {
	SessionID string  `json:"session_id"`
	CallType  string  `json:"call_type"`
	Mode      string  `json:"mode"`
	Persona   Persona `json:"persona"`
	Exchanges int     `json:"exchanges"`
	Turns     []Turn  `json:"turns"`
}

// SessionSummary 通话结束后的汇总指标
type SessionSummary struct {
	SessionID  string          `json:"session_id"`
	CallType   string          `json:"call_type"`
	Mode       string          `json:"mode"`
	Duration   time.Duration   `json:"duration"`
	Exchanges  int             `json:"exchanges"`
	Passed     bool            `json:"passed"`
	EndReason  EndReason       `json:"end_reason"`
	EndedAt    time.Time       `json:"ended_at"`
	Evaluation json.RawMessage `json:"evaluation,omitempty"`
}
