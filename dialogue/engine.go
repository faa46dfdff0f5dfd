// Package dialogue 定义外部对话引擎接口：把一段转写映射为回复与
// 继续/挂断信号。引擎被视为不透明、可能缓慢、可能失败的依赖；
// 核心不在此之上做重试。
package dialogue

import (
	"context"
	"encoding/json"

	"github.com/BaSui01/callflow/types"
)

// Request 引擎请求
type Request struct {
	Transcript     string               `json:"transcript"`
	Confidence     float64              `json:"confidence"`
	SessionContext types.SessionContext `json:"session_context"`
}

// Response 引擎响应
type Response struct {
	Success      bool            `json:"success"`
	Response     string          `json:"response"`
	ShouldHangUp bool            `json:"should_hang_up"`
	Evaluation   json.RawMessage `json:"evaluation,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Engine 外部对话引擎。
type Engine interface {
	Respond(ctx context.Context, req Request) (*Response, error)
}

// EngineFunc 函数式 Engine 适配器，便于测试与内嵌实现。
type EngineFunc func(ctx context.Context, req Request) (*Response, error)

func (f EngineFunc) Respond(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
