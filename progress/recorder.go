// Package progress 记录通话结束后的成绩快照。
// 核心只在会话终止时调用一次 RecordOutcome；存储格式由实现决定。
package progress

import (
	"context"

	"github.com/BaSui01/callflow/types"
)

// Recorder 通话结果落库钩子。
type Recorder interface {
	// RecordOutcome 持久化一次通话汇总。会话已终止，失败不应影响核心状态。
	RecordOutcome(ctx context.Context, summary types.SessionSummary) error
	// History 按通话类型返回最近的汇总记录，最新在前。
	History(ctx context.Context, callType string, limit int) ([]types.SessionSummary, error)
}

// NopRecorder 丢弃所有记录的空实现。
type NopRecorder struct{}

func (NopRecorder) RecordOutcome(context.Context, types.SessionSummary) error { return nil }

func (NopRecorder) History(context.Context, string, int) ([]types.SessionSummary, error) {
	return nil, nil
}
