package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/callflow/types"
)

// OutcomeRecord 通话汇总的 GORM 模型。
type OutcomeRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	SessionID string    `gorm:"size:64;uniqueIndex;not null"`
	CallType  string    `gorm:"size:64;index;not null"`
	Mode      string    `gorm:"size:32"`
	Duration  int64     `gorm:"not null"` // milliseconds
	Exchanges int       `gorm:"not null"`
	Passed    bool      `gorm:"not null"`
	EndReason string    `gorm:"size:32;not null"`
	EndedAt   time.Time `gorm:"index;not null"`
	CreatedAt time.Time
}

func (OutcomeRecord) TableName() string { return "call_outcomes" }

// SQLiteRecorder 基于 SQLite 的本地成绩存储。
type SQLiteRecorder struct {
	db *gorm.DB
}

// NewSQLiteRecorder 打开（或创建）数据库并迁移表结构。
// path 传 ":memory:" 可得到仅存于内存的数据库，测试用。
func NewSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open progress database: %w", err)
	}
	if err := db.AutoMigrate(&OutcomeRecord{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}
	return &SQLiteRecorder{db: db}, nil
}

// RecordOutcome 插入一条汇总记录。同一 SessionID 重复写入是幂等的。
func (r *SQLiteRecorder) RecordOutcome(ctx context.Context, summary types.SessionSummary) error {
	rec := OutcomeRecord{
		SessionID: summary.SessionID,
		CallType:  summary.CallType,
		Mode:      summary.Mode,
		Duration:  summary.Duration.Milliseconds(),
		Exchanges: summary.Exchanges,
		Passed:    summary.Passed,
		EndReason: string(summary.EndReason),
		EndedAt:   summary.EndedAt,
	}
	err := r.db.WithContext(ctx).
		Where(OutcomeRecord{SessionID: summary.SessionID}).
		FirstOrCreate(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to record outcome %s: %w", summary.SessionID, err)
	}
	return nil
}

// History 返回某通话类型最近 limit 条汇总，最新在前。
func (r *SQLiteRecorder) History(ctx context.Context, callType string, limit int) ([]types.SessionSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []OutcomeRecord
	q := r.db.WithContext(ctx).Order("ended_at DESC").Limit(limit)
	if callType != "" {
		q = q.Where("call_type = ?", callType)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	out := make([]types.SessionSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, types.SessionSummary{
			SessionID: rec.SessionID,
			CallType:  rec.CallType,
			Mode:      rec.Mode,
			Duration:  time.Duration(rec.Duration) * time.Millisecond,
			Exchanges: rec.Exchanges,
			Passed:    rec.Passed,
			EndReason: types.EndReason(rec.EndReason),
			EndedAt:   rec.EndedAt,
		})
	}
	return out, nil
}
