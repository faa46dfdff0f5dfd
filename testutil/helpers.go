// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数和断言
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	testutil.AssertEventuallyTrue(t, func() bool { return condition }, time.Second)
// =============================================================================
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/callflow/types"
)

// =============================================================================
// ⏱️ 上下文辅助
// =============================================================================

// TestContext 返回带默认超时的测试上下文，自动注册 Cleanup
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// AssertEventuallyTrue 轮询等待条件成立，超时报错
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Errorf("condition did not become true within %v", timeout)
}

// AssertEventuallyState 等待通话状态到达期望值
func AssertEventuallyState(t *testing.T, getter func() types.CallState, want types.CallState, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if getter() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Errorf("call state did not reach %s within %v (now %s)", want, timeout, getter())
}

// AssertTurnSequence 断言轮次日志的发言方顺序
func AssertTurnSequence(t *testing.T, turns []types.Turn, speakers ...types.Speaker) {
	t.Helper()

	if len(turns) != len(speakers) {
		t.Errorf("turn count mismatch: expected %d, got %d", len(speakers), len(turns))
		return
	}
	for i, want := range speakers {
		if turns[i].Speaker != want {
			t.Errorf("turn %d: expected speaker %s, got %s", i, want, turns[i].Speaker)
		}
	}
}
