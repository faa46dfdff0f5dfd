// Copyright 2026 CallFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package testutil 提供 CallFlow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / AssertEventuallyState，
    支持超时轮询等待条件满足
  - 轮次断言: AssertTurnSequence，校验会话日志的发言方顺序

# 使用示例

	ctx := testutil.TestContext(t)
	testutil.AssertEventuallyState(t, m.GetState, types.StateConnected, time.Second)
*/
package testutil
