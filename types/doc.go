// Copyright 2026 CallFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package types 提供 CallFlow 通话编排核心的全局共享类型定义。

# 概述

types 是模块最底层的公共包，不依赖任何内部包，为 call、conversation、
capture、synth、dialogue 等上层模块提供统一的类型契约。所有跨包共享的
结构体、枚举和错误码均定义于此，以避免循环依赖。

# 核心类型

  - Session / Turn       — 通话会话与对话轮次（用户/AI 双方）
  - CallState            — 通话生命周期状态机（idle → dialing → connected → ended）
  - EndReason            — 通话终止原因（用户挂断、静默超时、致命错误等）
  - SessionSummary       — 通话结束后的汇总指标（时长、轮次、通过判定）
  - Error / ErrorCode    — 结构化错误体系，含 Retryable、Provider 标记

# 主要能力

  - 状态转换校验：CanTransition 基于单调不可逆的转换表
  - 错误工具链：WrapError / AsError / IsErrorCode / IsRetryable
  - 常用错误构造：NewPermissionError / NewStateViolationError 等
*/
package types
