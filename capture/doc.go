// Copyright 2026 CallFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package capture 提供语音采集控制器：驱动不可靠的采集原语完成
启动/停止/重启协议，分类采集错误，并检测无语音静默。

# 概述

外部采集原语（浏览器引擎、流式 STT 服务等）会无预警地自行结束。
Controller 把一次"逻辑监听"跨越多次物理采集会话：物理会话意外结束且
连续模式开启时，按重启协议（最小启动间隔 + 平台重启延迟）自动重启，
直到产生最终识别结果或终止性错误。

# 错误分类

  - no-speech / aborted            — 瞬态，可经重启协议重试
  - not-allowed                    — 致命，映射为 PERMISSION_DENIED
  - audio-capture / service-not-allowed — 致命，映射为 CAPABILITY_UNSUPPORTED

致命错误绝不自动重启，直接向调用方暴露。

# 重启协议

物理会话意外结束时：elapsed = now - lastStart；若 elapsed 小于
MinRestartInterval 则放弃本次重启（防抖动循环），否则在 RestartDelay
之后重启。两个值均来自 capability.Policy，控制器本身不含平台常量。
*/
package capture
