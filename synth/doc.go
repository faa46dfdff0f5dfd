// Copyright 2026 CallFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package synth 提供语音合成编排器：把一次文本转语音请求按声明式的
提供者链依序执行，带每提供者超时与降级，并持有音频播放生命周期。

# 提供者链

链在初始化后顺序固定。每个提供者带可用性谓词（例如远端提供者要求
端点可达与能力标志）与单次尝试超时。编排器严格按序尝试，直至某个
提供者成功或链耗尽（SYNTHESIS_EXHAUSTED）。提供者特有的限制以
Available 谓词表达，编排循环内不出现提供者分支。

# 取消语义

任何后续 Speak 或显式 Stop 都会取代进行中的请求：进行中的尝试与
播放被取消，挂起的调用以 cancelled 结果解除，绝不悬挂。每个请求
恰好报告一次结果。

# 资源回收

音频句柄在播放完成后立即释放；同时以有界清理延迟兜底，确保句柄
不会无限期泄漏。

# 缓存

可选的 Redis 音频缓存位于链之前，键为文本、声音参数与链版本的
摘要。缓存不可达时静默降级回链，永不致命。
*/
package synth
