// Copyright 2026 CallFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

// Package call 实现通话会话状态机。
//
// 状态机是会话及其轮次日志的唯一写入方，负责：
//
//   - 生命周期推进：idle → dialing → connected → ended，单调不可逆；
//   - 接通延迟：dialing 经固定 setup 延迟后进入 connected 并播报开场白；
//   - 静默升级：两段计时器，先警告（非终止）再以 silence_timeout 挂断；
//   - 收尾：进入 ended 时停止采集与合成、取消全部计时器、
//     计算汇总指标并写入成绩存储。
//
// 其余组件对会话至多持有只读快照；所有轮次追加都经由本包的 API。
package call
