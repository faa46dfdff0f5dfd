// Package capability 提供设备能力探测与平台策略表。
//
// 编排逻辑从不直接依据设备类别分支；平台差异全部表达为本包的策略数据
// （超时、重启延迟、提供者可用性），在构造期注入一次，运行期只读。
package capability

import "time"

// DeviceClass 设备类别
type DeviceClass string

const (
	DeviceDesktop DeviceClass = "desktop"
	DeviceMobile  DeviceClass = "mobile"
)

// Environment 描述宿主运行环境，由上层（UI 壳）在构造期提供。
type Environment struct {
	DeviceClass      DeviceClass `json:"device_class"`
	HasCapture       bool        `json:"has_capture"`
	HasSynthesis     bool        `json:"has_synthesis"`
	HasMicrophoneAPI bool        `json:"has_microphone_api"`
	RemoteReachable  bool        `json:"remote_reachable"` // Remote synthesis endpoint reachable
}

// Descriptor 是进程生命周期内不可变的能力描述，构造期计算一次。
type Descriptor struct {
	DeviceClass      DeviceClass `json:"device_class"`
	HasCapture       bool        `json:"has_capture"`
	HasSynthesis     bool        `json:"has_synthesis"`
	HasMicrophoneAPI bool        `json:"has_microphone_api"`
	RemoteReachable  bool        `json:"remote_reachable"`
}

// Detect 由运行环境计算能力描述。纯函数，无副作用。
func Detect(env Environment) Descriptor {
	class := env.DeviceClass
	if class != DeviceMobile {
		class = DeviceDesktop
	}
	return Descriptor{
		DeviceClass:      class,
		HasCapture:       env.HasCapture,
		HasSynthesis:     env.HasSynthesis,
		HasMicrophoneAPI: env.HasMicrophoneAPI,
		RemoteReachable:  env.RemoteReachable,
	}
}

// Policy 是按设备类别选定的策略值集合。所有下游超时与延迟均来源于此，
// 组件内部不内置平台常量。
type Policy struct {
	// 采集
	NoSpeechTimeout    time.Duration `json:"no_speech_timeout" yaml:"no_speech_timeout"`
	MinRestartInterval time.Duration `json:"min_restart_interval" yaml:"min_restart_interval"`
	RestartDelay       time.Duration `json:"restart_delay" yaml:"restart_delay"`

	// 合成
	ProviderTimeout time.Duration `json:"provider_timeout" yaml:"provider_timeout"`
	CleanupDelay    time.Duration `json:"cleanup_delay" yaml:"cleanup_delay"`

	// 对话协调
	AutoRearmAfterSpeech bool `json:"auto_rearm_after_speech" yaml:"auto_rearm_after_speech"`

	// 通话生命周期
	SetupDelay    time.Duration `json:"setup_delay" yaml:"setup_delay"`
	SilenceWarn   time.Duration `json:"silence_warn" yaml:"silence_warn"`
	SilenceHangup time.Duration `json:"silence_hangup" yaml:"silence_hangup"`
}

// Table 按设备类别保存策略，初始化后只读。
type Table map[DeviceClass]Policy

// DefaultTable 返回内置策略表。
// 移动端采集引擎在无新鲜用户交互时重启不可靠，因此重启延迟更长、
// 语音合成完成后不自动恢复采集。
func DefaultTable() Table {
	return Table{
		DeviceDesktop: {
			NoSpeechTimeout:      10 * time.Second,
			MinRestartInterval:   500 * time.Millisecond,
			RestartDelay:         100 * time.Millisecond,
			ProviderTimeout:      8 * time.Second,
			CleanupDelay:         30 * time.Second,
			AutoRearmAfterSpeech: true,
			SetupDelay:           1500 * time.Millisecond,
			SilenceWarn:          20 * time.Second,
			SilenceHangup:        35 * time.Second,
		},
		DeviceMobile: {
			NoSpeechTimeout:      15 * time.Second,
			MinRestartInterval:   500 * time.Millisecond,
			RestartDelay:         time.Second,
			ProviderTimeout:      10 * time.Second,
			CleanupDelay:         30 * time.Second,
			AutoRearmAfterSpeech: false,
			SetupDelay:           1500 * time.Millisecond,
			SilenceWarn:          25 * time.Second,
			SilenceHangup:        40 * time.Second,
		},
	}
}

// For 返回该能力描述对应的策略；未知类别回退桌面策略。
func (t Table) For(d Descriptor) Policy {
	if p, ok := t[d.DeviceClass]; ok {
		return p
	}
	return t[DeviceDesktop]
}
