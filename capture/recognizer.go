package capture

import (
	"context"

	"github.com/BaSui01/callflow/types"
)

// EventKind 采集原语事件类别
type EventKind string

const (
	EventResult EventKind = "result"
	EventError  EventKind = "error"
	EventEnd    EventKind = "end"
)

// ErrCode 采集原语的错误码，与浏览器语音识别引擎的错误码对齐。
type ErrCode string

const (
	ErrCodeNoSpeech          ErrCode = "no-speech"
	ErrCodeAborted           ErrCode = "aborted"
	ErrCodeNotAllowed        ErrCode = "not-allowed"
	ErrCodeAudioCapture      ErrCode = "audio-capture"
	ErrCodeServiceNotAllowed ErrCode = "service-not-allowed"
	ErrCodeNetwork           ErrCode = "network"
)

// Event 是采集原语产生的单个事件。
type Event struct {
	Kind       EventKind
	Transcript string
	Confidence float64
	IsFinal    bool
	Code       ErrCode // EventError 时有效
}

// Recognizer 抽象外部语音采集原语。Start 返回事件流；
// 流在原语结束时关闭。Stop 幂等。
type Recognizer interface {
	Start(ctx context.Context) (<-chan Event, error)
	Stop() error
}

// Transient 报告错误码是否为瞬态（可经重启协议重试）。
func Transient(code ErrCode) bool {
	switch code {
	case ErrCodeNoSpeech, ErrCodeAborted, ErrCodeNetwork:
		return true
	}
	return false
}

// ClassifyError 把原语错误码映射为结构化错误。
func ClassifyError(code ErrCode) *types.Error {
	switch code {
	case ErrCodeNotAllowed:
		return types.NewPermissionError("microphone access denied")
	case ErrCodeAudioCapture:
		return types.NewCapabilityUnsupportedError("no audio capture device")
	case ErrCodeServiceNotAllowed:
		return types.NewCapabilityUnsupportedError("capture service not allowed")
	default:
		return types.NewError(types.ErrTransientRecognition, string(code)).WithRetryable(true)
	}
}
