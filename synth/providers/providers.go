// Package providers 提供合成提供者实现共享的 HTTP 工具。
package providers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/BaSui01/callflow/types"
)

// ReadErrorMessage 尽力从错误响应体中提取消息。
func ReadErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	return string(raw)
}

// MapHTTPError 把 HTTP 状态码映射为结构化提供者错误。
// 限流与服务端错误可重试（由链路降级消化），客户端错误不可重试。
func MapHTTPError(status int, msg, provider string) *types.Error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	err := types.NewError(types.ErrProviderError, msg).WithProvider(provider)
	if status == http.StatusTooManyRequests || status >= 500 {
		err = err.WithRetryable(true)
	}
	return err
}
