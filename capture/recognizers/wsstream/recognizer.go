// Package wsstream 把流式语音识别服务的 WebSocket 接口适配为
// capture.Recognizer。协议为单连接双向帧：客户端发送一条 JSON 配置帧后
// 推送二进制音频帧；服务端回送 JSON 转写帧直至会话结束。
package wsstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/callflow/capture"
)

// Config 流式识别连接配置
type Config struct {
	URL         string        `yaml:"url"`
	APIKey      string        `yaml:"api_key"`
	Language    string        `yaml:"language"`
	SampleRate  int           `yaml:"sample_rate"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// startFrame 会话起始配置帧
type startFrame struct {
	Type       string `json:"type"`
	Language   string `json:"language,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// serverFrame 服务端下行帧
type serverFrame struct {
	Type       string  `json:"type"` // transcript | error | end
	Transcript string  `json:"transcript,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	IsFinal    bool    `json:"is_final,omitempty"`
	Code       string  `json:"code,omitempty"`
}

// Recognizer 基于 WebSocket 的流式识别适配器。
type Recognizer struct {
	cfg    Config
	logger *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// New 创建流式识别适配器。
func New(cfg Config, logger *zap.Logger) *Recognizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	return &Recognizer{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "wsstream_recognizer")),
	}
}

// Start 建立连接并返回事件流；流在服务端会话结束或连接断开时关闭。
func (r *Recognizer) Start(ctx context.Context) (<-chan capture.Event, error) {
	dialCtx, cancel := context.WithTimeout(ctx, r.cfg.DialTimeout)
	defer cancel()

	opts := &websocket.DialOptions{}
	if r.cfg.APIKey != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + r.cfg.APIKey}}
	}
	conn, _, err := websocket.Dial(dialCtx, r.cfg.URL, opts)
	if err != nil {
		return nil, fmt.Errorf("dial stream endpoint: %w", err)
	}

	start, _ := json.Marshal(startFrame{
		Type:       "start",
		Language:   r.cfg.Language,
		SampleRate: r.cfg.SampleRate,
	})
	if err := conn.Write(ctx, websocket.MessageText, start); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "start frame failed")
		return nil, fmt.Errorf("send start frame: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	events := make(chan capture.Event, 16)
	go r.readLoop(ctx, conn, events)
	return events, nil
}

// SendAudio 推送一帧 PCM 音频。无活跃连接时返回错误。
func (r *Recognizer) SendAudio(ctx context.Context, frame []byte) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("no active stream connection")
	}
	return conn.Write(ctx, websocket.MessageBinary, frame)
}

// Stop 关闭连接。幂等。
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "stopped")
}

func (r *Recognizer) readLoop(ctx context.Context, conn *websocket.Conn, events chan<- capture.Event) {
	defer close(events)
	defer func() {
		r.mu.Lock()
		if r.conn == conn {
			r.conn = nil
		}
		r.mu.Unlock()
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			// 连接断开即会话结束；重启决策属于 capture.Controller
			r.logger.Debug("stream closed", zap.Error(err))
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var frame serverFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			r.logger.Warn("malformed server frame", zap.Error(err))
			continue
		}
		switch frame.Type {
		case "transcript":
			events <- capture.Event{
				Kind:       capture.EventResult,
				Transcript: frame.Transcript,
				Confidence: frame.Confidence,
				IsFinal:    frame.IsFinal,
			}
		case "error":
			events <- capture.Event{Kind: capture.EventError, Code: capture.ErrCode(frame.Code)}
		case "end":
			events <- capture.Event{Kind: capture.EventEnd}
			return
		}
	}
}
