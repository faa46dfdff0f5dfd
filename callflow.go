// Package callflow 是语音角色扮演通话核心的顶层装配入口。
//
// Service 把通话状态机、轮次协调器、采集控制器与合成编排器按配置
// 接成一个会话引擎实例；UI 壳只与 Service 的方法交互。
package callflow

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/callflow/capability"
	"github.com/BaSui01/callflow/call"
	"github.com/BaSui01/callflow/capture"
	"github.com/BaSui01/callflow/capture/recognizers/wsstream"
	"github.com/BaSui01/callflow/config"
	"github.com/BaSui01/callflow/conversation"
	"github.com/BaSui01/callflow/dialogue"
	"github.com/BaSui01/callflow/internal/metrics"
	"github.com/BaSui01/callflow/progress"
	"github.com/BaSui01/callflow/synth"
	"github.com/BaSui01/callflow/synth/providers/localtts"
	"github.com/BaSui01/callflow/synth/providers/openaitts"
	"github.com/BaSui01/callflow/synth/providers/polly"
	"github.com/BaSui01/callflow/types"
)

// Service 按会话生命周期持有的通话引擎实例。非单例；
// 一个 Service 同一时刻承载至多一个会话，Reset 后可复用。
type Service struct {
	caps     capability.Descriptor
	policy   capability.Policy
	logger   *zap.Logger
	machine  *call.Machine
	coord    *conversation.Coordinator
	recorder progress.Recorder
}

type options struct {
	recognizer  capture.Recognizer
	player      synth.Player
	engine      dialogue.Engine
	recorder    progress.Recorder
	logger      *zap.Logger
	redisClient redis.UniversalClient
	registerer  prometheus.Registerer
	localEngine localtts.Engine
	onWarn      func()
}

// Option 配置 Service 的可选项。
type Option func(*options)

// WithRecognizer 注入语音识别原语，取代配置的 WebSocket 识别器。
func WithRecognizer(rec capture.Recognizer) Option {
	return func(o *options) { o.recognizer = rec }
}

// WithPlayer 注入音频播放器；缺省为立即完成的空播放器。
func WithPlayer(p synth.Player) Option {
	return func(o *options) { o.player = p }
}

// WithEngine 注入对话引擎，取代配置的 HTTP 引擎。
func WithEngine(e dialogue.Engine) Option {
	return func(o *options) { o.engine = e }
}

// WithRecorder 注入成绩存储，取代配置的 SQLite 存储。
func WithRecorder(r progress.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithLogger 注入自定义 zap 日志器。
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRedisClient 注入 Redis 客户端作为音频缓存后端。
func WithRedisClient(c redis.UniversalClient) Option {
	return func(o *options) { o.redisClient = c }
}

// WithMetricsRegisterer 注入 Prometheus 注册器以导出指标。
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithLocalSynthesis 注入本地合成引擎作为链尾提供者。
func WithLocalSynthesis(e localtts.Engine) Option {
	return func(o *options) { o.localEngine = e }
}

// WithSilenceWarning 注册静默警告回调（非终止通知）。
func WithSilenceWarning(fn func()) Option {
	return func(o *options) { o.onWarn = fn }
}

// New 按配置与运行环境装配通话引擎。
func New(cfg *config.Config, env capability.Environment, opts ...Option) (*Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = buildLogger(cfg.Log)
		if err != nil {
			return nil, err
		}
	}

	caps := capability.Detect(env)
	policy := capability.DefaultTable().For(caps)
	applySessionOverrides(&policy, cfg.Session)

	var collector *metrics.Collector
	if o.registerer != nil {
		collector = metrics.NewCollector(o.registerer)
	}

	engine := o.engine
	if engine == nil {
		engine = dialogue.NewHTTPEngine(dialogue.HTTPConfig{
			Endpoint:  cfg.Engine.Endpoint,
			APIKey:    cfg.Engine.APIKey,
			Timeout:   cfg.Engine.Timeout,
			RateLimit: cfg.Engine.RequestsPerSecond,
		}, logger)
	}

	rec := o.recognizer
	if rec == nil && cfg.Capture.StreamURL != "" {
		rec = wsstream.New(wsstream.Config{
			URL:        cfg.Capture.StreamURL,
			APIKey:     cfg.Capture.Token,
			Language:   cfg.Capture.Language,
			SampleRate: cfg.Capture.SampleRate,
		}, logger)
	}
	if rec == nil {
		rec = unavailableRecognizer{}
		caps.HasCapture = false
	}

	recorder := o.recorder
	if recorder == nil {
		if cfg.Progress.SQLitePath != "" {
			var err error
			recorder, err = progress.NewSQLiteRecorder(cfg.Progress.SQLitePath)
			if err != nil {
				return nil, err
			}
		} else {
			recorder = progress.NopRecorder{}
		}
	}

	orch := synth.NewOrchestrator(buildChain(cfg.Synthesis, o.localEngine, logger), caps, policy, o.player, logger)
	orch.SetMetrics(collector)
	if o.redisClient == nil && cfg.Redis.Addr != "" {
		o.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	if o.redisClient != nil {
		cache := synth.NewAudioCache(o.redisClient, cfg.Redis.TTL, logger)
		cache.SetMetrics(collector)
		orch.SetCache(cache)
	}

	ctrl := capture.NewController(rec, caps, policy, logger)
	ctrl.SetMetrics(collector)

	machineOpts := []call.Option{}
	if cfg.Progress.PassThreshold > 0 {
		machineOpts = append(machineOpts, call.WithPassThreshold(cfg.Progress.PassThreshold))
	}
	if o.onWarn != nil {
		machineOpts = append(machineOpts, call.WithSilenceWarning(o.onWarn))
	}
	machine := call.NewMachine(caps, policy, recorder, collector, logger, machineOpts...)
	coord := conversation.NewCoordinator(machine, engine, orch, ctrl, policy, logger)
	machine.Bind(coord)
	coord.SetVoice(synth.VoiceParams{Voice: cfg.Synthesis.Voice})

	return &Service{
		caps:     caps,
		policy:   policy,
		logger:   logger,
		machine:  machine,
		coord:    coord,
		recorder: recorder,
	}, nil
}

// Capabilities 返回构造期计算的能力描述。
func (s *Service) Capabilities() capability.Descriptor { return s.caps }

// StartSession 创建并拨通一个会话。
func (s *Service) StartSession(callType, mode string, persona types.Persona) (string, error) {
	return s.machine.StartSession(callType, mode, persona)
}

// SubmitUtterance 提交一条最终的用户话语（文本通道，绕过采集）。
func (s *Service) SubmitUtterance(ctx context.Context, text string, confidence float64) error {
	return s.coord.SubmitUtterance(ctx, text, confidence)
}

// ArmCapture 武装一次语音采集；移动端合成结束后由 UI 在用户交互时调用。
func (s *Service) ArmCapture(ctx context.Context) {
	s.coord.ArmCapture(ctx)
}

// EndSession 结束当前会话。
func (s *Service) EndSession(reason types.EndReason) error {
	return s.machine.EndSession(reason)
}

// GetState 返回当前通话状态。
func (s *Service) GetState() types.CallState { return s.machine.GetState() }

// Floor 返回发言权快照，供 UI 呈现监听/播报/处理状态。
func (s *Service) Floor() conversation.Floor { return s.coord.FloorState() }

// Snapshot 返回会话快照；无会话时为 nil。
func (s *Service) Snapshot() *types.Session { return s.machine.Snapshot() }

// Summary 返回最近一次已结束会话的汇总。
func (s *Service) Summary() *types.SessionSummary { return s.machine.Summary() }

// LastError 返回迫使会话终止的致命错误。
func (s *Service) LastError() *types.Error { return s.machine.LastError() }

// ResetSession 销毁会话并回到 idle。
func (s *Service) ResetSession() { s.machine.Reset() }

// SetMuted 设置是否静音 AI 语音输出。
func (s *Service) SetMuted(muted bool) { s.coord.SetMuted(muted) }

// SetVoice 设置 AI 回复的声音参数。
func (s *Service) SetVoice(params synth.VoiceParams) { s.coord.SetVoice(params) }

// History 返回某通话类型最近的成绩记录。
func (s *Service) History(ctx context.Context, callType string, limit int) ([]types.SessionSummary, error) {
	return s.recorder.History(ctx, callType, limit)
}

// buildChain 按配置装配合成提供者链：Polly → OpenAI TTS → 本地引擎。
func buildChain(cfg config.SynthesisConfig, local localtts.Engine, logger *zap.Logger) *synth.Chain {
	var entries []synth.Entry
	if cfg.PollyEndpoint != "" {
		entries = append(entries, synth.Entry{Provider: polly.New(polly.Config{
			Endpoint:     cfg.PollyEndpoint,
			Region:       cfg.PollyRegion,
			DefaultVoice: cfg.Voice,
		}, logger)})
	}
	if cfg.OpenAIAPIKey != "" {
		entries = append(entries, synth.Entry{Provider: openaitts.New(openaitts.Config{
			BaseURL:      cfg.OpenAIBaseURL,
			APIKey:       cfg.OpenAIAPIKey,
			Model:        cfg.OpenAIModel,
			DefaultVoice: cfg.Voice,
		}, logger)})
	}
	if local != nil {
		entries = append(entries, synth.Entry{Provider: localtts.New(local, logger)})
	}
	return synth.NewChain(entries...)
}

// applySessionOverrides 用配置值覆盖设备策略表中的会话阈值。
func applySessionOverrides(p *capability.Policy, s config.SessionConfig) {
	if s.SilenceWarn > 0 {
		p.SilenceWarn = s.SilenceWarn
	}
	if s.SilenceHangup > 0 {
		p.SilenceHangup = s.SilenceHangup
	}
	if s.SetupDelay > 0 {
		p.SetupDelay = s.SetupDelay
	}
}

// buildLogger 按日志配置构造 zap 日志器。
func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// unavailableRecognizer 在没有采集原语时占位；Start 永不被调用，
// 因为能力描述已关闭 HasCapture。
type unavailableRecognizer struct{}

func (unavailableRecognizer) Start(context.Context) (<-chan capture.Event, error) {
	return nil, types.NewCapabilityUnsupportedError("no speech capture primitive configured")
}

func (unavailableRecognizer) Stop() error { return nil }
