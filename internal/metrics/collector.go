package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。nil 安全：所有记录方法对 nil 接收者为空操作，
// 便于在测试与未启用监控的部署中直接传 nil。
type Collector struct {
	// 会话指标
	sessionsTotal    *prometheus.CounterVec
	sessionDuration  prometheus.Histogram
	stateTransitions *prometheus.CounterVec
	exchangesTotal   prometheus.Counter

	// 采集指标
	captureStarts   prometheus.Counter
	captureRestarts prometheus.Counter
	captureErrors   *prometheus.CounterVec
	silenceEvents   *prometheus.CounterVec

	// 合成指标
	providerAttempts *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	synthFallbacks   prometheus.Counter

	// 缓存指标
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
}

// NewCollector 创建指标收集器并注册到给定 Registerer。
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callflow",
			Name:      "sessions_total",
			Help:      "Total call sessions by end reason.",
		}, []string{"end_reason"}),
		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "callflow",
			Name:      "session_duration_seconds",
			Help:      "Call session duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 8),
		}),
		stateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callflow",
			Name:      "state_transitions_total",
			Help:      "Call state transitions.",
		}, []string{"from", "to"}),
		exchangesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "callflow",
			Name:      "exchanges_total",
			Help:      "Finalized user exchanges across all sessions.",
		}),
		captureStarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "callflow",
			Subsystem: "capture",
			Name:      "starts_total",
			Help:      "Speech capture session starts.",
		}),
		captureRestarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "callflow",
			Subsystem: "capture",
			Name:      "restarts_total",
			Help:      "Automatic capture restarts.",
		}),
		captureErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callflow",
			Subsystem: "capture",
			Name:      "errors_total",
			Help:      "Capture errors by recognizer error code.",
		}, []string{"code"}),
		silenceEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callflow",
			Subsystem: "capture",
			Name:      "silence_events_total",
			Help:      "Silence escalation events by stage (warn, hangup).",
		}, []string{"stage"}),
		providerAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callflow",
			Subsystem: "synth",
			Name:      "provider_attempts_total",
			Help:      "Synthesis provider attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		providerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "callflow",
			Subsystem: "synth",
			Name:      "provider_latency_seconds",
			Help:      "Synthesis latency by provider.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		synthFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "callflow",
			Subsystem: "synth",
			Name:      "fallbacks_total",
			Help:      "Times the chain advanced past a failed provider.",
		}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "callflow",
			Subsystem: "synth",
			Name:      "cache_hits_total",
			Help:      "Audio cache hits.",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "callflow",
			Subsystem: "synth",
			Name:      "cache_misses_total",
			Help:      "Audio cache misses.",
		}),
	}
}

// RecordSessionEnd 记录会话结束
func (c *Collector) RecordSessionEnd(reason string, duration time.Duration) {
	if c == nil {
		return
	}
	c.sessionsTotal.WithLabelValues(reason).Inc()
	c.sessionDuration.Observe(duration.Seconds())
}

// RecordTransition 记录状态转换
func (c *Collector) RecordTransition(from, to string) {
	if c == nil {
		return
	}
	c.stateTransitions.WithLabelValues(from, to).Inc()
}

// RecordExchange 记录一次完成的用户交换
func (c *Collector) RecordExchange() {
	if c == nil {
		return
	}
	c.exchangesTotal.Inc()
}

// RecordCaptureStart 记录采集启动
func (c *Collector) RecordCaptureStart() {
	if c == nil {
		return
	}
	c.captureStarts.Inc()
}

// RecordCaptureRestart 记录采集自动重启
func (c *Collector) RecordCaptureRestart() {
	if c == nil {
		return
	}
	c.captureRestarts.Inc()
}

// RecordCaptureError 记录采集错误
func (c *Collector) RecordCaptureError(code string) {
	if c == nil {
		return
	}
	c.captureErrors.WithLabelValues(code).Inc()
}

// RecordSilence 记录静默升级事件
func (c *Collector) RecordSilence(stage string) {
	if c == nil {
		return
	}
	c.silenceEvents.WithLabelValues(stage).Inc()
}

// RecordProviderAttempt 记录合成提供者尝试
func (c *Collector) RecordProviderAttempt(provider, outcome string, latency time.Duration) {
	if c == nil {
		return
	}
	c.providerAttempts.WithLabelValues(provider, outcome).Inc()
	c.providerLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// RecordFallback 记录一次提供者链前进
func (c *Collector) RecordFallback() {
	if c == nil {
		return
	}
	c.synthFallbacks.Inc()
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit() {
	if c == nil {
		return
	}
	c.cacheHits.Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss() {
	if c == nil {
		return
	}
	c.cacheMisses.Inc()
}
