// =============================================================================
// 📦 CallFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("callflow.yaml").
//	    WithEnvPrefix("CALLFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 CallFlow 的完整配置结构
type Config struct {
	// Engine 外部对话引擎配置
	Engine EngineConfig `yaml:"engine" env:"ENGINE"`

	// Capture 语音采集配置
	Capture CaptureConfig `yaml:"capture" env:"CAPTURE"`

	// Synthesis 语音合成配置
	Synthesis SynthesisConfig `yaml:"synthesis" env:"SYNTHESIS"`

	// Redis 音频缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Progress 成绩存储配置
	Progress ProgressConfig `yaml:"progress" env:"PROGRESS"`

	// Session 会话策略覆盖
	Session SessionConfig `yaml:"session" env:"SESSION"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// EngineConfig 对话引擎配置
type EngineConfig struct {
	// 引擎 HTTP 端点
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
	// Bearer 令牌
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 每秒请求数上限
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
}

// CaptureConfig 语音采集配置
type CaptureConfig struct {
	// 流式识别 WebSocket 端点；留空表示采集由宿主注入
	StreamURL string `yaml:"stream_url" env:"STREAM_URL"`
	// 识别服务令牌
	Token string `yaml:"token" env:"TOKEN"`
	// 识别语言
	Language string `yaml:"language" env:"LANGUAGE"`
	// 采样率 (Hz)
	SampleRate int `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// SynthesisConfig 语音合成配置
type SynthesisConfig struct {
	// Polly 端点；留空禁用该提供者
	PollyEndpoint string `yaml:"polly_endpoint" env:"POLLY_ENDPOINT"`
	// Polly 区域
	PollyRegion string `yaml:"polly_region" env:"POLLY_REGION"`
	// OpenAI TTS 基础 URL
	OpenAIBaseURL string `yaml:"openai_base_url" env:"OPENAI_BASE_URL"`
	// OpenAI API 密钥；留空禁用该提供者
	OpenAIAPIKey string `yaml:"openai_api_key" env:"OPENAI_API_KEY"`
	// OpenAI TTS 模型
	OpenAIModel string `yaml:"openai_model" env:"OPENAI_MODEL"`
	// 默认声音
	Voice string `yaml:"voice" env:"VOICE"`
}

// RedisConfig 音频缓存配置
type RedisConfig struct {
	// 地址；留空禁用缓存
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 缓存条目存活时间
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// ProgressConfig 成绩存储配置
type ProgressConfig struct {
	// SQLite 数据库路径；留空禁用持久化
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	// 判定通过所需的最少交换次数
	PassThreshold int `yaml:"pass_threshold" env:"PASS_THRESHOLD"`
}

// SessionConfig 会话策略覆盖；零值表示沿用设备策略表
type SessionConfig struct {
	// 静默警告阈值
	SilenceWarn time.Duration `yaml:"silence_warn" env:"SILENCE_WARN"`
	// 静默挂断阈值
	SilenceHangup time.Duration `yaml:"silence_hangup" env:"SILENCE_HANGUP"`
	// 拨号接通延迟
	SetupDelay time.Duration `yaml:"setup_delay" env:"SETUP_DELAY"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
}

// =============================================================================
// 🧩 默认值
// =============================================================================

// DefaultConfig 返回带默认值的配置
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Timeout:           15 * time.Second,
			RequestsPerSecond: 5,
		},
		Capture: CaptureConfig{
			Language:   "en-US",
			SampleRate: 16000,
		},
		Synthesis: SynthesisConfig{
			OpenAIBaseURL: "https://api.openai.com/v1",
			OpenAIModel:   "tts-1",
			Voice:         "alloy",
		},
		Redis: RedisConfig{
			TTL: time.Hour,
		},
		Progress: ProgressConfig{
			PassThreshold: 3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate 校验配置的基本约束
func (c *Config) Validate() error {
	if c.Engine.Endpoint == "" {
		return fmt.Errorf("engine.endpoint is required")
	}
	if c.Engine.Timeout <= 0 {
		return fmt.Errorf("engine.timeout must be positive")
	}
	if c.Capture.SampleRate <= 0 {
		return fmt.Errorf("capture.sample_rate must be positive")
	}
	if c.Session.SilenceWarn > 0 && c.Session.SilenceHangup > 0 &&
		c.Session.SilenceHangup <= c.Session.SilenceWarn {
		return fmt.Errorf("session.silence_hangup must exceed session.silence_warn")
	}
	return nil
}

// =============================================================================
// 🔄 加载器
// =============================================================================

// Loader 配置加载器
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "CALLFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置 YAML 配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 追加自定义验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 执行加载: 默认值 → YAML → 环境变量 → 验证
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置。文件不存在时保留默认值。
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// loadFromEnv 从环境变量覆盖配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 按 env tag 递归覆盖结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 将字符串环境变量写入字段
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}

	default:
		return fmt.Errorf("unsupported field kind: %s", field.Kind())
	}

	return nil
}
