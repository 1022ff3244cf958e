package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

const apiKeyPlaceholder = "your-openai-api-key-here"

// Config 应用配置
type Config struct {
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Audio       AudioConfig       `yaml:"audio"`
	Storage     StorageConfig     `yaml:"storage"`
	Queue       QueueConfig       `yaml:"queue"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// OpenAIConfig OpenAI 配置
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"` // 为空时使用官方地址
	Model   string `yaml:"model"`
}

// TranscriberConfig 转写配置
type TranscriberConfig struct {
	WorkerPoolSize     int    `yaml:"worker_pool_size"`    // 异步 Worker 数量（同时处理多少个音频文件）
	SegmentConcurrency int    `yaml:"segment_concurrency"` // 单个音频的分片并发上限，0 表示全部并发
	SegmentDuration    int    `yaml:"segment_duration"`    // 分片阈值（秒）
	MaxAttempts        int    `yaml:"max_attempts"`        // 单个分片的请求次数，1 表示不重试
	Language           string `yaml:"language"`
	GlobalTimeline     bool   `yaml:"global_timeline"` // 报告中的时间戳是否按原音频时间轴偏移
	Subtitles          bool   `yaml:"subtitles"`       // 是否额外生成 SRT/VTT 字幕
}

// AudioConfig 音频检查配置
type AudioConfig struct {
	MaxSizeMB          int64  `yaml:"max_size_mb"`
	MaxDurationMinutes int    `yaml:"max_duration_minutes"`
	StrictDuration     bool   `yaml:"strict_duration"` // 超过最大时长时拒绝
	Normalize          bool   `yaml:"normalize"`       // 非 MP3 文件先转码为 MP3
	FFmpegPath         string `yaml:"ffmpeg_path"`
	FFprobePath        string `yaml:"ffprobe_path"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Type       string         `yaml:"type"` // memory | redis | postgres | hybrid
	WorkingDir string         `yaml:"working_dir"`
	UploadDir  string         `yaml:"upload_dir"` // 异步任务的上传暂存区
	ReportsDir string         `yaml:"reports_dir"`
	Redis      RedisConfig    `yaml:"redis"`
	Postgres   PostgresConfig `yaml:"postgres"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTLHours int    `yaml:"ttl_hours"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// QueueConfig 队列配置
type QueueConfig struct {
	Type       string         `yaml:"type"`
	BufferSize int            `yaml:"buffer_size"`
	RabbitMQ   RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig RabbitMQ 配置
type RabbitMQConfig struct {
	URL       string `yaml:"url"`
	QueueName string `yaml:"queue_name"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port                  int   `yaml:"port"`
	MaxUploadSize         int64 `yaml:"max_upload_size"`
	RequestTimeoutMinutes int   `yaml:"request_timeout_minutes"`
	JobTimeoutMinutes     int   `yaml:"job_timeout_minutes"`

	AllowedOrigins []string `yaml:"allowed_origins"` // 为空时允许所有来源
}

// LogConfig 日志配置
type LogConfig struct {
	Mode string `yaml:"mode"` // dev | prod
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return Parse(data)
}

// Parse 解析 YAML 配置，应用环境变量覆盖并校验
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// API Key 优先从环境变量读取
	if key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); key != "" {
		config.OpenAI.APIKey = key
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &config, nil
}

// Validate 验证配置并填充默认值
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" || c.OpenAI.APIKey == apiKeyPlaceholder {
		return fmt.Errorf("请在配置文件或 OPENAI_API_KEY 环境变量中设置有效的 OpenAI API Key")
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "whisper-1"
	}

	if c.Transcriber.WorkerPoolSize <= 0 {
		c.Transcriber.WorkerPoolSize = 2
	}
	if c.Transcriber.SegmentConcurrency < 0 {
		c.Transcriber.SegmentConcurrency = 0
	}
	if c.Transcriber.SegmentDuration <= 0 {
		c.Transcriber.SegmentDuration = 600
	}
	if c.Transcriber.MaxAttempts <= 0 {
		c.Transcriber.MaxAttempts = 1
	}
	if c.Transcriber.Language == "" {
		c.Transcriber.Language = "ja"
	}

	if c.Audio.MaxSizeMB <= 0 {
		c.Audio.MaxSizeMB = 500
	}
	if c.Audio.MaxDurationMinutes <= 0 {
		c.Audio.MaxDurationMinutes = 120
	}
	if c.Audio.FFmpegPath == "" {
		c.Audio.FFmpegPath = "ffmpeg"
	}
	if c.Audio.FFprobePath == "" {
		c.Audio.FFprobePath = "ffprobe"
	}

	switch c.Storage.Type {
	case "":
		c.Storage.Type = "memory"
	case "memory", "redis", "postgres", "hybrid":
	default:
		return fmt.Errorf("不支持的存储类型: %s", c.Storage.Type)
	}
	if c.Storage.WorkingDir == "" {
		c.Storage.WorkingDir = "processed_audio"
	}
	if c.Storage.UploadDir == "" {
		c.Storage.UploadDir = "uploads"
	}
	if c.Storage.ReportsDir == "" {
		c.Storage.ReportsDir = "transcription_results"
	}
	if c.Storage.Redis.Addr == "" {
		c.Storage.Redis.Addr = "localhost:6379"
	}
	if c.Storage.Redis.TTLHours <= 0 {
		c.Storage.Redis.TTLHours = 24
	}
	if (c.Storage.Type == "postgres" || c.Storage.Type == "hybrid") && c.Storage.Postgres.DSN == "" {
		return fmt.Errorf("存储类型 %s 需要配置 storage.postgres.dsn", c.Storage.Type)
	}

	switch c.Queue.Type {
	case "":
		c.Queue.Type = "memory"
	case "memory", "rabbitmq":
	default:
		return fmt.Errorf("不支持的队列类型: %s", c.Queue.Type)
	}
	if c.Queue.BufferSize <= 0 {
		c.Queue.BufferSize = 100
	}
	if c.Queue.RabbitMQ.QueueName == "" {
		c.Queue.RabbitMQ.QueueName = "okoshi_jobs"
	}
	if c.Queue.Type == "rabbitmq" && c.Queue.RabbitMQ.URL == "" {
		return fmt.Errorf("队列类型 rabbitmq 需要配置 queue.rabbitmq.url")
	}

	if c.Server.Port <= 0 {
		c.Server.Port = 8080
	}
	if c.Server.MaxUploadSize <= 0 {
		c.Server.MaxUploadSize = c.Audio.MaxSizeMB * 1024 * 1024
	}
	if c.Server.RequestTimeoutMinutes <= 0 {
		c.Server.RequestTimeoutMinutes = 30
	}
	if c.Server.JobTimeoutMinutes <= 0 {
		c.Server.JobTimeoutMinutes = 30
	}

	if c.Log.Mode == "" {
		c.Log.Mode = "dev"
	}

	return nil
}
