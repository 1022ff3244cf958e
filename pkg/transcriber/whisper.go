package transcriber

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/z-wentao/okoshi/pkg/models"
)

// EngineResult 转写引擎返回的结果
type EngineResult struct {
	Text     string
	Language string
	Duration float64
	Phrases  []models.TimedPhrase
}

// Engine 语音转写引擎
type Engine interface {
	Transcribe(ctx context.Context, audioPath string, language string) (*EngineResult, error)
}

// WhisperClient 基于 go-openai 的 Whisper 客户端
type WhisperClient struct {
	client      *openai.Client
	model       string
	maxAttempts int
}

// WhisperOptions Whisper 客户端配置
type WhisperOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxAttempts int // 1 表示不重试
	Timeout     time.Duration
}

// NewWhisperClient 创建 Whisper 客户端
func NewWhisperClient(opts WhisperOptions) *WhisperClient {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}

	if opts.Model == "" {
		opts.Model = openai.Whisper1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}

	return &WhisperClient{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		maxAttempts: opts.MaxAttempts,
	}
}

// Transcribe 转写一个音频文件（verbose_json，带时间戳，temperature=0）
func (wc *WhisperClient) Transcribe(ctx context.Context, audioPath string, language string) (*EngineResult, error) {
	if wc.maxAttempts > 1 {
		return wc.transcribeWithRetry(ctx, audioPath, language)
	}
	return wc.transcribeOnce(ctx, audioPath, language)
}

func (wc *WhisperClient) transcribeOnce(ctx context.Context, audioPath string, language string) (*EngineResult, error) {
	resp, err := wc.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:       wc.model,
		FilePath:    audioPath,
		Language:    language,
		Format:      openai.AudioResponseFormatVerboseJSON,
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("whisper 请求失败: %w", err)
	}

	phrases := make([]models.TimedPhrase, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		phrases = append(phrases, models.TimedPhrase{
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
	}

	return &EngineResult{
		Text:     resp.Text,
		Language: resp.Language,
		Duration: resp.Duration,
		Phrases:  phrases,
	}, nil
}

// transcribeWithRetry 带重试的转写（指数退避）
func (wc *WhisperClient) transcribeWithRetry(ctx context.Context, audioPath string, language string) (*EngineResult, error) {
	var lastErr error

	for i := 0; i < wc.maxAttempts; i++ {
		resp, err := wc.transcribeOnce(ctx, audioPath, language)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("任务被取消: %w", ctx.Err())
		}

		if i < wc.maxAttempts-1 {
			waitTime := time.Duration(1<<uint(i)) * time.Second // 1s, 2s, 4s...
			select {
			case <-time.After(waitTime):
			case <-ctx.Done():
				return nil, fmt.Errorf("任务被取消: %w", ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("重试 %d 次后仍然失败: %w", wc.maxAttempts, lastErr)
}

// UsageInfo 转写引擎的使用说明
type UsageInfo struct {
	Model            string   `json:"model"`
	PricingPerMinute float64  `json:"pricing_per_minute"` // 美元
	MaxFileSize      string   `json:"max_file_size"`
	SupportedFormats []string `json:"supported_formats"`
}

// Usage 返回当前模型的计费和限制信息
func (wc *WhisperClient) Usage() UsageInfo {
	return UsageInfo{
		Model:            wc.model,
		PricingPerMinute: 0.006,
		MaxFileSize:      "25MB",
		SupportedFormats: strings.Split("mp3,mp4,mpeg,mpga,m4a,wav,webm", ","),
	}
}
