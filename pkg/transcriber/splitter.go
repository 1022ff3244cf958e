package transcriber

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/z-wentao/okoshi/pkg/apperr"
	"github.com/z-wentao/okoshi/pkg/audio"
	"github.com/z-wentao/okoshi/pkg/logger"
	"github.com/z-wentao/okoshi/pkg/models"
)

const (
	DefaultSegmentDuration = 600 // 默认 10 分钟

	segmentsDirName = "segments"

	// 小于该值的尾部余量视为浮点误差，不单独成片
	durationEpsilon = 0.001
)

// DurationProber 获取音频时长
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// AudioSplitter 音频分片器
type AudioSplitter struct {
	segmentDuration int // 每个片段的时长（秒）
	ffmpegPath      string
	prober          DurationProber
	runner          audio.CommandRunner
	log             *logger.Logger
}

// NewAudioSplitter 创建分片器
func NewAudioSplitter(segmentDuration int, ffmpegPath string, prober DurationProber, runner audio.CommandRunner, log *logger.Logger) *AudioSplitter {
	if segmentDuration <= 0 {
		segmentDuration = DefaultSegmentDuration
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if runner == nil {
		runner = audio.ExecRunner{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &AudioSplitter{
		segmentDuration: segmentDuration,
		ffmpegPath:      ffmpegPath,
		prober:          prober,
		runner:          runner,
		log:             log.With("component", "AudioSplitter"),
	}
}

// Plan 计算分片窗口（不含文件路径）
// duration <= threshold 时只有一个窗口；否则按 threshold 切分，最后一片为余量
// duration 为负数、NaN 或无穷大时返回 nil
func Plan(duration float64, threshold int) []models.Segment {
	if duration < 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return nil
	}
	if threshold <= 0 {
		threshold = DefaultSegmentDuration
	}
	window := float64(threshold)
	if duration <= window {
		return []models.Segment{{Index: 0, Start: 0, End: duration}}
	}

	count := int(duration / window)
	if duration-float64(count)*window > durationEpsilon {
		count++
	}

	segments := make([]models.Segment, 0, count)
	for i := 0; i < count; i++ {
		start := float64(i) * window
		end := start + window
		if i == count-1 || end > duration {
			end = duration
		}
		segments = append(segments, models.Segment{Index: i, Start: start, End: end})
	}
	return segments
}

// Split 将音频文件切分成多个片段
// 不需要切分时直接返回原文件；切分失败时删除已导出的片段，不返回部分结果
func (as *AudioSplitter) Split(ctx context.Context, audioPath string) ([]models.Segment, error) {
	duration, err := as.prober.Duration(ctx, audioPath)
	if err != nil {
		return nil, apperr.New(apperr.ErrSegmentation, "", fmt.Errorf("获取音频时长失败: %w", err))
	}

	plan := Plan(duration, as.segmentDuration)
	if len(plan) == 0 {
		return nil, apperr.New(apperr.ErrSegmentation, "", fmt.Errorf("无效的音频时长: %v", duration))
	}
	as.log.Info("音频时长", "path", audioPath, "seconds", duration, "segments", len(plan))

	if len(plan) == 1 {
		plan[0].FilePath = audioPath
		return plan, nil
	}

	segmentsDir := filepath.Join(filepath.Dir(audioPath), segmentsDirName)
	if err := os.MkdirAll(segmentsDir, 0o755); err != nil {
		return nil, apperr.New(apperr.ErrSegmentation, "", fmt.Errorf("创建片段目录失败: %w", err))
	}

	stem := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	for i := range plan {
		seg := &plan[i]
		seg.FilePath = filepath.Join(segmentsDir, fmt.Sprintf("%s_part_%03d.mp3", stem, seg.Index))

		as.log.Debug("正在切分片段",
			"index", seg.Index, "total", len(plan), "start", seg.Start, "end", seg.End)
		if err := as.extractSegment(ctx, audioPath, seg.FilePath, seg.Start, seg.Length()); err != nil {
			if rmErr := os.RemoveAll(segmentsDir); rmErr != nil {
				as.log.Warn("清理片段目录失败", "dir", segmentsDir, "error", rmErr)
			}
			return nil, apperr.New(apperr.ErrSegmentation, "", fmt.Errorf("切分片段 %d 失败: %w", seg.Index, err))
		}
	}

	return plan, nil
}

// extractSegment 导出一个片段，统一转码为 MP3
func (as *AudioSplitter) extractSegment(ctx context.Context, inputPath, outputPath string, startTime, duration float64) error {
	// ffmpeg -i input -ss 600.00 -t 600.00 -vn -acodec libmp3lame -ab 128k -y output.mp3
	res, err := as.runner.Run(ctx, as.ffmpegPath,
		"-i", inputPath,
		"-ss", fmt.Sprintf("%.2f", startTime),
		"-t", fmt.Sprintf("%.2f", duration),
		"-vn",
		"-acodec", "libmp3lame",
		"-ab", "128k",
		"-y",
		outputPath,
	)
	if err != nil {
		return fmt.Errorf("ffmpeg 执行失败: %w (stderr: %s)", err, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// Cleanup 清理临时片段文件
// 只删除 Split 创建的 segments 目录，不删除原始文件
func (as *AudioSplitter) Cleanup(segments []models.Segment) error {
	if len(segments) == 0 {
		return nil
	}
	segmentsDir := filepath.Dir(segments[0].FilePath)
	if filepath.Base(segmentsDir) != segmentsDirName {
		return nil
	}
	as.log.Debug("清理临时片段目录", "dir", segmentsDir)
	return os.RemoveAll(segmentsDir)
}
