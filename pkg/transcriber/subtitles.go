package transcriber

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/z-wentao/okoshi/pkg/models"
)

// RenderSRT 生成 SRT 字幕内容
// phrases 需要已经是原音频的全局时间轴（AggregatedTranscript.Phrases）
func RenderSRT(phrases []models.TimedPhrase) string {
	var builder strings.Builder
	index := 1
	for _, p := range phrases {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		// 1
		// 00:00:00,000 --> 00:00:05,200
		// 字幕文本
		fmt.Fprintf(&builder, "%d\n%s --> %s\n%s\n\n", index, formatSRTTime(p.Start), formatSRTTime(p.End), text)
		index++
	}
	return builder.String()
}

// RenderVTT 生成 WebVTT 字幕内容（用于 HTML5 播放）
func RenderVTT(phrases []models.TimedPhrase) string {
	var builder strings.Builder
	builder.WriteString("WEBVTT\n\n")
	index := 1
	for _, p := range phrases {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&builder, "%d\n%s --> %s\n%s\n\n", index, formatVTTTime(p.Start), formatVTTTime(p.End), text)
		index++
	}
	return builder.String()
}

// GenerateSRT 写入 SRT 字幕文件
func GenerateSRT(phrases []models.TimedPhrase, outputPath string) error {
	return writeSubtitle(RenderSRT(phrases), outputPath)
}

// GenerateVTT 写入 WebVTT 字幕文件
func GenerateVTT(phrases []models.TimedPhrase, outputPath string) error {
	return writeSubtitle(RenderVTT(phrases), outputPath)
}

func writeSubtitle(content, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}
	if err := os.WriteFile(outputPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("写入字幕文件失败: %w", err)
	}
	return nil
}

// formatSRTTime 65.5 -> 00:01:05,500
func formatSRTTime(seconds float64) string {
	return formatClock(seconds, ",")
}

// formatVTTTime 65.5 -> 00:01:05.500（VTT 使用点号）
func formatVTTTime(seconds float64) string {
	return formatClock(seconds, ".")
}

func formatClock(seconds float64, sep string) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMillis := int64(seconds*1000 + 0.5)
	hours := totalMillis / 3_600_000
	minutes := (totalMillis % 3_600_000) / 60_000
	secs := (totalMillis % 60_000) / 1000
	millis := totalMillis % 1000
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", hours, minutes, secs, sep, millis)
}
