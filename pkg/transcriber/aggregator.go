package transcriber

import (
	"fmt"
	"sort"
	"strings"

	"github.com/z-wentao/okoshi/pkg/models"
)

const allFailedMessage = "すべての文字起こしが失敗しました"

// CombineOptions 合并选项
type CombineOptions struct {
	// GlobalTimeline 为 true 时报告中的时间戳加上片段在原音频中的起始时间；
	// 默认保持每个片段自己的时间轴（从 0 开始）
	GlobalTimeline bool
}

// Combine 将各片段的转写结果按顺序合并
func Combine(outcomes []models.TranscriptionOutcome, opts CombineOptions) models.AggregatedTranscript {
	// 1. 按片段序号稳定排序（序号相同时按文件路径）
	sorted := make([]models.TranscriptionOutcome, len(outcomes))
	copy(sorted, outcomes)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Segment.Index != sorted[j].Segment.Index {
			return sorted[i].Segment.Index < sorted[j].Segment.Index
		}
		return sorted[i].Segment.FilePath < sorted[j].Segment.FilePath
	})

	// 2. 只保留成功的结果
	successful := make([]models.TranscriptionOutcome, 0, len(sorted))
	for _, o := range sorted {
		if o.Success {
			successful = append(successful, o)
		}
	}
	failedCount := len(sorted) - len(successful)

	if len(successful) == 0 {
		return models.AggregatedTranscript{
			Success:     false,
			Error:       allFailedMessage,
			FailedCount: failedCount,
		}
	}

	// 3. 拼接文本和时间戳
	withHeaders := len(sorted) > 1
	textParts := make([]string, 0, len(successful))
	var lines []string
	var phrases []models.TimedPhrase
	var totalDuration, totalProcessing float64

	for _, o := range successful {
		if text := strings.TrimSpace(o.Text); text != "" {
			if withHeaders {
				text = fmt.Sprintf("\n--- セグメント %d ---\n%s", o.Segment.Index+1, text)
			}
			textParts = append(textParts, text)
		}

		for _, p := range o.Phrases {
			global := models.TimedPhrase{
				Start: o.Segment.Start + p.Start,
				End:   o.Segment.Start + p.End,
				Text:  phraseText(p.Text),
			}
			phrases = append(phrases, global)

			shown := models.TimedPhrase{Start: p.Start, End: p.End, Text: global.Text}
			if opts.GlobalTimeline {
				shown = global
			}
			lines = append(lines, FormatPhraseLine(shown))
		}

		// 4. 时长和处理时间只统计成功的片段
		totalDuration += o.Duration
		totalProcessing += o.ProcessingTime.Seconds()
	}

	result := models.AggregatedTranscript{
		Success:             true,
		CombinedText:        strings.Join(textParts, "\n\n"),
		PhraseLines:         lines,
		Phrases:             phrases,
		TotalDuration:       totalDuration,
		TotalProcessingTime: totalProcessing,
		SegmentCount:        len(lines),
		SuccessCount:        len(successful),
		FailedCount:         failedCount,
	}

	// 5. 部分失败只附加提示，不算整体失败
	if failedCount > 0 {
		result.Warning = FailureWarning(failedCount)
	}
	return result
}

// FailureWarning 部分片段失败时的提示
func FailureWarning(failed int) string {
	return fmt.Sprintf("注意: %d個のセグメントで文字起こしに失敗しました。", failed)
}

// FormatPhraseLine 格式化为 "[mm:ss - mm:ss] text"
func FormatPhraseLine(p models.TimedPhrase) string {
	return fmt.Sprintf("[%s - %s] %s", FormatTimestamp(p.Start), FormatTimestamp(p.End), p.Text)
}

// FormatTimestamp 秒数格式化为 mm:ss（分钟可以超过 59）
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// phraseText 报告按行解析，句子文本中不能有换行
func phraseText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
