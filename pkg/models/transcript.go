package models

import "time"

// AudioArtifact 已保存的音频文件
type AudioArtifact struct {
	Path     string  `json:"path"`
	User     string  `json:"user"`
	Format   string  `json:"format"` // 扩展名（小写，不含点）
	Size     int64   `json:"size"`
	Duration float64 `json:"duration"` // 秒，探测后填充
}

// Segment 音频片段
// 同一音频的片段首尾相连、互不重叠，Index 顺序即时间顺序
type Segment struct {
	Index    int     `json:"index"`     // 片段序号（从 0 开始）
	FilePath string  `json:"file_path"` // 片段文件路径
	Start    float64 `json:"start"`     // 在原音频中的开始时间（秒）
	End      float64 `json:"end"`       // 在原音频中的结束时间（秒）
}

// Length 片段时长（秒）
func (s Segment) Length() float64 {
	return s.End - s.Start
}

// TimedPhrase 带时间戳的一句识别结果
type TimedPhrase struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptionOutcome 单个片段的转写结果
// 只能通过 NewSuccessOutcome / NewFailureOutcome 构造，失败结果不携带文本
type TranscriptionOutcome struct {
	Segment        Segment       `json:"segment"`
	Success        bool          `json:"success"`
	Text           string        `json:"text"`
	Language       string        `json:"language"`
	Duration       float64       `json:"duration"`
	ProcessingTime time.Duration `json:"processing_time"`
	Phrases        []TimedPhrase `json:"phrases"`
	Err            string        `json:"error,omitempty"`
}

// NewSuccessOutcome 构造成功结果
func NewSuccessOutcome(seg Segment, text, language string, duration float64, elapsed time.Duration, phrases []TimedPhrase) TranscriptionOutcome {
	return TranscriptionOutcome{
		Segment:        seg,
		Success:        true,
		Text:           text,
		Language:       language,
		Duration:       duration,
		ProcessingTime: elapsed,
		Phrases:        phrases,
	}
}

// NewFailureOutcome 构造失败结果
func NewFailureOutcome(seg Segment, elapsed time.Duration, err error) TranscriptionOutcome {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return TranscriptionOutcome{
		Segment:        seg,
		ProcessingTime: elapsed,
		Err:            msg,
	}
}

// AggregatedTranscript 合并后的转写结果
type AggregatedTranscript struct {
	Success             bool          `json:"success"`
	CombinedText        string        `json:"combined_text"`
	PhraseLines         []string      `json:"phrase_lines"` // 报告中的 "[mm:ss - mm:ss] text" 行
	Phrases             []TimedPhrase `json:"phrases"`      // 全局时间轴上的句子（用于字幕）
	TotalDuration       float64       `json:"total_duration"`
	TotalProcessingTime float64       `json:"total_processing_time"` // 秒
	SegmentCount        int           `json:"segment_count"`         // 句子行数
	SuccessCount        int           `json:"success_count"`
	FailedCount         int           `json:"failed_count"`
	Warning             string        `json:"warning,omitempty"` // 部分片段失败时的提示
	Error               string        `json:"error,omitempty"`   // 全部失败时的错误
}
