package models

import "time"

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// TranscriptionJob 异步文字起こし任务
type TranscriptionJob struct {
	JobID          string    `json:"job_id"`
	RequestID      string    `json:"request_id"` // 对外展示的短 ID（8 位）
	User           string    `json:"user"`
	Filename       string    `json:"filename"`
	FilePath       string    `json:"file_path"` // 待处理的上传文件（暂存区）
	Status         JobStatus `json:"status"`
	Progress       int       `json:"progress"`
	ReportPath     string    `json:"report_path"`
	SubtitlePath   string    `json:"subtitle_path"`
	VTTPath        string    `json:"vtt_path"`
	Text           string    `json:"text"`
	Duration       float64   `json:"duration"`
	ProcessingTime float64   `json:"processing_time"`
	SegmentCount   int       `json:"segment_count"`
	FailedCount    int       `json:"failed_count"`
	Warning        string    `json:"warning"`
	Error          string    `json:"error"`
	CreatedAt      time.Time `json:"created_at"`
	CompletedAt    time.Time `json:"completed_at"`

	// RabbitMQ 相关（不序列化到 JSON）
	DeliveryTag      uint64 `json:"-"`
	RabbitMQDelivery any    `json:"-"`
}

// Done 任务是否已结束（完成或失败）
func (j *TranscriptionJob) Done() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}
