package queue

import (
	"context"
	"errors"

	"github.com/z-wentao/okoshi/pkg/models"
)

var (
	ErrQueueClosed = errors.New("queue closed")
	ErrQueueFull   = errors.New("queue full")
)

// Queue 异步转写任务队列
type Queue interface {
	// Enqueue 将任务加入队列，不阻塞
	Enqueue(ctx context.Context, job *models.TranscriptionJob) error

	// Dequeue 阻塞直到取到任务、ctx 结束或队列关闭（ErrQueueClosed）
	Dequeue(ctx context.Context) (*models.TranscriptionJob, error)

	// Ack 任务处理完成
	Ack(job *models.TranscriptionJob) error

	// Nack 任务处理失败，requeue 表示是否重新入队
	Nack(job *models.TranscriptionJob, requeue bool) error

	Close() error
}
