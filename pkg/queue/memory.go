package queue

import (
	"context"
	"sync"

	"github.com/z-wentao/okoshi/pkg/models"
)

// MemoryQueue 基于 channel 的进程内队列
// Ack 无需处理；Nack(requeue=true) 把任务放回队尾
type MemoryQueue struct {
	jobs   chan *models.TranscriptionJob
	closed chan struct{}
	once   sync.Once
}

func NewMemoryQueue(bufferSize int) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &MemoryQueue{
		jobs:   make(chan *models.TranscriptionJob, bufferSize),
		closed: make(chan struct{}),
	}
}

func (mq *MemoryQueue) Enqueue(ctx context.Context, job *models.TranscriptionJob) error {
	select {
	case <-mq.closed:
		return ErrQueueClosed
	default:
	}

	select {
	case mq.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (mq *MemoryQueue) Dequeue(ctx context.Context) (*models.TranscriptionJob, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-mq.closed:
		return nil, ErrQueueClosed
	case job := <-mq.jobs:
		return job, nil
	}
}

func (mq *MemoryQueue) Ack(job *models.TranscriptionJob) error {
	return nil
}

func (mq *MemoryQueue) Nack(job *models.TranscriptionJob, requeue bool) error {
	if !requeue {
		return nil
	}
	return mq.Enqueue(context.Background(), job)
}

// Len 队列中等待的任务数
func (mq *MemoryQueue) Len() int {
	return len(mq.jobs)
}

// Close 之后 Dequeue 立即返回 ErrQueueClosed，未取走的任务被丢弃
func (mq *MemoryQueue) Close() error {
	mq.once.Do(func() { close(mq.closed) })
	return nil
}
