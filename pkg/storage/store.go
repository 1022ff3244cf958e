package storage

import (
	"context"
	"errors"

	"github.com/z-wentao/okoshi/pkg/models"
)

// ErrJobNotFound 任务不存在
var ErrJobNotFound = errors.New("job not found")

// Store 任务存储接口
type Store interface {
	// Save 保存任务（存在则覆盖）
	Save(ctx context.Context, job *models.TranscriptionJob) error

	// Get 获取任务，不存在时返回 ErrJobNotFound
	Get(ctx context.Context, jobID string) (*models.TranscriptionJob, error)

	// Update 更新任务（使用回调函数模式）
	Update(ctx context.Context, jobID string, updateFn func(*models.TranscriptionJob)) error

	// List 列出任务（按创建时间倒序）
	List(ctx context.Context) ([]*models.TranscriptionJob, error)

	// Delete 删除任务
	Delete(ctx context.Context, jobID string) error

	// Close 关闭存储连接
	Close() error
}
