package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/z-wentao/okoshi/pkg/models"
)

// JobStore 任务存储（内存实现）
// 读写都返回副本，调用方拿到的指针不会和 Worker 的更新竞争
type JobStore struct {
	jobs map[string]*models.TranscriptionJob
	mu   sync.RWMutex
}

// NewJobStore 创建任务存储
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*models.TranscriptionJob),
	}
}

func (js *JobStore) Save(ctx context.Context, job *models.TranscriptionJob) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	js.jobs[job.JobID] = cloneJob(job)
	return nil
}

func (js *JobStore) Get(ctx context.Context, jobID string) (*models.TranscriptionJob, error) {
	js.mu.RLock()
	defer js.mu.RUnlock()

	job, exists := js.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return cloneJob(job), nil
}

// Update 在写锁内执行 updateFn
func (js *JobStore) Update(ctx context.Context, jobID string, updateFn func(*models.TranscriptionJob)) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	job, exists := js.jobs[jobID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	updateFn(job)
	return nil
}

func (js *JobStore) List(ctx context.Context) ([]*models.TranscriptionJob, error) {
	js.mu.RLock()
	defer js.mu.RUnlock()

	jobs := make([]*models.TranscriptionJob, 0, len(js.jobs))
	for _, job := range js.jobs {
		jobs = append(jobs, cloneJob(job))
	}
	sortNewestFirst(jobs)
	return jobs, nil
}

func (js *JobStore) Delete(ctx context.Context, jobID string) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	if _, exists := js.jobs[jobID]; !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	delete(js.jobs, jobID)
	return nil
}

// Close 内存存储无需关闭
func (js *JobStore) Close() error {
	return nil
}

func cloneJob(job *models.TranscriptionJob) *models.TranscriptionJob {
	c := *job
	return &c
}

func sortNewestFirst(jobs []*models.TranscriptionJob) {
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}
