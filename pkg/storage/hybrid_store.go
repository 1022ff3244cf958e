package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/z-wentao/okoshi/pkg/logger"
	"github.com/z-wentao/okoshi/pkg/models"
)

const (
	hybridBatchSize     = 50
	hybridFlushInterval = 5 * time.Second
)

// HybridJobStore 混合存储：hot（Redis，热数据） + cold（PostgreSQL，持久化）
// 写入立即落到 hot；任务结束后异步批量同步到 cold
type HybridJobStore struct {
	hot       Store
	cold      Store
	syncQueue chan *models.TranscriptionJob
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	log       *logger.Logger
}

// NewHybridJobStore 创建混合存储并启动后台同步
func NewHybridJobStore(hot, cold Store, log *logger.Logger) *HybridJobStore {
	if log == nil {
		log = logger.NewNop()
	}
	s := &HybridJobStore{
		hot:       hot,
		cold:      cold,
		syncQueue: make(chan *models.TranscriptionJob, 100),
		stopCh:    make(chan struct{}),
		log:       log.With("component", "HybridJobStore"),
	}

	s.wg.Add(1)
	go s.syncWorker()

	s.log.Info("混合存储初始化成功")
	return s
}

// Save 立即写 hot，结束状态的任务再异步写 cold
func (s *HybridJobStore) Save(ctx context.Context, job *models.TranscriptionJob) error {
	if err := s.hot.Save(ctx, job); err != nil {
		// hot 失败时直接写 cold，保证任务不丢
		s.log.Warn("热存储写入失败，直接写入数据库", "job_id", job.JobID, "error", err)
		return s.cold.Save(ctx, job)
	}
	if job.Done() {
		s.enqueue(ctx, cloneJob(job))
	}
	return nil
}

// Get 优先 hot，未命中查 cold 并回写 hot
func (s *HybridJobStore) Get(ctx context.Context, jobID string) (*models.TranscriptionJob, error) {
	job, err := s.hot.Get(ctx, jobID)
	if err == nil {
		return job, nil
	}

	s.log.Debug("缓存未命中，查询数据库", "job_id", jobID)
	job, err = s.cold.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if err := s.hot.Save(ctx, job); err != nil {
		s.log.Warn("回写缓存失败", "job_id", jobID, "error", err)
	}
	return job, nil
}

// Update 只更新 hot，任务结束时同步 cold
func (s *HybridJobStore) Update(ctx context.Context, jobID string, updateFn func(*models.TranscriptionJob)) error {
	var snapshot *models.TranscriptionJob
	err := s.hot.Update(ctx, jobID, func(job *models.TranscriptionJob) {
		updateFn(job)
		if job.Done() {
			snapshot = cloneJob(job)
		}
	})
	if err != nil {
		s.log.Warn("热存储更新失败，改为更新数据库", "job_id", jobID, "error", err)
		return s.cold.Update(ctx, jobID, updateFn)
	}
	if snapshot != nil {
		s.enqueue(ctx, snapshot)
	}
	return nil
}

// List 优先 hot，失败降级到 cold
func (s *HybridJobStore) List(ctx context.Context) ([]*models.TranscriptionJob, error) {
	jobs, err := s.hot.List(ctx)
	if err != nil {
		s.log.Warn("热存储列表查询失败，降级到数据库", "error", err)
		return s.cold.List(ctx)
	}
	return jobs, nil
}

// Delete 两边都删；只要有一边删除成功就算成功
func (s *HybridJobStore) Delete(ctx context.Context, jobID string) error {
	hotErr := s.hot.Delete(ctx, jobID)
	coldErr := s.cold.Delete(ctx, jobID)

	switch {
	case hotErr == nil || coldErr == nil:
		return nil
	case errors.Is(hotErr, ErrJobNotFound) && errors.Is(coldErr, ErrJobNotFound):
		return coldErr
	default:
		return errors.Join(hotErr, coldErr)
	}
}

// Close 把队列中剩余的任务写入 cold 后关闭两边的连接
func (s *HybridJobStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		err = errors.Join(s.hot.Close(), s.cold.Close())
		s.log.Info("混合存储已关闭")
	})
	return err
}

func (s *HybridJobStore) enqueue(ctx context.Context, job *models.TranscriptionJob) {
	select {
	case s.syncQueue <- job:
	default:
		s.log.Warn("同步队列已满，同步写入数据库", "job_id", job.JobID)
		if err := s.cold.Save(ctx, job); err != nil {
			s.log.Error("同步写入数据库失败", "job_id", job.JobID, "error", err)
		}
	}
}

// syncWorker 攒够 hybridBatchSize 条或每 hybridFlushInterval 写一次
func (s *HybridJobStore) syncWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(hybridFlushInterval)
	defer ticker.Stop()

	batch := make([]*models.TranscriptionJob, 0, hybridBatchSize)
	for {
		select {
		case job := <-s.syncQueue:
			batch = append(batch, job)
			if len(batch) >= hybridBatchSize {
				s.batchSave(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			s.batchSave(batch)
			batch = batch[:0]

		case <-s.stopCh:
			// 取出队列中剩余的任务
			for {
				select {
				case job := <-s.syncQueue:
					batch = append(batch, job)
				default:
					s.batchSave(batch)
					return
				}
			}
		}
	}
}

func (s *HybridJobStore) batchSave(jobs []*models.TranscriptionJob) {
	if len(jobs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	saved := 0
	for _, job := range jobs {
		if err := s.cold.Save(ctx, job); err != nil {
			s.log.Error("同步任务失败", "job_id", job.JobID, "error", err)
			continue
		}
		saved++
	}
	s.log.Info("批量同步任务到数据库", "saved", saved, "total", len(jobs))
}
