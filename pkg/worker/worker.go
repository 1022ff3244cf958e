package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/z-wentao/okoshi/pkg/apperr"
	"github.com/z-wentao/okoshi/pkg/logger"
	"github.com/z-wentao/okoshi/pkg/models"
	"github.com/z-wentao/okoshi/pkg/pipeline"
	"github.com/z-wentao/okoshi/pkg/queue"
	"github.com/z-wentao/okoshi/pkg/storage"
)

// Runner 执行一次转写（*pipeline.Pipeline）
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Worker 从队列取任务并执行转写流水线
type Worker struct {
	id         int
	queue      queue.Queue
	store      storage.Store
	runner     Runner
	jobTimeout time.Duration
	log        *logger.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker 创建 Worker；jobTimeout <= 0 时默认 30 分钟
func NewWorker(id int, q queue.Queue, store storage.Store, runner Runner, jobTimeout time.Duration, log *logger.Logger) *Worker {
	if jobTimeout <= 0 {
		jobTimeout = 30 * time.Minute
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Worker{
		id:         id,
		queue:      q,
		store:      store,
		runner:     runner,
		jobTimeout: jobTimeout,
		log:        log.With("component", "Worker", "worker_id", id),
	}
}

// Start 在独立的 goroutine 中运行，直到 ctx 结束、Stop 或队列关闭
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run(ctx)
}

// Stop 取消正在处理的任务并等待主循环退出
func (w *Worker) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	w.log.Info("Worker 已启动，等待任务...")

	for {
		job, err := w.queue.Dequeue(ctx)
		switch {
		case err == nil:
			w.processJob(ctx, job)
		case errors.Is(err, queue.ErrQueueClosed), ctx.Err() != nil:
			w.log.Info("Worker 已停止")
			return
		default:
			w.log.Warn("从队列获取任务失败", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// processJob 处理单个任务
// 结果写入任务存储；用户可见的错误信息与同步接口一致
func (w *Worker) processJob(ctx context.Context, job *models.TranscriptionJob) {
	log := w.log.With("job_id", job.JobID, "request_id", job.RequestID)
	log.Info("开始处理任务", "file", job.Filename, "user", job.User)

	err := w.store.Update(ctx, job.JobID, func(j *models.TranscriptionJob) {
		j.Status = models.StatusProcessing
		j.Progress = 0
	})
	if errors.Is(err, storage.ErrJobNotFound) {
		// 任务已被删除
		log.Warn("任务不存在，丢弃", "error", err)
		w.queue.Nack(job, false)
		removeStaged(log, job.FilePath)
		return
	}
	if err != nil {
		log.Warn("更新任务状态失败", "error", err)
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	res, err := w.execute(jobCtx, job)

	// 服务关闭导致的中断：放回队列，保留暂存文件
	if err != nil && ctx.Err() != nil {
		log.Warn("服务关闭，任务重新入队", "error", err)
		w.update(context.Background(), log, job.JobID, "pending", func(j *models.TranscriptionJob) {
			j.Status = models.StatusPending
			j.Progress = 0
		})
		w.queue.Nack(job, true)
		return
	}
	defer removeStaged(log, job.FilePath)

	if err != nil {
		log.Error("任务失败", "error", err)
		w.update(ctx, log, job.JobID, "failed", func(j *models.TranscriptionJob) {
			j.Status = models.StatusFailed
			j.Error = apperr.PublicMessage(err, job.RequestID)
			j.CompletedAt = time.Now()
		})
		// 失败是确定性的（校验、解码、全部片段失败），不重新入队
		if nackErr := w.queue.Nack(job, false); nackErr != nil {
			log.Warn("Nack 失败", "error", nackErr)
		}
		return
	}

	agg := res.Transcript
	w.update(ctx, log, job.JobID, "completed", func(j *models.TranscriptionJob) {
		j.Status = models.StatusCompleted
		j.Progress = 100
		j.ReportPath = res.ReportPath
		j.SubtitlePath = res.SubtitlePath
		j.VTTPath = res.VTTPath
		j.Text = agg.CombinedText
		j.Duration = agg.TotalDuration
		j.ProcessingTime = res.Elapsed.Seconds()
		j.SegmentCount = agg.SegmentCount
		j.FailedCount = agg.FailedCount
		j.Warning = agg.Warning
		j.CompletedAt = time.Now()
	})
	if ackErr := w.queue.Ack(job); ackErr != nil {
		log.Warn("Ack 失败", "error", ackErr)
	}
	log.Info("任务完成", "report", res.ReportPath, "elapsed", res.Elapsed.String())
}

func (w *Worker) execute(ctx context.Context, job *models.TranscriptionJob) (*pipeline.Result, error) {
	f, err := os.Open(job.FilePath)
	if err != nil {
		return nil, apperr.New(apperr.ErrPersistence, "", fmt.Errorf("打开暂存文件失败: %w", err))
	}
	defer f.Close()

	return w.runner.Run(ctx, pipeline.Request{
		RequestID: job.RequestID,
		User:      job.User,
		Filename:  job.Filename,
		Body:      f,
		Progress: func(completed, total int) {
			// 转写阶段占 10%-90%
			progress := 10 + completed*80/total
			w.update(ctx, w.log.With("job_id", job.JobID), job.JobID, "progress", func(j *models.TranscriptionJob) {
				if progress > j.Progress {
					j.Progress = progress
				}
			})
		},
	})
}

// update 写回任务状态，存储不可用时只记录日志
func (w *Worker) update(ctx context.Context, log *logger.Logger, jobID, stage string, fn func(*models.TranscriptionJob)) {
	if err := w.store.Update(ctx, jobID, fn); err != nil {
		log.Error("更新任务状态失败", "stage", stage, "error", err)
	}
}

func removeStaged(log *logger.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("删除暂存文件失败", "path", path, "error", err)
	}
}

// Pool 一组 Worker
type Pool struct {
	workers []*Worker
	mu      sync.Mutex
}

// NewPool 创建 size 个共享同一队列的 Worker
func NewPool(size int, q queue.Queue, store storage.Store, runner Runner, jobTimeout time.Duration, log *logger.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{}
	for i := 1; i <= size; i++ {
		p.workers = append(p.workers, NewWorker(i, q, store, runner, jobTimeout, log))
	}
	return p
}

func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		w.Start(ctx)
	}
}

// Stop 停止所有 Worker 并等待退出
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Stop()
		}(w)
	}
	wg.Wait()
}

func (p *Pool) Size() int {
	return len(p.workers)
}
