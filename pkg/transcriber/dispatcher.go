package transcriber

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/z-wentao/okoshi/pkg/logger"
	"github.com/z-wentao/okoshi/pkg/models"
)

// ProgressFunc 进度回调（已完成数 / 总数）
type ProgressFunc func(completed, total int)

// Dispatcher 把片段并发提交给转写引擎
// 每个片段一个 goroutine，单个片段失败只记录在结果里，不影响其它片段
type Dispatcher struct {
	engine      Engine
	concurrency int // 0 表示不限制
	log         *logger.Logger
}

// NewDispatcher 创建分发器
func NewDispatcher(engine Engine, concurrency int, log *logger.Logger) *Dispatcher {
	if concurrency < 0 {
		concurrency = 0
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Dispatcher{
		engine:      engine,
		concurrency: concurrency,
		log:         log.With("component", "Dispatcher"),
	}
}

// Dispatch 并发转写所有片段，返回与输入顺序一致的结果
// 所有提交结束（成功或失败）后才返回，错误不会向外抛出
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	segments []models.Segment,
	language string,
	progress ProgressFunc,
) []models.TranscriptionOutcome {
	total := len(segments)
	outcomes := make([]models.TranscriptionOutcome, total)
	if total == 0 {
		return outcomes
	}

	d.log.Info("开始并发转写", "segments", total, "concurrency", d.concurrency)

	// 不使用 errgroup.WithContext：一个片段失败不能取消其它片段
	var g errgroup.Group
	if d.concurrency > 0 {
		g.SetLimit(d.concurrency)
	}

	var completed atomic.Int32
	for i, seg := range segments {
		i, seg := i, seg
		g.Go(func() error {
			// 每个 goroutine 只写自己的下标，结果顺序与输入一致
			outcomes[i] = d.transcribeSegment(ctx, seg, language)

			done := int(completed.Add(1))
			if progress != nil {
				progress(done, total)
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if !o.Success {
			failed++
		}
	}
	d.log.Info("并发转写结束", "segments", total, "failed", failed)

	return outcomes
}

// transcribeSegment 转写单个片段，任何错误（包括 panic）都转换为失败结果
func (d *Dispatcher) transcribeSegment(ctx context.Context, seg models.Segment, language string) (outcome models.TranscriptionOutcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			outcome = models.NewFailureOutcome(seg, time.Since(start), fmt.Errorf("panic: %v", r))
			d.log.Error("片段转写 panic", "index", seg.Index, "panic", r)
		}
	}()

	d.log.Debug("正在处理片段", "index", seg.Index, "start", seg.Start, "end", seg.End)

	resp, err := d.engine.Transcribe(ctx, seg.FilePath, language)
	elapsed := time.Since(start)
	if err != nil {
		d.log.Warn("片段转写失败", "index", seg.Index, "path", seg.FilePath, "error", err)
		return models.NewFailureOutcome(seg, elapsed, err)
	}
	if resp == nil {
		return models.NewFailureOutcome(seg, elapsed, fmt.Errorf("转写引擎返回空结果"))
	}

	d.log.Info("片段转写完成",
		"index", seg.Index, "chars", len(resp.Text), "phrases", len(resp.Phrases), "elapsed", elapsed)
	return models.NewSuccessOutcome(seg, resp.Text, resp.Language, resp.Duration, elapsed, resp.Phrases)
}
