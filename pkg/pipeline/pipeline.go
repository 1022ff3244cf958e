package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/z-wentao/okoshi/pkg/apperr"
	"github.com/z-wentao/okoshi/pkg/logger"
	"github.com/z-wentao/okoshi/pkg/models"
	"github.com/z-wentao/okoshi/pkg/transcriber"
	"github.com/z-wentao/okoshi/pkg/workspace"
)

// Inspector 音频校验与转码
type Inspector interface {
	Validate(ctx context.Context, path string) (bool, string)
	ConvertToMP3(ctx context.Context, path string) (string, error)
}

// Splitter 音频分片
type Splitter interface {
	Split(ctx context.Context, path string) ([]models.Segment, error)
	Cleanup(segments []models.Segment) error
}

// Dispatcher 分片并发转写
type Dispatcher interface {
	Dispatch(ctx context.Context, segments []models.Segment, language string, progress transcriber.ProgressFunc) []models.TranscriptionOutcome
}

// ReportWriter 报告持久化
type ReportWriter interface {
	Write(user, originalFilename string, agg models.AggregatedTranscript) (string, error)
}

// Options 流水线配置
type Options struct {
	WorkingDir     string
	Language       string
	Normalize      bool // 非 MP3 先转码
	GlobalTimeline bool
	Subtitles      bool // 报告旁边生成 .srt / .vtt
}

// Request 一次转写请求
type Request struct {
	RequestID string
	User      string
	Filename  string
	Body      io.Reader
	Progress  transcriber.ProgressFunc // 可为 nil
}

// Result 转写完成后的结果
type Result struct {
	RequestID    string
	User         string
	Filename     string
	ReportPath   string
	SubtitlePath string
	VTTPath      string
	Transcript   models.AggregatedTranscript
	Segments     int
	Elapsed      time.Duration
}

// Pipeline 上传 -> 校验 -> 分片 -> 并发转写 -> 合并 -> 写报告
type Pipeline struct {
	inspector  Inspector
	splitter   Splitter
	dispatcher Dispatcher
	writer     ReportWriter
	opts       Options
	log        *logger.Logger
}

func New(inspector Inspector, splitter Splitter, dispatcher Dispatcher, writer ReportWriter, opts Options, log *logger.Logger) *Pipeline {
	if opts.Language == "" {
		opts.Language = "ja"
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Pipeline{
		inspector:  inspector,
		splitter:   splitter,
		dispatcher: dispatcher,
		writer:     writer,
		opts:       opts,
		log:        log.With("component", "Pipeline"),
	}
}

// Run 执行完整的转写流程
// 请求工作目录在任何退出路径上都会被删除
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if req.RequestID == "" {
		req.RequestID = apperr.NewRequestID()
	}
	started := time.Now()
	log := p.log.With("request_id", req.RequestID, "user", req.User)
	log.Info("=== 音频处理开始 ===", "file", req.Filename)

	res, err := p.run(ctx, log, req)
	if err != nil {
		log.Error("音频处理失败", "error", err, "elapsed", time.Since(started).String())
		return nil, apperr.WithRequestID(err, req.RequestID)
	}
	res.Elapsed = time.Since(started)
	log.Info("=== 音频处理完成 ===",
		"report", res.ReportPath,
		"segments", res.Segments,
		"phrases", res.Transcript.SegmentCount,
		"elapsed", res.Elapsed.String())
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, log *logger.Logger, req Request) (*Result, error) {
	// 工作目录只用服务端生成的 ID，RequestID 来自客户端，仅用于日志关联
	ws, err := workspace.New(p.opts.WorkingDir, req.User, uuid.NewString())
	if err != nil {
		return nil, apperr.New(apperr.ErrPersistence, "", err)
	}
	log.Debug("工作目录已创建", "dir", ws.Dir())
	defer func() {
		if err := ws.Close(); err != nil {
			log.Warn("清理工作目录失败", "dir", ws.Dir(), "error", err)
		}
	}()

	// 1. 保存上传文件
	path, size, err := ws.SaveUpload(req.Filename, req.Body)
	if err != nil {
		return nil, apperr.New(apperr.ErrPersistence, "", err)
	}
	log.Debug("原始文件已保存", "path", path, "size", size)

	// 2. 校验
	ok, msg := p.inspector.Validate(ctx, path)
	log.Info("文件校验", "valid", ok, "message", msg)
	if !ok {
		return nil, apperr.Validation(msg)
	}

	// 3. 统一转成 MP3（可选）
	if p.opts.Normalize && !strings.EqualFold(filepath.Ext(path), ".mp3") {
		converted, err := p.inspector.ConvertToMP3(ctx, path)
		if err != nil {
			return nil, err
		}
		path = converted
	}

	// 4. 分片
	segments, err := p.splitter.Split(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := p.splitter.Cleanup(segments); err != nil {
			log.Warn("清理分片失败", "error", err)
		}
	}()
	log.Info("分片完成", "segments", len(segments))

	// 5. 并发转写
	outcomes := p.dispatcher.Dispatch(ctx, segments, p.opts.Language, req.Progress)

	// 6. 合并
	agg := transcriber.Combine(outcomes, transcriber.CombineOptions{GlobalTimeline: p.opts.GlobalTimeline})
	if !agg.Success {
		return nil, apperr.New(apperr.ErrTranscription, agg.Error, firstFailure(outcomes))
	}
	if agg.Warning != "" {
		log.Warn("部分片段转写失败", "failed", agg.FailedCount, "total", len(outcomes))
	}

	// 7. 写报告
	reportPath, err := p.writer.Write(req.User, req.Filename, agg)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RequestID:  req.RequestID,
		User:       req.User,
		Filename:   req.Filename,
		ReportPath: reportPath,
		Transcript: agg,
		Segments:   len(segments),
	}

	// 8. 字幕失败不影响主流程
	if p.opts.Subtitles {
		base := strings.TrimSuffix(reportPath, filepath.Ext(reportPath))
		if err := transcriber.GenerateSRT(agg.Phrases, base+".srt"); err != nil {
			log.Warn("生成 SRT 字幕失败", "error", err)
		} else {
			res.SubtitlePath = base + ".srt"
		}
		if err := transcriber.GenerateVTT(agg.Phrases, base+".vtt"); err != nil {
			log.Warn("生成 VTT 字幕失败", "error", err)
		} else {
			res.VTTPath = base + ".vtt"
		}
	}
	return res, nil
}

func firstFailure(outcomes []models.TranscriptionOutcome) error {
	for _, o := range outcomes {
		if !o.Success && o.Err != "" {
			return fmt.Errorf("segment %d: %s", o.Segment.Index, o.Err)
		}
	}
	return errors.New("no segments")
}
