package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/z-wentao/okoshi/pkg/apperr"
	"github.com/z-wentao/okoshi/pkg/audio"
	"github.com/z-wentao/okoshi/pkg/logger"
	"github.com/z-wentao/okoshi/pkg/models"
	"github.com/z-wentao/okoshi/pkg/pipeline"
	"github.com/z-wentao/okoshi/pkg/queue"
	"github.com/z-wentao/okoshi/pkg/report"
	"github.com/z-wentao/okoshi/pkg/storage"
	"github.com/z-wentao/okoshi/pkg/templates"
	"github.com/z-wentao/okoshi/pkg/transcriber"
	"github.com/z-wentao/okoshi/pkg/workspace"
)

const version = "1.0.0"

// Runner 同步执行转写流水线
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// UsageReporter 转写引擎的计费信息
type UsageReporter interface {
	Usage() transcriber.UsageInfo
}

// Options HTTP 服务配置
type Options struct {
	WorkingDir     string
	ReportsDir     string
	UploadDir      string
	MaxUploadSize  int64
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// Server HTTP 接口（依赖全部由 main 注入）
type Server struct {
	runner    Runner
	store     storage.Store
	queue     queue.Queue
	usage     UsageReporter
	validator *audio.UploadValidator
	opts      Options
	log       *logger.Logger
}

func New(runner Runner, store storage.Store, q queue.Queue, usage UsageReporter, opts Options, log *logger.Logger) *Server {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = audio.DefaultMaxSizeBytes
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Minute
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{
		runner:    runner,
		store:     store,
		queue:     q,
		usage:     usage,
		validator: audio.NewUploadValidator(opts.MaxUploadSize),
		opts:      opts,
		log:       log.With("component", "HTTPServer"),
	}
}

// Router 注册路由
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(requestID(), requestLogger(s.log), recovery(s.log), corsMiddleware(s.opts.AllowedOrigins))
	r.MaxMultipartMemory = 32 << 20

	r.GET("/", func(c *gin.Context) { c.Redirect(http.StatusFound, "/ui") })
	r.GET("/ui", s.handleIndex)
	r.POST("/okoshi", s.handleOkoshi)
	r.GET("/result/:filename", s.handleResult)

	api := r.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/usage", s.handleUsage)
		api.POST("/jobs", s.handleCreateJob)
		api.GET("/jobs", s.handleListJobs)
		api.GET("/jobs/:job_id", s.handleGetJob)
		api.DELETE("/jobs/:job_id", s.handleDeleteJob)
		api.DELETE("/files", s.handleDeleteFiles)
	}
	return r
}

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
		"version": version,
	})
}

func (s *Server) handleUsage(c *gin.Context) {
	if s.usage == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.usage.Usage())
}

// readUpload 读取并校验 multipart 表单中的 user 和 audio_file
func (s *Server) readUpload(c *gin.Context) (*audio.Upload, *multipart.FileHeader, error) {
	// 表单本身也算在限制内，多留 1MB
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadSize+1<<20)

	upload := &audio.Upload{User: c.PostForm("user")}
	fh, err := c.FormFile("audio_file")
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return nil, nil, apperr.Validation(fmt.Sprintf("ファイルサイズが上限（%dMB）を超えています。", s.opts.MaxUploadSize/1024/1024))
	}
	if err == nil {
		upload.Filename = fh.Filename
		upload.Size = fh.Size
	}

	if err := s.validator.Validate(upload); err != nil {
		return nil, nil, err
	}
	return upload, fh, nil
}

// handleOkoshi 同步转写：上传 -> 转写 -> 返回结果
func (s *Server) handleOkoshi(c *gin.Context) {
	id := requestIDFrom(c)

	upload, fh, err := s.readUpload(c)
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	s.log.Info("=== 音频处理开始 ===", "request_id", id, "user", upload.User, "file", upload.Filename,
		"size_mb", fmt.Sprintf("%.2f", float64(upload.Size)/1024/1024))

	f, err := fh.Open()
	if err != nil {
		abortWithError(c, s.log, apperr.New(apperr.ErrPersistence, "", err))
		return
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.RequestTimeout)
	defer cancel()

	res, err := s.runner.Run(ctx, pipeline.Request{
		RequestID: id,
		User:      upload.User,
		Filename:  upload.Filename,
		Body:      f,
	})
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}

	agg := res.Transcript
	info := gin.H{
		"duration_minutes":        round2(agg.TotalDuration / 60),
		"processing_time_seconds": round2(agg.TotalProcessingTime),
		"segment_count":           agg.SegmentCount,
		"file_path":               res.ReportPath,
	}
	if agg.Warning != "" {
		info["warning"] = agg.Warning
	}
	c.JSON(http.StatusOK, gin.H{
		"message":            "文字起こしが完了しました！",
		"user":               upload.User,
		"request_id":         id,
		"result_url":         templates.ResultURL(res.ReportPath),
		"transcription_text": agg.CombinedText,
		"processing_info":    info,
	})
}

// handleCreateJob 异步转写：文件暂存后加入队列
func (s *Server) handleCreateJob(c *gin.Context) {
	id := requestIDFrom(c)

	upload, fh, err := s.readUpload(c)
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}

	jobID := uuid.NewString()
	if err := os.MkdirAll(s.opts.UploadDir, 0o755); err != nil {
		abortWithError(c, s.log, apperr.New(apperr.ErrPersistence, "", err))
		return
	}
	stagedPath := filepath.Join(s.opts.UploadDir, jobID+strings.ToLower(filepath.Ext(upload.Filename)))
	if err := c.SaveUploadedFile(fh, stagedPath); err != nil {
		abortWithError(c, s.log, apperr.New(apperr.ErrPersistence, "", fmt.Errorf("保存上传文件失败: %w", err)))
		return
	}

	job := &models.TranscriptionJob{
		JobID:     jobID,
		RequestID: id,
		User:      upload.User,
		Filename:  upload.Filename,
		FilePath:  stagedPath,
		Status:    models.StatusPending,
		CreatedAt: time.Now(),
	}
	ctx := c.Request.Context()
	if err := s.store.Save(ctx, job); err != nil {
		os.Remove(stagedPath)
		abortWithError(c, s.log, apperr.New(apperr.ErrPersistence, "", fmt.Errorf("保存任务失败: %w", err)))
		return
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		os.Remove(stagedPath)
		updErr := s.store.Update(ctx, jobID, func(j *models.TranscriptionJob) {
			j.Status = models.StatusFailed
			j.Error = apperr.PublicMessage(nil, id)
			j.CompletedAt = time.Now()
		})
		if updErr != nil {
			s.log.Error("更新任务状态失败", "job_id", jobID, "request_id", id, "error", updErr)
		}
		abortWithError(c, s.log, apperr.New(apperr.ErrPersistence, "", fmt.Errorf("任务加入队列失败: %w", err)))
		return
	}

	s.log.Info("任务已加入队列", "job_id", jobID, "request_id", id, "file", upload.Filename)
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":     jobID,
		"request_id": id,
		"filename":   upload.Filename,
		"size":       upload.Size,
		"status":     job.Status,
		"message":    "アップロードしました。処理中です...",
	})
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.store.Get(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		abortWithError(c, s.log, storeError(err))
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleListJobs(c *gin.Context) {
	jobs, err := s.store.List(c.Request.Context())
	if err != nil {
		abortWithError(c, s.log, apperr.New(apperr.ErrPersistence, "", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

// handleDeleteJob 删除任务记录（不删除报告文件）
func (s *Server) handleDeleteJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if err := s.store.Delete(c.Request.Context(), jobID); err != nil {
		abortWithError(c, s.log, storeError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "削除しました", "job_id": jobID})
}

// handleResult 下载报告或字幕；路径必须在报告目录内
func (s *Server) handleResult(c *gin.Context) {
	path, err := report.Resolve(s.opts.ReportsDir, c.Param("filename"))
	if err != nil {
		abortWithError(c, s.log, err)
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}

// handleDeleteFiles 清空工作目录和报告目录，单个文件的失败只记录
func (s *Server) handleDeleteFiles(c *gin.Context) {
	res := workspace.Purge(s.opts.WorkingDir, s.opts.ReportsDir)
	s.log.Info("清空文件", "deleted", len(res.Deleted), "errors", len(res.Errors))

	msg := "すべてのファイルを削除しました"
	if len(res.Errors) > 0 {
		msg = fmt.Sprintf("%d件のファイルを削除できませんでした", len(res.Errors))
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       msg,
		"deleted_count": len(res.Deleted),
		"errors":        res.Errors,
	})
}

func (s *Server) handleIndex(c *gin.Context) {
	ctx := c.Request.Context()
	jobs, err := s.store.List(ctx)
	if err != nil {
		s.log.Warn("读取任务列表失败", "error", err)
	}
	reports, err := report.List(s.opts.ReportsDir)
	if err != nil {
		s.log.Warn("读取报告目录失败", "error", err)
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	err = templates.RenderIndex(c.Writer, templates.IndexData{
		Jobs:          jobs,
		Reports:       reports,
		AllowedFormat: audio.AllowedExtensionList(),
		MaxSizeMB:     s.opts.MaxUploadSize / 1024 / 1024,
	})
	if err != nil {
		s.log.Error("渲染页面失败", "error", err)
	}
}

func storeError(err error) error {
	if errors.Is(err, storage.ErrJobNotFound) {
		return apperr.New(apperr.ErrNotFound, "ジョブが見つかりません", err)
	}
	return apperr.New(apperr.ErrPersistence, "", err)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
