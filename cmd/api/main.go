package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/z-wentao/okoshi/pkg/audio"
	"github.com/z-wentao/okoshi/pkg/config"
	"github.com/z-wentao/okoshi/pkg/logger"
	"github.com/z-wentao/okoshi/pkg/pipeline"
	"github.com/z-wentao/okoshi/pkg/queue"
	"github.com/z-wentao/okoshi/pkg/report"
	"github.com/z-wentao/okoshi/pkg/server"
	"github.com/z-wentao/okoshi/pkg/storage"
	"github.com/z-wentao/okoshi/pkg/transcriber"
	"github.com/z-wentao/okoshi/pkg/worker"
)

// App 应用上下文
type App struct {
	config *config.Config
	log    *logger.Logger
	store  storage.Store
	queue  queue.Queue
	pool   *worker.Pool
	http   *http.Server

	stopCleanup context.CancelFunc
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("配置加载成功", "config", *configPath)

	app, err := newApp(cfg, log)
	if err != nil {
		log.Fatal("初始化失败", "error", err)
	}

	// 2. 启动 Worker 和 HTTP 服务
	ctx, cancel := context.WithCancel(context.Background())
	app.pool.Start(ctx)

	go func() {
		log.Info("服务器启动", "addr", app.http.Addr,
			"storage", cfg.Storage.Type,
			"queue", cfg.Queue.Type,
			"workers", cfg.Transcriber.WorkerPoolSize,
			"segment_duration", cfg.Transcriber.SegmentDuration)
		if err := app.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("服务器启动失败", "error", err)
		}
	}()

	// 3. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务器...")
	cancel()
	app.shutdown()
	log.Info("服务器已关闭")
}

func newApp(cfg *config.Config, log *logger.Logger) (*App, error) {
	for _, dir := range []string{cfg.Storage.WorkingDir, cfg.Storage.UploadDir, cfg.Storage.ReportsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建目录 %s 失败: %w", dir, err)
		}
	}

	app := &App{config: cfg, log: log}

	store, stopCleanup, err := newStore(cfg, log)
	if err != nil {
		return nil, err
	}
	app.store = store
	app.stopCleanup = stopCleanup

	q, err := newQueue(cfg, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	app.queue = q

	// 转写流水线
	runner := audio.ExecRunner{}
	inspector := audio.NewInspector(audio.Options{
		FFprobePath:    cfg.Audio.FFprobePath,
		FFmpegPath:     cfg.Audio.FFmpegPath,
		MaxSizeBytes:   cfg.Audio.MaxSizeMB * 1024 * 1024,
		MaxDuration:    time.Duration(cfg.Audio.MaxDurationMinutes) * time.Minute,
		StrictDuration: cfg.Audio.StrictDuration,
	}, runner, log)
	splitter := transcriber.NewAudioSplitter(cfg.Transcriber.SegmentDuration, cfg.Audio.FFmpegPath, inspector, runner, log)
	whisper := transcriber.NewWhisperClient(transcriber.WhisperOptions{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.OpenAI.Model,
		MaxAttempts: cfg.Transcriber.MaxAttempts,
	})
	dispatcher := transcriber.NewDispatcher(whisper, cfg.Transcriber.SegmentConcurrency, log)
	writer := report.NewWriter(cfg.Storage.ReportsDir, log)

	pl := pipeline.New(inspector, splitter, dispatcher, writer, pipeline.Options{
		WorkingDir:     cfg.Storage.WorkingDir,
		Language:       cfg.Transcriber.Language,
		Normalize:      cfg.Audio.Normalize,
		GlobalTimeline: cfg.Transcriber.GlobalTimeline,
		Subtitles:      cfg.Transcriber.Subtitles,
	}, log)

	app.pool = worker.NewPool(cfg.Transcriber.WorkerPoolSize, q, store, pl,
		time.Duration(cfg.Server.JobTimeoutMinutes)*time.Minute, log)

	srv := server.New(pl, store, q, whisper, server.Options{
		WorkingDir:     cfg.Storage.WorkingDir,
		ReportsDir:     cfg.Storage.ReportsDir,
		UploadDir:      cfg.Storage.UploadDir,
		MaxUploadSize:  cfg.Server.MaxUploadSize,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutMinutes) * time.Minute,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, log)
	app.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return app, nil
}

// newStore 根据配置选择任务存储；返回的 cancel 用于停止 Redis 清理协程
func newStore(cfg *config.Config, log *logger.Logger) (storage.Store, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	noop := func() {}

	ttl := time.Duration(cfg.Storage.Redis.TTLHours) * time.Hour
	rc := cfg.Storage.Redis

	switch cfg.Storage.Type {
	case "redis":
		rs, err := storage.NewRedisJobStore(ctx, rc.Addr, rc.Password, rc.DB, ttl)
		if err != nil {
			return nil, nil, err
		}
		log.Info("使用 Redis 存储", "addr", rc.Addr)
		return rs, startRedisCleanup(rs, log), nil

	case "postgres":
		ps, err := newPostgres(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		log.Info("使用 PostgreSQL 存储")
		return ps, noop, nil

	case "hybrid":
		ps, err := newPostgres(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		rs, err := storage.NewRedisJobStore(ctx, rc.Addr, rc.Password, rc.DB, ttl)
		if err != nil {
			ps.Close()
			return nil, nil, err
		}
		log.Info("使用混合存储（Redis + PostgreSQL）", "addr", rc.Addr)
		return storage.NewHybridJobStore(rs, ps, log), startRedisCleanup(rs, log), nil
	}

	log.Info("使用内存存储")
	return storage.NewJobStore(), noop, nil
}

func newPostgres(ctx context.Context, cfg *config.Config) (*storage.PostgresJobStore, error) {
	ps, err := storage.NewPostgresJobStore(ctx, cfg.Storage.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	if err := ps.EnsureSchema(ctx); err != nil {
		ps.Close()
		return nil, err
	}
	return ps, nil
}

// startRedisCleanup 每小时清理一次索引中已过期的任务
func startRedisCleanup(rs *storage.RedisJobStore, log *logger.Logger) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := rs.CleanExpiredJobs(ctx)
				if err != nil {
					log.Warn("清理过期任务失败", "error", err)
					continue
				}
				if n > 0 {
					log.Info("已清理过期任务", "count", n)
				}
			}
		}
	}()
	return cancel
}

func newQueue(cfg *config.Config, log *logger.Logger) (queue.Queue, error) {
	if cfg.Queue.Type == "rabbitmq" {
		q, err := queue.NewRabbitMQQueue(queue.RabbitMQOptions{
			URL:       cfg.Queue.RabbitMQ.URL,
			QueueName: cfg.Queue.RabbitMQ.QueueName,
			Prefetch:  cfg.Transcriber.WorkerPoolSize,
		}, log)
		if err != nil {
			return nil, err
		}
		log.Info("使用 RabbitMQ 队列", "queue", cfg.Queue.RabbitMQ.QueueName)
		return q, nil
	}
	log.Info("使用内存队列", "buffer", cfg.Queue.BufferSize)
	return queue.NewMemoryQueue(cfg.Queue.BufferSize), nil
}

// shutdown 先停止接收请求，再停 Worker（未完成的任务重新入队），最后关闭队列和存储
func (app *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.http.Shutdown(ctx); err != nil {
		app.log.Warn("HTTP 服务关闭超时", "error", err)
	}
	app.pool.Stop()
	app.stopCleanup()

	if err := app.queue.Close(); err != nil {
		app.log.Warn("关闭队列失败", "error", err)
	}
	if err := app.store.Close(); err != nil {
		app.log.Warn("关闭存储失败", "error", err)
	}
}
