package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/z-wentao/okoshi/pkg/models"
)

// Schema transcription_jobs 表结构
const Schema = `
CREATE TABLE IF NOT EXISTS transcription_jobs (
	job_id          TEXT PRIMARY KEY,
	request_id      TEXT NOT NULL DEFAULT '',
	user_name       TEXT NOT NULL DEFAULT '',
	filename        TEXT NOT NULL,
	file_path       TEXT,
	status          TEXT NOT NULL,
	progress        INTEGER NOT NULL DEFAULT 0,
	report_path     TEXT,
	subtitle_path   TEXT,
	vtt_path        TEXT,
	result_text     TEXT,
	duration        DOUBLE PRECISION,
	processing_time DOUBLE PRECISION,
	segment_count   INTEGER NOT NULL DEFAULT 0,
	failed_count    INTEGER NOT NULL DEFAULT 0,
	warning         TEXT,
	error           TEXT,
	created_at      TIMESTAMPTZ NOT NULL,
	completed_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_transcription_jobs_created_at ON transcription_jobs (created_at DESC);
`

const jobColumns = `job_id, request_id, user_name, filename, file_path, status, progress,
	report_path, subtitle_path, vtt_path, result_text, duration, processing_time,
	segment_count, failed_count, warning, error, created_at, completed_at`

// PostgresJobStore PostgreSQL 任务存储
type PostgresJobStore struct {
	db *sql.DB
}

// NewPostgresJobStore 创建 PostgreSQL 任务存储
func NewPostgresJobStore(ctx context.Context, connStr string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("打开数据库连接失败: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &PostgresJobStore{db: db}, nil
}

// EnsureSchema 建表（已存在时不做任何事）
func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("初始化表结构失败: %w", err)
	}
	return nil
}

// Save UPSERT
func (s *PostgresJobStore) Save(ctx context.Context, job *models.TranscriptionJob) error {
	query := `
	INSERT INTO transcription_jobs (` + jobColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	ON CONFLICT (job_id)
	DO UPDATE SET
	status = EXCLUDED.status,
	progress = EXCLUDED.progress,
	file_path = EXCLUDED.file_path,
	report_path = EXCLUDED.report_path,
	subtitle_path = EXCLUDED.subtitle_path,
	vtt_path = EXCLUDED.vtt_path,
	result_text = EXCLUDED.result_text,
	duration = EXCLUDED.duration,
	processing_time = EXCLUDED.processing_time,
	segment_count = EXCLUDED.segment_count,
	failed_count = EXCLUDED.failed_count,
	warning = EXCLUDED.warning,
	error = EXCLUDED.error,
	completed_at = EXCLUDED.completed_at
	`

	_, err := s.db.ExecContext(ctx, query,
		job.JobID,
		job.RequestID,
		job.User,
		job.Filename,
		nullString(job.FilePath),
		string(job.Status),
		job.Progress,
		nullString(job.ReportPath),
		nullString(job.SubtitlePath),
		nullString(job.VTTPath),
		nullString(job.Text),
		job.Duration,
		job.ProcessingTime,
		job.SegmentCount,
		job.FailedCount,
		nullString(job.Warning),
		nullString(job.Error),
		job.CreatedAt,
		nullTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("保存到数据库失败: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, jobID string) (*models.TranscriptionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM transcription_jobs WHERE job_id = $1`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("查询数据库失败: %w", err)
	}
	return job, nil
}

// Update 在事务中 SELECT ... FOR UPDATE 后写回
func (s *PostgresJobStore) Update(ctx context.Context, jobID string, updateFn func(*models.TranscriptionJob)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + jobColumns + ` FROM transcription_jobs WHERE job_id = $1 FOR UPDATE`
	job, err := scanJob(tx.QueryRowContext(ctx, query, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return fmt.Errorf("查询数据库失败: %w", err)
	}

	updateFn(job)

	_, err = tx.ExecContext(ctx, `
	UPDATE transcription_jobs SET
	status = $2, progress = $3, report_path = $4, subtitle_path = $5, vtt_path = $6,
	result_text = $7, duration = $8, processing_time = $9, segment_count = $10,
	failed_count = $11, warning = $12, error = $13, completed_at = $14
	WHERE job_id = $1`,
		job.JobID,
		string(job.Status),
		job.Progress,
		nullString(job.ReportPath),
		nullString(job.SubtitlePath),
		nullString(job.VTTPath),
		nullString(job.Text),
		job.Duration,
		job.ProcessingTime,
		job.SegmentCount,
		job.FailedCount,
		nullString(job.Warning),
		nullString(job.Error),
		nullTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("更新任务失败: %w", err)
	}
	return tx.Commit()
}

// List 最近 100 个任务（按创建时间倒序）
func (s *PostgresJobStore) List(ctx context.Context) ([]*models.TranscriptionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM transcription_jobs ORDER BY created_at DESC LIMIT 100`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("查询数据库失败: %w", err)
	}
	defer rows.Close()

	jobs := make([]*models.TranscriptionJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("读取任务失败: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresJobStore) Delete(ctx context.Context, jobID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM transcription_jobs WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("删除任务失败: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("获取删除结果失败: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.TranscriptionJob, error) {
	var job models.TranscriptionJob
	var status string
	var filePath, reportPath, subtitlePath, vttPath, text, warning, errorMsg sql.NullString
	var duration, processingTime sql.NullFloat64
	var completedAt sql.NullTime

	err := row.Scan(
		&job.JobID,
		&job.RequestID,
		&job.User,
		&job.Filename,
		&filePath,
		&status,
		&job.Progress,
		&reportPath,
		&subtitlePath,
		&vttPath,
		&text,
		&duration,
		&processingTime,
		&job.SegmentCount,
		&job.FailedCount,
		&warning,
		&errorMsg,
		&job.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	// NULL 列保持零值
	job.Status = models.JobStatus(status)
	job.FilePath = filePath.String
	job.ReportPath = reportPath.String
	job.SubtitlePath = subtitlePath.String
	job.VTTPath = vttPath.String
	job.Text = text.String
	job.Warning = warning.String
	job.Error = errorMsg.String
	job.Duration = duration.Float64
	job.ProcessingTime = processingTime.Float64
	if completedAt.Valid {
		job.CompletedAt = completedAt.Time
	}
	return &job, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
