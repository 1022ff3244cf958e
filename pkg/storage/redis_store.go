package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/z-wentao/okoshi/pkg/models"
)

const (
	redisKeyPrefix = "okoshi:job:"
	redisIndexKey  = "okoshi:jobs:index"
)

// RedisJobStore Redis 任务存储
// 任务以 JSON 存储并设置过期时间，另有一个按创建时间排序的 ZSET 索引
type RedisJobStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisJobStore 创建 Redis 任务存储
func NewRedisJobStore(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisJobStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}

	return &RedisJobStore{client: client, ttl: ttl}, nil
}

func jobKey(jobID string) string {
	return redisKeyPrefix + jobID
}

func (rs *RedisJobStore) Save(ctx context.Context, job *models.TranscriptionJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("序列化任务失败: %w", err)
	}

	// 数据和索引在一个事务里写入
	_, err = rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(job.JobID), data, rs.ttl)
		pipe.ZAdd(ctx, redisIndexKey, redis.Z{
			Score:  float64(job.CreatedAt.Unix()),
			Member: job.JobID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("保存到 Redis 失败: %w", err)
	}
	return nil
}

func (rs *RedisJobStore) Get(ctx context.Context, jobID string) (*models.TranscriptionJob, error) {
	data, err := rs.client.Get(ctx, jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("从 Redis 获取失败: %w", err)
	}

	var job models.TranscriptionJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("反序列化任务失败: %w", err)
	}
	return &job, nil
}

// Update 读-改-写；同一任务只会被一个 Worker 更新
func (rs *RedisJobStore) Update(ctx context.Context, jobID string, updateFn func(*models.TranscriptionJob)) error {
	job, err := rs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	updateFn(job)
	return rs.Save(ctx, job)
}

func (rs *RedisJobStore) List(ctx context.Context) ([]*models.TranscriptionJob, error) {
	jobIDs, err := rs.client.ZRevRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("获取任务索引失败: %w", err)
	}

	jobs := make([]*models.TranscriptionJob, 0, len(jobIDs))
	for _, jobID := range jobIDs {
		job, err := rs.Get(ctx, jobID)
		if errors.Is(err, ErrJobNotFound) {
			// 已过期，顺便清理索引
			rs.client.ZRem(ctx, redisIndexKey, jobID)
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (rs *RedisJobStore) Delete(ctx context.Context, jobID string) error {
	deleted, err := rs.client.Del(ctx, jobKey(jobID)).Result()
	if err != nil {
		return fmt.Errorf("删除任务失败: %w", err)
	}
	rs.client.ZRem(ctx, redisIndexKey, jobID)

	if deleted == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return nil
}

func (rs *RedisJobStore) Close() error {
	return rs.client.Close()
}

// CleanExpiredJobs 清理索引中已过期的任务，返回清理数量
func (rs *RedisJobStore) CleanExpiredJobs(ctx context.Context) (int, error) {
	jobIDs, err := rs.client.ZRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, jobID := range jobIDs {
		exists, err := rs.client.Exists(ctx, jobKey(jobID)).Result()
		if err != nil {
			continue
		}
		if exists == 0 {
			rs.client.ZRem(ctx, redisIndexKey, jobID)
			removed++
		}
	}
	return removed, nil
}
