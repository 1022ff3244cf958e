package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/z-wentao/okoshi/pkg/logger"
	"github.com/z-wentao/okoshi/pkg/models"
)

const publishTimeout = 5 * time.Second

// RabbitMQOptions RabbitMQ 队列配置
type RabbitMQOptions struct {
	URL         string
	QueueName   string
	Prefetch    int    // QoS 预取数量，一般等于 Worker 数量
	ConsumerTag string // 为空时由服务端生成
}

// RabbitMQQueue 持久化队列，发布和消费各用一个连接
// 所有 Worker 共享同一个 deliveries channel，并发度由 Prefetch 控制；手动 Ack/Nack
type RabbitMQQueue struct {
	opts   RabbitMQOptions
	log    *logger.Logger
	closed chan struct{}
	once   sync.Once

	pubConn *amqp.Connection
	pubCh   *amqp.Channel
	pubMu   sync.Mutex

	subConn    *amqp.Connection
	subCh      *amqp.Channel
	deliveries <-chan amqp.Delivery
	ackMu      sync.Mutex // amqp.Channel 不是并发安全的
}

// NewRabbitMQQueue 连接 RabbitMQ 并开始消费
func NewRabbitMQQueue(opts RabbitMQOptions, log *logger.Logger) (*RabbitMQQueue, error) {
	if opts.Prefetch <= 0 {
		opts.Prefetch = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	rq := &RabbitMQQueue{
		opts:   opts,
		log:    log.With("component", "RabbitMQQueue", "queue", opts.QueueName),
		closed: make(chan struct{}),
	}

	var err error
	if rq.pubConn, rq.pubCh, err = rq.open(); err != nil {
		return nil, fmt.Errorf("初始化发布者失败: %w", err)
	}
	if err := rq.startConsumer(); err != nil {
		rq.closeAll()
		return nil, fmt.Errorf("初始化消费者失败: %w", err)
	}

	rq.log.Info("RabbitMQ 队列初始化成功", "prefetch", opts.Prefetch)
	return rq, nil
}

// open 建立连接和 channel，并声明持久化队列（幂等）
func (rq *RabbitMQQueue) open() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(rq.opts.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("连接失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("创建 channel 失败: %w", err)
	}
	if _, err := ch.QueueDeclare(rq.opts.QueueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("声明队列失败: %w", err)
	}
	return conn, ch, nil
}

func (rq *RabbitMQQueue) startConsumer() error {
	conn, ch, err := rq.open()
	if err != nil {
		return err
	}
	rq.subConn, rq.subCh = conn, ch

	if err := ch.Qos(rq.opts.Prefetch, 0, false); err != nil {
		return fmt.Errorf("设置 QoS 失败: %w", err)
	}

	deliveries, err := ch.Consume(
		rq.opts.QueueName,
		rq.opts.ConsumerTag,
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("启动消费失败: %w", err)
	}
	rq.deliveries = deliveries
	return nil
}

func (rq *RabbitMQQueue) Enqueue(ctx context.Context, job *models.TranscriptionJob) error {
	select {
	case <-rq.closed:
		return ErrQueueClosed
	default:
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("序列化任务失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	rq.pubMu.Lock()
	defer rq.pubMu.Unlock()

	err = rq.pubCh.PublishWithContext(ctx, "", rq.opts.QueueName, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    job.JobID,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("发布消息失败: %w", err)
	}
	return nil
}

// Dequeue 无法解析的消息直接丢弃（不重新入队）并继续等待下一条
func (rq *RabbitMQQueue) Dequeue(ctx context.Context) (*models.TranscriptionJob, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-rq.closed:
			return nil, ErrQueueClosed
		case d, ok := <-rq.deliveries:
			if !ok {
				return nil, ErrQueueClosed
			}

			var job models.TranscriptionJob
			if err := json.Unmarshal(d.Body, &job); err != nil {
				rq.log.Error("反序列化任务失败，丢弃消息", "delivery_tag", d.DeliveryTag, "error", err)
				rq.nack(d.DeliveryTag, false)
				continue
			}
			job.DeliveryTag = d.DeliveryTag
			job.RabbitMQDelivery = &d
			return &job, nil
		}
	}
}

func (rq *RabbitMQQueue) Ack(job *models.TranscriptionJob) error {
	if _, ok := job.RabbitMQDelivery.(*amqp.Delivery); !ok {
		return nil
	}
	rq.ackMu.Lock()
	defer rq.ackMu.Unlock()
	return rq.subCh.Ack(job.DeliveryTag, false)
}

func (rq *RabbitMQQueue) Nack(job *models.TranscriptionJob, requeue bool) error {
	if _, ok := job.RabbitMQDelivery.(*amqp.Delivery); !ok {
		return nil
	}
	return rq.nack(job.DeliveryTag, requeue)
}

func (rq *RabbitMQQueue) nack(tag uint64, requeue bool) error {
	rq.ackMu.Lock()
	defer rq.ackMu.Unlock()
	return rq.subCh.Nack(tag, false, requeue)
}

// Stats 队列中的消息数和消费者数
func (rq *RabbitMQQueue) Stats() (messages, consumers int, err error) {
	rq.pubMu.Lock()
	defer rq.pubMu.Unlock()

	q, err := rq.pubCh.QueueDeclarePassive(rq.opts.QueueName, true, false, false, false, nil)
	if err != nil {
		return 0, 0, err
	}
	return q.Messages, q.Consumers, nil
}

func (rq *RabbitMQQueue) Close() error {
	var err error
	rq.once.Do(func() {
		close(rq.closed)
		err = rq.closeAll()
		rq.log.Info("RabbitMQ 队列已关闭")
	})
	return err
}

func (rq *RabbitMQQueue) closeAll() error {
	var closers []interface{ Close() error }
	if rq.subCh != nil {
		closers = append(closers, rq.subCh)
	}
	if rq.subConn != nil {
		closers = append(closers, rq.subConn)
	}
	if rq.pubCh != nil {
		closers = append(closers, rq.pubCh)
	}
	if rq.pubConn != nil {
		closers = append(closers, rq.pubConn)
	}

	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
