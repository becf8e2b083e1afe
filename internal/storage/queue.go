package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 队列名称常量
const (
	QueueInboundSignals = "queue:signals" // 原始信号文本入口
	QueueOutboundEvents = "queue:events"  // 交易事件出口（通知/持久化协作方消费）
)

// InboundSignal 信号队列消息
type InboundSignal struct {
	Text       string    `json:"text"`
	Source     string    `json:"source"`
	ReceivedAt time.Time `json:"received_at"`
}

// Queue 队列接口，Redis实现之外还可以有进程内实现用于测试
type Queue interface {
	Push(ctx context.Context, queue string, message interface{}) error
	Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)
}

// QueueService Redis队列服务
type QueueService struct {
	client    *redis.Client
	keyPrefix string
}

// NewQueueService 创建队列服务
func NewQueueService(client *redis.Client, keyPrefix string) *QueueService {
	return &QueueService{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (q *QueueService) queueKey(queue string) string {
	return q.keyPrefix + queue
}

// Push 将消息推送到队列
func (q *QueueService) Push(ctx context.Context, queue string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("序列化队列消息失败: %w", err)
	}
	return q.client.LPush(ctx, q.queueKey(queue), data).Err()
}

// Pop 从队列阻塞弹出一条消息，超时返回 (nil, nil)
func (q *QueueService) Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	result, err := q.client.BRPop(ctx, timeout, q.queueKey(queue)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	// BRPop 返回 [queueName, value]
	if len(result) < 2 {
		return nil, fmt.Errorf("从队列获取的数据结构不正确")
	}
	return []byte(result[1]), nil
}

// Length 获取队列长度
func (q *QueueService) Length(ctx context.Context, queue string) (int64, error) {
	return q.client.LLen(ctx, q.queueKey(queue)).Result()
}

// Clear 清空队列
func (q *QueueService) Clear(ctx context.Context, queue string) error {
	return q.client.Del(ctx, q.queueKey(queue)).Err()
}
