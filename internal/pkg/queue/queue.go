package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

type Queue struct {
	client    *redis.Client
	queueName string
}

// RetryMessage 待重放的事件
type RetryMessage struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Attempt   int       `json:"attempt"`
	NotBefore time.Time `json:"not_before"`
}

// 原子地把到期的延迟消息移入就绪列表
var promoteScript = redis.NewScript(`
local items = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
for i, item in ipairs(items) do
	redis.call("ZREM", KEYS[1], item)
	redis.call("LPUSH", KEYS[2], item)
end
return #items
`)

func NewQueue(client *redis.Client, queueName string) *Queue {
	return &Queue{
		client:    client,
		queueName: queueName,
	}
}

func (q *Queue) delayedKey() string {
	return q.queueName + ":delayed"
}

// Push 将消息加入队列；NotBefore 在未来时先进入延迟集合
func (q *Queue) Push(ctx context.Context, msg *RetryMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if !msg.NotBefore.IsZero() && msg.NotBefore.After(time.Now()) {
		return q.client.ZAdd(ctx, q.delayedKey(), &redis.Z{
			Score:  float64(msg.NotBefore.Unix()),
			Member: data,
		}).Err()
	}

	return q.client.LPush(ctx, q.queueName, data).Err()
}

// PromoteDue 把已到期的延迟消息移入就绪队列，返回移动数量
func (q *Queue) PromoteDue(ctx context.Context, now time.Time, limit int) (int64, error) {
	n, err := promoteScript.Run(ctx, q.client,
		[]string{q.delayedKey(), q.queueName},
		strconv.FormatInt(now.Unix(), 10), limit,
	).Int64()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("failed to promote delayed messages: %w", err)
	}
	return n, nil
}

// Pop 从队列获取消息（阻塞）
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*RetryMessage, error) {
	result, err := q.client.BRPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // 超时，无消息
		}
		return nil, fmt.Errorf("failed to pop from queue: %w", err)
	}

	if len(result) < 2 {
		return nil, nil
	}

	var msg RetryMessage
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	return &msg, nil
}

// Length 获取就绪队列长度
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueName).Result()
}

// DelayedLength 获取延迟集合长度
func (q *Queue) DelayedLength(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.delayedKey()).Result()
}
