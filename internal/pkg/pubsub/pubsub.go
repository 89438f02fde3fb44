package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelSubscriptionChanges = "subscription_changes"
)

// SubscriptionChanged 订阅镜像状态变化消息
type SubscriptionChanged struct {
	Type                 string    `json:"type"`
	EventID              string    `json:"event_id,omitempty"`
	UserID               int64     `json:"user_id"`
	SubscriptionID       int64     `json:"subscription_id"`
	RemoteSubscriptionID string    `json:"remote_subscription_id,omitempty"`
	FromStatus           string    `json:"from_status,omitempty"`
	ToStatus             string    `json:"to_status"`
	Reason               string    `json:"reason,omitempty"`
	OccurredAt           time.Time `json:"occurred_at"`
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishChange 发布状态变化
func (p *Publisher) PublishChange(ctx context.Context, msg *SubscriptionChanged) error {
	msg.Type = "subscription_changed"
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription change: %w", err)
	}

	return p.client.Publish(ctx, ChannelSubscriptionChanges, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅状态变化消息，阻塞直到 ctx 结束
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*SubscriptionChanged)) error {
	pubsub := s.client.Subscribe(ctx, ChannelSubscriptionChanges)
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var change SubscriptionChanged
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				continue // 忽略解析错误
			}

			handler(&change)
		}
	}
}
