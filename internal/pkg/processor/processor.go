// Package processor 封装外部支付平台：事件验签、订阅与支付意图查询、订阅取消。
// 业务层只依赖这里的领域类型，不直接接触支付平台 SDK。
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound 远端对象不存在
	ErrNotFound = errors.New("remote object not found")
	// ErrInvalidSignature 事件签名校验失败
	ErrInvalidSignature = errors.New("invalid event signature")
	// ErrNotConfigured 缺少密钥配置
	ErrNotConfigured = errors.New("payment processor not configured")
)

// Envelope 已验签的事件外壳
type Envelope struct {
	ID      string
	Type    string
	Created time.Time
	Payload json.RawMessage
}

// Subscription 远端订阅的快照
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	PriceIDs           []string
	Metadata           map[string]string
}

// PaymentIntent 远端支付意图的快照
type PaymentIntent struct {
	ID         string
	Status     string
	CustomerID string
	Amount     int64
	Currency   string
	LastError  string
	Metadata   map[string]string
}

// Client 支付平台查询与操作
type Client interface {
	RetrieveSubscription(ctx context.Context, id string) (*Subscription, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	CancelSubscription(ctx context.Context, id string) error
}

// Verifier 校验原始请求体并解析出事件外壳
type Verifier interface {
	ConstructEnvelope(payload []byte, signature string) (*Envelope, error)
}
