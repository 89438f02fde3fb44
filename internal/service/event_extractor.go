package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/pkg/metrics"
	"github.com/qs3c/billing_server/internal/pkg/processor"
)

// RemoteSubscription 订阅事件中处理器需要的字段
type RemoteSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	PriceIDs           []string
	Metadata           map[string]string
}

// RemoteInvoice 账单事件中处理器需要的字段
type RemoteInvoice struct {
	ID             string
	SubscriptionID string
	CustomerID     string
	AmountPaid     int64
	Currency       string
	BillingReason  string
}

// RemotePaymentIntent 支付意图事件中处理器需要的字段
type RemotePaymentIntent struct {
	ID         string
	Status     string
	CustomerID string
	Amount     int64
	Currency   string
	LastError  string
	Metadata   map[string]string
}

// flexID 兼容字符串 ID 和展开后的 {"id": ...} 对象
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "null" || trimmed == "" {
		*f = ""
		return nil
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}

	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*f = flexID(obj.ID)
	return nil
}

type subscriptionPayload struct {
	ID                 string            `json:"id"`
	Customer           flexID            `json:"customer"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64  `json:"current_period_start"`
			CurrentPeriodEnd   int64  `json:"current_period_end"`
			Price              flexID `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type invoicePayload struct {
	ID            string `json:"id"`
	Customer      flexID `json:"customer"`
	Subscription  flexID `json:"subscription"`
	AmountPaid    int64  `json:"amount_paid"`
	Currency      string `json:"currency"`
	BillingReason string `json:"billing_reason"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription flexID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

type paymentIntentPayload struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Customer         flexID            `json:"customer"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// EventExtractor 从事件载荷中取出业务对象，载荷不可用时回源查询
type EventExtractor struct {
	client  processor.Client
	timeout time.Duration
	metrics metrics.Recorder
	group   singleflight.Group
}

func NewEventExtractor(client processor.Client, cfg *config.Config, recorder metrics.Recorder) *EventExtractor {
	timeout := cfg.Stripe.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return &EventExtractor{
		client:  client,
		timeout: timeout,
		metrics: recorder,
	}
}

// ExtractSubscription 解析订阅对象。无法得到可用对象时返回 (nil, nil)，
// 只有回源查询遇到瞬时错误才返回 error。
func (e *EventExtractor) ExtractSubscription(ctx context.Context, payload json.RawMessage) (*RemoteSubscription, error) {
	var p subscriptionPayload
	if err := json.Unmarshal(payload, &p); err == nil && p.ID != "" && p.Status != "" {
		return p.toRemote(), nil
	}

	id := recoverID(payload)
	if id == "" {
		log.Warn().Msg("subscription payload unusable and no id to fetch by")
		return nil, nil
	}

	log.Info().Str("remote_subscription_id", id).Msg("subscription payload incomplete, fetching from processor")
	return e.FetchSubscription(ctx, id)
}

// ExtractInvoice 解析账单对象，只读取载荷本身
func (e *EventExtractor) ExtractInvoice(payload json.RawMessage) *RemoteInvoice {
	var p invoicePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Warn().Err(err).Msg("failed to decode invoice payload")
		return nil
	}
	if p.ID == "" {
		return nil
	}

	inv := &RemoteInvoice{
		ID:             p.ID,
		SubscriptionID: string(p.Subscription),
		CustomerID:     string(p.Customer),
		AmountPaid:     p.AmountPaid,
		Currency:       p.Currency,
		BillingReason:  p.BillingReason,
	}
	// 新版 API 把订阅 ID 移到了 parent.subscription_details
	if inv.SubscriptionID == "" && p.Parent != nil && p.Parent.SubscriptionDetails != nil {
		inv.SubscriptionID = string(p.Parent.SubscriptionDetails.Subscription)
	}
	return inv
}

// ExtractPaymentIntent 解析支付意图，规则同 ExtractSubscription
func (e *EventExtractor) ExtractPaymentIntent(ctx context.Context, payload json.RawMessage) (*RemotePaymentIntent, error) {
	var p paymentIntentPayload
	if err := json.Unmarshal(payload, &p); err == nil && p.ID != "" && p.Status != "" {
		return p.toRemote(), nil
	}

	id := recoverID(payload)
	if id == "" {
		log.Warn().Msg("payment intent payload unusable and no id to fetch by")
		return nil, nil
	}

	v, err, _ := e.group.Do("payment_intent:"+id, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		return e.client.RetrievePaymentIntent(callCtx, id)
	})
	if err != nil {
		if errors.Is(err, processor.ErrNotFound) {
			e.metrics.RecordRemoteCall("payment_intents.retrieve", "not_found")
			log.Warn().Str("payment_intent_id", id).Msg("payment intent not found on processor")
			return nil, nil
		}
		e.metrics.RecordRemoteCall("payment_intents.retrieve", "error")
		return nil, fmt.Errorf("retrieve payment intent %s: %w", id, err)
	}
	e.metrics.RecordRemoteCall("payment_intents.retrieve", "ok")

	pi := v.(*processor.PaymentIntent)
	return &RemotePaymentIntent{
		ID:         pi.ID,
		Status:     pi.Status,
		CustomerID: pi.CustomerID,
		Amount:     pi.Amount,
		Currency:   pi.Currency,
		LastError:  pi.LastError,
		Metadata:   pi.Metadata,
	}, nil
}

// FetchSubscription 向支付平台查询订阅当前状态。远端不存在时返回 (nil, nil)
func (e *EventExtractor) FetchSubscription(ctx context.Context, id string) (*RemoteSubscription, error) {
	sub, err := e.retrieveSubscription(ctx, id)
	if err != nil {
		if errors.Is(err, processor.ErrNotFound) {
			log.Warn().Str("remote_subscription_id", id).Msg("subscription not found on processor")
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

// retrieveSubscription 和 FetchSubscription 相同，但保留 processor.ErrNotFound
func (e *EventExtractor) retrieveSubscription(ctx context.Context, id string) (*RemoteSubscription, error) {
	v, err, _ := e.group.Do("subscription:"+id, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		return e.client.RetrieveSubscription(callCtx, id)
	})
	if err != nil {
		if errors.Is(err, processor.ErrNotFound) {
			e.metrics.RecordRemoteCall("subscriptions.retrieve", "not_found")
			return nil, err
		}
		e.metrics.RecordRemoteCall("subscriptions.retrieve", "error")
		if errors.Is(err, context.DeadlineExceeded) {
			log.Error().Str("remote_subscription_id", id).Dur("timeout", e.timeout).Msg("subscription fetch timed out")
		}
		return nil, fmt.Errorf("retrieve subscription %s: %w", id, err)
	}
	e.metrics.RecordRemoteCall("subscriptions.retrieve", "ok")

	return fromProcessorSubscription(v.(*processor.Subscription)), nil
}

func fromProcessorSubscription(sub *processor.Subscription) *RemoteSubscription {
	out := &RemoteSubscription{
		ID:                sub.ID,
		CustomerID:        sub.CustomerID,
		Status:            sub.Status,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		PriceIDs:          sub.PriceIDs,
		Metadata:          sub.Metadata,
	}
	if !sub.CurrentPeriodStart.IsZero() {
		start := sub.CurrentPeriodStart
		out.CurrentPeriodStart = &start
	}
	if !sub.CurrentPeriodEnd.IsZero() {
		end := sub.CurrentPeriodEnd
		out.CurrentPeriodEnd = &end
	}
	return out
}

func (p *subscriptionPayload) toRemote() *RemoteSubscription {
	out := &RemoteSubscription{
		ID:                p.ID,
		CustomerID:        string(p.Customer),
		Status:            p.Status,
		CancelAtPeriodEnd: p.CancelAtPeriodEnd,
		Metadata:          p.Metadata,
	}

	start, end := p.CurrentPeriodStart, p.CurrentPeriodEnd
	// 旧版载荷账期在顶层，新版在订阅项上
	if start == 0 && end == 0 && len(p.Items.Data) > 0 {
		start = p.Items.Data[0].CurrentPeriodStart
		end = p.Items.Data[0].CurrentPeriodEnd
	}
	out.CurrentPeriodStart = unixPtr(start)
	out.CurrentPeriodEnd = unixPtr(end)

	for _, item := range p.Items.Data {
		if item.Price != "" {
			out.PriceIDs = append(out.PriceIDs, string(item.Price))
		}
	}
	return out
}

func (p *paymentIntentPayload) toRemote() *RemotePaymentIntent {
	out := &RemotePaymentIntent{
		ID:         p.ID,
		Status:     p.Status,
		CustomerID: string(p.Customer),
		Amount:     p.Amount,
		Currency:   p.Currency,
		Metadata:   p.Metadata,
	}
	if p.LastPaymentError != nil {
		out.LastError = p.LastPaymentError.Message
	}
	return out
}

// recoverID 从载荷中尽量取出对象 ID，载荷可能只是 ID 字符串
func recoverID(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}

	var id flexID
	if err := json.Unmarshal(payload, &id); err != nil {
		return ""
	}
	return strings.TrimSpace(string(id))
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
