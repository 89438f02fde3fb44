package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/qs3c/billing_server/config"
)

// StripeClient 基于 stripe-go 的实现
type StripeClient struct {
	client        *stripe.Client
	webhookSecret string
	ignoreVersion bool
}

func NewStripeClient(cfg config.StripeConfig) (*StripeClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if apiKey == "" && secret == "" {
		return nil, ErrNotConfigured
	}

	var client *stripe.Client
	if apiKey != "" {
		client = stripe.NewClient(apiKey)
	}

	return &StripeClient{
		client:        client,
		webhookSecret: secret,
		ignoreVersion: cfg.IgnoreAPIVersionMismatch,
	}, nil
}

// ConstructEnvelope 验签并解析事件
func (c *StripeClient) ConstructEnvelope(payload []byte, signature string) (*Envelope, error) {
	if c.webhookSecret == "" {
		return nil, ErrNotConfigured
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: c.ignoreVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if event.ID == "" || event.Type == "" {
		return nil, fmt.Errorf("%w: event id or type missing", ErrInvalidSignature)
	}

	env := &Envelope{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data != nil {
		env.Payload = event.Data.Raw
	}
	return env, nil
}

func (c *StripeClient) RetrieveSubscription(ctx context.Context, id string) (*Subscription, error) {
	if c.client == nil {
		return nil, ErrNotConfigured
	}

	sub, err := c.client.V1Subscriptions.Retrieve(ctx, id, nil)
	if err != nil {
		return nil, translateError(err)
	}
	return convertSubscription(sub), nil
}

func (c *StripeClient) RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	if c.client == nil {
		return nil, ErrNotConfigured
	}

	pi, err := c.client.V1PaymentIntents.Retrieve(ctx, id, nil)
	if err != nil {
		return nil, translateError(err)
	}

	out := &PaymentIntent{
		ID:       pi.ID,
		Status:   string(pi.Status),
		Amount:   pi.Amount,
		Currency: string(pi.Currency),
		Metadata: pi.Metadata,
	}
	if pi.Customer != nil {
		out.CustomerID = pi.Customer.ID
	}
	if pi.LastPaymentError != nil {
		out.LastError = pi.LastPaymentError.Msg
	}
	return out, nil
}

func (c *StripeClient) CancelSubscription(ctx context.Context, id string) error {
	if c.client == nil {
		return ErrNotConfigured
	}

	if _, err := c.client.V1Subscriptions.Cancel(ctx, id, nil); err != nil {
		return translateError(err)
	}
	return nil
}

func convertSubscription(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}

	// 新版 API 的账期挂在订阅项上，取第一个订阅项
	if sub.Items != nil {
		for i, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			if i == 0 {
				if item.CurrentPeriodStart > 0 {
					out.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
				}
				if item.CurrentPeriodEnd > 0 {
					out.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
				}
			}
			if item.Price != nil && item.Price.ID != "" {
				out.PriceIDs = append(out.PriceIDs, item.Price.ID)
			}
		}
	}
	return out
}

// translateError 把 SDK 错误映射为 ErrNotFound 或带上下文的瞬时错误
func translateError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return fmt.Errorf("%w: %s", ErrNotFound, stripeErr.Msg)
		}
		return fmt.Errorf("stripe request failed (status %d): %s", stripeErr.HTTPStatusCode, stripeErr.Msg)
	}
	return fmt.Errorf("stripe request failed: %w", err)
}
