package testutil

import (
	"context"
	"sync"

	"github.com/qs3c/billing_server/internal/pkg/processor"
)

// FakeProcessor 内存版 processor.Client，记录调用次数并可注入错误
type FakeProcessor struct {
	mu             sync.Mutex
	subscriptions  map[string]*processor.Subscription
	paymentIntents map[string]*processor.PaymentIntent

	// Err 非空时所有调用返回该错误
	Err error

	RetrieveCalls int
	Cancelled     []string
}

func NewFakeProcessor() *FakeProcessor {
	return &FakeProcessor{
		subscriptions:  make(map[string]*processor.Subscription),
		paymentIntents: make(map[string]*processor.PaymentIntent),
	}
}

// PutSubscription 设置远端订阅
func (f *FakeProcessor) PutSubscription(sub *processor.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[sub.ID] = sub
}

// PutPaymentIntent 设置远端支付意图
func (f *FakeProcessor) PutPaymentIntent(pi *processor.PaymentIntent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paymentIntents[pi.ID] = pi
}

// SetErr 并发安全地设置注入错误
func (f *FakeProcessor) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = err
}

func (f *FakeProcessor) RetrieveSubscription(ctx context.Context, id string) (*processor.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RetrieveCalls++

	if f.Err != nil {
		return nil, f.Err
	}
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, processor.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (f *FakeProcessor) RetrievePaymentIntent(ctx context.Context, id string) (*processor.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RetrieveCalls++

	if f.Err != nil {
		return nil, f.Err
	}
	pi, ok := f.paymentIntents[id]
	if !ok {
		return nil, processor.ErrNotFound
	}
	cp := *pi
	return &cp, nil
}

func (f *FakeProcessor) CancelSubscription(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return f.Err
	}
	f.Cancelled = append(f.Cancelled, id)
	if sub, ok := f.subscriptions[id]; ok {
		sub.Status = "canceled"
	}
	return nil
}

// Calls 返回查询次数
func (f *FakeProcessor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.RetrieveCalls
}
