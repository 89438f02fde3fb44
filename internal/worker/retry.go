package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qs3c/billing_server/internal/pkg/queue"
	"github.com/qs3c/billing_server/internal/service"
)

const (
	defaultPopTimeout   = 5 * time.Second
	defaultPromoteBatch = 100
)

// Replayer 按事件 ID 重放已存储的事件
type Replayer interface {
	Replay(ctx context.Context, eventID string) error
}

// RetryProcessor 消费重放队列，把失败事件交回对账引擎
type RetryProcessor struct {
	queue        *queue.Queue
	engine       Replayer
	popTimeout   time.Duration
	promoteBatch int
}

// NewRetryProcessor 创建重放处理器
func NewRetryProcessor(q *queue.Queue, engine Replayer) *RetryProcessor {
	return &RetryProcessor{
		queue:        q,
		engine:       engine,
		popTimeout:   defaultPopTimeout,
		promoteBatch: defaultPromoteBatch,
	}
}

// ProcessNext 取一条就绪消息并重放，队列为空时返回 false
func (p *RetryProcessor) ProcessNext(ctx context.Context) (bool, error) {
	msg, err := p.queue.Pop(ctx, p.popTimeout)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}

	logger := log.With().Str("event_id", msg.EventID).Str("event_type", msg.EventType).Int("attempt", msg.Attempt).Logger()
	if err := p.engine.Replay(ctx, msg.EventID); err != nil {
		// 引擎在失败时已记录错误并按退避重新入队
		if errors.Is(err, service.ErrEventInFlight) {
			logger.Debug().Msg("event in flight elsewhere, dropping retry")
			return true, nil
		}
		logger.Warn().Err(err).Msg("event replay failed")
		return true, nil
	}

	logger.Info().Msg("event replayed")
	return true, nil
}

// Run 持续消费直到 ctx 取消
func (p *RetryProcessor) Run(ctx context.Context, workerID int) {
	logger := log.With().Int("worker_id", workerID).Logger()
	logger.Info().Msg("retry worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("retry worker shutting down")
			return
		default:
		}

		if _, err := p.ProcessNext(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msg("failed to pop retry message")
			time.Sleep(time.Second)
		}
	}
}

// PromoteDue 把到期的延迟消息移入就绪队列
func (p *RetryProcessor) PromoteDue(ctx context.Context, now time.Time) (int64, error) {
	return p.queue.PromoteDue(ctx, now, p.promoteBatch)
}

// RunPromoter 按固定间隔搬运到期消息
func (p *RetryProcessor) RunPromoter(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := p.PromoteDue(ctx, now)
			if err != nil {
				log.Error().Err(err).Msg("failed to promote delayed retries")
				continue
			}
			if n > 0 {
				log.Debug().Int64("promoted", n).Msg("delayed retries promoted")
			}
		}
	}
}
