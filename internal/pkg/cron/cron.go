package cron

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qs3c/billing_server/internal/model"
	"github.com/qs3c/billing_server/internal/service"
)

const (
	requeueInterval = time.Minute
	requeueAge      = 10 * time.Minute
	batchSize       = 200
)

// Reconciler 定时对账所需的操作
type Reconciler interface {
	RequeueUnprocessed(ctx context.Context, olderThan time.Duration, limit int) (int, error)
	ResyncStale(ctx context.Context, limit int) (*service.ResyncReport, error)
	ReportDead(ctx context.Context, limit int) ([]*model.ProcessedEvent, error)
}

type Service struct {
	reconciler Reconciler
	stopChan   chan struct{}
}

func NewService(reconciler Reconciler) *Service {
	return &Service{
		reconciler: reconciler,
		stopChan:   make(chan struct{}),
	}
}

// Start 启动定时任务
func (s *Service) Start() {
	go s.runRequeue()
	go s.runDailyResync()
	log.Info().Msg("cron service started (event requeue + daily resync)")
}

// Stop 停止定时任务
func (s *Service) Stop() {
	close(s.stopChan)
	log.Info().Msg("cron service stopped")
}

// runRequeue 每分钟把卡住的未处理事件重新入队
func (s *Service) runRequeue() {
	ticker := time.NewTicker(requeueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.requeue()
		}
	}
}

func (s *Service) requeue() {
	if _, err := s.reconciler.RequeueUnprocessed(context.Background(), requeueAge, batchSize); err != nil {
		log.Error().Err(err).Msg("failed to requeue unprocessed events")
	}
}

// runDailyResync 每日 UTC 零点对账过期镜像
func (s *Service) runDailyResync() {
	now := time.Now().UTC()
	nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	timer := time.NewTimer(nextMidnight.Sub(now))

	for {
		select {
		case <-s.stopChan:
			timer.Stop()
			return
		case <-timer.C:
			if err := s.RunNow(); err != nil {
				log.Error().Err(err).Msg("daily resync failed")
			}
			timer.Reset(24 * time.Hour)
		}
	}
}

// RunNow 立即执行一次对账（用于测试或手动触发）
func (s *Service) RunNow() error {
	ctx := context.Background()
	if _, err := s.reconciler.ResyncStale(ctx, batchSize); err != nil {
		return err
	}
	dead, err := s.reconciler.ReportDead(ctx, batchSize)
	if err != nil {
		return err
	}
	if len(dead) > 0 {
		log.Warn().Int("count", len(dead)).Msg("events exhausted retries, manual action needed")
	}
	return nil
}
