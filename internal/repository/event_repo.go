package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/billing_server/internal/model"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Claim 原子地插入事件记录（已存在则不插入），返回库中的记录以及是否为本次新建
func (r *EventRepository) Claim(eventID, eventType, payload string) (*model.ProcessedEvent, bool, error) {
	event := &model.ProcessedEvent{
		EventID:   eventID,
		EventType: eventType,
		Payload:   payload,
	}
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return nil, false, tx.Error
	}

	created := tx.RowsAffected > 0
	stored, err := r.GetByEventID(eventID)
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (r *EventRepository) GetByEventID(eventID string) (*model.ProcessedEvent, error) {
	var event model.ProcessedEvent
	err := r.db.Where("event_id = ?", eventID).First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *EventRepository) MarkProcessed(id int64) error {
	now := time.Now()
	return r.db.Model(&model.ProcessedEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processed":    true,
		"processed_at": &now,
		"last_error":   "",
	}).Error
}

// RecordFailure 记录一次处理失败，attempts 自增
func (r *EventRepository) RecordFailure(id int64, errMsg string) error {
	return r.db.Model(&model.ProcessedEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": errMsg,
	}).Error
}

// ListUnprocessed 列出未处理且未超过重试上限的事件
func (r *EventRepository) ListUnprocessed(maxAttempts int, createdBefore time.Time, limit int) ([]*model.ProcessedEvent, error) {
	var events []*model.ProcessedEvent
	err := r.db.Where("processed = ? AND attempts < ? AND created_at < ?", false, maxAttempts, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// ListDead 列出已达到重试上限仍未处理成功的事件
func (r *EventRepository) ListDead(maxAttempts int, limit int) ([]*model.ProcessedEvent, error) {
	var events []*model.ProcessedEvent
	err := r.db.Where("processed = ? AND attempts >= ?", false, maxAttempts).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
