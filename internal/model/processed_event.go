package model

import (
	"time"
)

// ProcessedEvent 支付平台推送事件的去重记录，EventID 为去重键
type ProcessedEvent struct {
	ID          int64      `gorm:"primaryKey" json:"id"`
	EventID     string     `gorm:"size:191;not null;uniqueIndex" json:"event_id"`
	EventType   string     `gorm:"size:100;not null;index" json:"event_type"`
	Payload     string     `gorm:"type:longtext" json:"-"`
	Processed   bool       `gorm:"not null;index" json:"processed"`
	Attempts    int        `gorm:"not null" json:"attempts"`
	LastError   string     `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

func (ProcessedEvent) TableName() string {
	return "processed_events"
}
