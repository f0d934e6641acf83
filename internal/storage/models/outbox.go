package models

import "time"

// OutboxMessage 运行状态事件，与 pipeline_runs 审计行在同一事务中写入，由 relay 投递
type OutboxMessage struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	EventID    string `gorm:"type:varchar(36);not null;uniqueIndex"` // 消费端据此去重
	RunID      string `gorm:"type:varchar(36);not null;index"`
	RunStatus  string `gorm:"type:varchar(32);not null"`
	Payload    string `gorm:"type:json;not null"`
	Exchange   string `gorm:"type:varchar(255);not null"`
	RoutingKey string `gorm:"type:varchar(255);not null"`

	Status       string     `gorm:"type:varchar(20);default:'PENDING';not null;index:idx_outbox_status_created_at"`
	RetryCount   int        `gorm:"default:0"`
	CreatedAt    time.Time  `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);index:idx_outbox_status_created_at,sort:asc"`
	ProcessedAt  *time.Time `gorm:"type:datetime(6);null"`
	ErrorMessage string     `gorm:"type:text"`
}

func (OutboxMessage) TableName() string {
	return "outbox_messages"
}
