package models

import (
	"time"

	"gorm.io/datatypes"
)

// PipelineRun 流水线运行审计记录，每次状态变化覆盖同一行
type PipelineRun struct {
	RunID         string         `gorm:"type:char(36);primaryKey"`
	JDID          string         `gorm:"type:char(36);not null;index:idx_pipeline_runs_jd_id"`
	Status        string         `gorm:"type:varchar(32);not null;index:idx_pipeline_runs_status"`
	ResumeCount   int            `gorm:"default:0"`
	ApprovedCount int            `gorm:"default:0"`
	EmailCount    int            `gorm:"default:0"`
	ErrorMessage  string         `gorm:"type:text"`
	Snapshot      datatypes.JSON `gorm:"type:json"`
	CreatedAt     time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt     time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (PipelineRun) TableName() string {
	return "pipeline_runs"
}
