package task

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobSucceeded JobStatus = "SUCCEEDED"
	JobFailed    JobStatus = "FAILED"
	// JobSkipped marks a run that found nothing to do, e.g. a leased campaign.
	JobSkipped JobStatus = "SKIPPED"
)

// Job is the execution record of one triggered run.
type Job struct {
	ID          string         `gorm:"column:id;primaryKey;type:varchar(64)"`
	TaskID      string         `gorm:"column:task_id;type:varchar(64);index"`
	Type        string         `gorm:"column:type;type:varchar(64);index;not null"`
	Reference   string         `gorm:"column:reference;type:varchar(64);index"`
	Status      JobStatus      `gorm:"column:status;type:varchar(20);not null;default:'PENDING'"`
	ErrorMsg    string         `gorm:"column:error_msg;type:text"`
	Attempts    int            `gorm:"column:attempts;not null;default:0"`
	StartedAt   *time.Time     `gorm:"column:started_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at"`
	CreatedAt   time.Time      `gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime"`
	Metadata    datatypes.JSON `gorm:"column:metadata"`
}
