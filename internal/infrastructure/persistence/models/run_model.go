package models

import (
	"time"
)

// RunModel 运行归档模型
type RunModel struct {
	ID             string `gorm:"primaryKey;size:64"`
	RunDir         string `gorm:"size:255;not null"`
	Goal           string `gorm:"type:text"`
	StopReason     string `gorm:"size:32"`
	TotalCost      float64
	TasksTotal     int
	TasksCompleted int
	TasksFailed    int
	Branch         string `gorm:"size:128"`
	PRURL          string `gorm:"size:255"`
	StartedAt      time.Time
	FinishedAt     time.Time
	CreatedAt      time.Time
}

// TableName 指定表名
func (RunModel) TableName() string {
	return "runs"
}

// TaskModel 任务归档模型
type TaskModel struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	RunID            string `gorm:"index;size:64;not null"`
	TaskID           string `gorm:"size:16;not null"`
	Title            string `gorm:"size:255"`
	Kind             string `gorm:"size:16"`
	Status           string `gorm:"size:16"`
	Phase            string `gorm:"size:16"`
	WinnerStrategy   string `gorm:"size:32"`
	ConvergenceRatio float64
	CreatedAt        time.Time
}

// TableName 指定表名
func (TaskModel) TableName() string {
	return "run_tasks"
}
