package model

import (
	"time"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusProcessing TaskStatus = "processing" // 处理中
	TaskStatusCompleted  TaskStatus = "completed"  // 已完成
	TaskStatusError      TaskStatus = "error"      // 处理失败
	TaskStatusFailed     TaskStatus = "failed"     // 进程重启后被恢复扫描标记的失败
)

// IsTerminal 判断状态是否为终态，终态之间不再迁移
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusError || s == TaskStatusFailed
}

// Task 抠像任务模型
type Task struct {
	TaskID       string     `json:"taskId" gorm:"primaryKey;size:64"`
	Status       TaskStatus `json:"status" gorm:"size:20;default:processing;index;comment:任务状态"`
	DownloadLink *string    `json:"downloadLink,omitempty" gorm:"size:255;comment:产物下载地址，仅完成状态有值"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName 指定表名
func (Task) TableName() string {
	return "tasks"
}
