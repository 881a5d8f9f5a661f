package model

import (
	"time"
)

const (
	TaskStatusPending   = "PENDING"
	TaskStatusCompleted = "COMPLETED"
	TaskStatusExpired   = "EXPIRED"
)

// 任务来源：预分配任务按 task_number 顺序领取，池任务在派发时临时合成
const (
	TaskSourcePreassigned = "PREASSIGNED"
	TaskSourcePool        = "POOL"
)

// 任务状态只允许单向流转，COMPLETED / EXPIRED 为终态
var validTaskTransitions = map[string][]string{
	TaskStatusPending: {TaskStatusCompleted, TaskStatusExpired},
}

func TaskCanTransitionTo(currentStatus, targetStatus string) bool {
	for _, s := range validTaskTransitions[currentStatus] {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Task 任务表
// 预分配任务由运营提前写入（含黄金蛋任务和设计好的亏损任务）；
// 池任务在结算时才落库，派发阶段不会预写任何行。
type Task struct {
	ID                int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	TaskNo            string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"task_no"`
	MembershipID      string     `gorm:"type:varchar(32);index;not null" json:"membership_id"`
	CampaignID        int64      `gorm:"index;not null;default:0" json:"campaign_id"` // 池任务关联的活动ID，预分配任务为0
	Source            string     `gorm:"type:varchar(16);not null" json:"source"`
	TaskNumber        int        `gorm:"not null" json:"task_number"` // 1-based，每用户独立的序号
	TaskCommission    float64    `gorm:"type:decimal(15,2);not null;default:0" json:"task_commission"`
	TaskPrice         float64    `gorm:"type:decimal(15,2);not null;default:0" json:"task_price"`
	EstimatedNegative float64    `gorm:"type:decimal(15,2);not null;default:0" json:"estimated_negative"` // 负数表示设计好的亏损
	HasGoldenEgg      bool       `gorm:"not null;default:0" json:"has_golden_egg"`
	Status            string     `gorm:"type:varchar(20);index;not null" json:"status"`
	ExpiredAt         *time.Time `json:"expired_at"`
	CompletedAt       *time.Time `json:"completed_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Task) TableName() string {
	return "task"
}

// IsExpired 过期判断，过期状态的落库是惰性的，由下一次读取触发
func (t *Task) IsExpired(now time.Time) bool {
	return t.ExpiredAt != nil && now.After(*t.ExpiredAt)
}

// Payout 结算金额 = 佣金 + 本金 + 预估亏损（三项直接相加，黄金蛋不影响金额）
func (t *Task) Payout() float64 {
	return t.TaskCommission + t.TaskPrice + t.EstimatedNegative
}

// Campaign 共享活动池
// 预分配任务耗尽后，派发器从这里随机挑选用户未完成的活动合成池任务。
type Campaign struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(128);not null" json:"name"`
	Price     float64   `gorm:"type:decimal(15,2);not null;default:0" json:"price"`
	Status    string    `gorm:"type:varchar(16);index;not null;default:'ACTIVE'" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Campaign) TableName() string {
	return "campaign"
}
