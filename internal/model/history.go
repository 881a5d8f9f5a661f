package model

import (
	"time"
)

// TaskHistory 任务结算历史
// 每次结算成功追加一条，终身不修改；request_no 唯一索引兜底幂等，
// 同一结算请求重复提交时在这里被拦截。
type TaskHistory struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestNo         string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_no"` // 幂等ID，客户端生成
	UserID            int64     `gorm:"index;not null" json:"user_id"`
	MembershipID      string    `gorm:"type:varchar(32);index;not null" json:"membership_id"`
	TaskID            int64     `gorm:"index;not null" json:"task_id"`
	TaskNo            string    `gorm:"type:varchar(64);not null" json:"task_no"`
	CampaignID        int64     `gorm:"not null;default:0" json:"campaign_id"`
	TaskNumber        int       `gorm:"not null" json:"task_number"`
	TaskCommission    float64   `gorm:"type:decimal(15,2);not null;default:0" json:"task_commission"`
	TaskPrice         float64   `gorm:"type:decimal(15,2);not null;default:0" json:"task_price"`
	EstimatedNegative float64   `gorm:"type:decimal(15,2);not null;default:0" json:"estimated_negative"`
	Payout            float64   `gorm:"type:decimal(15,2);not null" json:"payout"`
	HasGoldenEgg      bool      `gorm:"not null;default:0" json:"has_golden_egg"`
	SelectedEgg       *int      `json:"selected_egg"` // 黄金蛋任务用户选中的蛋，纯展示用
	BalanceBefore     float64   `gorm:"type:decimal(15,2);not null" json:"balance_before"`
	BalanceAfter      float64   `gorm:"type:decimal(15,2);not null" json:"balance_after"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (TaskHistory) TableName() string {
	return "task_history"
}
