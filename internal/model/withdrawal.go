package model

import (
	"time"
)

const (
	WithdrawalStatusPending    = "PENDING"
	WithdrawalStatusProcessing = "PROCESSING"
	WithdrawalStatusCompleted  = "COMPLETED"
	WithdrawalStatusRejected   = "REJECTED"
)

var validWithdrawalTransitions = map[string][]string{
	WithdrawalStatusPending:    {WithdrawalStatusProcessing, WithdrawalStatusRejected},
	WithdrawalStatusProcessing: {WithdrawalStatusCompleted, WithdrawalStatusRejected},
}

func WithdrawalCanTransitionTo(currentStatus, targetStatus string) bool {
	for _, s := range validWithdrawalTransitions[currentStatus] {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Withdrawal 提现单
// 创建时立即从余额扣款（资金进入在途，不是已打款），后续由管理员推进状态。
// 驳回不会自动退回余额，资金修正只能走管理员调整接口。
type Withdrawal struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	WithdrawalNo   string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"withdrawal_no"`
	UserID         int64      `gorm:"index;not null" json:"user_id"`
	MembershipID   string     `gorm:"type:varchar(32);index;not null" json:"membership_id"`
	Amount         float64    `gorm:"type:decimal(15,2);not null" json:"amount"`
	Method         string     `gorm:"type:varchar(32);not null" json:"method"`
	AccountDetails string     `gorm:"type:varchar(256)" json:"account_details"`
	Status         string     `gorm:"type:varchar(20);index;not null;default:'PENDING'" json:"status"`
	SubmittedAt    time.Time  `gorm:"not null" json:"submitted_at"`
	ProcessedAt    *time.Time `json:"processed_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Withdrawal) TableName() string {
	return "withdrawal"
}
