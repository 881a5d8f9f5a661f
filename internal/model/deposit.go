package model

import (
	"time"
)

const (
	DepositStatusPending  = "PENDING"
	DepositStatusApproved = "APPROVED"
	DepositStatusRejected = "REJECTED"
)

// 充值单一旦审批即为终态，重复审批必须被拒绝
var validDepositTransitions = map[string][]string{
	DepositStatusPending: {DepositStatusApproved, DepositStatusRejected},
}

func DepositCanTransitionTo(currentStatus, targetStatus string) bool {
	for _, s := range validDepositTransitions[currentStatus] {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Deposit 充值单
// 用户提交后为 PENDING，只有管理员审批能使其进入终态；
// 审批通过时可能触发负余额回收（见 reconcile 服务）。
type Deposit struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	DepositNo    string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"deposit_no"`
	UserID       int64      `gorm:"index;not null" json:"user_id"`
	MembershipID string     `gorm:"type:varchar(32);index;not null" json:"membership_id"`
	Amount       float64    `gorm:"type:decimal(15,2);not null" json:"amount"`
	Status       string     `gorm:"type:varchar(20);index;not null;default:'PENDING'" json:"status"`
	AdminNotes   string     `gorm:"type:varchar(256)" json:"admin_notes"`
	SubmittedAt  time.Time  `gorm:"not null" json:"submitted_at"`
	ProcessedAt  *time.Time `json:"processed_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Deposit) TableName() string {
	return "deposit"
}
