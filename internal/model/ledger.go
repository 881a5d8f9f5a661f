package model

import (
	"time"
)

// ============================================================================
// 账务流水类型常量
// ============================================================================

const (
	LedgerTypeTaskSettle  = "TASK_SETTLE"  // 任务结算（金额可为负，亏损任务）
	LedgerTypeDeposit     = "DEPOSIT"      // 普通充值入账
	LedgerTypeHoldRecover = "HOLD_RECOVER" // 负余额回收解冻
	LedgerTypeWithdraw    = "WITHDRAW"     // 提现扣款
	LedgerTypeWriteOff    = "WRITE_OFF"    // 超期冻结核销
	LedgerTypeAdminAdjust = "ADMIN_ADJUST" // 管理员修正
)

// ============================================================================
// 账务流水实体
// ============================================================================

// LedgerEntry 账务流水表
// 记录用户余额的每一笔变动，是对账纠纷回溯的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 每笔流水必须关联业务单号（任务号/充值单号/提现单号）—— 便于对账
// 3. 记录交易前后余额 —— 便于校验余额一致性
type LedgerEntry struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"` // 流水号（全局唯一）
	UserID        int64     `gorm:"index;not null" json:"user_id"`
	RefNo         string    `gorm:"type:varchar(64);index;not null" json:"ref_no"` // 关联业务单号
	Amount        float64   `gorm:"type:decimal(15,2);not null" json:"amount"`     // 正数入账，负数出账
	Type          string    `gorm:"type:varchar(20);not null" json:"type"`
	BalanceBefore float64   `gorm:"type:decimal(15,2);not null" json:"balance_before"`
	BalanceAfter  float64   `gorm:"type:decimal(15,2);not null" json:"balance_after"`
	Remark        string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entry"
}
