package model

import (
	"encoding/json"
	"time"
)

const (
	CampaignStatusActive   = "ACTIVE"
	CampaignStatusInactive = "INACTIVE"
)

// User 用户账务表
// 记录用户的余额、任务进度和负余额冻结状态，是整个对账引擎的核心数据。
// 所有写操作必须走 repository 的乐观锁更新（version 字段），
// 并且在 service 层持有该用户的分布式锁。
type User struct {
	ID                 int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	MembershipID       string     `gorm:"type:varchar(32);uniqueIndex;not null" json:"membership_id"` // 会员编号，用于关联预分配任务
	AccountBalance     float64    `gorm:"type:decimal(15,2);not null;default:0" json:"account_balance"`
	TrialBalance       float64    `gorm:"type:decimal(15,2);not null;default:0" json:"trial_balance"` // 体验金，不可提现
	TotalEarnings      float64    `gorm:"type:decimal(15,2);not null;default:0" json:"total_earnings"`
	CampaignCommission float64    `gorm:"type:decimal(15,2);not null;default:0" json:"campaign_commission"`
	WithdrawalBalance  float64    `gorm:"type:decimal(15,2);not null;default:0" json:"withdrawal_balance"` // 解冻后用于展示/提现上限
	CampaignsCompleted int        `gorm:"not null;default:0" json:"campaigns_completed"`
	CampaignSet        string     `gorm:"type:varchar(255);not null;default:'[1]'" json:"campaign_set"` // JSON 数组，如 [1,2,3]
	DepositCount       int        `gorm:"not null;default:0" json:"deposit_count"`
	HoldAmount         float64    `gorm:"type:decimal(15,2);not null;default:0" json:"hold_amount"`         // 冻结金额，只能由充值回收或管理员显式清除
	NegativeCommission float64    `gorm:"type:decimal(15,2);not null;default:0" json:"negative_commission"` // 待回收的亏损金额，回收成功后清零
	AllowTask          bool       `gorm:"not null;default:1" json:"allow_task"`
	LastNegativeTime   *time.Time `json:"last_negative_time"`
	WithdrawPassword   string     `gorm:"type:varchar(255)" json:"-"` // bcrypt 哈希，只允许设置一次
	DocumentsVerified  bool       `gorm:"not null;default:0" json:"documents_verified"`
	CampaignStatus     string     `gorm:"type:varchar(16);not null;default:'ACTIVE'" json:"campaign_status"`
	Version            int        `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "user"
}

// CampaignSetList 解析 campaign_set 字段，解析失败时回退为 [1]
func (u *User) CampaignSetList() []int {
	var set []int
	if err := json.Unmarshal([]byte(u.CampaignSet), &set); err != nil || len(set) == 0 {
		return []int{1}
	}
	return set
}

// SetCampaignSet 序列化写回 campaign_set 字段
func (u *User) SetCampaignSet(set []int) {
	if len(set) == 0 {
		set = []int{1}
	}
	data, _ := json.Marshal(set)
	u.CampaignSet = string(data)
}
