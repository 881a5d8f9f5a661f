package commission

import (
	"math"
	"math/rand"
)

// ============================================================================
// 佣金档位计算
// ============================================================================
//
// 纯函数，无任何状态。派发和结算都会反复调用，
// 同一余额必须永远得到同一档位。
//
// 档位按余额划分，左闭右开，覆盖整条实数轴（负余额落在最低档），
// 佣金随余额单调不减。
// ============================================================================

// Tier 佣金档位
type Tier struct {
	Description string  `json:"description"`
	MinBalance  float64 `json:"min_balance"` // 含
	MaxBalance  float64 `json:"max_balance"` // 不含，+Inf 表示无上界
	Commission  float64 `json:"commission"`
}

var tiers = []Tier{
	{Description: "青铜", MinBalance: math.Inf(-1), MaxBalance: 10000, Commission: 30},
	{Description: "白银", MinBalance: 10000, MaxBalance: 50000, Commission: 80},
	{Description: "黄金", MinBalance: 50000, MaxBalance: 200000, Commission: 200},
	{Description: "铂金", MinBalance: 200000, MaxBalance: 1000000, Commission: 600},
	{Description: "至尊VIP", MinBalance: 1000000, MaxBalance: math.Inf(1), Commission: 2000},
}

// Calculate 按余额返回档位佣金
func Calculate(balance float64) float64 {
	return TierFor(balance).Commission
}

// TierFor 按余额返回所属档位
func TierFor(balance float64) Tier {
	for _, t := range tiers {
		if balance >= t.MinBalance && balance < t.MaxBalance {
			return t
		}
	}
	// 档位表覆盖全实数轴，理论上到不了这里
	return tiers[len(tiers)-1]
}

// Tiers 返回档位表副本（展示用）
func Tiers() []Tier {
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	return out
}

// NewUserCommission 新用户（未充值）佣金
//
// 不走档位表：在 目标奖励/配额 附近均匀随机取值，
// 使得做满 quota 单后累计约等于 targetBonus
// （如 1000 / 30 单 => 每单 33.33 ± spread）
func NewUserCommission(r *rand.Rand, targetBonus float64, quota int, spread float64) float64 {
	if quota <= 0 {
		quota = 30
	}
	perTask := targetBonus / float64(quota)
	low := perTask - spread
	if low < 0 {
		low = 0
	}
	high := perTask + spread
	v := low + r.Float64()*(high-low)
	// 保留两位小数，与余额的 decimal(15,2) 口径一致
	return math.Round(v*100) / 100
}
