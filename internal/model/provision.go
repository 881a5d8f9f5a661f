package model

// ProvisionedTask 派发结果
// 预分配任务与池合成任务在派发时就归一成这一个形状，
// 下游结算不再区分两种 payload 的字段差异，只看 Source 标签。
// 池任务的金额在派发时即已固定，结算阶段不允许客户端改写。
type ProvisionedTask struct {
	ProvisionNo       string  `json:"provision_no"` // 池任务的派发凭证，结算时校验
	Source            string  `json:"source"`       // PREASSIGNED / POOL
	TaskID            int64   `json:"task_id"`      // 预分配任务的任务ID，池任务为0
	CampaignID        int64   `json:"campaign_id"`  // 池任务关联的活动ID，预分配任务为0
	CampaignName      string  `json:"campaign_name,omitempty"`
	TaskNumber        int     `json:"task_number"`
	TaskCommission    float64 `json:"task_commission"`
	TaskPrice         float64 `json:"task_price"`
	EstimatedNegative float64 `json:"estimated_negative"`
	HasGoldenEgg      bool    `json:"has_golden_egg"`
}

// Payout 与 Task.Payout 同口径
func (p *ProvisionedTask) Payout() float64 {
	return p.TaskCommission + p.TaskPrice + p.EstimatedNegative
}
