package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port       int    `mapstructure:"port"`
	JWTSecret  string `mapstructure:"jwt_secret"`
	AdminToken string `mapstructure:"admin_token"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	Settlement string `mapstructure:"settlement"`
	Deposit    string `mapstructure:"deposit"`
	Withdrawal string `mapstructure:"withdrawal"`
}

// BusinessConfig 对账引擎的业务常量
// 新用户 30 单凑满目标奖励、VIP 门槛 100 万、提现配额按档位区分、
// 冻结 30 天未回收则核销。
type BusinessConfig struct {
	NewUserTargetBonus      float64 `mapstructure:"new_user_target_bonus"`      // 新用户目标奖励总额（如 1000）
	NewUserCommissionSpread float64 `mapstructure:"new_user_commission_spread"` // 新用户单笔佣金上下浮动
	TrialTaskCap            int     `mapstructure:"trial_task_cap"`             // 未充值用户任务上限（30）
	CampaignSetSize         int     `mapstructure:"campaign_set_size"`          // 每完成多少单追加一个 set（30）
	VIPBalanceThreshold     float64 `mapstructure:"vip_balance_threshold"`      // VIP 余额门槛（1,000,000）
	VIPTaskQuota            int     `mapstructure:"vip_task_quota"`             // VIP 提现任务配额（92）
	VIPSetBonusTasks        int     `mapstructure:"vip_set_bonus_tasks"`        // 集满三套 set 的抵扣任务数（60）
	StandardTaskQuota       int     `mapstructure:"standard_task_quota"`        // 已充值用户提现配额（90）
	HoldAbandonDays         int     `mapstructure:"hold_abandon_days"`          // 冻结核销窗口（30 天）
	ProvisionTTLMinutes     int     `mapstructure:"provision_ttl_minutes"`      // 池任务派发缓存有效期
	MaxRetryCount           int     `mapstructure:"max_retry_count"`            // outbox 消息最大重试次数
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
