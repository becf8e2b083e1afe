package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Account      AccountConfig          `mapstructure:"account"`
	RiskProfiles map[string]RiskProfile `mapstructure:"risk_profiles"`
	Leverage     LeverageConfig         `mapstructure:"leverage"`
	Exit         ExitConfig             `mapstructure:"exit"`
	Signal       SignalConfig           `mapstructure:"signal"`
	Feed         FeedConfig             `mapstructure:"feed"`
	System       SystemConfig           `mapstructure:"system"`
	Redis        RedisConfig            `mapstructure:"redis"`
}

// AccountConfig 账户与风控限额配置
type AccountConfig struct {
	InitialBalance       float64 `mapstructure:"initial_balance"`
	ProfitTargetFraction float64 `mapstructure:"profit_target_fraction"`  // 评估目标，默认 0.10
	MaxDailyLossFraction float64 `mapstructure:"max_daily_loss_fraction"` // 日亏损上限，默认 0.05
	MaxDrawdownFraction  float64 `mapstructure:"max_drawdown_fraction"`   // 最大回撤上限，默认 0.06
	DailyResetHourUTC    int     `mapstructure:"daily_reset_hour_utc"`    // 日界 UTC 小时，默认 0
	DailyResetMinuteUTC  int     `mapstructure:"daily_reset_minute_utc"`  // 日界 UTC 分钟，默认 30
	GrowthAfterMonths    int     `mapstructure:"growth_after_months"`     // Conservative 转 Growth 的盈利月数
	IsFunded             bool    `mapstructure:"is_funded"`
	MonthsFunded         int     `mapstructure:"months_funded"`
}

// RiskProfile 风险模式参数
// 五个规范模式：normal, final_push, conservative, growth, recovery
type RiskProfile struct {
	RiskFraction    float64  `mapstructure:"risk_fraction"`
	MaxTradesPerDay int      `mapstructure:"max_trades_per_day"`
	MinRewardRisk   float64  `mapstructure:"min_reward_risk"`
	MinConfluence   int      `mapstructure:"min_confluence"`
	AllowedSymbols  []string `mapstructure:"allowed_symbols"`
	SizeMultiplier  float64  `mapstructure:"size_multiplier"`
}

// LeverageConfig 按交易对类别的杠杆上限
type LeverageConfig struct {
	MajorSymbols []string `mapstructure:"major_symbols"` // BTC/ETH 类
	MaxMajor     float64  `mapstructure:"max_major"`     // 默认 5x
	MaxOther     float64  `mapstructure:"max_other"`     // 默认 2x
}

// TierConfig 默认分批止盈档位
type TierConfig struct {
	ProfitFraction float64 `mapstructure:"profit_fraction"`
	SizeFraction   float64 `mapstructure:"size_fraction"`
}

// ExitConfig 退出管理配置
type ExitConfig struct {
	DefaultTiers  []TierConfig  `mapstructure:"default_tiers"`
	Activation    float64       `mapstructure:"activation"`     // 追踪激活盈利比例
	TrailDistance float64       `mapstructure:"trail_distance"` // 追踪回撤距离
	MinExitFloor  float64       `mapstructure:"min_exit_floor"` // 利润保护地板
	MaxHoldTime   time.Duration `mapstructure:"max_hold_time"`  // 最大持仓时间
}

// SignalConfig 信号接入配置
type SignalConfig struct {
	Sources         []string      `mapstructure:"sources"`
	DuplicateWindow time.Duration `mapstructure:"duplicate_window"` // 重复信号判定窗口
	DuplicateMargin float64       `mapstructure:"duplicate_margin"` // 入场价接近判定比例
}

// FeedConfig 行情接入配置
// exchange 支持 binance、okx、bitget，passphrase 仅 okx/bitget 需要
type FeedConfig struct {
	Exchange      string        `mapstructure:"exchange"`
	APIKey        string        `mapstructure:"api_key"`
	APISecret     string        `mapstructure:"api_secret"`
	APIPassphrase string        `mapstructure:"api_passphrase"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
}

// SystemConfig 系统配置
type SystemConfig struct {
	LogLevel string `mapstructure:"log_level"`
	LogDir   string `mapstructure:"log_dir"`
	DataDir  string `mapstructure:"data_dir"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// 规范风险模式名称
const (
	ProfileNormal       = "normal"
	ProfileFinalPush    = "final_push"
	ProfileConservative = "conservative"
	ProfileGrowth       = "growth"
	ProfileRecovery     = "recovery"
)

// LoadConfig 从文件加载配置
func LoadConfig(filePath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filePath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 绑定环境变量，如 SIGNALBOT_REDIS_PASSWORD
	v.AutomaticEnv()
	v.SetEnvPrefix("SIGNALBOT")

	// 特定环境变量映射，存在时优先使用
	if apiKey := os.Getenv("EXCHANGE_API_KEY"); apiKey != "" {
		v.Set("feed.api_key", apiKey)
	}
	if apiSecret := os.Getenv("EXCHANGE_API_SECRET"); apiSecret != "" {
		v.Set("feed.api_secret", apiSecret)
	}
	if passphrase := os.Getenv("EXCHANGE_API_PASSPHRASE"); passphrase != "" {
		v.Set("feed.api_passphrase", passphrase)
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		v.Set("redis.password", redisPassword)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &config, nil
}

// validateConfig 验证配置有效性
func validateConfig(config *Config) error {
	if config.Account.InitialBalance <= 0 {
		return fmt.Errorf("初始余额必须大于0")
	}

	if config.Account.MaxDailyLossFraction <= 0 || config.Account.MaxDailyLossFraction >= 1 {
		return fmt.Errorf("日亏损上限比例必须在0到1之间")
	}

	if config.Account.MaxDrawdownFraction <= 0 || config.Account.MaxDrawdownFraction >= 1 {
		return fmt.Errorf("最大回撤比例必须在0到1之间")
	}

	if config.Account.DailyResetHourUTC < 0 || config.Account.DailyResetHourUTC > 23 {
		return fmt.Errorf("无效的日界小时")
	}

	if config.Account.DailyResetMinuteUTC < 0 || config.Account.DailyResetMinuteUTC > 59 {
		return fmt.Errorf("无效的日界分钟")
	}

	// 五个规范模式必须全部配置
	required := []string{ProfileNormal, ProfileFinalPush, ProfileConservative, ProfileGrowth, ProfileRecovery}
	for _, name := range required {
		profile, ok := config.RiskProfiles[name]
		if !ok {
			return fmt.Errorf("缺少风险模式配置: %s", name)
		}
		if profile.RiskFraction <= 0 || profile.RiskFraction >= 1 {
			return fmt.Errorf("风险模式 %s 的单笔风险比例必须在0到1之间", name)
		}
		if profile.MaxTradesPerDay <= 0 {
			return fmt.Errorf("风险模式 %s 的每日交易次数上限必须大于0", name)
		}
		if len(profile.AllowedSymbols) == 0 {
			return fmt.Errorf("风险模式 %s 的交易对白名单不能为空", name)
		}
	}

	if config.Leverage.MaxMajor <= 0 || config.Leverage.MaxOther <= 0 {
		return fmt.Errorf("杠杆上限必须大于0")
	}

	// 默认档位比例之和必须为1，目标距离必须严格递增
	if len(config.Exit.DefaultTiers) > 0 {
		var sum float64
		prev := 0.0
		for i, tier := range config.Exit.DefaultTiers {
			if tier.ProfitFraction <= prev {
				return fmt.Errorf("止盈档位目标必须严格递增，第%d档为 %.4f", i+1, tier.ProfitFraction)
			}
			if tier.SizeFraction <= 0 {
				return fmt.Errorf("止盈档位比例必须大于0，第%d档为 %.4f", i+1, tier.SizeFraction)
			}
			prev = tier.ProfitFraction
			sum += tier.SizeFraction
		}
		if sum < 0.999 || sum > 1.001 {
			return fmt.Errorf("默认止盈档位比例之和必须为1.0，当前为 %.4f", sum)
		}
	}

	// 追踪止损参数必须能构成有效退出计划
	if config.Exit.Activation <= 0 {
		return fmt.Errorf("追踪激活比例必须大于0")
	}
	if config.Exit.TrailDistance <= 0 {
		return fmt.Errorf("追踪回撤距离必须大于0")
	}
	if config.Exit.MinExitFloor < 0 {
		return fmt.Errorf("利润保护地板不能为负")
	}
	if config.Exit.MaxHoldTime <= 0 {
		return fmt.Errorf("最大持仓时间必须大于0")
	}

	if config.Redis.Host == "" {
		return fmt.Errorf("Redis主机不能为空")
	}

	if config.Redis.Port <= 0 || config.Redis.Port > 65535 {
		return fmt.Errorf("无效的Redis端口")
	}

	return nil
}

// GetDefaultConfig 获取默认配置（用于生成示例配置）
// 五个模式的默认参数来自实盘评估期的标定
func GetDefaultConfig() *Config {
	return &Config{
		Account: AccountConfig{
			InitialBalance:       10000.0,
			ProfitTargetFraction: 0.10,
			MaxDailyLossFraction: 0.05,
			MaxDrawdownFraction:  0.06,
			DailyResetHourUTC:    0,
			DailyResetMinuteUTC:  30,
			GrowthAfterMonths:    3,
		},
		RiskProfiles: map[string]RiskProfile{
			ProfileNormal: {
				RiskFraction:    0.015,
				MaxTradesPerDay: 3,
				MinRewardRisk:   1.5,
				MinConfluence:   2,
				AllowedSymbols:  []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "DOTUSDT", "ADAUSDT"},
				SizeMultiplier:  1.0,
			},
			ProfileFinalPush: {
				RiskFraction:    0.005,
				MaxTradesPerDay: 2,
				MinRewardRisk:   3.0,
				MinConfluence:   4,
				AllowedSymbols:  []string{"BTCUSDT", "SOLUSDT", "DOTUSDT"},
				SizeMultiplier:  0.33,
			},
			ProfileConservative: {
				RiskFraction:    0.0075,
				MaxTradesPerDay: 2,
				MinRewardRisk:   2.0,
				MinConfluence:   3,
				AllowedSymbols:  []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "DOTUSDT"},
				SizeMultiplier:  0.5,
			},
			ProfileGrowth: {
				RiskFraction:    0.01,
				MaxTradesPerDay: 3,
				MinRewardRisk:   2.0,
				MinConfluence:   2,
				AllowedSymbols:  []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "DOTUSDT", "ADAUSDT"},
				SizeMultiplier:  0.75,
			},
			ProfileRecovery: {
				RiskFraction:    0.0025,
				MaxTradesPerDay: 1,
				MinRewardRisk:   4.0,
				MinConfluence:   5,
				AllowedSymbols:  []string{"BTCUSDT"},
				SizeMultiplier:  0.2,
			},
		},
		Leverage: LeverageConfig{
			MajorSymbols: []string{"BTCUSDT", "ETHUSDT"},
			MaxMajor:     5.0,
			MaxOther:     2.0,
		},
		Exit: ExitConfig{
			DefaultTiers: []TierConfig{
				{ProfitFraction: 0.05, SizeFraction: 0.5},
				{ProfitFraction: 0.07, SizeFraction: 0.3},
				{ProfitFraction: 0.10, SizeFraction: 0.2},
			},
			Activation:    0.045,
			TrailDistance: 0.015,
			MinExitFloor:  0.035,
			MaxHoldTime:   168 * time.Hour,
		},
		Signal: SignalConfig{
			Sources:         []string{"telegram"},
			DuplicateWindow: 1 * time.Hour,
			DuplicateMargin: 0.01,
		},
		Feed: FeedConfig{
			Exchange:     "binance",
			PollInterval: 5 * time.Second,
		},
		System: SystemConfig{
			LogLevel: "INFO",
			LogDir:   "./logs",
			DataDir:  "./data",
		},
		Redis: RedisConfig{
			Host:      "localhost",
			Port:      6379,
			Password:  "",
			DB:        0,
			KeyPrefix: "signal_bot:",
		},
	}
}
