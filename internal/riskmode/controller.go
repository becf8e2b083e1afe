package riskmode

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/life2you_mini/signalbot/internal/config"
)

// Mode 风险模式状态
type Mode string

const (
	ModeNormal       Mode = "NORMAL"
	ModeFinalPush    Mode = "FINAL_PUSH"
	ModeConservative Mode = "CONSERVATIVE"
	ModeGrowth       Mode = "GROWTH"
	ModeRecovery     Mode = "RECOVERY"
	ModeStopped      Mode = "STOPPED"
)

// FinalPush 触发的利润进度阈值
const finalPushProgress = 0.80

// Recovery 触发的回撤占用阈值（相对回撤限额）
const recoveryDrawdownUsed = 0.80

// Inputs 状态机转移输入，全部由账户快照推导
type Inputs struct {
	ProgressToTarget float64 // 利润目标完成比例
	DailyLossUsed    float64 // 当日亏损敞口 / 日亏损限额
	DrawdownUsed     float64 // 当前回撤 / 回撤限额
	IsFunded         bool
	MonthsFunded     int
}

// rule 转移规则，按优先级顺序求值，第一条命中生效
type rule struct {
	name string
	when func(in Inputs) bool
	to   Mode
}

// Controller 风险模式控制器
// 每个信号到达时查询一次，只读账户指标，不修改账户状态
type Controller struct {
	mu     sync.Mutex
	logger *zap.Logger
	cfg    *config.Config
	mode   Mode
	rules  []rule
}

// NewController 创建控制器，初始模式 Normal
func NewController(cfg *config.Config, logger *zap.Logger) *Controller {
	c := &Controller{
		logger: logger.With(zap.String("component", "riskmode")),
		cfg:    cfg,
		mode:   ModeNormal,
	}
	growthMonths := cfg.Account.GrowthAfterMonths
	c.rules = []rule{
		{
			name: "日亏损或回撤限额击穿",
			when: func(in Inputs) bool { return in.DailyLossUsed >= 1.0 || in.DrawdownUsed >= 1.0 },
			to:   ModeStopped,
		},
		{
			name: "回撤接近限额",
			when: func(in Inputs) bool { return in.DrawdownUsed >= recoveryDrawdownUsed },
			to:   ModeRecovery,
		},
		{
			name: "利润目标冲刺",
			when: func(in Inputs) bool { return in.ProgressToTarget >= finalPushProgress },
			to:   ModeFinalPush,
		},
		{
			name: "注资账户成长期",
			when: func(in Inputs) bool { return in.IsFunded && in.MonthsFunded >= growthMonths },
			to:   ModeGrowth,
		},
		{
			name: "注资账户保守期",
			when: func(in Inputs) bool { return in.IsFunded },
			to:   ModeConservative,
		},
		{
			name: "默认",
			when: func(in Inputs) bool { return true },
			to:   ModeNormal,
		},
	}
	return c
}

// Evaluate 根据输入求值转移表并返回当前模式
// Stopped 在当日内粘滞：进入后直到每日重置前不再离开
func (c *Controller) Evaluate(in Inputs) Mode {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == ModeStopped {
		return c.mode
	}
	c.apply(in)
	return c.mode
}

// Preview 对给定输入求值转移表但不改变控制器状态
// 只读查询（状态报告等）使用，Stopped 粘滞规则与 Evaluate 一致
func (c *Controller) Preview(in Inputs) Mode {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == ModeStopped {
		return ModeStopped
	}
	for _, r := range c.rules {
		if r.when(in) {
			return r.to
		}
	}
	return c.mode
}

// OnDailyReset 每日重置时解除 Stopped 粘滞，按当前账户指标强制重算
func (c *Controller) OnDailyReset(in Inputs) Mode {
	c.mu.Lock()
	defer c.mu.Unlock()

	previous := c.mode
	c.mode = ModeNormal
	c.apply(in)
	if previous == ModeStopped {
		c.logger.Info("每日重置解除停止状态",
			zap.String("from", string(previous)),
			zap.String("to", string(c.mode)))
	}
	return c.mode
}

// Mode 返回当前模式
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// ActiveProfile 返回当前模式对应的风险参数
// Stopped 没有参数：调用方必须先检查模式再取参数
func (c *Controller) ActiveProfile() (string, config.RiskProfile, error) {
	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()

	name, ok := profileNameFor(mode)
	if !ok {
		return "", config.RiskProfile{}, fmt.Errorf("模式 %s 无可用风险参数", mode)
	}
	profile, ok := c.cfg.RiskProfiles[name]
	if !ok {
		return "", config.RiskProfile{}, fmt.Errorf("缺少风险模式配置: %s", name)
	}
	return name, profile, nil
}

func (c *Controller) apply(in Inputs) {
	for _, r := range c.rules {
		if r.when(in) {
			if c.mode != r.to {
				c.logger.Info("风险模式切换",
					zap.String("from", string(c.mode)),
					zap.String("to", string(r.to)),
					zap.String("rule", r.name),
					zap.Float64("progress", in.ProgressToTarget),
					zap.Float64("daily_loss_used", in.DailyLossUsed),
					zap.Float64("drawdown_used", in.DrawdownUsed))
				c.mode = r.to
			}
			return
		}
	}
}

// profileNameFor 模式到配置档案名的映射
func profileNameFor(mode Mode) (string, bool) {
	switch mode {
	case ModeNormal:
		return config.ProfileNormal, true
	case ModeFinalPush:
		return config.ProfileFinalPush, true
	case ModeConservative:
		return config.ProfileConservative, true
	case ModeGrowth:
		return config.ProfileGrowth, true
	case ModeRecovery:
		return config.ProfileRecovery, true
	default:
		return "", false
	}
}

// InputsFromAccount 由账户指标构造转移输入
func InputsFromAccount(balance, initialBalance, peakBalance, dayLoss float64,
	isFunded bool, monthsFunded int, cfg *config.Config) Inputs {

	profitTarget := initialBalance * cfg.Account.ProfitTargetFraction
	dailyLossLimit := initialBalance * cfg.Account.MaxDailyLossFraction
	drawdownLimit := initialBalance * cfg.Account.MaxDrawdownFraction

	var progress float64
	if profitTarget > 0 && balance > initialBalance {
		progress = (balance - initialBalance) / profitTarget
	}
	var dailyLossUsed float64
	if dailyLossLimit > 0 {
		dailyLossUsed = dayLoss / dailyLossLimit
	}
	var drawdownUsed float64
	if drawdownLimit > 0 && peakBalance > balance {
		drawdownUsed = (peakBalance - balance) / drawdownLimit
	}

	return Inputs{
		ProgressToTarget: progress,
		DailyLossUsed:    dailyLossUsed,
		DrawdownUsed:     drawdownUsed,
		IsFunded:         isFunded,
		MonthsFunded:     monthsFunded,
	}
}
