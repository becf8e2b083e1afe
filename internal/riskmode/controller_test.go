package riskmode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/life2you_mini/signalbot/internal/config"
)

func newTestController(t *testing.T) *Controller {
	return NewController(config.GetDefaultConfig(), zaptest.NewLogger(t))
}

func TestPreview_DoesNotTransition(t *testing.T) {
	c := newTestController(t)

	// 只读查询返回会发生的模式但不改变控制器状态
	assert.Equal(t, ModeStopped, c.Preview(Inputs{DailyLossUsed: 1.0}))
	assert.Equal(t, ModeNormal, c.Mode())

	// 随后的正常求值不受之前的查询影响
	assert.Equal(t, ModeFinalPush, c.Evaluate(Inputs{ProgressToTarget: 0.85}))

	// 进入Stopped后查询同样保持粘滞语义
	c.Evaluate(Inputs{DailyLossUsed: 1.0})
	assert.Equal(t, ModeStopped, c.Preview(Inputs{}))
	assert.Equal(t, ModeStopped, c.Mode())
}

func TestEvaluate_Transitions(t *testing.T) {
	tests := []struct {
		name     string
		in       Inputs
		expected Mode
	}{
		{
			name:     "默认Normal",
			in:       Inputs{},
			expected: ModeNormal,
		},
		{
			name:     "进度80%进入FinalPush",
			in:       Inputs{ProgressToTarget: 0.80},
			expected: ModeFinalPush,
		},
		{
			name:     "回撤占用80%进入Recovery",
			in:       Inputs{DrawdownUsed: 0.80},
			expected: ModeRecovery,
		},
		{
			name:     "回撤优先于利润冲刺",
			in:       Inputs{ProgressToTarget: 0.90, DrawdownUsed: 0.85},
			expected: ModeRecovery,
		},
		{
			name:     "日亏损击穿进入Stopped",
			in:       Inputs{DailyLossUsed: 1.0},
			expected: ModeStopped,
		},
		{
			name:     "回撤击穿进入Stopped",
			in:       Inputs{DrawdownUsed: 1.0, ProgressToTarget: 0.95},
			expected: ModeStopped,
		},
		{
			name:     "注资账户早期Conservative",
			in:       Inputs{IsFunded: true, MonthsFunded: 1},
			expected: ModeConservative,
		},
		{
			name:     "注资满3个月进入Growth",
			in:       Inputs{IsFunded: true, MonthsFunded: 3},
			expected: ModeGrowth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController(t)
			assert.Equal(t, tt.expected, c.Evaluate(tt.in))
		})
	}
}

func TestStopped_StickyUntilReset(t *testing.T) {
	c := newTestController(t)

	assert.Equal(t, ModeStopped, c.Evaluate(Inputs{DailyLossUsed: 1.0}))

	// 当日内指标恢复也不离开Stopped
	assert.Equal(t, ModeStopped, c.Evaluate(Inputs{}))
	assert.Equal(t, ModeStopped, c.Evaluate(Inputs{ProgressToTarget: 0.9}))

	// 每日重置后按账户指标重算
	assert.Equal(t, ModeNormal, c.OnDailyReset(Inputs{}))
	assert.Equal(t, ModeNormal, c.Mode())
}

func TestOnDailyReset_RecomputesFromMetrics(t *testing.T) {
	c := newTestController(t)
	c.Evaluate(Inputs{DrawdownUsed: 1.0})
	assert.Equal(t, ModeStopped, c.Mode())

	// 重置后回撤仍然偏高，直接进入Recovery而非Normal
	assert.Equal(t, ModeRecovery, c.OnDailyReset(Inputs{DrawdownUsed: 0.85}))
}

func TestActiveProfile(t *testing.T) {
	c := newTestController(t)

	name, profile, err := c.ActiveProfile()
	assert.NoError(t, err)
	assert.Equal(t, config.ProfileNormal, name)
	assert.Equal(t, 0.015, profile.RiskFraction)

	c.Evaluate(Inputs{ProgressToTarget: 0.85})
	name, profile, err = c.ActiveProfile()
	assert.NoError(t, err)
	assert.Equal(t, config.ProfileFinalPush, name)
	assert.Equal(t, 3.0, profile.MinRewardRisk)

	// Stopped 无对应风险参数
	c.Evaluate(Inputs{DailyLossUsed: 1.0})
	_, _, err = c.ActiveProfile()
	assert.Error(t, err)
}

func TestInputsFromAccount(t *testing.T) {
	cfg := config.GetDefaultConfig()

	// 余额10800：进度80%；峰值11000：回撤200/600
	in := InputsFromAccount(10800, 10000, 11000, 100, false, 0, cfg)
	assert.InDelta(t, 0.80, in.ProgressToTarget, 1e-9)
	assert.InDelta(t, 0.2, in.DailyLossUsed, 1e-9)
	assert.InDelta(t, 200.0/600.0, in.DrawdownUsed, 1e-9)
}
