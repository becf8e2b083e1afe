package exit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/life2you_mini/signalbot/internal/model"
)

var baseTime = time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

// defaultPlan 默认三档梯度 + 实盘标定的追踪参数
func defaultPlan() model.ExitPlan {
	return model.ExitPlan{
		Tiers: []model.Tier{
			{ProfitFraction: 0.05, SizeFraction: 0.5},
			{ProfitFraction: 0.07, SizeFraction: 0.3},
			{ProfitFraction: 0.10, SizeFraction: 0.2},
		},
		Trailing: model.TrailingConfig{
			Activation:    0.045,
			TrailDistance: 0.015,
			MinExitFloor:  0.035,
		},
		MaxHoldTime: 168 * time.Hour,
	}
}

// singleTierPlan 单个远档位的计划，用于隔离测试追踪止损路径
func singleTierPlan(trailing model.TrailingConfig) model.ExitPlan {
	return model.ExitPlan{
		Tiers:       []model.Tier{{ProfitFraction: 0.50, SizeFraction: 1.0}},
		Trailing:    trailing,
		MaxHoldTime: 168 * time.Hour,
	}
}

func newPosition(side string, entry, stop float64, plan model.ExitPlan) *model.Position {
	return &model.Position{
		ID:            "pos-000001",
		Symbol:        "BTCUSDT",
		Side:          side,
		EntryPrice:    entry,
		StopLoss:      stop,
		OriginalSize:  10,
		RemainingSize: 10,
		Plan:          plan,
		Status:        model.StatusOpen,
		OpenTime:      baseTime,
	}
}

func TestTracker_TierLadder(t *testing.T) {
	tracker, err := NewTracker(newPosition(model.SideLong, 100, 98, defaultPlan()))
	assert.NoError(t, err)

	// 第一档：105触及5%，成交价为档位目标价
	fills := tracker.OnPrice(105, baseTime.Add(time.Minute))
	assert.Len(t, fills, 1)
	assert.Equal(t, model.ExitReasonTierFill, fills[0].Reason)
	assert.InDelta(t, 105.0, fills[0].Price, 1e-9)
	assert.InDelta(t, 0.5, fills[0].SizeFraction, 1e-9)
	assert.InDelta(t, 5.0, tracker.Position().RemainingSize, 1e-9)
	assert.False(t, tracker.Done())

	// 第二档
	fills = tracker.OnPrice(107, baseTime.Add(2*time.Minute))
	assert.Len(t, fills, 1)
	assert.InDelta(t, 107.0, fills[0].Price, 1e-9)

	// 第三档成交后终结
	fills = tracker.OnPrice(110, baseTime.Add(3*time.Minute))
	assert.Len(t, fills, 1)
	assert.True(t, tracker.Done())

	trade := tracker.Trade()
	assert.NotNil(t, trade)
	assert.Equal(t, model.ExitReasonTierFill, trade.ExitReason)
	// 加权退出价 105×0.5 + 107×0.3 + 110×0.2 = 106.6
	assert.InDelta(t, 106.6, trade.ExitPrice, 1e-9)
	assert.InDelta(t, 66.0, trade.RealizedPnL, 1e-9)
	assert.Equal(t, model.StatusClosed, tracker.Position().Status)
}

func TestTracker_GapEatsMultipleTiers(t *testing.T) {
	tracker, err := NewTracker(newPosition(model.SideLong, 100, 98, defaultPlan()))
	assert.NoError(t, err)

	// 一次跳空越过全部三档，各档仍按目标价结算
	fills := tracker.OnPrice(111, baseTime.Add(time.Minute))
	assert.Len(t, fills, 3)
	assert.InDelta(t, 105.0, fills[0].Price, 1e-9)
	assert.InDelta(t, 107.0, fills[1].Price, 1e-9)
	assert.InDelta(t, 110.0, fills[2].Price, 1e-9)
	assert.True(t, tracker.Done())
}

func TestTracker_TrailingStop(t *testing.T) {
	trailing := model.TrailingConfig{Activation: 0.04, TrailDistance: 0.01, MinExitFloor: 0.03}
	tracker, err := NewTracker(newPosition(model.SideLong, 100, 98, singleTierPlan(trailing)))
	assert.NoError(t, err)

	// 104.5 激活追踪，105.2 抬升水位至5.2%
	assert.Empty(t, tracker.OnPrice(104.5, baseTime.Add(time.Minute)))
	assert.Empty(t, tracker.OnPrice(105.2, baseTime.Add(2*time.Minute)))

	// 103.9 跌破 5.2%−1% 的追踪水位，按触发价104.2结算而非当前价
	fills := tracker.OnPrice(103.9, baseTime.Add(3*time.Minute))
	assert.Len(t, fills, 1)
	assert.Equal(t, model.ExitReasonTrailingStop, fills[0].Reason)
	assert.InDelta(t, 104.2, fills[0].Price, 1e-9)
	assert.True(t, tracker.Done())

	trade := tracker.Trade()
	assert.InDelta(t, 104.2, trade.ExitPrice, 1e-9)
	assert.InDelta(t, 42.0, trade.RealizedPnL, 1e-9)
}

func TestTracker_ProfitFloorProtection(t *testing.T) {
	trailing := model.TrailingConfig{Activation: 0.045, TrailDistance: 0.015, MinExitFloor: 0.035}
	tracker, err := NewTracker(newPosition(model.SideLong, 100, 98, singleTierPlan(trailing)))
	assert.NoError(t, err)

	// 水位4.6%时追踪水位3.1%低于地板3.5%：地板优先
	assert.Empty(t, tracker.OnPrice(104.6, baseTime.Add(time.Minute)))
	fills := tracker.OnPrice(103.4, baseTime.Add(2*time.Minute))
	assert.Len(t, fills, 1)
	assert.Equal(t, model.ExitReasonProfitFloor, fills[0].Reason)
	assert.InDelta(t, 103.5, fills[0].Price, 1e-9)
	assert.True(t, tracker.Done())
}

func TestTracker_FloorAfterTierFill(t *testing.T) {
	tracker, err := NewTracker(newPosition(model.SideLong, 100, 98, defaultPlan()))
	assert.NoError(t, err)

	// 第一档成交同时激活追踪
	fills := tracker.OnPrice(105, baseTime.Add(time.Minute))
	assert.Len(t, fills, 1)

	// 随后崩跌至止损下方：剩余仓位由地板保护离场，而非回到止损
	fills = tracker.OnPrice(98, baseTime.Add(2*time.Minute))
	assert.Len(t, fills, 1)
	assert.Equal(t, model.ExitReasonProfitFloor, fills[0].Reason)
	assert.InDelta(t, 103.5, fills[0].Price, 1e-9)
	assert.InDelta(t, 0.5, fills[0].SizeFraction, 1e-9)
	assert.True(t, tracker.Done())
}

func TestTracker_StopLoss(t *testing.T) {
	tracker, err := NewTracker(newPosition(model.SideLong, 100, 98, defaultPlan()))
	assert.NoError(t, err)

	assert.Empty(t, tracker.OnPrice(99, baseTime.Add(time.Minute)))

	// 等于止损价视为到达
	fills := tracker.OnPrice(98, baseTime.Add(2*time.Minute))
	assert.Len(t, fills, 1)
	assert.Equal(t, model.ExitReasonStopLoss, fills[0].Reason)
	assert.InDelta(t, 98.0, fills[0].Price, 1e-9)
	assert.True(t, tracker.Done())

	trade := tracker.Trade()
	assert.InDelta(t, -20.0, trade.RealizedPnL, 1e-9)
}

func TestTracker_TimeLimit(t *testing.T) {
	plan := singleTierPlan(model.TrailingConfig{Activation: 0.045, TrailDistance: 0.015, MinExitFloor: 0.035})
	plan.MaxHoldTime = time.Hour
	tracker, err := NewTracker(newPosition(model.SideLong, 100, 98, plan))
	assert.NoError(t, err)

	// 持仓时间到期按当前价离场
	fills := tracker.OnPrice(102, baseTime.Add(2*time.Hour))
	assert.Len(t, fills, 1)
	assert.Equal(t, model.ExitReasonTimeLimit, fills[0].Reason)
	assert.InDelta(t, 102.0, fills[0].Price, 1e-9)
	assert.True(t, tracker.Done())
}

func TestTracker_ShortSide(t *testing.T) {
	tracker, err := NewTracker(newPosition(model.SideShort, 3500, 3600, defaultPlan()))
	assert.NoError(t, err)

	// 空头价格下跌5%触及第一档，成交价 3500×0.95
	fills := tracker.OnPrice(3325, baseTime.Add(time.Minute))
	assert.Len(t, fills, 1)
	assert.Equal(t, model.ExitReasonTierFill, fills[0].Reason)
	assert.InDelta(t, 3325.0, fills[0].Price, 1e-9)

	// 空头止损在入场价上方
	fills = tracker.OnPrice(3620, baseTime.Add(2*time.Minute))
	assert.Len(t, fills, 1)
	assert.Equal(t, model.ExitReasonProfitFloor, fills[0].Reason)
}

func TestTracker_ForceClose(t *testing.T) {
	tracker, err := NewTracker(newPosition(model.SideLong, 100, 98, defaultPlan()))
	assert.NoError(t, err)

	fill := tracker.ForceClose(101, baseTime.Add(time.Minute))
	assert.NotNil(t, fill)
	assert.Equal(t, model.ExitReasonForceClose, fill.Reason)
	assert.InDelta(t, 1.0, fill.SizeFraction, 1e-9)
	assert.True(t, tracker.Done())

	// 已终结后再次强制平仓无效
	assert.Nil(t, tracker.ForceClose(102, baseTime.Add(2*time.Minute)))

	trade := tracker.Trade()
	assert.Equal(t, model.ExitReasonForceClose, trade.ExitReason)
	assert.InDelta(t, 10.0, trade.RealizedPnL, 1e-9)
}

func TestNewTracker_InvariantViolations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *model.Position)
	}{
		{
			name: "档位比例之和不为1",
			mutate: func(p *model.Position) {
				p.Plan.Tiers = []model.Tier{
					{ProfitFraction: 0.05, SizeFraction: 0.5},
					{ProfitFraction: 0.07, SizeFraction: 0.3},
				}
			},
		},
		{
			name: "档位目标距离未递增",
			mutate: func(p *model.Position) {
				p.Plan.Tiers = []model.Tier{
					{ProfitFraction: 0.07, SizeFraction: 0.5},
					{ProfitFraction: 0.05, SizeFraction: 0.5},
				}
			},
		},
		{
			name:   "没有档位",
			mutate: func(p *model.Position) { p.Plan.Tiers = nil },
		},
		{
			name:   "入场价无效",
			mutate: func(p *model.Position) { p.EntryPrice = 0 },
		},
		{
			name:   "方向无效",
			mutate: func(p *model.Position) { p.Side = "BOTH" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := newPosition(model.SideLong, 100, 98, defaultPlan())
			tt.mutate(pos)
			tracker, err := NewTracker(pos)
			assert.Nil(t, tracker)
			var violation *InvariantViolation
			assert.ErrorAs(t, err, &violation)
		})
	}
}
