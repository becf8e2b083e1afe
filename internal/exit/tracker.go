package exit

import (
	"fmt"
	"math"
	"time"

	"github.com/life2you_mini/signalbot/internal/model"
)

// InvariantViolation 仓位数据与退出计划自身不变量冲突的致命错误
// 只用于数据不一致，不用于普通行情状况
type InvariantViolation struct {
	Msg string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("不变量被破坏: %s", e.Msg)
}

// 档位比例求和的浮点容差
const tierSumTolerance = 1e-6

// Tracker 单个仓位的退出状态机
// 实盘与回放共用同一实现：输入只有价格点，输出只有成交
// 非并发安全，必须由单一所有者串行驱动
type Tracker struct {
	pos        *model.Position
	tierFilled []bool
	filledFrac float64
	fills      []model.Fill

	trailingActive bool
	highWater      float64 // 方向调整后的最高盈利比例

	done       bool
	lastReason model.ExitReason
	closeTime  time.Time
}

// NewTracker 校验退出计划并创建状态机
// 在发出任何成交之前拒绝不满足不变量的计划
func NewTracker(pos *model.Position) (*Tracker, error) {
	if pos.EntryPrice <= 0 {
		return nil, &InvariantViolation{Msg: fmt.Sprintf("入场价无效: %.4f", pos.EntryPrice)}
	}
	if pos.OriginalSize <= 0 {
		return nil, &InvariantViolation{Msg: fmt.Sprintf("仓位大小无效: %.8f", pos.OriginalSize)}
	}
	if pos.Side != model.SideLong && pos.Side != model.SideShort {
		return nil, &InvariantViolation{Msg: fmt.Sprintf("方向无效: %s", pos.Side)}
	}

	plan := pos.Plan
	if len(plan.Tiers) == 0 {
		return nil, &InvariantViolation{Msg: "退出计划没有档位"}
	}
	var sum float64
	prev := 0.0
	for i, tier := range plan.Tiers {
		if tier.SizeFraction <= 0 {
			return nil, &InvariantViolation{Msg: fmt.Sprintf("档位%d比例无效: %.4f", i, tier.SizeFraction)}
		}
		if tier.ProfitFraction <= prev {
			return nil, &InvariantViolation{Msg: fmt.Sprintf("档位%d目标距离未递增", i)}
		}
		prev = tier.ProfitFraction
		sum += tier.SizeFraction
	}
	if math.Abs(sum-1.0) > tierSumTolerance {
		return nil, &InvariantViolation{Msg: fmt.Sprintf("档位比例之和为%.6f，必须为1.0", sum)}
	}
	if plan.Trailing.TrailDistance <= 0 {
		return nil, &InvariantViolation{Msg: "追踪回撤距离必须大于0"}
	}

	return &Tracker{
		pos:        pos,
		tierFilled: make([]bool, len(plan.Tiers)),
	}, nil
}

// Position 返回被跟踪的仓位
func (t *Tracker) Position() *model.Position {
	return t.pos
}

// Done 仓位是否已终结
func (t *Tracker) Done() bool {
	return t.done
}

// OnPrice 处理一个价格点，返回本次发出的成交与是否终结
// 检查顺序固定：档位 → 追踪/地板 → 最大持仓时间 → 止损
// 所有比较使用方向调整后的盈利比例，多空共用一条路径；等于阈值视为到达
func (t *Tracker) OnPrice(price float64, ts time.Time) []model.Fill {
	if t.done || price <= 0 {
		return nil
	}

	frac := model.ProfitFraction(t.pos.Side, t.pos.EntryPrice, price)
	var emitted []model.Fill

	// 档位按目标升序逐个检查，一次跳空可能连续吃掉多档
	for i, tier := range t.pos.Plan.Tiers {
		if t.tierFilled[i] || frac < tier.ProfitFraction {
			continue
		}
		t.tierFilled[i] = true
		fill := t.emit(tier.SizeFraction, model.PriceAtProfit(t.pos.Side, t.pos.EntryPrice, tier.ProfitFraction),
			model.ExitReasonTierFill, ts)
		emitted = append(emitted, fill)
		if t.done {
			return emitted
		}
	}

	// 追踪止损：激活后维护最高盈利水位
	trailing := t.pos.Plan.Trailing
	if !t.trailingActive && frac >= trailing.Activation {
		t.trailingActive = true
		t.highWater = frac
	}
	if t.trailingActive {
		if frac > t.highWater {
			t.highWater = frac
		}
		trailLevel := t.highWater - trailing.TrailDistance
		floor := trailing.MinExitFloor

		// 地板优先：水位回撤不足以越过地板时，跌破地板即离场
		if floor >= trailLevel && frac <= floor {
			fill := t.emit(t.remainingFraction(), model.PriceAtProfit(t.pos.Side, t.pos.EntryPrice, floor),
				model.ExitReasonProfitFloor, ts)
			return append(emitted, fill)
		}
		if frac <= trailLevel {
			// 触发价即成交价：跳空穿越时也按触发水位结算，不低于地板
			exitFrac := math.Max(trailLevel, floor)
			fill := t.emit(t.remainingFraction(), model.PriceAtProfit(t.pos.Side, t.pos.EntryPrice, exitFrac),
				model.ExitReasonTrailingStop, ts)
			return append(emitted, fill)
		}
	}

	// 最大持仓时间到期，按当前价离场
	if t.pos.Plan.MaxHoldTime > 0 && ts.Sub(t.pos.OpenTime) >= t.pos.Plan.MaxHoldTime {
		fill := t.emit(t.remainingFraction(), price, model.ExitReasonTimeLimit, ts)
		return append(emitted, fill)
	}

	// 止损：任何档位成交前回到止损价即全部离场
	if t.filledFrac == 0 && t.pos.StopLoss > 0 {
		stopFrac := model.ProfitFraction(t.pos.Side, t.pos.EntryPrice, t.pos.StopLoss)
		if frac <= stopFrac {
			fill := t.emit(t.remainingFraction(), t.pos.StopLoss, model.ExitReasonStopLoss, ts)
			return append(emitted, fill)
		}
	}

	return emitted
}

// ForceClose 外部强制平仓，按给定价格立即终结剩余仓位
func (t *Tracker) ForceClose(price float64, ts time.Time) *model.Fill {
	if t.done {
		return nil
	}
	fill := t.emit(t.remainingFraction(), price, model.ExitReasonForceClose, ts)
	return &fill
}

// Trade 终结后生成交易记录：加权平均退出价与总实现盈亏
// 未终结时返回nil
func (t *Tracker) Trade() *model.Trade {
	if !t.done {
		return nil
	}

	var weightedExit, totalFrac, pnl float64
	for _, fill := range t.fills {
		weightedExit += fill.Price * fill.SizeFraction
		totalFrac += fill.SizeFraction
		units := t.pos.OriginalSize * fill.SizeFraction
		if t.pos.Side == model.SideShort {
			pnl += units * (t.pos.EntryPrice - fill.Price)
		} else {
			pnl += units * (fill.Price - t.pos.EntryPrice)
		}
	}
	if totalFrac > 0 {
		weightedExit /= totalFrac
	}

	return &model.Trade{
		PositionID:   t.pos.ID,
		Symbol:       t.pos.Symbol,
		Side:         t.pos.Side,
		EntryPrice:   t.pos.EntryPrice,
		ExitPrice:    weightedExit,
		Size:         t.pos.OriginalSize,
		Fills:        t.fills,
		RealizedPnL:  pnl,
		ExitReason:   t.lastReason,
		OpenTime:     t.pos.OpenTime,
		CloseTime:    t.closeTime,
		HoldDuration: t.closeTime.Sub(t.pos.OpenTime),
	}
}

func (t *Tracker) remainingFraction() float64 {
	return 1.0 - t.filledFrac
}

func (t *Tracker) emit(sizeFrac, price float64, reason model.ExitReason, ts time.Time) model.Fill {
	t.filledFrac += sizeFrac
	t.pos.RemainingSize = t.pos.OriginalSize * (1.0 - t.filledFrac)
	t.lastReason = reason

	fill := model.Fill{
		Price:        price,
		SizeFraction: sizeFrac,
		Reason:       reason,
		Timestamp:    ts,
	}
	t.fills = append(t.fills, fill)

	if t.filledFrac >= 1.0-tierSumTolerance {
		t.filledFrac = 1.0
		t.pos.RemainingSize = 0
		t.pos.Status = model.StatusClosed
		t.done = true
		t.closeTime = ts
	}
	return fill
}
