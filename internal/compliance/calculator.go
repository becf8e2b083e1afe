package compliance

import (
	"math"

	"github.com/life2you_mini/signalbot/internal/model"
)

// RewardRiskRatio 计算盈亏比 |target - entry| / |entry - stop|
// 止损距离为0时返回0，由调用方拒绝
func RewardRiskRatio(entry, stopLoss, takeProfit float64) float64 {
	risk := math.Abs(entry - stopLoss)
	if risk == 0 {
		return 0
	}
	reward := math.Abs(takeProfit - entry)
	return reward / risk
}

// SymbolRiskMultiplier 风险分映射为仓位倍数的阶梯函数
// [0,0.3)→1.0, [0.3,0.6)→0.7, [0.6,0.8)→0.4, [0.8,1.0]→0（跳过）
func SymbolRiskMultiplier(riskScore float64) float64 {
	switch {
	case riskScore < 0.3:
		return 1.0
	case riskScore < 0.6:
		return 0.7
	case riskScore < 0.8:
		return 0.4
	default:
		return 0
	}
}

// PositionSize 计算合规仓位大小
// size = (balance × riskFraction × multiplier) / |entry - stop|
func PositionSize(balance, riskFraction, multiplier, entry, stopLoss float64) float64 {
	stopDistance := math.Abs(entry - stopLoss)
	if stopDistance == 0 {
		return 0
	}
	return balance * riskFraction * multiplier / stopDistance
}

// RequiredLeverage 计算所需杠杆 = 名义价值 / 账户余额
func RequiredLeverage(size, entry, balance float64) float64 {
	if balance == 0 {
		return math.Inf(1)
	}
	return size * entry / balance
}

// CalculateRiskScore 根据滚动表现计算交易对风险分 [0,1]
// 权重：胜率0.3、平均亏损0.4、波动0.3；灰名单固定0.9；无历史视为0
func CalculateRiskScore(state *model.SymbolRiskState) float64 {
	if state == nil || len(state.RecentPnLFracs) == 0 {
		return 0
	}

	if state.Greylisted {
		return 0.9
	}

	var wins int
	var lossSum, absSum float64
	var lossCount int
	for _, pnl := range state.RecentPnLFracs {
		if pnl > 0 {
			wins++
		} else if pnl < 0 {
			lossSum += -pnl
			lossCount++
		}
		absSum += math.Abs(pnl)
	}

	n := float64(len(state.RecentPnLFracs))
	winRate := float64(wins) / n

	var avgLoss float64
	if lossCount > 0 {
		avgLoss = lossSum / float64(lossCount)
	}
	avgVolatility := absSum / n

	score := 0.3*(1-winRate) +
		0.4*math.Min(avgLoss/0.10, 1) +
		0.3*math.Min(avgVolatility/0.15, 1)

	return math.Min(math.Max(score, 0), 1)
}
