package compliance

import (
	"fmt"
	"time"

	"github.com/life2you_mini/signalbot/internal/model"
)

const (
	// 连续亏损达到该次数进入灰名单
	greylistLossStreak = 4
	// 最近5笔累计亏损超过该比例进入灰名单
	greylistCumulativeLoss = 0.15
	// 连续盈利达到该次数移出灰名单
	greylistRecoveryWins = 3
	// 滚动窗口长度
	recentWindowSize = 5
)

// symbolTracker 维护所有交易对的滚动表现状态
// 非并发安全，由 Evaluator 的锁保护
type symbolTracker struct {
	states map[string]*model.SymbolRiskState
}

func newSymbolTracker() *symbolTracker {
	return &symbolTracker{
		states: make(map[string]*model.SymbolRiskState),
	}
}

// get 返回交易对状态，不存在时返回零值状态（风险分0，倍数1.0）
func (t *symbolTracker) get(symbol string) *model.SymbolRiskState {
	if state, ok := t.states[symbol]; ok {
		return state
	}
	state := &model.SymbolRiskState{}
	t.states[symbol] = state
	return state
}

// recordTrade 记录一笔已平仓交易并更新灰名单与风险分
// pnlFrac 为相对初始风险的盈亏比例
func (t *symbolTracker) recordTrade(symbol string, pnlFrac float64, now time.Time) *model.SymbolRiskState {
	state := t.get(symbol)

	if pnlFrac > 0 {
		state.ConsecutiveWins++
		state.ConsecutiveLosses = 0
	} else if pnlFrac < 0 {
		state.ConsecutiveLosses++
		state.ConsecutiveWins = 0
	}

	state.RecentPnLFracs = append(state.RecentPnLFracs, pnlFrac)
	if len(state.RecentPnLFracs) > recentWindowSize {
		state.RecentPnLFracs = state.RecentPnLFracs[len(state.RecentPnLFracs)-recentWindowSize:]
	}

	if state.Greylisted {
		if state.ConsecutiveWins >= greylistRecoveryWins {
			state.Greylisted = false
			state.GreylistReason = ""
		}
	} else {
		if state.ConsecutiveLosses >= greylistLossStreak {
			state.Greylisted = true
			state.GreylistReason = fmt.Sprintf("连续亏损%d次", state.ConsecutiveLosses)
		} else if cum := cumulativeLoss(state.RecentPnLFracs); cum > greylistCumulativeLoss {
			state.Greylisted = true
			state.GreylistReason = fmt.Sprintf("近%d笔累计亏损%.1f%%", len(state.RecentPnLFracs), cum*100)
		}
	}

	state.RiskScore = CalculateRiskScore(state)
	state.LastUpdate = now
	return state
}

// cumulativeLoss 返回窗口内亏损部分的累计绝对值
func cumulativeLoss(pnlFracs []float64) float64 {
	var loss float64
	for _, pnl := range pnlFracs {
		if pnl < 0 {
			loss += -pnl
		}
	}
	return loss
}
