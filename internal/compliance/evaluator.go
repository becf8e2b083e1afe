package compliance

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/life2you_mini/signalbot/internal/config"
	"github.com/life2you_mini/signalbot/internal/model"
)

// FinalPush 模式接近利润目标时的额外减仓阈值与倍数
const (
	finalPushProgressCut = 0.95
	finalPushCutFactor   = 0.5
)

// Decision 合规评估结果
type Decision struct {
	Admitted bool
	Reason   model.RejectReason
	Detail   string
	Position *model.Position
}

// admissionRecord 重复信号判定用的准入记录
type admissionRecord struct {
	symbol     string
	side       string
	entryPrice float64
	admittedAt time.Time
}

// Evaluator 合规评估器
// 准入预留与平仓释放共用同一把锁，保证账户限额的评估与预留原子完成
type Evaluator struct {
	mu      sync.Mutex
	logger  *zap.Logger
	cfg     *config.Config
	account *model.AccountState
	symbols *symbolTracker
	recent  []admissionRecord
	seq     int64
}

// NewEvaluator 创建合规评估器
func NewEvaluator(cfg *config.Config, logger *zap.Logger) *Evaluator {
	balance := cfg.Account.InitialBalance
	return &Evaluator{
		logger: logger.With(zap.String("component", "compliance")),
		cfg:    cfg,
		account: &model.AccountState{
			Balance:        balance,
			InitialBalance: balance,
			PeakBalance:    balance,
			IsFunded:       cfg.Account.IsFunded,
			MonthsFunded:   cfg.Account.MonthsFunded,
		},
		symbols: newSymbolTracker(),
	}
}

// Evaluate 按固定顺序执行合规检查，通过后原子预留风险并创建仓位
// 检查顺序决定拒绝原因的确定性：同一输入永远产生同一原因
func (e *Evaluator) Evaluate(intent *model.SignalIntent, profileName string, profile config.RiskProfile) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := intent.ReceivedAt

	// 幂等拒绝：窗口内的重复信号不计入任何计数
	if rec := e.findDuplicate(intent, now); rec != nil {
		return e.reject(intent, model.RejectDuplicateSignal,
			fmt.Sprintf("与%s的准入信号重复", rec.admittedAt.Format(time.RFC3339)))
	}

	// 检查1：交易对资格
	symState := e.symbols.get(intent.Symbol)
	if symState.Greylisted {
		return e.reject(intent, model.RejectSymbolIneligible,
			fmt.Sprintf("交易对在灰名单中: %s", symState.GreylistReason))
	}
	multiplier := SymbolRiskMultiplier(symState.RiskScore)
	if multiplier == 0 {
		return e.reject(intent, model.RejectSymbolIneligible,
			fmt.Sprintf("风险分过高: %.2f", symState.RiskScore))
	}
	if len(profile.AllowedSymbols) > 0 && !containsSymbol(profile.AllowedSymbols, intent.Symbol) {
		return e.reject(intent, model.RejectSymbolIneligible, "交易对不在当前模式允许列表中")
	}

	// 检查2：当日交易次数
	if e.account.TradesToday >= profile.MaxTradesPerDay {
		return e.reject(intent, model.RejectDailyTradeLimit,
			fmt.Sprintf("当日已交易%d次，上限%d次", e.account.TradesToday, profile.MaxTradesPerDay))
	}

	// 检查3：盈亏比
	// 信号未携带止盈目标时，以默认档位梯度的最高档位作为有效目标
	target := intent.TakeProfit
	if !intent.HasTakeProfit() {
		target = model.PriceAtProfit(intent.Side, intent.EntryPrice, e.topTierFraction())
	}
	rr := RewardRiskRatio(intent.EntryPrice, intent.StopLoss, target)
	if rr < profile.MinRewardRisk {
		return e.reject(intent, model.RejectRewardRiskTooLow,
			fmt.Sprintf("盈亏比%.2f低于要求%.2f", rr, profile.MinRewardRisk))
	}

	// 检查4：信号确认数，信号未携带时跳过
	if intent.Confluence > 0 && profile.MinConfluence > 0 && intent.Confluence < profile.MinConfluence {
		return e.reject(intent, model.RejectConfluenceTooLow,
			fmt.Sprintf("确认数%d低于要求%d", intent.Confluence, profile.MinConfluence))
	}

	// 计算本笔预留风险与仓位大小
	riskFraction := profile.RiskFraction * profile.SizeMultiplier
	if profileName == config.ProfileFinalPush {
		profitTarget := e.account.InitialBalance * e.cfg.Account.ProfitTargetFraction
		if e.account.ProgressToTarget(profitTarget) >= finalPushProgressCut {
			riskFraction *= finalPushCutFactor
		}
	}
	size := PositionSize(e.account.Balance, riskFraction, multiplier, intent.EntryPrice, intent.StopLoss)
	riskAmount := size * math.Abs(intent.EntryPrice-intent.StopLoss)

	// 检查5：日亏损限额，预留风险全部亏掉也不能越界
	dailyLossLimit := e.account.InitialBalance * e.cfg.Account.MaxDailyLossFraction
	if e.account.DayLoss+riskAmount > dailyLossLimit {
		return e.reject(intent, model.RejectDailyLossWouldBreach,
			fmt.Sprintf("日亏损敞口%.2f+%.2f超过限额%.2f", e.account.DayLoss, riskAmount, dailyLossLimit))
	}

	// 检查6：最大回撤限额
	drawdownLimit := e.account.InitialBalance * e.cfg.Account.MaxDrawdownFraction
	projectedDrawdown := e.account.PeakBalance - (e.account.Balance - e.account.ReservedRisk - riskAmount)
	if projectedDrawdown > drawdownLimit {
		return e.reject(intent, model.RejectDrawdownWouldBreach,
			fmt.Sprintf("预估回撤%.2f超过限额%.2f", projectedDrawdown, drawdownLimit))
	}

	// 检查7：杠杆上限
	leverage := RequiredLeverage(size, intent.EntryPrice, e.account.Balance)
	maxLeverage := e.maxLeverageFor(intent.Symbol)
	if leverage > maxLeverage {
		return e.reject(intent, model.RejectLeverageExceeded,
			fmt.Sprintf("所需杠杆%.2fx超过上限%.2fx", leverage, maxLeverage))
	}

	// 全部通过，原子预留并创建仓位
	e.seq++
	position := &model.Position{
		ID:            fmt.Sprintf("pos-%06d", e.seq),
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		EntryPrice:    intent.EntryPrice,
		StopLoss:      intent.StopLoss,
		OriginalSize:  size,
		RemainingSize: size,
		RiskAmount:    riskAmount,
		Plan:          e.buildExitPlan(),
		Status:        model.StatusOpen,
		OpenTime:      now,
	}

	e.account.ReservedRisk += riskAmount
	e.account.DayLoss += riskAmount
	e.account.TradesToday++
	e.recent = append(e.recent, admissionRecord{
		symbol:     intent.Symbol,
		side:       intent.Side,
		entryPrice: intent.EntryPrice,
		admittedAt: now,
	})

	e.logger.Info("信号准入",
		zap.String("position_id", position.ID),
		zap.String("symbol", intent.Symbol),
		zap.String("side", intent.Side),
		zap.Float64("size", size),
		zap.Float64("risk_amount", riskAmount),
		zap.Float64("reward_risk", rr))

	return Decision{Admitted: true, Position: position}
}

// ReleaseAdmission 回滚一次准入：仓位未能进入退出管理时释放全部预留
// 计数、预留风险与重复判定记录全部还原，账户状态与准入前一致
func (e *Evaluator) ReleaseAdmission(position *model.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.account.ReservedRisk = math.Max(0, e.account.ReservedRisk-position.RiskAmount)
	e.account.DayLoss = math.Max(0, e.account.DayLoss-position.RiskAmount)
	if e.account.TradesToday > 0 {
		e.account.TradesToday--
	}
	for i := len(e.recent) - 1; i >= 0; i-- {
		rec := &e.recent[i]
		if rec.symbol == position.Symbol && rec.side == position.Side &&
			rec.entryPrice == position.EntryPrice && rec.admittedAt.Equal(position.OpenTime) {
			e.recent = append(e.recent[:i], e.recent[i+1:]...)
			break
		}
	}

	e.logger.Warn("准入已回滚",
		zap.String("position_id", position.ID),
		zap.Float64("released_risk", position.RiskAmount))
}

// OnTradeClosed 交易终结后释放预留风险、实现盈亏并更新交易对表现
func (e *Evaluator) OnTradeClosed(position *model.Position, trade *model.Trade) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// 释放准入时的预留
	e.account.ReservedRisk = math.Max(0, e.account.ReservedRisk-position.RiskAmount)
	e.account.DayLoss = math.Max(0, e.account.DayLoss-position.RiskAmount)

	pnl := trade.RealizedPnL
	e.account.Balance += pnl
	e.account.DayPnL += pnl
	if pnl < 0 {
		e.account.DayLoss += -pnl
	}
	if e.account.Balance > e.account.PeakBalance {
		e.account.PeakBalance = e.account.Balance
	}

	// 交易对表现按名义价值回报率记录
	notional := position.EntryPrice * position.OriginalSize
	var pnlFrac float64
	if notional > 0 {
		pnlFrac = pnl / notional
	}
	state := e.symbols.recordTrade(position.Symbol, pnlFrac, trade.CloseTime)

	e.logger.Info("交易结算",
		zap.String("position_id", position.ID),
		zap.String("symbol", position.Symbol),
		zap.Float64("realized_pnl", pnl),
		zap.Float64("balance", e.account.Balance),
		zap.Float64("risk_score", state.RiskScore),
		zap.Bool("greylisted", state.Greylisted))
}

// DailyReset 在日界时间清零当日计数，幂等：同一交易日内重复调用无效果
// 返回是否实际执行了重置
func (e *Evaluator) DailyReset(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	anchor := dayAnchor(now, e.cfg.Account.DailyResetHourUTC, e.cfg.Account.DailyResetMinuteUTC)
	if !e.account.DayStart.Before(anchor) {
		return false
	}

	e.account.TradesToday = 0
	e.account.DayPnL = 0
	// 开放仓位的预留风险跨日保留，继续计入日亏损敞口
	e.account.DayLoss = e.account.ReservedRisk
	e.account.DayStart = anchor
	e.pruneRecent(now)

	e.logger.Info("执行每日重置",
		zap.Time("day_start", anchor),
		zap.Float64("carried_reserved_risk", e.account.ReservedRisk))
	return true
}

// RestoreAccount 从持久化状态恢复账户，引擎启动时调用一次
func (e *Evaluator) RestoreAccount(state *model.AccountState) {
	if state == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	restored := *state
	e.account = &restored
	e.logger.Info("账户状态已恢复",
		zap.Float64("balance", restored.Balance),
		zap.Float64("peak_balance", restored.PeakBalance),
		zap.Int("trades_today", restored.TradesToday))
}

// RestoreSymbolStates 从持久化状态恢复交易对风险记录
func (e *Evaluator) RestoreSymbolStates(states map[string]*model.SymbolRiskState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for symbol, state := range states {
		restored := *state
		e.symbols.states[symbol] = &restored
	}
}

// AccountSnapshot 返回账户状态副本
func (e *Evaluator) AccountSnapshot() model.AccountState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.account
}

// SymbolSnapshot 返回交易对风险状态副本
func (e *Evaluator) SymbolSnapshot(symbol string) model.SymbolRiskState {
	e.mu.Lock()
	defer e.mu.Unlock()
	state := *e.symbols.get(symbol)
	state.Symbol = symbol
	return state
}

func (e *Evaluator) reject(intent *model.SignalIntent, reason model.RejectReason, detail string) Decision {
	e.logger.Info("信号拒绝",
		zap.String("symbol", intent.Symbol),
		zap.String("side", intent.Side),
		zap.String("reason", string(reason)),
		zap.String("detail", detail))
	return Decision{Reason: reason, Detail: detail}
}

// findDuplicate 查找窗口内实质相同的准入记录
// 实质相同：同交易对、同方向、入场价偏差在配置比例内
func (e *Evaluator) findDuplicate(intent *model.SignalIntent, now time.Time) *admissionRecord {
	window := e.cfg.Signal.DuplicateWindow
	margin := e.cfg.Signal.DuplicateMargin
	for i := len(e.recent) - 1; i >= 0; i-- {
		rec := &e.recent[i]
		if now.Sub(rec.admittedAt) > window {
			break
		}
		if rec.symbol != intent.Symbol || rec.side != intent.Side {
			continue
		}
		if rec.entryPrice == 0 {
			continue
		}
		if math.Abs(intent.EntryPrice-rec.entryPrice)/rec.entryPrice <= margin {
			return rec
		}
	}
	return nil
}

func (e *Evaluator) pruneRecent(now time.Time) {
	window := e.cfg.Signal.DuplicateWindow
	kept := e.recent[:0]
	for _, rec := range e.recent {
		if now.Sub(rec.admittedAt) <= window {
			kept = append(kept, rec)
		}
	}
	e.recent = kept
}

func (e *Evaluator) buildExitPlan() model.ExitPlan {
	tiers := make([]model.Tier, 0, len(e.cfg.Exit.DefaultTiers))
	for _, t := range e.cfg.Exit.DefaultTiers {
		tiers = append(tiers, model.Tier{
			ProfitFraction: t.ProfitFraction,
			SizeFraction:   t.SizeFraction,
		})
	}
	return model.ExitPlan{
		Tiers: tiers,
		Trailing: model.TrailingConfig{
			Activation:    e.cfg.Exit.Activation,
			TrailDistance: e.cfg.Exit.TrailDistance,
			MinExitFloor:  e.cfg.Exit.MinExitFloor,
		},
		MaxHoldTime: e.cfg.Exit.MaxHoldTime,
	}
}

func (e *Evaluator) topTierFraction() float64 {
	var top float64
	for _, t := range e.cfg.Exit.DefaultTiers {
		if t.ProfitFraction > top {
			top = t.ProfitFraction
		}
	}
	return top
}

func (e *Evaluator) maxLeverageFor(symbol string) float64 {
	if containsSymbol(e.cfg.Leverage.MajorSymbols, symbol) {
		return e.cfg.Leverage.MaxMajor
	}
	return e.cfg.Leverage.MaxOther
}

func containsSymbol(list []string, symbol string) bool {
	for _, s := range list {
		if s == symbol {
			return true
		}
	}
	return false
}

// dayAnchor 返回 now 所属交易日的起点（最近一次已过去的日界时间）
func dayAnchor(now time.Time, hour, minute int) time.Time {
	anchor := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if now.Before(anchor) {
		anchor = anchor.AddDate(0, 0, -1)
	}
	return anchor
}
