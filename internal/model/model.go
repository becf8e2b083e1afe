package model

import (
	"time"
)

// 交易方向常量
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// 持仓状态常量
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// ExitReason 平仓原因
type ExitReason string

const (
	ExitReasonTierFill     ExitReason = "TIER_FILL"     // 分批止盈档位成交
	ExitReasonTrailingStop ExitReason = "TRAILING_STOP" // 追踪止损触发
	ExitReasonProfitFloor  ExitReason = "PROFIT_FLOOR"  // 利润保护地板触发
	ExitReasonStopLoss     ExitReason = "STOP_LOSS"     // 止损触发
	ExitReasonTimeLimit    ExitReason = "TIME_LIMIT"    // 最大持仓时间到期
	ExitReasonForceClose   ExitReason = "FORCE_CLOSE"   // 外部强制平仓
)

// RejectReason 信号拒绝原因，顺序与合规检查顺序一致
type RejectReason string

const (
	RejectSymbolIneligible     RejectReason = "SYMBOL_INELIGIBLE"
	RejectDailyTradeLimit      RejectReason = "DAILY_TRADE_LIMIT_REACHED"
	RejectRewardRiskTooLow     RejectReason = "REWARD_RISK_TOO_LOW"
	RejectConfluenceTooLow     RejectReason = "CONFLUENCE_TOO_LOW"
	RejectDailyLossWouldBreach RejectReason = "DAILY_LOSS_LIMIT_WOULD_BREACH"
	RejectDrawdownWouldBreach  RejectReason = "DRAWDOWN_LIMIT_WOULD_BREACH"
	RejectLeverageExceeded     RejectReason = "LEVERAGE_EXCEEDED"
	RejectTradingStopped       RejectReason = "TRADING_STOPPED"
	RejectDuplicateSignal      RejectReason = "DUPLICATE_SIGNAL"
)

// SignalIntent 规范化后的交易信号意图
// 由解析器创建，创建后不可变；被合规评估器消费后即丢弃
type SignalIntent struct {
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"` // LONG 或 SHORT
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit,omitempty"` // 可选，缺省时由默认档位梯度推导
	Confluence int       `json:"confluence"`            // 信号携带的确认数
	RawText    string    `json:"raw_text"`
	Source     string    `json:"source"`
	ReceivedAt time.Time `json:"received_at"`
}

// HasTakeProfit 信号是否携带止盈目标
func (s *SignalIntent) HasTakeProfit() bool {
	return s.TakeProfit > 0
}

// ProfitFraction 计算相对入场价的有符号盈利比例
// 多空共用同一条路径：空头方向取反
func ProfitFraction(side string, entryPrice, currentPrice float64) float64 {
	if entryPrice == 0 {
		return 0
	}
	frac := (currentPrice - entryPrice) / entryPrice
	if side == SideShort {
		return -frac
	}
	return frac
}

// PriceAtProfit 根据盈利比例反推价格
func PriceAtProfit(side string, entryPrice, profitFrac float64) float64 {
	if side == SideShort {
		return entryPrice * (1 - profitFrac)
	}
	return entryPrice * (1 + profitFrac)
}

// PricePoint 行情价格点
// 同一交易对的价格点必须按时间非递减到达
type PricePoint struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Tier 分批止盈档位：在指定盈利比例平掉指定比例仓位
type Tier struct {
	ProfitFraction float64 `json:"profit_fraction" yaml:"profit_fraction"`
	SizeFraction   float64 `json:"size_fraction" yaml:"size_fraction"`
}

// TrailingConfig 追踪止损参数，均为相对入场价的盈利比例
type TrailingConfig struct {
	Activation    float64 `json:"activation" yaml:"activation"`         // 盈利达到该比例后激活追踪
	TrailDistance float64 `json:"trail_distance" yaml:"trail_distance"` // 距最高盈利的回撤距离
	MinExitFloor  float64 `json:"min_exit_floor" yaml:"min_exit_floor"` // 激活后允许的最低退出盈利
}

// ExitPlan 仓位的退出计划：档位梯度 + 追踪止损参数
// 不变量：档位比例之和为1.0，档位目标距离按方向单调递增
type ExitPlan struct {
	Tiers       []Tier         `json:"tiers" yaml:"tiers"`
	Trailing    TrailingConfig `json:"trailing" yaml:"trailing"`
	MaxHoldTime time.Duration  `json:"max_hold_time" yaml:"max_hold_time"`
}

// Position 已准入的开放仓位
// 由合规评估器创建，仅由退出管理器修改
type Position struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	EntryPrice    float64   `json:"entry_price"`
	StopLoss      float64   `json:"stop_loss"`
	OriginalSize  float64   `json:"original_size"`
	RemainingSize float64   `json:"remaining_size"`
	RiskAmount    float64   `json:"risk_amount"` // 准入时预留的账户货币风险
	Plan          ExitPlan  `json:"plan"`
	Status        string    `json:"status"`
	OpenTime      time.Time `json:"open_time"`
}

// Fill 一次部分或全部平仓成交
type Fill struct {
	Price        float64    `json:"price"`
	SizeFraction float64    `json:"size_fraction"` // 相对原始仓位的比例
	Reason       ExitReason `json:"reason"`
	Timestamp    time.Time  `json:"timestamp"`
}

// Trade 已终结的交易记录
type Trade struct {
	PositionID   string        `json:"position_id"`
	Symbol       string        `json:"symbol"`
	Side         string        `json:"side"`
	EntryPrice   float64       `json:"entry_price"`
	ExitPrice    float64       `json:"exit_price"` // 按成交量加权的平均退出价
	Size         float64       `json:"size"`
	Fills        []Fill        `json:"fills"`
	RealizedPnL  float64       `json:"realized_pnl"`
	ExitReason   ExitReason    `json:"exit_reason"` // 最后一笔成交的原因
	OpenTime     time.Time     `json:"open_time"`
	CloseTime    time.Time     `json:"close_time"`
	HoldDuration time.Duration `json:"hold_duration"`
}

// AccountState 账户状态
// 仅由合规评估器（准入时预留风险）和退出管理器（平仓时实现盈亏）修改
type AccountState struct {
	Balance        float64   `json:"balance"`
	InitialBalance float64   `json:"initial_balance"`
	PeakBalance    float64   `json:"peak_balance"`
	DayLoss        float64   `json:"day_loss"`      // 当日已实现亏损 + 已预留风险（正数）
	ReservedRisk   float64   `json:"reserved_risk"` // 当前开放仓位预留的总风险（跨日保留）
	DayPnL         float64   `json:"day_pnl"`
	TradesToday    int       `json:"trades_today"`
	DayStart       time.Time `json:"day_start"`
	IsFunded       bool      `json:"is_funded"`
	MonthsFunded   int       `json:"months_funded"`
}

// Drawdown 当前相对峰值的回撤金额
func (a *AccountState) Drawdown() float64 {
	dd := a.PeakBalance - a.Balance
	if dd < 0 {
		return 0
	}
	return dd
}

// ProgressToTarget 评估期利润目标完成比例
func (a *AccountState) ProgressToTarget(profitTarget float64) float64 {
	if profitTarget <= 0 {
		return 0
	}
	profit := a.Balance - a.InitialBalance
	if profit < 0 {
		return 0
	}
	return profit / profitTarget
}

// SymbolRiskState 单交易对滚动风险记录
// 仅由合规评估器在交易关闭后修改
type SymbolRiskState struct {
	Symbol            string    `json:"symbol"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	ConsecutiveWins   int       `json:"consecutive_wins"`
	RecentPnLFracs    []float64 `json:"recent_pnl_fracs"` // 最近5笔交易的盈亏比例
	Greylisted        bool      `json:"greylisted"`
	GreylistReason    string    `json:"greylist_reason,omitempty"`
	RiskScore         float64   `json:"risk_score"` // [0,1]，越高越危险
	LastUpdate        time.Time `json:"last_update"`
}

// TradeEvent 对外发布的交易事件
type TradeEvent struct {
	Type      string        `json:"type"` // ADMITTED, PARTIAL_CLOSE, CLOSED, REJECTED
	Symbol    string        `json:"symbol"`
	Side      string        `json:"side,omitempty"`
	Size      float64       `json:"size,omitempty"`
	Price     float64       `json:"price,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Position  *Position     `json:"position,omitempty"`
	Trade     *Trade        `json:"trade,omitempty"`
	Intent    *SignalIntent `json:"intent,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// 事件类型常量
const (
	EventAdmitted     = "ADMITTED"
	EventPartialClose = "PARTIAL_CLOSE"
	EventClosed       = "CLOSED"
	EventRejected     = "REJECTED"
)
