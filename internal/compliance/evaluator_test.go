package compliance

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/life2you_mini/signalbot/internal/config"
	"github.com/life2you_mini/signalbot/internal/model"
)

func newTestEvaluator(t *testing.T) (*Evaluator, *config.Config) {
	cfg := config.GetDefaultConfig()
	return NewEvaluator(cfg, zaptest.NewLogger(t)), cfg
}

func testProfile() config.RiskProfile {
	return config.RiskProfile{
		RiskFraction:    0.01,
		MaxTradesPerDay: 3,
		MinRewardRisk:   1.5,
		MinConfluence:   2,
		AllowedSymbols:  []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
		SizeMultiplier:  1.0,
	}
}

func longIntent(symbol string, entry, stop, tp float64, at time.Time) *model.SignalIntent {
	return &model.SignalIntent{
		Symbol:     symbol,
		Side:       model.SideLong,
		EntryPrice: entry,
		StopLoss:   stop,
		TakeProfit: tp,
		ReceivedAt: at,
	}
}

func TestReleaseAdmission_RestoresAccount(t *testing.T) {
	e, _ := newTestEvaluator(t)
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	intent := longIntent("BTCUSDT", 45000, 43000, 50000, now)

	decision := e.Evaluate(intent, "custom", testProfile())
	assert.True(t, decision.Admitted)

	e.ReleaseAdmission(decision.Position)

	// 预留风险、当日计数、重复判定记录全部还原
	account := e.AccountSnapshot()
	assert.Equal(t, 0, account.TradesToday)
	assert.InDelta(t, 0.0, account.ReservedRisk, 1e-9)
	assert.InDelta(t, 0.0, account.DayLoss, 1e-9)

	// 同一信号不再被判定为重复，可以重新准入
	retry := e.Evaluate(intent, "custom", testProfile())
	assert.True(t, retry.Admitted)
	assert.InDelta(t, decision.Position.RiskAmount, retry.Position.RiskAmount, 1e-9)
}

func TestEvaluate_AdmitWithExpectedSize(t *testing.T) {
	e, cfg := newTestEvaluator(t)
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	decision := e.Evaluate(longIntent("BTCUSDT", 45000, 43000, 50000, now), "custom", testProfile())

	assert.True(t, decision.Admitted)
	assert.NotNil(t, decision.Position)
	// 10000 × 0.01 / 2000 = 0.05
	assert.InDelta(t, 0.05, decision.Position.OriginalSize, 1e-9)
	assert.InDelta(t, 100.0, decision.Position.RiskAmount, 1e-9)
	assert.Equal(t, model.StatusOpen, decision.Position.Status)
	assert.Len(t, decision.Position.Plan.Tiers, len(cfg.Exit.DefaultTiers))

	account := e.AccountSnapshot()
	assert.Equal(t, 1, account.TradesToday)
	assert.InDelta(t, 100.0, account.ReservedRisk, 1e-9)
	assert.InDelta(t, 100.0, account.DayLoss, 1e-9)
}

func TestEvaluate_RejectReasons(t *testing.T) {
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		setup    func(e *Evaluator)
		intent   *model.SignalIntent
		profile  config.RiskProfile
		expected model.RejectReason
	}{
		{
			name:     "交易对不在白名单",
			intent:   longIntent("DOGEUSDT", 0.1, 0.09, 0.15, now),
			profile:  testProfile(),
			expected: model.RejectSymbolIneligible,
		},
		{
			name: "当日交易次数超限",
			setup: func(e *Evaluator) {
				e.account.TradesToday = 3
			},
			intent:   longIntent("BTCUSDT", 45000, 43000, 50000, now),
			profile:  testProfile(),
			expected: model.RejectDailyTradeLimit,
		},
		{
			name:     "盈亏比不足",
			intent:   longIntent("BTCUSDT", 45000, 43000, 46000, now),
			profile:  testProfile(),
			expected: model.RejectRewardRiskTooLow,
		},
		{
			name: "确认数不足",
			intent: &model.SignalIntent{
				Symbol: "BTCUSDT", Side: model.SideLong,
				EntryPrice: 45000, StopLoss: 43000, TakeProfit: 50000,
				Confluence: 1, ReceivedAt: now,
			},
			profile:  testProfile(),
			expected: model.RejectConfluenceTooLow,
		},
		{
			name:   "日亏损敞口越界",
			intent: longIntent("BTCUSDT", 45000, 43000, 50000, now),
			profile: config.RiskProfile{
				RiskFraction:    0.06,
				MaxTradesPerDay: 3,
				MinRewardRisk:   1.5,
				AllowedSymbols:  []string{"BTCUSDT"},
				SizeMultiplier:  1.0,
			},
			expected: model.RejectDailyLossWouldBreach,
		},
		{
			name:     "非主流交易对杠杆超限",
			intent:   longIntent("SOLUSDT", 100, 99.9, 101, now),
			profile:  testProfile(),
			expected: model.RejectLeverageExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEvaluator(t)
			if tt.setup != nil {
				tt.setup(e)
			}
			decision := e.Evaluate(tt.intent, "custom", tt.profile)
			assert.False(t, decision.Admitted)
			assert.Equal(t, tt.expected, decision.Reason)
		})
	}
}

func TestEvaluate_ConfluenceSkippedWhenAbsent(t *testing.T) {
	e, _ := newTestEvaluator(t)
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	// 信号未携带确认数时不做确认数检查
	decision := e.Evaluate(longIntent("BTCUSDT", 45000, 43000, 50000, now), "custom", testProfile())
	assert.True(t, decision.Admitted)
}

func TestEvaluate_DrawdownLimit(t *testing.T) {
	e, _ := newTestEvaluator(t)
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	// 先实现一笔400的亏损并跨日重置，回撤保留而日计数清零
	pos := &model.Position{
		ID: "pos-x", Symbol: "ETHUSDT", Side: model.SideLong,
		EntryPrice: 3000, OriginalSize: 1.0, RiskAmount: 400,
	}
	e.OnTradeClosed(pos, &model.Trade{PositionID: "pos-x", RealizedPnL: -400, CloseTime: now})
	assert.True(t, e.DailyReset(now.Add(24*time.Hour)))

	account := e.AccountSnapshot()
	assert.InDelta(t, 9600.0, account.Balance, 1e-9)
	assert.InDelta(t, 0.0, account.DayLoss, 1e-9)

	// 回撤限额600，已回撤400，再预留300将越界
	profile := testProfile()
	profile.RiskFraction = 0.03125 // 9600 × 0.03125 = 300
	decision := e.Evaluate(longIntent("BTCUSDT", 45000, 43000, 50000, now.Add(25*time.Hour)), "custom", profile)
	assert.False(t, decision.Admitted)
	assert.Equal(t, model.RejectDrawdownWouldBreach, decision.Reason)
}

func TestEvaluate_DuplicateWindow(t *testing.T) {
	e, _ := newTestEvaluator(t)
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	first := e.Evaluate(longIntent("BTCUSDT", 45000, 43000, 50000, now), "custom", testProfile())
	assert.True(t, first.Admitted)

	// 窗口内入场价偏差1%以内视为重复，不计入任何计数
	dup := e.Evaluate(longIntent("BTCUSDT", 45200, 43000, 50000, now.Add(10*time.Minute)), "custom", testProfile())
	assert.False(t, dup.Admitted)
	assert.Equal(t, model.RejectDuplicateSignal, dup.Reason)
	assert.Equal(t, 1, e.AccountSnapshot().TradesToday)

	// 入场价偏差超过1%不视为重复
	distinct := e.Evaluate(longIntent("BTCUSDT", 47000, 45000, 52000, now.Add(20*time.Minute)), "custom", testProfile())
	assert.True(t, distinct.Admitted)

	// 窗口外的相同信号不视为重复
	late := e.Evaluate(longIntent("BTCUSDT", 45000, 43000, 50000, now.Add(2*time.Hour)), "custom", testProfile())
	assert.True(t, late.Admitted)
}

func TestGreylist_EnterAndRecover(t *testing.T) {
	e, _ := newTestEvaluator(t)
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	closeWith := func(pnl float64) {
		pos := &model.Position{
			ID: "pos-g", Symbol: "SOLUSDT", Side: model.SideLong,
			EntryPrice: 100, OriginalSize: 10, RiskAmount: 100,
		}
		e.OnTradeClosed(pos, &model.Trade{PositionID: "pos-g", RealizedPnL: pnl, CloseTime: now})
	}

	// 连续4次亏损进入灰名单
	for i := 0; i < 4; i++ {
		closeWith(-50)
	}
	state := e.SymbolSnapshot("SOLUSDT")
	assert.True(t, state.Greylisted)
	assert.Equal(t, 4, state.ConsecutiveLosses)

	decision := e.Evaluate(longIntent("SOLUSDT", 100, 98, 110, now), "custom", testProfile())
	assert.False(t, decision.Admitted)
	assert.Equal(t, model.RejectSymbolIneligible, decision.Reason)

	// 连续3次盈利移出灰名单
	for i := 0; i < 3; i++ {
		closeWith(60)
	}
	state = e.SymbolSnapshot("SOLUSDT")
	assert.False(t, state.Greylisted)
	assert.Equal(t, 3, state.ConsecutiveWins)
}

func TestGreylist_CumulativeLoss(t *testing.T) {
	e, _ := newTestEvaluator(t)
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	// 亏损与盈利交替避免连亏触发，但5笔累计亏损超过15%
	pnls := []float64{-90, 10, -90, 10, -90} // 名义价值1000，单笔亏9%
	for _, pnl := range pnls {
		pos := &model.Position{
			ID: "pos-c", Symbol: "ETHUSDT", Side: model.SideLong,
			EntryPrice: 100, OriginalSize: 10, RiskAmount: 100,
		}
		e.OnTradeClosed(pos, &model.Trade{PositionID: "pos-c", RealizedPnL: pnl, CloseTime: now})
	}

	state := e.SymbolSnapshot("ETHUSDT")
	assert.True(t, state.Greylisted)
	assert.Less(t, state.ConsecutiveLosses, 4)
}

func TestDailyReset_Idempotent(t *testing.T) {
	e, _ := newTestEvaluator(t)
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	admitted := e.Evaluate(longIntent("BTCUSDT", 45000, 43000, 50000, now), "custom", testProfile())
	assert.True(t, admitted.Admitted)
	assert.Equal(t, 1, e.AccountSnapshot().TradesToday)

	// 跨过00:30日界后第一次重置生效
	next := time.Date(2026, 1, 3, 1, 0, 0, 0, time.UTC)
	assert.True(t, e.DailyReset(next))
	account := e.AccountSnapshot()
	assert.Equal(t, 0, account.TradesToday)
	// 开放仓位的预留风险继续计入日亏损敞口
	assert.InDelta(t, account.ReservedRisk, account.DayLoss, 1e-9)

	// 同一交易日内重复调用无效果
	assert.False(t, e.DailyReset(next.Add(5*time.Minute)))
	assert.False(t, e.DailyReset(next.Add(10*time.Hour)))
}

func TestEvaluate_ConcurrentSingleSlot(t *testing.T) {
	e, _ := newTestEvaluator(t)
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	profile := testProfile()
	profile.MaxTradesPerDay = 1

	const workers = 8
	var wg sync.WaitGroup
	decisions := make([]Decision, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry := 40000.0 + float64(i)*2000
			intent := longIntent("BTCUSDT", entry, entry-2000, entry+5000, now.Add(time.Duration(i)*time.Second))
			decisions[i] = e.Evaluate(intent, fmt.Sprintf("worker-%d", i), profile)
		}(i)
	}
	wg.Wait()

	var admitted int
	for _, d := range decisions {
		if d.Admitted {
			admitted++
		} else {
			assert.Equal(t, model.RejectDailyTradeLimit, d.Reason)
		}
	}
	assert.Equal(t, 1, admitted)
}

func TestEvaluate_FinalPushHalvesNearTarget(t *testing.T) {
	e, cfg := newTestEvaluator(t)
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	// 盈利进度达到95%后 final_push 额外减半
	pos := &model.Position{
		ID: "pos-w", Symbol: "BTCUSDT", Side: model.SideLong,
		EntryPrice: 45000, OriginalSize: 0.1, RiskAmount: 0,
	}
	e.OnTradeClosed(pos, &model.Trade{PositionID: "pos-w", RealizedPnL: 950, CloseTime: now})

	profile := cfg.RiskProfiles[config.ProfileFinalPush]
	decision := e.Evaluate(longIntent("BTCUSDT", 45000, 43000, 52000, now), config.ProfileFinalPush, profile)
	assert.True(t, decision.Admitted)

	expectedRisk := 10950.0 * profile.RiskFraction * profile.SizeMultiplier * 0.5
	assert.InDelta(t, expectedRisk, decision.Position.RiskAmount, 1e-6)
}
