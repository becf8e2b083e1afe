package replay

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/life2you_mini/signalbot/internal/compliance"
	"github.com/life2you_mini/signalbot/internal/config"
	"github.com/life2you_mini/signalbot/internal/exit"
	"github.com/life2you_mini/signalbot/internal/model"
	"github.com/life2you_mini/signalbot/internal/parser"
	"github.com/life2you_mini/signalbot/internal/riskmode"
)

// Stats 回放汇总统计
type Stats struct {
	SignalCount  int           `json:"signal_count"`
	AdmitCount   int           `json:"admit_count"`
	RejectCount  int           `json:"reject_count"`
	TradeCount   int           `json:"trade_count"`
	WinCount     int           `json:"win_count"`
	WinRate      float64       `json:"win_rate"`
	TotalPnL     float64       `json:"total_pnl"`
	FinalBalance float64       `json:"final_balance"`
	AvgHold      time.Duration `json:"avg_hold"`
}

// Result 一次回放的输出：交易记录 + 汇总统计
type Result struct {
	Name   string        `json:"name"`
	Trades []model.Trade `json:"trades"`
	Stats  Stats         `json:"stats"`
}

// Simulator 回放模拟器
// 驱动与实盘完全相同的评估与退出状态机，只替换数据来源与时钟：
// 相同输入必须产生逐位一致的决策
type Simulator struct {
	logger *zap.Logger
	cfg    *config.Config
}

// NewSimulator 创建回放模拟器
func NewSimulator(cfg *config.Config, logger *zap.Logger) *Simulator {
	return &Simulator{
		logger: logger.With(zap.String("component", "replay")),
		cfg:    cfg,
	}
}

// ReplayPosition 用历史价格序列回放单个仓位的退出生命周期
// 序列结束仍未终结时按最后一个有效价格强制平仓
func ReplayPosition(position *model.Position, series []model.PricePoint) (*model.Trade, error) {
	tracker, err := exit.NewTracker(position)
	if err != nil {
		return nil, err
	}

	var lastPoint *model.PricePoint
	for i := range series {
		point := &series[i]
		if point.Symbol != position.Symbol {
			continue
		}
		if lastPoint != nil && point.Timestamp.Before(lastPoint.Timestamp) {
			return nil, fmt.Errorf("价格时间戳回退: %s", point.Timestamp)
		}
		lastPoint = point
		tracker.OnPrice(point.Price, point.Timestamp)
		if tracker.Done() {
			return tracker.Trade(), nil
		}
	}

	if lastPoint == nil {
		return nil, fmt.Errorf("序列中没有交易对 %s 的价格点", position.Symbol)
	}
	tracker.ForceClose(lastPoint.Price, lastPoint.Timestamp)
	return tracker.Trade(), nil
}

// 回放事件：同一时刻信号先于价格处理
type event struct {
	at     time.Time
	signal *SignalFixture
	price  *PriceFixture
}

// Run 回放一份完整输入：信号经解析、模式选择、合规评估进入退出状态机，
// 价格点同步驱动所有开放仓位，时钟完全由序列时间戳推进
func (s *Simulator) Run(fixture *Fixture) (*Result, error) {
	if err := fixture.Validate(); err != nil {
		return nil, err
	}

	evaluator := compliance.NewEvaluator(s.cfg, s.logger)
	controller := riskmode.NewController(s.cfg, s.logger)

	events := mergeEvents(fixture)
	trackers := make(map[string][]*exit.Tracker) // 按交易对的开放仓位
	result := &Result{Name: fixture.Name}

	for _, ev := range events {
		// 跨日界时先执行幂等重置
		if evaluator.DailyReset(ev.at) {
			controller.OnDailyReset(s.inputs(evaluator))
		}

		if ev.signal != nil {
			s.processSignal(ev.signal, evaluator, controller, trackers, result)
			continue
		}

		point := ev.price
		open := trackers[point.Symbol]
		kept := open[:0]
		for _, tracker := range open {
			tracker.OnPrice(point.Price, point.At)
			if tracker.Done() {
				trade := tracker.Trade()
				evaluator.OnTradeClosed(tracker.Position(), trade)
				result.Trades = append(result.Trades, *trade)
			} else {
				kept = append(kept, tracker)
			}
		}
		trackers[point.Symbol] = kept
	}

	s.finishStats(result, evaluator)
	return result, nil
}

func (s *Simulator) processSignal(sig *SignalFixture, evaluator *compliance.Evaluator,
	controller *riskmode.Controller, trackers map[string][]*exit.Tracker, result *Result) {

	intent, err := parser.ParseAt(sig.Text, sig.Source, sig.At)
	if err != nil {
		if !errors.Is(err, parser.ErrNotASignal) {
			s.logger.Debug("回放信号解析失败", zap.String("text", sig.Text), zap.Error(err))
		}
		return
	}
	result.Stats.SignalCount++

	mode := controller.Evaluate(s.inputs(evaluator))
	if mode == riskmode.ModeStopped {
		result.Stats.RejectCount++
		return
	}
	profileName, profile, err := controller.ActiveProfile()
	if err != nil {
		result.Stats.RejectCount++
		return
	}

	decision := evaluator.Evaluate(intent, profileName, profile)
	if !decision.Admitted {
		result.Stats.RejectCount++
		return
	}
	result.Stats.AdmitCount++

	tracker, err := exit.NewTracker(decision.Position)
	if err != nil {
		s.logger.Error("准入仓位的退出计划无效", zap.Error(err))
		evaluator.ReleaseAdmission(decision.Position)
		result.Stats.AdmitCount--
		result.Stats.RejectCount++
		return
	}
	trackers[intent.Symbol] = append(trackers[intent.Symbol], tracker)
}

// Score 用同一份回放输入为多组退出参数打分，按总盈亏降序排列
func (s *Simulator) Score(fixture *Fixture, sets []ParameterSet) ([]ScoredResult, error) {
	scored := make([]ScoredResult, 0, len(sets))
	for _, set := range sets {
		cfg := *s.cfg
		cfg.Exit = overrideExit(s.cfg.Exit, set)

		sim := &Simulator{logger: s.logger, cfg: &cfg}
		result, err := sim.Run(fixture)
		if err != nil {
			return nil, fmt.Errorf("参数组 %s 回放失败: %w", set.Name, err)
		}
		scored = append(scored, ScoredResult{Set: set, Result: result})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Result.Stats.TotalPnL > scored[j].Result.Stats.TotalPnL
	})
	return scored, nil
}

// ParameterSet 待评估的退出参数组合
type ParameterSet struct {
	Name     string               `yaml:"name"`
	Tiers    []config.TierConfig  `yaml:"tiers"`
	Trailing model.TrailingConfig `yaml:"trailing"`
}

// ScoredResult 参数组及其回放结果
type ScoredResult struct {
	Set    ParameterSet
	Result *Result
}

func overrideExit(base config.ExitConfig, set ParameterSet) config.ExitConfig {
	out := base
	if len(set.Tiers) > 0 {
		out.DefaultTiers = set.Tiers
	}
	if set.Trailing.TrailDistance > 0 {
		out.Activation = set.Trailing.Activation
		out.TrailDistance = set.Trailing.TrailDistance
		out.MinExitFloor = set.Trailing.MinExitFloor
	}
	return out
}

func (s *Simulator) inputs(evaluator *compliance.Evaluator) riskmode.Inputs {
	account := evaluator.AccountSnapshot()
	return riskmode.InputsFromAccount(account.Balance, account.InitialBalance,
		account.PeakBalance, account.DayLoss, account.IsFunded, account.MonthsFunded, s.cfg)
}

func (s *Simulator) finishStats(result *Result, evaluator *compliance.Evaluator) {
	stats := &result.Stats
	stats.TradeCount = len(result.Trades)

	var totalHold time.Duration
	for _, trade := range result.Trades {
		stats.TotalPnL += trade.RealizedPnL
		totalHold += trade.HoldDuration
		if trade.RealizedPnL > 0 {
			stats.WinCount++
		}
	}
	if stats.TradeCount > 0 {
		stats.WinRate = float64(stats.WinCount) / float64(stats.TradeCount)
		stats.AvgHold = totalHold / time.Duration(stats.TradeCount)
	}
	stats.FinalBalance = evaluator.AccountSnapshot().Balance

	s.logger.Info("回放完成",
		zap.String("name", result.Name),
		zap.Int("signals", stats.SignalCount),
		zap.Int("admitted", stats.AdmitCount),
		zap.Int("trades", stats.TradeCount),
		zap.Float64("win_rate", stats.WinRate),
		zap.Float64("total_pnl", stats.TotalPnL))
}

// mergeEvents 按时间合并信号与价格，稳定排序保证同刻事件的处理顺序确定
func mergeEvents(fixture *Fixture) []event {
	events := make([]event, 0, len(fixture.Prices)+len(fixture.Signals))
	for i := range fixture.Signals {
		sig := &fixture.Signals[i]
		events = append(events, event{at: sig.At, signal: sig})
	}
	for i := range fixture.Prices {
		price := &fixture.Prices[i]
		events = append(events, event{at: price.At, price: price})
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].at.Equal(events[j].at) {
			return events[i].signal != nil && events[j].signal == nil
		}
		return events[i].at.Before(events[j].at)
	})
	return events
}
