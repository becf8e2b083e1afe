package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/life2you_mini/signalbot/internal/compliance"
	"github.com/life2you_mini/signalbot/internal/config"
	"github.com/life2you_mini/signalbot/internal/exit"
	"github.com/life2you_mini/signalbot/internal/feed"
	"github.com/life2you_mini/signalbot/internal/model"
	"github.com/life2you_mini/signalbot/internal/parser"
	"github.com/life2you_mini/signalbot/internal/riskmode"
	"github.com/life2you_mini/signalbot/internal/storage"
)

const (
	// 信号队列阻塞弹出的超时时间
	signalPopTimeout = 5 * time.Second
	// 单条信号处理（含持久化）的超时时间
	signalTaskTimeout = 10 * time.Second
	// 每日重置检查间隔
	resetCheckInterval = 30 * time.Second
)

// Engine 信号驱动的仓位风控引擎
// 信号入口 → 解析 → 模式选择 → 合规准入 → 退出生命周期 → 事件出口
type Engine struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	wg     sync.WaitGroup

	cfg        *config.Config
	evaluator  *compliance.Evaluator
	controller *riskmode.Controller
	exits      *exit.Manager
	priceFeed  feed.PriceFeed
	store      storage.Storage
	queue      storage.Queue

	mu         sync.Mutex
	lastPrices map[string]float64
	isRunning  bool
}

// NewEngine 创建引擎并接好内部组件
func NewEngine(cfg *config.Config, store storage.Storage, queue storage.Queue,
	priceFeed feed.PriceFeed, logger *zap.Logger) *Engine {

	e := &Engine{
		logger:     logger.With(zap.String("component", "engine")),
		cfg:        cfg,
		evaluator:  compliance.NewEvaluator(cfg, logger),
		controller: riskmode.NewController(cfg, logger),
		priceFeed:  priceFeed,
		store:      store,
		queue:      queue,
		lastPrices: make(map[string]float64),
	}
	e.exits = exit.NewManager(logger, e.onPartialClose, e.onTradeClosed)
	return e
}

// Start 恢复持久化状态并启动各处理循环
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return fmt.Errorf("引擎已在运行")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.isRunning = true
	e.mu.Unlock()

	if err := e.restore(); err != nil {
		return fmt.Errorf("恢复持久化状态失败: %w", err)
	}
	if err := e.exits.Start(e.ctx); err != nil {
		return err
	}
	if err := e.priceFeed.Start(e.ctx); err != nil {
		return err
	}
	if err := e.resumePositions(); err != nil {
		return fmt.Errorf("恢复开放仓位失败: %w", err)
	}

	e.wg.Add(3)
	go e.signalLoop()
	go e.priceLoop()
	go e.resetLoop()

	e.logger.Info("引擎已启动")
	return nil
}

// Stop 停止引擎并等待处理循环退出
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.isRunning {
		e.mu.Unlock()
		return
	}
	e.isRunning = false
	e.cancel()
	e.mu.Unlock()

	e.priceFeed.Stop()
	e.exits.Stop()
	e.wg.Wait()
	e.logger.Info("引擎已停止")
}

// restore 从存储恢复账户、交易对状态与开放仓位
func (e *Engine) restore() error {
	ctx, cancel := context.WithTimeout(e.ctx, signalTaskTimeout)
	defer cancel()

	account, err := e.store.LoadAccountState(ctx)
	if err != nil {
		return err
	}
	e.evaluator.RestoreAccount(account)

	symbolStates, err := e.store.LoadSymbolStates(ctx)
	if err != nil {
		return err
	}
	e.evaluator.RestoreSymbolStates(symbolStates)
	return nil
}

// resumePositions 引擎启动后重新接管持久化的开放仓位
// 必须在退出管理器启动之后调用
func (e *Engine) resumePositions() error {
	ctx, cancel := context.WithTimeout(e.ctx, signalTaskTimeout)
	defer cancel()

	positions, err := e.store.GetOpenPositions(ctx)
	if err != nil {
		return err
	}
	for _, position := range positions {
		if err := e.exits.Track(position); err != nil {
			e.logger.Error("恢复仓位失败",
				zap.String("position_id", position.ID), zap.Error(err))
			continue
		}
		e.priceFeed.Watch(position.Symbol)
		e.logger.Info("已恢复开放仓位",
			zap.String("position_id", position.ID),
			zap.String("symbol", position.Symbol))
	}
	return nil
}

// signalLoop 信号队列消费循环
func (e *Engine) signalLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		default:
		}

		data, err := e.queue.Pop(e.ctx, storage.QueueInboundSignals, signalPopTimeout)
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			e.logger.Error("弹出信号失败", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if data == nil {
			continue
		}

		var signal storage.InboundSignal
		if err := json.Unmarshal(data, &signal); err != nil {
			e.logger.Error("解析信号消息失败", zap.Error(err))
			continue
		}
		if signal.ReceivedAt.IsZero() {
			signal.ReceivedAt = time.Now().UTC()
		}
		e.handleSignal(&signal)
	}
}

// handleSignal 处理一条原始信号：解析 → 模式 → 合规 → 接管退出
func (e *Engine) handleSignal(signal *storage.InboundSignal) {
	intent, err := parser.ParseAt(signal.Text, signal.Source, signal.ReceivedAt)
	if err != nil {
		// 非信号消息静默忽略，格式错误的信号只记日志
		if errors.Is(err, parser.ErrNotASignal) {
			e.logger.Debug("忽略非信号消息", zap.String("source", signal.Source))
		} else {
			e.logger.Warn("信号格式错误", zap.String("source", signal.Source), zap.Error(err))
		}
		return
	}

	mode := e.controller.Evaluate(e.riskInputs())
	if mode == riskmode.ModeStopped {
		e.emitRejected(intent, model.RejectTradingStopped, "交易已停止，等待每日重置")
		return
	}
	profileName, profile, err := e.controller.ActiveProfile()
	if err != nil {
		e.logger.Error("获取风险参数失败", zap.Error(err))
		return
	}

	decision := e.evaluator.Evaluate(intent, profileName, profile)
	if !decision.Admitted {
		e.emitRejected(intent, decision.Reason, decision.Detail)
		return
	}

	if err := e.exits.Track(decision.Position); err != nil {
		// 准入后无法接管是不变量错误，必须大声暴露
		// 同时回滚预留，账户状态不能被一个从未开始的仓位污染
		e.logger.Error("接管准入仓位失败",
			zap.String("position_id", decision.Position.ID), zap.Error(err))
		e.evaluator.ReleaseAdmission(decision.Position)
		return
	}
	e.priceFeed.Watch(intent.Symbol)

	ctx, cancel := context.WithTimeout(e.ctx, signalTaskTimeout)
	defer cancel()
	e.persistAccount(ctx)
	if err := e.store.StorePosition(ctx, decision.Position); err != nil {
		e.logger.Error("持久化仓位失败", zap.Error(err))
	}

	e.emit(&model.TradeEvent{
		Type:      model.EventAdmitted,
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		Size:      decision.Position.OriginalSize,
		Price:     intent.EntryPrice,
		Position:  decision.Position,
		Intent:    intent,
		Timestamp: signal.ReceivedAt,
	})
}

// priceLoop 行情分发循环
func (e *Engine) priceLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case point := <-e.priceFeed.Prices():
			e.mu.Lock()
			e.lastPrices[point.Symbol] = point.Price
			e.mu.Unlock()
			e.exits.OnPrice(point)
		}
	}
}

// resetLoop 每日重置调度循环，幂等操作可安全重试
func (e *Engine) resetLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(resetCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if e.evaluator.DailyReset(time.Now().UTC()) {
				mode := e.controller.OnDailyReset(e.riskInputs())
				e.logger.Info("每日重置完成", zap.String("mode", string(mode)))

				ctx, cancel := context.WithTimeout(e.ctx, signalTaskTimeout)
				e.persistAccount(ctx)
				cancel()
			}
		}
	}
}

// onPartialClose 部分平仓回调：持久化并发布事件
func (e *Engine) onPartialClose(position *model.Position, fill model.Fill) {
	ctx, cancel := context.WithTimeout(e.ctx, signalTaskTimeout)
	defer cancel()
	if err := e.store.StorePosition(ctx, position); err != nil {
		e.logger.Error("持久化仓位失败", zap.Error(err))
	}

	e.emit(&model.TradeEvent{
		Type:      model.EventPartialClose,
		Symbol:    position.Symbol,
		Side:      position.Side,
		Size:      position.OriginalSize * fill.SizeFraction,
		Price:     fill.Price,
		Reason:    string(fill.Reason),
		Position:  position,
		Timestamp: fill.Timestamp,
	})
}

// onTradeClosed 仓位终结回调：结算、持久化、发布事件，必要时紧急停止
func (e *Engine) onTradeClosed(position *model.Position, trade *model.Trade) {
	e.evaluator.OnTradeClosed(position, trade)
	e.priceFeed.Unwatch(position.Symbol)

	ctx, cancel := context.WithTimeout(e.ctx, signalTaskTimeout)
	defer cancel()
	if err := e.store.RemovePosition(ctx, position.ID); err != nil {
		e.logger.Error("删除持仓失败", zap.Error(err))
	}
	if err := e.store.StoreTrade(ctx, trade); err != nil {
		e.logger.Error("持久化交易记录失败", zap.Error(err))
	}
	symbolState := e.evaluator.SymbolSnapshot(position.Symbol)
	if err := e.store.StoreSymbolState(ctx, &symbolState); err != nil {
		e.logger.Error("持久化交易对状态失败", zap.Error(err))
	}
	e.persistAccount(ctx)

	e.emit(&model.TradeEvent{
		Type:      model.EventClosed,
		Symbol:    position.Symbol,
		Side:      position.Side,
		Size:      trade.Size,
		Price:     trade.ExitPrice,
		Reason:    string(trade.ExitReason),
		Trade:     trade,
		Timestamp: trade.CloseTime,
	})

	// 限额击穿后立即停止并清空剩余仓位
	if e.controller.Evaluate(e.riskInputs()) == riskmode.ModeStopped {
		go e.emergencyStop()
	}
}

// emergencyStop 强制平掉所有开放仓位
func (e *Engine) emergencyStop() {
	now := time.Now().UTC()
	for _, position := range e.exits.OpenPositions() {
		e.mu.Lock()
		price, ok := e.lastPrices[position.Symbol]
		e.mu.Unlock()
		if !ok {
			price = position.EntryPrice
		}
		if err := e.exits.ForceClose(position.ID, price, now); err != nil {
			e.logger.Error("紧急平仓失败",
				zap.String("position_id", position.ID), zap.Error(err))
		}
	}
}

// StatusReport 账户与限额快照，供外部看板协作方消费
type StatusReport struct {
	Mode             string  `json:"mode"`
	Balance          float64 `json:"balance"`
	InitialBalance   float64 `json:"initial_balance"`
	PeakBalance      float64 `json:"peak_balance"`
	ProgressToTarget float64 `json:"progress_to_target"`
	DailyLossUsed    float64 `json:"daily_loss_used"`
	DrawdownUsed     float64 `json:"drawdown_used"`
	TradesToday      int     `json:"trades_today"`
	OpenPositions    int     `json:"open_positions"`
}

// Status 生成当前状态报告，只读：不触发模式转移
func (e *Engine) Status() StatusReport {
	account := e.evaluator.AccountSnapshot()
	inputs := e.riskInputs()
	return StatusReport{
		Mode:             string(e.controller.Preview(inputs)),
		Balance:          account.Balance,
		InitialBalance:   account.InitialBalance,
		PeakBalance:      account.PeakBalance,
		ProgressToTarget: inputs.ProgressToTarget,
		DailyLossUsed:    inputs.DailyLossUsed,
		DrawdownUsed:     inputs.DrawdownUsed,
		TradesToday:      account.TradesToday,
		OpenPositions:    len(e.exits.OpenPositions()),
	}
}

func (e *Engine) riskInputs() riskmode.Inputs {
	account := e.evaluator.AccountSnapshot()
	return riskmode.InputsFromAccount(account.Balance, account.InitialBalance,
		account.PeakBalance, account.DayLoss, account.IsFunded, account.MonthsFunded, e.cfg)
}

func (e *Engine) persistAccount(ctx context.Context) {
	account := e.evaluator.AccountSnapshot()
	if err := e.store.StoreAccountState(ctx, &account); err != nil {
		e.logger.Error("持久化账户状态失败", zap.Error(err))
	}
}

func (e *Engine) emitRejected(intent *model.SignalIntent, reason model.RejectReason, detail string) {
	e.logger.Info("信号被拒绝",
		zap.String("symbol", intent.Symbol),
		zap.String("reason", string(reason)),
		zap.String("detail", detail))
	e.emit(&model.TradeEvent{
		Type:      model.EventRejected,
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		Reason:    string(reason),
		Intent:    intent,
		Timestamp: intent.ReceivedAt,
	})
}

// emit 发布交易事件：出口队列 + 事件历史
func (e *Engine) emit(event *model.TradeEvent) {
	ctx, cancel := context.WithTimeout(e.ctx, signalTaskTimeout)
	defer cancel()

	if err := e.queue.Push(ctx, storage.QueueOutboundEvents, event); err != nil {
		e.logger.Error("发布交易事件失败", zap.Error(err))
	}
	if err := e.store.StoreEvent(ctx, event); err != nil {
		e.logger.Error("保存交易事件失败", zap.Error(err))
	}
}
