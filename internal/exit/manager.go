package exit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/life2you_mini/signalbot/internal/model"
)

// FillHandler 部分平仓回调
type FillHandler func(position *model.Position, fill model.Fill)

// TradeHandler 仓位终结回调，交易记录交给合规评估器的结算钩子与事件发布
type TradeHandler func(position *model.Position, trade *model.Trade)

// forceRequest 强制平仓请求
type forceRequest struct {
	price float64
	ts    time.Time
	done  chan error
}

// worker 单个仓位的所有者任务，串行消费该仓位的价格更新
type worker struct {
	tracker *Tracker
	prices  chan model.PricePoint
	force   chan forceRequest
}

// Manager 退出管理器
// 每个开放仓位由且仅由一个任务驱动，不同仓位并行处理
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	wg     sync.WaitGroup

	onFill  FillHandler
	onTrade TradeHandler

	mu        sync.Mutex
	byID      map[string]*worker
	bySymbol  map[string]map[string]*worker
	isRunning bool
}

// NewManager 创建退出管理器
func NewManager(logger *zap.Logger, onFill FillHandler, onTrade TradeHandler) *Manager {
	return &Manager{
		logger:   logger.With(zap.String("component", "exit_manager")),
		onFill:   onFill,
		onTrade:  onTrade,
		byID:     make(map[string]*worker),
		bySymbol: make(map[string]map[string]*worker),
	}
}

// Start 启动管理器
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isRunning {
		return fmt.Errorf("退出管理器已在运行")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.isRunning = true
	m.logger.Info("退出管理器已启动")
	return nil
}

// Stop 停止管理器并等待所有仓位任务退出
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = false
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("退出管理器已停止")
}

// Track 接管一个已准入仓位的退出生命周期
// 退出计划不满足不变量时返回 InvariantViolation，不发出任何成交
func (m *Manager) Track(position *model.Position) error {
	tracker, err := NewTracker(position)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isRunning {
		return fmt.Errorf("退出管理器未运行")
	}
	if _, exists := m.byID[position.ID]; exists {
		return &InvariantViolation{Msg: fmt.Sprintf("仓位 %s 已被跟踪", position.ID)}
	}

	w := &worker{
		tracker: tracker,
		prices:  make(chan model.PricePoint, 64),
		force:   make(chan forceRequest),
	}
	m.byID[position.ID] = w
	if m.bySymbol[position.Symbol] == nil {
		m.bySymbol[position.Symbol] = make(map[string]*worker)
	}
	m.bySymbol[position.Symbol][position.ID] = w

	m.wg.Add(1)
	go m.run(w)

	m.logger.Info("开始跟踪仓位",
		zap.String("position_id", position.ID),
		zap.String("symbol", position.Symbol),
		zap.String("side", position.Side),
		zap.Float64("size", position.OriginalSize))
	return nil
}

// OnPrice 按交易对分发价格更新到各仓位任务
// 没有开放仓位的交易对直接忽略
func (m *Manager) OnPrice(point model.PricePoint) {
	m.mu.Lock()
	workers := make([]*worker, 0, len(m.bySymbol[point.Symbol]))
	for _, w := range m.bySymbol[point.Symbol] {
		workers = append(workers, w)
	}
	m.mu.Unlock()

	for _, w := range workers {
		select {
		case w.prices <- point:
		case <-m.ctx.Done():
			return
		}
	}
}

// ForceClose 从价格驱动路径之外强制平仓（紧急停止）
// 与价格更新由同一任务串行处理
func (m *Manager) ForceClose(positionID string, price float64, ts time.Time) error {
	m.mu.Lock()
	w, ok := m.byID[positionID]
	m.mu.Unlock()
	if !ok {
		return &InvariantViolation{Msg: fmt.Sprintf("强制平仓的仓位不存在: %s", positionID)}
	}

	req := forceRequest{price: price, ts: ts, done: make(chan error, 1)}
	select {
	case w.force <- req:
		return <-req.done
	case <-m.ctx.Done():
		return m.ctx.Err()
	}
}

// OpenPositions 返回当前开放仓位快照
func (m *Manager) OpenPositions() []*model.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	positions := make([]*model.Position, 0, len(m.byID))
	for _, w := range m.byID {
		positions = append(positions, w.tracker.Position())
	}
	return positions
}

// run 仓位所有者任务主循环
func (m *Manager) run(w *worker) {
	defer m.wg.Done()
	position := w.tracker.Position()

	for {
		select {
		case <-m.ctx.Done():
			return
		case point := <-w.prices:
			fills := w.tracker.OnPrice(point.Price, point.Timestamp)
			if w.tracker.Done() {
				// 最后一笔成交随交易记录一起发布，之前的按部分平仓发布
				m.dispatch(w, fills[:len(fills)-1])
				m.finalize(w)
				return
			}
			m.dispatch(w, fills)
		case req := <-w.force:
			if w.tracker.ForceClose(req.price, req.ts) == nil {
				req.done <- fmt.Errorf("仓位 %s 已终结", position.ID)
				continue
			}
			m.finalize(w)
			req.done <- nil
			return
		}
	}
}

// dispatch 发布部分平仓回调，终结的最后一笔由 finalize 连同交易记录发布
func (m *Manager) dispatch(w *worker, fills []model.Fill) {
	position := w.tracker.Position()
	for _, fill := range fills {
		m.logger.Info("仓位部分平仓",
			zap.String("position_id", position.ID),
			zap.String("symbol", position.Symbol),
			zap.String("reason", string(fill.Reason)),
			zap.Float64("price", fill.Price),
			zap.Float64("size_fraction", fill.SizeFraction),
			zap.Float64("remaining_size", position.RemainingSize))
		if m.onFill != nil {
			m.onFill(position, fill)
		}
	}
}

// finalize 终结仓位：生成交易记录、发布回调、从索引移除
func (m *Manager) finalize(w *worker) {
	position := w.tracker.Position()
	trade := w.tracker.Trade()

	m.mu.Lock()
	delete(m.byID, position.ID)
	if symbolWorkers, ok := m.bySymbol[position.Symbol]; ok {
		delete(symbolWorkers, position.ID)
		if len(symbolWorkers) == 0 {
			delete(m.bySymbol, position.Symbol)
		}
	}
	m.mu.Unlock()

	m.logger.Info("仓位终结",
		zap.String("position_id", position.ID),
		zap.String("symbol", position.Symbol),
		zap.String("exit_reason", string(trade.ExitReason)),
		zap.Float64("realized_pnl", trade.RealizedPnL),
		zap.Duration("hold_duration", trade.HoldDuration))

	if m.onTrade != nil {
		m.onTrade(position, trade)
	}
}
