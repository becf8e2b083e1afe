package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/life2you_mini/signalbot/internal/model"
)

// 单次行情请求的超时时间
const fetchTimeout = 5 * time.Second

// Poller 轮询式行情来源
// 按固定间隔为每个订阅中的交易对拉取最新价并写入输出通道
type Poller struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	wg     sync.WaitGroup

	client   MarketClient
	interval time.Duration
	out      chan model.PricePoint

	mu        sync.Mutex
	watched   map[string]int // 订阅计数：同一交易对可能有多个仓位
	isRunning bool
}

// NewPoller 创建轮询行情来源
func NewPoller(client MarketClient, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		logger:   logger.With(zap.String("component", "price_poller")),
		client:   client,
		interval: interval,
		out:      make(chan model.PricePoint, 256),
		watched:  make(map[string]int),
	}
}

// Start 启动轮询
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isRunning {
		return fmt.Errorf("行情轮询已在运行")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.isRunning = true

	p.wg.Add(1)
	go p.loop()

	p.logger.Info("行情轮询已启动",
		zap.String("source", p.client.Name()),
		zap.Duration("interval", p.interval))
	return nil
}

// Stop 停止轮询
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return
	}
	p.isRunning = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("行情轮询已停止")
}

// Watch 订阅交易对
func (p *Poller) Watch(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watched[symbol]++
}

// Unwatch 取消订阅，计数归零后不再轮询
func (p *Poller) Unwatch(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watched[symbol] > 1 {
		p.watched[symbol]--
	} else {
		delete(p.watched, symbol)
	}
}

// Prices 价格点输出通道
func (p *Poller) Prices() <-chan model.PricePoint {
	return p.out
}

func (p *Poller) loop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

func (p *Poller) pollOnce() {
	p.mu.Lock()
	symbols := make([]string, 0, len(p.watched))
	for symbol := range p.watched {
		symbols = append(symbols, symbol)
	}
	p.mu.Unlock()

	for _, symbol := range symbols {
		ctx, cancel := context.WithTimeout(p.ctx, fetchTimeout)
		price, err := p.client.GetPrice(ctx, symbol)
		cancel()
		if err != nil {
			p.logger.Warn("拉取价格失败", zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		point := model.PricePoint{
			Symbol:    symbol,
			Price:     price,
			Timestamp: time.Now().UTC(),
		}
		select {
		case p.out <- point:
		case <-p.ctx.Done():
			return
		}
	}
}
