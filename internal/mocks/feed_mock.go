package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/life2you_mini/signalbot/internal/model"
)

// MockMarketClient 行情客户端的模拟实现
type MockMarketClient struct {
	mock.Mock
}

// Name 来源名称的模拟实现
func (m *MockMarketClient) Name() string {
	args := m.Called()
	return args.String(0)
}

// GetPrice 获取价格的模拟实现
func (m *MockMarketClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

// FakePriceFeed 测试用的手动行情来源：测试代码直接往通道里塞价格点
type FakePriceFeed struct {
	ch chan model.PricePoint
}

// NewFakePriceFeed 创建手动行情来源
func NewFakePriceFeed() *FakePriceFeed {
	return &FakePriceFeed{ch: make(chan model.PricePoint, 64)}
}

// Start 启动的空实现
func (f *FakePriceFeed) Start(ctx context.Context) error { return nil }

// Stop 停止的空实现
func (f *FakePriceFeed) Stop() {}

// Watch 订阅的空实现
func (f *FakePriceFeed) Watch(symbol string) {}

// Unwatch 取消订阅的空实现
func (f *FakePriceFeed) Unwatch(symbol string) {}

// Prices 价格点输出通道
func (f *FakePriceFeed) Prices() <-chan model.PricePoint { return f.ch }

// Emit 向通道写入一个价格点
func (f *FakePriceFeed) Emit(point model.PricePoint) {
	f.ch <- point
}
