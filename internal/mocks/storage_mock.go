package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/life2you_mini/signalbot/internal/model"
)

// MockStorage 持久化接口的模拟实现
type MockStorage struct {
	mock.Mock
}

// Initialize 初始化的模拟实现
func (m *MockStorage) Initialize(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Close 关闭连接的模拟实现
func (m *MockStorage) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Health 健康检查的模拟实现
func (m *MockStorage) Health(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// StoreAccountState 保存账户状态的模拟实现
func (m *MockStorage) StoreAccountState(ctx context.Context, state *model.AccountState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

// LoadAccountState 读取账户状态的模拟实现
func (m *MockStorage) LoadAccountState(ctx context.Context) (*model.AccountState, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AccountState), args.Error(1)
}

// StorePosition 保存持仓的模拟实现
func (m *MockStorage) StorePosition(ctx context.Context, position *model.Position) error {
	args := m.Called(ctx, position)
	return args.Error(0)
}

// GetOpenPositions 获取开放持仓的模拟实现
func (m *MockStorage) GetOpenPositions(ctx context.Context) ([]*model.Position, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Position), args.Error(1)
}

// RemovePosition 删除持仓的模拟实现
func (m *MockStorage) RemovePosition(ctx context.Context, positionID string) error {
	args := m.Called(ctx, positionID)
	return args.Error(0)
}

// StoreTrade 保存交易记录的模拟实现
func (m *MockStorage) StoreTrade(ctx context.Context, trade *model.Trade) error {
	args := m.Called(ctx, trade)
	return args.Error(0)
}

// GetRecentTrades 获取最近交易记录的模拟实现
func (m *MockStorage) GetRecentTrades(ctx context.Context, limit int) ([]*model.Trade, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Trade), args.Error(1)
}

// StoreSymbolState 保存交易对状态的模拟实现
func (m *MockStorage) StoreSymbolState(ctx context.Context, state *model.SymbolRiskState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

// LoadSymbolStates 读取交易对状态的模拟实现
func (m *MockStorage) LoadSymbolStates(ctx context.Context) (map[string]*model.SymbolRiskState, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]*model.SymbolRiskState), args.Error(1)
}

// StoreEvent 保存交易事件的模拟实现
func (m *MockStorage) StoreEvent(ctx context.Context, event *model.TradeEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
