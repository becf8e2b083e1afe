package storage

import (
	"context"

	"github.com/life2you_mini/signalbot/internal/model"
)

// Storage 定义持久化层接口，可以有多种实现（Redis、PostgreSQL等）
type Storage interface {
	// 基础操作
	Initialize(ctx context.Context) error
	Close(ctx context.Context) error
	Health(ctx context.Context) error

	// 账户状态：引擎启动时恢复，变更后持续写回
	StoreAccountState(ctx context.Context, state *model.AccountState) error
	LoadAccountState(ctx context.Context) (*model.AccountState, error)

	// 持仓操作
	StorePosition(ctx context.Context, position *model.Position) error
	GetOpenPositions(ctx context.Context) ([]*model.Position, error)
	RemovePosition(ctx context.Context, positionID string) error

	// 交易记录操作
	StoreTrade(ctx context.Context, trade *model.Trade) error
	GetRecentTrades(ctx context.Context, limit int) ([]*model.Trade, error)

	// 交易对风险状态操作
	StoreSymbolState(ctx context.Context, state *model.SymbolRiskState) error
	LoadSymbolStates(ctx context.Context) (map[string]*model.SymbolRiskState, error)

	// 交易事件操作
	StoreEvent(ctx context.Context, event *model.TradeEvent) error
}
