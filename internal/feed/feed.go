package feed

import (
	"context"

	"github.com/life2you_mini/signalbot/internal/model"
)

// PriceFeed 行情来源接口
// 引擎只消费 (symbol, price, timestamp) 三元组，重试与超时由来源自行处理
type PriceFeed interface {
	Start(ctx context.Context) error
	Stop()

	// Watch 订阅交易对，Unwatch 取消订阅
	Watch(symbol string)
	Unwatch(symbol string)

	// Prices 价格点输出通道，同一交易对按时间非递减到达
	Prices() <-chan model.PricePoint
}

// MarketClient 只读行情客户端
type MarketClient interface {
	Name() string
	GetPrice(ctx context.Context, symbol string) (float64, error)
}
