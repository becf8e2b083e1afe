package feed

import (
	"context"
	"fmt"

	"github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"
)

// BinanceClient 币安只读行情客户端
type BinanceClient struct {
	exchange *ccxt.Binance
	logger   *zap.Logger
}

// NewBinanceClient 创建币安行情客户端
// 只拉取行情，不需要下单权限，密钥可以为空
func NewBinanceClient(apiKey, apiSecret string, logger *zap.Logger) *BinanceClient {
	binanceInstance := ccxt.NewBinance(map[string]interface{}{
		"apiKey":          apiKey,
		"secret":          apiSecret,
		"enableRateLimit": true,
	})

	// 加载市场信息
	go func() {
		<-binanceInstance.LoadMarkets()
		logger.Info("Binance市场数据加载完成")
	}()

	return &BinanceClient{
		exchange: binanceInstance,
		logger:   logger.With(zap.String("component", "binance_feed")),
	}
}

// Name 行情来源名称
func (b *BinanceClient) Name() string {
	return "Binance"
}

// GetPrice 获取最新成交价
func (b *BinanceClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	ticker, err := b.exchange.FetchTicker(symbol)
	if err != nil {
		b.logger.Error("获取币安价格失败",
			zap.Error(err),
			zap.String("symbol", symbol))
		return 0, fmt.Errorf("获取币安价格失败: %w", err)
	}

	lastPrice, ok := (*ticker)["last"].(float64)
	if !ok {
		return 0, fmt.Errorf("价格数据格式错误")
	}

	return lastPrice, nil
}
