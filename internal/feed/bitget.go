package feed

import (
	"context"
	"fmt"

	"github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"
)

// BitgetClient Bitget只读行情客户端
type BitgetClient struct {
	exchange *ccxt.Bitget
	logger   *zap.Logger
}

// NewBitgetClient 创建Bitget行情客户端
func NewBitgetClient(apiKey, apiSecret, passphrase string, logger *zap.Logger) *BitgetClient {
	bitgetInstance := ccxt.NewBitget(map[string]interface{}{
		"apiKey":          apiKey,
		"secret":          apiSecret,
		"password":        passphrase,
		"enableRateLimit": true,
	})

	// 加载市场信息
	go func() {
		<-bitgetInstance.LoadMarkets()
		logger.Info("Bitget市场数据加载完成")
	}()

	return &BitgetClient{
		exchange: bitgetInstance,
		logger:   logger.With(zap.String("component", "bitget_feed")),
	}
}

// Name 行情来源名称
func (b *BitgetClient) Name() string {
	return "Bitget"
}

// GetPrice 获取最新成交价
func (b *BitgetClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	ticker, err := b.exchange.FetchTicker(symbol)
	if err != nil {
		b.logger.Error("获取Bitget价格失败",
			zap.Error(err),
			zap.String("symbol", symbol))
		return 0, fmt.Errorf("获取Bitget价格失败: %w", err)
	}

	lastPrice, ok := (*ticker)["last"].(float64)
	if !ok {
		return 0, fmt.Errorf("价格数据格式错误")
	}

	return lastPrice, nil
}
