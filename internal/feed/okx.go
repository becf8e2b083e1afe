package feed

import (
	"context"
	"fmt"
	"strings"

	"github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"
)

// OKXClient OKX只读行情客户端
type OKXClient struct {
	exchange *ccxt.OKX
	logger   *zap.Logger
}

// NewOKXClient 创建OKX行情客户端
func NewOKXClient(apiKey, apiSecret, passphrase string, logger *zap.Logger) *OKXClient {
	okxInstance := ccxt.NewOKX(map[string]interface{}{
		"apiKey":          apiKey,
		"secret":          apiSecret,
		"password":        passphrase,
		"enableRateLimit": true,
	})

	// 加载市场信息
	go func() {
		<-okxInstance.LoadMarkets()
		logger.Info("OKX市场数据加载完成")
	}()

	return &OKXClient{
		exchange: okxInstance,
		logger:   logger.With(zap.String("component", "okx_feed")),
	}
}

// Name 行情来源名称
func (o *OKXClient) Name() string {
	return "OKX"
}

// GetPrice 获取最新成交价
func (o *OKXClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	ticker, err := o.exchange.FetchTicker(formatDashSymbol(symbol))
	if err != nil {
		o.logger.Error("获取OKX价格失败",
			zap.Error(err),
			zap.String("symbol", symbol))
		return 0, fmt.Errorf("获取OKX价格失败: %w", err)
	}

	lastPrice, ok := (*ticker)["last"].(float64)
	if !ok {
		return 0, fmt.Errorf("价格数据格式错误")
	}

	return lastPrice, nil
}

// formatDashSymbol 将BTCUSDT格式转换为OKX使用的BTC-USDT格式
func formatDashSymbol(symbol string) string {
	for _, quote := range []string{"USDT", "USDC", "BTC", "ETH"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			base := symbol[:len(symbol)-len(quote)]
			return fmt.Sprintf("%s-%s", base, quote)
		}
	}
	return symbol
}
