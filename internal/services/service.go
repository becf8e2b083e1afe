package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/life2you_mini/signalbot/internal/config"
	"github.com/life2you_mini/signalbot/internal/engine"
	"github.com/life2you_mini/signalbot/internal/feed"
	"github.com/life2you_mini/signalbot/internal/storage"
)

// SignalBotService 信号驱动仓位风控服务
// 负责组装Redis、存储、行情与引擎，并统一启停
type SignalBotService struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	store     *storage.RedisStorage
	queue     *storage.QueueService
	priceFeed *feed.Poller
	engine    *engine.Engine
}

// NewSignalBotService 创建新的信号风控服务
func NewSignalBotService(
	parentCtx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
) (*SignalBotService, error) {
	ctx, cancel := context.WithCancel(parentCtx)

	// 初始化Redis存储与队列
	client := storage.NewClient(cfg.Redis)
	store := storage.NewRedisStorage(client, cfg.Redis.KeyPrefix, logger)
	if err := store.Initialize(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("初始化Redis存储失败: %w", err)
	}
	queue := storage.NewQueueService(client, cfg.Redis.KeyPrefix)

	// 创建行情来源：交易所客户端 + 轮询器
	var marketClient feed.MarketClient
	switch cfg.Feed.Exchange {
	case "", "binance":
		marketClient = feed.NewBinanceClient(cfg.Feed.APIKey, cfg.Feed.APISecret, logger)
	case "okx":
		marketClient = feed.NewOKXClient(cfg.Feed.APIKey, cfg.Feed.APISecret, cfg.Feed.APIPassphrase, logger)
	case "bitget":
		marketClient = feed.NewBitgetClient(cfg.Feed.APIKey, cfg.Feed.APISecret, cfg.Feed.APIPassphrase, logger)
	default:
		cancel()
		return nil, fmt.Errorf("不支持的交易所: %s", cfg.Feed.Exchange)
	}
	pollInterval := cfg.Feed.PollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	priceFeed := feed.NewPoller(marketClient, pollInterval, logger)

	eng := engine.NewEngine(cfg, store, queue, priceFeed, logger)

	return &SignalBotService{
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
		store:     store,
		queue:     queue,
		priceFeed: priceFeed,
		engine:    eng,
	}, nil
}

// Start 启动服务
func (s *SignalBotService) Start() error {
	s.logger.Info("启动信号风控服务")
	return s.engine.Start(s.ctx)
}

// Stop 停止服务
func (s *SignalBotService) Stop(ctx context.Context) error {
	s.logger.Info("停止信号风控服务")

	s.engine.Stop()
	s.cancel()

	if err := s.store.Close(ctx); err != nil {
		s.logger.Error("关闭Redis连接失败", zap.Error(err))
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
