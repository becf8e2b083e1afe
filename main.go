package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/life2you_mini/signalbot/internal/config"
	"github.com/life2you_mini/signalbot/internal/logger"
	"github.com/life2you_mini/signalbot/internal/replay"
	"github.com/life2you_mini/signalbot/internal/services"
)

var (
	configFile = flag.String("config", "config/config.yaml", "配置文件路径")
	replayFile = flag.String("replay", "", "回放夹具路径，指定后运行回放模拟器并退出")
)

func main() {
	// 解析命令行参数
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	appLogger, err := logger.NewLogger(cfg.System.LogDir, cfg.System.LogLevel)
	if err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()
	appLogger.Info("加载配置成功", zap.String("配置文件", *configFile))

	// 回放模式：跑完夹具输出统计后退出，不连接任何外部服务
	if *replayFile != "" {
		if err := runReplay(cfg, appLogger.Logger, *replayFile); err != nil {
			appLogger.Fatal("回放失败", zap.Error(err))
		}
		return
	}

	// 创建上下文，用于处理信号
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 设置信号处理
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	// 创建服务
	service, err := services.NewSignalBotService(ctx, cfg, appLogger.Logger)
	if err != nil {
		appLogger.Fatal("创建服务失败", zap.Error(err))
	}

	// 启动服务
	if err := service.Start(); err != nil {
		appLogger.Fatal("启动服务失败", zap.Error(err))
	}
	appLogger.Info("服务已启动")

	// 等待终止信号
	sig := <-signalChan
	appLogger.Info("接收到信号，准备关闭服务", zap.String("signal", sig.String()))

	// 创建关闭超时上下文
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// 停止服务
	if err := service.Stop(shutdownCtx); err != nil {
		appLogger.Error("服务关闭失败", zap.Error(err))
		os.Exit(1)
	}

	appLogger.Info("服务已优雅关闭")
}

// runReplay 对历史夹具回放信号与行情，输出决策与绩效统计
func runReplay(cfg *config.Config, log *zap.Logger, path string) error {
	fixture, err := replay.LoadFixture(path)
	if err != nil {
		return fmt.Errorf("加载回放夹具失败: %w", err)
	}

	sim := replay.NewSimulator(cfg, log)
	result, err := sim.Run(fixture)
	if err != nil {
		return err
	}

	log.Info("回放完成",
		zap.String("fixture", result.Name),
		zap.Int("signals", result.Stats.SignalCount),
		zap.Int("admitted", result.Stats.AdmitCount),
		zap.Int("rejected", result.Stats.RejectCount),
		zap.Int("trades", result.Stats.TradeCount),
		zap.Float64("win_rate", result.Stats.WinRate),
		zap.Float64("total_pnl", result.Stats.TotalPnL),
		zap.Float64("final_balance", result.Stats.FinalBalance),
		zap.Duration("avg_hold", result.Stats.AvgHold))

	for _, trade := range result.Trades {
		log.Info("回放交易",
			zap.String("position_id", trade.PositionID),
			zap.String("symbol", trade.Symbol),
			zap.String("side", trade.Side),
			zap.Float64("entry", trade.EntryPrice),
			zap.Float64("exit", trade.ExitPrice),
			zap.Float64("pnl", trade.RealizedPnL),
			zap.String("reason", string(trade.ExitReason)))
	}
	return nil
}
