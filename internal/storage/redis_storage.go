package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/life2you_mini/signalbot/internal/config"
	"github.com/life2you_mini/signalbot/internal/model"
)

// Redis 键常量（完整键 = 配置的 key_prefix + 常量）
const (
	keyAccountState = "account:state"

	keyPositionPrefix = "position:"
	keyOpenPositions  = "position:open"

	keyTradeHistory = "trade:history"

	keySymbolStates = "symbol:states"

	keyEventHistory = "event:history"

	// 过期时间（秒）
	expiryPosition = 86400 * 14 // 14天
	// 历史列表保留条数
	maxTradeHistory = 1000
	maxEventHistory = 5000
)

// NewClient 根据配置创建Redis客户端
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisStorage Redis持久化实现
type RedisStorage struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisStorage 创建Redis持久化
func NewRedisStorage(client *redis.Client, keyPrefix string, logger *zap.Logger) *RedisStorage {
	return &RedisStorage{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger.With(zap.String("component", "storage")),
	}
}

// Initialize 初始化连接
func (s *RedisStorage) Initialize(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.Error("Redis连接失败", zap.Error(err))
		return fmt.Errorf("redis连接失败: %w", err)
	}
	s.logger.Info("Redis存储初始化成功")
	return nil
}

// Close 关闭连接
func (s *RedisStorage) Close(ctx context.Context) error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("关闭Redis连接失败: %w", err)
	}
	s.logger.Info("Redis连接已关闭")
	return nil
}

// Health 检查连接健康状态
func (s *RedisStorage) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStorage) key(suffix string) string {
	return s.keyPrefix + suffix
}

// StoreAccountState 写回账户状态
func (s *RedisStorage) StoreAccountState(ctx context.Context, state *model.AccountState) error {
	jsonData, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("序列化账户状态失败: %w", err)
	}
	if err := s.client.Set(ctx, s.key(keyAccountState), jsonData, 0).Err(); err != nil {
		return fmt.Errorf("保存账户状态失败: %w", err)
	}
	return nil
}

// LoadAccountState 恢复账户状态，不存在时返回nil
func (s *RedisStorage) LoadAccountState(ctx context.Context) (*model.AccountState, error) {
	data, err := s.client.Get(ctx, s.key(keyAccountState)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取账户状态失败: %w", err)
	}

	var state model.AccountState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("解析账户状态失败: %w", err)
	}
	return &state, nil
}

// StorePosition 保存持仓并维护开放集合
func (s *RedisStorage) StorePosition(ctx context.Context, position *model.Position) error {
	jsonData, err := json.Marshal(position)
	if err != nil {
		return fmt.Errorf("序列化持仓失败: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(keyPositionPrefix+position.ID), jsonData, time.Duration(expiryPosition)*time.Second)
	if position.Status == model.StatusOpen {
		pipe.SAdd(ctx, s.key(keyOpenPositions), position.ID)
	} else {
		pipe.SRem(ctx, s.key(keyOpenPositions), position.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("保存持仓失败: %w", err)
	}
	return nil
}

// GetOpenPositions 获取所有开放持仓
func (s *RedisStorage) GetOpenPositions(ctx context.Context) ([]*model.Position, error) {
	ids, err := s.client.SMembers(ctx, s.key(keyOpenPositions)).Result()
	if err != nil {
		return nil, fmt.Errorf("读取开放持仓集合失败: %w", err)
	}

	positions := make([]*model.Position, 0, len(ids))
	for _, id := range ids {
		data, err := s.client.Get(ctx, s.key(keyPositionPrefix+id)).Bytes()
		if err == redis.Nil {
			// 键已过期，清理集合里的残留ID
			s.client.SRem(ctx, s.key(keyOpenPositions), id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("读取持仓 %s 失败: %w", id, err)
		}
		var position model.Position
		if err := json.Unmarshal(data, &position); err != nil {
			return nil, fmt.Errorf("解析持仓 %s 失败: %w", id, err)
		}
		positions = append(positions, &position)
	}
	return positions, nil
}

// RemovePosition 删除持仓
func (s *RedisStorage) RemovePosition(ctx context.Context, positionID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(keyPositionPrefix+positionID))
	pipe.SRem(ctx, s.key(keyOpenPositions), positionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("删除持仓失败: %w", err)
	}
	return nil
}

// StoreTrade 保存交易记录，只保留最近的若干条
func (s *RedisStorage) StoreTrade(ctx context.Context, trade *model.Trade) error {
	jsonData, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("序列化交易记录失败: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.LPush(ctx, s.key(keyTradeHistory), jsonData)
	pipe.LTrim(ctx, s.key(keyTradeHistory), 0, maxTradeHistory-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("保存交易记录失败: %w", err)
	}
	return nil
}

// GetRecentTrades 获取最近的交易记录
func (s *RedisStorage) GetRecentTrades(ctx context.Context, limit int) ([]*model.Trade, error) {
	if limit <= 0 || limit > maxTradeHistory {
		limit = maxTradeHistory
	}
	results, err := s.client.LRange(ctx, s.key(keyTradeHistory), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("读取交易记录失败: %w", err)
	}

	trades := make([]*model.Trade, 0, len(results))
	for _, jsonStr := range results {
		var trade model.Trade
		if err := json.Unmarshal([]byte(jsonStr), &trade); err != nil {
			return nil, fmt.Errorf("解析交易记录失败: %w", err)
		}
		trades = append(trades, &trade)
	}
	return trades, nil
}

// StoreSymbolState 保存交易对风险状态
func (s *RedisStorage) StoreSymbolState(ctx context.Context, state *model.SymbolRiskState) error {
	jsonData, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("序列化交易对状态失败: %w", err)
	}
	if err := s.client.HSet(ctx, s.key(keySymbolStates), state.Symbol, jsonData).Err(); err != nil {
		return fmt.Errorf("保存交易对状态失败: %w", err)
	}
	return nil
}

// LoadSymbolStates 恢复全部交易对风险状态
func (s *RedisStorage) LoadSymbolStates(ctx context.Context) (map[string]*model.SymbolRiskState, error) {
	results, err := s.client.HGetAll(ctx, s.key(keySymbolStates)).Result()
	if err != nil {
		return nil, fmt.Errorf("读取交易对状态失败: %w", err)
	}

	states := make(map[string]*model.SymbolRiskState, len(results))
	for symbol, jsonStr := range results {
		var state model.SymbolRiskState
		if err := json.Unmarshal([]byte(jsonStr), &state); err != nil {
			return nil, fmt.Errorf("解析交易对 %s 状态失败: %w", symbol, err)
		}
		states[symbol] = &state
	}
	return states, nil
}

// StoreEvent 保存交易事件到历史列表
func (s *RedisStorage) StoreEvent(ctx context.Context, event *model.TradeEvent) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化交易事件失败: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.LPush(ctx, s.key(keyEventHistory), jsonData)
	pipe.LTrim(ctx, s.key(keyEventHistory), 0, maxEventHistory-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("保存交易事件失败: %w", err)
	}
	return nil
}
