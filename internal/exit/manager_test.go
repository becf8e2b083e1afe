package exit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/life2you_mini/signalbot/internal/model"
)

func TestManager_PriceDrivenLifecycle(t *testing.T) {
	fillCh := make(chan model.Fill, 8)
	tradeCh := make(chan *model.Trade, 1)

	m := NewManager(zaptest.NewLogger(t),
		func(_ *model.Position, fill model.Fill) { fillCh <- fill },
		func(_ *model.Position, trade *model.Trade) { tradeCh <- trade })
	assert.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	pos := newPosition(model.SideLong, 100, 98, defaultPlan())
	assert.NoError(t, m.Track(pos))
	assert.Len(t, m.OpenPositions(), 1)

	feed := func(price float64, at time.Time) {
		m.OnPrice(model.PricePoint{Symbol: "BTCUSDT", Price: price, Timestamp: at})
	}

	feed(105, baseTime.Add(time.Minute))
	feed(107, baseTime.Add(2*time.Minute))
	feed(110, baseTime.Add(3*time.Minute))

	select {
	case trade := <-tradeCh:
		assert.Equal(t, model.ExitReasonTierFill, trade.ExitReason)
		assert.InDelta(t, 106.6, trade.ExitPrice, 1e-9)
		assert.Len(t, trade.Fills, 3)
	case <-time.After(2 * time.Second):
		t.Fatal("等待交易终结超时")
	}

	// 前两档按部分平仓发布，最后一档随交易记录发布
	assert.Len(t, fillCh, 2)
	assert.Empty(t, m.OpenPositions())
}

func TestManager_ForceClose(t *testing.T) {
	tradeCh := make(chan *model.Trade, 1)

	m := NewManager(zaptest.NewLogger(t), nil,
		func(_ *model.Position, trade *model.Trade) { tradeCh <- trade })
	assert.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	pos := newPosition(model.SideLong, 100, 98, defaultPlan())
	assert.NoError(t, m.Track(pos))

	assert.NoError(t, m.ForceClose(pos.ID, 101, baseTime.Add(time.Minute)))

	select {
	case trade := <-tradeCh:
		assert.Equal(t, model.ExitReasonForceClose, trade.ExitReason)
		assert.InDelta(t, 10.0, trade.RealizedPnL, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("等待强制平仓超时")
	}

	// 未知仓位的强制平仓是不变量错误
	var violation *InvariantViolation
	assert.ErrorAs(t, m.ForceClose("pos-missing", 100, baseTime), &violation)
}

func TestManager_TrackRejectsBrokenPlan(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t), nil, nil)
	assert.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	pos := newPosition(model.SideLong, 100, 98, defaultPlan())
	pos.Plan.Tiers[2].SizeFraction = 0.1 // 比例之和0.9

	var violation *InvariantViolation
	assert.ErrorAs(t, m.Track(pos), &violation)
	assert.Empty(t, m.OpenPositions())

	// 重复跟踪同一仓位也被拒绝
	good := newPosition(model.SideLong, 100, 98, defaultPlan())
	assert.NoError(t, m.Track(good))
	assert.ErrorAs(t, m.Track(good), &violation)
}
