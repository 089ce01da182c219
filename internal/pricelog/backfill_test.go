package pricelog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"testing"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockwatch/internal/broker/kis"
	"stockwatch/internal/kvstore"
	"stockwatch/internal/market"
	"stockwatch/pkg/model"
)

type fakeSource struct {
	mu    sync.Mutex
	snaps []model.IntradaySnapshot
	err   error
	calls int
}

func (f *fakeSource) Intraday(ctx context.Context, code, date, end string) ([]model.IntradaySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.snaps, nil
}

// 1030을 제외한 모든 슬롯 데이터
func partialWindow() []model.IntradaySnapshot {
	var snaps []model.IntradaySnapshot
	for i, slot := range market.LogSlots {
		if slot == "1030" {
			continue
		}
		snaps = append(snaps, model.IntradaySnapshot{Time: slot, Price: int64(68000 + i*10)})
	}
	return snaps
}

func TestBackfillGate(t *testing.T) {
	tests := []struct {
		name   string
		clock  *market.Clock
		reason string
	}{
		{"saturday", kstClock(2025, 3, 8, 12, 0), "weekend"},
		{"before cutoff", kstClock(2025, 3, 4, 10, 45), "before-cutoff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{snaps: partialWindow()}
			b := NewBackfiller(NewStore(kvstore.NewMemory(), tt.clock), src, nil)

			res, err := b.Backfill(context.Background(), "005930")
			require.NoError(t, err)
			assert.Equal(t, StatusSkipped, res.Status)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Zero(t, src.calls)
		})
	}
}

func TestBackfillFillsEverySlot(t *testing.T) {
	clock := kstClock(2025, 3, 4, 11, 5)
	store := NewStore(kvstore.NewMemory(), clock)
	src := &fakeSource{snaps: []model.IntradaySnapshot{
		{Time: "0930", Price: 68100},
		{Time: "0936", Price: 68150}, // 0935 인접
		{Time: "0959", Price: 68000}, // 1000과 다른 시간대
		{Time: "1029", Price: 68300},
		{Time: "1031", Price: 68350}, // 1029와 같은 거리, 이른 시각 우선
	}}

	res, err := NewBackfiller(store, src, nil).Backfill(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, res.Status)
	assert.Equal(t, 3, res.Filled)

	entries, err := store.Get(context.Background(), "005930")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	prices := entries[0].Prices
	for _, slot := range market.LogSlots {
		_, ok := prices[slot]
		assert.True(t, ok, "slot %s must be present", slot)
	}
	assert.Equal(t, null.IntFrom(68100), prices["0930"])
	assert.Equal(t, null.IntFrom(68150), prices["0935"])
	assert.False(t, prices["1000"].Valid)
	assert.Equal(t, null.IntFrom(68300), prices["1030"])
}

func TestBackfillSkipsCompleteDay(t *testing.T) {
	clock := kstClock(2025, 3, 4, 11, 5)
	store := NewStore(kvstore.NewMemory(), clock)
	ctx := context.Background()

	_, err := store.RecordSnapshot(ctx, "005930", "2025-03-04", "1030", null.IntFrom(68300))
	require.NoError(t, err)

	src := &fakeSource{snaps: partialWindow()}
	res, err := NewBackfiller(store, src, nil).Backfill(ctx, "005930")
	require.NoError(t, err)
	assert.Equal(t, StatusUpToDate, res.Status)
	assert.Zero(t, src.calls)
}

func TestBackfillIsIdempotent(t *testing.T) {
	clock := kstClock(2025, 3, 4, 11, 5)
	store := NewStore(kvstore.NewMemory(), clock)
	src := &fakeSource{snaps: partialWindow()}
	b := NewBackfiller(store, src, nil)
	ctx := context.Background()

	_, err := b.Backfill(ctx, "005930")
	require.NoError(t, err)
	first, err := store.Raw(ctx, "005930")
	require.NoError(t, err)

	// 1030이 여전히 비어 있으므로 다시 조회하지만 결과는 동일
	_, err = b.Backfill(ctx, "005930")
	require.NoError(t, err)
	second, err := store.Raw(ctx, "005930")
	require.NoError(t, err)

	assert.Equal(t, 2, src.calls)
	assert.Equal(t, first, second)
}

func TestBackfillPreservesRecordedValues(t *testing.T) {
	clock := kstClock(2025, 3, 4, 11, 5)
	store := NewStore(kvstore.NewMemory(), clock)
	ctx := context.Background()

	_, err := store.RecordSnapshot(ctx, "005930", "2025-03-04", "0930", null.IntFrom(70000))
	require.NoError(t, err)

	src := &fakeSource{snaps: []model.IntradaySnapshot{{Time: "0935", Price: 70100}}}
	_, err = NewBackfiller(store, src, nil).Backfill(ctx, "005930")
	require.NoError(t, err)

	e, ok, err := store.Entry(ctx, "005930", "2025-03-04")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, null.IntFrom(70000), e.Prices["0930"], "fresh null never erases a recorded price")
	assert.Equal(t, null.IntFrom(70100), e.Prices["0935"])
}

func TestBackfillFetchFailure(t *testing.T) {
	clock := kstClock(2025, 3, 4, 11, 5)
	ctx := context.Background()

	t.Run("transient failure records nulls", func(t *testing.T) {
		store := NewStore(kvstore.NewMemory(), clock)
		src := &fakeSource{err: &kis.TransientError{Op: "intraday", Attempts: 3, Err: syscall.ECONNRESET}}

		res, err := NewBackfiller(store, src, nil).Backfill(ctx, "005930")
		require.NoError(t, err)
		assert.Equal(t, StatusNoData, res.Status)
		assert.Len(t, res.Prices, len(market.LogSlots))
	})

	t.Run("config error aborts", func(t *testing.T) {
		store := NewStore(kvstore.NewMemory(), clock)
		src := &fakeSource{err: fmt.Errorf("get token: %w", &kis.ConfigError{Missing: []string{"KIS_APP_KEY"}})}

		_, err := NewBackfiller(store, src, nil).Backfill(ctx, "005930")
		var cfgErr *kis.ConfigError
		assert.True(t, errors.As(err, &cfgErr))

		raw, err := store.Raw(ctx, "005930")
		require.NoError(t, err)
		assert.Empty(t, raw, "nothing is written when the token cannot be obtained")
	})
}

func TestPriceAt(t *testing.T) {
	snaps := []model.IntradaySnapshot{
		{Time: "0929", Price: 100},
		{Time: "0941", Price: 200},
		{Time: "0950", Price: 0},
		{Time: "0951", Price: 300},
		{Time: "0959", Price: 400},
	}

	tests := []struct {
		slot string
		want null.Int
	}{
		{"0930", null.IntFrom(100)}, // 1분 이내
		{"0940", null.IntFrom(200)},
		{"0945", null.Int{}},
		{"0950", null.IntFrom(300)}, // 0원은 무시
		{"1000", null.Int{}},        // 0959는 다른 시간대
		{"bad", null.Int{}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, PriceAt(snaps, tt.slot), tt.slot)
	}
}
