package condition

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockwatch/internal/kvstore"
	"stockwatch/internal/market"
	"stockwatch/internal/pricelog"
	"stockwatch/pkg/model"
)

func snap(hhmm string, price, cum int64) model.IntradaySnapshot {
	return model.IntradaySnapshot{Time: hhmm, Price: price, CumulativeVolume: cum}
}

func TestComputeExample(t *testing.T) {
	prevDay := model.DailyPriceRecord{High: 68500, Low: 67600}
	prevMiddle := prevDay.Middle()
	assert.Equal(t, 68050.0, prevMiddle)

	latest := []model.IntradaySnapshot{
		snap("0940", 68100, 0),
		snap("0955", 68030, 0),
		snap("1000", 68060, 0),
	}

	r := Compute(latest, nil, prevMiddle)
	assert.True(t, r.Condition1, "0940 68100 > 68050")
	assert.False(t, r.Condition2, "0955 68030 <= 68050")
}

func TestCondition1Window(t *testing.T) {
	// 09:50 이후 돌파는 인정하지 않음
	r := Compute([]model.IntradaySnapshot{snap("0929", 70000, 0), snap("0951", 70000, 0)}, nil, 68050)
	assert.False(t, r.Condition1)

	r = Compute([]model.IntradaySnapshot{snap("0950", 68051, 0)}, nil, 68050)
	assert.True(t, r.Condition1)
}

func TestCondition2VacuousTruth(t *testing.T) {
	latest := []model.IntradaySnapshot{snap("0930", 60000, 0), snap("1001", 60000, 0)}
	r := Compute(latest, nil, 68050)
	assert.True(t, r.Condition2)

	r = Compute(nil, nil, 68050)
	assert.True(t, r.Condition2)
}

func TestCondition2Boundary(t *testing.T) {
	r := Compute([]model.IntradaySnapshot{snap("1000", 68050, 0)}, nil, 68050)
	assert.False(t, r.Condition2, "equal to prevMiddle counts as at-or-below")
}

func TestCondition3Volume(t *testing.T) {
	latest := []model.IntradaySnapshot{
		snap("0929", 0, 1000),
		snap("0930", 0, 1500),
		snap("1000", 0, 4000),
		snap("1001", 0, 9000),
	}
	prev := []model.IntradaySnapshot{
		snap("0930", 0, 500),
		snap("0959", 0, 3500),
	}

	r := Compute(latest, prev, 0)
	assert.Equal(t, int64(3000), r.LatestVolume)
	assert.Equal(t, int64(3500), r.PrevVolume)
	assert.False(t, r.Condition3)

	prev[1].CumulativeVolume = 3000
	assert.True(t, Compute(latest, prev, 0).Condition3)
}

func TestComputeCountsWindowSamples(t *testing.T) {
	empty := Compute(nil, nil, 68050)
	assert.False(t, empty.HasData())
	assert.True(t, empty.Condition2)

	outside := Compute([]model.IntradaySnapshot{snap("0929", 68100, 0), snap("1001", 68100, 0)}, nil, 68050)
	assert.Zero(t, outside.Samples)
	assert.False(t, outside.HasData())

	r := Compute([]model.IntradaySnapshot{snap("0929", 68000, 0), snap("0940", 68100, 0), snap("1000", 68060, 0)}, nil, 68050)
	assert.Equal(t, 2, r.Samples)
	assert.True(t, r.HasData())

	assert.True(t, Result{Cached: true}.HasData())
}

func TestWindowVolumeEmpty(t *testing.T) {
	assert.Zero(t, WindowVolume(nil, "0930", "1000"))
	assert.Zero(t, WindowVolume([]model.IntradaySnapshot{snap("0900", 0, 100)}, "0930", "1000"))
}

type fakeSource struct {
	calls int
	err   error
	byDay map[string][]model.IntradaySnapshot
}

func (f *fakeSource) Intraday(ctx context.Context, code, date, end string) ([]model.IntradaySnapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.byDay[date], nil
}

func newLogStore() *pricelog.Store {
	return pricelog.NewStore(kvstore.NewMemory(), market.NewClock(func() time.Time {
		return time.Date(2025, 3, 4, 15, 0, 0, 0, market.KSTLocation())
	}))
}

func TestEvaluatorUsesStoredConditions(t *testing.T) {
	logs := newLogStore()
	ctx := context.Background()

	stored := Result{Condition1: false, Condition2: true, Condition3: true}
	_, err := logs.SaveSummary(ctx, "005930", "2025-03-04", stored.Summary())
	require.NoError(t, err)

	src := &fakeSource{}
	r, err := NewEvaluator(logs, src).Evaluate(ctx, "005930", "2025-03-04", "2025-03-03", 68050)
	require.NoError(t, err)

	assert.True(t, r.Cached)
	assert.False(t, r.Condition1)
	assert.True(t, r.Condition2)
	assert.True(t, r.Condition3)
	assert.Zero(t, src.calls, "no intraday fetch for a finalized day")
}

func TestEvaluatorComputesWhenNotStored(t *testing.T) {
	logs := newLogStore()
	src := &fakeSource{byDay: map[string][]model.IntradaySnapshot{
		"2025-03-04": {snap("0940", 68100, 100), snap("0955", 68100, 900)},
		"2025-03-03": {snap("0940", 68000, 100), snap("0955", 68000, 500)},
	}}

	r, err := NewEvaluator(logs, src).Evaluate(context.Background(), "005930", "2025-03-04", "2025-03-03", 68050)
	require.NoError(t, err)

	assert.False(t, r.Cached)
	assert.True(t, r.Condition1)
	assert.True(t, r.Condition2)
	assert.True(t, r.Condition3)
	assert.Equal(t, 2, src.calls)
}

func TestEvaluatorPartialConditionsRecompute(t *testing.T) {
	logs := newLogStore()
	ctx := context.Background()

	c1 := true
	_, err := logs.SaveSummary(ctx, "005930", "2025-03-04", pricelog.Summary{Condition1: &c1})
	require.NoError(t, err)

	r, err := NewEvaluator(logs, &fakeSource{}).EvaluateSeries(ctx, "005930", "2025-03-04", nil, nil, 68050)
	require.NoError(t, err)
	assert.False(t, r.Cached)
	assert.False(t, r.Condition1)
}

func TestEvaluatorFetchError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewEvaluator(newLogStore(), &fakeSource{err: boom}).Evaluate(context.Background(), "005930", "2025-03-04", "2025-03-03", 1)
	assert.ErrorIs(t, err, boom)
}
