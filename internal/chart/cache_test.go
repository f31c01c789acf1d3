package chart

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	mu     sync.Mutex
	points map[int64][]Point
	loads  int
	// blocks the loader until closed, when set
	gate chan struct{}
}

func (f *fakeLedger) append(tokenID int64, p Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[tokenID] = append(f.points[tokenID], p)
}

func (f *fakeLedger) load(ctx context.Context, tokenID int64) ([]Point, error) {
	f.mu.Lock()
	f.loads++
	points := clonePoints(f.points[tokenID])
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return points, nil
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{points: make(map[int64][]Point)}
}

func TestCache_LoadsOnceAndExtends(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	ledger.append(1, Point{TradeID: 1, Price: d("1"), Amount: d("1"), Time: at("10:00:00")})
	cache := NewCache(ledger.load)

	points, err := cache.Points(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, points, 1)

	next := Point{TradeID: 2, Price: d("2"), Amount: d("1"), Time: at("10:01:00")}
	ledger.append(1, next)
	cache.RecordPoint(1, next)

	points, err = cache.Points(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, points, 2)
	assert.Equal(t, 1, ledger.loads)
}

func TestCache_OutOfOrderPointReloads(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	first := Point{TradeID: 1, Price: d("1"), Amount: d("1"), Time: at("10:00:00")}
	ledger.append(1, first)
	cache := NewCache(ledger.load)

	_, err := cache.Points(ctx, 1)
	require.NoError(t, err)

	// already part of the loaded series
	cache.RecordPoint(1, first)

	points, err := cache.Points(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, points, 1)
	assert.Equal(t, 2, ledger.loads)
}

func TestCache_ConcurrentRecordDiscardsStaleLoad(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	ledger.gate = make(chan struct{})
	cache := NewCache(ledger.load)

	done := make(chan []Point)
	go func() {
		points, _ := cache.Points(ctx, 1)
		done <- points
	}()

	// wait for the loader to take its snapshot
	require.Eventually(t, func() bool {
		ledger.mu.Lock()
		defer ledger.mu.Unlock()
		return ledger.loads == 1
	}, time.Second, time.Millisecond)

	p := Point{TradeID: 1, Price: d("1"), Amount: d("1"), Time: at("10:00:00")}
	ledger.append(1, p)
	cache.RecordPoint(1, p)

	close(ledger.gate)
	stale := <-done
	assert.Empty(t, stale)

	ledger.mu.Lock()
	ledger.gate = nil
	ledger.mu.Unlock()

	points, err := cache.Points(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, points, 1)
	assert.Equal(t, 2, ledger.loads)
}

func TestCache_TTL(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	now := at("10:00:00")
	cache := NewCache(ledger.load, WithTTL(time.Minute), WithCacheClock(func() time.Time { return now }))

	_, err := cache.Points(ctx, 1)
	require.NoError(t, err)
	_, err = cache.Points(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, ledger.loads)

	now = now.Add(2 * time.Minute)
	_, err = cache.Points(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, ledger.loads)
}

func TestCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	cache := NewCache(ledger.load)

	_, err := cache.Points(ctx, 7)
	require.NoError(t, err)
	cache.Invalidate(7)
	_, err = cache.Points(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, ledger.loads)
}

func TestCache_LoadErrorNotCached(t *testing.T) {
	ctx := context.Background()
	calls := 0
	cache := NewCache(func(context.Context, int64) ([]Point, error) {
		calls++
		return nil, errors.New("store down")
	})

	_, err := cache.Points(ctx, 1)
	assert.Error(t, err)
	_, err = cache.Points(ctx, 1)
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestCache_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	ledger.append(1, Point{TradeID: 1, Price: d("1"), Amount: d("1"), Time: at("10:00:00")})
	cache := NewCache(ledger.load)

	points, err := cache.Points(ctx, 1)
	require.NoError(t, err)
	points[0].Price = d("999")

	again, err := cache.Points(ctx, 1)
	require.NoError(t, err)
	assert.True(t, again[0].Price.Equal(d("1")))
}
