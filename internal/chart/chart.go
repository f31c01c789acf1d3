// Package chart buckets ledger trades into OHLC bars.
package chart

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/memestream/internal/apperr"
	"github.com/xtrntr/memestream/internal/models"
)

// DefaultBucket is the bar width used when none is requested
const DefaultBucket = 5 * time.Minute

// Point is one trade as the chart sees it
type Point struct {
	TradeID int64
	Price   decimal.Decimal
	Amount  decimal.Decimal
	Time    time.Time
}

// after reports whether p comes strictly after q in ledger order
func (p Point) after(q Point) bool {
	if !p.Time.Equal(q.Time) {
		return p.Time.After(q.Time)
	}
	return p.TradeID > q.TradeID
}

// PointFromTrade converts a ledger record
func PointFromTrade(t models.Trade) Point {
	return Point{TradeID: t.ID, Price: t.Price, Amount: t.Amount, Time: t.CreatedAt}
}

// PointsFromTrades converts ledger records, keeping their order
func PointsFromTrades(trades []models.Trade) []Point {
	points := make([]Point, len(trades))
	for i, t := range trades {
		points[i] = PointFromTrade(t)
	}
	return points
}

// BucketStart returns floor(t / width) * width measured from the Unix epoch
func BucketStart(t time.Time, width time.Duration) time.Time {
	n, w := t.UnixNano(), width.Nanoseconds()
	q := n / w
	if n%w < 0 {
		q--
	}
	return time.Unix(0, q*w).UTC()
}

// Bars aggregates points into sparse OHLC bars ordered by bucket start.
// Within a bucket open and close follow ledger order (time, then trade id).
func Bars(points []Point, width time.Duration) ([]models.Bar, error) {
	if width <= 0 {
		return nil, apperr.Newf(apperr.InvalidInput, "bucket width must be positive, got %s", width)
	}

	ordered := make([]Point, len(points))
	copy(ordered, points)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[j].after(ordered[i])
	})

	bars := []models.Bar{}
	for _, p := range ordered {
		start := BucketStart(p.Time, width)

		if n := len(bars); n > 0 && bars[n-1].Time.Equal(start) {
			bar := &bars[n-1]
			if p.Price.GreaterThan(bar.High) {
				bar.High = p.Price
			}
			if p.Price.LessThan(bar.Low) {
				bar.Low = p.Price
			}
			bar.Close = p.Price
			bar.Volume = bar.Volume.Add(p.Amount)
			bar.Trades++
			continue
		}

		bars = append(bars, models.Bar{
			Time:   start,
			Open:   p.Price,
			High:   p.Price,
			Low:    p.Price,
			Close:  p.Price,
			Volume: p.Amount,
			Trades: 1,
		})
	}
	return bars, nil
}

// Change24h returns the percent change from the oldest point of the last
// 24 hours to current, rounded to two decimals. It is zero when no point
// falls inside the window or the reference price is zero.
func Change24h(current decimal.Decimal, points []Point, now time.Time) decimal.Decimal {
	since := now.Add(-24 * time.Hour)

	var (
		ref   Point
		found bool
	)
	for _, p := range points {
		if p.Time.Before(since) || p.Time.After(now) {
			continue
		}
		if !found || ref.after(p) {
			ref, found = p, true
		}
	}
	if !found || ref.Price.IsZero() {
		return decimal.Zero
	}
	return current.Sub(ref.Price).Div(ref.Price).Mul(decimal.NewFromInt(100)).Round(2)
}

// Volume returns Σ amount × price over points at or after since
func Volume(points []Point, since time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, p := range points {
		if p.Time.Before(since) {
			continue
		}
		total = total.Add(p.Amount.Mul(p.Price))
	}
	return total
}

// ParseBucket parses a bucket width such as "5m" or "1h". Empty means DefaultBucket.
func ParseBucket(s string) (time.Duration, error) {
	if s == "" {
		return DefaultBucket, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, apperr.Wrap(apperr.InvalidInput, fmt.Sprintf("invalid bucket %q", s), err)
	}
	return d, nil
}
