// Package stats computes receipt aggregates for dashboards: a bucketed
// series for charting and a four-window rolling summary with trend deltas.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/receiptmatch/reconciler/internal/domain"
	"github.com/receiptmatch/reconciler/internal/money"
	"github.com/receiptmatch/reconciler/internal/repository"
)

type Cadence string

const (
	Weekly  Cadence = "weekly"
	Monthly Cadence = "monthly"
	Yearly  Cadence = "yearly"
)

// ParseCadence validates a cadence name. The empty string means Monthly.
func ParseCadence(s string) (Cadence, error) {
	switch c := Cadence(s); c {
	case "":
		return Monthly, nil
	case Weekly, Monthly, Yearly:
		return c, nil
	}
	return "", domain.NewValidationError("period", "must be one of weekly, monthly, yearly")
}

// Store is the aggregate side of the receipt store.
type Store interface {
	SumByBucket(ctx context.Context, since time.Time, grain repository.Grain, scope string) ([]repository.Bucket, error)
	SumWindows(ctx context.Context, scope string, ranges ...repository.DateRange) ([]repository.WindowTotals, error)
}

type Engine struct {
	store Store
	now   func() time.Time
}

// NewEngine creates an engine reading from store. now defaults to time.Now.
func NewEngine(store Store, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{store: store, now: now}
}

type BucketKey struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day,omitempty"`
}

// Bucket is one non-empty point of a series.
type Bucket struct {
	Period           BucketKey       `json:"period"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	TransactionCount int             `json:"transaction_count"`
}

// SeriesStart returns the first calendar day covered by a series ending on
// ref.
func SeriesStart(c Cadence, ref time.Time) time.Time {
	ref = dayOf(ref)
	switch c {
	case Weekly:
		return ref.AddDate(0, 0, -6)
	case Yearly:
		return time.Date(ref.Year(), ref.Month()-11, 1, 0, 0, 0, 0, time.UTC)
	default:
		return ref.AddDate(0, 0, -29)
	}
}

// Series groups receipts dated from SeriesStart onwards by day (weekly and
// monthly) or by month (yearly). Empty buckets are omitted. A non-empty
// scope restricts the receipts to those reconciling to that user.
func (e *Engine) Series(ctx context.Context, c Cadence, ref time.Time, scope string) ([]Bucket, error) {
	grain := repository.GrainDay
	if c == Yearly {
		grain = repository.GrainMonth
	}

	rows, err := e.store.SumByBucket(ctx, SeriesStart(c, ref), grain, scope)
	if err != nil {
		return nil, fmt.Errorf("%s series: %w", c, err)
	}

	out := make([]Bucket, len(rows))
	for i, r := range rows {
		out[i] = Bucket{
			Period:           BucketKey{Year: r.Year, Month: r.Month, Day: r.Day},
			TotalAmount:      money.Round(r.Total),
			TransactionCount: r.Count,
		}
	}
	return out, nil
}

// Period is one window of the rolling summary. Profit is nil for scoped
// summaries. Difference compares the window to the next wider one.
type Period struct {
	Total      decimal.Decimal  `json:"total"`
	Profit     *decimal.Decimal `json:"profit,omitempty"`
	Count      int              `json:"count"`
	Difference decimal.Decimal  `json:"difference"`
}

type Summary struct {
	Daily   Period `json:"daily"`
	Weekly  Period `json:"weekly"`
	Monthly Period `json:"monthly"`
	Yearly  Period `json:"yearly"`
}

// SummaryWindows returns the daily, weekly, monthly and yearly ranges for
// ref. The daily window runs from ref to today.
func SummaryWindows(ref, now time.Time) [4]repository.DateRange {
	ref = dayOf(ref)
	yearAgo := addMonthsClamped(ref, -12)
	return [4]repository.DateRange{
		{From: ref, To: dayOf(now)},
		{From: ref.AddDate(0, 0, -6), To: ref},
		{From: addMonthsClamped(ref, -1), To: ref},
		{From: time.Date(yearAgo.Year(), yearAgo.Month(), 1, 0, 0, 0, 0, time.UTC), To: ref},
	}
}

// Summary computes the four rolling windows around ref.
//
// Each Difference is (wider - narrower) / wider * 100 against the next wider
// window, so the daily figure is measured against the week, the weekly one
// against the month and the monthly one against the year. Yearly is always
// zero.
func (e *Engine) Summary(ctx context.Context, ref time.Time, scope string) (*Summary, error) {
	w := SummaryWindows(ref, e.now().UTC())
	totals, err := e.store.SumWindows(ctx, scope, w[:]...)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}

	periods := make([]Period, len(totals))
	for i, t := range totals {
		periods[i] = Period{Total: money.Round(t.Total), Count: t.Count}
		if scope == "" {
			p := money.Round(t.Profit)
			periods[i].Profit = &p
		}
	}
	for i := 0; i+1 < len(periods); i++ {
		periods[i].Difference = money.ShareChange(periods[i].Total, periods[i+1].Total)
	}
	periods[len(periods)-1].Difference = decimal.Zero

	return &Summary{
		Daily:   periods[0],
		Weekly:  periods[1],
		Monthly: periods[2],
		Yearly:  periods[3],
	}, nil
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// addMonthsClamped shifts t by n months, clamping the day to the length of
// the target month (Mar 31 - 1 month = Feb 29 in a leap year).
func addMonthsClamped(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	return first.AddDate(0, 0, min(t.Day(), last)-1)
}
