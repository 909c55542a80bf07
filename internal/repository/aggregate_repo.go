package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/receiptmatch/reconciler/internal/domain"
)

// Grain is the calendar unit receipts are grouped by.
type Grain int

const (
	GrainDay Grain = iota
	GrainMonth
)

// Bucket is the aggregate of one calendar day or month. Day is zero for
// monthly buckets.
type Bucket struct {
	Year  int
	Month int
	Day   int
	Total decimal.Decimal
	Count int
}

// SumByBucket groups active receipts dated on or after since and returns
// the non-empty buckets in ascending order. A non-empty scope restricts the
// receipts to those reconciling to that user's confirmations.
func (r *ReceiptRepo) SumByBucket(ctx context.Context, since time.Time, grain Grain, scope string) ([]Bucket, error) {
	day := "CAST(strftime('%d', r.date) AS INTEGER)"
	if grain == GrainMonth {
		day = "0"
	}

	q := active("r").
		where("r.date IS NOT NULL").
		where("r.date >= ?", since.Format(domain.DateLayout))
	if scope != "" {
		q.where(ownedByClause, scope)
	}
	where, args := q.build()

	querySQL := `SELECT
		CAST(strftime('%Y', r.date) AS INTEGER) AS y,
		CAST(strftime('%m', r.date) AS INTEGER) AS m,
		` + day + ` AS d,
		COALESCE(SUM(r.amount), 0),
		COUNT(*)
		FROM receipts r` + where + `
		GROUP BY y, m, d
		ORDER BY y, m, d`

	rows, err := r.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, storeErr(ErrIDStatsSeries, "sum by bucket", err)
	}
	defer rows.Close()

	buckets := []Bucket{}
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Year, &b.Month, &b.Day, &b.Total, &b.Count); err != nil {
			return nil, storeErr(ErrIDStatsSeries, "scan bucket", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(ErrIDStatsSeries, "sum by bucket", err)
	}
	return buckets, nil
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	From time.Time
	To   time.Time
}

// WindowTotals aggregates the receipts of one DateRange.
type WindowTotals struct {
	Total  decimal.Decimal
	Profit decimal.Decimal
	Count  int
}

// SumWindows aggregates every range in a single statement so all windows
// see the same snapshot of the store.
func (r *ReceiptRepo) SumWindows(ctx context.Context, scope string, ranges ...DateRange) ([]WindowTotals, error) {
	if len(ranges) == 0 {
		return nil, nil
	}

	var (
		cols     []string
		colArgs  []any
		earliest = ranges[0].From
		latest   = ranges[0].To
	)
	for _, dr := range ranges {
		from, to := dr.From.Format(domain.DateLayout), dr.To.Format(domain.DateLayout)
		in := "r.date >= ? AND r.date <= ?"
		cols = append(cols,
			"COALESCE(SUM(CASE WHEN "+in+" THEN r.amount END), 0)",
			"COALESCE(SUM(CASE WHEN "+in+" THEN r.amount * r.commission / 100.0 END), 0)",
			"COALESCE(SUM(CASE WHEN "+in+" THEN 1 ELSE 0 END), 0)",
		)
		colArgs = append(colArgs, from, to, from, to, from, to)
		if dr.From.Before(earliest) {
			earliest = dr.From
		}
		if dr.To.After(latest) {
			latest = dr.To
		}
	}

	q := active("r").
		where("r.date IS NOT NULL").
		where("r.date >= ? AND r.date <= ?", earliest.Format(domain.DateLayout), latest.Format(domain.DateLayout))
	if scope != "" {
		q.where(ownedByClause, scope)
	}
	where, whereArgs := q.build()
	args := append(colArgs, whereArgs...)

	totals := make([]WindowTotals, len(ranges))
	dest := make([]any, 0, 3*len(ranges))
	for i := range totals {
		dest = append(dest, &totals[i].Total, &totals[i].Profit, &totals[i].Count)
	}

	querySQL := "SELECT " + strings.Join(cols, ",\n") + " FROM receipts r" + where
	if err := r.db.QueryRowContext(ctx, querySQL, args...).Scan(dest...); err != nil {
		return nil, storeErr(ErrIDStatsWindows, fmt.Sprintf("sum %d windows", len(ranges)), err)
	}
	return totals, nil
}
