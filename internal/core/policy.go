package core

// policy.go holds the interchangeable pieces of a valuation:
//
//	outlier filter  trim (drop a fraction from each price extreme) | stddev (keep a band around the mean)
//	estimator       adjusted_mean (mean price, moved by mileage off the median) | regression (least squares on mileage)
//	ranking         price (ascending price) | distance (closest to the rounded estimate)
//
// All money arithmetic uses shopspring/decimal. No filter ever turns a
// non-empty input into an empty output.

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// FilterPolicy selects the outlier filter.
type FilterPolicy string

const (
	FilterTrim   FilterPolicy = "trim"
	FilterStdDev FilterPolicy = "stddev"
)

// EstimatorKind selects the central price model.
type EstimatorKind string

const (
	EstimatorAdjustedMean EstimatorKind = "adjusted_mean"
	EstimatorRegression   EstimatorKind = "regression"
)

// RankingPolicy selects how returned comparables are ordered.
type RankingPolicy string

const (
	RankByPrice    RankingPolicy = "price"
	RankByDistance RankingPolicy = "distance"
)

// MinTrimmedRows is the smallest set trimming may leave behind.
const MinTrimmedRows = 3

var (
	hundred  = decimal.NewFromInt(100)
	tenThous = decimal.NewFromInt(10000)
	two      = decimal.NewFromInt(2)
)

// Policy is one point on the three policy axes plus the constants they use.
type Policy struct {
	Filter    FilterPolicy
	Estimator EstimatorKind
	Ranking   RankingPolicy

	// TrimFraction is used by FilterTrim, in [0, 0.5).
	TrimFraction decimal.Decimal
	// StdDevMultiple is used by FilterStdDev and must be positive.
	StdDevMultiple decimal.Decimal
	// DepreciationPer10k is used by EstimatorAdjustedMean.
	DepreciationPer10k decimal.Decimal

	// Statuses is the default listing status filter; empty means none.
	Statuses []string
}

// DefaultPolicy is trimmed mean, mileage-adjusted mean and price order.
func DefaultPolicy() Policy {
	return Policy{
		Filter:             FilterTrim,
		Estimator:          EstimatorAdjustedMean,
		Ranking:            RankByPrice,
		TrimFraction:       decimal.RequireFromString("0.05"),
		StdDevMultiple:     decimal.NewFromInt(2),
		DepreciationPer10k: decimal.NewFromInt(300),
	}
}

// Validate reports an unknown policy name or an out-of-range constant.
func (p Policy) Validate() error {
	switch p.Filter {
	case FilterTrim:
		if p.TrimFraction.IsNegative() || p.TrimFraction.GreaterThanOrEqual(decimal.RequireFromString("0.5")) {
			return fmt.Errorf("trim fraction %s must be in [0, 0.5)", p.TrimFraction)
		}
	case FilterStdDev:
		if !p.StdDevMultiple.IsPositive() {
			return fmt.Errorf("stddev multiple %s must be positive", p.StdDevMultiple)
		}
	default:
		return fmt.Errorf("unknown outlier filter %q", p.Filter)
	}

	switch p.Estimator {
	case EstimatorAdjustedMean, EstimatorRegression:
	default:
		return fmt.Errorf("unknown estimator %q", p.Estimator)
	}

	switch p.Ranking {
	case RankByPrice, RankByDistance:
	default:
		return fmt.Errorf("unknown ranking %q", p.Ranking)
	}
	return nil
}

// SortByPrice orders rows by ascending price, then listing ID, in place.
func SortByPrice(rows []ComparableRow) {
	slices.SortStableFunc(rows, func(a, b ComparableRow) int {
		if c := a.Listing.Price.Decimal.Cmp(b.Listing.Price.Decimal); c != 0 {
			return c
		}
		return cmp.Compare(a.Listing.ID, b.Listing.ID)
	})
}

// TrimOutliers drops floor(n*fraction) rows from each end of rows, which must
// already be sorted by price. Trimming is skipped when it would drop nothing
// or leave fewer than MinTrimmedRows rows.
func TrimOutliers(rows []ComparableRow, fraction decimal.Decimal) []ComparableRow {
	n := len(rows)
	k := int(decimal.NewFromInt(int64(n)).Mul(fraction).Floor().IntPart())
	if k <= 0 || n-2*k < MinTrimmedRows {
		return rows
	}
	return rows[k : n-k]
}

// StdDevFilter keeps rows whose price lies within multiple population
// standard deviations of the mean. A zero deviation, or a band that would
// exclude every row, returns rows unchanged. The comparison is done on
// squares so no square root is needed.
func StdDevFilter(rows []ComparableRow, multiple decimal.Decimal) []ComparableRow {
	if len(rows) == 0 {
		return rows
	}
	prices := pricesOf(rows)
	mean := Mean(prices)

	variance := decimal.Zero
	for _, p := range prices {
		d := p.Sub(mean)
		variance = variance.Add(d.Mul(d))
	}
	variance = variance.Div(decimal.NewFromInt(int64(len(prices))))
	if variance.IsZero() {
		return rows
	}

	limit := multiple.Mul(multiple).Mul(variance)
	kept := make([]ComparableRow, 0, len(rows))
	for i, row := range rows {
		d := prices[i].Sub(mean)
		if d.Mul(d).LessThanOrEqual(limit) {
			kept = append(kept, row)
		}
	}
	if len(kept) == 0 {
		return rows
	}
	return kept
}

// Mean is the arithmetic mean of values, zero for an empty slice.
func Mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	return decimal.Sum(decimal.Zero, values...).Div(decimal.NewFromInt(int64(len(values))))
}

// Median of integer values; the mean of the two middle values for even counts.
func Median(values []int64) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return decimal.NewFromInt(sorted[mid])
	}
	return decimal.NewFromInt(sorted[mid-1]).Add(decimal.NewFromInt(sorted[mid])).Div(two)
}

// AdjustedMean is the mean price, lowered by depreciationPer10k for every
// 10,000 miles the target sits above the median mileage (raised when below).
// Without a target mileage the mean is returned as is.
func AdjustedMean(prices []decimal.Decimal, mileages []int64, target pgtype.Int4, depreciationPer10k decimal.Decimal) decimal.Decimal {
	estimate := Mean(prices)
	if !target.Valid || len(mileages) == 0 {
		return estimate
	}
	delta := decimal.NewFromInt32(target.Int32).Sub(Median(mileages))
	return estimate.Sub(delta.Div(tenThous).Mul(depreciationPer10k))
}

// LinearRegression fits y = slope*x + intercept by the closed-form normal
// equations. Identical x values give slope 0 and the mean of y as intercept.
func LinearRegression(xs, ys []decimal.Decimal) (slope, intercept decimal.Decimal, err error) {
	if len(xs) == 0 || len(xs) != len(ys) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("regression needs equal non-empty inputs, got %d and %d", len(xs), len(ys))
	}

	n := decimal.NewFromInt(int64(len(xs)))
	var sumX, sumY, sumXX, sumXY decimal.Decimal
	for i := range xs {
		sumX = sumX.Add(xs[i])
		sumY = sumY.Add(ys[i])
		sumXX = sumXX.Add(xs[i].Mul(xs[i]))
		sumXY = sumXY.Add(xs[i].Mul(ys[i]))
	}

	denom := n.Mul(sumXX).Sub(sumX.Mul(sumX))
	if denom.IsZero() {
		slope = decimal.Zero
	} else {
		slope = n.Mul(sumXY).Sub(sumX.Mul(sumY)).Div(denom)
	}
	intercept = sumY.Sub(slope.Mul(sumX)).Div(n)
	return slope, intercept, nil
}

// RegressionEstimate evaluates the fitted line at target, or at the mean
// mileage when no target is given.
func RegressionEstimate(prices []decimal.Decimal, mileages []int64, target pgtype.Int4) (decimal.Decimal, error) {
	xs := make([]decimal.Decimal, len(mileages))
	for i, m := range mileages {
		xs[i] = decimal.NewFromInt(m)
	}
	slope, intercept, err := LinearRegression(xs, prices)
	if err != nil {
		return decimal.Zero, err
	}

	x := Mean(xs)
	if target.Valid {
		x = decimal.NewFromInt32(target.Int32)
	}
	return intercept.Add(slope.Mul(x)), nil
}

// RoundToHundred rounds to the nearest 100, halves away from zero.
func RoundToHundred(d decimal.Decimal) decimal.Decimal {
	return d.Round(-2)
}

// RankByDistanceTo orders rows by absolute price distance from estimate.
// The sort is stable, so ties keep their incoming (price) order.
func RankByDistanceTo(rows []ComparableRow, estimate decimal.Decimal) []ComparableRow {
	ranked := slices.Clone(rows)
	slices.SortStableFunc(ranked, func(a, b ComparableRow) int {
		da := a.Listing.Price.Decimal.Sub(estimate).Abs()
		db := b.Listing.Price.Decimal.Sub(estimate).Abs()
		return da.Cmp(db)
	})
	return ranked
}

func pricesOf(rows []ComparableRow) []decimal.Decimal {
	prices := make([]decimal.Decimal, len(rows))
	for i, row := range rows {
		prices[i] = row.Listing.Price.Decimal
	}
	return prices
}

func mileagesOf(rows []ComparableRow) []int64 {
	mileages := make([]int64, 0, len(rows))
	for _, row := range rows {
		if row.Listing.Mileage.Valid {
			mileages = append(mileages, int64(row.Listing.Mileage.Int32))
		}
	}
	return mileages
}
