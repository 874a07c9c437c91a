package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/carvalue/internal/logging"
)

// MaxComparables bounds the supporting listings returned with an estimate.
const MaxComparables = 100

// ErrInvalidQuery marks a malformed request, such as an estimate query
// without a year.
var ErrInvalidQuery = errors.New("invalid request")

// EstimateQuery asks for the value of one vehicle. Make and model are
// matched after trimming and uppercasing.
type EstimateQuery struct {
	Year    int
	Make    string
	Model   string
	Mileage pgtype.Int4
	// Statuses overrides the policy's default status filter when non-empty.
	Statuses []string
}

// ParseEstimateQuery validates raw form or query-string input. Mileage may
// contain thousands separators. All problems are reported together.
func ParseEstimateQuery(year, makeName, modelName, mileage string, statuses []string) (EstimateQuery, ValidationErrors) {
	var errs ValidationErrors
	q := EstimateQuery{
		Make:     NormalizeCode(makeName),
		Model:    NormalizeCode(modelName),
		Statuses: statuses,
	}

	y, err := ParseYear(year)
	if err != nil {
		errs = append(errs, ValidationError{Field: "year", Value: year, Message: "Year is required and must be a number."})
	}
	q.Year = y

	if q.Make == "" {
		errs = append(errs, ValidationError{Field: "make", Value: makeName, Message: "Make is required."})
	}
	if q.Model == "" {
		errs = append(errs, ValidationError{Field: "model", Value: modelName, Message: "Model is required."})
	}

	if m := strings.ReplaceAll(strings.TrimSpace(mileage), ",", ""); m != "" {
		n, err := strconv.ParseInt(m, 10, 32)
		if err != nil || n < 0 {
			errs = append(errs, ValidationError{Field: "mileage", Value: mileage, Message: "Mileage must be a number."})
		} else {
			q.Mileage = pgtype.Int4{Int32: int32(n), Valid: true}
		}
	}

	return q, errs
}

// Engine estimates vehicle values from comparable listings. It holds no
// per-call state and is safe for concurrent use.
type Engine struct {
	source ComparableSource
	policy Policy
}

// NewEngine validates policy and binds it to source.
func NewEngine(source ComparableSource, policy Policy) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("valuation policy: %w", err)
	}
	return &Engine{source: source, policy: policy}, nil
}

// Policy returns the engine's policy.
func (e *Engine) Policy() Policy { return e.policy }

// Estimate values the vehicle described by q. A missing estimate is not an
// error: the result then has an invalid Estimate and no comparables. Only
// store failures are returned as errors.
func (e *Engine) Estimate(ctx context.Context, q EstimateQuery) (*ValuationResult, error) {
	statuses := q.Statuses
	if len(statuses) == 0 {
		statuses = e.policy.Statuses
	}

	rows, err := e.source.Comparables(ctx, ComparableQuery{
		Year:     q.Year,
		Make:     NormalizeCode(q.Make),
		Model:    NormalizeCode(q.Model),
		Statuses: statuses,
	})
	if err != nil {
		return nil, fmt.Errorf("load comparables: %w", err)
	}

	empty := &ValuationResult{Comparables: []Comparable{}}

	usable := make([]ComparableRow, 0, len(rows))
	for _, row := range rows {
		if row.Listing.Price.Valid && row.Listing.Mileage.Valid {
			usable = append(usable, row)
		}
	}
	if len(usable) == 0 {
		return empty, nil
	}

	SortByPrice(usable)
	filtered := e.filter(usable)
	if len(filtered) == 0 {
		return empty, nil
	}

	raw, err := e.estimate(filtered, q.Mileage)
	if err != nil {
		// Degenerate inputs degrade to no estimate.
		logging.FromContext(ctx).Warn("estimate degenerate", "error", err)
		return empty, nil
	}
	estimate := RoundToHundred(raw)

	ranked := filtered
	if e.policy.Ranking == RankByDistance {
		ranked = RankByDistanceTo(filtered, estimate)
	}
	if len(ranked) > MaxComparables {
		ranked = ranked[:MaxComparables]
	}

	result := &ValuationResult{
		Estimate:    decimal.NewNullDecimal(estimate),
		Comparables: make([]Comparable, len(ranked)),
	}
	for i, row := range ranked {
		result.Comparables[i] = summarize(row)
	}

	logging.FromContext(ctx).Debug("estimate computed",
		"year", q.Year,
		"make", q.Make,
		"model", q.Model,
		"retrieved", len(rows),
		"kept", len(filtered),
		"estimate", estimate.String(),
	)
	return result, nil
}

func (e *Engine) filter(sorted []ComparableRow) []ComparableRow {
	switch e.policy.Filter {
	case FilterStdDev:
		return StdDevFilter(sorted, e.policy.StdDevMultiple)
	default:
		return TrimOutliers(sorted, e.policy.TrimFraction)
	}
}

func (e *Engine) estimate(rows []ComparableRow, target pgtype.Int4) (decimal.Decimal, error) {
	prices := pricesOf(rows)
	mileages := mileagesOf(rows)
	if len(prices) == 0 || len(mileages) == 0 {
		return decimal.Zero, errors.New("no priced comparables with mileage")
	}

	switch e.policy.Estimator {
	case EstimatorRegression:
		return RegressionEstimate(prices, mileages, target)
	default:
		return AdjustedMean(prices, mileages, target, e.policy.DepreciationPer10k), nil
	}
}

func summarize(row ComparableRow) Comparable {
	mileage := 0
	if row.Listing.Mileage.Valid {
		mileage = int(row.Listing.Mileage.Int32)
	}
	return Comparable{
		Label:    row.Vehicle.Label(),
		Price:    row.Listing.Price.Decimal,
		Mileage:  mileage,
		Location: row.Dealer.Location(),
	}
}
