package core

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Vehicle is identified by its normalized VIN. The first import of a VIN
// fixes its attributes; later rows referencing the same VIN reuse it.
type Vehicle struct {
	VIN           string      `json:"vin"`
	Year          int         `json:"year"`
	Make          string      `json:"make"`
	Model         string      `json:"model"`
	Trim          pgtype.Text `json:"trim"`
	Style         pgtype.Text `json:"style"`
	DrivenWheels  pgtype.Text `json:"driven_wheels"`
	Engine        pgtype.Text `json:"engine"`
	FuelType      pgtype.Text `json:"fuel_type"`
	ExteriorColor pgtype.Text `json:"exterior_color"`
	InteriorColor pgtype.Text `json:"interior_color"`
}

// Label renders "{year} {make} {model}", with the trim appended when present.
func (v Vehicle) Label() string {
	label := strconv.Itoa(v.Year) + " " + v.Make + " " + v.Model
	if v.Trim.Valid {
		label += " " + v.Trim.String
	}
	return label
}

// DealerKey is the structural identity of a dealer. Absent fields are
// represented as invalid pgtype.Text with an empty String, so two keys with
// the same missing fields compare equal with ==.
type DealerKey struct {
	Name    string
	Street  pgtype.Text
	City    pgtype.Text
	State   pgtype.Text
	Zip     pgtype.Text
	Website pgtype.Text
}

// IsZero reports whether no identity field is present after normalizing.
func (k DealerKey) IsZero() bool {
	return k.Normalize() == DealerKey{}
}

// Normalize trims every field and turns blanks into absent values.
func (k DealerKey) Normalize() DealerKey {
	return DealerKey{
		Name:    strings.TrimSpace(k.Name),
		Street:  ToPgText(k.Street.String),
		City:    ToPgText(k.City.String),
		State:   ToPgText(k.State.String),
		Zip:     ToPgText(k.Zip.String),
		Website: ToPgText(k.Website.String),
	}
}

// Dealer is a persisted dealer with its surrogate ID.
type Dealer struct {
	ID int64
	DealerKey
}

// Location renders "{city}, {state}", falling back to whichever is present.
func (d *Dealer) Location() string {
	if d == nil {
		return ""
	}
	switch {
	case d.City.Valid && d.State.Valid:
		return d.City.String + ", " + d.State.String
	case d.City.Valid:
		return d.City.String
	case d.State.Valid:
		return d.State.String
	default:
		return ""
	}
}

// Listing is one observation of a vehicle for sale. Listings are append-only.
type Listing struct {
	ID        int64
	VIN       string
	DealerID  pgtype.Int8
	Price     decimal.NullDecimal
	Mileage   pgtype.Int4
	Used      pgtype.Bool
	Certified pgtype.Bool
	FirstSeen pgtype.Date
	LastSeen  pgtype.Date
	Status    pgtype.Text
}

// ComparableRow is a listing joined to its vehicle and, when known, its dealer.
type ComparableRow struct {
	Listing Listing
	Vehicle Vehicle
	Dealer  *Dealer
}

// ComparableQuery selects listings for one (year, make, model).
// An empty Statuses slice means no status restriction.
type ComparableQuery struct {
	Year     int
	Make     string
	Model    string
	Statuses []string
}

// ImportStore is the write side of the record store used by the import pipeline.
type ImportStore interface {
	// FindOrCreateDealer returns the dealer whose six identity fields equal
	// key, treating absent fields as equal to each other.
	FindOrCreateDealer(ctx context.Context, key DealerKey) (Dealer, error)

	// GetOrCreateVehicle returns the stored vehicle for v.VIN, inserting v
	// only when the VIN is unknown.
	GetOrCreateVehicle(ctx context.Context, v Vehicle) (Vehicle, error)

	// InsertListings persists one batch and commits it.
	InsertListings(ctx context.Context, listings []Listing) error
}

// ComparableSource is the read side used by the valuation engine.
type ComparableSource interface {
	// Comparables returns listings whose vehicle matches the query exactly
	// and whose price and mileage are both present.
	Comparables(ctx context.Context, q ComparableQuery) ([]ComparableRow, error)
}

// RunRecorder persists import run history.
type RunRecorder interface {
	RecordImportRun(ctx context.Context, run ImportRun) error
	ListImportRuns(ctx context.Context, limit int) ([]ImportRun, error)
}

// Store is the full record store capability.
type Store interface {
	ImportStore
	ComparableSource
	RunRecorder
	Ping(ctx context.Context) error
}

// SkipReason names why an import row was rejected.
type SkipReason string

const (
	SkipInvalidFieldCount SkipReason = "invalid_field_count"
	SkipInvalidYear       SkipReason = "invalid_year"
	SkipInvalidPrice      SkipReason = "invalid_price"
	SkipInvalidMileage    SkipReason = "invalid_mileage"
)

// SkippedRow records one rejected row. Identifier is the normalized VIN and
// may be empty when the row carried none.
type SkippedRow struct {
	Identifier string     `json:"vin"`
	Reason     SkipReason `json:"reason"`
}

// ImportStats accumulates the outcome of one import run.
type ImportStats struct {
	TotalRows      int                `json:"total_rows"`
	InsertedRows   int                `json:"inserted_rows"`
	SkippedRows    int                `json:"skipped_rows"`
	SkippedReasons map[SkipReason]int `json:"skipped_reasons"`
	SkippedDetails []SkippedRow       `json:"skipped_details"`
}

// NewImportStats returns empty stats ready for recording.
func NewImportStats() *ImportStats {
	return &ImportStats{
		SkippedReasons: make(map[SkipReason]int),
		SkippedDetails: []SkippedRow{},
	}
}

// RecordSkip counts one skipped row under reason.
func (s *ImportStats) RecordSkip(reason SkipReason, identifier string) {
	s.SkippedRows++
	s.SkippedReasons[reason]++
	s.SkippedDetails = append(s.SkippedDetails, SkippedRow{Identifier: identifier, Reason: reason})
}

// ImportRunStatus is the terminal state of an import run.
type ImportRunStatus string

const (
	RunCompleted ImportRunStatus = "completed"
	RunFailed    ImportRunStatus = "failed"
)

// ImportRun is the history record of one import.
type ImportRun struct {
	ID          uuid.UUID       `json:"id"`
	Source      string          `json:"source"`
	SourceLabel string          `json:"source_label"`
	RequestedBy string          `json:"requested_by"`
	DryRun      bool            `json:"dry_run"`
	BatchSize   int             `json:"batch_size"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	Status      ImportRunStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
	Stats       *ImportStats    `json:"stats"`
}

// Comparable is the presentation summary of one supporting listing.
type Comparable struct {
	Label    string          `json:"label"`
	Price    decimal.Decimal `json:"price"`
	Mileage  int             `json:"mileage"`
	Location string          `json:"location"`
}

// ValuationResult is returned by one estimate call. Estimate is invalid when
// no comparables support a price.
type ValuationResult struct {
	Estimate    decimal.NullDecimal `json:"estimate"`
	Comparables []Comparable        `json:"comparables"`
}
