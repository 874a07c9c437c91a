package core

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/JonMunkholm/carvalue/internal/logging"
)

// FeedFieldCount is the number of '|'-separated fields in a feed row.
const FeedFieldCount = 25

// FeedDelimiter separates feed fields.
const FeedDelimiter = "|"

// DefaultBatchSize is used when an import is started without a batch size.
const DefaultBatchSize = 5000

// ContextCheckInterval is how often (in rows) to check for context cancellation.
var ContextCheckInterval = 100

// Feed column positions. Column 23 (dealer VDP last seen) is ignored.
const (
	colVIN = iota
	colYear
	colMake
	colModel
	colTrim
	colDealerName
	colDealerStreet
	colDealerCity
	colDealerState
	colDealerZip
	colPrice
	colMileage
	colUsed
	colCertified
	colStyle
	colDrivenWheels
	colEngine
	colFuelType
	colExteriorColor
	colInteriorColor
	colSellerWebsite
	colFirstSeen
	colLastSeen
	colDealerVDPLastSeen
	colStatus
)

// FeedRow is one validated feed line, ready to be resolved against the store.
type FeedRow struct {
	Vehicle Vehicle
	// Dealer is nil when the row names no dealer.
	Dealer  *DealerKey
	Listing Listing
}

// RowError is a row-level validation failure.
type RowError struct {
	Identifier string
	Reason     SkipReason
	Err        error
}

func (e *RowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return string(e.Reason)
}

func (e *RowError) Unwrap() error { return e.Err }

// ParseFeedLine validates one feed line. Checks run in column order and stop
// at the first failure, so every rejected line has exactly one reason.
func ParseFeedLine(line string) (FeedRow, *RowError) {
	parts := strings.Split(strings.TrimRight(line, "\r\n"), FeedDelimiter)
	if len(parts) != FeedFieldCount {
		return FeedRow{}, &RowError{
			Identifier: NormalizeCode(parts[0]),
			Reason:     SkipInvalidFieldCount,
			Err:        fmt.Errorf("got %d fields, want %d", len(parts), FeedFieldCount),
		}
	}

	vin := NormalizeCode(parts[colVIN])

	year, err := ParseYear(parts[colYear])
	if err != nil {
		return FeedRow{}, &RowError{Identifier: vin, Reason: SkipInvalidYear, Err: err}
	}

	price, err := ParsePrice(parts[colPrice])
	if err != nil {
		return FeedRow{}, &RowError{Identifier: vin, Reason: SkipInvalidPrice, Err: err}
	}

	mileage, err := ParseMileage(parts[colMileage])
	if err != nil {
		return FeedRow{}, &RowError{Identifier: vin, Reason: SkipInvalidMileage, Err: err}
	}

	row := FeedRow{
		Vehicle: Vehicle{
			VIN:           vin,
			Year:          year,
			Make:          NormalizeCode(parts[colMake]),
			Model:         NormalizeCode(parts[colModel]),
			Trim:          ToPgText(parts[colTrim]),
			Style:         ToPgText(parts[colStyle]),
			DrivenWheels:  ToPgText(parts[colDrivenWheels]),
			Engine:        ToPgText(parts[colEngine]),
			FuelType:      ToPgText(parts[colFuelType]),
			ExteriorColor: ToPgText(parts[colExteriorColor]),
			InteriorColor: ToPgText(parts[colInteriorColor]),
		},
		Listing: Listing{
			VIN:       vin,
			Price:     price,
			Mileage:   mileage,
			Used:      ToPgBool(parts[colUsed]),
			Certified: ToPgBool(parts[colCertified]),
			FirstSeen: ToPgDate(parts[colFirstSeen]),
			LastSeen:  ToPgDate(parts[colLastSeen]),
			Status:    ToPgText(parts[colStatus]),
		},
	}

	key := DealerKey{
		Name:    parts[colDealerName],
		Street:  ToPgText(parts[colDealerStreet]),
		City:    ToPgText(parts[colDealerCity]),
		State:   ToPgText(parts[colDealerState]),
		Zip:     ToPgText(parts[colDealerZip]),
		Website: ToPgText(parts[colSellerWebsite]),
	}.Normalize()
	// A dealer is known when any identity field is; the name may be blank.
	if !key.IsZero() {
		row.Dealer = &key
	}

	return row, nil
}

// Importer turns feed lines into vehicles, dealers and listings.
// An Importer assumes it is the only writer for the duration of a run;
// callers serialize runs with an ImportLimiter.
type Importer struct {
	store     ImportStore
	batchSize int
}

// NewImporter creates an importer flushing every batchSize listings.
// A non-positive batchSize selects DefaultBatchSize.
func NewImporter(store ImportStore, batchSize int) *Importer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Importer{store: store, batchSize: batchSize}
}

// BatchSize returns the flush threshold.
func (im *Importer) BatchSize() int { return im.batchSize }

// Import processes rows (without header) and returns the run statistics.
// Row-level problems are recorded in the stats; only store failures and
// context cancellation return an error, together with the stats so far.
// In dry-run mode the store is never touched.
func (im *Importer) Import(ctx context.Context, rows iter.Seq[string], dryRun bool) (*ImportStats, error) {
	logger := logging.FromContext(ctx)
	stats := NewImportStats()
	run := &importRun{
		importer: im,
		dealers:  make(map[DealerKey]int64),
		vehicles: make(map[string]struct{}),
		batch:    make([]Listing, 0, min(im.batchSize, 1024)),
	}

	for line := range rows {
		if stats.TotalRows%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return stats, fmt.Errorf("import cancelled after %d rows: %w", stats.TotalRows, err)
			}
		}
		stats.TotalRows++

		row, rowErr := ParseFeedLine(line)
		if rowErr != nil {
			stats.RecordSkip(rowErr.Reason, rowErr.Identifier)
			logger.Debug("row skipped",
				"line", stats.TotalRows,
				"vin", rowErr.Identifier,
				"reason", rowErr.Reason,
			)
			continue
		}

		if dryRun {
			stats.InsertedRows++
			continue
		}

		if err := run.add(ctx, row); err != nil {
			return stats, fmt.Errorf("import row %d: %w", stats.TotalRows, err)
		}
		stats.InsertedRows++

		if len(run.batch) >= im.batchSize {
			if err := run.flush(ctx); err != nil {
				return stats, err
			}
		}
	}

	if !dryRun {
		if err := run.flush(ctx); err != nil {
			return stats, err
		}
	}

	logger.Info("import finished",
		"total", stats.TotalRows,
		"inserted", stats.InsertedRows,
		"skipped", stats.SkippedRows,
		"dry_run", dryRun,
		"batches", run.flushes,
	)
	return stats, nil
}

// importRun holds the per-run identity caches and the pending batch.
// The caches are valid because the importer is the only writer.
type importRun struct {
	importer *Importer
	dealers  map[DealerKey]int64
	vehicles map[string]struct{}
	batch    []Listing
	flushes  int
}

func (r *importRun) add(ctx context.Context, row FeedRow) error {
	listing := row.Listing

	if row.Dealer != nil {
		id, ok := r.dealers[*row.Dealer]
		if !ok {
			dealer, err := r.importer.store.FindOrCreateDealer(ctx, *row.Dealer)
			if err != nil {
				return fmt.Errorf("resolve dealer %q: %w", row.Dealer.Name, err)
			}
			id = dealer.ID
			r.dealers[*row.Dealer] = id
		}
		listing.DealerID.Int64, listing.DealerID.Valid = id, true
	}

	if _, ok := r.vehicles[row.Vehicle.VIN]; !ok {
		vehicle, err := r.importer.store.GetOrCreateVehicle(ctx, row.Vehicle)
		if err != nil {
			return fmt.Errorf("resolve vehicle %s: %w", row.Vehicle.VIN, err)
		}
		r.vehicles[vehicle.VIN] = struct{}{}
	}

	r.batch = append(r.batch, listing)
	return nil
}

func (r *importRun) flush(ctx context.Context) error {
	if len(r.batch) == 0 {
		return nil
	}
	if err := r.importer.store.InsertListings(ctx, r.batch); err != nil {
		return fmt.Errorf("flush %d listings: %w", len(r.batch), err)
	}
	r.flushes++
	logging.FromContext(ctx).Debug("batch flushed", "listings", len(r.batch), "batch", r.flushes)
	r.batch = r.batch[:0]
	return nil
}
