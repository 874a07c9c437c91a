package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/carvalue/internal/core"
)

func text(s string) pgtype.Text { return core.ToPgText(s) }

func price(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func miles(n int32) pgtype.Int4 { return pgtype.Int4{Int32: n, Valid: true} }

// testStoreBehavior runs the identity and retrieval rules every core.Store
// must follow against an empty store.
func testStoreBehavior(t *testing.T, store core.Store) {
	ctx := context.Background()

	t.Run("dealer identity", func(t *testing.T) {
		key := core.DealerKey{Name: "Acme Motors", City: text("Austin"), State: text("TX")}

		first, err := store.FindOrCreateDealer(ctx, key)
		if err != nil {
			t.Fatalf("FindOrCreateDealer() error = %v", err)
		}
		again, err := store.FindOrCreateDealer(ctx, core.DealerKey{Name: " Acme Motors ", City: text("Austin"), State: text("TX"), Zip: text("  ")})
		if err != nil {
			t.Fatal(err)
		}
		if again.ID != first.ID {
			t.Errorf("absent fields should match: got dealer %d, want %d", again.ID, first.ID)
		}

		other, err := store.FindOrCreateDealer(ctx, core.DealerKey{Name: "Acme Motors", City: text("Dallas"), State: text("TX")})
		if err != nil {
			t.Fatal(err)
		}
		if other.ID == first.ID {
			t.Error("dealers differing in city must be distinct")
		}
	})

	t.Run("first vehicle wins", func(t *testing.T) {
		v := core.Vehicle{VIN: "STORE0000000000001", Year: 2018, Make: "HONDA", Model: "CIVIC", Trim: text("EX")}
		stored, err := store.GetOrCreateVehicle(ctx, v)
		if err != nil {
			t.Fatalf("GetOrCreateVehicle() error = %v", err)
		}
		if stored.Trim.String != "EX" {
			t.Errorf("Trim = %q, want EX", stored.Trim.String)
		}

		v.Trim = text("LX")
		v.Year = 2019
		stored, err = store.GetOrCreateVehicle(ctx, v)
		if err != nil {
			t.Fatal(err)
		}
		if stored.Year != 2018 || stored.Trim.String != "EX" {
			t.Errorf("second write changed vehicle: %+v", stored)
		}
	})

	t.Run("comparables", func(t *testing.T) {
		for _, vin := range []string{"STORE0000000000010", "STORE0000000000011"} {
			if _, err := store.GetOrCreateVehicle(ctx, core.Vehicle{VIN: vin, Year: 2020, Make: "TOYOTA", Model: "CAMRY"}); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := store.GetOrCreateVehicle(ctx, core.Vehicle{VIN: "STORE0000000000012", Year: 2020, Make: "TOYOTA", Model: "COROLLA"}); err != nil {
			t.Fatal(err)
		}
		dealer, err := store.FindOrCreateDealer(ctx, core.DealerKey{Name: "Lone Star Auto", City: text("Houston"), State: text("TX")})
		if err != nil {
			t.Fatal(err)
		}

		listings := []core.Listing{
			{VIN: "STORE0000000000010", DealerID: pgtype.Int8{Int64: dealer.ID, Valid: true}, Price: price("21000.50"), Mileage: miles(30000), Status: text("active")},
			{VIN: "STORE0000000000011", Price: price("19500"), Mileage: miles(42000), Status: text("sold")},
			{VIN: "STORE0000000000010", Price: price("20000"), Mileage: miles(31000), Status: text("active")},
			{VIN: "STORE0000000000011", Mileage: miles(40000)},
			{VIN: "STORE0000000000011", Price: price("18000")},
			{VIN: "STORE0000000000012", Price: price("15000"), Mileage: miles(20000)},
		}
		if err := store.InsertListings(ctx, listings); err != nil {
			t.Fatalf("InsertListings() error = %v", err)
		}

		rows, err := store.Comparables(ctx, core.ComparableQuery{Year: 2020, Make: "TOYOTA", Model: "CAMRY"})
		if err != nil {
			t.Fatalf("Comparables() error = %v", err)
		}
		if len(rows) != 3 {
			t.Fatalf("got %d rows, want 3 priced rows with mileage", len(rows))
		}
		wantPrices := []string{"19500", "20000", "21000.5"}
		for i, row := range rows {
			if !row.Listing.Price.Decimal.Equal(decimal.RequireFromString(wantPrices[i])) {
				t.Errorf("row %d price = %s, want %s", i, row.Listing.Price.Decimal, wantPrices[i])
			}
		}
		last := rows[2]
		if last.Dealer == nil || last.Dealer.Location() != "Houston, TX" {
			t.Errorf("dealer not joined: %+v", last.Dealer)
		}
		if rows[0].Dealer != nil {
			t.Errorf("listing without dealer got %+v", rows[0].Dealer)
		}

		active, err := store.Comparables(ctx, core.ComparableQuery{Year: 2020, Make: "TOYOTA", Model: "CAMRY", Statuses: []string{"active"}})
		if err != nil {
			t.Fatal(err)
		}
		if len(active) != 2 {
			t.Errorf("status filter: got %d rows, want 2", len(active))
		}

		none, err := store.Comparables(ctx, core.ComparableQuery{Year: 2021, Make: "TOYOTA", Model: "CAMRY"})
		if err != nil {
			t.Fatal(err)
		}
		if len(none) != 0 {
			t.Errorf("other year: got %d rows, want 0", len(none))
		}
	})

	t.Run("import runs", func(t *testing.T) {
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		for i := range 3 {
			stats := core.NewImportStats()
			stats.TotalRows = 10 + i
			stats.InsertedRows = 9 + i
			stats.RecordSkip(core.SkipInvalidPrice, "")
			run := core.ImportRun{
				ID:          uuid.New(),
				Source:      "feed.txt",
				SourceLabel: "feed.txt",
				RequestedBy: "cli",
				BatchSize:   500,
				StartedAt:   base.Add(time.Duration(i) * time.Hour),
				FinishedAt:  base.Add(time.Duration(i)*time.Hour + time.Minute),
				Status:      core.RunCompleted,
				Stats:       stats,
			}
			if err := store.RecordImportRun(ctx, run); err != nil {
				t.Fatalf("RecordImportRun() error = %v", err)
			}
		}

		runs, err := store.ListImportRuns(ctx, 2)
		if err != nil {
			t.Fatalf("ListImportRuns() error = %v", err)
		}
		if len(runs) != 2 {
			t.Fatalf("got %d runs, want 2", len(runs))
		}
		if !runs[0].StartedAt.After(runs[1].StartedAt) {
			t.Error("runs not newest first")
		}
		if runs[0].Stats == nil || runs[0].Stats.TotalRows != 12 || runs[0].Stats.SkippedReasons[core.SkipInvalidPrice] != 1 {
			t.Errorf("stats not round-tripped: %+v", runs[0].Stats)
		}
	})
}
