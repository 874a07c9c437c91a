package core_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/JonMunkholm/carvalue/internal/core"
	"github.com/JonMunkholm/carvalue/internal/database"
)

// feedLine builds a valid 25-field row and applies overrides by column.
func feedLine(overrides map[int]string) string {
	fields := []string{
		"1HGCM82633A004352", "2018", "Honda", "Civic", "EX",
		"Acme Motors", "1 Main St", "Austin", "TX", "78701",
		"15000", "42000", "true", "false",
		"Sedan", "FWD", "2.0L I4", "Gasoline", "Blue", "Black",
		"acme.example.com", "2024-01-02", "2024-02-03", "2024-02-03", "active",
	}
	for col, v := range overrides {
		fields[col] = v
	}
	return strings.Join(fields, "|")
}

const (
	colVIN        = 0
	colYear       = 1
	colModel      = 3
	colTrim       = 4
	colDealerName = 5
	colStreet     = 6
	colCity       = 7
	colState      = 8
	colZip        = 9
	colPrice      = 10
	colMileage    = 11
	colWebsite    = 20
	colStatus     = 24
)

func runImport(t *testing.T, store core.ImportStore, batchSize int, dryRun bool, lines ...string) *core.ImportStats {
	t.Helper()
	stats, err := core.NewImporter(store, batchSize).Import(context.Background(), slices.Values(lines), dryRun)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	return stats
}

func TestParseFeedLine_Reasons(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		wantReason core.SkipReason
		wantVIN    string
	}{
		{"too few fields", "VIN1|2018|Honda", core.SkipInvalidFieldCount, "VIN1"},
		{"too many fields", feedLine(nil) + "|extra", core.SkipInvalidFieldCount, "1HGCM82633A004352"},
		{"empty line", "", core.SkipInvalidFieldCount, ""},
		{"year not a number", feedLine(map[int]string{colYear: "20x8"}), core.SkipInvalidYear, "1HGCM82633A004352"},
		{"year empty", feedLine(map[int]string{colYear: ""}), core.SkipInvalidYear, "1HGCM82633A004352"},
		{"price not a number", feedLine(map[int]string{colPrice: "abc"}), core.SkipInvalidPrice, "1HGCM82633A004352"},
		{"mileage not a number", feedLine(map[int]string{colMileage: "xyz"}), core.SkipInvalidMileage, "1HGCM82633A004352"},
		{"year checked before price", feedLine(map[int]string{colYear: "x", colPrice: "y"}), core.SkipInvalidYear, "1HGCM82633A004352"},
		{"price checked before mileage", feedLine(map[int]string{colPrice: "x", colMileage: "y"}), core.SkipInvalidPrice, "1HGCM82633A004352"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, rowErr := core.ParseFeedLine(tt.line)
			if rowErr == nil {
				t.Fatal("expected row error")
			}
			if rowErr.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", rowErr.Reason, tt.wantReason)
			}
			if rowErr.Identifier != tt.wantVIN {
				t.Errorf("Identifier = %q, want %q", rowErr.Identifier, tt.wantVIN)
			}
		})
	}
}

func TestParseFeedLine_Valid(t *testing.T) {
	row, rowErr := core.ParseFeedLine(feedLine(map[int]string{
		colVIN:     " 1hgcm82633a004352 ",
		colPrice:   "",
		colMileage: "",
		colStreet:  "  ",
	}))
	if rowErr != nil {
		t.Fatalf("unexpected error: %v", rowErr)
	}

	if row.Vehicle.VIN != "1HGCM82633A004352" || row.Listing.VIN != row.Vehicle.VIN {
		t.Errorf("VIN not normalized: %q / %q", row.Vehicle.VIN, row.Listing.VIN)
	}
	if row.Vehicle.Make != "HONDA" || row.Vehicle.Model != "CIVIC" {
		t.Errorf("make/model not normalized: %q %q", row.Vehicle.Make, row.Vehicle.Model)
	}
	if row.Listing.Price.Valid || row.Listing.Mileage.Valid {
		t.Error("empty price and mileage should be absent, not rejected")
	}
	if row.Dealer == nil || row.Dealer.Street.Valid {
		t.Errorf("dealer = %+v, want dealer with absent street", row.Dealer)
	}
	if !row.Listing.Used.Valid || !row.Listing.Used.Bool {
		t.Error("used flag not parsed")
	}
	if row.Listing.Status.String != "active" {
		t.Errorf("status = %q", row.Listing.Status.String)
	}
}

func TestParseFeedLine_NoDealer(t *testing.T) {
	blank := map[int]string{}
	for _, col := range []int{colDealerName, colStreet, colCity, colState, colZip, colWebsite} {
		blank[col] = " "
	}
	row, rowErr := core.ParseFeedLine(feedLine(blank))
	if rowErr != nil {
		t.Fatalf("unexpected error: %v", rowErr)
	}
	if row.Dealer != nil {
		t.Errorf("Dealer = %+v, want nil", row.Dealer)
	}
}

func TestImporter_UnnamedDealer(t *testing.T) {
	store := database.NewMemoryStore()
	line := feedLine(map[int]string{colDealerName: "", colStreet: "", colZip: "", colWebsite: ""})
	runImport(t, store, 0, false, line, line)

	if dealers, _, listings := store.Counts(); dealers != 1 || listings != 2 {
		t.Fatalf("dealers=%d listings=%d, want 1 and 2", dealers, listings)
	}

	rows, err := store.Comparables(context.Background(), core.ComparableQuery{Year: 2018, Make: "HONDA", Model: "CIVIC"})
	if err != nil {
		t.Fatal(err)
	}
	for _, row := range rows {
		if got := row.Dealer.Location(); got != "Austin, TX" {
			t.Errorf("Location() = %q, want %q", got, "Austin, TX")
		}
	}
}

func TestImporter_MixedRows(t *testing.T) {
	store := database.NewMemoryStore()
	stats := runImport(t, store, 0, false,
		feedLine(map[int]string{colVIN: "GOOD1"}),
		feedLine(map[int]string{colVIN: "BADPRICE", colPrice: "abc"}),
		feedLine(map[int]string{colVIN: "BADMILES", colMileage: "xyz"}),
	)

	if stats.TotalRows != 3 || stats.InsertedRows != 1 || stats.SkippedRows != 2 {
		t.Errorf("stats = total %d inserted %d skipped %d, want 3/1/2",
			stats.TotalRows, stats.InsertedRows, stats.SkippedRows)
	}
	want := map[core.SkipReason]int{core.SkipInvalidPrice: 1, core.SkipInvalidMileage: 1}
	if len(stats.SkippedReasons) != len(want) {
		t.Errorf("SkippedReasons = %v, want %v", stats.SkippedReasons, want)
	}
	for reason, n := range want {
		if stats.SkippedReasons[reason] != n {
			t.Errorf("SkippedReasons[%s] = %d, want %d", reason, stats.SkippedReasons[reason], n)
		}
	}
	if got := stats.SkippedDetails; len(got) != 2 || got[0].Identifier != "BADPRICE" || got[1].Identifier != "BADMILES" {
		t.Errorf("SkippedDetails = %+v", got)
	}

	_, vehicles, listings := store.Counts()
	if vehicles != 1 || listings != 1 {
		t.Errorf("store has %d vehicles and %d listings, want 1 and 1", vehicles, listings)
	}
}

func TestImporter_CountsAddUp(t *testing.T) {
	lines := []string{
		feedLine(nil),
		"short|row",
		feedLine(map[int]string{colYear: "unknown"}),
		feedLine(map[int]string{colPrice: ""}),
		"",
		feedLine(map[int]string{colMileage: "1.5"}),
	}
	stats := runImport(t, database.NewMemoryStore(), 0, false, lines...)

	if stats.TotalRows != len(lines) {
		t.Errorf("TotalRows = %d, want %d", stats.TotalRows, len(lines))
	}
	if stats.InsertedRows+stats.SkippedRows != stats.TotalRows {
		t.Errorf("inserted %d + skipped %d != total %d", stats.InsertedRows, stats.SkippedRows, stats.TotalRows)
	}
	sum := 0
	for _, n := range stats.SkippedReasons {
		sum += n
	}
	if sum != stats.SkippedRows || len(stats.SkippedDetails) != stats.SkippedRows {
		t.Errorf("reasons sum %d, details %d, skipped %d", sum, len(stats.SkippedDetails), stats.SkippedRows)
	}
}

func TestImporter_DealerIdentity(t *testing.T) {
	store := database.NewMemoryStore()
	runImport(t, store, 0, false,
		feedLine(map[int]string{colVIN: "A1", colStreet: "1 Main St"}),
		feedLine(map[int]string{colVIN: "A2", colStreet: "2 Elm St"}),
		feedLine(map[int]string{colVIN: "A3", colStreet: " 1 Main St "}),
		feedLine(map[int]string{colVIN: "A4", colDealerName: ""}),
	)

	dealers, _, _ := store.Counts()
	if dealers != 3 {
		t.Fatalf("dealers = %d, want 3 (street differs, one unnamed)", dealers)
	}

	listings := store.Listings()
	if listings[0].DealerID != listings[2].DealerID {
		t.Error("same dealer identity resolved to different IDs")
	}
	if listings[0].DealerID == listings[1].DealerID {
		t.Error("different streets resolved to the same dealer")
	}
	if !listings[3].DealerID.Valid || listings[3].DealerID == listings[0].DealerID {
		t.Error("unnamed dealer at the same address should be its own dealer")
	}

	// A second run reuses the stored dealers.
	runImport(t, store, 0, false, feedLine(map[int]string{colVIN: "A5", colStreet: "2 Elm St"}))
	if dealers, _, _ := store.Counts(); dealers != 3 {
		t.Errorf("dealers after second run = %d, want 3", dealers)
	}
}

func TestImporter_FirstVehicleWins(t *testing.T) {
	store := database.NewMemoryStore()
	runImport(t, store, 0, false,
		feedLine(map[int]string{colTrim: "EX"}),
		feedLine(map[int]string{colTrim: "LX", colModel: "Accord"}),
	)

	v, ok := store.Vehicle("1HGCM82633A004352")
	if !ok {
		t.Fatal("vehicle not stored")
	}
	if v.Trim.String != "EX" || v.Model != "CIVIC" {
		t.Errorf("vehicle = %s, want first row's attributes", v.Label())
	}
	if _, _, listings := store.Counts(); listings != 2 {
		t.Errorf("listings = %d, want 2", listings)
	}
}

func TestImporter_DryRun(t *testing.T) {
	store := database.NewMemoryStore()
	stats := runImport(t, store, 0, true,
		feedLine(nil),
		feedLine(map[int]string{colPrice: "abc"}),
	)

	if stats.InsertedRows != 1 || stats.SkippedRows != 1 {
		t.Errorf("dry run stats = %+v", stats)
	}
	if d, v, l := store.Counts(); d+v+l != 0 {
		t.Errorf("dry run wrote %d dealers, %d vehicles, %d listings", d, v, l)
	}
}

// countingStore records the size of every flushed batch.
type countingStore struct {
	*database.MemoryStore
	batches []int
	failOn  int
}

func (s *countingStore) InsertListings(ctx context.Context, listings []core.Listing) error {
	s.batches = append(s.batches, len(listings))
	if s.failOn > 0 && len(s.batches) == s.failOn {
		return errors.New("disk full")
	}
	return s.MemoryStore.InsertListings(ctx, listings)
}

func TestImporter_BatchFlush(t *testing.T) {
	store := &countingStore{MemoryStore: database.NewMemoryStore()}
	lines := make([]string, 7)
	for i := range lines {
		lines[i] = feedLine(map[int]string{colVIN: "VIN" + string(rune('A'+i))})
	}
	runImport(t, store, 3, false, lines...)

	if want := []int{3, 3, 1}; !slices.Equal(store.batches, want) {
		t.Errorf("batches = %v, want %v", store.batches, want)
	}
	if _, _, n := store.Counts(); n != 7 {
		t.Errorf("listings = %d, want 7", n)
	}

	ids := make([]string, 0, 7)
	for _, l := range store.Listings() {
		ids = append(ids, l.VIN)
	}
	if !slices.IsSorted(ids) {
		t.Errorf("listings stored out of order: %v", ids)
	}
}

func TestImporter_FlushError(t *testing.T) {
	store := &countingStore{MemoryStore: database.NewMemoryStore(), failOn: 2}
	lines := make([]string, 5)
	for i := range lines {
		lines[i] = feedLine(nil)
	}

	stats, err := core.NewImporter(store, 2).Import(context.Background(), slices.Values(lines), false)
	if err == nil {
		t.Fatal("expected flush error")
	}
	if stats == nil || stats.TotalRows != 4 {
		t.Errorf("stats at failure = %+v, want 4 rows read", stats)
	}
	if _, _, n := store.Counts(); n != 2 {
		t.Errorf("committed listings = %d, want first batch only", n)
	}
}

func TestImporter_Cancelled(t *testing.T) {
	old := core.ContextCheckInterval
	core.ContextCheckInterval = 1
	t.Cleanup(func() { core.ContextCheckInterval = old })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := core.NewImporter(database.NewMemoryStore(), 0).Import(ctx, slices.Values([]string{feedLine(nil)}), false)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestNewImporter_DefaultBatchSize(t *testing.T) {
	if got := core.NewImporter(database.NewMemoryStore(), 0).BatchSize(); got != core.DefaultBatchSize {
		t.Errorf("BatchSize() = %d, want %d", got, core.DefaultBatchSize)
	}
}
