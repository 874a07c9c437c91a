package database

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/JonMunkholm/carvalue/internal/core"
)

// MemoryStore is a core.Store held in process memory. It follows the same
// identity rules as PostgresStore and is used for dry runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	dealers  []core.Dealer
	vehicles map[string]core.Vehicle
	listings []core.Listing
	runs     []core.ImportRun

	nextDealerID  int64
	nextListingID int64
}

var _ core.Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vehicles: make(map[string]core.Vehicle)}
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// FindOrCreateDealer matches on all six identity fields; absent fields are equal.
func (m *MemoryStore) FindOrCreateDealer(_ context.Context, key core.DealerKey) (core.Dealer, error) {
	key = key.Normalize()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.dealers {
		if d.DealerKey == key {
			return d, nil
		}
	}
	m.nextDealerID++
	d := core.Dealer{ID: m.nextDealerID, DealerKey: key}
	m.dealers = append(m.dealers, d)
	return d, nil
}

// GetOrCreateVehicle keeps the first vehicle stored for a VIN.
func (m *MemoryStore) GetOrCreateVehicle(_ context.Context, v core.Vehicle) (core.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if stored, ok := m.vehicles[v.VIN]; ok {
		return stored, nil
	}
	m.vehicles[v.VIN] = v
	return v, nil
}

// InsertListings appends a copy of listings with fresh IDs.
func (m *MemoryStore) InsertListings(_ context.Context, listings []core.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range listings {
		m.nextListingID++
		l.ID = m.nextListingID
		m.listings = append(m.listings, l)
	}
	return nil
}

// Comparables mirrors the SQL join: exact (year, make, model), price and
// mileage present, optional status filter, cheapest first.
func (m *MemoryStore) Comparables(_ context.Context, q core.ComparableQuery) ([]core.ComparableRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []core.ComparableRow
	for _, l := range m.listings {
		if !l.Price.Valid || !l.Mileage.Valid {
			continue
		}
		if len(q.Statuses) > 0 && (!l.Status.Valid || !slices.Contains(q.Statuses, l.Status.String)) {
			continue
		}
		v, ok := m.vehicles[l.VIN]
		if !ok || v.Year != q.Year || v.Make != q.Make || v.Model != q.Model {
			continue
		}

		row := core.ComparableRow{Listing: l, Vehicle: v}
		if l.DealerID.Valid {
			if d, ok := m.dealerByID(l.DealerID.Int64); ok {
				row.Dealer = &d
			}
		}
		rows = append(rows, row)
	}

	core.SortByPrice(rows)
	return rows, nil
}

func (m *MemoryStore) dealerByID(id int64) (core.Dealer, bool) {
	i, found := slices.BinarySearchFunc(m.dealers, id, func(d core.Dealer, id int64) int {
		return cmp.Compare(d.ID, id)
	})
	if !found {
		return core.Dealer{}, false
	}
	return m.dealers[i], true
}

// RecordImportRun stores run.
func (m *MemoryStore) RecordImportRun(_ context.Context, run core.ImportRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

// ListImportRuns returns up to limit runs, newest first.
func (m *MemoryStore) ListImportRuns(_ context.Context, limit int) ([]core.ImportRun, error) {
	m.mu.RLock()
	runs := slices.Clone(m.runs)
	m.mu.RUnlock()

	slices.SortStableFunc(runs, func(a, b core.ImportRun) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	if runs == nil {
		runs = []core.ImportRun{}
	}
	return runs, nil
}

// Counts reports how many dealers, vehicles and listings are stored.
func (m *MemoryStore) Counts() (dealers, vehicles, listings int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.dealers), len(m.vehicles), len(m.listings)
}

// Listings returns a copy of the stored listings in insertion order.
func (m *MemoryStore) Listings() []core.Listing {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.listings)
}

// Vehicle returns the stored vehicle for vin.
func (m *MemoryStore) Vehicle(vin string) (core.Vehicle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vehicles[vin]
	return v, ok
}
