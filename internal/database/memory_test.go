package database

import (
	"context"
	"sync"
	"testing"

	"github.com/JonMunkholm/carvalue/internal/core"
)

func TestMemoryStore(t *testing.T) {
	testStoreBehavior(t, NewMemoryStore())
}

func TestMemoryStore_ConcurrentDealers(t *testing.T) {
	store := NewMemoryStore()
	key := core.DealerKey{Name: "Acme Motors", City: text("Austin")}

	var wg sync.WaitGroup
	ids := make([]int64, 20)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := store.FindOrCreateDealer(context.Background(), key)
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = d.ID
		}()
	}
	wg.Wait()

	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("concurrent callers got different dealers: %v", ids)
		}
	}
	if dealers, _, _ := store.Counts(); dealers != 1 {
		t.Errorf("dealers = %d, want 1", dealers)
	}
}

func TestMemoryStore_ListingIDs(t *testing.T) {
	store := NewMemoryStore()
	listings := []core.Listing{{VIN: "A"}, {VIN: "B"}}
	if err := store.InsertListings(context.Background(), listings); err != nil {
		t.Fatal(err)
	}
	if err := store.InsertListings(context.Background(), listings[:1]); err != nil {
		t.Fatal(err)
	}

	got := store.Listings()
	for i, l := range got {
		if l.ID != int64(i+1) {
			t.Errorf("listing %d ID = %d, want %d", i, l.ID, i+1)
		}
	}
	if listings[0].ID != 0 {
		t.Error("InsertListings modified the caller's slice")
	}
}
