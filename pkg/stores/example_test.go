package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openvlab/openvlab/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	// Create store configuration
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            ":memory:", // Use in-memory database for example
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	// Initialize the database connection
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	// Store is now ready to use
	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_SaveSnapshot demonstrates recording a captured snapshot.
func ExampleSQLiteStore_SaveSnapshot() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	snap := &stores.Snapshot{
		Name:    "baseline",
		TakenAt: time.Now(),
	}
	if err := store.SaveSnapshot(ctx, snap); err != nil {
		log.Fatal(err)
	}

	got, err := store.GetSnapshot(ctx, "baseline")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(got.Name)
	// Output: baseline
}
