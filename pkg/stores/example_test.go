package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cloudloom/loom/pkg/identity"
	"github.com/cloudloom/loom/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            ":memory:", // Use in-memory database for example
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_SaveIdentityMap demonstrates persisting an identity map.
func ExampleSQLiteStore_SaveIdentityMap() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	m := identity.NewLogicalIDMap("orders", "production", identity.DriftAvoidanceConfig{})
	if err := store.SaveIdentityMap(ctx, m); err != nil {
		log.Fatal(err)
	}

	loaded, err := store.LoadIdentityMap(ctx, "orders", "production")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(loaded.StackName)
	// Output: orders
}
