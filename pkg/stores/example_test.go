package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/openfroyo/msrv/pkg/engine"
	"github.com/openfroyo/msrv/pkg/stores"
	"github.com/openfroyo/msrv/pkg/version"
)

// ExampleSQLiteStore_LoadEntries demonstrates resuming from entries of an earlier run.
func ExampleSQLiteStore_LoadEntries() {
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
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

	fingerprint := engine.Fingerprint("/src/project", []string{"cargo", "check"}, "")
	if err := store.CreateRun(ctx, &stores.Run{
		ID:          "run-1",
		Fingerprint: fingerprint,
		Mode:        stores.RunModeFind,
		ProjectPath: "/src/project",
		Command:     []string{"cargo", "check"},
	}); err != nil {
		log.Fatal(err)
	}

	for _, e := range []engine.LedgerEntry{
		{Version: version.MustParse("1.56.0"), Outcome: engine.Incompatible("error[E0658]")},
		{Version: version.MustParse("1.60.0"), Outcome: engine.InfrastructureFailure("provision: 503")},
		{Version: version.MustParse("1.64.0"), Outcome: engine.Compatible()},
	} {
		if err := store.SaveEntry(ctx, "run-1", e); err != nil {
			log.Fatal(err)
		}
	}

	entries, err := store.LoadEntries(ctx, fingerprint)
	if err != nil {
		log.Fatal(err)
	}
	for _, e := range entries {
		fmt.Println(e.Version, e.Outcome.Kind)
	}
	// Output:
	// 1.56.0 incompatible
	// 1.64.0 compatible
}
