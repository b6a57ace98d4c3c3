package buildpg_test

import (
	"context"
	"testing"

	"github.com/k11v/forge/internal/build/buildpg"
	"github.com/k11v/forge/internal/build/buildtest"
	"github.com/k11v/forge/internal/postgrestest"
	"github.com/k11v/forge/internal/postgresutil"
)

func TestDatabase(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	connectionString, teardown, err := postgrestest.Setup(ctx)
	t.Cleanup(func() {
		if err := teardown(); err != nil {
			t.Errorf("didn't want %q", err)
		}
	})
	if err != nil {
		t.Fatalf("didn't want %q", err)
	}

	pool, err := postgresutil.NewPool(ctx, connectionString)
	if err != nil {
		t.Fatalf("didn't want %q", err)
	}
	t.Cleanup(pool.Close)

	buildtest.TestDatabase(t, buildpg.NewDatabase(pool))
}
