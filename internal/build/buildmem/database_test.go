package buildmem_test

import (
	"testing"

	"github.com/k11v/forge/internal/build/buildmem"
	"github.com/k11v/forge/internal/build/buildtest"
)

func TestDatabase(t *testing.T) {
	buildtest.TestDatabase(t, buildmem.NewDatabase())
}
