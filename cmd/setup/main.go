package main

import (
	"context"
	"fmt"
	"os"

	"github.com/k11v/forge/internal/app"
)

func main() {
	ctx := context.Background()

	cfg, err := app.ParseConfig(os.Environ())
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	err = app.Setup(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	os.Exit(0)
}
