package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/complicesconecta/backend/internal/app"
)

func main() {
	ctx := context.Background()
	if err := app.Run(ctx, os.Args[1:]); err != nil {
		slog.Error("complices exited with error", "error", err)
		os.Exit(1)
	}
}
