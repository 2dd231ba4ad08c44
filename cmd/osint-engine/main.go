package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		slog.Error("osint-engine failed", slog.Any("error", err))
		os.Exit(1)
	}
}
