// Package main is the entry point for the embedder CLI.
package main

import (
	"fmt"
	"os"

	"pixel-embedder/internal/platform/config"
)

func main() {
	// .env is optional; system env and defaults apply otherwise.
	_ = config.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "embedder:", err)
		os.Exit(1)
	}
}
