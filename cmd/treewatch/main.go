// Command treewatch instruments a tree, serves it to observers and mirrors
// it remotely.
//
// Usage:
//
//	treewatch serve --demo                  # synthetic app on :7780/ws
//	treewatch mirror --url ws://host:7780/ws
//	treewatch probe --url https://example.com --for 30s
//	treewatch prefs get panel.width
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
