// Command onecore runs a ONE object-database instance: a Chum exporter and
// importer over a content-addressed store, plus a debug/metrics HTTP
// endpoint. Subcommands also let an operator inspect recipes and manage a
// Keys object's secret material directly against the store.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load(".env", "../.env", "../../.env")

	// Bootstrap the storage/object layer's zap logger early, falling back on
	// a no-op logger if this fails (e.g. read-only stderr in some sandboxes).
	if logger, err := zap.NewProduction(); err == nil {
		zap.ReplaceGlobals(logger)
		defer logger.Sync()
	}

	rootCmd := &cobra.Command{
		Use:   "onecore",
		Short: "ONE object database + Chum sync node",
	}
	rootCmd.PersistentFlags().String("env", "", "config environment overlay (e.g. staging)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recipeCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
