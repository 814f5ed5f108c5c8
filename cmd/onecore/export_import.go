package main

import (
	"context"
	"fmt"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"onecore/internal/chum"
	"onecore/internal/transport"
)

var exportCmd = &cobra.Command{
	Use:   "export <listen-addr>",
	Short: "Serve one Chum session to a single connecting peer, then exit",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <peer-addr>",
	Short: "Run one Chum import pass against a peer, then exit",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

// runExport starts a websocket listener bound to addr, answers exactly one
// incoming Chum session (Exporter.Serve returns once that peer sends Fin or
// closes), then tears the listener down. A one-shot counterpart to `serve`
// for operators who want to expose a single export window rather than a
// long-running daemon.
func runExport(cmd *cobra.Command, args []string) error {
	inst, err := loadInstance(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	router := chi.NewRouter()
	listener := transport.NewWSListener(args[0], "/chum", router, inst.log)
	go func() {
		_ = listener.ListenAndServe()
	}()
	defer listener.Close()

	session, err := listener.Accept(ctx)
	if err != nil {
		return fmt.Errorf("onecore: accept peer: %w", err)
	}
	serveSession(ctx, session, inst)
	fmt.Fprintln(cmd.OutOrStdout(), "onecore: export session complete")
	return nil
}

// runImport dials addr and runs exactly one Chum poll cycle against it
// (Importer.Loop with KeepRunning=false sends Fin and returns after the
// first pass).
func runImport(cmd *cobra.Command, args []string) error {
	inst, err := loadInstance(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	session, err := transport.WSDialer{}.Dial(ctx, args[0])
	if err != nil {
		return fmt.Errorf("onecore: dial peer: %w", err)
	}
	client := chum.NewClient(session, inst.log)
	importer := &chum.Importer{
		Client:              client,
		Store:               inst.store,
		Registry:            inst.registry,
		Metrics:             inst.metrics,
		Log:                 inst.log,
		MergeCoordinatorFor: mergeCoordinatorFactory(inst.registry, inst.store, inst.index),
		KeepRunning:         false,
	}
	if err := importer.Loop(ctx); err != nil {
		return fmt.Errorf("onecore: import pass: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "onecore: import pass complete")
	return nil
}
