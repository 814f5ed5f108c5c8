package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"onecore/core"
	"onecore/internal/chum"
	"onecore/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Chum exporter/importer and debug HTTP endpoint",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	inst, err := loadInstance(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())

	router := chi.NewRouter()
	router.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	mountDebugRoutes(router, inst)

	ws := transport.NewWSListener(inst.cfg.Node.ListenWS, "/chum", router, inst.log)
	go func() {
		if err := ws.ListenAndServe(); err != nil {
			inst.log.WithError(err).Warn("onecore: websocket listener stopped")
		}
	}()

	host, err := transport.NewLibP2PHost(ctx, inst.cfg.Node.ListenAddr, inst.log)
	if err != nil {
		cancel()
		return fmt.Errorf("onecore: start libp2p host: %w", err)
	}

	go acceptLoop(ctx, ws, inst)
	go acceptLoop(ctx, host, inst)

	for _, peer := range inst.cfg.Node.BootstrapPeers {
		go dialAndImport(ctx, host, peer, inst)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()
	_ = host.Close()
	_ = ws.Close()
	fmt.Fprintln(cmd.OutOrStdout(), "onecore: shut down")
	return nil
}

// acceptLoop serves every incoming session with a fresh Exporter, identifying
// the remote peer by hashing its transport-level RemoteID into an IdHash.
// The transport/pairing scheme that would hand back a peer's real Keys
// identity is an external collaborator per §6; until one is wired in, the
// RemoteID hash is the best available stand-in so the access filter has a
// stable per-connection key to cache against.
func acceptLoop(ctx context.Context, listener transport.Listener, inst *instance) {
	for {
		session, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			inst.log.WithError(err).Warn("onecore: accept failed")
			continue
		}
		go serveSession(ctx, session, inst)
	}
}

func serveSession(ctx context.Context, session transport.Session, inst *instance) {
	remotePerson := remotePersonOf(session.RemoteID())
	exporter := &chum.Exporter{
		Store:        inst.store,
		Catalog:      &chum.DefaultCatalog{Store: inst.store, Registry: inst.registry},
		Access:       inst.access,
		Metrics:      inst.metrics,
		Log:          inst.log,
		RemotePerson: remotePerson,
	}
	if err := exporter.Serve(ctx, session); err != nil {
		inst.log.WithError(err).WithField("remote", session.RemoteID()).Info("onecore: exporter session ended")
	}
}

func remotePersonOf(remoteID string) core.IdHash {
	return core.IdHash(sha256.Sum256([]byte(remoteID)))
}

func dialAndImport(ctx context.Context, dialer transport.Dialer, addr string, inst *instance) {
	session, err := dialer.Dial(ctx, addr)
	if err != nil {
		inst.log.WithError(err).WithField("peer", addr).Warn("onecore: dial failed")
		return
	}
	client := chum.NewClient(session, inst.log)
	importer := &chum.Importer{
		Client:              client,
		Store:               inst.store,
		Registry:            inst.registry,
		Metrics:             inst.metrics,
		Log:                 inst.log,
		MergeCoordinatorFor: mergeCoordinatorFactory(inst.registry, inst.store, inst.index),
		PollInterval:        time.Duration(inst.cfg.Chum.PollIntervalSeconds) * time.Second,
		KeepRunning:         inst.cfg.Chum.KeepRunning,
	}
	if err := importer.Loop(ctx); err != nil && ctx.Err() == nil {
		inst.log.WithError(err).WithField("peer", addr).Warn("onecore: importer loop ended")
	}
}

func mountDebugRoutes(router chi.Router, inst *instance) {
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", inst.metrics.Handler())
	router.Route("/debug", func(r chi.Router) {
		r.Get("/recipes", func(w http.ResponseWriter, r *http.Request) {
			writeRecipeList(w, inst)
		})
	})
}
