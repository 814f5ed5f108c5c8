package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"onecore/core/recipe"
	"onecore/internal/access"
	"onecore/internal/keychain"
	"onecore/internal/metrics"
	"onecore/internal/store"
	"onecore/pkg/config"
)

// instance bundles the collaborators the subcommands need (`recipe list`
// included), all wired from the loaded Config: the storage root,
// recipe registry, access filter, keychain and metrics registry.
type instance struct {
	cfg      *config.Config
	log      *logrus.Logger
	store    *store.FSStore
	registry *recipe.Registry
	index    *access.FSReverseIndex
	access   *access.ReverseMapFilter
	keychain *keychain.Store
	metrics  *metrics.Registry
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// loadInstance reads the --env flag (if present on cmd), loads config, and
// wires the shared collaborators every long-running or one-shot command
// needs against the same storage root.
func loadInstance(cmd *cobra.Command) (*instance, error) {
	env, _ := cmd.Flags().GetString("env")
	cfg, err := config.Load(env)
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg.Logging.Level)

	st, err := store.NewFSStore(afero.NewOsFs(), cfg.Storage.Root)
	if err != nil {
		return nil, err
	}

	reg := recipe.NewRegistry()
	if err := registerBuiltinRecipes(reg); err != nil {
		return nil, err
	}

	idx := access.NewFSReverseIndex(st)
	filter, err := access.NewReverseMapFilter(idx, 1024, log)
	if err != nil {
		return nil, err
	}

	return &instance{
		cfg:      cfg,
		log:      log,
		store:    st,
		registry: reg,
		index:    idx,
		access:   filter,
		keychain: keychain.NewStore(st),
		metrics:  metrics.New(),
	}, nil
}
