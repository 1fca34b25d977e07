package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/roach88/sessionstate/internal/config"
	"github.com/roach88/sessionstate/internal/logging"
	"github.com/roach88/sessionstate/internal/metrics"
	"github.com/roach88/sessionstate/internal/provider"
	"github.com/roach88/sessionstate/internal/store"
)

// env is the opened store and provider a command works with.
type env struct {
	cfg    config.Config
	logger zerolog.Logger
	store  store.Store
	p      *provider.Provider
}

// loadConfig reads the config file (or schema defaults) and applies flag
// overrides.
func (o *RootOptions) loadConfig() (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if o.ConfigPath != "" {
		cfg, err = config.Load(o.ConfigPath)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		return config.Config{}, err
	}

	if o.Backend != "" {
		cfg.Backend = o.Backend
	}
	if o.Path != "" {
		cfg.Path = o.Path
	}
	if o.ApplicationID != "" {
		cfg.ApplicationID = o.ApplicationID
	}
	if o.NodeID != "" {
		cfg.NodeID = o.NodeID
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}

	switch cfg.Backend {
	case store.BackendSQLite, store.BackendPebble, store.BackendMemory:
	default:
		return config.Config{}, &config.Error{Message: fmt.Sprintf("unknown backend %q", cfg.Backend)}
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openEnv loads config, builds the logger, opens the store and creates the
// provider. m may be nil.
func (o *RootOptions) openEnv(cmd *cobra.Command, m *metrics.Metrics) (*env, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Out:    cmd.ErrOrStderr(),
	})

	st, err := store.Open(cfg.Backend, cfg.Path, store.WithLogger(logging.Component(logger, "store")))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	if src, ok := st.(metrics.PebbleSource); ok && m != nil {
		if err := m.RegisterPebble(src); err != nil {
			_ = st.Close()
			return nil, WrapExitError(ExitCommandError, "failed to register pebble metrics", err)
		}
	}

	p := provider.New(st, cfg.Node(),
		provider.WithApplicationID(cfg.ApplicationID),
		provider.WithLogger(logging.Component(logger, "provider")),
		provider.WithMetrics(m),
	)

	logger.Debug().
		Str("backend", cfg.Backend).
		Str("path", cfg.Path).
		Str("node", p.Node().String()).
		Msg("store ready")

	return &env{cfg: cfg, logger: logger, store: st, p: p}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		e.logger.Error().Err(err).Msg("error closing store")
	}
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
