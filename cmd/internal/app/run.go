package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Options are command-line overrides applied on top of LoadConfig.
type Options struct {
	ConfigFile string
	HTTPAddr   string
	Store      string
}

func (o Options) load() (Config, error) {
	cfg, err := LoadConfig(o.ConfigFile)
	if err != nil {
		return Config{}, err
	}
	if o.HTTPAddr != "" {
		cfg.HTTPAddr = o.HTTPAddr
	}
	if o.Store != "" {
		cfg.StoreBackend = o.Store
		if err := cfg.Validate(); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// Serve is the `inbox serve` entrypoint: it runs the server until SIGINT/SIGTERM.
// It returns an error instead of calling os.Exit to keep defers effective.
func Serve(opts Options) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		log.Error("app.init.fail", "err", err)
		return err
	}
	return a.Run(ctx)
}

// Migrate is the `inbox migrate` entrypoint: it applies the schema of the configured backend and exits.
func Migrate(opts Options) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = st.Shutdown(context.Background()) }()

	if err := st.Migrate(ctx); err != nil {
		log.Error("store.migrate.fail", "backend", st.backend, "err", err)
		return err
	}
	log.Info("store.migrated", "backend", st.backend)
	return nil
}
