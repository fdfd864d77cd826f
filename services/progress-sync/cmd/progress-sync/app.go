package main

import (
	"context"
	"io"
	"net/http"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/example/lesson-progress/internal/platform/events"
	"github.com/example/lesson-progress/internal/platform/natsconn"
	"github.com/example/lesson-progress/services/progress-sync/internal/config"
	"github.com/example/lesson-progress/services/progress-sync/internal/remote"
	"github.com/example/lesson-progress/services/progress-sync/internal/store"
	"github.com/example/lesson-progress/services/progress-sync/internal/syncer"
)

// app is everything one command invocation needs.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	out    io.Writer
	store  *store.Store
	engine *syncer.Engine

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger, out io.Writer) (*app, error) {
	a := &app{cfg: cfg, log: log, out: out}

	p, err := store.NewPersister(ctx, store.PersisterOptions{
		Backend:     cfg.Store.Backend,
		Path:        cfg.Store.Path,
		RedisURL:    cfg.Store.RedisURL,
		DatabaseURL: cfg.Store.DatabaseURL,
		Key:         cfg.Store.Key,
		Fs:          afero.NewOsFs(),
	})
	if err != nil {
		return nil, err
	}
	if c, ok := p.(io.Closer); ok {
		a.closers = append(a.closers, func() { _ = c.Close() })
	}

	st, err := store.Open(ctx, p, store.WithLogger(log))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = st

	opts := []remote.Option{
		remote.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		remote.WithLogger(log),
	}
	if cfg.Breaker.Enabled {
		opts = append(opts, remote.WithCircuitBreaker(remote.NewBreaker("progress-api")))
	}
	rc, err := remote.New(cfg.APIBaseURL, tokenProvider(cfg), opts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	engineOpts := []syncer.Option{
		syncer.WithLogger(log),
		syncer.WithObserver(syncer.LogObserver(log)),
	}
	if pub := a.connectEvents(); pub != nil {
		engineOpts = append(engineOpts, syncer.WithObserver(syncer.PublishObserver(pub, "")))
	}
	a.engine = syncer.New(st, rc, engineOpts...)
	return a, nil
}

// connectEvents returns nil when NATS is not configured or not reachable;
// events are optional for the agent.
func (a *app) connectEvents() *events.Publisher {
	if a.cfg.NATSURL == "" {
		return nil
	}
	nc, err := natsconn.Connect(natsconn.Options{URL: a.cfg.NATSURL, Name: "progress-sync", Logger: a.log})
	if err != nil {
		a.log.Warn("nats unavailable, sync events disabled", zap.Error(err))
		return nil
	}
	a.closers = append(a.closers, func() {
		_ = nc.Flush()
		nc.Close()
	})
	pub, err := events.Connect(nc, a.log)
	if err != nil {
		a.log.Warn("nats stream setup failed, sync events disabled", zap.Error(err))
		return nil
	}
	return pub
}

// tokenProvider prefers an explicit token and falls back to the token file.
func tokenProvider(cfg *config.Config) remote.TokenProvider {
	static := remote.StaticToken(cfg.Token)
	if cfg.TokenFile == "" {
		return static
	}
	file := remote.FileToken{Fs: afero.NewOsFs(), Path: cfg.TokenFile}
	return remote.TokenFunc(func() (string, bool) {
		if tok, ok := static.CurrentToken(); ok {
			return tok, true
		}
		return file.CurrentToken()
	})
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
