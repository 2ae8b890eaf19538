package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mailtriage/internal/mailbox"
	"github.com/sells-group/mailtriage/internal/pipeline"
	"github.com/sells-group/mailtriage/internal/store"
	anthropicpkg "github.com/sells-group/mailtriage/pkg/anthropic"
)

func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.NewStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initMailbox(ctx context.Context) (mailbox.Mailbox, error) {
	mb, err := mailbox.New(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := mb.Migrate(ctx); err != nil {
		mb.Close()
		return nil, eris.Wrap(err, "migrate mailbox")
	}
	return mb, nil
}

func initClient() anthropicpkg.Client {
	return anthropicpkg.NewClient(cfg.Anthropic.Key,
		anthropicpkg.WithRateLimit(cfg.Anthropic.RatePerSecond, cfg.Anthropic.RateBurst),
	)
}

// pipelineEnv bundles everything a pipeline run needs, with one Close.
type pipelineEnv struct {
	Store        store.Store
	Mailbox      mailbox.Mailbox
	Orchestrator *pipeline.Orchestrator
}

func (e *pipelineEnv) Close() {
	if e.Mailbox != nil {
		e.Mailbox.Close()
	}
	if e.Store != nil {
		e.Store.Close()
	}
}

func initPipeline(ctx context.Context, opts ...pipeline.Option) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	mb, err := initMailbox(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}

	orch, err := pipeline.New(cfg, st, mb, initClient(), opts...)
	if err != nil {
		mb.Close()
		st.Close()
		return nil, err
	}

	return &pipelineEnv{Store: st, Mailbox: mb, Orchestrator: orch}, nil
}
