package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/fyrsmithlabs/seagent/internal/index"
	"github.com/fyrsmithlabs/seagent/internal/llm"
	"github.com/fyrsmithlabs/seagent/internal/logging"
	"github.com/fyrsmithlabs/seagent/internal/repository"
	"github.com/fyrsmithlabs/seagent/internal/runtime"
	"github.com/fyrsmithlabs/seagent/internal/secrets"
	"github.com/fyrsmithlabs/seagent/internal/store"
)

// Stack holds the long-lived components of a seagent process.
type Stack struct {
	Config   *config.Config
	Logger   *logging.Logger
	Store    store.Store
	Runs     runtime.Repository
	Accessor *repository.Router
	Gateway  llm.Gateway
	Scrubber *secrets.Scrubber
	Index    *index.Index
	Events   *runtime.NATSPublisher
	Service  *runtime.Service

	closers []func() error
}

// Deps returns the graph dependencies of the stack.
func (s *Stack) Deps() Deps {
	return Deps{
		Accessor: s.Accessor,
		Store:    s.Store,
		Gateway:  s.Gateway,
		Scrubber: s.Scrubber,
		Index:    s.Index,
	}
}

// Open builds the stack described by cfg. Optional components that fail to
// start (the semantic index, the event bus) are logged and left out.
func Open(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Stack, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Stack{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = s.closeAll()
		}
	}()

	switch cfg.Store.Driver {
	case "memory":
		s.Store = store.NewMemory()
		s.Runs = runtime.NewMemoryRepository()
	case "", "sqlite":
		summaries, err := store.NewSQLite(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		s.Store = summaries
		s.closers = append(s.closers, summaries.Close)
		runs, err := runtime.NewSQLRepository(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		s.Runs = runs
		s.closers = append(s.closers, runs.Close)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	s.Accessor = repository.NewRouter(repository.OptionsFromConfig(cfg.Repository))
	s.closers = append(s.closers, s.Accessor.Close)

	provider := llm.NewProviderGateway(cfg.LLM)
	gateway, err := llm.ResilientFromConfig(provider, cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("llm gateway: %w", err)
	}
	s.Gateway = gateway

	if cfg.Repository.ScrubSecrets {
		scrubber, err := secrets.NewScrubber()
		if err != nil {
			return nil, err
		}
		s.Scrubber = scrubber
	}

	if cfg.Index.Enabled {
		idx, err := openIndex(cfg, provider, logger)
		if err != nil {
			logger.Warn(ctx, "semantic index disabled", zap.Error(err))
		} else {
			s.Index = idx
		}
	}

	var publisher runtime.Publisher
	if cfg.Events.Enabled {
		events, err := runtime.ConnectNATS(cfg.Events.NATSURL)
		if err != nil {
			logger.Warn(ctx, "run events disabled", zap.String("url", cfg.Events.NATSURL), zap.Error(err))
		} else {
			s.Events = events
			publisher = events
			s.closers = append(s.closers, events.Close)
		}
	}

	svc, err := runtime.NewService(ctx, runtime.Options{
		Repository: s.Runs,
		Graphs:     Factory(s.Deps()),
		Publisher:  publisher,
		Logger:     logger.Named("runtime"),
		Config:     cfg.Runtime,
	})
	if err != nil {
		return nil, err
	}
	s.Service = svc

	ok = true
	return s, nil
}

func openIndex(cfg *config.Config, provider *llm.ProviderGateway, logger *logging.Logger) (*index.Index, error) {
	if cfg.Index.EmbeddingModel == "" {
		return nil, errors.New("index.embedding_model is not set")
	}
	embedder, err := provider.NewEmbedder(cfg.Index.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	icfg := cfg.Index
	if icfg.Path != "" && !filepath.IsAbs(icfg.Path) && cfg.Store.Path != "" {
		icfg.Path = filepath.Join(filepath.Dir(cfg.Store.Path), icfg.Path)
	}
	return index.New(icfg, embedder, logger)
}

// Close interrupts active runs, then releases every component.
func (s *Stack) Close(ctx context.Context) error {
	var errs []error
	if s.Service != nil {
		if err := s.Service.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, s.closeAll())
	return errors.Join(errs...)
}

func (s *Stack) closeAll() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
