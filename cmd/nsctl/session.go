package main

import (
	"context"
	"fmt"

	"github.com/jrife/kvns/config"
	"github.com/jrife/kvns/storage/kv"
	"github.com/jrife/kvns/storage/kv/plugins"
	"github.com/jrife/kvns/storage/namespace"
	"github.com/jrife/kvns/utils/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type options struct {
	configPath string
	logLevel   string
}

// session holds what a single command invocation opened
type session struct {
	logger    *zap.Logger
	config    config.Config
	store     *kv.Store
	directory *namespace.Directory
}

func openStore(opts *options) (*session, error) {
	logger, err := log.New(opts.logLevel)

	if err != nil {
		return nil, err
	}

	c, err := config.Load(opts.configPath)

	if err != nil {
		return nil, err
	}

	storeConfig := c.KVStore.StoreConfig()
	storeConfig.Logger = logger
	store, err := plugins.Open(storeConfig)

	if err != nil {
		return nil, fmt.Errorf("could not open kv store: %w", err)
	}

	return &session{logger: logger, config: c, store: store}, nil
}

// openDirectory opens the store and the namespace directory,
// creating the directory index first if create is set.
func openDirectory(ctx context.Context, opts *options, create bool) (*session, error) {
	s, err := openStore(opts)

	if err != nil {
		return nil, err
	}

	if err := s.config.Validate(); err != nil {
		return nil, multierr.Append(err, s.close(ctx))
	}

	directoryConfig := s.config.KVStore.DirectoryConfig()
	directoryConfig.Logger = s.logger

	if create {
		s.directory, err = namespace.CreateDirectory(ctx, s.store, directoryConfig)
	} else {
		s.directory, err = namespace.Open(ctx, s.store, directoryConfig)
	}

	if err != nil {
		return nil, multierr.Append(err, s.close(ctx))
	}

	return s, nil
}

func (s *session) close(ctx context.Context) error {
	var err error

	if s.directory != nil {
		err = multierr.Append(err, s.directory.Close(ctx))
	}

	err = multierr.Append(err, s.store.Fini())
	s.logger.Sync()

	return err
}
