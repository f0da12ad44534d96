package plugins

import (
	"fmt"
	"strings"

	"github.com/jrife/kvns/storage/kv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Config selects and configures a backend
type Config struct {
	// Type is the backend name, or a prefix of it
	Type string
	// Options are passed to the backend's Init
	Options kv.Options
	// Logger defaults to zap.L()
	Logger *zap.Logger
	// Registerer receives the store's metrics if set
	Registerer prometheus.Registerer
}

// KVPluginManager lets a consumer
// retrieve the KV storage plugin
// by name
type KVPluginManager struct {
	plugins []kv.Plugin
}

// NewKVPluginManager returns a KVPluginManager that selects
// among the given plugins. Earlier plugins win prefix matches.
func NewKVPluginManager(plugins ...kv.Plugin) *KVPluginManager {
	return &KVPluginManager{
		plugins: plugins,
	}
}

// Plugin returns the plugin whose name matches the given name.
// An exact match is preferred; otherwise the first plugin whose
// name starts with name is returned, so "bb" selects "bbolt".
// It returns nil if name is empty or nothing matches.
func (pluginManager *KVPluginManager) Plugin(name string) kv.Plugin {
	if name == "" {
		return nil
	}

	for _, plugin := range pluginManager.plugins {
		if plugin.Name() == name {
			return plugin
		}
	}

	for _, plugin := range pluginManager.plugins {
		if strings.HasPrefix(plugin.Name(), name) {
			return plugin
		}
	}

	return nil
}

// Plugins lists the plugins known to the manager
func (pluginManager *KVPluginManager) Plugins() []kv.Plugin {
	return pluginManager.plugins
}

// Open selects the plugin named by config.Type, initializes a new
// backend from it and returns a store bound to that backend. It
// returns kv.ErrInvalidConfig if the type is missing or unknown.
func (pluginManager *KVPluginManager) Open(config Config) (*kv.Store, error) {
	logger := config.Logger

	if logger == nil {
		logger = zap.L()
	}

	if config.Type == "" {
		logger.Error("kv store type not specified")

		return nil, fmt.Errorf("%w: kvstore.type is not set", kv.ErrInvalidConfig)
	}

	plugin := pluginManager.Plugin(config.Type)

	if plugin == nil {
		logger.Error("invalid kv store type", zap.String("type", config.Type))

		return nil, fmt.Errorf("%w: unknown kvstore.type %q", kv.ErrInvalidConfig, config.Type)
	}

	return kv.New(kv.StoreConfig{
		Backend:    plugin.NewBackend(),
		Options:    config.Options,
		Logger:     logger,
		Registerer: config.Registerer,
	})
}
