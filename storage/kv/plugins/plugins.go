package plugins

import (
	"github.com/jrife/kvns/storage/kv"
	"github.com/jrife/kvns/storage/kv/plugins/bbolt"
	"github.com/jrife/kvns/storage/kv/plugins/memory"
	"github.com/jrife/kvns/storage/kv/plugins/pebble"
)

var defaultManager *KVPluginManager

func init() {
	var plugins []kv.Plugin

	plugins = append(plugins, bbolt.Plugins()...)
	plugins = append(plugins, pebble.Plugins()...)
	plugins = append(plugins, memory.Plugins()...)

	defaultManager = NewKVPluginManager(plugins...)
}

// Plugin returns the registered plugin matching name.
// It returns nil if no such plugin is found.
func Plugin(name string) kv.Plugin {
	return defaultManager.Plugin(name)
}

// Plugins lists all the plugins that are available
func Plugins() []kv.Plugin {
	return defaultManager.Plugins()
}

// Open opens a store on the registered backend named by config.Type
func Open(config Config) (*kv.Store, error) {
	return defaultManager.Open(config)
}
