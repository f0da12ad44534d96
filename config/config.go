// Package config loads the settings of a kvns deployment from a
// config file and KVNS_ environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/jrife/kvns/storage/kv"
	"github.com/jrife/kvns/storage/kv/plugins"
	"github.com/jrife/kvns/storage/namespace"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
// Nested keys are joined with underscores, so kvstore.ns_fid
// is read from KVNS_KVSTORE_NS_FID.
const EnvPrefix = "KVNS"

const (
	keyKVStore     = "kvstore"
	keyKVStoreType = keyKVStore + ".type"
	keyNSFID       = keyKVStore + ".ns_fid"
)

// Config is the configuration of a kvns deployment
type Config struct {
	KVStore KVStoreConfig
}

// KVStoreConfig selects the backend and the directory index
type KVStoreConfig struct {
	// Type names the backend, or a prefix of its name
	Type string
	// NSFID is the fid of the namespace directory index
	NSFID string
	// Options are the settings under kvstore.<backend>
	Options kv.Options
}

// Load reads the config file at path, if path is not empty, and
// applies environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: could not read config file %s: %s", kv.ErrInvalidConfig, path, err)
		}
	}

	return FromViper(v), nil
}

// FromViper builds a Config from the settings held by v
func FromViper(v *viper.Viper) Config {
	config := Config{
		KVStore: KVStoreConfig{
			Type:    v.GetString(keyKVStoreType),
			NSFID:   v.GetString(keyNSFID),
			Options: kv.Options{},
		},
	}

	// Options live under the full backend name even
	// when the type is given as a prefix
	section := config.KVStore.Type

	if plugin := plugins.Plugin(section); plugin != nil {
		section = plugin.Name()
	}

	if section == "" {
		return config
	}

	sectionPrefix := keyKVStore + "." + section + "."

	for _, key := range v.AllKeys() {
		if strings.HasPrefix(key, sectionPrefix) {
			config.KVStore.Options[strings.TrimPrefix(key, sectionPrefix)] = v.Get(key)
		}
	}

	envPrefix := strings.ToUpper(EnvPrefix + "_" + keyKVStore + "_" + section + "_")

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)

		if len(parts) != 2 || !strings.HasPrefix(parts[0], envPrefix) {
			continue
		}

		config.KVStore.Options[strings.ToLower(strings.TrimPrefix(parts[0], envPrefix))] = parts[1]
	}

	return config
}

// Validate reports missing or malformed settings as kv.ErrInvalidConfig
func (config Config) Validate() error {
	if config.KVStore.Type == "" {
		return fmt.Errorf("%w: %s is not set", kv.ErrInvalidConfig, keyKVStoreType)
	}

	if plugins.Plugin(config.KVStore.Type) == nil {
		return fmt.Errorf("%w: unknown %s %q", kv.ErrInvalidConfig, keyKVStoreType, config.KVStore.Type)
	}

	if config.KVStore.NSFID == "" {
		return fmt.Errorf("%w: %s is not set", kv.ErrInvalidConfig, keyNSFID)
	}

	if _, err := kv.ParseFID(config.KVStore.NSFID); err != nil {
		return err
	}

	return nil
}

// StoreConfig returns the configuration to open the store with.
// The caller sets the logger and metrics registerer.
func (config KVStoreConfig) StoreConfig() plugins.Config {
	return plugins.Config{
		Type:    config.Type,
		Options: config.Options,
	}
}

// DirectoryConfig returns the configuration of the namespace directory
func (config KVStoreConfig) DirectoryConfig() namespace.Config {
	return namespace.Config{
		FID: config.NSFID,
	}
}
