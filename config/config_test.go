package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jrife/kvns/config"
	"github.com/jrife/kvns/storage/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, contents string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	return path
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "kvns.yaml", `
kvstore:
  type: bb
  ns_fid: "0x7800000000000001:0x1"
  bbolt:
    path: /var/lib/kvns/bolt.db
    timeout: 2s
  pebble:
    path: /var/lib/kvns/pebble
`)

	c, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, "bb", c.KVStore.Type)
	assert.Equal(t, "0x7800000000000001:0x1", c.KVStore.NSFID)
	assert.Equal(t, kv.Options{"path": "/var/lib/kvns/bolt.db", "timeout": "2s"}, c.KVStore.Options)

	storeConfig := c.KVStore.StoreConfig()
	assert.Equal(t, "bb", storeConfig.Type)
	boltPath, ok := storeConfig.Options.String("path")
	assert.True(t, ok)
	assert.Equal(t, "/var/lib/kvns/bolt.db", boltPath)
	assert.Equal(t, "0x7800000000000001:0x1", c.KVStore.DirectoryConfig().FID)
}

func TestLoadEnv(t *testing.T) {
	path := writeFile(t, "kvns.json", `{"kvstore": {"type": "bbolt", "ns_fid": "1:1"}}`)

	t.Setenv("KVNS_KVSTORE_TYPE", "pebble")
	t.Setenv("KVNS_KVSTORE_NS_FID", "0x2:0x1")
	t.Setenv("KVNS_KVSTORE_PEBBLE_CACHE_SIZE", "1048576")

	c, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, "pebble", c.KVStore.Type)
	assert.Equal(t, "0x2:0x1", c.KVStore.NSFID)
	assert.Equal(t, "1048576", c.KVStore.Options["cache_size"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, kv.ErrInvalidConfig))
}

func TestValidate(t *testing.T) {
	testCases := map[string]config.Config{
		"missing-type":  {KVStore: config.KVStoreConfig{NSFID: "1:1"}},
		"unknown-type":  {KVStore: config.KVStoreConfig{Type: "leveldb", NSFID: "1:1"}},
		"missing-fid":   {KVStore: config.KVStoreConfig{Type: "memory"}},
		"malformed-fid": {KVStore: config.KVStoreConfig{Type: "memory", NSFID: "0x1"}},
	}

	for name, c := range testCases {
		t.Run(name, func(t *testing.T) {
			assert.True(t, errors.Is(c.Validate(), kv.ErrInvalidConfig))
		})
	}
}
