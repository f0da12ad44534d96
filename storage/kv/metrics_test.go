package kv_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/jrife/kvns/storage/kv"
	"github.com/jrife/kvns/storage/kv/plugins/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingBackend struct {
	*memory.Backend
}

func (backend failingBackend) Init(options kv.Options) error {
	return errors.New("disk on fire")
}

func TestStoreMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	store, err := kv.New(kv.StoreConfig{Backend: memory.New(), Registerer: reg})
	require.NoError(t, err)
	defer store.Fini()

	fid, err := store.GenFID()
	require.NoError(t, err)
	index, err := store.IndexCreate(fid)
	require.NoError(t, err)

	_, err = store.Get(index, []byte("missing"))
	require.True(t, errors.Is(err, kv.ErrNotFound))

	expected := `
# HELP kvns_kvstore_error_total Number of kv backend calls that returned an error
# TYPE kvns_kvstore_error_total counter
kvns_kvstore_error_total{backend="memory",code="not_found",op="get"} 1
`

	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "kvns_kvstore_error_total"))

	// init, gen_fid, index_create, get
	count, err := testutil.GatherAndCount(reg, "kvns_kvstore_call_total")
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	count, err = testutil.GatherAndCount(reg, "kvns_kvstore_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestStoreMetricsUnregisteredOnInitFailure(t *testing.T) {
	reg := prometheus.NewRegistry()

	store, err := kv.New(kv.StoreConfig{Backend: failingBackend{memory.New()}, Registerer: reg})
	require.Error(t, err)
	assert.Nil(t, store)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Empty(t, families)

	// The collectors are free to be registered again
	store, err = kv.New(kv.StoreConfig{Backend: memory.New(), Registerer: reg})
	require.NoError(t, err)
	require.NoError(t, store.Fini())
}
