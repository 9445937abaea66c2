package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/featcache/store/memstore"
)

const sample = `{
	// node features served by the cache
	"fields": ["features", "norm"],
	"vnum": 10000,
	"capacity": 2500,
	"policy": "frequency",
	"fetch_timeout": "250ms",
	"fetch_retries": 2, // trailing comma below is fine
}`

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "featcache.json")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	want := Default()
	want.Fields = []string{"features", "norm"}
	want.VNum = 10000
	want.Capacity = 2500
	want.Policy = PolicyFrequency
	want.FetchTimeout = Duration(250 * time.Millisecond)
	want.FetchRetries = 2
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorIs(t, err, ErrConfigFileRead)

	for name, body := range map[string]string{
		"syntax":   `{"vnum": `,
		"duration": `{"vnum": 4, "fetch_timeout": "soon"}`,
	} {
		_, err := Parse([]byte(body))
		require.ErrorIsf(t, err, ErrConfigInvalid, name)
	}
}

// Parse accepts out-of-range values; Validate rejects them.
func TestValidate(t *testing.T) {
	t.Parallel()

	for name, body := range map[string]string{
		"no vnum":      `{"fields": ["x"]}`,
		"empty fields": `{"vnum": 4, "fields": []}`,
		"policy":       `{"vnum": 4, "policy": "lru"}`,
		"negative":     `{"vnum": 4, "capacity": -1}`,
	} {
		cfg, err := Parse([]byte(body))
		require.NoErrorf(t, err, name)
		require.ErrorIsf(t, cfg.Validate(), ErrConfigInvalid, name)
	}

	// A missing vnum is fine until validation; a flag may supply it later.
	cfg, err := Parse([]byte(`{"fields": ["x"]}`))
	require.NoError(t, err)
	cfg.VNum = 4
	require.NoError(t, cfg.Validate())
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.VNum = 42
	cfg.MaxBytes = 1 << 20
	cfg.FetchTimeout = Duration(3 * time.Second)

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.Contains(t, string(data), `"fetch_timeout":"3s"`)

	got, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, cfg, got)
}

func TestOptions(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.VNum = 8
	cfg.Policy = PolicyFrequency
	cfg.FetchTimeout = Duration(time.Second)

	store := memstore.New(8, memstore.Options{})
	opt, err := cfg.Options(store, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 8, opt.VNum)
	require.Equal(t, []string{"features"}, opt.Fields)
	require.Equal(t, "frequency", opt.Selector.Name())
	require.Equal(t, time.Second, opt.FetchTimeout)
	require.True(t, opt.Counting)

	cfg.VNum = 0
	_, err = cfg.Options(store, nil, nil)
	require.ErrorIs(t, err, ErrConfigInvalid)
}
