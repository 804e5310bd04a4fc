package jsonmanager

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Missing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "preferences.json"))
	require.NoError(t, err)
	require.NotNil(t, cfg.Precision)
	assert.Equal(t, DefaultPrecision, *cfg.Precision)
	assert.Equal(t, "*.json", cfg.FilePattern)
	assert.Equal(t, MetricChebyshev, cfg.Metric)
	assert.Equal(t, 1.0, cfg.Tolerance)
	assert.Equal(t, 1.0, cfg.CellSize)
}

func TestLoadConfig_PrecisionKey(t *testing.T) {
	dir := t.TempDir()

	absent := filepath.Join(dir, "absent.json")
	require.NoError(t, os.WriteFile(absent, []byte(`{"directory":"/data"}`), 0o644))
	cfg, err := LoadConfig(absent)
	require.NoError(t, err)
	require.NotNil(t, cfg.Precision)
	assert.Equal(t, DefaultPrecision, *cfg.Precision)
	assert.Equal(t, "/data", cfg.Directory)

	null := filepath.Join(dir, "null.json")
	require.NoError(t, os.WriteFile(null, []byte(`{"precision":null}`), 0o644))
	cfg, err = LoadConfig(null)
	require.NoError(t, err)
	assert.Nil(t, cfg.Precision, "explicit null disables rounding")

	four := filepath.Join(dir, "four.json")
	require.NoError(t, os.WriteFile(four, []byte(`{"precision":4,"tolerance":0.5}`), 0o644))
	cfg, err = LoadConfig(four)
	require.NoError(t, err)
	assert.Equal(t, 4, *cfg.Precision)
	assert.Equal(t, 0.5, cfg.CellSize, "cell size follows tolerance")
}

func TestPreferencesFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "preferences.json")
	prefs := NewPreferencesFile(path)

	cfg, found, err := prefs.Load()
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg.Directory = "/records"
	cfg.Precision = nil
	cfg.FindNearDuplicates = true
	cfg.Tolerance = 0.25
	cfg.Metric = MetricEuclidean
	require.NoError(t, prefs.Save(cfg))

	loaded, found, err := prefs.Load()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, cfg, loaded)

	require.NoError(t, prefs.Reset())
	_, found, err = prefs.Load()
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, prefs.Reset())
}

func TestPreferencesFile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"precision": 2,`), 0o644))

	cfg, found, err := NewPreferencesFile(path).Load()
	assert.Error(t, err)
	assert.False(t, found)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfig_Validate(t *testing.T) {
	base := DefaultConfig()
	base.Directory = "/x"
	require.NoError(t, base.Validate())

	bad := []func(c *Config){
		func(c *Config) { c.Directory = "" },
		func(c *Config) { c.Precision = IntPtr(-1) },
		func(c *Config) { c.Precision = IntPtr(16) },
		func(c *Config) { c.Arity = -2 },
		func(c *Config) { c.Metric = "cosine" },
		func(c *Config) { c.ReportFormat = "xml" },
		func(c *Config) { c.Precision = nil; c.RoundAndPersist = true },
		func(c *Config) { c.Tolerance = math.Inf(1) },
		func(c *Config) { c.Tolerance = math.NaN() },
		func(c *Config) { c.CellSize = math.Inf(-1) },
	}
	for i, mutate := range bad {
		c := base.Clone()
		mutate(&c)
		assert.ErrorIs(t, c.Validate(), ErrInvalidConfig, "case %d", i)
	}
}

func TestConfig_Clone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	*clone.Precision = 5
	assert.Equal(t, DefaultPrecision, *cfg.Precision)
}
