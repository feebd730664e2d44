package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Band, c.Band)
	assert.Equal(t, 5*time.Second, c.CommandTimeout)
	assert.Equal(t, "GPIO17", c.Pins.PhDown)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hydro.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":8080"
command_timeout: 2s
band:
  min: 5.8
  max: 6.2
  tolerance: 0.1
sensors:
  tds_enabled: false
database:
  driver: sqlite
  dsn: "file:hydro.sqlite"
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.Listen)
	assert.Equal(t, 2*time.Second, c.CommandTimeout)
	assert.Equal(t, Band{Min: 5.8, Max: 6.2, Tolerance: 0.1}, c.Band)
	assert.False(t, c.Sensors.TDSEnabled)
	assert.True(t, c.Sensors.EnvEnabled, "untouched fields keep their defaults")
	assert.Equal(t, "sqlite", c.Database.Driver)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HYDRO_LISTEN", ":9090")
	t.Setenv("HYDRO_COMMAND_TIMEOUT", "750ms")
	t.Setenv("HYDRO_JOURNAL_CAPACITY", "12")
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", c.Listen)
	assert.Equal(t, 750*time.Millisecond, c.CommandTimeout)
	assert.Equal(t, 12, c.JournalCapacity)

	t.Setenv("HYDRO_COMMAND_TIMEOUT", "soon")
	_, err = Load("")
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	assert.NoError(t, LoadEnvFile(""))
	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("HYDRO_TEST_ENVFILE=present\n"), 0o600))
	t.Setenv("HYDRO_TEST_ENVFILE", "")
	require.NoError(t, os.Unsetenv("HYDRO_TEST_ENVFILE"))
	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "present", os.Getenv("HYDRO_TEST_ENVFILE"))
}

func TestValidate(t *testing.T) {
	c := Default()
	c.Band.Min = 7
	assert.Error(t, c.Validate())

	c = Default()
	c.LinkDepth = 5
	assert.Error(t, c.Validate())

	c = Default()
	c.JournalCapacity = 0
	assert.Error(t, c.Validate())

	assert.NoError(t, Default().Validate())
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
