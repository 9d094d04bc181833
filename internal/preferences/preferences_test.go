package preferences

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSource_FallsBackToDefaultsWithNoConfig(t *testing.T) {
	t.Setenv("BUILDCTL_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))
	s := NewSource()
	prefs := s.Current()
	assert.False(t, prefs.Simulator)
	assert.False(t, prefs.ShowSimulator)
	assert.True(t, prefs.MonitorTemp)
}

func TestNewSource_ReadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.toml")
	contents := `
[machinecontroller]
simulator = true

[build]
show_simulator = true
monitor_temp = false
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	t.Setenv("BUILDCTL_CONFIG", path)

	s := NewSource()
	prefs := s.Current()
	assert.True(t, prefs.Simulator)
	assert.True(t, prefs.ShowSimulator)
	assert.False(t, prefs.MonitorTemp)
}

func TestSource_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.toml")
	require.NoError(t, os.WriteFile(path, []byte("[machinecontroller]\nsimulator = false\n"), 0o644))
	t.Setenv("BUILDCTL_CONFIG", path)
	t.Setenv("BUILDCTL_MACHINECONTROLLER_SIMULATOR", "true")

	s := NewSource()
	assert.True(t, s.Current().Simulator)
}

func TestSource_Reload_PicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.toml")
	require.NoError(t, os.WriteFile(path, []byte("[machinecontroller]\nsimulator = false\n"), 0o644))
	t.Setenv("BUILDCTL_CONFIG", path)

	s := NewSource()
	require.False(t, s.Current().Simulator)

	require.NoError(t, os.WriteFile(path, []byte("[machinecontroller]\nsimulator = true\n"), 0o644))
	require.NoError(t, s.Reload())
	assert.True(t, s.Current().Simulator)
}

func TestSave_WritesReadableConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "preferences.toml")
	t.Setenv("BUILDCTL_CONFIG", path)

	require.NoError(t, Save(Preferences{Simulator: true, ShowSimulator: false, MonitorTemp: true}))

	s := NewSource()
	prefs := s.Current()
	assert.True(t, prefs.Simulator)
	assert.False(t, prefs.ShowSimulator)
	assert.True(t, prefs.MonitorTemp)
}
