// Package preferences loads the small set of runtime preferences the
// worker consults on every poll: whether to run a simulator alongside the
// live driver, whether to surface it to a listener, and whether to poll
// tool temperature during a build. Preferences are read once at startup
// from an optional TOML file and overridden by environment variables.
package preferences

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/spf13/viper"
)

// Preferences holds the current values. Fields are read concurrently by the
// worker's polling loop, so Current returns a snapshot and Reload atomically
// swaps in a new one; Preferences itself is never mutated field-by-field.
type Preferences struct {
	Simulator    bool
	ShowSimulator bool
	MonitorTemp  bool
}

// Source loads Preferences on demand and lets the worker pick up a
// refreshed snapshot without restarting.
type Source struct {
	current atomic.Value
}

// NewSource loads preferences immediately and returns a Source wrapping
// them. Load errors are not fatal: missing or malformed config falls back
// to documented defaults.
func NewSource() *Source {
	s := &Source{}
	prefs, err := load()
	if err != nil {
		prefs = defaults()
	}
	s.current.Store(prefs)
	return s
}

// Current returns the most recently loaded snapshot.
func (s *Source) Current() Preferences {
	return s.current.Load().(Preferences)
}

// Reload re-reads the backing file and environment, replacing the current
// snapshot. It returns the error from the underlying load but still
// installs the defaults-filled snapshot so Current never regresses to a
// zero value.
func (s *Source) Reload() error {
	prefs, err := load()
	if err != nil {
		s.current.Store(defaults())
		return err
	}
	s.current.Store(prefs)
	return nil
}

func defaults() Preferences {
	return Preferences{Simulator: false, ShowSimulator: false, MonitorTemp: true}
}

func load() (Preferences, error) {
	v := viper.New()

	v.SetDefault("machinecontroller.simulator", false)
	v.SetDefault("build.show_simulator", false)
	v.SetDefault("build.monitor_temp", true)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("BUILDCTL_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "buildctl"))
		v.SetConfigName("preferences")
	}

	v.SetEnvPrefix("BUILDCTL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = v.ReadInConfig()

	return Preferences{
		Simulator:     v.GetBool("machinecontroller.simulator"),
		ShowSimulator: v.GetBool("build.show_simulator"),
		MonitorTemp:   v.GetBool("build.monitor_temp"),
	}, nil
}

// Save writes prefs to the configured (or default) path.
func Save(prefs Preferences) error {
	path := os.Getenv("BUILDCTL_CONFIG")
	if path == "" {
		path = filepath.Join(os.Getenv("HOME"), ".config", "buildctl", "preferences.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir preferences dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("machinecontroller.simulator", prefs.Simulator)
	v.Set("build.show_simulator", prefs.ShowSimulator)
	v.Set("build.monitor_temp", prefs.MonitorTemp)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	return nil
}
