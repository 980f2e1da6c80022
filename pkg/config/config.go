// Package config resolves rts2drv's runtime configuration from layered
// sources, following the precedence chain and YAML file format the
// teacher uses for its own settings/spec layering
// (pkg/settings/settings.go, pkg/spec/loader.go's ResolveProfile).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SystemConfigPath and UserConfigPath are the default on-disk config
// locations, searched before an explicit --config file.
const SystemConfigPath = "/etc/rts2/rts2drv.yaml"

// UserConfigPath returns the per-user config file path under $HOME.
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.rts2/rts2drv.yaml"
}

// Config is the fully resolved runtime configuration, after merging
// defaults, config files, environment variables, and CLI flags.
type Config struct {
	Device            string  `yaml:"device"`
	DeviceType        int     `yaml:"device_type"`
	Port              int     `yaml:"port"`
	Server            string  `yaml:"server"`
	ServerPort        int     `yaml:"server_port"`
	ConnectionTimeout float64 `yaml:"connection_timeout"`
	Verbose           bool    `yaml:"verbose"`
	Debug             bool    `yaml:"debug"`
	LogFile           string  `yaml:"log_file"`
	Simulation        bool    `yaml:"simulation"`
	DisableDevice     bool    `yaml:"disable_device"`
}

// Defaults returns the built-in baseline every other layer overrides.
func Defaults() Config {
	return Config{
		Port:              0,
		Server:            "localhost",
		ServerPort:        617,
		ConnectionTimeout: 60,
	}
}

// fileLayer is the subset of Config a YAML file may set; every field is
// a pointer so "absent from this file" is distinguishable from zero.
type fileLayer struct {
	Device            *string  `yaml:"device"`
	DeviceType        *int     `yaml:"device_type"`
	Port              *int     `yaml:"port"`
	Server            *string  `yaml:"server"`
	ServerPort        *int     `yaml:"server_port"`
	ConnectionTimeout *float64 `yaml:"connection_timeout"`
	Verbose           *bool    `yaml:"verbose"`
	Debug             *bool    `yaml:"debug"`
	LogFile           *string  `yaml:"log_file"`
	Simulation        *bool    `yaml:"simulation"`
	DisableDevice     *bool    `yaml:"disable_device"`
}

func (f fileLayer) applyTo(c *Config) {
	if f.Device != nil {
		c.Device = *f.Device
	}
	if f.DeviceType != nil {
		c.DeviceType = *f.DeviceType
	}
	if f.Port != nil {
		c.Port = *f.Port
	}
	if f.Server != nil {
		c.Server = *f.Server
	}
	if f.ServerPort != nil {
		c.ServerPort = *f.ServerPort
	}
	if f.ConnectionTimeout != nil {
		c.ConnectionTimeout = *f.ConnectionTimeout
	}
	if f.Verbose != nil {
		c.Verbose = *f.Verbose
	}
	if f.Debug != nil {
		c.Debug = *f.Debug
	}
	if f.LogFile != nil {
		c.LogFile = *f.LogFile
	}
	if f.Simulation != nil {
		c.Simulation = *f.Simulation
	}
	if f.DisableDevice != nil {
		c.DisableDevice = *f.DisableDevice
	}
}

// loadFile reads and unmarshals a YAML config file. A missing file is
// not an error — it simply contributes nothing to the merge.
func loadFile(path string) (fileLayer, error) {
	var layer fileLayer
	if path == "" {
		return layer, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return layer, nil
		}
		return layer, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &layer); err != nil {
		return layer, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return layer, nil
}

// FlagOverrides records which Config fields were set explicitly on the
// command line, so Resolve can give flags the highest precedence
// without a flag's zero value masking a config-file value.
type FlagOverrides struct {
	Device            *string
	DeviceType        *int
	Port              *int
	Server            *string
	ServerPort        *int
	ConnectionTimeout *float64
	Verbose           *bool
	Debug             *bool
	LogFile           *string
	Simulation        *bool
	DisableDevice     *bool
}

// Resolve merges every layer in precedence order and returns the final
// Config.
func Resolve(configFile string, noSystem, noUser bool, flags FlagOverrides) (Config, error) {
	cfg := Defaults()

	if !noSystem {
		layer, err := loadFile(SystemConfigPath)
		if err != nil {
			return cfg, err
		}
		layer.applyTo(&cfg)
	}

	if !noUser {
		layer, err := loadFile(UserConfigPath())
		if err != nil {
			return cfg, err
		}
		layer.applyTo(&cfg)
	}

	if configFile != "" {
		layer, err := loadFile(configFile)
		if err != nil {
			return cfg, err
		}
		layer.applyTo(&cfg)
	}

	applyEnv(&cfg)

	fileLayer{
		Device:            flags.Device,
		DeviceType:        flags.DeviceType,
		Port:              flags.Port,
		Server:            flags.Server,
		ServerPort:        flags.ServerPort,
		ConnectionTimeout: flags.ConnectionTimeout,
		Verbose:           flags.Verbose,
		Debug:             flags.Debug,
		LogFile:           flags.LogFile,
		Simulation:        flags.Simulation,
		DisableDevice:     flags.DisableDevice,
	}.applyTo(&cfg)

	return cfg, nil
}

// applyEnv overlays RTS2_<SECTION>_<KEY> environment variables, e.g.
// RTS2_DEVICE_PORT, RTS2_SERVER_HOST, RTS2_RUNTIME_DEBUG.
func applyEnv(c *Config) {
	if v, ok := os.LookupEnv("RTS2_DEVICE_NAME"); ok {
		c.Device = v
	}
	if v, ok := envInt("RTS2_DEVICE_TYPE"); ok {
		c.DeviceType = v
	}
	if v, ok := envInt("RTS2_DEVICE_PORT"); ok {
		c.Port = v
	}
	if v, ok := os.LookupEnv("RTS2_SERVER_HOST"); ok {
		c.Server = v
	}
	if v, ok := envInt("RTS2_SERVER_PORT"); ok {
		c.ServerPort = v
	}
	if v, ok := envFloat("RTS2_RUNTIME_CONNECTION_TIMEOUT"); ok {
		c.ConnectionTimeout = v
	}
	if v, ok := envBool("RTS2_RUNTIME_VERBOSE"); ok {
		c.Verbose = v
	}
	if v, ok := envBool("RTS2_RUNTIME_DEBUG"); ok {
		c.Debug = v
	}
	if v, ok := os.LookupEnv("RTS2_RUNTIME_LOG_FILE"); ok {
		c.LogFile = v
	}
	if v, ok := envBool("RTS2_RUNTIME_SIMULATION"); ok {
		c.Simulation = v
	}
	if v, ok := envBool("RTS2_DEVICE_DISABLE"); ok {
		c.DisableDevice = v
	}
}

func envInt(name string) (int, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	return n, err == nil
}

func envFloat(name string) (float64, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f, err == nil
}

func envBool(name string) (bool, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return b, err == nil
}

// Marshal renders cfg back to YAML, used by --show-config.
func Marshal(cfg Config) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
