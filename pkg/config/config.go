package config

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

const (
	configDir     string = ".pktdbg"
	configDirXdg  string = "pktdbg"
	configFile    string = "config.yml"
	xdgConfigHome string = "XDG_CONFIG_HOME"
)

// DefaultTargets are the executable names looked for when no pid is given.
var DefaultTargets = []string{"PathOfExile_x64.exe", "PathOfExile_x64Steam.exe"}

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Targets lists the executable names of the processes to attach to,
	// the first running one is used.
	Targets []string `yaml:"targets"`

	// HookTable is the path of a YAML hook table replacing the built-in
	// hooks.
	HookTable string `yaml:"hook-table,omitempty"`

	// BufferSize is the capacity of the buffer each hook copies packets
	// into, zero selects the default.
	BufferSize int `yaml:"buffer-size,omitempty"`

	// LogOutput selects the log layers enabled when --log is passed
	// without --log-output.
	LogOutput string `yaml:"log-output,omitempty"`
}

func defaultConfig() *Config {
	return &Config{Targets: append([]string(nil), DefaultTargets...)}
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return defaultConfig()
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return defaultConfig()
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return defaultConfig()
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := io.ReadAll(f)
	if err != nil {
		fmt.Printf("Unable to read config data: %v.", err)
		return defaultConfig()
	}

	c, err := parseConfig(data)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return defaultConfig()
	}
	return c
}

func parseConfig(data []byte) (*Config, error) {
	c := defaultConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	if len(c.Targets) == 0 {
		c.Targets = append([]string(nil), DefaultTargets...)
	}
	if c.BufferSize < 0 {
		return nil, fmt.Errorf("negative buffer-size %d", c.BufferSize)
	}
	return c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for pktdbg.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Executable names of the processes 'pktdbg attach' looks for when no pid is
# given. The first one found running is used.
targets: ["PathOfExile_x64.exe", "PathOfExile_x64Steam.exe"]

# Path of a YAML hook table to use instead of the built-in hooks, see
# 'pktdbg hooks' for the format.
# hook-table: /path/to/hooks.yml

# Capacity in bytes of the buffer each hook copies packets into. Larger
# packets are dropped.
# buffer-size: 1048576

# Log layers enabled by --log when --log-output is not given.
# log-output: engine,hooks
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if configPath := os.Getenv(xdgConfigHome); configPath != "" {
		return filepath.Join(configPath, configDirXdg, file), nil
	}

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return filepath.Join(userHomeDir, configDir, file), nil
}
