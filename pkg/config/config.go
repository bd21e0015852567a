package config

import (
	"fmt"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir        string = ".memsieve"
	configDirXdg     string = "memsieve"
	configFile       string = "config.yml"
	historyFile      string = ".memsieve_history"
	xdgConfigHomeEnv string = "XDG_CONFIG_HOME"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// ScanDataType is the data type of full scans: number, int, float,
	// int8, int16, int32, int64, float32 or float64.
	ScanDataType string `yaml:"scan-data-type,omitempty"`
	// RegionScanLevel selects the regions walked by full scans: all,
	// heap_stack_executable or heap_stack_executable_bss.
	RegionScanLevel string `yaml:"region-scan-level,omitempty"`
	// ReverseEndianness decodes target memory as big endian.
	ReverseEndianness bool `yaml:"reverse-endianness"`
	// FreezeTarget stops the target while it is being scanned.
	FreezeTarget bool `yaml:"freeze-target"`

	// MaxListMatches is the maximum number of matches the list command
	// prints when no count is given.
	MaxListMatches *int `yaml:"max-list-matches,omitempty"`

	// ProcessBlacklist are process names hidden by the ps command.
	ProcessBlacklist []string `yaml:"process-blacklist"`

	// Address color of the list command (3/4 bit color codes as defined
	// here: https://en.wikipedia.org/wiki/ANSI_escape_code#Colors)
	ListAddressColor int `yaml:"list-address-color"`
}

// LoadConfig attempts to populate a Config object from the config.yml
// file, creating a default one if it doesn't exist.
func LoadConfig() (*Config, error) {
	err := createConfigPath()
	if err != nil {
		return &Config{}, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to get config file path: %v", err)
	}

	if _, err := os.Stat(fullConfigFile); os.IsNotExist(err) {
		if err := createDefaultConfig(fullConfigFile); err != nil {
			return &Config{}, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	return Load(fullConfigFile)
}

// Load reads the configuration stored at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to decode config file: %v", err)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	if err := createConfigPath(); err != nil {
		return err
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}
	return Save(fullConfigFile, conf)
}

// Save writes conf to path.
func Save(path string, conf *Config) error {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create config file: %v", err)
	}
	defer f.Close()
	err = writeDefaultConfig(f)
	if err != nil {
		return fmt.Errorf("unable to write default configuration: %v", err)
	}
	return nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the memsieve memory scanner.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Data type tried by full scans. One of number, int, float, int8, int16,
# int32, int64, float32, float64.
# scan-data-type: number

# Regions walked by full scans. One of all, heap_stack_executable,
# heap_stack_executable_bss.
# region-scan-level: all

# Uncomment the following line to read target memory as big endian.
# reverse-endianness: true

# Uncomment the following line to stop the target while it is being scanned.
# freeze-target: true

# Maximum number of matches printed by list.
# max-list-matches: 20

# Processes hidden by ps.
process-blacklist: ["kthreadd", "systemd", "sshd", "dbus-daemon"]

# Uncomment the following line and set your preferred ANSI foreground color
# for addresses in the (list) command (if unset, default is 34, dark blue)
# See https://en.wikipedia.org/wiki/ANSI_escape_code#3/4_bit
# list-address-color: 34
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
// $XDG_CONFIG_HOME/memsieve is used if XDG_CONFIG_HOME is set,
// ~/.memsieve otherwise.
func GetConfigFilePath(file string) (string, error) {
	if configPath := os.Getenv(xdgConfigHomeEnv); configPath != "" {
		return path.Join(configPath, configDirXdg, file), nil
	}

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}

// GetHistoryFilePath returns the path of the command history of the
// terminal.
func GetHistoryFilePath() (string, error) {
	return GetConfigFilePath(historyFile)
}
