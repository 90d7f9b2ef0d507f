package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".heapstat"
	configFile string = "config.yml"
)

// SymbolPathRule describes a rule for retargeting a symbol-server path
// baked into a dump, the way delve's SubstitutePathRule retargets source
// paths between compilation and debugging.
type SymbolPathRule struct {
	// Directory path will be substituted if it matches From.
	From string
	// Path to which substitution is performed.
	To string
}

// SymbolPathRules is a slice of symbol-path substitution rules.
type SymbolPathRules []SymbolPathRule

// Config defines all configuration options available to be set through the
// config file.
type Config struct {
	// VerboseByDefault enables heapstat -v / umdh -v even without the flag.
	VerboseByDefault bool `yaml:"verbose-by-default"`

	// LogLayers is the default -log-output value used when VerboseByDefault
	// is set and no explicit -log-output flag is given.
	LogLayers string `yaml:"log-layers"`

	// UmdhOutputTemplate holds a umdh output path template. No command
	// reads it: the umdh command always writes to its required <path>
	// argument.
	UmdhOutputTemplate string `yaml:"umdh-output-template,omitempty"`

	// SymbolPath holds symbol-server path substitution rules. No command
	// reads it.
	SymbolPath SymbolPathRules `yaml:"symbol-path"`

	// UstModulePrefixes lists module-name prefixes for matching caller
	// frames. No command reads it; summary.Processor.PrintFiltered takes its
	// prefix as an argument.
	UstModulePrefixes []string `yaml:"ust-module-prefixes"`
}

// LoadConfig attempts to populate a Config object from the config.yml file,
// creating a default one on first run.
func LoadConfig() *Config {
	if err := createConfigPath(); err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		if err := f.Close(); err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Printf("Unable to read config data: %v.", err)
		return &Config{}
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return &Config{}
	}

	return &c
}

// SaveConfig marshals and saves the config struct to disk.
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

// LoadBaseline decodes a YAML file saved by SaveBaseline from path into
// into. It uses the same YAML decoder as LoadConfig/SaveConfig. The umdh
// command's --baseline mode reads its file with umdhlog.LoadBaseline, not
// with this function.
func LoadBaseline(path string, into interface{}) error {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading baseline %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("decoding baseline %q: %w", path, err)
	}
	return nil
}

// SaveBaseline encodes a umdh summary to path for later use as a -baseline.
func SaveBaseline(path string, from interface{}) error {
	out, err := yaml.Marshal(from)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(path, out, 0644)
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	if err := writeDefaultConfig(f); err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for heapstat.

# This is the default configuration file. Available options are provided,
# but disabled. Delete the leading hash mark to enable an item.

# verbose-by-default: false

# log-layers: walker,lfh,valloc,segment

# umdh-output-template: "heap-{pid}-{ts}.log"

# Retarget symbol-server paths baked into a dump to a local mirror.
symbol-path:
  # - {from: srv*, to: C:\symbols}

# Module-name prefixes treated as "this process's own code" when matching
# ust caller frames.
ust-module-prefixes:
  # - myapp
`)
	return err
}

// createConfigPath creates the directory structure at which all config
// files are saved.
func createConfigPath() error {
	p, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(p, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
