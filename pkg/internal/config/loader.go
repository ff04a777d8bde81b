package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	DefaultConfigFilePath = "config.yaml"
)

var SupportedExts = []string{"yaml", "yml", "json", "dotenv", "env"}

// ErrUnsupportedExt is returned for config files of a format the loader cannot read or write.
var ErrUnsupportedExt = errors.New("unsupported config file extension")

// Loader reads a configuration of type T. Values come from the defaults, then from an
// optional config file and finally from the environment.
type Loader[T any] struct {
	cfg            T
	envPrefix      string
	configFilePath string
	configFileExt  string
	loadedFrom     string
	viper          *viper.Viper
}

func NewLoader[T any](defaults func() T, envPrefix string) *Loader[T] {
	return &Loader[T]{
		cfg:            defaults(),
		envPrefix:      envPrefix,
		configFilePath: DefaultConfigFilePath,
		configFileExt:  "yaml",
		viper:          viper.New(),
	}
}

// FileExt returns the extension of path without the dot, or an error when the loader does not support it.
func FileExt(path string) (string, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if !slices.Contains(SupportedExts, ext) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedExt, ext)
	}
	return ext, nil
}

func (l *Loader[T]) SetConfigFilePath(path string) error {
	ext, err := FileExt(path)
	if err != nil {
		return err
	}

	l.configFilePath = path
	l.configFileExt = ext
	return nil
}

// LoadedFrom returns the config file the last Load read, empty when only defaults and environment were used.
func (l *Loader[T]) LoadedFrom() string {
	return l.loadedFrom
}

// Load loads the configuration from the environment and the config file.
// NOTE: The priority of the values is as follows:
// 1. Environment variables
// 2. Config file (supported types: "yaml", "yml", "json", "env", "dotenv")
// 3. Default values
//
// NOTE: The default config file is optional, an explicitly set one must exist.
// NOTE: Keys of nested sections are joined with underscores in the environment,
// e.g. engine.sync_page_limit is read from <ENVPREFIX>_ENGINE_SYNC_PAGE_LIMIT.
// Lists are comma separated and durations use the time.ParseDuration format.
func (l *Loader[T]) Load() (T, error) {
	if err := l.setViperDefaults(); err != nil {
		return l.cfg, err
	}

	l.prepareViper()

	if err := l.loadFromFile(); err != nil {
		return l.cfg, err
	}

	if err := l.viperToCfg(); err != nil {
		return l.cfg, err
	}

	return l.cfg, nil
}

func (l *Loader[T]) setViperDefaults() error {
	defaultsMap, err := ToMap(l.cfg)
	if err != nil {
		return fmt.Errorf("error occurred while setting defaults: %w", err)
	}

	for k, v := range defaultsMap {
		l.viper.SetDefault(k, v)
	}

	return nil
}

func (l *Loader[T]) prepareViper() {
	l.viper.SetEnvPrefix(l.envPrefix)
	l.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.viper.AutomaticEnv()
}

func (l *Loader[T]) loadFromFile() error {
	if l.configFilePath == DefaultConfigFilePath {
		if _, err := os.Stat(l.configFilePath); os.IsNotExist(err) {
			return nil
		}
	}

	l.viper.SetConfigFile(l.configFilePath)
	if l.configFileExt == "dotenv" || l.configFileExt == "env" {
		l.viper.SetConfigType("env")
	}
	if err := l.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error while reading config file %s: %w", l.configFilePath, err)
	}
	l.loadedFrom = l.configFilePath

	if l.configFileExt == "dotenv" || l.configFileExt == "env" {
		// .env keys use underscores, alias them to the nested keys
		prefix := l.envPrefix
		if prefix != "" {
			prefix += "_"
		}
		for _, key := range l.viper.AllKeys() {
			l.viper.RegisterAlias(prefix+strings.ReplaceAll(key, ".", "_"), key)
		}
	}

	return nil
}

func (l *Loader[T]) viperToCfg() error {
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := l.viper.Unmarshal(&l.cfg, hooks); err != nil {
		return fmt.Errorf("error while unmarshalling config from viper: %w", err)
	}
	return nil
}
