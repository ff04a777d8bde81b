package config_test

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/4chain-ag/go-pollr-overlay/pkg/internal/config"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	// given:
	l := config.NewLoader(Defaults, "TEST")

	// when:
	cfg, err := l.Load()

	// then:
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
	require.Empty(t, l.LoadedFrom())
}

func TestEnvVariables(t *testing.T) {
	// given:
	l := config.NewLoader(Defaults, "TEST")

	// and:
	t.Setenv("TEST_B_WITH_LONG_NAME", "2")
	t.Setenv("TEST_C_SUB_CONFIG_D_NESTED_FIELD", "env_world")
	t.Setenv("TEST_E_LIST", "https://x.example.com,https://y.example.com")
	t.Setenv("TEST_F_TIMEOUT", "90s")

	// when:
	cfg, err := l.Load()

	// then:
	require.NoError(t, err)
	require.Equal(t, "default_hello", cfg.A)
	require.Equal(t, 2, cfg.B)
	require.Equal(t, "env_world", cfg.C.D)
	require.Equal(t, []string{"https://x.example.com", "https://y.example.com"}, cfg.E)
	require.Equal(t, 90*time.Second, cfg.F)
}

func TestFileConfig(t *testing.T) {
	// given:
	l := config.NewLoader(Defaults, "TEST")
	configFilePath := tempConfig(t, yamlConfig, "yaml")

	// when:
	err := l.SetConfigFilePath(configFilePath)

	// then:
	require.NoError(t, err)

	// and:
	cfg, err := l.Load()

	// then:
	require.NoError(t, err)
	require.Equal(t, "default_hello", cfg.A)
	require.Equal(t, 3, cfg.B)
	require.Equal(t, "file_world", cfg.C.D)
	require.Equal(t, []string{"https://b.example.com", "https://c.example.com"}, cfg.E)
	require.Equal(t, time.Minute, cfg.F)
	require.Equal(t, configFilePath, l.LoadedFrom())
}

func TestDotEnvConfig(t *testing.T) {
	// given:
	l := config.NewLoader(Defaults, "TEST")
	t.Setenv("TEST_A", "env_hello")
	configFilePath := tempConfig(t, dotEnvConfig, "env")

	// when:
	err := l.SetConfigFilePath(configFilePath)

	// then:
	require.NoError(t, err)

	// and:
	cfg, err := l.Load()

	// then:
	require.NoError(t, err)
	require.Equal(t, "env_hello", cfg.A)
	require.Equal(t, 4, cfg.B)
	require.Equal(t, "dotenv_world", cfg.C.D)
}

func TestJSONConfig(t *testing.T) {
	// given:
	l := config.NewLoader(Defaults, "TEST")
	t.Setenv("TEST_A", "env_hello")
	configFilePath := tempConfig(t, jsonConfig, "json")

	// when:
	err := l.SetConfigFilePath(configFilePath)

	// then:
	require.NoError(t, err)

	// and:
	cfg, err := l.Load()

	// then:
	require.NoError(t, err)
	require.Equal(t, "env_hello", cfg.A)
	require.Equal(t, 5, cfg.B)
	require.Equal(t, "json_world", cfg.C.D)
	require.Equal(t, 5*time.Second, cfg.F)
}

func TestMixedConfig(t *testing.T) {
	// given:
	l := config.NewLoader(Defaults, "TEST")
	t.Setenv("TEST_B_WITH_LONG_NAME", "2")
	configFilePath := tempConfig(t, yamlConfig, "yaml")

	// when:
	err := l.SetConfigFilePath(configFilePath)

	// then:
	require.NoError(t, err)

	// and:
	cfg, err := l.Load()

	// then:
	require.NoError(t, err)
	require.Equal(t, "default_hello", cfg.A)
	require.Equal(t, 2, cfg.B)
	require.Equal(t, "file_world", cfg.C.D)
}

func TestWithEmptyPrefix(t *testing.T) {
	// given:
	l := config.NewLoader(Defaults, "")
	t.Setenv("A", "env_hello")
	configFilePath := tempConfig(t, dotEnvConfigEmptyPrefix, "env")

	// when:
	err := l.SetConfigFilePath(configFilePath)

	// then:
	require.NoError(t, err)

	// and:
	cfg, err := l.Load()

	// then:
	require.NoError(t, err)
	require.Equal(t, "env_hello", cfg.A)
	require.Equal(t, 4, cfg.B)
	require.Equal(t, "dotenv_world", cfg.C.D)
}

func TestEnvOverridesDotEnv(t *testing.T) {
	// given:
	l := config.NewLoader(Defaults, "TEST")
	t.Setenv("TEST_B_WITH_LONG_NAME", "2")
	t.Setenv("TEST_C_SUB_CONFIG_D_NESTED_FIELD", "env_world")
	configFilePath := tempConfig(t, dotEnvConfig, "env")

	// when:
	err := l.SetConfigFilePath(configFilePath)

	// then:
	require.NoError(t, err)

	// and:
	cfg, err := l.Load()

	// then:
	require.NoError(t, err)
	require.Equal(t, "default_hello", cfg.A)
	require.Equal(t, 2, cfg.B)
	require.Equal(t, "env_world", cfg.C.D)
}

func TestUnsupportedConfigFile(t *testing.T) {
	// given:
	l := config.NewLoader(Defaults, "TEST")

	// when:
	err := l.SetConfigFilePath("config.toml")

	// then:
	require.ErrorIs(t, err, config.ErrUnsupportedExt)
}

func TestMissingExplicitConfigFile(t *testing.T) {
	// given:
	l := config.NewLoader(Defaults, "TEST")
	require.NoError(t, l.SetConfigFilePath(fmt.Sprintf("%s/missing.yaml", t.TempDir())))

	// when:
	_, err := l.Load()

	// then:
	require.Error(t, err)
}

func tempConfig(t *testing.T, content, extension string) string {
	tmpDir := t.TempDir()
	configFilePath := fmt.Sprintf("%s/config.%s", tmpDir, extension)
	err := os.WriteFile(configFilePath, []byte(content), 0644)
	require.NoError(t, err)

	return configFilePath
}
