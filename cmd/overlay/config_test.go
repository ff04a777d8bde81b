package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/4chain-ag/go-pollr-overlay/pkg/appconfig"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func testApp(out *bytes.Buffer) *cli.App {
	return &cli.App{
		Name:     "overlay",
		Writer:   out,
		Commands: []*cli.Command{exportConfigCmd, showConfigCmd},
	}
}

func TestExportConfig(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.json", "overlay.env"} {
		t.Run(name, func(t *testing.T) {
			// given:
			var out bytes.Buffer
			path := filepath.Join(t.TempDir(), name)

			// when:
			err := testApp(&out).RunContext(context.Background(), []string{"overlay", "export-config", "-o", path, "-t"})

			// then:
			require.NoError(t, err)
			require.Contains(t, out.String(), "Configuration written to "+path)

			// and:
			cfg, err := appconfig.Load(path)
			require.NoError(t, err)
			defaults := appconfig.DefaultEngine()
			require.Equal(t, defaults.HostingURL, cfg.Engine.HostingURL)
			require.Equal(t, defaults.SyncTimeout, cfg.Engine.SyncTimeout)
			require.Equal(t, defaults.MaxNodesInGraph, cfg.Engine.MaxNodesInGraph)
			require.Empty(t, cfg.Engine.SHIPTrackers)
		})
	}
}

func TestExportConfig_UnsupportedExtension(t *testing.T) {
	// given:
	path := filepath.Join(t.TempDir(), "config.toml")

	// when:
	err := testApp(&bytes.Buffer{}).RunContext(context.Background(), []string{"overlay", "export-config", "-o", path})

	// then:
	require.ErrorContains(t, err, "unsupported output file extension: toml")
}

func TestShowConfig_MasksSecrets(t *testing.T) {
	// given:
	var out bytes.Buffer
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := appconfig.Defaults()
	require.NoError(t, appconfig.ToFile(&cfg, path))

	// when:
	err := testApp(&out).RunContext(context.Background(), []string{"overlay", "config", "-c", path, "-f", "json"})

	// then:
	require.NoError(t, err)
	require.Contains(t, out.String(), `"admin_bearer_token": "********"`)
	require.NotContains(t, out.String(), cfg.Server.AdminBearerToken)
}
