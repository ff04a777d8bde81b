package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/4chain-ag/go-pollr-overlay/pkg/appconfig"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

var exportConfigCmd = &cli.Command{
	Name:   "export-config",
	Usage:  "Writes the default configuration to a file",
	Flags:  []cli.Flag{outputFileFlag, regenTokenFlag},
	Action: exportConfigCommand,
}

var showConfigCmd = &cli.Command{
	Name:   "config",
	Usage:  "Prints the effective configuration with secrets masked",
	Flags:  []cli.Flag{configFileFlag, formatFlag},
	Action: showConfigCommand,
}

func exportConfigCommand(cctx *cli.Context) error {
	outputFile := cctx.String(outputFileFlag.Name)
	ext := strings.TrimPrefix(filepath.Ext(outputFile), ".")
	if !slices.Contains(appconfig.SupportedExts(), ext) {
		return fmt.Errorf("unsupported output file extension: %s", ext)
	}

	cfg := appconfig.Defaults()
	if cctx.Bool(regenTokenFlag.Name) {
		cfg.Server.AdminBearerToken = uuid.NewString()
	}

	if err := appconfig.ToFile(&cfg, outputFile); err != nil {
		return err
	}

	fmt.Fprintf(cctx.App.Writer, "Configuration written to %s\n", outputFile)
	return nil
}

func showConfigCommand(cctx *cli.Context) error {
	cfg, err := appconfig.Load(cctx.String(configFileFlag.Name))
	if err != nil {
		return fmt.Errorf("cannot load configuration: %w", err)
	}
	w := cctx.App.Writer
	if w == nil {
		w = os.Stdout
	}
	return appconfig.PrettyPrintAs(w, appconfig.Redacted(cfg), cctx.String(formatFlag.Name))
}
