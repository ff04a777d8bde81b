package main

import (
	"fmt"

	"github.com/4chain-ag/go-pollr-overlay/pkg/appconfig"
	"github.com/4chain-ag/go-pollr-overlay/pkg/node"
	"github.com/gookit/slog"
	"github.com/urfave/cli/v2"
)

var serveCmd = &cli.Command{
	Name:   "serve",
	Usage:  "Starts the overlay node",
	Flags:  []cli.Flag{configFileFlag},
	Action: serveCommand,
}

func serveCommand(cctx *cli.Context) error {
	cfg, err := appconfig.Load(cctx.String(configFileFlag.Name))
	if err != nil {
		return fmt.Errorf("cannot load configuration: %w", err)
	}
	if err := cfg.Log.Apply(); err != nil {
		return err
	}

	n, err := node.New(cctx.Context, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			slog.WithFields(slog.M{"error": err}).Error("failed to close the node")
		}
	}()

	return n.Run(cctx.Context)
}
