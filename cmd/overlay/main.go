package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gookit/slog"
	"github.com/urfave/cli/v2"
)

var version = "v0.0.0"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)
		select {
		case <-interrupt:
			slog.Info("received interrupt signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(interrupt)
	}()

	app := &cli.App{
		Name:    "overlay",
		Usage:   "Pollr overlay node",
		Version: version,
		Commands: []*cli.Command{
			serveCmd,
			exportConfigCmd,
			showConfigCmd,
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Fatal(err)
	}
}
