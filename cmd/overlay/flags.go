package main

import "github.com/urfave/cli/v2"

var configFileFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to the configuration file (yaml, yml, json, env or dotenv)",
	EnvVars: []string{"POLLR_CONFIG_FILE"},
}

var (
	outputFileFlag = &cli.StringFlag{
		Name:    "output-file",
		Aliases: []string{"o"},
		Usage:   "Output configuration file path",
		Value:   "config.yaml",
	}
	regenTokenFlag = &cli.BoolFlag{
		Name:    "regen-token",
		Aliases: []string{"t"},
		Usage:   "Regenerate the admin bearer token",
	}
	formatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format, json or yaml",
		Value:   "yaml",
	}
)
