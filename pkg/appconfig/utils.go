package appconfig

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/4chain-ag/go-pollr-overlay/pkg/internal/config"
	"gopkg.in/yaml.v3"
)

// Redacted returns a copy of cfg with secrets masked, safe for printing.
func Redacted(cfg Config) Config {
	const mask = "********"
	redact := func(s *string) {
		if *s != "" {
			*s = mask
		}
	}
	redact(&cfg.Server.AdminBearerToken)
	redact(&cfg.Server.ARCAPIKey)
	redact(&cfg.Server.ARCCallbackToken)
	redact(&cfg.Advertiser.PrivateKey)
	redact(&cfg.Mongo.Password)
	redact(&cfg.Headers.APIKey)
	return cfg
}

// PrettyPrintAs writes the configuration to w in the specified format (JSON or YAML).
func PrettyPrintAs(w io.Writer, cfg Config, format string) error {
	data, err := config.ToMap(cfg)
	if err != nil {
		return err
	}

	var out []byte
	switch strings.ToLower(format) {
	case "json":
		out, err = json.MarshalIndent(data, "", "  ")
	case "yaml", "yml":
		out, err = yaml.Marshal(data)
	default:
		return fmt.Errorf("unsupported print format: %s", format)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config for printing: %w", err)
	}

	_, err = fmt.Fprintln(w, strings.TrimSpace(string(out)))
	return err
}
