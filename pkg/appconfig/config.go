package appconfig

import (
	"fmt"

	"github.com/4chain-ag/go-pollr-overlay/pkg/server"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// Config represents the application configuration.
type Config struct {
	Server     server.Config `mapstructure:"server"`
	Engine     Engine        `mapstructure:"engine"`
	Storage    Storage       `mapstructure:"storage"`
	Mongo      MongoDB       `mapstructure:"mongo"`
	Advertiser Advertiser    `mapstructure:"advertiser"`
	Sync       Sync          `mapstructure:"sync"`
	Headers    Headers       `mapstructure:"headers"`
	Scheduler  Scheduler     `mapstructure:"scheduler"`
	Log        Log           `mapstructure:"log"`
}

// Defaults returns the default configuration values.
func Defaults() Config {
	srv := server.DefaultConfig()
	srv.Port = 3000

	return Config{
		Server:     srv,
		Engine:     DefaultEngine(),
		Storage:    DefaultStorage(),
		Mongo:      DefaultMongo(),
		Advertiser: DefaultAdvertiser(),
		Sync:       DefaultSync(),
		Headers:    DefaultHeaders(),
		Scheduler:  DefaultScheduler(),
		Log:        DefaultLog(),
	}
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	if err := c.validateServer(); err != nil {
		result = multierror.Append(result, fmt.Errorf("server: %w", err))
	}
	if err := c.Engine.validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("engine: %w", err))
	}
	if err := c.Storage.validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("storage: %w", err))
	}
	if c.Storage.PollrIndex == PollrIndexMongo {
		if err := c.Mongo.validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("mongo: %w", err))
		}
	}
	if err := c.Advertiser.validate(c.Engine.HostingURL); err != nil {
		result = multierror.Append(result, fmt.Errorf("advertiser: %w", err))
	}
	if err := c.Sync.validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("sync: %w", err))
	}
	if err := c.Headers.validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("headers: %w", err))
	}
	if err := c.Scheduler.validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("scheduler: %w", err))
	}
	if err := c.Log.validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("log: %w", err))
	}
	return result.ErrorOrNil()
}

func (c *Config) validateServer() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.Server.Port)
	}
	if c.Server.AdminBearerToken == "" {
		return fmt.Errorf("admin bearer token is required")
	}
	if _, err := uuid.Parse(c.Server.AdminBearerToken); err != nil {
		return fmt.Errorf("admin bearer token is not a valid UUID: %w", err)
	}
	return nil
}
