package appconfig

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gookit/slog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB is the configuration struct for MongoDB connections.
type MongoDB struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	AuthDB         string        `mapstructure:"auth_db"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// DefaultMongo provides the default MongoDB configuration.
func DefaultMongo() MongoDB {
	return MongoDB{
		URI:            "mongodb://localhost:27017",
		Database:       "pollr",
		Username:       "",
		Password:       "",
		AuthDB:         "admin",
		ConnectTimeout: 10 * time.Second,
	}
}

// validate performs validation on the MongoDB configuration.
func (cfg *MongoDB) validate() error {
	if strings.TrimSpace(cfg.URI) == "" {
		return errors.New("MongoDB URI must not be empty")
	}
	if _, err := url.ParseRequestURI(cfg.URI); err != nil {
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return errors.New("MongoDB database name must not be empty")
	}
	return nil
}

// HasCredentials returns true if both username and password are set.
func (cfg *MongoDB) HasCredentials() bool {
	return strings.TrimSpace(cfg.Username) != "" && strings.TrimSpace(cfg.Password) != ""
}

// Connect opens a client, pings the server and returns the configured database.
// The caller disconnects the returned client.
func (cfg *MongoDB) Connect(ctx context.Context) (*mongo.Client, *mongo.Database, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	clientOpts := options.Client().ApplyURI(cfg.URI)
	if cfg.HasCredentials() {
		clientOpts.SetAuth(options.Credential{
			Username:   cfg.Username,
			Password:   cfg.Password,
			AuthSource: cfg.AuthDB,
		})
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	slog.Infof("MongoDB connected, using DB: %s", cfg.Database)
	return client, client.Database(cfg.Database), nil
}
