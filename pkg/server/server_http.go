package server

import (
	"context"
	"fmt"
	"time"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine"
	"github.com/4chain-ag/go-pollr-overlay/pkg/server/internal/adapters"
	"github.com/4chain-ag/go-pollr-overlay/pkg/server/internal/app"
	"github.com/4chain-ag/go-pollr-overlay/pkg/server/internal/ports"
	"github.com/4chain-ag/go-pollr-overlay/pkg/server/internal/ports/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds the configuration settings for the HTTP server
type Config struct {
	// AppName is the name of the application.
	AppName string `mapstructure:"app_name"`

	// Port is the TCP port on which the server will listen.
	Port int `mapstructure:"port"`

	// Addr is the address the server will bind to.
	Addr string `mapstructure:"addr"`

	// ServerHeader is the value of the Server header returned in HTTP responses.
	ServerHeader string `mapstructure:"server_header"`

	// AdminBearerToken is the token required to access admin-only endpoints.
	AdminBearerToken string `mapstructure:"admin_bearer_token"`

	// OctetStreamLimit defines the maximum allowed bytes read size (in bytes) of submitted bundles.
	OctetStreamLimit int64 `mapstructure:"octet_stream_limit"`

	// ConnectionReadTimeout defines the maximum duration an active connection is allowed to stay open.
	ConnectionReadTimeout time.Duration `mapstructure:"connection_read_timeout_limit"`

	// ARCAPIKey is the API key for ARC service integration. The ARC ingest endpoint is disabled without it.
	ARCAPIKey string `mapstructure:"arc_api_key"`

	// ARCCallbackToken is the token for authenticating ARC callback requests.
	ARCCallbackToken string `mapstructure:"arc_callback_token"`

	// EnablePprof exposes runtime profiles under /debug/pprof.
	EnablePprof bool `mapstructure:"enable_pprof"`

	// AccessLog enables the request log line.
	AccessLog bool `mapstructure:"access_log"`
}

// DefaultConfig provides a default configuration with reasonable values for local development.
func DefaultConfig() Config {
	return Config{
		AppName:               "Pollr Overlay v0.0.0",
		Port:                  8080,
		Addr:                  "localhost",
		ServerHeader:          "Pollr Overlay",
		AdminBearerToken:      uuid.NewString(),
		OctetStreamLimit:      middleware.ReadBodyLimit1GB,
		ConnectionReadTimeout: 10 * time.Second,
		ARCAPIKey:             "",
		ARCCallbackToken:      uuid.NewString(),
		AccessLog:             true,
	}
}

// ServerOption defines a functional option for configuring an HTTP server.
type ServerOption func(*ServerHTTP)

// WithARCAPIKey sets the ARC API key used for ARC service integration.
func WithARCAPIKey(apiKey string) ServerOption {
	return func(s *ServerHTTP) {
		s.cfg.ARCAPIKey = apiKey
	}
}

// WithARCCallbackToken sets the ARC callback token used for authenticating
// ARC callback requests on the HTTP server.
func WithARCCallbackToken(token string) ServerOption {
	return func(s *ServerHTTP) {
		s.cfg.ARCCallbackToken = token
	}
}

// WithMiddleware adds a Fiber middleware handler in front of the overlay routes.
func WithMiddleware(f fiber.Handler) ServerOption {
	return func(s *ServerHTTP) {
		s.middleware = append(s.middleware, f)
	}
}

// WithEngine sets the overlay engine provider for the HTTP server.
func WithEngine(provider engine.OverlayEngineProvider) ServerOption {
	return func(s *ServerHTTP) {
		s.engine = provider
	}
}

// WithMigrator enables the migrate route backed by the given storage.
func WithMigrator(migrator app.MigrateProvider) ServerOption {
	return func(s *ServerHTTP) {
		s.migrator = migrator
	}
}

// WithMetrics exposes the collectors of gatherer under /metrics.
func WithMetrics(gatherer prometheus.Gatherer) ServerOption {
	return func(s *ServerHTTP) {
		s.gatherer = gatherer
	}
}

// WithAdminBearerToken sets the admin bearer token used for authenticating
// admin routes on the HTTP server.
func WithAdminBearerToken(token string) ServerOption {
	return func(s *ServerHTTP) {
		s.cfg.AdminBearerToken = token
	}
}

// WithOctetStreamLimit sets the maximum allowed size (in bytes)
// for incoming requests with Content-Type: application/octet-stream.
func WithOctetStreamLimit(limit int64) ServerOption {
	return func(s *ServerHTTP) {
		s.cfg.OctetStreamLimit = limit
	}
}

// WithConfig replaces the whole configuration and rebuilds the Fiber application,
// so it should precede the other options.
func WithConfig(cfg Config) ServerOption {
	return func(s *ServerHTTP) {
		s.cfg = cfg
		s.app = newFiberApp(cfg)
	}
}

// ServerHTTP represents the HTTP server instance, including configuration,
// Fiber app instance, middleware stack, and the engine behind the routes.
type ServerHTTP struct {
	cfg        Config
	app        *fiber.App
	middleware []fiber.Handler
	engine     engine.OverlayEngineProvider
	migrator   app.MigrateProvider
	gatherer   prometheus.Gatherer
}

// SocketAddr builds the address string for binding.
func (s *ServerHTTP) SocketAddr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Addr, s.cfg.Port)
}

// ListenAndServe starts the HTTP server and blocks until it is shut down or fails.
// Cancelling ctx shuts the server down.
func (s *ServerHTTP) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listen(s.SocketAddr()) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := s.app.Shutdown(); err != nil {
			return err
		}
		return <-errCh
	}
}

// Shutdown gracefully shuts down the HTTP server using the provided context,
// allowing ongoing requests to complete within the context's deadline.
func (s *ServerHTTP) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// New creates and configures a new instance of ServerHTTP.
// Without an engine the server hosts nothing and every topical request fails as unknown.
func New(opts ...ServerOption) *ServerHTTP {
	cfg := DefaultConfig()
	srv := &ServerHTTP{
		cfg:    cfg,
		app:    newFiberApp(cfg),
		engine: adapters.NewNoopEngineProvider(),
	}

	for _, o := range opts {
		o(srv)
	}

	for _, h := range middleware.BasicMiddlewareGroup(middleware.BasicMiddlewareGroupConfig{
		EnableStackTrace: true,
		EnablePprof:      srv.cfg.EnablePprof,
		DisableLogger:    !srv.cfg.AccessLog,
		OctetStreamLimit: srv.cfg.OctetStreamLimit,
	}) {
		srv.app.Use(h)
	}
	for _, h := range srv.middleware {
		srv.app.Use(h)
	}

	if srv.gatherer != nil {
		srv.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(srv.gatherer, promhttp.HandlerOpts{})))
	}

	ports.NewHandlerRegistryService(srv.engine, srv.migrator).Register(srv.app, ports.RouteConfig{
		AdminBearerToken: srv.cfg.AdminBearerToken,
		ARCAPIKey:        srv.cfg.ARCAPIKey,
		ARCCallbackToken: srv.cfg.ARCCallbackToken,
	})

	return srv
}

// newFiberApp creates and returns a new instance of a fiber.App with the provided configuration.
// The app is configured with case-sensitive routing, strict routing, custom server headers, and read timeout settings.
func newFiberApp(cfg Config) *fiber.App {
	return fiber.New(fiber.Config{
		CaseSensitive:         true,
		StrictRouting:         true,
		Immutable:             true,
		ServerHeader:          cfg.ServerHeader,
		AppName:               cfg.AppName,
		ReadTimeout:           cfg.ConnectionReadTimeout,
		BodyLimit:             bodyLimit(cfg.OctetStreamLimit),
		ErrorHandler:          ports.ErrorHandler(),
		DisableStartupMessage: true,
	})
}

// bodyLimit lets fasthttp read bodies slightly above the octet-stream limit, the middleware rejects them.
func bodyLimit(octetStreamLimit int64) int {
	if octetStreamLimit <= 0 {
		return fiber.DefaultBodyLimit
	}
	return int(octetStreamLimit) + 1
}
