// Package node assembles an overlay node from its configuration: storage, the hosted
// topic managers and lookup services, the engine, the HTTP server and the periodic jobs.
package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/4chain-ag/go-pollr-overlay/pkg/appconfig"
	"github.com/4chain-ag/go-pollr-overlay/pkg/core/advertiser"
	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine"
	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine/storage"
	"github.com/4chain-ag/go-pollr-overlay/pkg/core/gasp"
	"github.com/4chain-ag/go-pollr-overlay/pkg/core/ship"
	"github.com/4chain-ag/go-pollr-overlay/pkg/headers"
	"github.com/4chain-ag/go-pollr-overlay/pkg/metrics"
	"github.com/4chain-ag/go-pollr-overlay/pkg/pollr"
	"github.com/4chain-ag/go-pollr-overlay/pkg/scheduler"
	"github.com/4chain-ag/go-pollr-overlay/pkg/server"
	"github.com/go-resty/resty/v2"
	"github.com/gookit/slog"
	"github.com/hashicorp/go-multierror"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/time/rate"
)

// ShutdownTimeout bounds the wait for running jobs when the node stops.
const ShutdownTimeout = 30 * time.Second

// Job names.
const (
	JobSyncAdvertisements = "sync-advertisements"
	JobGASPSync           = "gasp-sync"
)

// Node is a fully wired overlay node.
type Node struct {
	cfg       appconfig.Config
	engine    *engine.Engine
	server    *server.ServerHTTP
	scheduler *scheduler.Scheduler
	metrics   *metrics.Engine
	mongo     *mongo.Client
}

// Option adjusts the parts of the node built from the configuration.
type Option func(*options)

type options struct {
	httpClient   *http.Client
	serverOpts   []server.ServerOption
	headerSource engine.HeaderSource
}

// WithHTTPClient sets the client used for every request to other nodes.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithServerOptions appends options applied after the configured ones.
func WithServerOptions(opts ...server.ServerOption) Option {
	return func(o *options) {
		o.serverOpts = append(o.serverOpts, opts...)
	}
}

// WithHeaderSource replaces the configured block header provider.
func WithHeaderSource(source engine.HeaderSource) Option {
	return func(o *options) {
		o.headerSource = source
	}
}

// New builds the node. Nothing listens or runs until Run is called.
func New(ctx context.Context, cfg appconfig.Config, opts ...Option) (*Node, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	n := &Node{cfg: cfg, metrics: metrics.NewEngine(cfg.Engine.MetricsNamespace)}

	store, migrator, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	index, err := n.openPollrIndex(ctx)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	pollrLookup := pollr.NewLookupService(index)
	if err := pollrLookup.Rebuild(ctx, store); err != nil {
		_ = store.Close()
		n.disconnectMongo()
		return nil, fmt.Errorf("failed to rebuild pollr index: %w", err)
	}

	directory := ship.NewDirectory(store)
	syncConfiguration, err := cfg.Sync.EngineConfiguration()
	if err != nil {
		_ = store.Close()
		n.disconnectMongo()
		return nil, err
	}

	engineCfg := engine.Config{
		Managers: map[string]engine.TopicManager{
			engine.TopicSHIP: ship.NewSHIPTopicManager(directory),
			engine.TopicSLAP: ship.NewSLAPTopicManager(directory),
			pollr.TopicName:  pollr.NewTopicManager(index),
		},
		LookupServices: map[string]engine.LookupService{
			engine.ServiceSHIP: ship.NewSHIPLookupService(directory),
			engine.ServiceSLAP: ship.NewSLAPLookupService(directory),
			pollr.ServiceName:  pollrLookup,
		},
		Storage:                store,
		HostingURL:             cfg.Engine.HostingURL,
		SHIPTrackers:           cfg.Engine.SHIPTrackers,
		SLAPTrackers:           cfg.Engine.SLAPTrackers,
		AdvertisementWatermark: cfg.Advertiser.Watermark,
		SyncConfiguration:      syncConfiguration,
		SyncTimeout:            cfg.Engine.SyncTimeout,
		SyncPageLimit:          cfg.Engine.SyncPageLimit,
		MaxNodesInGraph:        cfg.Engine.MaxNodesInGraph,
		RemoteFactory:          remoteFactory(cfg.Sync, o.httpClient),
		LookupResolver:         engine.NewLookupResolver(cfg.Engine.SLAPTrackers...).WithClient(newRestyClient(o.httpClient)),
		Metrics:                n.metrics,
	}

	switch {
	case o.headerSource != nil:
		engineCfg.HeaderSource = o.headerSource
	case cfg.Headers.Provider == appconfig.HeadersWhatsOnChain:
		engineCfg.HeaderSource = headers.NewWhatsOnChain(cfg.Headers.URL,
			headers.WithAPIKey(cfg.Headers.APIKey),
			headers.WithCacheSize(cfg.Headers.CacheSize),
		)
	}

	if cfg.Engine.Propagate {
		engineCfg.Propagator = engine.NewHTTPPropagator(newRestyClient(o.httpClient))
	}

	if cfg.Advertiser.Enabled() {
		ka, err := newKeyAdvertiser(cfg, directory)
		if err != nil {
			_ = store.Close()
			n.disconnectMongo()
			return nil, err
		}
		engineCfg.Advertiser = ka
	}

	n.engine, err = engine.NewEngine(engineCfg)
	if err != nil {
		_ = store.Close()
		n.disconnectMongo()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	serverOpts := []server.ServerOption{
		server.WithConfig(cfg.Server),
		server.WithEngine(n.engine),
		server.WithMetrics(n.metrics.Registry()),
	}
	if migrator != nil {
		serverOpts = append(serverOpts, server.WithMigrator(migrator))
	}
	n.server = server.New(append(serverOpts, o.serverOpts...)...)

	n.scheduler, err = scheduler.New(n.jobs()...)
	if err != nil {
		_ = n.Close()
		return nil, err
	}

	return n, nil
}

func openStorage(ctx context.Context, cfg appconfig.Storage) (engine.Storage, *storage.SQLStorage, error) {
	if !cfg.IsSQL() {
		return storage.NewMemoryStorage(), nil, nil
	}
	sql, err := storage.NewSQLStorage(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s storage: %w", cfg.Driver, err)
	}
	return sql, sql, nil
}

func (n *Node) openPollrIndex(ctx context.Context) (pollr.Index, error) {
	if n.cfg.Storage.PollrIndex != appconfig.PollrIndexMongo {
		return pollr.NewMemoryIndex(), nil
	}

	client, db, err := n.cfg.Mongo.Connect(ctx)
	if err != nil {
		return nil, err
	}
	n.mongo = client

	index := pollr.NewMongoIndex(db)
	if err := index.EnsureIndexes(ctx); err != nil {
		n.disconnectMongo()
		return nil, fmt.Errorf("failed to create pollr indexes: %w", err)
	}
	return index, nil
}

func newKeyAdvertiser(cfg appconfig.Config, directory *ship.Directory) (advertiser.Advertiser, error) {
	key, err := cfg.Advertiser.Key()
	if err != nil {
		return nil, err
	}
	ka := ship.NewKeyAdvertiser(key, cfg.Engine.HostingURL, directory)
	slog.WithFields(slog.M{"identity": ka.IdentityKey(), "domain": cfg.Engine.HostingURL}).Info("advertising this node")
	return ka, nil
}

func remoteFactory(cfg appconfig.Sync, client *http.Client) func(peer, topic string) gasp.Remote {
	limit := rate.Inf
	if cfg.PeerRateLimit > 0 {
		limit = rate.Limit(cfg.PeerRateLimit)
	}
	burst := max(cfg.PeerBurst, 1)

	return func(peer, topic string) gasp.Remote {
		return engine.NewOverlayGASPRemote(peer, topic,
			engine.WithRemoteClient(newRestyClient(client)),
			engine.WithRemoteRate(limit, burst),
		)
	}
}

func newRestyClient(client *http.Client) *resty.Client {
	if client == nil {
		return resty.New().SetTimeout(engine.DefaultRemoteTimeout)
	}
	return resty.NewWithClient(client).SetTimeout(engine.DefaultRemoteTimeout)
}

func (n *Node) jobs() []scheduler.Job {
	jobs := []scheduler.Job{{
		Name:    JobGASPSync,
		Spec:    n.cfg.Scheduler.GASPSyncSpec,
		Timeout: n.cfg.Scheduler.JobTimeout,
		Run:     n.engine.StartGASPSync,
	}}
	if n.cfg.Advertiser.Enabled() {
		jobs = append(jobs, scheduler.Job{
			Name:    JobSyncAdvertisements,
			Spec:    n.cfg.Scheduler.AdvertisementsSpec,
			Timeout: n.cfg.Scheduler.JobTimeout,
			Run:     n.engine.SyncAdvertisements,
		})
	}
	return jobs
}

// Engine returns the engine of the node.
func (n *Node) Engine() *engine.Engine { return n.engine }

// Server returns the HTTP server of the node.
func (n *Node) Server() *server.ServerHTTP { return n.server }

// Jobs returns the names of the scheduled jobs.
func (n *Node) Jobs() []string { return n.scheduler.Jobs() }

// Run serves HTTP, brings advertisements and topic graphs up to date once and then keeps them
// current on schedule. It blocks until ctx is canceled or the server fails.
func (n *Node) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- n.server.ListenAndServe(ctx) }()

	slog.WithFields(slog.M{"addr": n.server.SocketAddr(), "hosting_url": n.cfg.Engine.HostingURL}).Info("overlay node started")

	if n.cfg.Advertiser.Enabled() {
		if err := n.engine.SyncAdvertisements(ctx); err != nil {
			slog.WithFields(slog.M{"error": err}).Error("initial advertisement sync failed")
		}
	}
	if err := n.engine.StartGASPSync(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.WithFields(slog.M{"error": err}).Error("initial GASP sync failed")
	}

	n.scheduler.Start()

	err := <-errCh

	stopCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if stopErr := n.scheduler.Stop(stopCtx); stopErr != nil {
		slog.WithFields(slog.M{"error": stopErr}).Warn("scheduled jobs did not stop in time")
	}

	slog.Info("overlay node stopped")
	return err
}

// Close releases the storage and database connections.
func (n *Node) Close() error {
	var errs *multierror.Error
	if err := n.engine.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if n.mongo != nil {
		if err := n.mongo.Disconnect(context.Background()); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (n *Node) disconnectMongo() {
	if n.mongo != nil {
		_ = n.mongo.Disconnect(context.Background())
	}
}
