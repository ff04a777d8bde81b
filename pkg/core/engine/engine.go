package engine

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/advertiser"
	"github.com/4chain-ag/go-pollr-overlay/pkg/core/gasp"
	"github.com/4chain-ag/go-pollr-overlay/pkg/metrics"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/gookit/slog"
	"github.com/hashicorp/go-multierror"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultGASPSyncLimit is the default page size for GASP synchronization
	DefaultGASPSyncLimit = 10000
	// DefaultSyncTimeout bounds a single sync round with one peer
	DefaultSyncTimeout = 2 * time.Minute
	// DefaultPropagationTimeout bounds background propagation of one submission
	DefaultPropagationTimeout = 30 * time.Second
)

// Names of the built-in discovery topics and services.
const (
	TopicSHIP   = "tm_ship"
	TopicSLAP   = "tm_slap"
	ServiceSHIP = "ls_ship"
	ServiceSLAP = "ls_slap"
)

// SubmitMode represents the mode for transaction submission
type SubmitMode string

var (
	// SubmitModeHistorical is used for transactions replayed from peers, they are never propagated
	SubmitModeHistorical SubmitMode = "historical-tx"
	// SubmitModeCurrent is the mode for submitting current transactions
	SubmitModeCurrent SubmitMode = "current-tx"
)

type submitModeKey struct{}

// WithSubmitMode returns a context telling topic managers how the transaction they judge arrived.
func WithSubmitMode(ctx context.Context, mode SubmitMode) context.Context {
	return context.WithValue(ctx, submitModeKey{}, mode)
}

// SubmitModeFrom returns the mode set with WithSubmitMode, SubmitModeCurrent when none is set.
// Graph validation during sync runs in SubmitModeHistorical.
func SubmitModeFrom(ctx context.Context) SubmitMode {
	if mode, ok := ctx.Value(submitModeKey{}).(SubmitMode); ok {
		return mode
	}
	return SubmitModeCurrent
}

// SyncConfigurationType represents the type of synchronization configuration
type SyncConfigurationType int

const (
	// SyncConfigurationPeers indicates peer-based synchronization
	SyncConfigurationPeers SyncConfigurationType = iota
	// SyncConfigurationSHIP indicates SHIP-based synchronization
	SyncConfigurationSHIP
	// SyncConfigurationNone indicates no synchronization
	SyncConfigurationNone
)

// SyncConfiguration represents the configuration for synchronization
type SyncConfiguration struct {
	Type           SyncConfigurationType
	Peers          []string
	Concurrency    int
	Unidirectional bool
}

// Config collects everything an Engine is built from.
type Config struct {
	Managers               map[string]TopicManager
	LookupServices         map[string]LookupService
	Storage                Storage
	HeaderSource           HeaderSource
	HostingURL             string
	SHIPTrackers           []string
	SLAPTrackers           []string
	Advertiser             advertiser.Advertiser
	AdvertisementWatermark uint32
	SyncConfiguration      map[string]SyncConfiguration
	SyncTimeout            time.Duration
	SyncPageLimit          uint32
	MaxNodesInGraph        int
	RemoteFactory          func(peer, topic string) gasp.Remote
	LookupResolver         LookupResolverProvider
	Propagator             Propagator
	Metrics                *metrics.Engine
}

// Engine is the core overlay services engine
type Engine struct {
	managers               map[string]TopicManager
	lookupServices         map[string]LookupService
	storage                Storage
	headers                HeaderSource
	hostingURL             string
	shipTrackers           []string
	slapTrackers           []string
	advertiser             advertiser.Advertiser
	advertisementWatermark uint32
	syncConfiguration      map[string]SyncConfiguration
	syncTimeout            time.Duration
	syncPageLimit          uint32
	maxNodesInGraph        int
	remoteFactory          func(peer, topic string) gasp.Remote
	lookupResolver         LookupResolverProvider
	propagator             Propagator
	metrics                *metrics.Engine

	lastScore  atomic.Int64
	syncGroup  singleflight.Group
	bgMu       sync.RWMutex
	background conc.WaitGroup
	closed     bool

	inboundMu sync.Mutex
	inbound   map[string]*gasp.GASP
}

// ErrMissingStorage is returned by NewEngine when no storage is configured.
var ErrMissingStorage = errors.New("engine requires a storage")

// NewEngine creates and returns a new Engine instance. The registries are copied and
// fixed for the lifetime of the engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Storage == nil {
		return nil, ErrMissingStorage
	}
	e := &Engine{
		managers:               maps.Clone(cfg.Managers),
		lookupServices:         maps.Clone(cfg.LookupServices),
		storage:                cfg.Storage,
		headers:                cfg.HeaderSource,
		hostingURL:             cfg.HostingURL,
		shipTrackers:           slices.Clone(cfg.SHIPTrackers),
		slapTrackers:           slices.Clone(cfg.SLAPTrackers),
		advertiser:             cfg.Advertiser,
		advertisementWatermark: cfg.AdvertisementWatermark,
		syncConfiguration:      make(map[string]SyncConfiguration, len(cfg.SyncConfiguration)),
		syncTimeout:            cfg.SyncTimeout,
		syncPageLimit:          cfg.SyncPageLimit,
		maxNodesInGraph:        cfg.MaxNodesInGraph,
		remoteFactory:          cfg.RemoteFactory,
		lookupResolver:         cfg.LookupResolver,
		propagator:             cfg.Propagator,
		metrics:                cfg.Metrics,
		inbound:                make(map[string]*gasp.GASP),
	}
	if e.managers == nil {
		e.managers = make(map[string]TopicManager)
	}
	if e.lookupServices == nil {
		e.lookupServices = make(map[string]LookupService)
	}
	if e.syncTimeout <= 0 {
		e.syncTimeout = DefaultSyncTimeout
	}
	if e.syncPageLimit == 0 {
		e.syncPageLimit = DefaultGASPSyncLimit
	}
	if e.remoteFactory == nil {
		e.remoteFactory = func(peer, topic string) gasp.Remote {
			return NewOverlayGASPRemote(peer, topic)
		}
	}
	if e.lookupResolver == nil {
		e.lookupResolver = NewLookupResolver()
	}
	if len(e.slapTrackers) > 0 {
		e.lookupResolver.SetSLAPTrackers(e.slapTrackers)
	}

	for name, config := range cfg.SyncConfiguration {
		config.Peers = slices.Clone(config.Peers)
		if config.Type == SyncConfigurationPeers {
			switch name {
			case TopicSHIP:
				config.Peers = mergePeers(e.shipTrackers, config.Peers)
			case TopicSLAP:
				config.Peers = mergePeers(e.slapTrackers, config.Peers)
			}
		}
		e.syncConfiguration[name] = config
	}
	return e, nil
}

func mergePeers(trackers, peers []string) []string {
	combined := make(map[string]struct{}, len(trackers)+len(peers))
	for _, peer := range trackers {
		combined[peer] = struct{}{}
	}
	for _, peer := range peers {
		combined[peer] = struct{}{}
	}
	return slices.Sorted(maps.Keys(combined))
}

// Close waits for background propagation to finish and closes the storage.
func (e *Engine) Close() error {
	e.bgMu.Lock()
	if e.closed {
		e.bgMu.Unlock()
		return nil
	}
	e.closed = true
	e.bgMu.Unlock()

	var errs *multierror.Error
	if r := e.background.WaitAndRecover(); r != nil {
		errs = multierror.Append(errs, r.AsError())
	}
	if err := e.storage.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

// Storage exposes the engine storage.
func (e *Engine) Storage() Storage {
	return e.storage
}

// HostingURL returns the public URL this node advertises.
func (e *Engine) HostingURL() string {
	return e.hostingURL
}

// SyncConfiguration returns the effective sync configuration of a topic.
func (e *Engine) SyncConfiguration(topic string) (SyncConfiguration, bool) {
	config, ok := e.syncConfiguration[topic]
	return config, ok
}

// nextScore returns a strictly increasing score. Microseconds stay exact in a float64.
func (e *Engine) nextScore() float64 {
	for {
		now := time.Now().UnixMicro()
		last := e.lastScore.Load()
		if now <= last {
			now = last + 1
		}
		if e.lastScore.CompareAndSwap(last, now) {
			return float64(now)
		}
	}
}

// ListTopicManagers returns a list of topic managers and their metadata
func (e *Engine) ListTopicManagers() map[string]*overlay.MetaData {
	result := make(map[string]*overlay.MetaData, len(e.managers))
	for name, manager := range e.managers {
		result[name] = manager.GetMetaData()
	}
	return result
}

// ListLookupServiceProviders returns a list of lookup service providers and their metadata
func (e *Engine) ListLookupServiceProviders() map[string]*overlay.MetaData {
	result := make(map[string]*overlay.MetaData, len(e.lookupServices))
	for name, provider := range e.lookupServices {
		result[name] = provider.GetMetaData()
	}
	return result
}

// GetDocumentationForTopicManager returns documentation for a topic manager
func (e *Engine) GetDocumentationForTopicManager(manager string) (string, error) {
	tm, ok := e.managers[manager]
	if !ok {
		return "", ErrNoDocumentationFound
	}
	return tm.GetDocumentation(), nil
}

// GetDocumentationForLookupServiceProvider returns documentation for a lookup service provider
func (e *Engine) GetDocumentationForLookupServiceProvider(provider string) (string, error) {
	l, ok := e.lookupServices[provider]
	if !ok {
		return "", ErrNoDocumentationFound
	}
	return l.GetDocumentation(), nil
}

func (e *Engine) notifyLookupServices(event string, notify func(l LookupService) error) {
	for name, l := range e.lookupServices {
		if err := notify(l); err != nil {
			slog.WithFields(slog.M{"service": name, "event": event, "error": err}).Error("lookup service notification failed")
		}
	}
}
