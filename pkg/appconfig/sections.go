package appconfig

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine"
	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine/storage"
	"github.com/4chain-ag/go-pollr-overlay/pkg/headers"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/robfig/cron/v3"
)

// Engine configures the overlay engine itself.
type Engine struct {
	// HostingURL is the public URL of this node, advertised to peers and used as its SHIP/SLAP domain.
	HostingURL       string        `mapstructure:"hosting_url"`
	SHIPTrackers     []string      `mapstructure:"ship_trackers"`
	SLAPTrackers     []string      `mapstructure:"slap_trackers"`
	SyncPageLimit    uint32        `mapstructure:"sync_page_limit"`
	SyncTimeout      time.Duration `mapstructure:"sync_timeout"`
	MaxNodesInGraph  int           `mapstructure:"max_nodes_in_graph"`
	Propagate        bool          `mapstructure:"propagate"`
	MetricsNamespace string        `mapstructure:"metrics_namespace"`
}

func DefaultEngine() Engine {
	return Engine{
		HostingURL:       "http://localhost:3000",
		SHIPTrackers:     []string{},
		SLAPTrackers:     []string{},
		SyncPageLimit:    engine.DefaultGASPSyncLimit,
		SyncTimeout:      engine.DefaultSyncTimeout,
		MaxNodesInGraph:  1000,
		Propagate:        true,
		MetricsNamespace: "overlay",
	}
}

func (e *Engine) validate() error {
	if _, err := url.ParseRequestURI(e.HostingURL); err != nil {
		return fmt.Errorf("invalid hosting URL: %w", err)
	}
	for _, tracker := range slices.Concat(e.SHIPTrackers, e.SLAPTrackers) {
		if _, err := url.ParseRequestURI(tracker); err != nil {
			return fmt.Errorf("invalid tracker URL %q: %w", tracker, err)
		}
	}
	if e.MaxNodesInGraph < 0 {
		return errors.New("max nodes in graph must not be negative")
	}
	return nil
}

// Storage drivers accepted besides the SQL ones.
const (
	StorageMemory = "memory"

	PollrIndexMemory = "memory"
	PollrIndexMongo  = "mongo"
)

// Storage selects where admitted outputs and Pollr records are kept.
type Storage struct {
	// Driver is memory, sqlite3 or postgres.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	// PollrIndex is memory or mongo. Either is rebuilt from the stored records on startup.
	PollrIndex string `mapstructure:"pollr_index"`
}

func DefaultStorage() Storage {
	return Storage{
		Driver:     storage.DriverSQLite,
		DSN:        "file:overlay.db?cache=shared",
		PollrIndex: PollrIndexMemory,
	}
}

// IsSQL reports whether the storage is backed by a SQL database.
func (s *Storage) IsSQL() bool {
	return s.Driver == storage.DriverSQLite || s.Driver == storage.DriverPostgres
}

func (s *Storage) validate() error {
	if s.Driver != StorageMemory && !s.IsSQL() {
		return fmt.Errorf("unsupported driver %q", s.Driver)
	}
	if s.IsSQL() && strings.TrimSpace(s.DSN) == "" {
		return fmt.Errorf("dsn is required for driver %s", s.Driver)
	}
	if s.PollrIndex != PollrIndexMemory && s.PollrIndex != PollrIndexMongo {
		return fmt.Errorf("unsupported pollr index %q", s.PollrIndex)
	}
	return nil
}

// Advertiser holds the identity SHIP and SLAP advertisements are issued under.
// Advertising is disabled without a private key.
type Advertiser struct {
	PrivateKey string `mapstructure:"private_key"`
	// Watermark is the lowest advertisement version still considered current.
	Watermark uint32 `mapstructure:"watermark"`
}

func DefaultAdvertiser() Advertiser {
	return Advertiser{}
}

// Enabled reports whether a key is configured.
func (a *Advertiser) Enabled() bool {
	return strings.TrimSpace(a.PrivateKey) != ""
}

// Key decodes the hex encoded private key.
func (a *Advertiser) Key() (*ec.PrivateKey, error) {
	key, err := ec.PrivateKeyFromHex(strings.TrimSpace(a.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("invalid advertiser private key: %w", err)
	}
	return key, nil
}

func (a *Advertiser) validate(hostingURL string) error {
	if !a.Enabled() {
		return nil
	}
	if _, err := a.Key(); err != nil {
		return err
	}
	if strings.Contains(hostingURL, "localhost") {
		return errors.New("advertising a localhost hosting URL")
	}
	return nil
}

// Sync modes of a topic.
const (
	SyncModePeers = "peers"
	SyncModeSHIP  = "ship"
	SyncModeNone  = "none"
)

// SyncTopic configures how one topic is synchronized with other nodes.
type SyncTopic struct {
	Mode           string   `mapstructure:"mode" json:"mode"`
	Peers          []string `mapstructure:"peers" json:"peers"`
	Concurrency    int      `mapstructure:"concurrency" json:"concurrency"`
	Unidirectional bool     `mapstructure:"unidirectional" json:"unidirectional"`
}

// Sync configures graph synchronization.
type Sync struct {
	Topics map[string]SyncTopic `mapstructure:"topics"`
	// PeerRateLimit caps requests per second to a single peer, zero disables the limit.
	PeerRateLimit float64 `mapstructure:"peer_rate_limit"`
	PeerBurst     int     `mapstructure:"peer_burst"`
}

func DefaultSync() Sync {
	return Sync{
		Topics: map[string]SyncTopic{
			engine.TopicSHIP: {Mode: SyncModePeers, Peers: []string{}, Concurrency: 1},
			engine.TopicSLAP: {Mode: SyncModePeers, Peers: []string{}, Concurrency: 1},
			"tm_pollr":       {Mode: SyncModeSHIP, Peers: []string{}, Concurrency: 4},
		},
		PeerRateLimit: 10,
		PeerBurst:     20,
	}
}

// EngineConfiguration converts the topics into the engine sync configuration.
func (s *Sync) EngineConfiguration() (map[string]engine.SyncConfiguration, error) {
	out := make(map[string]engine.SyncConfiguration, len(s.Topics))
	for topic, cfg := range s.Topics {
		var mode engine.SyncConfigurationType
		switch cfg.Mode {
		case SyncModePeers:
			mode = engine.SyncConfigurationPeers
		case SyncModeSHIP:
			mode = engine.SyncConfigurationSHIP
		case SyncModeNone, "":
			mode = engine.SyncConfigurationNone
		default:
			return nil, fmt.Errorf("topic %s: unsupported sync mode %q", topic, cfg.Mode)
		}
		out[topic] = engine.SyncConfiguration{
			Type:           mode,
			Peers:          slices.Clone(cfg.Peers),
			Concurrency:    cfg.Concurrency,
			Unidirectional: cfg.Unidirectional,
		}
	}
	return out, nil
}

func (s *Sync) validate() error {
	if _, err := s.EngineConfiguration(); err != nil {
		return err
	}
	for topic, cfg := range s.Topics {
		for _, peer := range cfg.Peers {
			if _, err := url.ParseRequestURI(peer); err != nil {
				return fmt.Errorf("topic %s: invalid peer URL %q: %w", topic, peer, err)
			}
		}
	}
	if s.PeerRateLimit < 0 {
		return errors.New("peer rate limit must not be negative")
	}
	return nil
}

// Header providers.
const (
	HeadersWhatsOnChain = "whatsonchain"
	HeadersNone         = "none"
)

// Headers selects the source of block merkle roots proofs are checked against.
type Headers struct {
	Provider  string `mapstructure:"provider"`
	URL       string `mapstructure:"url"`
	APIKey    string `mapstructure:"api_key"`
	CacheSize int    `mapstructure:"cache_size"`
}

func DefaultHeaders() Headers {
	return Headers{
		Provider:  HeadersWhatsOnChain,
		URL:       headers.DefaultBaseURL,
		CacheSize: headers.DefaultCacheSize,
	}
}

func (h *Headers) validate() error {
	switch h.Provider {
	case HeadersNone:
		return nil
	case HeadersWhatsOnChain:
		if _, err := url.ParseRequestURI(h.URL); err != nil {
			return fmt.Errorf("invalid headers URL: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported provider %q", h.Provider)
	}
}

// Scheduler holds the cron specs of the periodic jobs. An empty spec disables the job.
type Scheduler struct {
	AdvertisementsSpec string        `mapstructure:"advertisements_spec"`
	GASPSyncSpec       string        `mapstructure:"gasp_sync_spec"`
	JobTimeout         time.Duration `mapstructure:"job_timeout"`
}

func DefaultScheduler() Scheduler {
	return Scheduler{
		AdvertisementsSpec: "@every 1h",
		GASPSyncSpec:       "@every 10m",
		JobTimeout:         10 * time.Minute,
	}
}

func (s *Scheduler) validate() error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{"advertisements": s.AdvertisementsSpec, "gasp sync": s.GASPSyncSpec} {
		if spec == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("invalid %s spec %q: %w", name, spec, err)
		}
	}
	return nil
}
