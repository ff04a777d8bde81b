package app

import "context"

// SyncAdvertisementsProvider defines the interface for reconciling the node's SHIP/SLAP advertisements.
type SyncAdvertisementsProvider interface {
	SyncAdvertisements(ctx context.Context) error
}

// SyncAdvertisementsService coordinates the advertisement synchronization.
type SyncAdvertisementsService struct {
	provider SyncAdvertisementsProvider
}

// SyncAdvertisements reconciles advertisements using the configured provider.
func (s *SyncAdvertisementsService) SyncAdvertisements(ctx context.Context) error {
	if err := s.provider.SyncAdvertisements(ctx); err != nil {
		return NewEngineError(err, "Unable to synchronize advertisements due to an internal error. Please try again later or contact the support team.")
	}
	return nil
}

// NewSyncAdvertisementsService creates a new SyncAdvertisementsService. Panics if the provider is nil.
func NewSyncAdvertisementsService(provider SyncAdvertisementsProvider) *SyncAdvertisementsService {
	if provider == nil {
		panic("sync advertisements provider is nil")
	}
	return &SyncAdvertisementsService{provider: provider}
}

// StartGASPSyncProvider defines the interface for triggering GASP sync.
type StartGASPSyncProvider interface {
	StartGASPSync(ctx context.Context) error
}

// StartGASPSyncService coordinates the GASP synchronization process.
type StartGASPSyncService struct {
	provider StartGASPSyncProvider
}

// StartGASPSync initiates the GASP synchronization process using the configured provider.
func (s *StartGASPSyncService) StartGASPSync(ctx context.Context) error {
	if err := s.provider.StartGASPSync(ctx); err != nil {
		return NewStartGASPSyncProviderError(err)
	}
	return nil
}

// NewStartGASPSyncService creates a new StartGASPSyncService with the given provider.
func NewStartGASPSyncService(provider StartGASPSyncProvider) *StartGASPSyncService {
	if provider == nil {
		panic("start GASP sync provider is nil")
	}

	return &StartGASPSyncService{provider: provider}
}

// NewStartGASPSyncProviderError returns an Error indicating that the configured provider
// failed to process a GASP sync request.
func NewStartGASPSyncProviderError(err error) Error {
	return NewEngineError(err, "Unable to synchronize GASP due to an internal error. Please try again later or contact the support team.")
}

// MigrateProvider prepares the storage schema.
type MigrateProvider interface {
	Migrate(ctx context.Context) error
}

type MigrateService struct {
	provider MigrateProvider
}

// Migrate runs the storage migrations. Without a configured provider the operation is unsupported.
func (s *MigrateService) Migrate(ctx context.Context) error {
	if s.provider == nil {
		const msg = "The configured storage does not support migrations."
		return NewUnsupportedOperationError(msg, msg)
	}
	if err := s.provider.Migrate(ctx); err != nil {
		return NewEngineError(err, "Unable to migrate the storage due to an internal error. Please try again later or contact the support team.")
	}
	return nil
}

// NewMigrateService creates a MigrateService. A nil provider disables migrations.
func NewMigrateService(provider MigrateProvider) *MigrateService {
	return &MigrateService{provider: provider}
}
