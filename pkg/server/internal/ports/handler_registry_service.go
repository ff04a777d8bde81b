package ports

import (
	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine"
	"github.com/4chain-ag/go-pollr-overlay/pkg/server/internal/app"
	"github.com/4chain-ag/go-pollr-overlay/pkg/server/internal/ports/middleware"
	"github.com/gofiber/fiber/v2"
)

// RouteConfig holds the credentials guarding the protected routes.
type RouteConfig struct {
	AdminBearerToken string
	ARCAPIKey        string
	ARCCallbackToken string
}

// HandlerRegistryService defines the main point for registering HTTP handler dependencies.
// It acts as a central registry for mapping API endpoints to their handler implementations.
type HandlerRegistryService struct {
	submitTransaction          *SubmitTransactionHandler
	lookupQuestion             *LookupQuestionHandler
	arcIngest                  *ARCIngestHandler
	requestSyncResponse        *RequestSyncResponseHandler
	requestSyncReply           *RequestSyncReplyHandler
	requestForeignGASPNode     *RequestForeignGASPNodeHandler
	submitGASPNode             *SubmitGASPNodeHandler
	topicManagersList          *TopicManagersListHandler
	lookupList                 *LookupListHandler
	topicManagerDocumentation  *TopicManagerDocumentationHandler
	lookupServiceDocumentation *LookupServiceDocumentationHandler
	syncAdvertisements         *SyncAdvertisementsHandler
	startGASPSync              *StartGASPSyncHandler
	migrate                    *MigrateHandler
}

// Register mounts every overlay route on router. Admin routes require the admin bearer token,
// the ARC ingest route requires the ARC callback token.
func (h *HandlerRegistryService) Register(router fiber.Router, cfg RouteConfig) {
	router.Post("/submit", h.submitTransaction.Handle)
	router.Post("/lookup", h.lookupQuestion.Handle)
	router.Post("/arc-ingest", middleware.ARCCallbackTokenMiddleware(cfg.ARCAPIKey, cfg.ARCCallbackToken), h.arcIngest.Handle)

	router.Post("/requestSyncResponse", h.requestSyncResponse.Handle)
	router.Post("/requestSyncReply", h.requestSyncReply.Handle)
	router.Post("/requestForeignGASPNode", h.requestForeignGASPNode.Handle)
	router.Post("/submitGASPNode", h.submitGASPNode.Handle)

	router.Get("/listTopicManagers", h.topicManagersList.Handle)
	router.Get("/listLookupServiceProviders", h.lookupList.Handle)
	router.Get("/getDocumentationForTopicManager", h.topicManagerDocumentation.Handle)
	router.Get("/getDocumentationForLookupServiceProvider", h.lookupServiceDocumentation.Handle)

	admin := middleware.BearerTokenAuthorizationMiddleware(cfg.AdminBearerToken)
	router.Post("/migrate", admin, h.migrate.Handle)
	router.Post("/admin/syncAdvertisements", admin, h.syncAdvertisements.Handle)
	router.Post("/admin/startGASPSync", admin, h.startGASPSync.Handle)
}

// NewHandlerRegistryService creates and returns a new HandlerRegistryService instance.
// It initializes all handler implementations with their required dependencies.
// A nil migrator disables the migrate route.
func NewHandlerRegistryService(provider engine.OverlayEngineProvider, migrator app.MigrateProvider) *HandlerRegistryService {
	return &HandlerRegistryService{
		submitTransaction:          NewSubmitTransactionHandler(provider),
		lookupQuestion:             NewLookupQuestionHandler(provider),
		arcIngest:                  NewARCIngestHandler(provider),
		requestSyncResponse:        NewRequestSyncResponseHandler(provider),
		requestSyncReply:           NewRequestSyncReplyHandler(provider),
		requestForeignGASPNode:     NewRequestForeignGASPNodeHandler(provider),
		submitGASPNode:             NewSubmitGASPNodeHandler(provider),
		topicManagersList:          NewTopicManagersListHandler(provider),
		lookupList:                 NewLookupListHandler(provider),
		topicManagerDocumentation:  NewTopicManagerDocumentationHandler(provider),
		lookupServiceDocumentation: NewLookupServiceDocumentationHandler(provider),
		syncAdvertisements:         NewSyncAdvertisementsHandler(provider),
		startGASPSync:              NewStartGASPSyncHandler(provider),
		migrate:                    NewMigrateHandler(migrator),
	}
}
