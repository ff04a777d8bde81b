package ports

import (
	"github.com/4chain-ag/go-pollr-overlay/pkg/server/internal/app"
	"github.com/gofiber/fiber/v2"
)

// StatusResponse is returned by admin operations that have no other result.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SyncAdvertisementsHandler reconciles the node's SHIP/SLAP advertisements on request.
type SyncAdvertisementsHandler struct {
	service *app.SyncAdvertisementsService
}

func (h *SyncAdvertisementsHandler) Handle(c *fiber.Ctx) error {
	if err := h.service.SyncAdvertisements(c.UserContext()); err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(StatusResponse{Status: "success", Message: "Advertisement sync completed"})
}

func NewSyncAdvertisementsHandler(provider app.SyncAdvertisementsProvider) *SyncAdvertisementsHandler {
	return &SyncAdvertisementsHandler{service: app.NewSyncAdvertisementsService(provider)}
}

// StartGASPSyncHandler runs a GASP round for every configured topic.
type StartGASPSyncHandler struct {
	service *app.StartGASPSyncService
}

func (h *StartGASPSyncHandler) Handle(c *fiber.Ctx) error {
	if err := h.service.StartGASPSync(c.UserContext()); err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(StatusResponse{Status: "success", Message: "GASP sync completed"})
}

func NewStartGASPSyncHandler(provider app.StartGASPSyncProvider) *StartGASPSyncHandler {
	return &StartGASPSyncHandler{service: app.NewStartGASPSyncService(provider)}
}

// MigrateHandler brings the storage schema up to date.
type MigrateHandler struct {
	service *app.MigrateService
}

func (h *MigrateHandler) Handle(c *fiber.Ctx) error {
	if err := h.service.Migrate(c.UserContext()); err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(StatusResponse{Status: "success"})
}

// NewMigrateHandler creates a MigrateHandler, a nil provider answers every request as unsupported.
func NewMigrateHandler(provider app.MigrateProvider) *MigrateHandler {
	return &MigrateHandler{service: app.NewMigrateService(provider)}
}
