package ports

import (
	"github.com/4chain-ag/go-pollr-overlay/pkg/server/internal/app"
	"github.com/gofiber/fiber/v2"
)

// TopicManagersListHandler lists the hosted topic managers.
type TopicManagersListHandler struct {
	service *app.TopicManagersListService
}

func (h *TopicManagersListHandler) Handle(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.service.ListTopicManagers())
}

func NewTopicManagersListHandler(provider app.TopicManagersListProvider) *TopicManagersListHandler {
	return &TopicManagersListHandler{service: app.NewTopicManagersListService(provider)}
}

// LookupListHandler lists the hosted lookup services.
type LookupListHandler struct {
	service *app.LookupListService
}

func (h *LookupListHandler) Handle(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.service.ListLookupServiceProviders())
}

func NewLookupListHandler(provider app.LookupListProvider) *LookupListHandler {
	return &LookupListHandler{service: app.NewLookupListService(provider)}
}

// MIMETextMarkdown is the content type of service documentation.
const MIMETextMarkdown = "text/markdown; charset=utf-8"

// TopicManagerDocumentationHandler serves the markdown documentation of a topic manager
// named by the manager query parameter.
type TopicManagerDocumentationHandler struct {
	service *app.TopicManagerDocumentationService
}

func (h *TopicManagerDocumentationHandler) Handle(c *fiber.Ctx) error {
	documentation, err := h.service.GetDocumentation(c.Query("manager"))
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, MIMETextMarkdown)
	return c.Status(fiber.StatusOK).SendString(documentation)
}

func NewTopicManagerDocumentationHandler(provider app.TopicManagerDocumentationProvider) *TopicManagerDocumentationHandler {
	return &TopicManagerDocumentationHandler{service: app.NewTopicManagerDocumentationService(provider)}
}

// LookupServiceDocumentationHandler serves the markdown documentation of a lookup service
// named by the lookupService query parameter.
type LookupServiceDocumentationHandler struct {
	service *app.LookupDocumentationService
}

func (h *LookupServiceDocumentationHandler) Handle(c *fiber.Ctx) error {
	documentation, err := h.service.GetDocumentation(c.Query("lookupService"))
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, MIMETextMarkdown)
	return c.Status(fiber.StatusOK).SendString(documentation)
}

func NewLookupServiceDocumentationHandler(provider app.LookupServiceDocumentationProvider) *LookupServiceDocumentationHandler {
	return &LookupServiceDocumentationHandler{service: app.NewLookupDocumentationService(provider)}
}
