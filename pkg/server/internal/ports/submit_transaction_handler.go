package ports

import (
	"context"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine"
	"github.com/4chain-ag/go-pollr-overlay/pkg/server/internal/app"
	"github.com/gofiber/fiber/v2"
)

// XTopicsHeader defines the HTTP header key used for specifying transaction topics.
const XTopicsHeader = "x-topics"

// SubmitTransactionService defines the interface for a service responsible for submitting transactions.
type SubmitTransactionService interface {
	SubmitTransaction(ctx context.Context, topics app.TransactionTopics, body ...byte) (engine.Steak, error)
}

// SubmitTransactionHandler handles incoming transaction requests.
// It reads the topics header and the BEEF body and invokes the submit transaction service.
type SubmitTransactionHandler struct {
	service SubmitTransactionService
}

// Handle processes an HTTP request to submit a transaction. It expects the `x-topics` header
// to be present, either a JSON array or a comma separated list of topics. On success, it returns
// HTTP 200 OK with the STEAK.
func (s *SubmitTransactionHandler) Handle(c *fiber.Ctx) error {
	topics, err := app.ParseTransactionTopics(c.Get(XTopicsHeader))
	if err != nil {
		return err
	}

	steak, err := s.service.SubmitTransaction(c.UserContext(), topics, c.Body()...)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(NewSubmitTransactionSuccessResponse(steak))
}

// NewSubmitTransactionHandler creates a new SubmitTransactionHandler with the given provider.
// If the provider is nil, it panics.
func NewSubmitTransactionHandler(provider app.SubmitTransactionProvider) *SubmitTransactionHandler {
	if provider == nil {
		panic("submit transaction provider is nil")
	}

	return &SubmitTransactionHandler{service: app.NewSubmitTransactionService(provider)}
}

// NewSubmitTransactionSuccessResponse never returns a nil STEAK so clients always get an object.
func NewSubmitTransactionSuccessResponse(steak engine.Steak) engine.Steak {
	if steak == nil {
		return engine.Steak{}
	}
	return steak
}
