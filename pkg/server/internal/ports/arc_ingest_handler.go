package ports

import (
	"fmt"

	"github.com/4chain-ag/go-pollr-overlay/pkg/server/internal/app"
	"github.com/gofiber/fiber/v2"
)

// ARCIngestBody is the callback ARC sends once a transaction is mined.
type ARCIngestBody struct {
	TxID        string `json:"txid"`
	MerklePath  string `json:"merklePath"`
	BlockHeight uint32 `json:"blockHeight"`
}

// ARCIngestResponse confirms an ingested proof.
type ARCIngestResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ARCIngestHandler is a Fiber-compatible HTTP handler that accepts incoming
// Merkle proof ingestion requests and delegates processing to the ARCIngestService.
type ARCIngestHandler struct {
	service *app.ARCIngestService
}

// Handle processes an ARC callback. Malformed JSON returns a request parsing error,
// everything else is validated by the ARCIngestService.
func (h *ARCIngestHandler) Handle(c *fiber.Ctx) error {
	var body ARCIngestBody

	err := c.BodyParser(&body)
	if err != nil {
		return NewRequestBodyParserError(err)
	}

	err = h.service.ProcessIngest(c.UserContext(), body.TxID, body.MerklePath, body.BlockHeight)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(NewARCIngestSuccessResponse(body.TxID))
}

// NewARCIngestHandler creates a new ARCIngestHandler using the given provider.
func NewARCIngestHandler(provider app.ARCIngestProvider) *ARCIngestHandler {
	return &ARCIngestHandler{service: app.NewARCIngestService(provider)}
}

// NewARCIngestSuccessResponse returns the response for an ingested proof.
func NewARCIngestSuccessResponse(txID string) *ARCIngestResponse {
	return &ARCIngestResponse{
		Status:  "success",
		Message: fmt.Sprintf("Transaction with ID:%s successfully ingested.", txID),
	}
}
