package ports

import (
	"encoding/json"

	"github.com/4chain-ag/go-pollr-overlay/pkg/server/internal/app"
	"github.com/gofiber/fiber/v2"
)

// LookupQuestionBody is the JSON body of a lookup request.
type LookupQuestionBody struct {
	Service string          `json:"service"`
	Query   json.RawMessage `json:"query"`
}

// LookupQuestionHandler answers lookup questions with the lookup answer of the hosted service.
type LookupQuestionHandler struct {
	service *app.LookupQuestionService
}

func (h *LookupQuestionHandler) Handle(c *fiber.Ctx) error {
	var body LookupQuestionBody
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return NewRequestBodyParserError(err)
	}

	answer, err := h.service.LookupQuestion(c.UserContext(), body.Service, body.Query)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(answer)
}

// NewLookupQuestionHandler creates a LookupQuestionHandler. Panics if the provider is nil.
func NewLookupQuestionHandler(provider app.LookupQuestionProvider) *LookupQuestionHandler {
	return &LookupQuestionHandler{service: app.NewLookupQuestionService(provider)}
}
