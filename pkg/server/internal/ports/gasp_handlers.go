package ports

import (
	"encoding/json"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/gasp"
	"github.com/4chain-ag/go-pollr-overlay/pkg/server/internal/app"
	"github.com/gofiber/fiber/v2"
)

// XBSVTopicHeader names the topic a GASP request is about.
const XBSVTopicHeader = "X-BSV-Topic"

func decodeBody(c *fiber.Ctx, v any) error {
	if err := json.Unmarshal(c.Body(), v); err != nil {
		return NewRequestBodyParserError(err)
	}
	return nil
}

// RequestSyncResponseHandler serves the first step of a GASP round started by a peer.
type RequestSyncResponseHandler struct {
	service *app.RequestSyncResponseService
}

func (h *RequestSyncResponseHandler) Handle(c *fiber.Ctx) error {
	var request gasp.InitialRequest
	if err := decodeBody(c, &request); err != nil {
		return err
	}

	response, err := h.service.RequestSyncResponse(c.UserContext(), c.Get(XBSVTopicHeader), &request)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(response)
}

func NewRequestSyncResponseHandler(provider app.RequestSyncResponseProvider) *RequestSyncResponseHandler {
	return &RequestSyncResponseHandler{service: app.NewRequestSyncResponseService(provider)}
}

// RequestSyncReplyHandler tells a pushing peer which outputs it should send.
type RequestSyncReplyHandler struct {
	service *app.RequestSyncReplyService
}

func (h *RequestSyncReplyHandler) Handle(c *fiber.Ctx) error {
	var response gasp.InitialResponse
	if err := decodeBody(c, &response); err != nil {
		return err
	}

	reply, err := h.service.RequestSyncReply(c.UserContext(), c.Get(XBSVTopicHeader), &response)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(reply)
}

func NewRequestSyncReplyHandler(provider app.RequestSyncReplyProvider) *RequestSyncReplyHandler {
	return &RequestSyncReplyHandler{service: app.NewRequestSyncReplyService(provider)}
}

// RequestForeignGASPNodeHandler returns one node of a graph a peer is pulling.
type RequestForeignGASPNodeHandler struct {
	service *app.RequestForeignGASPNodeService
}

// Handle expects a JSON body with graphID, txid and outputIndex along with the X-BSV-Topic header.
func (h *RequestForeignGASPNodeHandler) Handle(c *fiber.Ctx) error {
	var request gasp.NodeRequest
	if err := decodeBody(c, &request); err != nil {
		return err
	}

	node, err := h.service.RequestForeignGASPNode(c.UserContext(), c.Get(XBSVTopicHeader), &request)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(node)
}

// NewRequestForeignGASPNodeHandler constructs a new RequestForeignGASPNodeHandler.
// Panics if the provider is nil.
func NewRequestForeignGASPNodeHandler(provider app.RequestForeignGASPNodeProvider) *RequestForeignGASPNodeHandler {
	return &RequestForeignGASPNodeHandler{service: app.NewRequestForeignGASPNodeService(provider)}
}

// SubmitGASPNodeHandler accepts a node pushed by a peer and answers with the inputs still needed.
type SubmitGASPNodeHandler struct {
	service *app.SubmitGASPNodeService
}

func (h *SubmitGASPNodeHandler) Handle(c *fiber.Ctx) error {
	var node gasp.Node
	if err := decodeBody(c, &node); err != nil {
		return err
	}

	response, err := h.service.SubmitGASPNode(c.UserContext(), c.Get(XBSVTopicHeader), &node)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(response)
}

func NewSubmitGASPNodeHandler(provider app.SubmitGASPNodeProvider) *SubmitGASPNodeHandler {
	return &SubmitGASPNodeHandler{service: app.NewSubmitGASPNodeService(provider)}
}
