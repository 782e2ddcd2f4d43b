package signatures

import (
	"apolice-backend/internal/application/signing"
	"apolice-backend/internal/pkg/request"
	"apolice-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Service *signing.Service
}

// GET /api/v1/signatures/:id
func (h *Handlers) Get(c *fiber.Ctx) error {
	id, err := request.ParamID(c, "id")
	if err != nil {
		return err
	}
	req, err := h.Service.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	return response.Success(c, "Signature request fetched successfully", req, nil)
}

// POST /api/v1/signatures/:id/requeue revives a dead task from its last checkpoint.
func (h *Handlers) Requeue(c *fiber.Ctx) error {
	id, err := request.ParamID(c, "id")
	if err != nil {
		return err
	}
	if err := h.Service.Requeue(c.UserContext(), id); err != nil {
		return err
	}
	return response.Success(c, "Signature task requeued", fiber.Map{"signature_request_id": id}, nil)
}

// GET /api/v1/signatures/backlog
func (h *Handlers) Backlog(c *fiber.Ctx) error {
	counts, err := signing.Backlog(c.UserContext(), h.Service.DB)
	if err != nil {
		return err
	}
	return response.Success(c, "Signing backlog", counts, nil)
}
