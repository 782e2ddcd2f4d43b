package commissions

import (
	"strconv"
	"time"

	commsvc "apolice-backend/internal/application/commissions"
	"apolice-backend/internal/domain"
	"apolice-backend/internal/middleware"
	"apolice-backend/internal/pkg/apperrors"
	"apolice-backend/internal/pkg/request"
	"apolice-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Service *commsvc.Service
	Now     func() time.Time
}

type payBody struct {
	Party string `json:"party" validate:"required,oneof=broker advisory"`
}

// GET /api/v1/commissions?paid=true|false
// Brokers see their own lines; advisory users also see the lines owed to their advisory.
func (h *Handlers) Mine(c *fiber.Ctx) error {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	var f commsvc.Filter
	if raw := c.Query("paid"); raw != "" {
		paid, err := strconv.ParseBool(raw)
		if err != nil {
			return apperrors.Validation("paid must be true or false", err)
		}
		f.Paid = &paid
	}
	var advisoryID *uint
	if p.Role == domain.RoleAdvisory {
		advisoryID = p.AdvisoryID
	}
	out, err := h.Service.ListFor(c.UserContext(), p.UserID, advisoryID, f)
	if err != nil {
		return err
	}
	return response.Success(c, "Commissions fetched successfully", out, fiber.Map{"count": len(out)})
}

// GET /api/v1/policies/:id/commissions
// Admins see the full set, everyone else only the lines owed to them.
func (h *Handlers) ByPolicy(c *fiber.Ctx) error {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, err := request.ParamID(c, "id")
	if err != nil {
		return err
	}
	rows, err := h.Service.ListByPolicy(c.UserContext(), id)
	if err != nil {
		return err
	}
	if !p.IsAdmin() {
		visible := rows[:0]
		for _, r := range rows {
			if owes(p, r) {
				visible = append(visible, r)
			}
		}
		rows = visible
	}
	return response.Success(c, "Commissions fetched successfully", rows, nil)
}

// PATCH /api/v1/commissions/:id/pay
func (h *Handlers) Pay(c *fiber.Ctx) error {
	id, err := request.ParamID(c, "id")
	if err != nil {
		return err
	}
	var body payBody
	if err := request.Bind(c, &body); err != nil {
		return err
	}
	now := time.Now().UTC()
	if h.Now != nil {
		now = h.Now()
	}
	row, err := h.Service.MarkPaid(c.UserContext(), id, body.Party, now)
	if err != nil {
		return err
	}
	return response.Success(c, "Commission marked as paid", row, nil)
}

func owes(p domain.Principal, r domain.Commission) bool {
	switch r.Party {
	case domain.PartyBroker:
		return r.UserID != nil && *r.UserID == p.UserID
	case domain.PartyAdvisory:
		return p.Role == domain.RoleAdvisory && p.AdvisoryID != nil && r.AdvisoryID != nil && *r.AdvisoryID == *p.AdvisoryID
	}
	return false
}
