package proposals

import (
	"context"
	"time"

	"apolice-backend/internal/application/issuance"
	propsvc "apolice-backend/internal/application/proposals"
	"apolice-backend/internal/domain"
	"apolice-backend/internal/middleware"
	"apolice-backend/internal/pkg/apperrors"
	"apolice-backend/internal/pkg/request"
	"apolice-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type Handlers struct {
	Service  *propsvc.Service
	Policies *issuance.Service
}

type createBody struct {
	TomadorID       uint             `json:"tomador_id" validate:"required"`
	SecondaryUserID *uint            `json:"secondary_user_id"`
	InsuredAmount   decimal.Decimal  `json:"insured_amount"`
	RatePct         decimal.Decimal  `json:"rate_pct"`
	CommissionPct   *decimal.Decimal `json:"commission_pct"`
	StartDate       string           `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate         string           `json:"end_date" validate:"required,datetime=2006-01-02"`
}

type rateBody struct {
	RatePct decimal.Decimal `json:"rate_pct"`
}

// POST /api/v1/proposals
func (h *Handlers) Create(c *fiber.Ctx) error {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	var body createBody
	if err := request.Bind(c, &body); err != nil {
		return err
	}
	start, _ := time.Parse(dateLayout, body.StartDate)
	end, _ := time.Parse(dateLayout, body.EndDate)
	prop, err := h.Service.Create(c.UserContext(), p, propsvc.CreateInput{
		TomadorID:       body.TomadorID,
		SecondaryUserID: body.SecondaryUserID,
		InsuredAmount:   body.InsuredAmount,
		RatePct:         body.RatePct,
		CommissionPct:   body.CommissionPct,
		StartDate:       start,
		EndDate:         end,
	})
	if err != nil {
		return err
	}
	return response.SuccessCreated(c, "Proposal created successfully", prop, nil)
}

// GET /api/v1/proposals?status=&tomador_id=
func (h *Handlers) List(c *fiber.Ctx) error {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	out, err := h.Service.List(c.UserContext(), p, propsvc.ListFilter{
		Status:    domain.ProposalStatus(c.Query("status")),
		TomadorID: uint(c.QueryInt("tomador_id", 0)),
	})
	if err != nil {
		return err
	}
	return response.Success(c, "Proposals fetched successfully", out, fiber.Map{"count": len(out)})
}

// GET /api/v1/proposals/:id
func (h *Handlers) Get(c *fiber.Ctx) error {
	return h.act(c, "Proposal fetched successfully", h.Service.Get)
}

// PATCH /api/v1/proposals/:id/rate
func (h *Handlers) UpdateRate(c *fiber.Ctx) error {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, err := request.ParamID(c, "id")
	if err != nil {
		return err
	}
	var body rateBody
	if err := request.Bind(c, &body); err != nil {
		return err
	}
	prop, err := h.Service.UpdateRate(c.UserContext(), p, id, body.RatePct)
	if err != nil {
		return err
	}
	return response.Success(c, "Rate updated successfully", prop, nil)
}

// POST /api/v1/proposals/:id/pre-issue
func (h *Handlers) PreIssue(c *fiber.Ctx) error {
	return h.act(c, "Proposal pre-issued successfully", h.Service.PreIssue)
}

// POST /api/v1/proposals/:id/issue returns the proposal with its payment link.
func (h *Handlers) Issue(c *fiber.Ctx) error {
	return h.act(c, "Payment link created successfully", h.Service.Issue)
}

// PATCH /api/v1/proposals/:id/cancel
func (h *Handlers) Cancel(c *fiber.Ctx) error {
	return h.act(c, "Proposal cancelled successfully", h.Service.Cancel)
}

// GET /api/v1/proposals/:id/policy
func (h *Handlers) Policy(c *fiber.Ctx) error {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, err := request.ParamID(c, "id")
	if err != nil {
		return err
	}
	// visibility check
	if _, err := h.Service.Get(c.UserContext(), p, id); err != nil {
		return err
	}
	if h.Policies == nil {
		return apperrors.NotFound("Policy not found", nil)
	}
	policy, err := h.Policies.GetByProposal(c.UserContext(), id)
	if err != nil {
		return err
	}
	return response.Success(c, "Policy fetched successfully", policy, nil)
}

type proposalAction func(ctx context.Context, p domain.Principal, id uint) (*domain.Proposal, error)

func (h *Handlers) act(c *fiber.Ctx, message string, fn proposalAction) error {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	id, err := request.ParamID(c, "id")
	if err != nil {
		return err
	}
	prop, err := fn(c.UserContext(), p, id)
	if err != nil {
		return err
	}
	return response.Success(c, message, prop, nil)
}
