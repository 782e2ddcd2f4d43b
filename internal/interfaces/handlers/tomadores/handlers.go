package tomadores

import (
	"apolice-backend/internal/application/credit"
	"apolice-backend/internal/application/signing"
	tomsvc "apolice-backend/internal/application/tomadores"
	"apolice-backend/internal/pkg/request"
	"apolice-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type Handlers struct {
	Service *tomsvc.Service
	Ledger  *credit.Ledger
	Signing *signing.Service
}

type creditBody struct {
	Approved decimal.Decimal `json:"approved_credit"`
}

type signerBody struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"omitempty,oneof=guarantor legal_rep"`
}

type ccgBody struct {
	Signers []signerBody `json:"signers" validate:"required,min=1,dive"`
}

// GET /api/v1/tomadores/:cnpj
func (h *Handlers) Lookup(c *fiber.Ctx) error {
	t, err := h.Service.Lookup(c.UserContext(), c.Params("cnpj"))
	if err != nil {
		return err
	}
	return response.Success(c, "Tomador fetched successfully", t, nil)
}

// PUT /api/v1/tomadores/:cnpj/refresh
func (h *Handlers) Refresh(c *fiber.Ctx) error {
	t, err := h.Service.Refresh(c.UserContext(), c.Params("cnpj"))
	if err != nil {
		return err
	}
	return response.Success(c, "Tomador refreshed successfully", t, nil)
}

// GET /api/v1/tomadores/:id/credit
func (h *Handlers) Credit(c *fiber.Ctx) error {
	id, err := request.ParamID(c, "id")
	if err != nil {
		return err
	}
	approved, available, err := h.Ledger.Balance(c.UserContext(), id)
	if err != nil {
		return err
	}
	movements, err := h.Ledger.Movements(c.UserContext(), id)
	if err != nil {
		return err
	}
	return response.Success(c, "Credit fetched successfully", fiber.Map{
		"tomador_id":       id,
		"approved_credit":  approved,
		"available_credit": available,
		"movements":        movements,
	}, nil)
}

// PUT /api/v1/tomadores/:id/credit
func (h *Handlers) SetCredit(c *fiber.Ctx) error {
	id, err := request.ParamID(c, "id")
	if err != nil {
		return err
	}
	var body creditBody
	if err := request.Bind(c, &body); err != nil {
		return err
	}
	t, err := h.Ledger.SetLimit(c.UserContext(), id, body.Approved)
	if err != nil {
		return err
	}
	return response.Success(c, "Credit limit updated successfully", t, nil)
}

// POST /api/v1/tomadores/:id/ccg
func (h *Handlers) SubmitCCG(c *fiber.Ctx) error {
	id, err := request.ParamID(c, "id")
	if err != nil {
		return err
	}
	var body ccgBody
	if err := request.Bind(c, &body); err != nil {
		return err
	}
	signers := make([]signing.SignerInput, 0, len(body.Signers))
	for _, s := range body.Signers {
		signers = append(signers, signing.SignerInput{Name: s.Name, Email: s.Email, Role: s.Role})
	}
	req, err := h.Signing.SubmitCCG(c.UserContext(), id, signers)
	if err != nil {
		return err
	}
	return response.SuccessCreated(c, "CCG submitted for signature", req, nil)
}
