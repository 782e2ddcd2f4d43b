package proposals

import (
	"context"

	"apolice-backend/internal/infrastructure/asaas"
)

// AsaasGateway adapts the gateway client to PaymentGateway.
type AsaasGateway struct {
	Client *asaas.Client
}

func (g AsaasGateway) EnsureCustomer(ctx context.Context, c Customer) (string, error) {
	cus, err := g.Client.CreateCustomer(ctx, asaas.Customer{Name: c.Name, CpfCnpj: c.CNPJ, Email: c.Email})
	if err != nil {
		return "", err
	}
	return cus.ID, nil
}

func (g AsaasGateway) CreatePayment(ctx context.Context, req PaymentRequest) (*Payment, error) {
	res, err := g.Client.CreateCharge(ctx, asaas.Charge{
		Customer:          req.CustomerID,
		BillingType:       req.Method,
		DueDate:           req.DueDate.Format("2006-01-02"),
		Value:             req.Value,
		Description:       req.Description,
		ExternalReference: req.ExternalReference,
	})
	if err != nil {
		return nil, err
	}
	return &Payment{ID: res.ID, PageURL: res.InvoiceURL}, nil
}
