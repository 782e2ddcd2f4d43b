package asaas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"apolice-backend/internal/pkg/apperrors"

	"github.com/shopspring/decimal"
)

const DefaultBaseURL = "https://api.asaas.com/v3"

// Webhook event names that settle a charge.
const (
	EventPaymentReceived  = "PAYMENT_RECEIVED"
	EventPaymentConfirmed = "PAYMENT_CONFIRMED"
)

// Customer is the gateway's payer record.
type Customer struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	CpfCnpj string `json:"cpfCnpj"`
	Email   string `json:"email,omitempty"`
}

// Charge is a payment request. DueDate is formatted as YYYY-MM-DD.
type Charge struct {
	Customer          string
	BillingType       string
	DueDate           string
	Value             decimal.Decimal
	Description       string
	ExternalReference string
}

// MarshalJSON sends the value as a JSON number with two decimals.
func (c Charge) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Customer          string      `json:"customer"`
		BillingType       string      `json:"billingType"`
		DueDate           string      `json:"dueDate"`
		Value             json.Number `json:"value"`
		Description       string      `json:"description,omitempty"`
		ExternalReference string      `json:"externalReference"`
	}{c.Customer, c.BillingType, c.DueDate, json.Number(c.Value.StringFixed(2)), c.Description, c.ExternalReference})
}

// ChargeResult carries the hosted payment page.
type ChargeResult struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	InvoiceURL string `json:"invoiceUrl"`
}

// Client calls the payment gateway REST API with the account access token.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (c *Client) url(path string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return base + path
}

// CreateCustomer registers a payer and returns it with its gateway id.
func (c *Client) CreateCustomer(ctx context.Context, in Customer) (*Customer, error) {
	var out Customer
	if err := c.post(ctx, "/customers", in, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, apperrors.External("Payment gateway did not return a customer id", nil)
	}
	return &out, nil
}

// CreateCharge opens a payment for a customer. Not retried: a retry could bill twice.
func (c *Client) CreateCharge(ctx context.Context, in Charge) (*ChargeResult, error) {
	var out ChargeResult
	if err := c.post(ctx, "/payments", in, &out); err != nil {
		return nil, err
	}
	if out.ID == "" || out.InvoiceURL == "" {
		return nil, apperrors.External("Payment gateway returned an incomplete payment", nil)
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("access_token", c.APIKey)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return apperrors.External("Payment gateway request failed", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.External(fmt.Sprintf("Payment gateway %s returned %d", path, resp.StatusCode), fmt.Errorf("%s", describe(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.External("Payment gateway returned invalid JSON", err)
	}
	return nil
}

// describe extracts the gateway's error descriptions, falling back to the raw body.
func describe(body []byte) string {
	var env struct {
		Errors []struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"errors"`
	}
	if json.Unmarshal(body, &env) == nil && len(env.Errors) > 0 {
		parts := make([]string, 0, len(env.Errors))
		for _, e := range env.Errors {
			parts = append(parts, e.Code+": "+e.Description)
		}
		return strings.Join(parts, "; ")
	}
	if len(body) > 500 {
		body = body[:500]
	}
	return string(body)
}
