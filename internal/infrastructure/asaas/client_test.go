package asaas

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"apolice-backend/internal/pkg/apperrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCustomer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/customers", r.URL.Path)
		assert.Equal(t, "key_live", r.Header.Get("access_token"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "11222333000181", body["cpfCnpj"])
		assert.Equal(t, "Solar Ltda", body["name"])
		_, _ = w.Write([]byte(`{"id":"cus_000005","name":"Solar Ltda","cpfCnpj":"11222333000181"}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, APIKey: "key_live", HTTP: srv.Client()}
	cus, err := c.CreateCustomer(context.Background(), Customer{Name: "Solar Ltda", CpfCnpj: "11222333000181"})
	require.NoError(t, err)
	assert.Equal(t, "cus_000005", cus.ID)
}

func TestCreateCharge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cus_000005", body["customer"])
		assert.Equal(t, "UNDEFINED", body["billingType"])
		assert.Equal(t, "2026-06-04", body["dueDate"])
		assert.Equal(t, 1234.5, body["value"])
		assert.Equal(t, "42", body["externalReference"])
		_, _ = w.Write([]byte(`{"id":"pay_9","status":"PENDING","invoiceUrl":"https://www.asaas.com/i/pay_9"}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, APIKey: "k", HTTP: srv.Client()}
	res, err := c.CreateCharge(context.Background(), Charge{
		Customer:          "cus_000005",
		BillingType:       "UNDEFINED",
		DueDate:           "2026-06-04",
		Value:             decimal.RequireFromString("1234.50"),
		ExternalReference: "42",
	})
	require.NoError(t, err)
	assert.Equal(t, "pay_9", res.ID)
	assert.Equal(t, "https://www.asaas.com/i/pay_9", res.InvoiceURL)
}

func TestCreateCharge_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"code":"invalid_customer","description":"Customer not found"}]}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, HTTP: srv.Client()}
	_, err := c.CreateCharge(context.Background(), Charge{Customer: "x"})
	require.Error(t, err)
	assert.True(t, apperrors.IsExternalService(err))
	assert.Contains(t, errors.Unwrap(err).Error(), "invalid_customer: Customer not found")
}

func TestCreateCustomer_MissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, HTTP: srv.Client()}
	_, err := c.CreateCustomer(context.Background(), Customer{Name: "x"})
	assert.True(t, apperrors.IsExternalService(err))
}
