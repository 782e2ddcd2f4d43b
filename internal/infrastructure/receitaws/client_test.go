package receitaws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"apolice-backend/internal/pkg/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cnpj/11222333000181", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"OK","nome":"SOLAR ENERGIA LTDA","fantasia":"SOLAR","logradouro":"RUA A","numero":"10",
			"municipio":"RECIFE","uf":"PE","cep":"50.000-000","email":"Contato@Solar.com.br","capital_social":"150000.00"}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, HTTP: srv.Client()}
	co, err := c.Lookup(context.Background(), "11222333000181")
	require.NoError(t, err)
	assert.Equal(t, "SOLAR ENERGIA LTDA", co.Name)
	assert.Equal(t, "RUA A, 10", co.Address)
	assert.Equal(t, "PE", co.State)
	assert.Equal(t, "contato@solar.com.br", co.Email)
	assert.Equal(t, "150000", co.ShareCapital.String())
	assert.NotEmpty(t, co.Raw)
}

func TestLookup_NameFallsBackToTradeName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"OK","fantasia":"SOLAR","capital_social":""}`))
	}))
	defer srv.Close()

	co, err := (&Client{BaseURL: srv.URL, HTTP: srv.Client()}).Lookup(context.Background(), "11222333000181")
	require.NoError(t, err)
	assert.Equal(t, "SOLAR", co.Name)
	assert.True(t, co.ShareCapital.IsZero())
}

func TestLookup_NotFound(t *testing.T) {
	for name, handler := range map[string]http.HandlerFunc{
		"status 429": func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) },
		"error body": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"ERROR","message":"CNPJ inválido"}`))
		},
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()
			_, err := (&Client{BaseURL: srv.URL, HTTP: srv.Client()}).Lookup(context.Background(), "11222333000181")
			assert.True(t, apperrors.IsNotFound(err))
			assert.ErrorIs(t, err, ErrCompanyNotFound)
		})
	}
}
