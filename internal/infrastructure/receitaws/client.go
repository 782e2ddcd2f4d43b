package receitaws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"apolice-backend/internal/pkg/apperrors"

	"github.com/shopspring/decimal"
)

const DefaultBaseURL = "https://www.receitaws.com.br/v1"

var ErrCompanyNotFound = errors.New("company not found in tax registry")

// Company is the registry record of a CNPJ.
type Company struct {
	Name         string
	TradeName    string
	Address      string
	City         string
	State        string
	ZipCode      string
	Email        string
	ShareCapital decimal.Decimal
	// Raw is the untouched response body.
	Raw json.RawMessage
}

type response struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	Nome          string `json:"nome"`
	Fantasia      string `json:"fantasia"`
	Logradouro    string `json:"logradouro"`
	Numero        string `json:"numero"`
	Municipio     string `json:"municipio"`
	UF            string `json:"uf"`
	CEP           string `json:"cep"`
	Email         string `json:"email"`
	CapitalSocial string `json:"capital_social"`
}

// Client queries the public CNPJ registry.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 20 * time.Second}
}

// Lookup fetches a normalized CNPJ. Registry misses and non-200 answers are NotFound.
func (c *Client) Lookup(ctx context.Context, cnpj string) (*Company, error) {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/cnpj/"+cnpj, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, apperrors.External("Tax registry lookup failed", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NotFound("Company not found in tax registry", fmt.Errorf("%w: status %d", ErrCompanyNotFound, resp.StatusCode))
	}

	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, apperrors.External("Tax registry returned invalid JSON", err)
	}
	if strings.EqualFold(r.Status, "ERROR") {
		return nil, apperrors.NotFound("Company not found in tax registry", fmt.Errorf("%w: %s", ErrCompanyNotFound, r.Message))
	}

	capital, err := decimal.NewFromString(strings.TrimSpace(r.CapitalSocial))
	if err != nil {
		capital = decimal.Zero
	}
	name := r.Nome
	if name == "" {
		name = r.Fantasia
	}
	address := r.Logradouro
	if r.Numero != "" {
		address += ", " + r.Numero
	}
	return &Company{
		Name:         name,
		TradeName:    r.Fantasia,
		Address:      address,
		City:         r.Municipio,
		State:        r.UF,
		ZipCode:      r.CEP,
		Email:        strings.ToLower(r.Email),
		ShareCapital: capital,
		Raw:          json.RawMessage(body),
	}, nil
}
