// Package receitaws is a client for the ReceitaWS public CNPJ lookup API.
package receitaws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/leadfoundry/leadgen-cli/internal/model"
	"github.com/leadfoundry/leadgen-cli/internal/ratelimit"
)

const defaultBaseURL = "https://receitaws.com.br/v1/cnpj"

// LimiterKey identifies this service in the shared rate limiter.
const LimiterKey = "receitaws"

// Registry lookup errors. Callers match with errors.Is.
var (
	// ErrInvalidTaxID means the input is not a 14-digit CNPJ. Returned
	// before any network call.
	ErrInvalidTaxID = errors.New("receitaws: invalid tax id")

	// ErrNotFound means the registry answered but has no record. A valid
	// outcome, not a fault.
	ErrNotFound = errors.New("receitaws: tax id not found")

	// ErrRateLimited means the API throttled us twice in a row.
	ErrRateLimited = errors.New("receitaws: rate limited")

	// ErrUnavailable means the API could not be reached or answered with
	// an unexpected status.
	ErrUnavailable = errors.New("receitaws: unavailable")
)

// Client looks up companies in the federal registry.
type Client interface {
	Fetch(ctx context.Context, taxID string) (*model.RegistryRecord, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithCooldown overrides the pause taken after an HTTP 429 before the
// single retry.
func WithCooldown(d time.Duration) Option {
	return func(c *httpClient) {
		c.cooldown = d
	}
}

type httpClient struct {
	baseURL  string
	http     *http.Client
	limiter  ratelimit.Limiter
	cooldown time.Duration
}

// NewClient creates a ReceitaWS client. All requests pass through the given
// limiter under LimiterKey.
func NewClient(limiter ratelimit.Limiter, opts ...Option) Client {
	c := &httpClient{
		baseURL:  defaultBaseURL,
		limiter:  limiter,
		cooldown: 60 * time.Second,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NormalizeTaxID strips formatting from a CNPJ and validates its shape.
func NormalizeTaxID(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) != 14 {
		return "", eris.Wrapf(ErrInvalidTaxID, "%q has %d digits", raw, len(digits))
	}
	return digits, nil
}

type apiResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	CNPJ        string `json:"cnpj"`
	Nome        string `json:"nome"`
	Fantasia    string `json:"fantasia"`
	Situacao    string `json:"situacao"`
	Porte       string `json:"porte"`
	NaturezaJur string `json:"natureza_juridica"`
	Abertura    string `json:"abertura"`
	Capital     string `json:"capital_social"`
	Telefone    string `json:"telefone"`
	Email       string `json:"email"`
	Logradouro  string `json:"logradouro"`
	Numero      string `json:"numero"`
	Complemento string `json:"complemento"`
	Bairro      string `json:"bairro"`
	Municipio   string `json:"municipio"`
	UF          string `json:"uf"`
	CEP         string `json:"cep"`

	AtividadePrincipal []struct {
		Code string `json:"code"`
		Text string `json:"text"`
	} `json:"atividade_principal"`

	QSA []struct {
		Nome string `json:"nome"`
		Qual string `json:"qual"`
	} `json:"qsa"`
}

func (c *httpClient) Fetch(ctx context.Context, taxID string) (*model.RegistryRecord, error) {
	digits, err := NormalizeTaxID(taxID)
	if err != nil {
		return nil, err
	}

	resp, err := c.get(ctx, digits)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		// One cooldown, one retry. A second 429 is final.
		if err := sleepCtx(ctx, c.cooldown); err != nil {
			return nil, eris.Wrap(ErrRateLimited, err.Error())
		}
		resp, err = c.get(ctx, digits)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			return nil, eris.Wrapf(ErrRateLimited, "tax id %s", digits)
		}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(ErrUnavailable, err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrapf(ErrUnavailable, "status %d: %s", resp.StatusCode, string(body))
	}

	var api apiResponse
	if err := json.Unmarshal(body, &api); err != nil {
		return nil, eris.Wrap(ErrUnavailable, "decode: "+err.Error())
	}
	if strings.EqualFold(api.Status, "ERROR") {
		return nil, eris.Wrapf(ErrNotFound, "tax id %s: %s", digits, api.Message)
	}

	return mapRecord(digits, &api), nil
}

func (c *httpClient) get(ctx context.Context, digits string) (*http.Response, error) {
	if err := c.limiter.Acquire(ctx, LimiterKey); err != nil {
		return nil, eris.Wrap(err, "receitaws: limiter")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+digits, nil)
	if err != nil {
		return nil, eris.Wrap(err, "receitaws: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(ErrUnavailable, err.Error())
	}
	return resp, nil
}

func mapRecord(digits string, api *apiResponse) *model.RegistryRecord {
	rec := &model.RegistryRecord{
		TaxID:              digits,
		LegalName:          api.Nome,
		TradeName:          api.Fantasia,
		RegistrationStatus: api.Situacao,
		SizeClass:          api.Porte,
		LegalNature:        api.NaturezaJur,
		CapitalDeclared:    parseCapital(api.Capital),
		Phone:              firstPhone(api.Telefone),
		Email:              api.Email,
		Street:             api.Logradouro,
		Number:             api.Numero,
		Complement:         api.Complemento,
		District:           api.Bairro,
		City:               api.Municipio,
		State:              api.UF,
		PostalCode:         api.CEP,
	}
	if len(api.AtividadePrincipal) > 0 {
		rec.MainActivity = api.AtividadePrincipal[0].Text
	}
	if t, err := time.Parse("02/01/2006", api.Abertura); err == nil {
		rec.FoundedAt = &t
	}
	for _, p := range api.QSA {
		rec.Partners = append(rec.Partners, model.Partner{FullName: p.Nome, Role: p.Qual})
	}
	return rec
}

// parseCapital handles both "1000.00" and the occasional "1.000,00" form.
func parseCapital(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	norm := strings.ReplaceAll(s, ".", "")
	norm = strings.ReplaceAll(norm, ",", ".")
	v, err := strconv.ParseFloat(norm, 64)
	if err != nil {
		return 0
	}
	return v
}

// firstPhone keeps only the first number when the registry lists several
// separated by "/".
func firstPhone(s string) string {
	if i := strings.Index(s, "/"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
