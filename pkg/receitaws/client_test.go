package receitaws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadfoundry/leadgen-cli/internal/ratelimit"
)

const sampleBody = `{
	"status": "OK",
	"cnpj": "12.345.678/0001-90",
	"nome": "PADARIA CENTRAL LTDA",
	"fantasia": "Padaria Central",
	"situacao": "ATIVA",
	"porte": "MICRO EMPRESA",
	"natureza_juridica": "206-2 - Sociedade Empresária Limitada",
	"abertura": "15/03/2010",
	"capital_social": "50000.00",
	"telefone": "(11) 3333-4444 / (11) 5555-6666",
	"email": "fiscal@padariacentral.com.br",
	"logradouro": "AV PAULISTA",
	"numero": "1000",
	"bairro": "BELA VISTA",
	"municipio": "SAO PAULO",
	"uf": "SP",
	"cep": "01310-100",
	"atividade_principal": [{"code": "47.21-1-02", "text": "Padaria e confeitaria"}],
	"qsa": [{"nome": "MARIA SOUZA", "qual": "49-Sócio-Administrador"}]
}`

func TestNormalizeTaxID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"formatted", "12.345.678/0001-90", "12345678000190", false},
		{"bare digits", "12345678000190", "12345678000190", false},
		{"too short", "1234567", "", true},
		{"too long", "123456780001901", "", true},
		{"empty", "", "", true},
		{"letters only", "abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeTaxID(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTaxID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetchInvalidTaxIDMakesNoRequest(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := NewClient(ratelimit.Unlimited(), WithBaseURL(srv.URL))
	_, err := c.Fetch(context.Background(), "123")

	assert.ErrorIs(t, err, ErrInvalidTaxID)
	assert.Zero(t, calls.Load())
}

func TestFetchMapsRecord(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/12345678000190", r.URL.Path)
		w.Write([]byte(sampleBody)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient(ratelimit.Unlimited(), WithBaseURL(srv.URL))
	rec, err := c.Fetch(context.Background(), "12.345.678/0001-90")
	require.NoError(t, err)

	assert.Equal(t, "12345678000190", rec.TaxID)
	assert.Equal(t, "PADARIA CENTRAL LTDA", rec.LegalName)
	assert.Equal(t, "Padaria Central", rec.TradeName)
	assert.Equal(t, "ATIVA", rec.RegistrationStatus)
	assert.Equal(t, "Padaria e confeitaria", rec.MainActivity)
	assert.Equal(t, 50000.0, rec.CapitalDeclared)
	assert.Equal(t, "(11) 3333-4444", rec.Phone, "keeps the first listed phone")
	assert.Equal(t, "SAO PAULO", rec.City)
	require.NotNil(t, rec.FoundedAt)
	assert.Equal(t, 2010, rec.FoundedAt.Year())
	require.Len(t, rec.Partners, 1)
	assert.Equal(t, "MARIA SOUZA", rec.Partners[0].FullName)
}

func TestFetchStatusErrorIsNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ERROR","message":"CNPJ inválido"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient(ratelimit.Unlimited(), WithBaseURL(srv.URL))
	_, err := c.Fetch(context.Background(), "12345678000190")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchRetriesOnceAfterThrottle(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(sampleBody)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient(ratelimit.Unlimited(), WithBaseURL(srv.URL), WithCooldown(10*time.Millisecond))
	rec, err := c.Fetch(context.Background(), "12345678000190")

	require.NoError(t, err)
	assert.Equal(t, "12345678000190", rec.TaxID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchSecondThrottleIsFinal(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(ratelimit.Unlimited(), WithBaseURL(srv.URL), WithCooldown(10*time.Millisecond))
	_, err := c.Fetch(context.Background(), "12345678000190")

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchServerFaultIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(ratelimit.Unlimited(), WithBaseURL(srv.URL))
	_, err := c.Fetch(context.Background(), "12345678000190")

	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFetchWaitsForLimiter(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleBody)) //nolint:errcheck
	}))
	defer srv.Close()

	lim := ratelimit.NewKeyed(0)
	lim.SetInterval(LimiterKey, 60*time.Millisecond)
	c := NewClient(lim, WithBaseURL(srv.URL))

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 2; i++ {
		_, err := c.Fetch(ctx, "12345678000190")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}
