package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadfoundry/leadgen-cli/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteInsertCompanyIfAbsentByTaxID(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	first, created, err := s.InsertCompanyIfAbsent(ctx, model.Company{
		Name:      "Padaria Central",
		LegalName: "PADARIA CENTRAL LTDA",
		TaxID:     "12345678000190",
		Sector:    "Alimentação",
		Segment:   "padarias",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, first.ID)

	// Same tax id, different enrichment: first write wins.
	second, created, err := s.InsertCompanyIfAbsent(ctx, model.Company{
		Name:    "Padaria Central Filial",
		TaxID:   "12345678000190",
		Sector:  "Outro setor",
		Segment: "restaurantes",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Alimentação", second.Sector)
	assert.Equal(t, "padarias", second.Segment)
}

func TestSQLiteInsertCompanyIfAbsentByLegalName(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	first, created, err := s.InsertCompanyIfAbsent(ctx, model.Company{
		Name:      "Oficina XYZ",
		LegalName: "OFICINA XYZ ME",
	})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.InsertCompanyIfAbsent(ctx, model.Company{
		Name:      "Oficina XYZ Centro",
		LegalName: "OFICINA XYZ ME",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestSQLiteInsertCompanyWithoutNaturalKey(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	first, created, err := s.InsertCompanyIfAbsent(ctx, model.Company{Name: "Banca do Zé"})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.InsertCompanyIfAbsent(ctx, model.Company{Name: "Banca do Zé"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestSQLiteFindCompanyByName(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.InsertCompanyIfAbsent(ctx, model.Company{
		Name:      "Mercado Bom Preço",
		LegalName: "MERCADO BOM PRECO LTDA",
		TaxID:     "98765432000110",
		City:      "Recife",
	})
	require.NoError(t, err)

	byName, err := s.FindCompanyByName(ctx, "Mercado Bom Preço")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, "Recife", byName.City)

	byLegal, err := s.FindCompanyByName(ctx, "MERCADO BOM PRECO LTDA")
	require.NoError(t, err)
	require.NotNil(t, byLegal)
	assert.Equal(t, byName.ID, byLegal.ID)

	missing, err := s.FindCompanyByName(ctx, "Inexistente")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLitePartnersAndContacts(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	company, _, err := s.InsertCompanyIfAbsent(ctx, model.Company{
		Name:  "Fábrica Sul",
		TaxID: "11222333000144",
	})
	require.NoError(t, err)

	err = s.InsertPartners(ctx, company.ID, []model.Partner{
		{FullName: "Maria Souza", Role: "Sócio-Administrador"},
		{FullName: "João Lima", Role: "Sócio"},
	})
	require.NoError(t, err)

	contact, err := s.InsertContact(ctx, model.Contact{
		CompanyID: company.ID,
		Name:      model.GeneralContactName,
		Email:     "contato@fabricasul.com.br",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, contact.ID)

	var partnerCount int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM partners WHERE company_id = ?`, company.ID).Scan(&partnerCount))
	assert.Equal(t, 2, partnerCount)
}

func TestSQLiteAuditLogIsAppendOnly(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for _, status := range []string{model.AuditStatusSuccess, model.AuditFailureStatus(errors.New("disk full"))} {
		err := s.AppendAuditLog(ctx, model.AuditEntry{
			Source:     "google_maps",
			Tool:       "scraper",
			Status:     status,
			SearchTerm: "padarias em são paulo",
		})
		require.NoError(t, err)
	}

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM audit_log`).Scan(&count))
	assert.Equal(t, 2, count)
}
