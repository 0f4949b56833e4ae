package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadfoundry/leadgen-cli/internal/model"
	"github.com/leadfoundry/leadgen-cli/internal/store"
)

type fakeAcquirer struct {
	leads []model.Lead
	err   error
}

func (f *fakeAcquirer) Acquire(_ context.Context, _ string, _ int) ([]model.Lead, error) {
	return f.leads, f.err
}

type fakeLocator struct {
	ids   map[string]string
	calls int
}

func (f *fakeLocator) Locate(_ context.Context, name, _ string) (string, error) {
	f.calls++
	if id, ok := f.ids[name]; ok {
		return id, nil
	}
	return "", errors.New("no match")
}

type fakeRegistry struct {
	records map[string]*model.RegistryRecord
	calls   int
}

func (f *fakeRegistry) Fetch(_ context.Context, taxID string) (*model.RegistryRecord, error) {
	f.calls++
	if rec, ok := f.records[taxID]; ok {
		return rec, nil
	}
	return nil, errors.New("not found")
}

type fakeContacts struct {
	info model.ContactInfo
	err  error
	urls []string
}

func (f *fakeContacts) Extract(_ context.Context, url string) (model.ContactInfo, error) {
	f.urls = append(f.urls, url)
	return f.info, f.err
}

type fakeClassifier struct {
	enabled bool
	answers map[string]*model.Classification
	err     error
}

func (f *fakeClassifier) Enabled() bool { return f.enabled }

func (f *fakeClassifier) Classify(_ context.Context, lead *model.Lead) (*model.Classification, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.answers[lead.Name], nil
}

func newSQLiteStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// failingStore wraps a real store but fails company writes.
type failingStore struct {
	store.Store
	audits []model.AuditEntry
}

func (f *failingStore) InsertCompanyIfAbsent(_ context.Context, c model.Company) (*model.Company, bool, error) {
	return nil, false, errors.New("disk full")
}

func (f *failingStore) AppendAuditLog(ctx context.Context, entry model.AuditEntry) error {
	f.audits = append(f.audits, entry)
	return f.Store.AppendAuditLog(ctx, entry)
}

func leadsNamed(names ...string) []model.Lead {
	out := make([]model.Lead, len(names))
	for i, n := range names {
		out[i] = model.Lead{Name: n, SourceURL: "https://feed.example/" + n}
	}
	return out
}

func TestRunPersistsNewCompanies(t *testing.T) {
	t.Parallel()

	st := newSQLiteStore(t)
	p := New(&fakeAcquirer{leads: leadsNamed("Padaria A", "Mercado B", "Farmácia C")},
		&fakeClassifier{enabled: false}, nil, nil, nil, st)

	res, err := p.Run(context.Background(), Job{Query: "comercio", Source: "feed", Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Summary.Scraped)
	assert.Equal(t, 3, res.Summary.NewCompanies)

	c, err := st.FindCompanyByName(context.Background(), "Padaria A")
	require.NoError(t, err)
	require.NotNil(t, c)
}

func TestRunStampsSegmentOnNewCompanies(t *testing.T) {
	t.Parallel()

	st := newSQLiteStore(t)
	p := New(&fakeAcquirer{leads: leadsNamed("Padaria A")}, &fakeClassifier{}, nil, nil, nil, st)

	_, err := p.Run(context.Background(), Job{Query: "padarias", Segment: "padarias", Source: "feed"})
	require.NoError(t, err)

	c, err := st.FindCompanyByName(context.Background(), "Padaria A")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "padarias", c.Segment)
}

func TestRunIsIdempotentAcrossInvocations(t *testing.T) {
	t.Parallel()

	st := newSQLiteStore(t)
	p := New(&fakeAcquirer{leads: leadsNamed("Padaria A", "Mercado B")},
		&fakeClassifier{}, nil, nil, nil, st)

	first, err := p.Run(context.Background(), Job{Query: "q", Source: "feed"})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Summary.NewCompanies)

	second, err := p.Run(context.Background(), Job{Query: "q", Source: "feed"})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Summary.Scraped)
	assert.Equal(t, 0, second.Summary.NewCompanies, "re-run creates nothing")
}

func TestRunDeepEnrichMergesRegistryOverListing(t *testing.T) {
	t.Parallel()

	st := newSQLiteStore(t)
	reg := &fakeRegistry{records: map[string]*model.RegistryRecord{
		"12345678000190": {
			TaxID:     "12345678000190",
			LegalName: "PADARIA A LTDA",
			City:      "São Paulo",
			State:     "SP",
			Phone:     "(11) 3333-4444",
			Partners:  []model.Partner{{FullName: "Maria Souza", Role: "Sócio"}},
		},
	}}
	loc := &fakeLocator{ids: map[string]string{"Padaria A": "12345678000190"}}

	p := New(&fakeAcquirer{leads: leadsNamed("Padaria A", "Sem Registro")},
		&fakeClassifier{}, loc, reg, &fakeContacts{}, st)

	res, err := p.Run(context.Background(), Job{Query: "padarias", City: "São Paulo", Source: "feed", DeepEnrich: true})
	require.NoError(t, err)

	require.Len(t, res.Leads, 2)
	enriched := res.Leads[0]
	assert.Equal(t, "PADARIA A LTDA", enriched.LegalName)
	assert.Equal(t, "(11) 3333-4444", enriched.Phone)

	// The unresolvable lead still persists with listing data only.
	assert.Equal(t, 2, res.Summary.NewCompanies)
	c, err := st.FindCompanyByName(context.Background(), "Sem Registro")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Empty(t, c.TaxID)
}

func TestRunDeepEnrichContactCascadeOnListingURL(t *testing.T) {
	t.Parallel()

	st := newSQLiteStore(t)
	con := &fakeContacts{info: model.ContactInfo{Email: "contato@padariaa.com.br", Phone: "(11) 2222-3333"}}

	p := New(&fakeAcquirer{leads: leadsNamed("Padaria A")},
		&fakeClassifier{}, &fakeLocator{}, &fakeRegistry{}, con, st)

	res, err := p.Run(context.Background(), Job{Query: "padarias", Source: "feed", DeepEnrich: true})
	require.NoError(t, err)

	// No website on a bare listing: the cascade runs against the detail link.
	require.Len(t, con.urls, 1)
	assert.Equal(t, "https://feed.example/Padaria A", con.urls[0])
	assert.Equal(t, "contato@padariaa.com.br", res.Leads[0].Email)
	assert.Equal(t, "(11) 2222-3333", res.Leads[0].Phone)
}

func TestRunDeepEnrichContactsRunBeforeRegistry(t *testing.T) {
	t.Parallel()

	st := newSQLiteStore(t)
	con := &fakeContacts{info: model.ContactInfo{Email: "contato@padariaa.com.br", Phone: "(11) 2222-3333"}}
	reg := &fakeRegistry{records: map[string]*model.RegistryRecord{
		"12345678000190": {
			TaxID:     "12345678000190",
			LegalName: "PADARIA A LTDA",
			Phone:     "(11) 9999-8888",
		},
	}}
	loc := &fakeLocator{ids: map[string]string{"Padaria A": "12345678000190"}}

	p := New(&fakeAcquirer{leads: leadsNamed("Padaria A")}, &fakeClassifier{}, loc, reg, con, st)

	res, err := p.Run(context.Background(), Job{Query: "padarias", Source: "feed", DeepEnrich: true})
	require.NoError(t, err)

	// Registry wins over the cascade for phone; the cascade email survives
	// because the record carries none.
	assert.Equal(t, "(11) 9999-8888", res.Leads[0].Phone)
	assert.Equal(t, "contato@padariaa.com.br", res.Leads[0].Email)
}

func TestRunDeepEnrichSkipsLocatorWhenTaxIDKnown(t *testing.T) {
	t.Parallel()

	st := newSQLiteStore(t)
	loc := &fakeLocator{}
	reg := &fakeRegistry{}

	leads := leadsNamed("Já Resolvida", "Nova")
	leads[0].TaxID = "12345678000190"

	p := New(&fakeAcquirer{leads: leads}, &fakeClassifier{}, loc, reg, &fakeContacts{}, st)

	_, err := p.Run(context.Background(), Job{Query: "q", Source: "feed", DeepEnrich: true})
	require.NoError(t, err)

	assert.Equal(t, 1, loc.calls, "only the unresolved lead hits the locator")
}

func TestRunClassificationFillsAIFields(t *testing.T) {
	t.Parallel()

	st := newSQLiteStore(t)
	cls := &fakeClassifier{
		enabled: true,
		answers: map[string]*model.Classification{
			"Loja X": {Sector: "Varejo", BusinessType: "B2C"},
		},
	}

	p := New(&fakeAcquirer{leads: leadsNamed("Loja X", "Sem Site")}, cls, nil, nil, nil, st)
	res, err := p.Run(context.Background(), Job{Query: "lojas", Source: "feed"})
	require.NoError(t, err)

	assert.Equal(t, "Varejo", res.Leads[0].Sector)
	assert.Equal(t, model.BusinessTypeB2C, res.Leads[0].BusinessType)
	assert.Empty(t, res.Leads[1].Sector, "skipped lead passes through unclassified")
}

func TestRunSkipClassificationFlag(t *testing.T) {
	t.Parallel()

	st := newSQLiteStore(t)
	cls := &fakeClassifier{enabled: true, answers: map[string]*model.Classification{
		"Loja X": {Sector: "Varejo"},
	}}

	p := New(&fakeAcquirer{leads: leadsNamed("Loja X")}, cls, nil, nil, nil, st)
	res, err := p.Run(context.Background(), Job{Query: "lojas", Source: "feed", SkipClassification: true})
	require.NoError(t, err)

	assert.Empty(t, res.Leads[0].Sector)
}

func TestRunClassifierFailureIsAbsorbed(t *testing.T) {
	t.Parallel()

	st := newSQLiteStore(t)
	cls := &fakeClassifier{enabled: true, err: errors.New("model down")}

	p := New(&fakeAcquirer{leads: leadsNamed("Loja X")}, cls, nil, nil, nil, st)
	res, err := p.Run(context.Background(), Job{Query: "lojas", Source: "feed"})

	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.NewCompanies)
}

func TestRunPersistenceFailureAppendsFailureAudit(t *testing.T) {
	t.Parallel()

	fs := &failingStore{Store: newSQLiteStore(t)}
	p := New(&fakeAcquirer{leads: leadsNamed("Loja X")}, &fakeClassifier{}, nil, nil, nil, fs)

	_, err := p.Run(context.Background(), Job{Query: "lojas", Source: "feed"})
	require.Error(t, err)

	// The opening success entry stays; the failure is a second row carrying
	// the truncated error message.
	require.Len(t, fs.audits, 2)
	assert.Equal(t, model.AuditStatusSuccess, fs.audits[0].Status)
	assert.True(t, strings.HasPrefix(fs.audits[1].Status, "error: "), fs.audits[1].Status)
	assert.Contains(t, fs.audits[1].Status, "disk full")
	assert.LessOrEqual(t, len(fs.audits[1].Status), 50)
	assert.Equal(t, "lojas", fs.audits[1].SearchTerm)
}

// contactCountingStore records the contact rows a run inserts.
type contactCountingStore struct {
	store.Store
	contacts []model.Contact
}

func (s *contactCountingStore) InsertContact(ctx context.Context, c model.Contact) (*model.Contact, error) {
	s.contacts = append(s.contacts, c)
	return s.Store.InsertContact(ctx, c)
}

func TestRunContactStubRequiresAChannel(t *testing.T) {
	t.Parallel()

	cs := &contactCountingStore{Store: newSQLiteStore(t)}

	leads := leadsNamed("Com Telefone", "Sem Canal")
	leads[0].Phone = "(11) 3333-4444"

	p := New(&fakeAcquirer{leads: leads}, &fakeClassifier{}, nil, nil, nil, cs)
	res, err := p.Run(context.Background(), Job{Query: "q", Source: "feed"})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Summary.NewCompanies)
	require.Len(t, cs.contacts, 1, "no stub without phone, email, or website")
	assert.Equal(t, model.GeneralContactName, cs.contacts[0].Name)
	assert.Equal(t, "(11) 3333-4444", cs.contacts[0].Phone)
}

func TestRunZeroLeadsIsSuccess(t *testing.T) {
	t.Parallel()

	st := newSQLiteStore(t)
	p := New(&fakeAcquirer{}, &fakeClassifier{}, nil, nil, nil, st)

	res, err := p.Run(context.Background(), Job{Query: "nada", Source: "feed"})
	require.NoError(t, err)
	assert.Zero(t, res.Summary.Scraped)
	assert.Zero(t, res.Summary.NewCompanies)
}

func TestRunAcquisitionFailureIsFatal(t *testing.T) {
	t.Parallel()

	st := newSQLiteStore(t)
	p := New(&fakeAcquirer{err: errors.New("feed blocked")}, &fakeClassifier{}, nil, nil, nil, st)

	_, err := p.Run(context.Background(), Job{Query: "q", Source: "feed"})
	assert.Error(t, err)
}
