package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/leadfoundry/leadgen-cli/internal/db"
	"github.com/leadfoundry/leadgen-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests and by the
// dataset importer, which shares the pipeline's pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool exposes the underlying pool for bulk loaders.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name                TEXT NOT NULL,
	legal_name          TEXT,
	trade_name          TEXT,
	tax_id              TEXT,
	sector              TEXT,
	segment             TEXT,
	business_type       TEXT,
	description         TEXT,
	employees_estimate  TEXT,
	registration_status TEXT,
	size_class          TEXT,
	legal_nature        TEXT,
	founded_at          DATE,
	main_activity       TEXT,
	capital_declared    NUMERIC,
	website             TEXT,
	phone               TEXT,
	email               TEXT,
	address             TEXT,
	city                TEXT,
	state               TEXT,
	source_url          TEXT,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_companies_tax_id ON companies(tax_id) WHERE tax_id IS NOT NULL AND tax_id <> '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_companies_legal_name ON companies(legal_name) WHERE legal_name IS NOT NULL AND legal_name <> '';
CREATE INDEX IF NOT EXISTS idx_companies_name ON companies(name);
CREATE INDEX IF NOT EXISTS idx_companies_sector ON companies(sector);

CREATE TABLE IF NOT EXISTS partners (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company_id TEXT NOT NULL REFERENCES companies(id),
	full_name  TEXT NOT NULL,
	role       TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_partners_company_id ON partners(company_id);

CREATE TABLE IF NOT EXISTS contacts (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company_id TEXT NOT NULL REFERENCES companies(id),
	name       TEXT NOT NULL,
	role       TEXT,
	email      TEXT,
	phone      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_contacts_company_id ON contacts(company_id);

CREATE TABLE IF NOT EXISTS audit_log (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source      TEXT NOT NULL,
	tool        TEXT NOT NULL,
	status      TEXT NOT NULL,
	search_term TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at);

CREATE TABLE IF NOT EXISTS sync_log (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	dataset     TEXT NOT NULL,
	source      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	rows_synced BIGINT NOT NULL DEFAULT 0,
	error       TEXT,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_sync_log_dataset ON sync_log(dataset);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const companyColumns = `id, name, legal_name, trade_name, tax_id, sector, segment, business_type, description,
	employees_estimate, registration_status, size_class, legal_nature, founded_at, main_activity,
	capital_declared, website, phone, email, address, city, state, source_url, created_at`

func (s *PostgresStore) FindCompanyByName(ctx context.Context, name string) (*model.Company, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE name = $1 OR legal_name = $1 LIMIT 1`,
		name,
	)
	c, err := scanCompany(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: find company %q", name)
	}
	return c, nil
}

func (s *PostgresStore) InsertCompanyIfAbsent(ctx context.Context, c model.Company) (*model.Company, bool, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	// The conditional lives in the statement, not in a check-then-insert,
	// so concurrent runs can never double-write a company.
	conflictTarget := `(tax_id) WHERE tax_id IS NOT NULL AND tax_id <> ''`
	if c.TaxID == "" {
		conflictTarget = `(legal_name) WHERE legal_name IS NOT NULL AND legal_name <> ''`
		if c.LegalName == "" {
			// No natural key at all. Fall back to the display name to keep
			// re-runs idempotent.
			existing, err := s.FindCompanyByName(ctx, c.Name)
			if err != nil {
				return nil, false, err
			}
			if existing != nil {
				return existing, false, nil
			}
			conflictTarget = ""
		}
	}

	sql := `INSERT INTO companies (` + companyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`
	if conflictTarget != "" {
		sql += ` ON CONFLICT ` + conflictTarget + ` DO NOTHING`
	}

	tag, err := s.pool.Exec(ctx, sql,
		c.ID, c.Name, nullStr(c.LegalName), nullStr(c.TradeName), nullStr(c.TaxID),
		nullStr(c.Sector), nullStr(c.Segment), nullStr(c.BusinessType), nullStr(c.Description),
		nullStr(c.EmployeesEstimate), nullStr(c.RegistrationStatus), nullStr(c.SizeClass),
		nullStr(c.LegalNature), c.FoundedAt, nullStr(c.MainActivity), c.CapitalDeclared,
		nullStr(c.Website), nullStr(c.Phone), nullStr(c.Email), nullStr(c.Address),
		nullStr(c.City), nullStr(c.State), nullStr(c.SourceURL), c.CreatedAt,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: insert company %q", c.Name)
	}
	if tag.RowsAffected() > 0 {
		return &c, true, nil
	}

	// Conflict: hand back the row that won.
	key := c.TaxID
	col := "tax_id"
	if key == "" {
		key = c.LegalName
		col = "legal_name"
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE `+col+` = $1 LIMIT 1`, key)
	existing, err := scanCompany(row)
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: load existing company %q", c.Name)
	}
	return existing, false, nil
}

func (s *PostgresStore) InsertPartners(ctx context.Context, companyID string, partners []model.Partner) error {
	now := time.Now().UTC()
	for _, p := range partners {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO partners (id, company_id, full_name, role, created_at) VALUES ($1, $2, $3, $4, $5)`,
			uuid.New().String(), companyID, p.FullName, nullStr(p.Role), now,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert partner for company %s", companyID)
		}
	}
	return nil
}

func (s *PostgresStore) InsertContact(ctx context.Context, contact model.Contact) (*model.Contact, error) {
	if contact.ID == "" {
		contact.ID = uuid.New().String()
	}
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO contacts (id, company_id, name, role, email, phone, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		contact.ID, contact.CompanyID, contact.Name, nullStr(contact.Role),
		nullStr(contact.Email), nullStr(contact.Phone), contact.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert contact for company %s", contact.CompanyID)
	}
	return &contact, nil
}

func (s *PostgresStore) AppendAuditLog(ctx context.Context, entry model.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, source, tool, status, search_term, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.Source, entry.Tool, entry.Status, nullStr(entry.SearchTerm), entry.CreatedAt,
	)
	return eris.Wrap(err, "postgres: append audit log")
}

func scanCompany(row pgx.Row) (*model.Company, error) {
	var c model.Company
	var legalName, tradeName, taxID, sector, segment, businessType, description *string
	var employees, status, sizeClass, nature, activity *string
	var website, phone, email, address, city, state, sourceURL *string
	var capital *float64

	err := row.Scan(
		&c.ID, &c.Name, &legalName, &tradeName, &taxID, &sector, &segment, &businessType, &description,
		&employees, &status, &sizeClass, &nature, &c.FoundedAt, &activity,
		&capital, &website, &phone, &email, &address, &city, &state, &sourceURL, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.LegalName = deref(legalName)
	c.TradeName = deref(tradeName)
	c.TaxID = deref(taxID)
	c.Sector = deref(sector)
	c.Segment = deref(segment)
	c.BusinessType = deref(businessType)
	c.Description = deref(description)
	c.EmployeesEstimate = deref(employees)
	c.RegistrationStatus = deref(status)
	c.SizeClass = deref(sizeClass)
	c.LegalNature = deref(nature)
	c.MainActivity = deref(activity)
	if capital != nil {
		c.CapitalDeclared = *capital
	}
	c.Website = deref(website)
	c.Phone = deref(phone)
	c.Email = deref(email)
	c.Address = deref(address)
	c.City = deref(city)
	c.State = deref(state)
	c.SourceURL = deref(sourceURL)
	return &c, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
