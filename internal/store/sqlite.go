package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/leadfoundry/leadgen-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// single-operator runs where a Postgres server is overkill.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id                  TEXT PRIMARY KEY,
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
	founded_at          DATETIME,
	main_activity       TEXT,
	capital_declared    REAL,
	website             TEXT,
	phone               TEXT,
	email               TEXT,
	address             TEXT,
	city                TEXT,
	state               TEXT,
	source_url          TEXT,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_companies_tax_id ON companies(tax_id) WHERE tax_id IS NOT NULL AND tax_id <> '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_companies_legal_name ON companies(legal_name) WHERE legal_name IS NOT NULL AND legal_name <> '';
CREATE INDEX IF NOT EXISTS idx_companies_name ON companies(name);

CREATE TABLE IF NOT EXISTS partners (
	id         TEXT PRIMARY KEY,
	company_id TEXT NOT NULL REFERENCES companies(id),
	full_name  TEXT NOT NULL,
	role       TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_partners_company_id ON partners(company_id);

CREATE TABLE IF NOT EXISTS contacts (
	id         TEXT PRIMARY KEY,
	company_id TEXT NOT NULL REFERENCES companies(id),
	name       TEXT NOT NULL,
	role       TEXT,
	email      TEXT,
	phone      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_contacts_company_id ON contacts(company_id);

CREATE TABLE IF NOT EXISTS audit_log (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	tool        TEXT NOT NULL,
	status      TEXT NOT NULL,
	search_term TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteCompanyColumns = `id, name, legal_name, trade_name, tax_id, sector, segment, business_type, description,
	employees_estimate, registration_status, size_class, legal_nature, founded_at, main_activity,
	capital_declared, website, phone, email, address, city, state, source_url, created_at`

func (s *SQLiteStore) FindCompanyByName(ctx context.Context, name string) (*model.Company, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteCompanyColumns+` FROM companies WHERE name = ? OR legal_name = ? LIMIT 1`,
		name, name,
	)
	c, err := scanSQLiteCompany(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find company %q", name)
	}
	return c, nil
}

func (s *SQLiteStore) InsertCompanyIfAbsent(ctx context.Context, c model.Company) (*model.Company, bool, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	conflictTarget := ""
	switch {
	case c.TaxID != "":
		conflictTarget = ` ON CONFLICT (tax_id) WHERE tax_id IS NOT NULL AND tax_id <> '' DO NOTHING`
	case c.LegalName != "":
		conflictTarget = ` ON CONFLICT (legal_name) WHERE legal_name IS NOT NULL AND legal_name <> '' DO NOTHING`
	default:
		existing, err := s.FindCompanyByName(ctx, c.Name)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (`+sqliteCompanyColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`+conflictTarget,
		c.ID, c.Name, nullStr(c.LegalName), nullStr(c.TradeName), nullStr(c.TaxID),
		nullStr(c.Sector), nullStr(c.Segment), nullStr(c.BusinessType), nullStr(c.Description),
		nullStr(c.EmployeesEstimate), nullStr(c.RegistrationStatus), nullStr(c.SizeClass),
		nullStr(c.LegalNature), c.FoundedAt, nullStr(c.MainActivity), c.CapitalDeclared,
		nullStr(c.Website), nullStr(c.Phone), nullStr(c.Email), nullStr(c.Address),
		nullStr(c.City), nullStr(c.State), nullStr(c.SourceURL), c.CreatedAt,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: insert company %q", c.Name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return &c, true, nil
	}

	key, col := c.TaxID, "tax_id"
	if key == "" {
		key, col = c.LegalName, "legal_name"
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteCompanyColumns+` FROM companies WHERE `+col+` = ? LIMIT 1`, key)
	existing, err := scanSQLiteCompany(row)
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: load existing company %q", c.Name)
	}
	return existing, false, nil
}

func (s *SQLiteStore) InsertPartners(ctx context.Context, companyID string, partners []model.Partner) error {
	now := time.Now().UTC()
	for _, p := range partners {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO partners (id, company_id, full_name, role, created_at) VALUES (?, ?, ?, ?, ?)`,
			uuid.New().String(), companyID, p.FullName, nullStr(p.Role), now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert partner for company %s", companyID)
		}
	}
	return nil
}

func (s *SQLiteStore) InsertContact(ctx context.Context, contact model.Contact) (*model.Contact, error) {
	if contact.ID == "" {
		contact.ID = uuid.New().String()
	}
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (id, company_id, name, role, email, phone, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		contact.ID, contact.CompanyID, contact.Name, nullStr(contact.Role),
		nullStr(contact.Email), nullStr(contact.Phone), contact.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert contact for company %s", contact.CompanyID)
	}
	return &contact, nil
}

func (s *SQLiteStore) AppendAuditLog(ctx context.Context, entry model.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, source, tool, status, search_term, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Source, entry.Tool, entry.Status, nullStr(entry.SearchTerm), entry.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: append audit log")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteCompany(row scannable) (*model.Company, error) {
	var c model.Company
	var legalName, tradeName, taxID, sector, segment, businessType, description sql.NullString
	var employees, status, sizeClass, nature, activity sql.NullString
	var website, phone, email, address, city, state, sourceURL sql.NullString
	var capital sql.NullFloat64
	var founded sql.NullTime

	err := row.Scan(
		&c.ID, &c.Name, &legalName, &tradeName, &taxID, &sector, &segment, &businessType, &description,
		&employees, &status, &sizeClass, &nature, &founded, &activity,
		&capital, &website, &phone, &email, &address, &city, &state, &sourceURL, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.LegalName = legalName.String
	c.TradeName = tradeName.String
	c.TaxID = taxID.String
	c.Sector = sector.String
	c.Segment = segment.String
	c.BusinessType = businessType.String
	c.Description = description.String
	c.EmployeesEstimate = employees.String
	c.RegistrationStatus = status.String
	c.SizeClass = sizeClass.String
	c.LegalNature = nature.String
	c.MainActivity = activity.String
	c.CapitalDeclared = capital.Float64
	c.Website = website.String
	c.Phone = phone.String
	c.Email = email.String
	c.Address = address.String
	c.City = city.String
	c.State = state.String
	c.SourceURL = sourceURL.String
	if founded.Valid {
		t := founded.Time
		c.FoundedAt = &t
	}
	return &c, nil
}
