// Package store persists companies, partners, contacts, and the scraping
// audit log. Companies are first-write-wins: re-running a query never
// overwrites an existing record.
package store

import (
	"context"

	"github.com/leadfoundry/leadgen-cli/internal/model"
)

// Store defines the persistence interface for the lead pipeline.
type Store interface {
	// Companies
	FindCompanyByName(ctx context.Context, name string) (*model.Company, error)
	// InsertCompanyIfAbsent writes the company unless one with the same
	// tax id (or legal name, when no tax id is known) already exists.
	// Returns the stored company and whether this call created it.
	InsertCompanyIfAbsent(ctx context.Context, c model.Company) (*model.Company, bool, error)

	// Partners and contacts
	InsertPartners(ctx context.Context, companyID string, partners []model.Partner) error
	InsertContact(ctx context.Context, contact model.Contact) (*model.Contact, error)

	// Audit log, append only
	AppendAuditLog(ctx context.Context, entry model.AuditEntry) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
