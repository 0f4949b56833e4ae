// Package pipeline orchestrates a full lead run: acquisition, optional
// classification, optional deep registry/contact enrichment, merge, and
// persistence with an audit trail.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leadfoundry/leadgen-cli/internal/classify"
	"github.com/leadfoundry/leadgen-cli/internal/model"
	"github.com/leadfoundry/leadgen-cli/internal/store"
)

// maxClassifyConcurrency bounds the classification fan-out.
const maxClassifyConcurrency = 4

// auditTool is the tool name recorded in the audit log.
const auditTool = "leadgen-cli"

// Acquirer produces raw leads for a query.
type Acquirer interface {
	Acquire(ctx context.Context, query string, limit int) ([]model.Lead, error)
}

// Locator resolves a business name to a registry tax id.
type Locator interface {
	Locate(ctx context.Context, name, city string) (string, error)
}

// RegistryFetcher fetches the authoritative registry record for a tax id.
type RegistryFetcher interface {
	Fetch(ctx context.Context, taxID string) (*model.RegistryRecord, error)
}

// ContactExtractor pulls contact channels from a website.
type ContactExtractor interface {
	Extract(ctx context.Context, url string) (model.ContactInfo, error)
}

// Classifier classifies a lead from its website. A nil classification means
// the lead was skipped.
type Classifier interface {
	Classify(ctx context.Context, lead *model.Lead) (*model.Classification, error)
	Enabled() bool
}

// Job describes one pipeline invocation.
type Job struct {
	Query string
	City  string
	Limit int

	// Segment is the market segment this run targets; it is stamped on
	// every company the run creates.
	Segment string

	// Source labels where the leads came from in the audit log.
	Source string

	SkipClassification bool
	DeepEnrich         bool
}

// Result is what a run produced.
type Result struct {
	Summary model.RunSummary
	Leads   []model.Lead
}

// Pipeline wires the stages together.
type Pipeline struct {
	acquirer   Acquirer
	classifier Classifier
	locator    Locator
	registry   RegistryFetcher
	contacts   ContactExtractor
	store      store.Store
}

// New creates a Pipeline. locator, registry, and contacts may be nil when
// deep enrichment is never requested.
func New(acquirer Acquirer, classifier Classifier, locator Locator, registry RegistryFetcher, contacts ContactExtractor, st store.Store) *Pipeline {
	if classifier == nil {
		classifier = classify.NewClassifier(nil, "", 0, nil)
	}
	return &Pipeline{
		acquirer:   acquirer,
		classifier: classifier,
		locator:    locator,
		registry:   registry,
		contacts:   contacts,
		store:      st,
	}
}

// Run executes the job. Per-lead stage failures are absorbed; the only
// run-fatal outcome is a persistence failure, which still leaves an audit
// failure entry behind.
func (p *Pipeline) Run(ctx context.Context, job Job) (*Result, error) {
	started := time.Now().UTC()
	logger := zap.L().With(zap.String("query", job.Query))

	// The audit log is append-only: a success entry opens the run, and a
	// second entry with the error is appended if persistence fails.
	entry := model.AuditEntry{
		Source:     job.Source,
		Tool:       auditTool,
		Status:     model.AuditStatusSuccess,
		SearchTerm: job.Query,
	}
	if auditErr := p.store.AppendAuditLog(ctx, entry); auditErr != nil {
		logger.Error("audit log append failed", zap.Error(auditErr))
	}

	leads, err := p.trackPhase(logger, "acquire", func() ([]model.Lead, error) {
		return p.acquirer.Acquire(ctx, job.Query, job.Limit)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: acquire %q", job.Query)
	}
	logger.Info("acquisition complete", zap.Int("leads", len(leads)))

	if !job.SkipClassification && p.classifier.Enabled() {
		p.classifyAll(ctx, logger, leads)
	}

	if job.DeepEnrich {
		p.deepEnrich(ctx, logger, leads, job.City)
	}

	newCompanies, persistErr := p.persist(ctx, logger, leads, job.Segment)
	if persistErr != nil {
		failed := entry
		failed.Status = model.AuditFailureStatus(persistErr)
		if auditErr := p.store.AppendAuditLog(ctx, failed); auditErr != nil {
			logger.Error("audit log append failed", zap.Error(auditErr))
		}
		return nil, eris.Wrap(persistErr, "pipeline: persist")
	}

	return &Result{
		Summary: model.RunSummary{
			Query:        job.Query,
			Scraped:      len(leads),
			NewCompanies: newCompanies,
			StartedAt:    started,
			FinishedAt:   time.Now().UTC(),
		},
		Leads: leads,
	}, nil
}

// classifyAll fans classification out over the leads. Failures are absorbed
// per lead.
func (p *Pipeline) classifyAll(ctx context.Context, logger *zap.Logger, leads []model.Lead) {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxClassifyConcurrency)

	for i := range leads {
		g.Go(func() error {
			cls, err := p.classifier.Classify(gCtx, &leads[i])
			if err != nil {
				logger.Warn("classification skipped",
					zap.String("lead", leads[i].Name),
					zap.Error(err),
				)
				return nil
			}
			leads[i].ApplyClassification(cls)
			return nil
		})
	}
	_ = g.Wait()
}

// deepEnrich runs the website contact cascade and then resolves registry
// records, sequentially per lead. Contacts go first so the cascade fills
// email/phone from the company's own pages; a later registry hit still
// overwrites them. The registry path is serialized behind a strict rate
// limit, so there is nothing to gain from fanning out here.
func (p *Pipeline) deepEnrich(ctx context.Context, logger *zap.Logger, leads []model.Lead, city string) {
	for i := range leads {
		lead := &leads[i]

		if p.contacts != nil && (lead.Email == "" || lead.Phone == "") {
			// Listings rarely carry a real website, the detail link is the
			// fallback target for the cascade.
			target := lead.Website
			if target == "" {
				target = lead.SourceURL
			}
			if target != "" {
				info, err := p.contacts.Extract(ctx, target)
				if err != nil {
					logger.Warn("contact extraction failed",
						zap.String("lead", lead.Name),
						zap.String("url", target),
						zap.Error(err),
					)
				} else {
					lead.ApplyContacts(info)
				}
			}
		}

		if p.locator != nil && p.registry != nil && lead.TaxID == "" {
			taxID, err := p.locator.Locate(ctx, lead.Name, city)
			if err != nil {
				logger.Warn("registry lookup skipped",
					zap.String("lead", lead.Name),
					zap.Error(err),
				)
			} else {
				rec, err := p.registry.Fetch(ctx, taxID)
				if err != nil {
					logger.Warn("registry fetch failed",
						zap.String("lead", lead.Name),
						zap.String("tax_id", taxID),
						zap.Error(err),
					)
				} else {
					lead.ApplyRegistry(rec)
				}
			}
		}
	}
}

// persist writes the merged leads, first write wins. Returns how many
// companies were newly created, or the first write error.
func (p *Pipeline) persist(ctx context.Context, logger *zap.Logger, leads []model.Lead, segment string) (int, error) {
	created := 0
	for i := range leads {
		lead := &leads[i]

		company := model.CompanyFromLead(lead)
		company.Segment = segment

		stored, isNew, err := p.store.InsertCompanyIfAbsent(ctx, company)
		if err != nil {
			return created, eris.Wrapf(err, "company %q", lead.Name)
		}
		if !isNew {
			logger.Debug("company already known", zap.String("lead", lead.Name))
			continue
		}
		created++

		if len(lead.Partners) > 0 {
			if err := p.store.InsertPartners(ctx, stored.ID, lead.Partners); err != nil {
				return created, eris.Wrapf(err, "partners for %q", lead.Name)
			}
		}

		// The general-contact stub only earns a row when the run actually
		// found a channel to reach the company by.
		if lead.Phone == "" && lead.Email == "" && lead.Website == "" {
			continue
		}
		if _, err := p.store.InsertContact(ctx, model.Contact{
			CompanyID: stored.ID,
			Name:      model.GeneralContactName,
			Email:     lead.Email,
			Phone:     lead.Phone,
		}); err != nil {
			return created, eris.Wrapf(err, "contact for %q", lead.Name)
		}
	}
	return created, nil
}

// trackPhase runs fn and logs its duration under the phase name.
func (p *Pipeline) trackPhase(logger *zap.Logger, phase string, fn func() ([]model.Lead, error)) ([]model.Lead, error) {
	start := time.Now()
	out, err := fn()
	logger.Debug("phase finished",
		zap.String("phase", phase),
		zap.Duration("took", time.Since(start)),
	)
	return out, err
}
