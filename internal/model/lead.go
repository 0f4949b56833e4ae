package model

import "time"

// BusinessType is the commercial orientation of a company.
type BusinessType string

const (
	BusinessTypeB2B  BusinessType = "B2B"
	BusinessTypeB2C  BusinessType = "B2C"
	BusinessTypeBoth BusinessType = "Both"
)

// Partner is a registered company partner (quadro societário entry).
type Partner struct {
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// Lead is the unit of work flowing through the pipeline. It starts as a bare
// listing (name + source URL) and accumulates enrichment fields stage by
// stage. Field precedence when stages disagree: registry > classifier >
// listing.
type Lead struct {
	// From the listing feed.
	Name      string `json:"name"`
	SourceURL string `json:"source_url,omitempty"`

	// From the detail page or website.
	Address string `json:"address,omitempty"`
	Website string `json:"website,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`

	// From the classifier.
	Sector            string       `json:"sector,omitempty"`
	BusinessType      BusinessType `json:"business_type,omitempty"`
	Description       string       `json:"description,omitempty"`
	EmployeesEstimate string       `json:"employees_estimate,omitempty"`

	// From the CNPJ registry.
	TaxID              string     `json:"tax_id,omitempty"`
	LegalName          string     `json:"legal_name,omitempty"`
	TradeName          string     `json:"trade_name,omitempty"`
	RegistrationStatus string     `json:"registration_status,omitempty"`
	SizeClass          string     `json:"size_class,omitempty"`
	LegalNature        string     `json:"legal_nature,omitempty"`
	FoundedAt          *time.Time `json:"founded_at,omitempty"`
	MainActivity       string     `json:"main_activity,omitempty"`
	CapitalDeclared    float64    `json:"capital_declared,omitempty"`
	City               string     `json:"city,omitempty"`
	State              string     `json:"state,omitempty"`
	FullAddress        string     `json:"full_address,omitempty"`
	Partners           []Partner  `json:"partners,omitempty"`
}

// RegistryRecord is an authoritative CNPJ registry answer.
type RegistryRecord struct {
	TaxID              string
	LegalName          string
	TradeName          string
	RegistrationStatus string
	SizeClass          string
	LegalNature        string
	FoundedAt          *time.Time
	MainActivity       string
	CapitalDeclared    float64
	Phone              string
	Email              string
	Street             string
	Number             string
	Complement         string
	District           string
	City               string
	State              string
	PostalCode         string
	Partners           []Partner
}

// FullAddress joins the registry address parts into a single display line.
func (r *RegistryRecord) FullAddress() string {
	parts := make([]string, 0, 6)
	for _, p := range []string{r.Street, r.Number, r.Complement, r.District, r.City, r.State} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// ApplyRegistry merges an authoritative registry record into the lead.
// Registry fields win over anything gathered earlier, and the address block
// is replaced wholesale so street/city/state never mix sources.
func (l *Lead) ApplyRegistry(rec *RegistryRecord) {
	if rec == nil {
		return
	}
	l.TaxID = rec.TaxID
	l.LegalName = rec.LegalName
	l.TradeName = rec.TradeName
	l.RegistrationStatus = rec.RegistrationStatus
	l.SizeClass = rec.SizeClass
	l.LegalNature = rec.LegalNature
	l.FoundedAt = rec.FoundedAt
	l.MainActivity = rec.MainActivity
	l.CapitalDeclared = rec.CapitalDeclared
	l.City = rec.City
	l.State = rec.State
	l.FullAddress = rec.FullAddress()
	if l.FullAddress != "" {
		l.Address = l.FullAddress
	}
	if rec.Phone != "" {
		l.Phone = rec.Phone
	}
	if rec.Email != "" {
		l.Email = rec.Email
	}
	if len(rec.Partners) > 0 {
		l.Partners = append([]Partner(nil), rec.Partners...)
	}
}

// Classification is the structured answer from the sector classifier.
type Classification struct {
	Sector            string `json:"sector"`
	BusinessType      string `json:"business_type"`
	Description       string `json:"description"`
	EmployeesEstimate string `json:"employees_estimate"`
}

// ApplyClassification merges a classifier answer into the lead. Classifier
// fields fill their own slots only; they never touch registry-owned fields.
func (l *Lead) ApplyClassification(c *Classification) {
	if c == nil {
		return
	}
	if c.Sector != "" {
		l.Sector = c.Sector
	}
	switch BusinessType(c.BusinessType) {
	case BusinessTypeB2B, BusinessTypeB2C, BusinessTypeBoth:
		l.BusinessType = BusinessType(c.BusinessType)
	}
	if c.Description != "" {
		l.Description = c.Description
	}
	if c.EmployeesEstimate != "" {
		l.EmployeesEstimate = c.EmployeesEstimate
	}
}

// ContactInfo is the result of the website contact cascade.
type ContactInfo struct {
	Email string
	Phone string
}

// ApplyContacts fills email and phone from the website cascade without
// overwriting values already supplied by the registry.
func (l *Lead) ApplyContacts(c ContactInfo) {
	if l.Email == "" && c.Email != "" {
		l.Email = c.Email
	}
	if l.Phone == "" && c.Phone != "" {
		l.Phone = c.Phone
	}
}

// RunSummary reports what a pipeline run accomplished.
type RunSummary struct {
	Query        string    `json:"query"`
	Scraped      int       `json:"scraped"`
	NewCompanies int       `json:"new_companies"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}
