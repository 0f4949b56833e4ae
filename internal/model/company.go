package model

import "time"

// Company is a persisted company row.
type Company struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	LegalName          string     `json:"legal_name,omitempty"`
	TradeName          string     `json:"trade_name,omitempty"`
	TaxID              string     `json:"tax_id,omitempty"`
	Sector             string     `json:"sector,omitempty"`
	Segment            string     `json:"segment,omitempty"`
	BusinessType       string     `json:"business_type,omitempty"`
	Description        string     `json:"description,omitempty"`
	EmployeesEstimate  string     `json:"employees_estimate,omitempty"`
	RegistrationStatus string     `json:"registration_status,omitempty"`
	SizeClass          string     `json:"size_class,omitempty"`
	LegalNature        string     `json:"legal_nature,omitempty"`
	FoundedAt          *time.Time `json:"founded_at,omitempty"`
	MainActivity       string     `json:"main_activity,omitempty"`
	CapitalDeclared    float64    `json:"capital_declared,omitempty"`
	Website            string     `json:"website,omitempty"`
	Phone              string     `json:"phone,omitempty"`
	Email              string     `json:"email,omitempty"`
	Address            string     `json:"address,omitempty"`
	City               string     `json:"city,omitempty"`
	State              string     `json:"state,omitempty"`
	SourceURL          string     `json:"source_url,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// CompanyFromLead builds a persistable company from a merged lead.
func CompanyFromLead(l *Lead) Company {
	return Company{
		Name:               l.Name,
		LegalName:          l.LegalName,
		TradeName:          l.TradeName,
		TaxID:              l.TaxID,
		Sector:             l.Sector,
		BusinessType:       string(l.BusinessType),
		Description:        l.Description,
		EmployeesEstimate:  l.EmployeesEstimate,
		RegistrationStatus: l.RegistrationStatus,
		SizeClass:          l.SizeClass,
		LegalNature:        l.LegalNature,
		FoundedAt:          l.FoundedAt,
		MainActivity:       l.MainActivity,
		CapitalDeclared:    l.CapitalDeclared,
		Website:            l.Website,
		Phone:              l.Phone,
		Email:              l.Email,
		Address:            l.Address,
		City:               l.City,
		State:              l.State,
		SourceURL:          l.SourceURL,
	}
}

// Contact is a persisted contact row. Each new company gets a general
// contact stub so outreach lists always have a row to address.
type Contact struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Name      string    `json:"name"`
	Role      string    `json:"role,omitempty"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// GeneralContactName is the placeholder name used when no named person is
// known for a company.
const GeneralContactName = "Contato Geral"

// AuditEntry is one append-only audit log row.
type AuditEntry struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Tool       string    `json:"tool"`
	Status     string    `json:"status"`
	SearchTerm string    `json:"search_term"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditStatusSuccess marks a run that reached persistence cleanly.
const AuditStatusSuccess = "success"

// auditStatusMaxLen caps the status column; driver errors can run long.
const auditStatusMaxLen = 50

// AuditFailureStatus renders a run failure as an audit outcome,
// "error: <message>" truncated to a scannable length.
func AuditFailureStatus(err error) string {
	s := "error: " + err.Error()
	if len(s) > auditStatusMaxLen {
		s = s[:auditStatusMaxLen]
	}
	return s
}
