// Package export writes merged lead sets to CSV or XLSX files.
package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/leadfoundry/leadgen-cli/internal/model"
)

// header lists the exported columns in order.
var header = []string{
	"name", "legal_name", "trade_name", "tax_id",
	"sector", "business_type", "description", "employees_estimate",
	"registration_status", "size_class", "legal_nature",
	"main_activity", "website", "phone", "email",
	"address", "city", "state", "source_url",
}

// Write exports leads to path, picking the format from the extension.
func Write(path string, leads []model.Lead) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return WriteCSV(path, leads)
	case ".xlsx":
		return WriteXLSX(path, leads)
	default:
		return eris.Errorf("export: unsupported format %q (use .csv or .xlsx)", filepath.Ext(path))
	}
}

// WriteCSV writes the leads as UTF-8 CSV with a header row.
func WriteCSV(path string, leads []model.Lead) error {
	file, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create csv")
	}
	defer file.Close() //nolint:errcheck

	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for i := range leads {
		if err := w.Write(leadRow(&leads[i])); err != nil {
			return eris.Wrapf(err, "export: write row for %q", leads[i].Name)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "export: flush csv")
	}
	return nil
}

// WriteXLSX writes the leads to a single-sheet workbook.
func WriteXLSX(path string, leads []model.Lead) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Leads")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	headerRow := sheet.AddRow()
	for _, col := range header {
		headerRow.AddCell().Value = col
	}

	for i := range leads {
		row := sheet.AddRow()
		for _, val := range leadRow(&leads[i]) {
			row.AddCell().Value = val
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "export: save xlsx")
	}
	return nil
}

func leadRow(l *model.Lead) []string {
	address := l.FullAddress
	if address == "" {
		address = l.Address
	}
	return []string{
		l.Name, l.LegalName, l.TradeName, l.TaxID,
		l.Sector, string(l.BusinessType), l.Description, l.EmployeesEstimate,
		l.RegistrationStatus, l.SizeClass, l.LegalNature,
		l.MainActivity, l.Website, l.Phone, l.Email,
		address, l.City, l.State, l.SourceURL,
	}
}
