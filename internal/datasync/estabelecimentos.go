package datasync

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leadfoundry/leadgen-cli/internal/db"
	"github.com/leadfoundry/leadgen-cli/internal/fetcher"
)

// Establishment CSV columns, 0-indexed. The drop ships semicolon-delimited
// latin-1 rows without a header.
const (
	colTaxIDBase    = 0
	colTaxIDOrder   = 1
	colTaxIDCheck   = 2
	colTradeName    = 4
	colStatus       = 5 // 02 = ATIVA
	colFoundedAt    = 10
	colMainActivity = 11
	colStreetType   = 13
	colStreet       = 14
	colNumber       = 15
	colDistrict     = 17
	colState        = 19
	colCity         = 20
	colAreaCode     = 21
	colPhone        = 22
	colEmail        = 27

	minRowWidth = 28
)

// statusActive is the cadastral status of an operating establishment.
const statusActive = "02"

const importBatchSize = 5000

// importColumns are the companies columns filled by the bulk import. The
// id and created_at defaults apply on insert.
var importColumns = []string{
	"name", "trade_name", "tax_id", "sector", "segment", "main_activity",
	"registration_status", "founded_at", "phone", "email",
	"address", "city", "state",
}

// taxIDConflictPredicate matches the partial unique index on tax_id.
const taxIDConflictPredicate = "tax_id IS NOT NULL AND tax_id <> ''"

// rowFilter selects and maps raw establishment rows for one segment.
type rowFilter struct {
	segment Segment
	state   string // empty = all states
}

// match reports whether the raw row belongs to the segment: an active
// establishment with a segment CNAE in the requested state.
func (f rowFilter) match(row []string) bool {
	if len(row) < minRowWidth {
		return false
	}
	if row[colStatus] != statusActive {
		return false
	}
	if !f.segment.CNAEs[row[colMainActivity]] {
		return false
	}
	if f.state != "" && row[colState] != f.state {
		return false
	}
	return true
}

// mapRow converts a matched raw row into companies column values, ordered
// as importColumns.
func (f rowFilter) mapRow(row []string) []any {
	taxID := formatTaxID(row[colTaxIDBase], row[colTaxIDOrder], row[colTaxIDCheck])
	tradeName := strings.TrimSpace(row[colTradeName])

	name := tradeName
	if name == "" {
		name = "CNPJ " + taxID
	}

	var foundedAt any
	if t, err := time.Parse("20060102", row[colFoundedAt]); err == nil {
		foundedAt = t
	}

	return []any{
		name,
		tradeName,
		taxID,
		f.segment.Name,
		f.segment.Name,
		row[colMainActivity],
		"ATIVA",
		foundedAt,
		formatPhone(row[colAreaCode], row[colPhone]),
		strings.ToLower(strings.TrimSpace(row[colEmail])),
		joinAddress(row[colStreetType], row[colStreet], row[colNumber], row[colDistrict]),
		row[colCity],
		row[colState],
	}
}

// formatTaxID assembles the 14-digit tax id from its three parts, zero
// padded to 8+4+2.
func formatTaxID(base, order, check string) string {
	return fmt.Sprintf("%08s%04s%02s", base, order, check)
}

// formatPhone renders "(dd) nnnn-nnnn" when both parts are present.
func formatPhone(areaCode, number string) string {
	areaCode = strings.TrimSpace(areaCode)
	number = strings.TrimSpace(number)
	if areaCode == "" || number == "" {
		return ""
	}
	if len(number) >= 8 {
		return fmt.Sprintf("(%s) %s-%s", areaCode, number[:len(number)-4], number[len(number)-4:])
	}
	return fmt.Sprintf("(%s) %s", areaCode, number)
}

func joinAddress(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

// importFile streams one extracted establishment CSV into companies,
// keeping only rows matching the filter. Returns rows written; rows whose
// tax id already exists are left untouched.
func importFile(ctx context.Context, pool db.Pool, path string, filter rowFilter) (int64, error) {
	log := zap.L().With(zap.String("segment", filter.segment.Name), zap.String("file", path))

	file, err := os.Open(path)
	if err != nil {
		return 0, eris.Wrap(err, "datasync: open csv")
	}
	defer file.Close() //nolint:errcheck

	rowCh, errCh := fetcher.StreamCSV(ctx, file, fetcher.CSVOptions{
		Delimiter:  ';',
		Latin1:     true,
		LazyQuotes: true,
	})

	cfg := db.InsertConfig{
		Table:         "companies",
		Columns:       importColumns,
		ConflictKeys:  []string{"tax_id"},
		ConflictWhere: taxIDConflictPredicate,
	}

	var batch [][]any
	var total int64
	var scanned int64

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := db.BulkInsertIfAbsent(ctx, pool, cfg, batch)
		if err != nil {
			return eris.Wrap(err, "datasync: bulk insert")
		}
		total += n
		batch = batch[:0]
		return nil
	}

	for row := range rowCh {
		scanned++
		if scanned%500000 == 0 {
			log.Info("scanning", zap.Int64("rows", scanned), zap.Int64("imported", total))
		}
		if !filter.match(row) {
			continue
		}
		batch = append(batch, filter.mapRow(row))
		if len(batch) >= importBatchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := <-errCh; err != nil {
		return total, eris.Wrap(err, "datasync: stream csv")
	}
	if err := flush(); err != nil {
		return total, err
	}

	log.Info("file imported", zap.Int64("scanned", scanned), zap.Int64("imported", total))
	return total, nil
}
