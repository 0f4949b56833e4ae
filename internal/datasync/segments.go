// Package datasync imports the Receita Federal open-data establishment
// drops into the companies table: download, extract, CNAE segment filter,
// and COPY-based conditional insert, with every run recorded in sync_log.
package datasync

import (
	"sort"

	"github.com/rotisserie/eris"
)

// segmentCNAEs maps a market segment to its primary CNAE activity codes.
var segmentCNAEs = map[string][]string{
	"restaurantes":     {"5611201", "5611202", "5611203"},
	"padarias":         {"1091101", "4721102"},
	"advocacia":        {"6911701", "6911702"},
	"contabilidade":    {"6920601", "6920602"},
	"clinicas_medicas": {"8630501", "8630502", "8630503"},
	"saloes_beleza":    {"9602501", "9602502"},
	"academias":        {"9313100"},
	"imobiliarias":     {"6821801", "6821802"},
	"marketing":        {"7311400", "7312200"},
	"tecnologia":       {"6201501", "6201502", "6202300", "6203100"},
}

// Segment is a named CNAE filter.
type Segment struct {
	Name  string
	CNAEs map[string]bool
}

// SegmentFor resolves a segment name to its CNAE set.
func SegmentFor(name string) (Segment, error) {
	codes, ok := segmentCNAEs[name]
	if !ok {
		return Segment{}, eris.Errorf("datasync: unknown segment %q (valid: %v)", name, SegmentNames())
	}
	set := make(map[string]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return Segment{Name: name, CNAEs: set}, nil
}

// SegmentNames lists the known segments, sorted.
func SegmentNames() []string {
	names := make([]string, 0, len(segmentCNAEs))
	for name := range segmentCNAEs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
