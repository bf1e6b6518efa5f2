package ratecatalog

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/xuri/excelize/v2"
)

type field int

const (
	fieldName field = iota
	fieldUnit
	fieldLaborHours
	fieldCode
	fieldMaterial
	fieldEquipment
	fieldUnitPrice
	numFields
)

func (f field) String() string {
	return [...]string{"name", "unit", "labor hours", "code", "material", "equipment", "unit price"}[f]
}

// column synonyms, matched as substrings of folded header names. Fields are
// resolved in declaration order so required columns claim headers first.
var synonyms = [numFields][]string{
	fieldName:       {"nazwa", "opis", "name", "description"},
	fieldUnit:       {"jednostka", "jm", "unit"},
	fieldLaborHours: {"r-g", "rg", "robocz", "labor", "hours"},
	fieldCode:       {"kod", "code", "knr"},
	fieldMaterial:   {"mat", "material"},
	fieldEquipment:  {"sprz", "equip"},
	fieldUnitPrice:  {"cena", "price"},
}

// single-letter headers ("R", "M", "S") are only taken on exact match.
var exactSynonyms = [numFields]string{
	fieldLaborHours: "r",
	fieldMaterial:   "m",
	fieldEquipment:  "s",
}

var requiredFields = []field{fieldName, fieldUnit, fieldLaborHours}

// readTable loads the rows of a catalog file. The format is chosen by
// extension: .xlsx reads the first sheet, .csv sniffs ',' or ';'.
func readTable(path string) (*table, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no catalog path configured", ErrCatalogUnavailable)
	}

	var (
		records [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		records, err = readXLSX(path)
	case ".csv", ".txt":
		records, err = readCSV(path)
	default:
		return nil, fmt.Errorf("%w: unsupported catalog format %q", ErrCatalogUnavailable, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCatalogUnavailable, path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s: empty catalog", ErrCatalogUnavailable, path)
	}

	cols, err := resolveColumns(records[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCatalogUnavailable, path, err)
	}
	return buildTable(records[1:], cols), nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	head, err := br.Peek(4096)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, err
	}
	firstLine, _, _ := strings.Cut(string(head), "\n")

	r := csv.NewReader(br)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	if strings.Count(firstLine, ";") > strings.Count(firstLine, ",") {
		r.Comma = ';'
	}
	return r.ReadAll()
}

// resolveColumns maps fields to header indexes. A field with no substring
// hit falls back to a fuzzy subsequence match of the header against the
// field's synonyms ("jedn" -> "jednostka").
func resolveColumns(header []string) ([numFields]int, error) {
	var cols [numFields]int
	for i := range cols {
		cols[i] = -1
	}

	folded := make([]string, len(header))
	for i, h := range header {
		folded[i] = strings.TrimSpace(fold(strings.TrimPrefix(h, "\ufeff")))
	}
	taken := make([]bool, len(header))

	claim := func(f field, idx int) {
		cols[f] = idx
		taken[idx] = true
	}

	for f := field(0); f < numFields; f++ {
		if exact := exactSynonyms[f]; exact != "" {
			for i, h := range folded {
				if !taken[i] && h == exact {
					claim(f, i)
					break
				}
			}
			if cols[f] >= 0 {
				continue
			}
		}
	search:
		for _, syn := range synonyms[f] {
			for i, h := range folded {
				if !taken[i] && strings.Contains(h, syn) {
					claim(f, i)
					break search
				}
			}
		}
	}

	for f := field(0); f < numFields; f++ {
		if cols[f] >= 0 {
			continue
		}
		for i, h := range folded {
			pattern := normalize(h)
			if taken[i] || len(pattern) < 3 {
				continue
			}
			if matches := fuzzy.Find(pattern, synonyms[f]); len(matches) > 0 {
				claim(f, i)
				break
			}
		}
	}

	var missing []string
	for _, f := range requiredFields {
		if cols[f] < 0 {
			missing = append(missing, f.String())
		}
	}
	if len(missing) > 0 {
		return cols, fmt.Errorf("missing required column(s): %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func buildTable(records [][]string, cols [numFields]int) *table {
	t := &table{}
	for _, rec := range records {
		name := strings.TrimSpace(cell(rec, cols[fieldName]))
		if name == "" {
			continue
		}
		row := Row{
			Code:              strings.TrimSpace(cell(rec, cols[fieldCode])),
			Name:              name,
			Unit:              strings.ToLower(strings.TrimSpace(cell(rec, cols[fieldUnit]))),
			LaborHoursPerUnit: parseNumber(cell(rec, cols[fieldLaborHours])),
			MaterialPerUnit:   parseNumber(cell(rec, cols[fieldMaterial])),
			EquipmentPerUnit:  parseNumber(cell(rec, cols[fieldEquipment])),
			UnitPrice:         parseNumber(cell(rec, cols[fieldUnitPrice])),
		}
		if row.LaborHoursPerUnit != nil && *row.LaborHoursPerUnit < 0 {
			row.LaborHoursPerUnit = nil
		}
		t.rows = append(t.rows, row)
		t.names = append(t.names, normalize(name))
	}
	return t
}

func cell(rec []string, idx int) string {
	if idx < 0 || idx >= len(rec) {
		return ""
	}
	return rec[idx]
}

// parseNumber accepts "1,25", "1.25" and "1 250,5"; anything else is nil.
func parseNumber(s string) *float64 {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(" ", "", "\u00a0", "", ",", ".").Replace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
