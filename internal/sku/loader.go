package sku

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ClassificationRow is one line of the SKU master: sku,display_name,type.
type ClassificationRow struct {
	SKU         string
	DisplayName string
	Type        string
}

// PrintCountRow is one line of the print rules: sku,labels,invoices.
type PrintCountRow struct {
	SKU      string
	Labels   int
	Invoices int
}

// Tables are the three independent master data inputs of a Registry.
type Tables struct {
	Classification []ClassificationRow
	Exempt         []string
	PrintCounts    []PrintCountRow
}

// LoadTables lets in-memory tables act as their own Loader.
func (t *Tables) LoadTables() (*Tables, error) {
	if t == nil {
		return &Tables{}, nil
	}
	return t, nil
}

type Loader interface {
	LoadTables() (*Tables, error)
}

// FileLoader reads master data from .csv or .xlsx files. A path that is
// empty or does not exist yields an empty table.
type FileLoader struct {
	ClassificationPath string
	ExemptionPath      string
	PrintCountPath     string
}

func (l FileLoader) LoadTables() (*Tables, error) {
	var t Tables

	rows, err := readTable(l.ClassificationPath)
	if err != nil {
		return nil, fmt.Errorf("sku master %s: %w", l.ClassificationPath, err)
	}
	for _, row := range rows.records() {
		t.Classification = append(t.Classification, ClassificationRow{
			SKU:         row["sku"],
			DisplayName: row["display_name"],
			Type:        row["type"],
		})
	}

	rows, err = readTable(l.ExemptionPath)
	if err != nil {
		return nil, fmt.Errorf("no-scan list %s: %w", l.ExemptionPath, err)
	}
	for _, line := range rows.firstColumn() {
		if strings.EqualFold(line, "sku") {
			continue
		}
		t.Exempt = append(t.Exempt, line)
	}

	rows, err = readTable(l.PrintCountPath)
	if err != nil {
		return nil, fmt.Errorf("print rules %s: %w", l.PrintCountPath, err)
	}
	for _, row := range rows.records() {
		t.PrintCounts = append(t.PrintCounts, PrintCountRow{
			SKU:      row["sku"],
			Labels:   parseCount(row["labels"]),
			Invoices: parseCount(row["invoices"]),
		})
	}

	return &t, nil
}

// parseCount returns 0 for blank or malformed values so the registry
// substitutes its defaults.
func parseCount(value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

type table [][]string

func readTable(path string) (table, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return readWorkbook(path)
	default:
		return readCSV(path)
	}
}

func readCSV(path string) (table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.Comment = '#'

	var out table
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

// readWorkbook reads the first sheet of a workbook.
func readWorkbook(path string) (table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	return table(rows), nil
}

// records maps rows to their header, like a csv.DictReader.
func (t table) records() []map[string]string {
	if len(t) == 0 {
		return nil
	}
	header := make([]string, len(t[0]))
	for i, h := range t[0] {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}
	out := make([]map[string]string, 0, len(t)-1)
	for _, row := range t[1:] {
		rec := make(map[string]string, len(header))
		for i, key := range header {
			if i < len(row) {
				rec[key] = strings.TrimSpace(row[i])
			}
		}
		out = append(out, rec)
	}
	return out
}

func (t table) firstColumn() []string {
	var out []string
	for _, row := range t {
		if len(row) == 0 {
			continue
		}
		if v := strings.TrimSpace(row[0]); v != "" {
			out = append(out, v)
		}
	}
	return out
}
