// Package sku holds the master data that decides how each SKU is verified
// at the packing station and how many labels and invoices it prints.
package sku

import (
	"fmt"
	"strings"
	"sync"
)

type VerificationType string

const (
	// Compulsory SKUs need every physical unit scanned with its own unit code.
	Compulsory VerificationType = "Compulsory"
	// Loose SKUs are satisfied by repeated scans of the bare SKU.
	Loose VerificationType = "Loose"
)

// DefaultRowKey marks the print count row carrying registry-wide defaults.
const DefaultRowKey = "DEFAULT"

const (
	fallbackLabelCopies   = 1
	fallbackInvoiceCopies = 2
)

// Record is the resolved classification of one SKU.
type Record struct {
	SKU           string           `json:"sku"`
	DisplayName   string           `json:"display_name"`
	Verification  VerificationType `json:"verification_type"`
	NoScanExempt  bool             `json:"no_scan_exempt"`
	LabelCopies   int              `json:"label_copies"`
	InvoiceCopies int              `json:"invoice_copies"`
}

// ParseVerificationType falls back to Loose for anything it does not recognise.
func ParseVerificationType(value string) VerificationType {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "compulsory":
		return Compulsory
	default:
		return Loose
	}
}

// Normalize trims and upper-cases a SKU so lookups are case-insensitive.
func Normalize(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

// Registry indexes SKU records. It loads its tables once and synthesizes
// Loose records for SKUs it has never seen, remembering them afterwards.
type Registry struct {
	loader Loader

	once    sync.Once
	loadErr error

	mu              sync.RWMutex
	records         map[string]*Record
	exempt          map[string]struct{}
	defaultLabels   int
	defaultInvoices int
}

func NewRegistry(loader Loader) *Registry {
	return &Registry{
		loader:          loader,
		records:         make(map[string]*Record),
		exempt:          make(map[string]struct{}),
		defaultLabels:   fallbackLabelCopies,
		defaultInvoices: fallbackInvoiceCopies,
	}
}

// Load reads the master data tables. Only the first call does any work;
// later calls return the first call's result.
func (r *Registry) Load() error {
	r.once.Do(func() {
		if r.loader == nil {
			return
		}
		tables, err := r.loader.LoadTables()
		if err != nil {
			r.loadErr = fmt.Errorf("failed to load sku master data: %w", err)
			return
		}
		r.apply(tables)
	})
	return r.loadErr
}

func (r *Registry) apply(t *Tables) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range t.Classification {
		sku := Normalize(row.SKU)
		if sku == "" {
			continue
		}
		name := strings.TrimSpace(row.DisplayName)
		if rec, ok := r.records[sku]; ok {
			if name != "" {
				rec.DisplayName = name
			}
			rec.Verification = ParseVerificationType(row.Type)
			continue
		}
		if name == "" {
			name = sku
		}
		r.records[sku] = &Record{
			SKU:          sku,
			DisplayName:  name,
			Verification: ParseVerificationType(row.Type),
		}
	}

	for _, raw := range t.Exempt {
		sku := Normalize(raw)
		if sku == "" || strings.HasPrefix(sku, "#") {
			continue
		}
		r.exempt[sku] = struct{}{}
		if rec, ok := r.records[sku]; ok {
			rec.NoScanExempt = true
			continue
		}
		r.records[sku] = &Record{SKU: sku, DisplayName: sku, Verification: Loose, NoScanExempt: true}
	}

	for _, row := range t.PrintCounts {
		sku := Normalize(row.SKU)
		if sku == "" {
			continue
		}
		if sku == DefaultRowKey {
			if row.Labels > 0 {
				r.defaultLabels = row.Labels
			}
			if row.Invoices > 0 {
				r.defaultInvoices = row.Invoices
			}
			continue
		}
		if rec, ok := r.records[sku]; ok {
			rec.LabelCopies = row.Labels
			rec.InvoiceCopies = row.Invoices
			continue
		}
		r.records[sku] = &Record{
			SKU:           sku,
			DisplayName:   sku,
			Verification:  Loose,
			LabelCopies:   row.Labels,
			InvoiceCopies: row.Invoices,
		}
	}

	// records loaded without a print count row pick up the defaults
	for _, rec := range r.records {
		if rec.LabelCopies <= 0 {
			rec.LabelCopies = r.defaultLabels
		}
		if rec.InvoiceCopies <= 0 {
			rec.InvoiceCopies = r.defaultInvoices
		}
	}
}

// Resolve returns the record for sku, creating a Loose record with default
// print counts on first sight of an unknown SKU.
func (r *Registry) Resolve(sku string) *Record {
	key := Normalize(sku)

	r.mu.RLock()
	rec, ok := r.records[key]
	r.mu.RUnlock()
	if ok {
		return rec
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[key]; ok {
		return rec
	}
	_, exempt := r.exempt[key]
	rec = &Record{
		SKU:           key,
		DisplayName:   key,
		Verification:  Loose,
		NoScanExempt:  exempt,
		LabelCopies:   r.defaultLabels,
		InvoiceCopies: r.defaultInvoices,
	}
	r.records[key] = rec
	return rec
}

// IsExempt reports whether sku is excluded from scanning.
func (r *Registry) IsExempt(sku string) bool {
	return r.Resolve(sku).NoScanExempt
}

// PrintCounts returns how many labels and invoices sku prints.
func (r *Registry) PrintCounts(sku string) (labels, invoices int) {
	rec := r.Resolve(sku)

	r.mu.RLock()
	defer r.mu.RUnlock()
	labels, invoices = rec.LabelCopies, rec.InvoiceCopies
	if labels <= 0 {
		labels = r.defaultLabels
	}
	if invoices <= 0 {
		invoices = r.defaultInvoices
	}
	return labels, invoices
}

// Defaults returns the registry-wide label and invoice copy counts.
func (r *Registry) Defaults() (labels, invoices int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultLabels, r.defaultInvoices
}
