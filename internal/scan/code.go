// Package scan turns barcode input into verified units on order lines.
package scan

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// unitDigits is the width unit numbers are zero-padded to.
const unitDigits = 4

// SKU: two letters and four digits. Unit: one letter and one to four digits,
// optionally separated from the SKU by '-', '_' or ':'.
var codePattern = regexp.MustCompile(`^([A-Z]{2}\d{4})(?:[-_:]?([A-Z])(\d{1,4}))?$`)

// Code is a parsed barcode.
type Code struct {
	Raw  string
	SKU  string
	Unit string // empty for a bare SKU
}

func (c Code) Bare() bool { return c.Unit == "" }

func (c Code) String() string {
	if c.Bare() {
		return c.SKU
	}
	return c.SKU + "-" + c.Unit
}

// FormatError reports a scan code the operator has to correct.
type FormatError struct {
	Code   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid code %q: %s", e.Code, e.Reason)
}

// ParseCode normalizes a raw scan. Unit numbers are zero-padded, so
// "at0001-a1", "AT0001_A001" and "AT0001:A0001" all yield unit A0001.
func ParseCode(raw string) (Code, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if normalized == "" {
		return Code{}, &FormatError{Code: raw, Reason: "no barcode provided"}
	}

	m := codePattern.FindStringSubmatch(normalized)
	if m == nil {
		return Code{}, &FormatError{
			Code:   raw,
			Reason: "expected AT0001, AT0001-A001 or AT0001-A0001",
		}
	}

	code := Code{Raw: raw, SKU: m[1]}
	if m[2] != "" {
		n, err := strconv.Atoi(m[3])
		if err != nil {
			return Code{}, &FormatError{Code: raw, Reason: err.Error()}
		}
		code.Unit = fmt.Sprintf("%s%0*d", m[2], unitDigits, n)
	}
	return code, nil
}

// UnitExample is the compound form an operator should scan for sku.
func UnitExample(sku string) string {
	return fmt.Sprintf("%s-A%0*d", sku, unitDigits, 1)
}
