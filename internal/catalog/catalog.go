// Package catalog loads the product catalog and customer order history that
// feed the agent's system prompt.
//
// Both inputs are CSV exports. Rows that cannot be parsed are skipped with a
// warning, and a missing file yields empty data rather than an error so that
// a call can still be bridged with a generic prompt.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// StatusActive is the catalog status of products that may be offered.
const StatusActive = "ACTIVE"

// Product is one sellable catalog item. JSON field names follow the CSV
// headers because the prompt shows them to the model verbatim.
type Product struct {
	SKU         string  `json:"sku"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	SubCategory string  `json:"subCategory"`
	Brand       string  `json:"brand"`
	PackOf      string  `json:"packOf"`
	MRP         float64 `json:"MRP"`
	PTR         float64 `json:"PTR"`
	Status      string  `json:"status"`
}

// LoadProducts reads the catalog CSV at path and returns the active products
// in file order. A missing file returns no products and no error.
func LoadProducts(path string) ([]Product, error) {
	f, err := open(path, "catalog")
	if f == nil {
		return nil, err
	}
	defer f.Close()
	return ReadProducts(f)
}

// ReadProducts parses catalog CSV from r. Only rows with a SKU and status
// ACTIVE (case-insensitive) are returned.
func ReadProducts(r io.Reader) ([]Product, error) {
	rows, err := readTable(r)
	if err != nil {
		return nil, fmt.Errorf("catalog: read products: %w", err)
	}

	var out []Product
	for i, row := range rows {
		p, err := parseProduct(row)
		if err != nil {
			slog.Warn("catalog: skipping product row", "row", i+2, "err", err)
			continue
		}
		if p.SKU == "" || !strings.EqualFold(p.Status, StatusActive) {
			continue
		}
		out = append(out, p)
	}
	slog.Info("catalog loaded", "active_products", len(out), "rows", len(rows))
	return out, nil
}

func parseProduct(row record) (Product, error) {
	mrp, err := parsePrice(row.get("MRP"))
	if err != nil {
		return Product{}, fmt.Errorf("MRP: %w", err)
	}
	ptr, err := parsePrice(row.get("PTR"))
	if err != nil {
		return Product{}, fmt.Errorf("PTR: %w", err)
	}
	return Product{
		SKU:         row.get("sku"),
		Name:        row.get("name"),
		Category:    row.get("category"),
		SubCategory: row.get("subCategory"),
		Brand:       row.get("brand"),
		PackOf:      row.get("packOf"),
		MRP:         mrp,
		PTR:         ptr,
		Status:      row.get("status"),
	}, nil
}

// parsePrice accepts an empty cell as zero.
func parsePrice(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// record is one CSV data row keyed by trimmed header.
type record map[string]string

func (r record) get(col string) string { return r[col] }

// readTable reads a headed CSV into records. Header cells and values are
// trimmed. Rows may have fewer or more fields than the header.
func readTable(r io.Reader) ([]record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var rows []record
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				slog.Warn("catalog: skipping malformed csv line", "line", perr.Line, "err", perr.Err)
				continue
			}
			return nil, err
		}
		rec := make(record, len(header))
		for i, v := range fields {
			if i < len(header) {
				rec[header[i]] = strings.TrimSpace(v)
			}
		}
		rows = append(rows, rec)
	}
}

// open opens path, treating a missing file as empty data. It returns a nil
// file in that case.
func open(path, what string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("catalog: file not found, continuing without it", "kind", what, "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s %q: %w", what, path, err)
	}
	return f, nil
}
