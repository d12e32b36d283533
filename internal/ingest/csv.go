package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/cleanse"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/database"
)

// Columns are the header names of a retail export.
var Columns = []string{
	"InvoiceNo", "StockCode", "Description", "Quantity",
	"InvoiceDate", "UnitPrice", "CustomerID", "Country",
}

// CSVSource reads RawRecords from a CSV export with a header row.
// Columns are matched by name, case-insensitively, in any order.
type CSVSource struct {
	r     *csv.Reader
	index map[string]int
	width int
}

// NewCSVSource reads the header and checks every expected column is present.
func NewCSVSource(r io.Reader) (*CSVSource, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty export: missing header")
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, c := range Columns {
		if _, ok := index[strings.ToLower(c)]; !ok {
			return nil, fmt.Errorf("missing column %q in header", c)
		}
	}
	return &CSVSource{r: cr, index: index, width: len(header)}, nil
}

// Next returns the next record. Rows whose field count differs from the
// header are reported as ErrMalformed.
func (s *CSVSource) Next() (database.RawRecord, error) {
	row, err := s.r.Read()
	if err == io.EOF {
		return database.RawRecord{}, io.EOF
	}
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return database.RawRecord{}, fmt.Errorf("line %d: %v: %w", perr.Line, perr.Err, ErrMalformed)
	}
	if err != nil {
		return database.RawRecord{}, err
	}
	if len(row) != s.width {
		line, _ := s.r.FieldPos(0)
		return database.RawRecord{}, fmt.Errorf("line %d: %d fields, want %d: %w", line, len(row), s.width, ErrMalformed)
	}

	field := func(name string) *string {
		v := strings.TrimSpace(row[s.index[strings.ToLower(name)]])
		if v == "" {
			return nil
		}
		return &v
	}
	return database.RawRecord{
		InvoiceNo:   field("InvoiceNo"),
		StockCode:   field("StockCode"),
		Description: field("Description"),
		Quantity:    parseQuantity(field("Quantity")),
		InvoiceDate: normalizeTimestamp(field("InvoiceDate")),
		UnitPrice:   parsePrice(field("UnitPrice")),
		CustomerID:  field("CustomerID"),
		Country:     field("Country"),
	}, nil
}

// parseQuantity accepts integers and integral decimals such as "6.0".
func parseQuantity(s *string) *int {
	if s == nil {
		return nil
	}
	if n, err := strconv.Atoi(*s); err == nil {
		return &n
	}
	f, err := strconv.ParseFloat(*s, 64)
	if err != nil || f != math.Trunc(f) {
		return nil
	}
	n := int(f)
	return &n
}

func parsePrice(s *string) *float64 {
	if s == nil {
		return nil
	}
	f, err := strconv.ParseFloat(*s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// normalizeTimestamp rewrites recognised timestamps into the warehouse
// layout and keeps anything else verbatim for cleansing to reject.
func normalizeTimestamp(s *string) *string {
	if s == nil {
		return nil
	}
	t, ok := cleanse.ParseTimestamp(*s)
	if !ok {
		return s
	}
	v := t.Format(database.TimeLayout)
	return &v
}
