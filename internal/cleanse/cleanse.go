package cleanse

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/database"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/logging"
)

// Unknown replaces empty descriptions and countries.
const Unknown = "Unknown"

// Table is the staging table written by this stage.
const Table = "stg_transactions_clean"

// timestampLayouts are the invoice date formats seen in retail exports.
var timestampLayouts = []string{
	"01/02/2006 15:04",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Result holds the outcome of a cleansing run.
type Result struct {
	Read     int
	Written  int
	Rejected int
}

// Cleanser rebuilds staging from the raw landing table.
type Cleanser struct {
	db  *database.DB
	log *zap.Logger
}

// New creates a cleansing stage.
func New(db *database.DB, log *zap.Logger) *Cleanser {
	return &Cleanser{db: db, log: logging.OrNop(log).Named("cleanse")}
}

// Run reads every raw record, validates it and atomically replaces staging.
func (c *Cleanser) Run(ctx context.Context) (*Result, error) {
	raw, err := c.db.LoadRawRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading raw records: %w", err)
	}

	clean, rejected := Cleanse(raw)
	written, err := c.db.ReplaceCleanRecords(ctx, clean)
	if err != nil {
		return nil, fmt.Errorf("replacing staging: %w", err)
	}

	c.log.Info("staging rebuilt",
		zap.Int("read", len(raw)),
		zap.Int("written", written),
		zap.Int("rejected", rejected))
	return &Result{Read: len(raw), Written: written, Rejected: rejected}, nil
}

// Cleanse applies the validation and derivation rules to every raw record
// and returns the accepted rows plus the number rejected.
func Cleanse(raw []database.RawRecord) ([]database.CleanRecord, int) {
	out := make([]database.CleanRecord, 0, len(raw))
	rejected := 0
	for _, r := range raw {
		rec, ok := cleanRecord(r)
		if !ok {
			rejected++
			continue
		}
		out = append(out, rec)
	}
	return out, rejected
}

func cleanRecord(r database.RawRecord) (database.CleanRecord, bool) {
	invoice := trimmed(r.InvoiceNo)
	stock := trimmed(r.StockCode)
	if invoice == "" || stock == "" {
		return database.CleanRecord{}, false
	}
	if r.UnitPrice == nil || *r.UnitPrice <= 0 {
		return database.CleanRecord{}, false
	}
	if r.Quantity == nil || *r.Quantity == 0 {
		return database.CleanRecord{}, false
	}
	ts, ok := ParseTimestamp(trimmed(r.InvoiceDate))
	if !ok {
		return database.CleanRecord{}, false
	}

	qty := *r.Quantity
	price := *r.UnitPrice
	return database.CleanRecord{
		ID:          r.ID,
		InvoiceNo:   invoice,
		StockCode:   stock,
		Description: orUnknown(r.Description),
		Quantity:    qty,
		InvoiceDate: ts,
		UnitPrice:   price,
		CustomerID:  ParseCustomerID(trimmed(r.CustomerID)),
		Country:     orUnknown(r.Country),
		LineTotal:   Round2(float64(qty) * price),
		IsCancelled: strings.HasPrefix(invoice, "C"),
		IsReturn:    qty < 0,
		LoadedAt:    r.LoadedAt,
	}, true
}

// ParseTimestamp parses an invoice timestamp in any accepted layout.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// ParseCustomerID converts an export customer id ("17850" or "17850.0")
// into an integer identity. Empty or malformed values are guests.
func ParseCustomerID(s string) *int64 {
	if s == "" {
		return nil
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &id
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return nil
	}
	id := int64(f)
	return &id
}

// Round2 rounds to cents.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func orUnknown(s *string) string {
	if v := trimmed(s); v != "" {
		return v
	}
	return Unknown
}
