package fact

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/database"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/dimension"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/logging"
)

// Table is the fact table written by this stage.
const Table = "fact_sales"

// ErrUnresolvedKey is returned when a staging line has no product or
// country in the dimensions, usually because they were not refreshed first.
var ErrUnresolvedKey = errors.New("unresolved dimension key")

// Keys is a snapshot of the dimension lookups used to resolve facts.
type Keys struct {
	Countries map[string]int64
	Products  map[string]int64
	Customers map[int64]int64
}

// Refresher rebuilds fact_sales from staging and the current dimensions.
type Refresher struct {
	db  *database.DB
	log *zap.Logger
}

// New creates a fact refresher.
func New(db *database.DB, log *zap.Logger) *Refresher {
	return &Refresher{db: db, log: logging.OrNop(log).Named("fact")}
}

// Run resolves every staging line and replaces the fact table.
func (r *Refresher) Run(ctx context.Context) (int, error) {
	clean, err := r.db.LoadCleanRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading staging: %w", err)
	}
	keys, err := r.loadKeys(ctx)
	if err != nil {
		return 0, err
	}

	facts, err := Resolve(clean, keys)
	if err != nil {
		return 0, err
	}
	n, err := r.db.ReplaceFactSales(ctx, facts)
	if err != nil {
		return 0, fmt.Errorf("replacing facts: %w", err)
	}

	guests := 0
	for _, f := range facts {
		if f.CustomerKey == nil {
			guests++
		}
	}
	r.log.Info("facts rebuilt", zap.String("table", Table), zap.Int("rows", n), zap.Int("guest_lines", guests))
	return n, nil
}

func (r *Refresher) loadKeys(ctx context.Context) (Keys, error) {
	var k Keys
	var err error
	if k.Countries, err = r.db.CountryKeys(ctx); err != nil {
		return k, fmt.Errorf("loading country keys: %w", err)
	}
	if k.Products, err = r.db.ProductKeys(ctx); err != nil {
		return k, fmt.Errorf("loading product keys: %w", err)
	}
	if k.Customers, err = r.db.CustomerKeys(ctx); err != nil {
		return k, fmt.Errorf("loading customer keys: %w", err)
	}
	return k, nil
}

// Resolve maps staging lines to fact rows. Sales keys follow staging order
// starting at 1. A missing customer yields a guest fact; a missing product
// or country is an error.
func Resolve(clean []database.CleanRecord, keys Keys) ([]database.FactSale, error) {
	facts := make([]database.FactSale, 0, len(clean))
	for i, c := range clean {
		product, ok := keys.Products[c.StockCode]
		if !ok {
			return nil, fmt.Errorf("line %d product %q: %w", c.ID, c.StockCode, ErrUnresolvedKey)
		}
		country, ok := keys.Countries[c.Country]
		if !ok {
			return nil, fmt.Errorf("line %d country %q: %w", c.ID, c.Country, ErrUnresolvedKey)
		}

		var customer *int64
		if c.CustomerID != nil {
			if key, ok := keys.Customers[*c.CustomerID]; ok {
				customer = &key
			}
		}

		facts = append(facts, database.FactSale{
			SalesKey:    int64(i + 1),
			InvoiceNo:   c.InvoiceNo,
			DateKey:     dimension.DateKey(c.InvoiceDate),
			CustomerKey: customer,
			ProductKey:  product,
			CountryKey:  country,
			Quantity:    c.Quantity,
			UnitPrice:   c.UnitPrice,
			LineTotal:   c.LineTotal,
			IsCancelled: c.IsCancelled,
			IsReturn:    c.IsReturn,
			InvoiceDate: c.InvoiceDate.Format(database.TimeLayout),
		})
	}
	return facts, nil
}
