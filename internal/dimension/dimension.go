package dimension

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/cleanse"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/database"
	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/logging"
)

// Dimension table names.
const (
	DateTable     = "dim_date"
	CountryTable  = "dim_country"
	ProductTable  = "dim_product"
	CustomerTable = "dim_customer"
)

// Refresher recomputes dimension aggregates from the staging set.
type Refresher struct {
	db  *database.DB
	log *zap.Logger
}

// New creates a dimension refresher.
func New(db *database.DB, log *zap.Logger) *Refresher {
	return &Refresher{db: db, log: logging.OrNop(log).Named("dimension")}
}

// RefreshCountries rebuilds the country aggregates and inserts new countries.
func (r *Refresher) RefreshCountries(ctx context.Context) (int, error) {
	clean, err := r.db.LoadCleanRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading staging: %w", err)
	}
	n, err := r.db.UpsertCountries(ctx, BuildCountries(clean))
	if err != nil {
		return 0, fmt.Errorf("upserting countries: %w", err)
	}
	r.log.Info("dimension refreshed", zap.String("table", CountryTable), zap.Int("rows", n))
	return n, nil
}

// RefreshProducts rebuilds the product aggregates and inserts new products.
func (r *Refresher) RefreshProducts(ctx context.Context) (int, error) {
	clean, err := r.db.LoadCleanRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading staging: %w", err)
	}
	n, err := r.db.UpsertProducts(ctx, BuildProducts(clean))
	if err != nil {
		return 0, fmt.Errorf("upserting products: %w", err)
	}
	r.log.Info("dimension refreshed", zap.String("table", ProductTable), zap.Int("rows", n))
	return n, nil
}

// RefreshCustomers rebuilds the customer aggregates and inserts new customers.
// Guest lines are ignored.
func (r *Refresher) RefreshCustomers(ctx context.Context) (int, error) {
	clean, err := r.db.LoadCleanRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading staging: %w", err)
	}
	n, err := r.db.UpsertCustomers(ctx, BuildCustomers(clean))
	if err != nil {
		return 0, fmt.Errorf("upserting customers: %w", err)
	}
	r.log.Info("dimension refreshed", zap.String("table", CustomerTable), zap.Int("rows", n))
	return n, nil
}

// counted reports whether a line contributes to revenue, items and quantities.
func counted(r database.CleanRecord) bool {
	return !r.IsCancelled && !r.IsReturn
}

// span tracks the first and last activity date of a key.
type span struct {
	first, last time.Time
}

func (s *span) add(t time.Time) {
	if s.first.IsZero() || t.Before(s.first) {
		s.first = t
	}
	if t.After(s.last) {
		s.last = t
	}
}

func (s span) dates() (first, last *string) {
	if s.first.IsZero() {
		return nil, nil
	}
	f := s.first.Format(database.DateLayout)
	l := s.last.Format(database.DateLayout)
	return &f, &l
}

// latest tracks the most recent record of a key; later ids win ties.
type latest struct {
	at time.Time
	id int64
	v  string
}

func (l *latest) offer(r database.CleanRecord, v string) {
	if l.at.IsZero() || r.InvoiceDate.After(l.at) || (r.InvoiceDate.Equal(l.at) && r.ID > l.id) {
		l.at, l.id, l.v = r.InvoiceDate, r.ID, v
	}
}

type countryAgg struct {
	customers map[int64]struct{}
	invoices  map[string]struct{}
	revenue   float64
	span      span
}

// BuildCountries computes the country snapshot ordered by name.
func BuildCountries(clean []database.CleanRecord) []database.Country {
	aggs := make(map[string]*countryAgg)
	for _, r := range clean {
		a, ok := aggs[r.Country]
		if !ok {
			a = &countryAgg{customers: map[int64]struct{}{}, invoices: map[string]struct{}{}}
			aggs[r.Country] = a
		}
		if r.CustomerID != nil {
			a.customers[*r.CustomerID] = struct{}{}
		}
		if !r.IsCancelled {
			a.invoices[r.InvoiceNo] = struct{}{}
		}
		if counted(r) {
			a.revenue += r.LineTotal
		}
		a.span.add(r.InvoiceDate)
	}

	out := make([]database.Country, 0, len(aggs))
	for name, a := range aggs {
		first, last := a.span.dates()
		out = append(out, database.Country{
			Name:           name,
			TotalCustomers: len(a.customers),
			TotalOrders:    len(a.invoices),
			TotalRevenue:   cleanse.Round2(a.revenue),
			FirstOrderDate: first,
			LastOrderDate:  last,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type productAgg struct {
	description latest
	invoices    map[string]struct{}
	quantity    int
	revenue     float64
	priceSum    float64
	priceLines  int
	span        span
}

// BuildProducts computes the product snapshot ordered by stock code. The
// description comes from the most recent line of each product.
func BuildProducts(clean []database.CleanRecord) []database.Product {
	aggs := make(map[string]*productAgg)
	for _, r := range clean {
		a, ok := aggs[r.StockCode]
		if !ok {
			a = &productAgg{invoices: map[string]struct{}{}}
			aggs[r.StockCode] = a
		}
		a.description.offer(r, r.Description)
		if !r.IsCancelled {
			a.invoices[r.InvoiceNo] = struct{}{}
		}
		if counted(r) {
			a.quantity += r.Quantity
			a.revenue += r.LineTotal
			a.priceSum += r.UnitPrice
			a.priceLines++
		}
		a.span.add(r.InvoiceDate)
	}

	out := make([]database.Product, 0, len(aggs))
	for code, a := range aggs {
		first, last := a.span.dates()
		avg := 0.0
		if a.priceLines > 0 {
			avg = cleanse.Round2(a.priceSum / float64(a.priceLines))
		}
		out = append(out, database.Product{
			StockCode:     code,
			Description:   a.description.v,
			TotalQuantity: a.quantity,
			TotalOrders:   len(a.invoices),
			TotalRevenue:  cleanse.Round2(a.revenue),
			AvgUnitPrice:  avg,
			FirstSoldDate: first,
			LastSoldDate:  last,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StockCode < out[j].StockCode })
	return out
}

type customerAgg struct {
	country  latest
	invoices map[string]struct{}
	items    int
	revenue  float64
	span     span
}

// BuildCustomers computes the customer snapshot ordered by customer id.
func BuildCustomers(clean []database.CleanRecord) []database.Customer {
	aggs := make(map[int64]*customerAgg)
	for _, r := range clean {
		if r.CustomerID == nil {
			continue
		}
		a, ok := aggs[*r.CustomerID]
		if !ok {
			a = &customerAgg{invoices: map[string]struct{}{}}
			aggs[*r.CustomerID] = a
		}
		a.country.offer(r, r.Country)
		if !r.IsCancelled {
			a.invoices[r.InvoiceNo] = struct{}{}
		}
		if counted(r) {
			a.items += r.Quantity
			a.revenue += r.LineTotal
		}
		a.span.add(r.InvoiceDate)
	}

	out := make([]database.Customer, 0, len(aggs))
	for id, a := range aggs {
		first, last := a.span.dates()
		out = append(out, database.Customer{
			CustomerID:        id,
			Country:           a.country.v,
			TotalOrders:       len(a.invoices),
			TotalItems:        a.items,
			TotalRevenue:      cleanse.Round2(a.revenue),
			FirstPurchaseDate: first,
			LastPurchaseDate:  last,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out
}
