package database

import "time"

// Severity classifies a quality check outcome.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunWarning RunStatus = "warning"
	RunFailed  RunStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s RunStatus) Terminal() bool {
	return s != RunRunning
}

// RawRecord is one ingested transaction line exactly as received.
// Every column is nullable; validation happens in cleansing.
type RawRecord struct {
	ID          int64
	InvoiceNo   *string
	StockCode   *string
	Description *string
	Quantity    *int
	InvoiceDate *string
	UnitPrice   *float64
	CustomerID  *string
	Country     *string
	LoadedAt    *string
}

// CleanRecord is a validated staging row with derived fields.
type CleanRecord struct {
	ID          int64
	InvoiceNo   string
	StockCode   string
	Description string
	Quantity    int
	InvoiceDate time.Time
	UnitPrice   float64
	CustomerID  *int64
	Country     string
	LineTotal   float64
	IsCancelled bool
	IsReturn    bool
	LoadedAt    *string
}

// DateDim is one calendar day of the date dimension.
type DateDim struct {
	DateKey    int
	FullDate   string
	Year       int
	Quarter    int
	Month      int
	MonthName  string
	WeekOfYear int
	DayOfMonth int
	DayOfWeek  int
	DayName    string
	IsWeekend  bool
}

// Country is a row of the country dimension.
type Country struct {
	Key            int64
	Name           string
	TotalCustomers int
	TotalOrders    int
	TotalRevenue   float64
	FirstOrderDate *string
	LastOrderDate  *string
}

// Product is a row of the product dimension.
type Product struct {
	Key           int64
	StockCode     string
	Description   string
	TotalQuantity int
	TotalOrders   int
	TotalRevenue  float64
	AvgUnitPrice  float64
	FirstSoldDate *string
	LastSoldDate  *string
}

// Customer is a row of the customer dimension. RFM fields are written
// back by the RFM mart and stay nil for unscored customers.
type Customer struct {
	Key               int64
	CustomerID        int64
	Country           string
	TotalOrders       int
	TotalItems        int
	TotalRevenue      float64
	FirstPurchaseDate *string
	LastPurchaseDate  *string
	RScore            *int
	FScore            *int
	MScore            *int
	Segment           *string
}

// FactSale is one clean transaction line resolved to dimension keys.
type FactSale struct {
	SalesKey    int64
	InvoiceNo   string
	DateKey     int
	CustomerKey *int64
	ProductKey  int64
	CountryKey  int64
	Quantity    int
	UnitPrice   float64
	LineTotal   float64
	IsCancelled bool
	IsReturn    bool
	InvoiceDate string
}

// FactLine is a fact row joined with the dimension attributes marts need.
type FactLine struct {
	FactSale
	FullDate    string
	CustomerID  *int64
	StockCode   string
	Description string
	CountryName string
}

// DailyKPI is one row of the daily KPI mart.
type DailyKPI struct {
	DateKey          int     `json:"date_key"`
	FullDate         string  `json:"date"`
	TotalRevenue     float64 `json:"total_revenue"`
	TotalOrders      int     `json:"total_orders"`
	TotalItemsSold   int     `json:"total_items_sold"`
	UniqueCustomers  int     `json:"unique_customers"`
	AvgOrderValue    float64 `json:"avg_order_value"`
	CancelledOrders  int     `json:"cancelled_orders"`
	CancelledRevenue float64 `json:"cancelled_revenue"`
	ReturnOrders     int     `json:"return_orders"`
	ReturnedItems    int     `json:"returned_items"`
	CancellationRate float64 `json:"cancellation_rate"`
	ReturnRate       float64 `json:"return_rate"`
}

// RFMScore is one scored customer of the RFM mart.
type RFMScore struct {
	CustomerKey   int64
	CustomerID    int64
	RecencyDays   int
	Frequency     int
	Monetary      float64
	AvgOrderValue float64
	R             int
	F             int
	M             int
	Score         string
	Segment       string
}

// CountryPerformance is one row of the country performance mart.
type CountryPerformance struct {
	CountryKey     int64
	CountryName    string
	TotalRevenue   float64
	TotalOrders    int
	TotalCustomers int
	TotalQuantity  int
	AvgOrderValue  float64
	RevenueShare   float64
	OrderShare     float64
}

// ProductPerformance is one row of the product performance mart.
type ProductPerformance struct {
	ProductKey      int64
	StockCode       string
	Description     string
	TotalQuantity   int
	TotalOrders     int
	UniqueCustomers int
	TotalRevenue    float64
	AvgUnitPrice    float64
	RevenueRank     int
	QuantityRank    int
}

// MonthlyTrend is one calendar month of the trends mart.
type MonthlyTrend struct {
	YearMonth       string
	Year            int
	Month           int
	TotalRevenue    float64
	TotalOrders     int
	UniqueCustomers int
	TotalItemsSold  int
	AvgOrderValue   float64
	RevenueGrowth   *float64
	OrderGrowth     *float64
}

// QualityCheckResult is the persisted verdict of one check in one run.
type QualityCheckResult struct {
	ID        int64    `json:"id"`
	RunID     int64    `json:"run_id"`
	Name      string   `json:"check_name"`
	Table     string   `json:"table_name"`
	Passed    bool     `json:"passed"`
	Severity  Severity `json:"severity"`
	Actual    string   `json:"actual_value"`
	Expected  string   `json:"expected_value"`
	CheckedAt string   `json:"checked_at"`
}

// PipelineRun is one execution of the orchestrator.
type PipelineRun struct {
	ID              int64     `json:"run_id"`
	Key             string    `json:"run_key"`
	Type            string    `json:"run_type"`
	SourceLabel     *string   `json:"source_label,omitempty"`
	Status          RunStatus `json:"status"`
	StartedAt       string    `json:"started_at"`
	CompletedAt     *string   `json:"completed_at,omitempty"`
	StagesCompleted int       `json:"stages_completed"`
	RowsProcessed   int       `json:"rows_processed"`
	ErrorMessage    *string   `json:"error_message,omitempty"`
	Metadata        *string   `json:"metadata,omitempty"`
}

// TableFreshness is the last-refresh marker of one tracked table.
type TableFreshness struct {
	Table         string `json:"table_name"`
	LastRefreshAt string `json:"last_refresh_at"`
	RefreshRunID  *int64 `json:"refresh_run_id,omitempty"`
	RowCount      int    `json:"row_count"`
	DurationMs    int64  `json:"duration_ms"`
	RefreshType   string `json:"refresh_type"`
}

// Forecast is a per-(date, metric) prediction written by the prediction service.
type Forecast struct {
	Date         string  `json:"forecast_date"`
	Metric       string  `json:"metric_name"`
	Predicted    float64 `json:"predicted_value"`
	Lower        float64 `json:"lower_bound"`
	Upper        float64 `json:"upper_bound"`
	ModelName    string  `json:"model_name"`
	ModelVersion string  `json:"model_version"`
	CreatedAt    *string `json:"created_at,omitempty"`
}

// Anomaly is a per-(date, metric) deviation flagged by the prediction service.
type Anomaly struct {
	Date           string  `json:"anomaly_date"`
	Metric         string  `json:"metric_name"`
	Actual         float64 `json:"actual_value"`
	Expected       float64 `json:"expected_value"`
	DeviationPct   float64 `json:"deviation_pct"`
	ZScore         float64 `json:"z_score"`
	Type           string  `json:"anomaly_type"`
	Severity       string  `json:"severity"`
	IsWeekend      bool    `json:"is_weekend"`
	Interpretation *string `json:"business_interpretation,omitempty"`
	Action         *string `json:"recommended_action,omitempty"`
	Acknowledged   bool    `json:"acknowledged"`
	AcknowledgedBy *string `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *string `json:"acknowledged_at,omitempty"`
}

// SeriesPoint is one (date, value) observation of a daily KPI metric.
type SeriesPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}
