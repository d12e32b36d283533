package predict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/Buljic/Business-Intelligence-Insight-Project/internal/logging"
)

// ErrServiceUnavailable is returned when the breaker is open or the service
// cannot be reached.
var ErrServiceUnavailable = errors.New("prediction service unavailable")

// TrainResult is the summary returned by the service after retraining.
type TrainResult struct {
	Status             string   `json:"status"`
	MetricsTrained     []string `json:"metrics_trained"`
	ForecastsGenerated int      `json:"forecasts_generated"`
	AnomaliesDetected  int      `json:"anomalies_detected"`
	ReportPath         *string  `json:"report_path"`
}

// Client talks to the external forecasting service.
type Client struct {
	BaseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

// NewClient creates a prediction service client. Three consecutive failures
// open the breaker for a minute.
func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	l := logging.OrNop(log).Named("predict")
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     l,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "prediction-service",
			Timeout: time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				l.Warn("circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
	}
}

// Train asks the service to retrain its models on the current daily KPIs.
func (c *Client) Train(ctx context.Context) (*TrainResult, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.train(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return out.(*TrainResult), nil
}

func (c *Client) train(ctx context.Context) (*TrainResult, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/train", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("prediction service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result TrainResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding train response: %w", err)
	}
	c.log.Info("models retrained",
		zap.Strings("metrics", result.MetricsTrained),
		zap.Int("forecasts", result.ForecastsGenerated),
		zap.Int("anomalies", result.AnomaliesDetected))
	return &result, nil
}
