package livedata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/tablestakes/platform/internal/guard"
	"github.com/tablestakes/platform/internal/metrics"
)

// ScoreboardEvent is one game entry from the provider's scoreboard.
type ScoreboardEvent struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"` // in | pre | post
}

// Provider fetches live game data from an external sports feed. Failures
// surface as a nil payload with the error; callers skip and retry next tick.
type Provider interface {
	Scoreboard(ctx context.Context, league string) ([]ScoreboardEvent, error)
	Boxscore(ctx context.Context, league, eventID string) (json.RawMessage, error)
}

// leaguePaths maps league tags onto the ESPN site API path segments.
var leaguePaths = map[string]string{
	"nfl": "football/nfl",
}

// ESPNClient talks to the ESPN site API behind a rate limiter and a circuit
// breaker so a persistently failing upstream stops burning request budget.
type ESPNClient struct {
	baseURL string
	client  *retryablehttp.Client
	limiter *rate.Limiter
	breaker *guard.CircuitBreaker
	logger  *slog.Logger
}

// ErrCircuitOpen is returned without issuing a request while the breaker is open.
var ErrCircuitOpen = fmt.Errorf("provider circuit open")

// NewESPNClient builds the provider client. Retries are disabled: the ingest
// loop retries on its next tick instead.
func NewESPNClient(logger *slog.Logger) *ESPNClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 0
	rc.HTTPClient.Timeout = 8 * time.Second
	rc.Logger = nil

	return &ESPNClient{
		baseURL: "https://site.api.espn.com/apis/site/v2/sports",
		client:  rc,
		limiter: rate.NewLimiter(rate.Limit(5), 2),
		breaker: guard.NewCircuitBreaker(5, 60*time.Second),
		logger:  logger,
	}
}

// Breaker exposes the circuit breaker for health reporting.
func (c *ESPNClient) Breaker() *guard.CircuitBreaker { return c.breaker }

// Scoreboard lists today's games for the league with their game states.
func (c *ESPNClient) Scoreboard(ctx context.Context, league string) ([]ScoreboardEvent, error) {
	path, ok := leaguePaths[league]
	if !ok {
		return nil, fmt.Errorf("unsupported league %q", league)
	}

	body, err := c.get(ctx, "scoreboard", fmt.Sprintf("%s/%s/scoreboard", c.baseURL, path))
	if err != nil {
		return nil, err
	}

	var sb struct {
		Events []struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Status struct {
				Type struct {
					State string `json:"state"`
				} `json:"type"`
			} `json:"status"`
		} `json:"events"`
	}
	if err := json.Unmarshal(body, &sb); err != nil {
		return nil, fmt.Errorf("decode scoreboard: %w", err)
	}

	events := make([]ScoreboardEvent, 0, len(sb.Events))
	for _, e := range sb.Events {
		events = append(events, ScoreboardEvent{ID: e.ID, Name: e.Name, State: e.Status.Type.State})
	}
	return events, nil
}

// Boxscore fetches the raw game summary document for one event.
func (c *ESPNClient) Boxscore(ctx context.Context, league, eventID string) (json.RawMessage, error) {
	path, ok := leaguePaths[league]
	if !ok {
		return nil, fmt.Errorf("unsupported league %q", league)
	}
	return c.get(ctx, "boxscore", fmt.Sprintf("%s/%s/summary?event=%s", c.baseURL, path, eventID))
}

func (c *ESPNClient) get(ctx context.Context, endpoint, url string) (json.RawMessage, error) {
	if !c.breaker.Allow() {
		metrics.ProviderRequestsTotal.WithLabelValues(endpoint, "breaker_open").Inc()
		return nil, ErrCircuitOpen
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("provider rate limiter: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build provider request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		metrics.ProviderRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("provider %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.breaker.RecordFailure()
		metrics.ProviderRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("provider %s: status %d", endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breaker.RecordFailure()
		metrics.ProviderRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("read provider %s: %w", endpoint, err)
	}

	c.breaker.RecordSuccess()
	metrics.ProviderRequestsTotal.WithLabelValues(endpoint, "ok").Inc()
	return body, nil
}
