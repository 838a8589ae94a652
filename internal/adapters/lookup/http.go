package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/beatkit/tempo/internal/domain/model"
	"github.com/beatkit/tempo/pkg/metrics"
)

// Default client configuration constants.
const (
	defaultRequestsPerMinute = 60
	defaultRequestTimeout    = 15 * time.Second
)

// HTTPClient implements Client against a JSON HTTP upstream.
//
// The upstream enforces its own rate limit, so every call waits on a
// fixed-interval limiter (burst 1): a deliberate spacing between calls, not
// a token bucket that allows bursts.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// HTTPOption applies a configuration option to the HTTPClient.
type HTTPOption func(*HTTPClient)

// WithRequestsPerMinute sets the calls-per-minute budget.
func WithRequestsPerMinute(rpm int) HTTPOption {
	return func(c *HTTPClient) {
		if rpm > 0 {
			c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
		}
	}
}

// WithHTTPClient sets a custom underlying http.Client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		if client != nil {
			c.client = client
		}
	}
}

// NewHTTPClient creates a rate-limited JSON client for the given base URL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultRequestTimeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute/defaultRequestsPerMinute), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// chartDTO mirrors the upstream chart payload.
type chartDTO struct {
	ChartID          string  `json:"chartId"`
	DifficultyRating float64 `json:"difficultyRating"`
	Ranked           bool    `json:"ranked"`
	Qualified        bool    `json:"qualified"`
}

type chartPageDTO struct {
	Items   []chartDTO `json:"items"`
	HasMore bool       `json:"hasMore"`
}

type scoreDTO struct {
	ScoreID  string  `json:"scoreId"`
	PlayerID string  `json:"playerId"`
	Value    int64   `json:"value"`
	Accuracy float64 `json:"accuracy"`
	Rank     int     `json:"rank"`
}

type scorePageDTO struct {
	Items   []scoreDTO `json:"items"`
	HasMore bool       `json:"hasMore"`
}

// RankedCharts returns one page of ranked charts.
func (c *HTTPClient) RankedCharts(ctx context.Context, page int) (ChartPage, error) {
	return c.chartPage(ctx, "/charts/ranked", page)
}

// QualifiedCharts returns one page of qualified charts.
func (c *HTTPClient) QualifiedCharts(ctx context.Context, page int) (ChartPage, error) {
	return c.chartPage(ctx, "/charts/qualified", page)
}

func (c *HTTPClient) chartPage(ctx context.Context, path string, page int) (ChartPage, error) {
	var dto chartPageDTO
	if err := c.getJSON(ctx, path, url.Values{"page": {strconv.Itoa(page)}}, &dto); err != nil {
		return ChartPage{}, err
	}
	out := ChartPage{HasMore: dto.HasMore, Items: make([]model.ChartRankingState, 0, len(dto.Items))}
	for _, it := range dto.Items {
		out.Items = append(out.Items, chartFromDTO(it))
	}
	return out, nil
}

// ChartByID returns the authoritative state of a single chart.
func (c *HTTPClient) ChartByID(ctx context.Context, chartID string) (model.ChartRankingState, error) {
	var dto chartDTO
	err := c.getJSON(ctx, "/charts/"+url.PathEscape(chartID), nil, &dto)
	if err != nil {
		return model.ChartRankingState{}, err
	}
	return chartFromDTO(dto), nil
}

// ChartScores returns one page of a chart's competitive score list.
func (c *HTTPClient) ChartScores(ctx context.Context, chartID string, page int) (ScorePage, error) {
	var dto scorePageDTO
	path := "/charts/" + url.PathEscape(chartID) + "/scores"
	if err := c.getJSON(ctx, path, url.Values{"page": {strconv.Itoa(page)}}, &dto); err != nil {
		return ScorePage{}, err
	}
	out := ScorePage{HasMore: dto.HasMore, Items: make([]ChartScore, 0, len(dto.Items))}
	for _, it := range dto.Items {
		out.Items = append(out.Items, ChartScore(it))
	}
	return out, nil
}

// getJSON waits its turn on the limiter, issues a GET and decodes the body.
func (c *HTTPClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}

	metrics.RecordLookupRequest()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.RecordLookupError()
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode != http.StatusOK:
		metrics.RecordLookupError()
		return fmt.Errorf("%w: unexpected status %d for %s", ErrFetch, resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.RecordLookupError()
		return fmt.Errorf("%w: decode %s: %w", ErrFetch, path, err)
	}
	return nil
}

func chartFromDTO(dto chartDTO) model.ChartRankingState {
	return model.ChartRankingState{
		ChartID:          dto.ChartID,
		DifficultyRating: dto.DifficultyRating,
		Ranked:           dto.Ranked,
		Qualified:        dto.Qualified,
		LastRefreshed:    time.Now().UTC(),
	}
}
