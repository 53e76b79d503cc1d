package adapter

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	mybusiness "google.golang.org/api/mybusinessbusinessinformation/v1"
	"google.golang.org/api/option"

	"github.com/gmb-sync/internal/circuitbreaker"
	"github.com/gmb-sync/internal/errors"
	"github.com/gmb-sync/internal/logging"
	"github.com/gmb-sync/internal/retry"
)

const providerName = "google_business_profile"

// Default upstream endpoints
const (
	DefaultBusinessInfoEndpoint = "https://mybusinessbusinessinformation.googleapis.com/"
	DefaultV4Endpoint           = "https://mybusiness.googleapis.com/v4/"
	DefaultQandAEndpoint        = "https://mybusinessqanda.googleapis.com/v1/"
	DefaultPerformanceEndpoint  = "https://businessprofileperformance.googleapis.com/v1/"
)

// locationReadMask lists the location fields MapLocation reads
const locationReadMask = "name,title,storefrontAddress,phoneNumbers,websiteUri,categories,latlng,openInfo,profile,regularHours,metadata"

// InsightMetrics are the daily metrics requested from the Performance API
var InsightMetrics = []string{
	"BUSINESS_IMPRESSIONS_DESKTOP_MAPS",
	"BUSINESS_IMPRESSIONS_DESKTOP_SEARCH",
	"BUSINESS_IMPRESSIONS_MOBILE_MAPS",
	"BUSINESS_IMPRESSIONS_MOBILE_SEARCH",
	"BUSINESS_CONVERSATIONS",
	"BUSINESS_DIRECTION_REQUESTS",
	"CALL_CLICKS",
	"WEBSITE_CLICKS",
}

// Budget gates every upstream request against a shared request quota
type Budget interface {
	Acquire(ctx context.Context) error
}

// ResponseObserver is told about every upstream response
type ResponseObserver func(endpoint string, statusCode int, elapsed time.Duration)

// GMBClientConfig configures the Google Business Profile client
type GMBClientConfig struct {
	BusinessInfoEndpoint string
	V4Endpoint           string
	QandAEndpoint        string
	PerformanceEndpoint  string
	RequestsPerSecond    float64
	Burst                int
	Timeout              time.Duration
	InsightsLookbackDays int
	PageSize             int
}

// GMBClient implements SourceAdapter against the Google Business Profile APIs
type GMBClient struct {
	cfg      GMBClientConfig
	limiter  *rate.Limiter
	budget   Budget
	breakers *circuitbreaker.Manager
	retryCfg *retry.RetryConfig
	base     http.RoundTripper
	observe  ResponseObserver
	now      func() time.Time
}

// GMBClientOption customizes a GMBClient
type GMBClientOption func(*GMBClient)

// WithBudget makes every request wait for quota first
func WithBudget(b Budget) GMBClientOption {
	return func(c *GMBClient) { c.budget = b }
}

// WithBreakers shares a breaker manager with other components
func WithBreakers(m *circuitbreaker.Manager) GMBClientOption {
	return func(c *GMBClient) { c.breakers = m }
}

// WithTransport replaces the base HTTP transport
func WithTransport(rt http.RoundTripper) GMBClientOption {
	return func(c *GMBClient) { c.base = rt }
}

// WithObserver registers a response observer
func WithObserver(fn ResponseObserver) GMBClientOption {
	return func(c *GMBClient) { c.observe = fn }
}

// WithRetryConfig overrides the per-page retry policy
func WithRetryConfig(cfg *retry.RetryConfig) GMBClientOption {
	return func(c *GMBClient) { c.retryCfg = cfg }
}

// WithClock overrides the clock used for insight date ranges
func WithClock(now func() time.Time) GMBClientOption {
	return func(c *GMBClient) { c.now = now }
}

// NewGMBClient creates a new Google Business Profile client
func NewGMBClient(cfg GMBClientConfig, opts ...GMBClientOption) *GMBClient {
	if cfg.BusinessInfoEndpoint == "" {
		cfg.BusinessInfoEndpoint = DefaultBusinessInfoEndpoint
	}
	if cfg.V4Endpoint == "" {
		cfg.V4Endpoint = DefaultV4Endpoint
	}
	if cfg.QandAEndpoint == "" {
		cfg.QandAEndpoint = DefaultQandAEndpoint
	}
	if cfg.PerformanceEndpoint == "" {
		cfg.PerformanceEndpoint = DefaultPerformanceEndpoint
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.InsightsLookbackDays <= 0 {
		cfg.InsightsLookbackDays = 30
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}

	c := &GMBClient{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		base:    http.DefaultTransport,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breakers == nil {
		c.breakers = circuitbreaker.NewManager(func(name string) *circuitbreaker.Config {
			cb := circuitbreaker.DefaultConfig(name)
			cb.IsFailure = errors.IsRetryable
			return cb
		})
	}
	if c.retryCfg == nil {
		c.retryCfg = retry.UpstreamRetryConfig(errors.IsRetryable)
	}
	return c
}

// FetchLocations fetches one page of an account's locations
func (c *GMBClient) FetchLocations(ctx context.Context, token, googleAccountID, pageToken string) (*Page[RawLocation], error) {
	parent := "accounts/" + googleAccountID
	page := &Page[RawLocation]{}

	err := c.call(ctx, "locations", func(ctx context.Context) error {
		svc, err := mybusiness.NewService(ctx,
			option.WithHTTPClient(c.httpClient(token, "locations")),
			option.WithEndpoint(c.cfg.BusinessInfoEndpoint),
		)
		if err != nil {
			return errors.NewInternalError("failed to create business information service", err)
		}

		call := svc.Accounts.Locations.List(parent).
			ReadMask(locationReadMask).
			PageSize(int64(c.cfg.PageSize))
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Context(ctx).Do()
		if err != nil {
			return classify(ctx, err)
		}

		page.Items = page.Items[:0]
		for _, l := range resp.Locations {
			if l != nil {
				page.Items = append(page.Items, *l)
			}
		}
		page.NextPageToken = resp.NextPageToken
		return nil
	})
	if err != nil {
		return nil, NewAdapterError("FetchLocations", parent, err)
	}
	return page, nil
}

// FetchReviews fetches one page of a location's reviews
func (c *GMBClient) FetchReviews(ctx context.Context, token, googleAccountID, googleLocationID, pageToken string) (*Page[RawReview], error) {
	resource := fmt.Sprintf("accounts/%s/locations/%s", googleAccountID, googleLocationID)
	q := url.Values{}
	q.Set("pageSize", "50")
	setPageToken(q, pageToken)

	var resp listReviewsResponse
	if err := c.getJSON(ctx, token, "reviews", c.cfg.V4Endpoint, resource+"/reviews", q, &resp); err != nil {
		return nil, NewAdapterError("FetchReviews", resource, err)
	}
	return &Page[RawReview]{Items: resp.Reviews, NextPageToken: resp.NextPageToken}, nil
}

// FetchQuestions fetches one page of a location's questions with their top answers
func (c *GMBClient) FetchQuestions(ctx context.Context, token, googleLocationID, pageToken string) (*Page[RawQuestion], error) {
	resource := "locations/" + googleLocationID
	q := url.Values{}
	q.Set("pageSize", "10")
	q.Set("answersPerQuestion", "10")
	setPageToken(q, pageToken)

	var resp listQuestionsResponse
	if err := c.getJSON(ctx, token, "questions", c.cfg.QandAEndpoint, resource+"/questions", q, &resp); err != nil {
		return nil, NewAdapterError("FetchQuestions", resource, err)
	}
	return &Page[RawQuestion]{Items: resp.Questions, NextPageToken: resp.NextPageToken}, nil
}

// FetchInsights fetches the daily metrics of the lookback window. The Performance API
// returns the whole range at once, so pageToken is ignored and there is never a next page.
func (c *GMBClient) FetchInsights(ctx context.Context, token, googleLocationID, pageToken string) (*Page[RawMetricSeries], error) {
	resource := "locations/" + googleLocationID
	end := c.now().UTC().AddDate(0, 0, -1)
	start := end.AddDate(0, 0, -(c.cfg.InsightsLookbackDays - 1))

	q := url.Values{}
	for _, m := range InsightMetrics {
		q.Add("dailyMetrics", m)
	}
	setDate(q, "dailyRange.start_date", start)
	setDate(q, "dailyRange.end_date", end)

	var resp multiDailyMetricsResponse
	if err := c.getJSON(ctx, token, "insights", c.cfg.PerformanceEndpoint, resource+":fetchMultiDailyMetricsTimeSeries", q, &resp); err != nil {
		return nil, NewAdapterError("FetchInsights", resource, err)
	}

	page := &Page[RawMetricSeries]{}
	for _, multi := range resp.MultiDailyMetricTimeSeries {
		page.Items = append(page.Items, multi.DailyMetricTimeSeries...)
	}
	return page, nil
}

// FetchPosts fetches one page of a location's local posts
func (c *GMBClient) FetchPosts(ctx context.Context, token, googleAccountID, googleLocationID, pageToken string) (*Page[RawPost], error) {
	resource := fmt.Sprintf("accounts/%s/locations/%s", googleAccountID, googleLocationID)
	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(min(c.cfg.PageSize, 100)))
	setPageToken(q, pageToken)

	var resp listPostsResponse
	if err := c.getJSON(ctx, token, "posts", c.cfg.V4Endpoint, resource+"/localPosts", q, &resp); err != nil {
		return nil, NewAdapterError("FetchPosts", resource, err)
	}
	return &Page[RawPost]{Items: resp.LocalPosts, NextPageToken: resp.NextPageToken}, nil
}

// FetchMedia fetches one page of a location's media items
func (c *GMBClient) FetchMedia(ctx context.Context, token, googleAccountID, googleLocationID, pageToken string) (*Page[RawMediaItem], error) {
	resource := fmt.Sprintf("accounts/%s/locations/%s", googleAccountID, googleLocationID)
	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(min(c.cfg.PageSize, 100)))
	setPageToken(q, pageToken)

	var resp listMediaResponse
	if err := c.getJSON(ctx, token, "media", c.cfg.V4Endpoint, resource+"/media", q, &resp); err != nil {
		return nil, NewAdapterError("FetchMedia", resource, err)
	}
	return &Page[RawMediaItem]{Items: resp.MediaItems, NextPageToken: resp.NextPageToken}, nil
}

// BreakerStates reports the state of every endpoint breaker
func (c *GMBClient) BreakerStates() map[string]circuitbreaker.State {
	return c.breakers.States()
}

// call runs fn under the endpoint's breaker with retries for transient failures
func (c *GMBClient) call(ctx context.Context, endpoint string, fn func(ctx context.Context) error) error {
	breaker := c.breakers.Get("gmb:" + endpoint)

	result := retry.WithExponentialBackoff(ctx, c.retryCfg, func(ctx context.Context, attempt int) error {
		err := breaker.Execute(ctx, fn)
		if stderrors.Is(err, circuitbreaker.ErrCircuitOpen) || stderrors.Is(err, circuitbreaker.ErrTooManyRequests) {
			unavailable := errors.NewServiceUnavailableError("gmb:" + endpoint)
			unavailable.Cause = err
			return unavailable
		}
		return err
	})
	if result.Success {
		return nil
	}
	return result.LastError
}

func (c *GMBClient) getJSON(ctx context.Context, token, endpoint, base, path string, query url.Values, out interface{}) error {
	target := strings.TrimRight(base, "/") + "/" + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	client := c.httpClient(token, endpoint)

	return c.call(ctx, endpoint, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return errors.NewInternalError("failed to build upstream request", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return classify(ctx, err)
		}
		defer resp.Body.Close()

		if err := googleapi.CheckResponse(resp); err != nil {
			return classify(ctx, err)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.NewProviderRejectedError(providerName, resp.StatusCode, fmt.Errorf("%w: %v", ErrInvalidPayload, err))
		}
		return nil
	})
}

// httpClient builds a client that authenticates with token and throttles before every request
func (c *GMBClient) httpClient(token, endpoint string) *http.Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	return &http.Client{
		Timeout: c.cfg.Timeout,
		Transport: &oauth2.Transport{
			Source: src,
			Base: &throttledTransport{
				base:     c.base,
				limiter:  c.limiter,
				budget:   c.budget,
				endpoint: endpoint,
				observe:  c.observe,
			},
		},
	}
}

// classify maps transport and googleapi errors onto error categories
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var gerr *googleapi.Error
	if stderrors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests:
			rl := errors.NewProviderRateLimitError(providerName)
			rl.Cause = err
			return rl
		case gerr.Code >= 500:
			return errors.NewProviderError(providerName, err)
		default:
			return errors.NewProviderRejectedError(providerName, gerr.Code, err)
		}
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		timeout := errors.NewProviderTimeoutError(providerName)
		timeout.Cause = err
		return timeout
	}

	var categorized *errors.CategorizedError
	if stderrors.As(err, &categorized) {
		return err
	}
	return errors.NewProviderError(providerName, err)
}

func setPageToken(q url.Values, pageToken string) {
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
}

func setDate(q url.Values, prefix string, t time.Time) {
	q.Set(prefix+".year", strconv.Itoa(t.Year()))
	q.Set(prefix+".month", strconv.Itoa(int(t.Month())))
	q.Set(prefix+".day", strconv.Itoa(t.Day()))
}

// throttledTransport waits for the local rate limiter and the shared budget before each request
type throttledTransport struct {
	base     http.RoundTripper
	limiter  *rate.Limiter
	budget   Budget
	endpoint string
	observe  ResponseObserver
}

func (t *throttledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if t.budget != nil {
		if err := t.budget.Acquire(ctx); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if t.observe != nil {
		t.observe(t.endpoint, status, time.Since(start))
	}
	if err != nil {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"endpoint": t.endpoint,
			"host":     req.URL.Host,
		}).WithError(err).Debug("[GMBClient] Upstream request failed")
	}
	return resp, err
}

var _ SourceAdapter = (*GMBClient)(nil)
