package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBaseURL = "https://discord.com/api/v8"
	tracerName     = "discord-bot/rest"
	maxErrorBody   = 512
)

var ErrTokenRequired = errors.New("rest: token required")

type Config struct {
	BaseURL    string
	Token      string
	AuthScheme string
	UserAgent  string
	Timeout    time.Duration
	// MaxRetries bounds how many 429 responses are waited out before giving up. Zero means
	// the default of 3; a negative value waits them out indefinitely.
	MaxRetries int
	HTTPClient *http.Client
	Logger     *slog.Logger
	// Registerer receives the client metrics; nil keeps them unregistered.
	Registerer prometheus.Registerer
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.AuthScheme == "" {
		c.AuthScheme = "Bot"
	}
	if c.UserAgent == "" {
		c.UserAgent = "DiscordBot (https://github.com/foobles/discord-bot, 0.1.0)"
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Client is the request executor. It is safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *RouteLimiter
	tracer  trace.Tracer
	logger  *slog.Logger
	metrics clientMetrics
	now     func() time.Time
}

type clientMetrics struct {
	requests *prometheus.CounterVec
	waits    prometheus.Histogram
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrTokenRequired
	}
	cfg = cfg.withDefaults()
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	factory := promauto.With(cfg.Registerer)
	return &Client{
		cfg:     cfg,
		http:    hc,
		limiter: NewRouteLimiter(),
		tracer:  otel.Tracer(tracerName),
		logger:  cfg.Logger,
		metrics: clientMetrics{
			requests: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: "discord_bot",
				Subsystem: "rest",
				Name:      "requests_total",
				Help:      "REST requests by method and response status.",
			}, []string{"method", "status"}),
			waits: factory.NewHistogram(prometheus.HistogramOpts{
				Namespace: "discord_bot",
				Subsystem: "rest",
				Name:      "rate_limit_wait_seconds",
				Help:      "Time spent waiting for an exhausted route to reset.",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			}),
		},
		now: time.Now,
	}, nil
}

// Limiter exposes the per-route limiter shared by every call on this client.
func (c *Client) Limiter() *RouteLimiter {
	return c.limiter
}

type Request struct {
	Method string
	Path   string
	// Route identifies the rate-limit bucket; defaults to "METHOD path".
	Route string
	// Body is sent as JSON unless it is already a []byte.
	Body any
}

func (r Request) route() string {
	if r.Route != "" {
		return r.Route
	}
	return r.Method + " " + r.Path
}

type Response struct {
	Status    int
	Header    http.Header
	Body      []byte
	RateLimit RateLimit

	route string
}

// Decode unmarshals the body into out, reporting a shape mismatch as *ProtocolError.
func (r *Response) Decode(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return &ProtocolError{Route: r.route, Err: err}
	}
	return nil
}

// Do executes req, first waiting out any reset instant previously recorded for its route.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	route := req.route()
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, fmt.Errorf("rest %s: encode body: %w", route, err)
	}

	ctx, span := c.tracer.Start(ctx, "rest "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("discord.route", route),
		),
	)
	defer span.End()

	for attempt := 0; ; attempt++ {
		waited, err := c.limiter.Wait(ctx, route)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "rate limit wait cancelled")
			return nil, err
		}
		if waited > 0 {
			c.metrics.waits.Observe(waited.Seconds())
			c.logger.Debug("rest route rate limited", "route", route, "waited", waited)
		}

		resp, err := c.roundTrip(ctx, route, req.Method, req.Path, body)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "transport failure")
			return nil, err
		}
		span.SetAttributes(attribute.Int("http.status_code", resp.Status))
		c.metrics.requests.WithLabelValues(req.Method, strconv.Itoa(resp.Status)).Inc()

		if resp.Status == http.StatusTooManyRequests {
			c.observeTooMany(resp)
			if c.cfg.MaxRetries < 0 || attempt < c.cfg.MaxRetries {
				c.logger.Warn("rest route returned 429, retrying after reset", "route", route, "attempt", attempt+1)
				continue
			}
		}
		if resp.Status < 200 || resp.Status > 299 {
			err := &StatusError{Route: route, Status: resp.Status, Body: truncate(resp.Body, maxErrorBody)}
			span.RecordError(err)
			span.SetStatus(codes.Error, "unexpected status")
			return nil, err
		}
		return resp, nil
	}
}

func (c *Client) roundTrip(ctx context.Context, route, method, path string, body []byte) (*Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), rdr)
	if err != nil {
		return nil, &ConnectionError{Route: route, Err: err}
	}
	httpReq.Header.Set("Authorization", c.cfg.AuthScheme+" "+c.cfg.Token)
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &ConnectionError{Route: route, Err: err}
	}
	defer httpResp.Body.Close()
	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &ConnectionError{Route: route, Err: fmt.Errorf("read body: %w", err)}
	}

	resp := &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   data,
		route:  route,
	}
	if rl, ok := parseRateLimit(route, httpResp.Header, c.now()); ok {
		resp.RateLimit = rl
		c.limiter.Observe(rl)
		if rl.Exhausted() {
			c.logger.Debug("rest route exhausted", "route", route, "resume_at", rl.ResumeAt)
		}
	}
	return resp, nil
}

// observeTooMany makes sure a 429 always leaves a reset instant behind, falling back to
// Retry-After or the JSON retry_after field when the bucket headers are missing.
func (c *Client) observeTooMany(resp *Response) {
	if resp.RateLimit.Exhausted() {
		return
	}
	after := time.Second
	if v, err := strconv.ParseFloat(strings.TrimSpace(resp.Header.Get("Retry-After")), 64); err == nil && v >= 0 {
		after = time.Duration(v * float64(time.Second))
	} else {
		var body struct {
			RetryAfter float64 `json:"retry_after"`
		}
		if json.Unmarshal(resp.Body, &body) == nil && body.RetryAfter > 0 {
			after = time.Duration(body.RetryAfter * float64(time.Second))
		}
	}
	resp.RateLimit = RateLimit{Route: resp.route, ResumeAt: c.now().Add(after)}
	c.limiter.Observe(resp.RateLimit)
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func encodeBody(v any) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	default:
		return json.Marshal(v)
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}

// GetJSON issues a GET and decodes the body into T.
func GetJSON[T any](ctx context.Context, c *Client, path string) (T, RateLimit, error) {
	var out T
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return out, RateLimit{}, err
	}
	if err := resp.Decode(&out); err != nil {
		return out, resp.RateLimit, err
	}
	return out, resp.RateLimit, nil
}
