package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/dgcore/discord/dispatcher"
	"github.com/dgcore/discord/internal/gwlog"
	"github.com/dgcore/discord/json"
	"github.com/dgcore/discord/ratelimit"
)

const defaultBaseURL = "https://discord.com/api/v10"

// File is one attachment of a multipart request, sent alongside a
// payload_json field per Discord's contract for endpoints accepting
// files.
type File struct {
	Name   string
	Reader io.Reader
}

// Response is the engine's response object; callers decode the body
// themselves, the engine only owns rate-limit bookkeeping and retries.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RequestOptions carries the per-call pieces HTTPEngine.Request needs on
// top of the Route itself.
type RequestOptions struct {
	RateLimitKey string
	Priority     int
	Headers      map[string]string
	Query        map[string]string
	Body         any
	Files        []File
}

// Option configures an HTTPEngine at construction.
type Option func(*HTTPEngine)

// WithBaseURL overrides the default https://discord.com/api/v10 root.
func WithBaseURL(url string) Option {
	return func(e *HTTPEngine) { e.baseURL = url }
}

// WithUserAgent overrides the default library User-Agent string.
func WithUserAgent(ua string) Option {
	return func(e *HTTPEngine) { e.userAgent = ua }
}

// WithGlobalRateLimiter installs a non-default global admission gate,
// e.g. an UnlimitedGlobalRateLimiter for a bot with a negotiated higher
// global limit.
func WithGlobalRateLimiter(g ratelimit.GlobalRateLimiter) Option {
	return func(e *HTTPEngine) { e.global = g }
}

// WithMaxRetries overrides the default network-failure retry budget.
func WithMaxRetries(n int) Option {
	return func(e *HTTPEngine) { e.maxRetries = n }
}

// WithMaxRateLimitRetries overrides the default 429-requeue budget.
func WithMaxRateLimitRetries(n int) Option {
	return func(e *HTTPEngine) { e.maxRateLimitRetries = n }
}

// WithLogger installs a logger; the default is a no-op.
func WithLogger(l gwlog.Logger) Option {
	return func(e *HTTPEngine) { e.log = l }
}

// HTTPEngine sends authenticated requests against the Discord REST API,
// admitting each one through a global limiter and a per-rate_limit_key
// BucketRateLimiter before it ever reaches the wire.
type HTTPEngine struct {
	baseURL   string
	token     string
	tokenType string
	userAgent string
	client    *fasthttp.Client
	log       gwlog.Logger

	global ratelimit.GlobalRateLimiter

	limitersMu sync.Mutex
	limiters   map[string]*ratelimit.BucketRateLimiter

	maxRetries          int
	maxRateLimitRetries int

	// Dispatcher fires "request_response" with the *Response after every
	// completed call, and "error" if a handler panics while observing it.
	Dispatcher *dispatcher.Dispatcher[string]
}

// NewHTTPEngine builds an engine authenticating with Bot <token> by
// default; use options to override transport and admission behavior.
func NewHTTPEngine(token string, opts ...Option) *HTTPEngine {
	e := &HTTPEngine{
		baseURL:             defaultBaseURL,
		token:               token,
		tokenType:           "Bot",
		userAgent:           "DiscordBot (https://github.com/dgcore/discord, 0.1.0)",
		client:              &fasthttp.Client{},
		log:                 gwlog.NoOp{},
		global:              ratelimit.NewLimitedGlobalRateLimiter(50),
		limiters:            make(map[string]*ratelimit.BucketRateLimiter),
		maxRetries:          5,
		maxRateLimitRetries: 10,
		Dispatcher:          dispatcher.New[string]("error"),
	}

	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *HTTPEngine) limiterFor(key string) *ratelimit.BucketRateLimiter {
	e.limitersMu.Lock()
	defer e.limitersMu.Unlock()
	if l, ok := e.limiters[key]; ok {
		return l
	}
	l := ratelimit.NewBucketRateLimiter()
	e.limiters[key] = l
	return l
}

// Request sends one authenticated call against route, admitting it
// through the global and per-route bucket limiters, retrying network
// failures, server errors, and rate-limit rejections within the configured
// budgets.
func (e *HTTPEngine) Request(ctx context.Context, route Route, opts RequestOptions) (*Response, error) {
	bucket := e.limiterFor(opts.RateLimitKey)

	var lastResp *Response
	rateLimitAttempts, serverErrorAttempts := 0, 0
	for {
		if err := e.global.Acquire(ctx); err != nil {
			return nil, err
		}

		session, err := bucket.Acquire(ctx, route.BucketKey(), opts.Priority)
		if err != nil {
			return nil, err
		}

		resp, err := e.sendWithNetworkRetry(ctx, route, opts)
		if err != nil {
			// session was admitted but never produced a response; refund
			// the admission rather than updating rate-limit state, so an
			// exhausted network retry never permanently wedges the bucket.
			bucket.Release(session)
			return nil, err
		}

		// A shared-scope 429 reports limit state for some other resource,
		// not this route's bucket; applying it here would corrupt the
		// bucket's own bookkeeping, so the session is simply released.
		sharedLimit := resp.StatusCode == 429 && ratelimit.RateLimitScope(resp.Header.Get("X-RateLimit-Scope")) == ratelimit.ScopeShared
		if sharedLimit {
			bucket.Release(session)
		} else {
			bucket.Update(session, resp.Header)
		}
		e.global.Update(resp.Header)
		lastResp = resp

		e.Dispatcher.Dispatch("request_response", resp)

		if resp.StatusCode < 300 {
			return resp, nil
		}

		if resp.StatusCode == 429 {
			if banned, cfErr := e.checkCloudflareBan(route, resp); banned {
				return nil, cfErr
			}
			retryAfter := parseRetryAfter(resp)
			if isGlobal429(resp) {
				e.global.OnGlobal429(retryAfter)
			}
			if sharedLimit {
				// the bucket's own resetAt won't enforce this wait since
				// it was never updated, so sleep explicitly.
				if err := sleepCtx(ctx, retryAfter); err != nil {
					return nil, err
				}
			}

			rateLimitAttempts++
			if rateLimitAttempts > e.maxRateLimitRetries {
				return nil, &RateLimitingFailedError{Route: route, LastResponse: lastResp}
			}
			continue
		}

		if resp.StatusCode >= 500 {
			serverErrorAttempts++
			if serverErrorAttempts > e.maxRetries {
				return nil, classifyStatus(route, resp.StatusCode, resp.Body)
			}
			backoff := time.Duration(1<<uint(serverErrorAttempts-1)) * 100 * time.Millisecond
			e.log.Warn("rest: server error, retrying", "route", route.Path(), "status", resp.StatusCode, "attempt", serverErrorAttempts)
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, err
			}
			continue
		}

		return nil, classifyStatus(route, resp.StatusCode, resp.Body)
	}
}

func (e *HTTPEngine) sendWithNetworkRetry(ctx context.Context, route Route, opts RequestOptions) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, err
			}
		}

		resp, err := e.send(route, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		e.log.Warn("rest: network failure, retrying", "route", route.Path(), "attempt", attempt, "error", err)
	}
	return nil, fmt.Errorf("rest: %s %s failed after %d attempts: %w", route.Method, route.Path(), e.maxRetries+1, lastErr)
}

func (e *HTTPEngine) send(route Route, opts RequestOptions) (*Response, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(route.Method)
	req.Header.Set("Authorization", e.tokenType+" "+e.token)
	req.Header.Set("User-Agent", e.userAgent)
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	uri := e.baseURL + route.Path()
	req.SetRequestURI(uri)
	if len(opts.Query) > 0 {
		args := req.URI().QueryArgs()
		for k, v := range opts.Query {
			args.Set(k, v)
		}
	}

	if err := e.setBody(req, opts); err != nil {
		return nil, err
	}

	if err := e.client.Do(req, resp); err != nil {
		return nil, err
	}

	header := http.Header{}
	resp.Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})

	body := append([]byte(nil), resp.Body()...)
	return &Response{StatusCode: resp.StatusCode(), Header: header, Body: body}, nil
}

// setBody writes either a plain JSON body, or, when files are present, a
// multipart body with the JSON payload under the payload_json field, per
// Discord's contract for file-carrying endpoints.
func (e *HTTPEngine) setBody(req *fasthttp.Request, opts RequestOptions) error {
	if len(opts.Files) == 0 {
		if opts.Body == nil {
			return nil
		}
		payload, err := json.Marshal(opts.Body)
		if err != nil {
			return err
		}
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
		return nil
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if opts.Body != nil {
		payload, err := json.Marshal(opts.Body)
		if err != nil {
			return err
		}
		if err := writer.WriteField("payload_json", string(payload)); err != nil {
			return err
		}
	}

	for i, file := range opts.Files {
		part, err := writer.CreateFormFile(fmt.Sprintf("files[%d]", i), file.Name)
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, file.Reader); err != nil {
			return err
		}
	}

	if err := writer.Close(); err != nil {
		return err
	}

	req.Header.SetContentType(writer.FormDataContentType())
	req.SetBody(buf.Bytes())
	return nil
}

type globalRateLimitBody struct {
	Global     bool    `json:"global"`
	RetryAfter float64 `json:"retry_after"`
}

func isGlobal429(resp *Response) bool {
	var body globalRateLimitBody
	if json.Unmarshal(resp.Body, &body) == nil && body.Global {
		return true
	}
	return resp.Header.Get("X-RateLimit-Global") == "true"
}

func parseRetryAfter(resp *Response) time.Duration {
	var body globalRateLimitBody
	if json.Unmarshal(resp.Body, &body) == nil && body.RetryAfter > 0 {
		return time.Duration(body.RetryAfter * float64(time.Second))
	}
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.ParseFloat(header, 64); err == nil {
			return time.Duration(seconds * float64(time.Second))
		}
	}
	return time.Second
}

func (e *HTTPEngine) checkCloudflareBan(route Route, resp *Response) (bool, error) {
	if resp.Header.Get("Via") == "" && bytes.Contains(resp.Body, []byte("1015")) {
		return true, &ratelimit.CloudflareBanError{RouteKey: route.BucketKey()}
	}
	return false, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
