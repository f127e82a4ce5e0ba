package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/metric"
	"github.com/c360/offlinekit/pkg/keys"
	"github.com/c360/offlinekit/pkg/timestamp"
)

const componentName = "remote"

// maxErrorBody bounds how much of a failure body is read.
const maxErrorBody = 64 << 10

// HTTPClient talks to a REST-style resource API:
//
//	GET    {base}/{resource}[/{id}]?params
//	POST   {base}/{resource}
//	PATCH  {base}/{resource}/{id}
//	DELETE {base}/{resource}/{id}
//
// Failure bodies of the form {"status": n, "message": "..."} are decoded into
// the returned errors.RemoteError.
type HTTPClient struct {
	base    *url.URL
	client  *http.Client
	tokens  TokenSource
	limiter *rate.Limiter
	timeout time.Duration
	headers http.Header
	clock   timestamp.Clock
	logger  *slog.Logger
	metrics *metric.Metrics
}

var (
	_ Fetcher  = (*HTTPClient)(nil)
	_ Executor = (*HTTPClient)(nil)
)

// NewHTTPClient creates a client for the API rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...Option) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, componentName, "NewHTTPClient", "base url is required")
	}
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		if err == nil {
			err = errors.ErrInvalidConfig
		}
		return nil, errors.WrapInvalid(err, componentName, "NewHTTPClient", "parse base url "+baseURL)
	}
	base.Path = strings.TrimRight(base.Path, "/")

	h := &HTTPClient{
		base:    base,
		client:  &http.Client{},
		headers: make(http.Header),
		clock:   timestamp.System,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Fetch reads the resource described by d.
func (h *HTTPClient) Fetch(ctx context.Context, d keys.Descriptor) ([]byte, error) {
	if d.Resource == "" {
		return nil, errors.WrapInvalid(nil, componentName, "Fetch", "resource is required")
	}
	u := h.resourceURL(d.Resource, d.ID)
	if len(d.Params) > 0 {
		q := make(url.Values, len(d.Params))
		for k, v := range d.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return h.do(ctx, d.Resource, http.MethodGet, u, nil, "")
}

// Execute applies m.
func (h *HTTPClient) Execute(ctx context.Context, m Mutation) ([]byte, error) {
	if m.Resource == "" {
		return nil, errors.WrapInvalid(nil, componentName, "Execute", "resource is required")
	}

	var method string
	switch m.Kind {
	case KindCreate:
		method = http.MethodPost
	case KindUpdate:
		method = http.MethodPatch
	case KindDelete:
		method = http.MethodDelete
	default:
		return nil, errors.NewValidationError(0, "unknown mutation kind "+strconv.Quote(string(m.Kind)))
	}
	if m.Kind != KindCreate && m.ID == "" {
		return nil, errors.NewValidationError(0, string(m.Kind)+" requires an id")
	}

	id := m.ID
	if m.Kind == KindCreate {
		id = ""
	}
	var body []byte
	if m.Kind != KindDelete && len(m.Payload) > 0 {
		body = m.Payload
	}
	return h.do(ctx, m.Resource, method, h.resourceURL(m.Resource, id), body, m.IdempotencyKey)
}

func (h *HTTPClient) resourceURL(resource, id string) *url.URL {
	u := *h.base
	u.Path = h.base.Path + "/" + resource
	u.RawPath = ""
	if id != "" {
		u.Path += "/" + id
		u.RawPath = h.base.EscapedPath() + "/" + url.PathEscape(resource) + "/" + url.PathEscape(id)
	}
	return &u
}

func (h *HTTPClient) do(ctx context.Context, resource, method string, u *url.URL, body []byte, idempotencyKey string) ([]byte, error) {
	start := time.Now()
	data, err := h.roundTrip(ctx, method, u, body, idempotencyKey)
	if h.metrics != nil {
		h.metrics.RecordRemoteCall(resource, method, time.Since(start))
		if err != nil {
			h.metrics.RecordError(componentName, errors.KindOf(err).String())
		}
	}
	if err != nil {
		h.logger.Debug("Remote call failed", "resource", resource, "method", method, "error", err)
	}
	return data, err
}

func (h *HTTPClient) roundTrip(ctx context.Context, method string, u *url.URL, body []byte, idempotencyKey string) ([]byte, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			if ctx.Err() == context.Canceled {
				return nil, ctx.Err()
			}
			return nil, errors.NewTimeoutError(err)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, errors.WrapInvalid(err, componentName, "do", "build request")
	}
	for name, values := range h.headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if h.tokens != nil {
		token, err := h.tokens.Token(ctx)
		if err != nil {
			return nil, errors.NewAuthError(0, "token unavailable: "+err.Error())
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		switch ctx.Err() {
		case context.Canceled:
			return nil, ctx.Err()
		case context.DeadlineExceeded:
			return nil, errors.NewTimeoutError(err)
		}
		return nil, errors.NewNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.NewNetworkError(err)
		}
		return data, nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, h.statusError(resp, data)
}

// failureBody is the API's error envelope.
type failureBody struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func (h *HTTPClient) statusError(resp *http.Response, data []byte) error {
	status := resp.StatusCode
	message := http.StatusText(status)

	var fb failureBody
	if len(data) > 0 && json.Unmarshal(data, &fb) == nil && fb.Message != "" {
		message = fb.Message
	} else if s := strings.TrimSpace(string(data)); s != "" && len(s) < 512 {
		message = s
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.NewAuthError(status, message)
	case status == http.StatusTooManyRequests:
		return errors.NewRateLimitError(status, message, parseRetryAfter(resp.Header.Get("Retry-After"), h.clock()))
	case status == http.StatusRequestTimeout:
		return &errors.RemoteError{Kind: errors.KindTimeout, Status: status, Message: message}
	case status >= 500:
		return errors.NewServerError(status, message)
	default:
		return errors.NewValidationError(status, message)
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP-date. Unparseable or past
// values yield zero.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
