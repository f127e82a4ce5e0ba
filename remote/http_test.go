package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/metric"
	"github.com/c360/offlinekit/pkg/keys"
	"github.com/c360/offlinekit/pkg/timestamp"
)

type captured struct {
	Method         string
	Path           string
	RawQuery       string
	Body           string
	Authorization  string
	IdempotencyKey string
	ContentType    string
}

type apiServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []captured
	respond  func(w http.ResponseWriter, r *http.Request)
}

func newAPIServer(t *testing.T) *apiServer {
	t.Helper()
	s := &apiServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, captured{
			Method:         r.Method,
			Path:           r.URL.EscapedPath(),
			RawQuery:       r.URL.RawQuery,
			Body:           string(body),
			Authorization:  r.Header.Get("Authorization"),
			IdempotencyKey: r.Header.Get("Idempotency-Key"),
			ContentType:    r.Header.Get("Content-Type"),
		})
		respond := s.respond
		s.mu.Unlock()
		if respond != nil {
			respond(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *apiServer) last() captured {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

func (s *apiServer) setResponse(fn func(w http.ResponseWriter, r *http.Request)) {
	s.mu.Lock()
	s.respond = fn
	s.mu.Unlock()
}

func failWith(status int, body string, headers map[string]string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestNewHTTPClient_Validation(t *testing.T) {
	_, err := NewHTTPClient("")
	assert.True(t, errors.IsInvalid(err))

	_, err = NewHTTPClient("not a url")
	assert.True(t, errors.IsInvalid(err))
}

func TestHTTPClient_Fetch(t *testing.T) {
	srv := newAPIServer(t)
	c, err := NewHTTPClient(srv.URL+"/api/", WithTokenSource(StaticToken("secret")))
	require.NoError(t, err)

	data, err := c.Fetch(context.Background(), keys.For("tasks", "a/1").With("status", "open"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))

	req := srv.last()
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/api/tasks/a%2F1", req.Path)
	assert.Equal(t, "status=open", req.RawQuery)
	assert.Equal(t, "Bearer secret", req.Authorization)
}

func TestHTTPClient_ExecuteMethods(t *testing.T) {
	srv := newAPIServer(t)
	c, err := NewHTTPClient(srv.URL)
	require.NoError(t, err)
	ctx := context.Background()
	payload := json.RawMessage(`{"title":"inspect"}`)

	tests := []struct {
		name     string
		mutation Mutation
		method   string
		path     string
		body     string
	}{
		{"create", Mutation{Resource: "tasks", Kind: KindCreate, ID: "ignored", Payload: payload, IdempotencyKey: "k1"}, http.MethodPost, "/tasks", `{"title":"inspect"}`},
		{"update", Mutation{Resource: "tasks", Kind: KindUpdate, ID: "7", Payload: payload, IdempotencyKey: "k2"}, http.MethodPatch, "/tasks/7", `{"title":"inspect"}`},
		{"delete", Mutation{Resource: "tasks", Kind: KindDelete, ID: "7", Payload: payload, IdempotencyKey: "k3"}, http.MethodDelete, "/tasks/7", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Execute(ctx, tt.mutation)
			require.NoError(t, err)

			req := srv.last()
			assert.Equal(t, tt.method, req.Method)
			assert.Equal(t, tt.path, req.Path)
			assert.Equal(t, tt.body, req.Body)
			assert.Equal(t, tt.mutation.IdempotencyKey, req.IdempotencyKey)
			if tt.body != "" {
				assert.Equal(t, "application/json", req.ContentType)
			}
		})
	}
}

func TestHTTPClient_ExecuteRejectsBadMutations(t *testing.T) {
	c, err := NewHTTPClient("http://127.0.0.1:1")
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), Mutation{Resource: "tasks", Kind: "upsert"})
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	_, err = c.Execute(context.Background(), Mutation{Resource: "tasks", Kind: KindUpdate})
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	_, err = c.Execute(context.Background(), Mutation{Kind: KindCreate})
	assert.True(t, errors.IsInvalid(err))
}

func TestHTTPClient_StatusMapping(t *testing.T) {
	srv := newAPIServer(t)
	c, err := NewHTTPClient(srv.URL)
	require.NoError(t, err)

	tests := []struct {
		status  int
		body    string
		kind    errors.Kind
		message string
	}{
		{401, `{"status":401,"message":"token expired"}`, errors.KindAuth, "token expired"},
		{403, ``, errors.KindAuth, "Forbidden"},
		{400, `{"status":400,"message":"title required"}`, errors.KindValidation, "title required"},
		{404, `not here`, errors.KindValidation, "not here"},
		{409, `{}`, errors.KindValidation, "{}"},
		{422, `{"status":422,"message":"bad date"}`, errors.KindValidation, "bad date"},
		{408, ``, errors.KindTimeout, "Request Timeout"},
		{500, `{"status":500,"message":"boom"}`, errors.KindServer, "boom"},
		{503, ``, errors.KindServer, "Service Unavailable"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv.setResponse(failWith(tt.status, tt.body, nil))
			_, err := c.Fetch(context.Background(), keys.For("tasks"))
			require.Error(t, err)

			var re *errors.RemoteError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, tt.kind, re.Kind)
			assert.Equal(t, tt.status, re.Status)
			assert.Equal(t, tt.message, re.Message)
		})
	}
}

func TestHTTPClient_RateLimitRetryAfter(t *testing.T) {
	srv := newAPIServer(t)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	c, err := NewHTTPClient(srv.URL, WithClock(timestamp.NewFake(now).Clock()))
	require.NoError(t, err)

	srv.setResponse(failWith(429, `{"status":429,"message":"slow down"}`, map[string]string{"Retry-After": "12"}))
	_, err = c.Fetch(context.Background(), keys.For("tasks"))
	d, ok := errors.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 12*time.Second, d)
	assert.True(t, errors.IsRetryable(err))

	date := now.Add(30 * time.Second).Format(http.TimeFormat)
	srv.setResponse(failWith(429, ``, map[string]string{"Retry-After": date}))
	_, err = c.Fetch(context.Background(), keys.For("tasks"))
	d, ok = errors.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, d)

	srv.setResponse(failWith(429, ``, nil))
	_, err = c.Fetch(context.Background(), keys.For("tasks"))
	assert.Equal(t, errors.KindRateLimit, errors.KindOf(err))
	_, ok = errors.RetryAfter(err)
	assert.False(t, ok)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-3", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
	assert.Equal(t, 5*time.Second, parseRetryAfter(" 5 ", now))
}

func TestHTTPClient_NetworkAndTimeout(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	c, err := NewHTTPClient(url)
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), keys.For("tasks"))
	assert.Equal(t, errors.KindNetwork, errors.KindOf(err))
	assert.True(t, errors.IsRetryable(err))

	srv := newAPIServer(t)
	srv.setResponse(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	slow, err := NewHTTPClient(srv.URL, WithTimeout(20*time.Millisecond))
	require.NoError(t, err)
	_, err = slow.Fetch(context.Background(), keys.For("tasks"))
	assert.Equal(t, errors.KindTimeout, errors.KindOf(err))
	assert.True(t, errors.IsRetryable(err))
}

func TestHTTPClient_CallerCancellation(t *testing.T) {
	srv := newAPIServer(t)
	c, err := NewHTTPClient(srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Fetch(ctx, keys.For("tasks"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPClient_TokenFailureIsAuth(t *testing.T) {
	srv := newAPIServer(t)
	c, err := NewHTTPClient(srv.URL, WithTokenSource(TokenFunc(func(context.Context) (string, error) {
		return "", errors.New("session expired")
	})))
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), keys.For("tasks"))
	assert.Equal(t, errors.KindAuth, errors.KindOf(err))
	assert.False(t, errors.IsRetryable(err))
}

func TestHTTPClient_Metrics(t *testing.T) {
	srv := newAPIServer(t)
	registry := metric.NewMetricsRegistry()
	c, err := NewHTTPClient(srv.URL, WithMetrics(registry), WithRateLimit(1000, 10), WithHeader("X-Client", "offlinekit"))
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), keys.For("tasks"))
	require.NoError(t, err)

	srv.setResponse(failWith(500, ``, nil))
	_, err = c.Fetch(context.Background(), keys.For("tasks"))
	require.Error(t, err)

	core := registry.CoreMetrics()
	assert.Equal(t, 1, testutil.CollectAndCount(core.RemoteDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.ErrorsTotal.WithLabelValues(componentName, "server")))
}
