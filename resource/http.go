package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"go-computetask/model"
)

// DefaultHTTPTimeout bounds every request unless WithTimeout or
// WithHTTPClient says otherwise.
const DefaultHTTPTimeout = 30 * time.Second

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote API returned %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// HTTPClient talks to a task collection over a REST API:
//
//	GET    {collection}?query={json}   lookup, returns a JSON array
//	POST   {collection}                create
//	PATCH  {collection}{uid}/?runAs=…  partial update
type HTTPClient struct {
	collection string
	creds      model.Credentials
	httpClient *http.Client
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *HTTPClient) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		c.httpClient = &http.Client{Timeout: d}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *HTTPClient) {
		c.logger = logger
	}
}

// WithBackOff retries lookups that fail with a transport error or a
// temporary API error. Create and update requests are never retried.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *HTTPClient) {
		c.newBackOff = newBackOff
	}
}

// NewHTTPClient creates a client for the collection identified by endpoint.
func NewHTTPClient(creds model.Credentials, endpoint model.Endpoint, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		collection: collectionURL(endpoint),
		creds:      creds,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewFactory returns a Factory producing HTTPClients configured with opts.
func NewFactory(opts ...Option) Factory {
	return func(creds model.Credentials, endpoint model.Endpoint) Client {
		return NewHTTPClient(creds, endpoint, opts...)
	}
}

func collectionURL(endpoint model.Endpoint) string {
	base := strings.TrimRight(endpoint.BaseURL, "/")
	path := strings.Trim(endpoint.ResourcePath, "/")
	if path == "" {
		return base + "/"
	}
	return base + "/" + path + "/"
}

// GetByQueryParams implements Client.
func (c *HTTPClient) GetByQueryParams(ctx context.Context, query model.Params) (LookupResult, error) {
	encoded, err := json.Marshal(query)
	if err != nil {
		return LookupResult{}, fmt.Errorf("encode query: %w", err)
	}
	u := c.collection + "?" + url.Values{"query": {string(encoded)}}.Encode()

	var tasks []model.Task
	op := func() error {
		tasks = nil
		return c.do(ctx, http.MethodGet, u, nil, &tasks)
	}
	if err := c.retry(ctx, op); err != nil {
		return LookupResult{}, fmt.Errorf("lookup task: %w", err)
	}

	c.logger.Debug("Task lookup", "query", string(encoded), "matches", len(tasks))

	switch len(tasks) {
	case 0:
		return LookupResult{Outcome: NotFound}, nil
	case 1:
		return LookupResult{Outcome: Found, Task: &tasks[0], Matches: 1}, nil
	default:
		return LookupResult{Outcome: Ambiguous, Matches: len(tasks)}, nil
	}
}

// Create implements Client.
func (c *HTTPClient) Create(ctx context.Context, params model.Params) (*model.Task, error) {
	var task model.Task
	if err := c.do(ctx, http.MethodPost, c.collection, params, &task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return &task, nil
}

// PartialUpdate implements Client. Options are sent as query-string values.
func (c *HTTPClient) PartialUpdate(ctx context.Context, uid string, params model.Params, options model.Options) (*model.Task, error) {
	u := c.collection + url.PathEscape(uid) + "/"
	if len(options) > 0 {
		values := url.Values{}
		for k, v := range options {
			values.Set(k, fmt.Sprint(v))
		}
		u += "?" + values.Encode()
	}

	var task model.Task
	if err := c.do(ctx, http.MethodPatch, u, params, &task); err != nil {
		return nil, fmt.Errorf("update task %s: %w", uid, err)
	}
	return &task, nil
}

// GetOrCreate implements Client.
func (c *HTTPClient) GetOrCreate(ctx context.Context, query, createParams model.Params, create bool) (*model.Task, error) {
	return GetOrCreate(ctx, c, c, query, createParams, create)
}

func (c *HTTPClient) retry(ctx context.Context, op func() error) error {
	if c.newBackOff == nil {
		return op()
	}

	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(c.newBackOff(), ctx), func(err error, wait time.Duration) {
		c.logger.Warn("Retrying task lookup", "error", err, "wait", wait)
	})
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func (c *HTTPClient) do(ctx context.Context, method, u string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.creds.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.creds.AccessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readAPIError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
