package resource

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-computetask/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(
		model.Credentials{AccessToken: "tok"},
		model.Endpoint{BaseURL: srv.URL, ResourcePath: "/api/tasks"},
		opts...,
	)
}

func TestCollectionURL(t *testing.T) {
	assert.Equal(t, "http://h/tasks/", collectionURL(model.Endpoint{BaseURL: "http://h/", ResourcePath: "/tasks/"}))
	assert.Equal(t, "http://h/a/b/", collectionURL(model.Endpoint{BaseURL: "http://h", ResourcePath: "a/b"}))
	assert.Equal(t, "http://h/", collectionURL(model.Endpoint{BaseURL: "http://h"}))
}

func TestHTTPClientLookup(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		outcome Outcome
		matches int
	}{
		{name: "no match", body: `[]`, outcome: NotFound},
		{name: "one match", body: `[{"uid":"T1","status":"running"}]`, outcome: Found, matches: 1},
		{name: "two matches", body: `[{"uid":"T1"},{"uid":"T2"}]`, outcome: Ambiguous, matches: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/api/tasks/", r.URL.Path)
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				assert.JSONEq(t, `{"name":"root"}`, r.URL.Query().Get("query"))
				io.WriteString(w, tt.body)
			})

			res, err := c.GetByQueryParams(context.Background(), model.Params{"name": "root"})
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, res.Outcome)
			assert.Equal(t, tt.matches, res.Matches)
			if tt.outcome == Found {
				assert.Equal(t, "T1", res.Task.UID)
			} else {
				assert.Nil(t, res.Task)
			}
		})
	}
}

func TestHTTPClientLookupServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"database error"}`)
	})

	_, err := c.GetByQueryParams(context.Background(), model.Params{"name": "root"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "database error", apiErr.Message)
}

func TestHTTPClientLookupRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `[{"uid":"T1","status":"pending"}]`)
	}, WithBackOff(func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 5)
	}))

	res, err := c.GetByQueryParams(context.Background(), model.Params{"name": "root"})
	require.NoError(t, err)
	assert.Equal(t, Found, res.Outcome)
	assert.EqualValues(t, 3, calls.Load())
}

func TestHTTPClientLookupDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad query", http.StatusBadRequest)
	}, WithBackOff(func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 5)
	}))

	_, err := c.GetByQueryParams(context.Background(), model.Params{"name": "root"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "bad query", apiErr.Message)
	assert.EqualValues(t, 1, calls.Load())
}

func TestHTTPClientCreate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/tasks/", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"name": "root", "config": map[string]any{"x": float64(1)}}, body)

		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"uid":"T9","name":"root","status":"pending","config":{"x":1}}`)
	})

	task, err := c.Create(context.Background(), model.Params{"name": "root", "config": map[string]any{"x": 1}})
	require.NoError(t, err)
	assert.Equal(t, "T9", task.UID)
	assert.Equal(t, "root", task.Name)
	assert.Equal(t, model.StatusPending, task.Status)
}

func TestHTTPClientPartialUpdate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/tasks/T1/", r.URL.Path)
		assert.Equal(t, "last", r.URL.Query().Get("runAs"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "pending", body["status"])

		io.WriteString(w, `{"uid":"T1","status":"pending"}`)
	})

	task, err := c.PartialUpdate(context.Background(), "T1",
		model.Params{"status": "pending"},
		model.Options{model.OptionRunAs: model.RunAsLast},
	)
	require.NoError(t, err)
	assert.Equal(t, "T1", task.UID)
	assert.Equal(t, model.StatusPending, task.Status)
}

func TestHTTPClientGetOrCreate(t *testing.T) {
	var posts atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			io.WriteString(w, `[]`)
		case http.MethodPost:
			posts.Add(1)
			io.WriteString(w, `{"uid":"T2","status":"pending"}`)
		}
	})

	task, err := c.GetOrCreate(context.Background(), model.Params{"name": "p"}, nil, false)
	require.NoError(t, err)
	assert.True(t, task.Failed())
	assert.EqualValues(t, 0, posts.Load())

	task, err = c.GetOrCreate(context.Background(), model.Params{"name": "p"}, nil, true)
	require.NoError(t, err)
	assert.Equal(t, "T2", task.UID)
	assert.EqualValues(t, 1, posts.Load())
}

func TestNewFactory(t *testing.T) {
	f := NewFactory(WithTimeout(time.Second))
	c, ok := f(model.Credentials{}, model.Endpoint{BaseURL: "http://h", ResourcePath: "tasks"}).(*HTTPClient)
	require.True(t, ok)
	assert.Equal(t, "http://h/tasks/", c.collection)
	assert.Equal(t, time.Second, c.httpClient.Timeout)
}
