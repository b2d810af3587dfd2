// Package resource defines the contract for looking up, creating and updating
// tasks in a remote collection, plus an HTTP implementation of it.
package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go-computetask/model"
)

// Outcome tags the result of a lookup.
type Outcome int

const (
	NotFound Outcome = iota
	Found
	// Ambiguous means more than one task matched the query.
	Ambiguous
)

func (o Outcome) String() string {
	switch o {
	case NotFound:
		return "not found"
	case Found:
		return "found"
	case Ambiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

// LookupResult is returned by GetByQueryParams. Task is set only when
// Outcome is Found.
type LookupResult struct {
	Outcome Outcome
	Task    *model.Task
	Matches int
}

// ErrAmbiguous is matched by errors returned when a query resolves to more
// than one task.
var ErrAmbiguous = errors.New("query matched more than one task")

// Client performs lookup/create/update against one remote task collection.
type Client interface {
	// GetByQueryParams looks up the unique task matching query. The error is
	// reserved for failures other than "no match" and "more than one match".
	GetByQueryParams(ctx context.Context, query model.Params) (LookupResult, error)

	Create(ctx context.Context, params model.Params) (*model.Task, error)

	PartialUpdate(ctx context.Context, uid string, params model.Params, options model.Options) (*model.Task, error)

	// GetOrCreate returns the task matching query, creating it from
	// query merged with createParams when it is absent and create is set.
	// When it is absent and create is not set it returns a soft-failure task.
	GetOrCreate(ctx context.Context, query, createParams model.Params, create bool) (*model.Task, error)
}

// Factory binds credentials and an endpoint to a Client.
type Factory func(creds model.Credentials, endpoint model.Endpoint) Client

// Merge returns query overlaid by createParams. The merge is shallow: on a key
// collision the createParams value replaces the query value whole, nested
// maps included. Neither argument is modified.
func Merge(query, createParams model.Params) model.Params {
	merged := query.Clone()
	for k, v := range createParams {
		merged[k] = v
	}
	return merged
}

// NotFoundMessage is the soft-failure message for a query with no match.
func NotFoundMessage(query model.Params) string {
	encoded, err := json.Marshal(query)
	if err != nil {
		return fmt.Sprintf("no task found matching query %v", map[string]any(query))
	}
	return fmt.Sprintf("no task found matching query %s", encoded)
}

// AmbiguousMatchError reports a lookup that matched several tasks.
type AmbiguousMatchError struct {
	Query   model.Params
	Matches int
}

func (e *AmbiguousMatchError) Error() string {
	encoded, _ := json.Marshal(e.Query)
	return fmt.Sprintf("query %s matched %d tasks", encoded, e.Matches)
}

func (e *AmbiguousMatchError) Unwrap() error { return ErrAmbiguous }

// Lookuper and Creator are the two halves of Client that GetOrCreate needs.
type Lookuper interface {
	GetByQueryParams(ctx context.Context, query model.Params) (LookupResult, error)
}

type Creator interface {
	Create(ctx context.Context, params model.Params) (*model.Task, error)
}

// GetOrCreate implements Client.GetOrCreate on top of a lookup and a create
// call. It does not reset tasks in a terminal status.
func GetOrCreate(ctx context.Context, l Lookuper, c Creator, query, createParams model.Params, create bool) (*model.Task, error) {
	res, err := l.GetByQueryParams(ctx, query)
	if err != nil {
		return nil, err
	}

	switch res.Outcome {
	case Found:
		return res.Task, nil
	case Ambiguous:
		return nil, &AmbiguousMatchError{Query: query, Matches: res.Matches}
	}

	if !create {
		return model.ErrorTask(NotFoundMessage(query)), nil
	}
	return c.Create(ctx, Merge(query, createParams))
}
