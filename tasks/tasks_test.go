package tasks

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-computetask/model"
	"go-computetask/resource"
)

type updateCall struct {
	uid     string
	params  model.Params
	options model.Options
}

type getOrCreateCall struct {
	query        model.Params
	createParams model.Params
	create       bool
}

// fakeClient is an in-memory task collection that records every call.
type fakeClient struct {
	tasks     []*model.Task
	lookupErr error

	lookups      int
	creates      []model.Params
	updates      []updateCall
	getOrCreates []getOrCreateCall
	getOrCreate  func(query, createParams model.Params, create bool) (*model.Task, error)
}

func (f *fakeClient) factory() resource.Factory {
	return func(model.Credentials, model.Endpoint) resource.Client { return f }
}

func (f *fakeClient) GetByQueryParams(ctx context.Context, query model.Params) (resource.LookupResult, error) {
	f.lookups++
	if f.lookupErr != nil {
		return resource.LookupResult{}, f.lookupErr
	}
	var matches []*model.Task
	for _, task := range f.tasks {
		if name, ok := query["name"]; !ok || name == task.Name {
			matches = append(matches, task)
		}
	}
	switch len(matches) {
	case 0:
		return resource.LookupResult{Outcome: resource.NotFound}, nil
	case 1:
		copied := *matches[0]
		return resource.LookupResult{Outcome: resource.Found, Task: &copied, Matches: 1}, nil
	default:
		return resource.LookupResult{Outcome: resource.Ambiguous, Matches: len(matches)}, nil
	}
}

func (f *fakeClient) Create(ctx context.Context, params model.Params) (*model.Task, error) {
	f.creates = append(f.creates, params)
	name, _ := params["name"].(string)
	task := &model.Task{UID: fmt.Sprintf("T%d", len(f.tasks)+1), Name: name, Status: model.StatusPending}
	f.tasks = append(f.tasks, task)
	copied := *task
	return &copied, nil
}

func (f *fakeClient) PartialUpdate(ctx context.Context, uid string, params model.Params, options model.Options) (*model.Task, error) {
	f.updates = append(f.updates, updateCall{uid: uid, params: params, options: options})
	for _, task := range f.tasks {
		if task.UID == uid {
			if status, ok := params["status"].(string); ok {
				task.Status = status
			}
			copied := *task
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("task %s not found", uid)
}

func (f *fakeClient) GetOrCreate(ctx context.Context, query, createParams model.Params, create bool) (*model.Task, error) {
	f.getOrCreates = append(f.getOrCreates, getOrCreateCall{query: query, createParams: createParams, create: create})
	if f.getOrCreate != nil {
		return f.getOrCreate(query, createParams, create)
	}
	return resource.GetOrCreate(ctx, f, f, query, createParams, create)
}

var (
	creds    = model.Credentials{AccessToken: "token"}
	endpoint = model.Endpoint{BaseURL: "http://compute", ResourcePath: "/api/task/"}
)

func TestGetCreateOrUpdateTask_TerminalReset(t *testing.T) {
	f := &fakeClient{tasks: []*model.Task{{UID: "T1", Name: "root", Status: model.StatusFinished}}}
	r := NewReconciler(f.factory())

	createParams := model.Params{"config": map[string]any{"x": 1}}
	task, err := r.GetCreateOrUpdateTask(context.Background(), creds, endpoint,
		model.Params{"name": "root"}, createParams, true)
	require.NoError(t, err)

	assert.Equal(t, "T1", task.UID)
	assert.False(t, model.IsTerminal(task.Status))
	require.Len(t, f.updates, 1)
	assert.Equal(t, updateCall{
		uid:     "T1",
		params:  model.Params{"config": map[string]any{"x": 1}, "status": "pending"},
		options: model.Options{"runAs": "last"},
	}, f.updates[0])
	assert.Empty(t, f.creates)

	// caller's map is left alone
	assert.NotContains(t, createParams, "status")
}

func TestGetCreateOrUpdateTask_ResetsEveryTerminalStatus(t *testing.T) {
	for _, status := range []string{model.StatusFailed, model.StatusFinished, model.StatusStopped} {
		t.Run(status, func(t *testing.T) {
			f := &fakeClient{tasks: []*model.Task{{UID: "T1", Name: "root", Status: status}}}
			r := NewReconciler(f.factory())

			task, err := r.GetCreateOrUpdateTask(context.Background(), creds, endpoint,
				model.Params{"name": "root"}, nil, true)
			require.NoError(t, err)
			assert.Equal(t, model.StatusPending, task.Status)
			require.Len(t, f.updates, 1)
			assert.Equal(t, model.Params{"status": "pending"}, f.updates[0].params)
		})
	}
}

func TestGetCreateOrUpdateTask_NonTerminalUpdate(t *testing.T) {
	f := &fakeClient{tasks: []*model.Task{{UID: "T1", Name: "root", Status: model.StatusRunning}}}
	r := NewReconciler(f.factory())

	task, err := r.GetCreateOrUpdateTask(context.Background(), creds, endpoint,
		model.Params{"name": "root"}, model.Params{"config": map[string]any{"x": 2}}, true)
	require.NoError(t, err)

	assert.Equal(t, model.StatusRunning, task.Status)
	require.Len(t, f.updates, 1)
	assert.Equal(t, model.Params{"config": map[string]any{"x": 2}}, f.updates[0].params)
}

func TestGetCreateOrUpdateTask_FoundReadOnly(t *testing.T) {
	f := &fakeClient{tasks: []*model.Task{{UID: "T1", Name: "root", Status: model.StatusFailed}}}
	r := NewReconciler(f.factory())

	task, err := r.GetCreateOrUpdateTask(context.Background(), creds, endpoint,
		model.Params{"name": "root"}, model.Params{"config": map[string]any{"x": 1}}, false)
	require.NoError(t, err)

	assert.Equal(t, &model.Task{UID: "T1", Name: "root", Status: model.StatusFailed}, task)
	assert.Equal(t, 1, f.lookups)
	assert.Empty(t, f.updates)
	assert.Empty(t, f.creates)
}

func TestGetCreateOrUpdateTask_NotFoundCreates(t *testing.T) {
	f := &fakeClient{}
	r := NewReconciler(f.factory())

	query := model.Params{"name": "root", "config": map[string]any{"a": 1}}
	createParams := model.Params{"config": map[string]any{"b": 2}, "copy_from": "T0"}
	task, err := r.GetCreateOrUpdateTask(context.Background(), creds, endpoint, query, createParams, true)
	require.NoError(t, err)

	assert.Equal(t, "T1", task.UID)
	require.Len(t, f.creates, 1)
	assert.Equal(t, model.Params{
		"name":      "root",
		"config":    map[string]any{"b": 2},
		"copy_from": "T0",
	}, f.creates[0])
	assert.Empty(t, f.updates)
}

func TestGetCreateOrUpdateTask_NotFoundSoftFailure(t *testing.T) {
	f := &fakeClient{}
	r := NewReconciler(f.factory())

	task, err := r.GetCreateOrUpdateTask(context.Background(), creds, endpoint,
		model.Params{"name": "missing"}, model.Params{"x": 1}, false)
	require.NoError(t, err)

	require.True(t, task.Failed())
	assert.Empty(t, task.UID)
	assert.Equal(t, []string{resource.NotFoundMessage(model.Params{"name": "missing"})}, task.ErrorMessages)
	assert.Empty(t, f.creates)
	assert.Empty(t, f.updates)
}

func TestGetCreateOrUpdateTask_Idempotent(t *testing.T) {
	f := &fakeClient{}
	r := NewReconciler(f.factory())
	query := model.Params{"name": "root"}

	first, err := r.GetCreateOrUpdateTask(context.Background(), creds, endpoint, query, nil, true)
	require.NoError(t, err)
	second, err := r.GetCreateOrUpdateTask(context.Background(), creds, endpoint, query, nil, true)
	require.NoError(t, err)

	assert.Equal(t, first.UID, second.UID)
	assert.Len(t, f.creates, 1)
	assert.Len(t, f.updates, 1)
}

func TestGetCreateOrUpdateTask_LookupErrorPropagates(t *testing.T) {
	boom := errors.New("connection reset")
	f := &fakeClient{lookupErr: boom}
	r := NewReconciler(f.factory())

	for _, create := range []bool{true, false} {
		task, err := r.GetCreateOrUpdateTask(context.Background(), creds, endpoint,
			model.Params{"name": "root"}, nil, create)
		assert.ErrorIs(t, err, boom)
		assert.Nil(t, task)
	}
	assert.Empty(t, f.creates)
	assert.Empty(t, f.updates)
}

func TestGetCreateOrUpdateTask_Ambiguous(t *testing.T) {
	f := &fakeClient{tasks: []*model.Task{
		{UID: "T1", Name: "root", Status: model.StatusFinished},
		{UID: "T2", Name: "root", Status: model.StatusFinished},
	}}
	r := NewReconciler(f.factory())

	_, err := r.GetCreateOrUpdateTask(context.Background(), creds, endpoint,
		model.Params{"name": "root"}, nil, true)
	require.ErrorIs(t, err, resource.ErrAmbiguous)
	assert.Empty(t, f.creates)
	assert.Empty(t, f.updates)
}

func TestCreateParent(t *testing.T) {
	f := &fakeClient{}
	r := NewReconciler(f.factory())

	task, err := r.CreateParent(context.Background(), creds, endpoint, "project",
		map[string]any{"parent": "P0", "copy_from": "T7", "ignored": true}, true)
	require.NoError(t, err)
	assert.Equal(t, "T1", task.UID)

	require.Len(t, f.getOrCreates, 1)
	call := f.getOrCreates[0]
	assert.True(t, call.create)
	assert.Equal(t, model.Params{"name": "project", "parent": "P0"}, call.query)
	assert.Equal(t, model.Params{
		"config":    map[string]any{"case_dir": "foam", "task_type": "parent"},
		"copy_from": "T7",
	}, call.createParams)
}

func TestCreateParent_MinimalOverrides(t *testing.T) {
	f := &fakeClient{}
	r := NewReconciler(f.factory())

	_, err := r.CreateParent(context.Background(), creds, endpoint, "project", nil, true)
	require.NoError(t, err)

	call := f.getOrCreates[0]
	assert.Equal(t, model.Params{"name": "project"}, call.query)
	assert.Equal(t, model.Params{
		"config": map[string]any{"case_dir": "foam", "task_type": "parent"},
	}, call.createParams)
}

func TestCreateParent_DoesNotResetTerminalParent(t *testing.T) {
	f := &fakeClient{tasks: []*model.Task{{UID: "T1", Name: "project", Status: model.StatusFinished}}}
	r := NewReconciler(f.factory())

	task, err := r.CreateParent(context.Background(), creds, endpoint, "project", nil, true)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFinished, task.Status)
	assert.Empty(t, f.updates)
	assert.Empty(t, f.creates)
}

func TestCreateParent_EscalatesSoftFailure(t *testing.T) {
	f := &fakeClient{getOrCreate: func(model.Params, model.Params, bool) (*model.Task, error) {
		return model.ErrorTask("boom", "second"), nil
	}}
	r := NewReconciler(f.factory())

	task, err := r.CreateParent(context.Background(), creds, endpoint, "project", nil, true)
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
	assert.Nil(t, task)
}

func TestCreateParent_MissingWithoutCreate(t *testing.T) {
	f := &fakeClient{}
	r := NewReconciler(f.factory())

	_, err := r.CreateParent(context.Background(), creds, endpoint, "project", nil, false)
	require.Error(t, err)
	assert.Equal(t, resource.NotFoundMessage(model.Params{"name": "project"}), err.Error())
	assert.Empty(t, f.creates)
}
