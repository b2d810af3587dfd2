// Package tasks reconciles desired task parameters against a remote task
// collection.
//
// GetCreateOrUpdateTask reports a missing task that may not be created as a
// soft failure (a returned task carrying ErrorMessages). CreateParent turns
// that same soft failure into an error. Callers rely on the difference.
package tasks

import (
	"context"
	"errors"
	"log/slog"

	"go-computetask/model"
	"go-computetask/resource"
)

// Reconciler binds credentials and endpoints to resource clients and applies
// the get-or-create-or-update policy.
type Reconciler struct {
	newClient resource.Factory
	logger    *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// NewReconciler creates a Reconciler that obtains clients from newClient.
func NewReconciler(newClient resource.Factory, opts ...Option) *Reconciler {
	r := &Reconciler{
		newClient: newClient,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetCreateOrUpdateTask finds the task matching query and:
//   - returns it unchanged when create is false;
//   - updates it with createParams when create is true, resetting it to
//     pending first if it reached a terminal status;
//   - creates it from query merged with createParams when it does not exist
//     and create is true;
//   - returns a soft-failure task when it does not exist and create is false.
//
// Lookup failures other than "no match" are returned as errors. createParams
// is never modified.
func (r *Reconciler) GetCreateOrUpdateTask(
	ctx context.Context,
	creds model.Credentials,
	endpoint model.Endpoint,
	query model.Params,
	createParams model.Params,
	create bool,
) (*model.Task, error) {
	client := r.newClient(creds, endpoint)

	res, err := client.GetByQueryParams(ctx, query)
	if err != nil {
		return nil, err
	}

	switch res.Outcome {
	case resource.Found:
		task := res.Task
		if !create {
			return task, nil
		}

		params := createParams.Clone()
		if model.IsTerminal(task.Status) {
			r.logger.Debug("Setting status to pending", "uid", task.UID, "status", task.Status)
			params["status"] = model.StatusPending
		}

		r.logger.Info("Updating task", "uid", task.UID)
		return client.PartialUpdate(ctx, task.UID, params, model.Options{model.OptionRunAs: model.RunAsLast})

	case resource.Ambiguous:
		return nil, &resource.AmbiguousMatchError{Query: query, Matches: res.Matches}
	}

	if create {
		merged := resource.Merge(query, createParams)
		r.logger.Info("Creating task", "params", merged)
		return client.Create(ctx, merged)
	}

	msg := resource.NotFoundMessage(query)
	r.logger.Error("Task lookup failed and creation is disabled", "error", msg)
	return model.ErrorTask(msg), nil
}

const (
	parentCaseDir  = "foam"
	parentTaskType = "parent"
)

// CreateParent gets or creates the parent task named taskName. overrides may
// carry "parent" (added to the lookup) and "copy_from" (added to the create
// payload). Terminal parents are not reset. A missing parent that may not be
// created is returned as an error whose message is the soft-failure message.
func (r *Reconciler) CreateParent(
	ctx context.Context,
	creds model.Credentials,
	endpoint model.Endpoint,
	taskName string,
	overrides map[string]any,
	create bool,
) (*model.Task, error) {
	query := model.Params{"name": taskName}
	if parent, ok := overrides["parent"]; ok {
		query["parent"] = parent
	}

	createParams := model.Params{
		"config": map[string]any{
			"case_dir":  parentCaseDir,
			"task_type": parentTaskType,
		},
	}
	if copyFrom, ok := overrides["copy_from"]; ok {
		createParams["copy_from"] = copyFrom
	}

	task, err := r.newClient(creds, endpoint).GetOrCreate(ctx, query, createParams, create)
	if err != nil {
		return nil, err
	}
	if task.Failed() {
		return nil, errors.New(task.ErrorMessages[0])
	}
	return task, nil
}
