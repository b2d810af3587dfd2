package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"go-computetask/config"
	"go-computetask/model"
	"go-computetask/resource"
	"go-computetask/tasks"
)

// errSoftFailure is returned after a soft-failure task has been printed.
var errSoftFailure = errors.New("task not found")

type app struct {
	envFile string
	url     string
	path    string
	token   string

	reconciler *tasks.Reconciler
	endpoint   model.Endpoint
	creds      model.Credentials
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "taskctl",
		Short: "Reconcile compute tasks against a remote task API",
		Long: `taskctl finds a task matching a query and leaves it alone, updates it
(re-running it if it already finished, failed or was stopped) or creates it.

Connection settings come from the environment (COMPUTE_URL, COMPUTE_TASK_PATH,
COMPUTE_TOKEN, HTTP_TIMEOUT, HTTP_RETRIES, LOG_LEVEL), optionally loaded from
a .env file, and can be overridden with flags.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Dotenv file to load before reading the environment")
	root.PersistentFlags().StringVar(&a.url, "url", "", "Base URL of the task API (overrides COMPUTE_URL)")
	root.PersistentFlags().StringVar(&a.path, "path", "", "Resource path of the task collection (overrides COMPUTE_TASK_PATH)")
	root.PersistentFlags().StringVar(&a.token, "token", "", "Access token (overrides COMPUTE_TOKEN)")

	root.AddCommand(newReconcileCmd(a), newParentCmd(a))
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return err
	}
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	if a.url != "" {
		cfg.Endpoint.BaseURL = a.url
	}
	if a.path != "" {
		cfg.Endpoint.ResourcePath = a.path
	}
	if a.token != "" {
		cfg.Credentials.AccessToken = a.token
	}
	a.endpoint = cfg.Endpoint
	a.creds = cfg.Credentials

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.LogLevel}))

	opts := []resource.Option{
		resource.WithTimeout(cfg.Timeout),
		resource.WithLogger(logger),
	}
	if cfg.Retries > 0 {
		retries := cfg.Retries
		opts = append(opts, resource.WithBackOff(func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries)
		}))
	}

	a.reconciler = tasks.NewReconciler(resource.NewFactory(opts...), tasks.WithLogger(logger))
	return nil
}

// printTask writes task as indented JSON and turns a soft failure into
// errSoftFailure.
func printTask(cmd *cobra.Command, task *model.Task) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(task); err != nil {
		return err
	}
	if task.Failed() {
		return errSoftFailure
	}
	return nil
}

// parseParams decodes a JSON object flag value.
func parseParams(flag, raw string) (model.Params, error) {
	if raw == "" {
		return model.Params{}, nil
	}
	params := model.Params{}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("--%s must be a JSON object: %w", flag, err)
	}
	return params, nil
}

// loadParamsFile decodes a YAML (or JSON) mapping from path.
func loadParamsFile(path string) (model.Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	params := model.Params{}
	if err := yaml.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return params, nil
}
