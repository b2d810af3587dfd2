package main

import (
	"errors"

	"github.com/spf13/cobra"

	"go-computetask/resource"
)

func newReconcileCmd(a *app) *cobra.Command {
	var (
		queryRaw   string
		paramsRaw  string
		paramsFile string
		create     bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Get, create or update the task matching a query",
		Long: `Look up the task matching --query.

Without --create the task is only read; a missing task exits with code 2.
With --create a missing task is created from the query merged with the
parameters, and an existing one is updated with the parameters. An existing
task that has finished, failed or been stopped is reset to pending so the
update runs it again.`,
		Example: `  taskctl reconcile --query '{"name":"mesh","parent":"a1b2"}' --params '{"config":{"cells":1000}}' --create
  taskctl reconcile --query '{"name":"mesh"}' --params-file mesh.yaml --create`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := parseParams("query", queryRaw)
			if err != nil {
				return err
			}
			if len(query) == 0 {
				return errors.New("--query must name at least one field")
			}

			createParams, err := parseParams("params", paramsRaw)
			if err != nil {
				return err
			}
			if paramsFile != "" {
				fileParams, err := loadParamsFile(paramsFile)
				if err != nil {
					return err
				}
				createParams = resource.Merge(fileParams, createParams)
			}

			task, err := a.reconciler.GetCreateOrUpdateTask(cmd.Context(), a.creds, a.endpoint, query, createParams, create)
			if err != nil {
				return err
			}
			return printTask(cmd, task)
		},
	}

	cmd.Flags().StringVar(&queryRaw, "query", "", "JSON object identifying the task")
	cmd.Flags().StringVar(&paramsRaw, "params", "", "JSON object to create or update the task with")
	cmd.Flags().StringVarP(&paramsFile, "params-file", "f", "", "YAML file with parameters; --params keys win")
	cmd.Flags().BoolVar(&create, "create", false, "Create or update the task instead of only reading it")
	_ = cmd.MarkFlagRequired("query")

	return cmd
}
