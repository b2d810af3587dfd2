package main

import (
	"github.com/spf13/cobra"
)

func newParentCmd(a *app) *cobra.Command {
	var (
		parent   string
		copyFrom string
		create   bool
	)

	cmd := &cobra.Command{
		Use:   "parent NAME",
		Short: "Get or create a parent task",
		Long: `Get the parent task called NAME, creating it when --create is set.

Unlike reconcile, an existing parent is never updated or reset, and a
missing parent without --create is an error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := map[string]any{}
			if cmd.Flags().Changed("parent") {
				overrides["parent"] = parent
			}
			if cmd.Flags().Changed("copy-from") {
				overrides["copy_from"] = copyFrom
			}

			task, err := a.reconciler.CreateParent(cmd.Context(), a.creds, a.endpoint, args[0], overrides, create)
			if err != nil {
				return err
			}
			return printTask(cmd, task)
		},
	}

	cmd.Flags().StringVar(&parent, "parent", "", "UID of the task this parent belongs to")
	cmd.Flags().StringVar(&copyFrom, "copy-from", "", "UID of a task to copy files from on creation")
	cmd.Flags().BoolVar(&create, "create", false, "Create the parent if it does not exist")

	return cmd
}
