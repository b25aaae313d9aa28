package main

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jordanhubbard/ouroboros/pkg/models"
)

func newWorkItemCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "work-item",
		Aliases: []string{"wi"},
		Short:   "Manage work items",
	}
	cmd.AddCommand(newWorkItemListCommand())
	cmd.AddCommand(newWorkItemSubmitCommand())
	cmd.AddCommand(newWorkItemShowCommand())
	cmd.AddCommand(newWorkItemProcessCommand())
	return cmd
}

func newWorkItemListCommand() *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items, oldest first",
		Example: `  ouroborosctl work-item list
  ouroborosctl wi list --status=failed -o table`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if status != "" {
				params.Set("status", status)
			}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			data, err := newClient().get("/api/v1/work-items", params)
			if err != nil {
				return err
			}
			if outputFormat == "table" {
				return printWorkItems(cmd.OutOrStdout(), data)
			}
			outputJSON(cmd.OutOrStdout(), data)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, in_progress, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of items")
	return cmd
}

func newWorkItemSubmitCommand() *cobra.Command {
	var createdBy string
	cmd := &cobra.Command{
		Use:     "submit <description>",
		Short:   "Submit a new work item",
		Example: `  ouroborosctl work-item submit "Add a retry helper to the HTTP client" --created-by=alice`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			description := strings.Join(args, " ")
			if err := models.ValidateDescription(description); err != nil {
				return err
			}
			data, err := newClient().post("/api/v1/work-items", map[string]string{
				"description": description,
				"created_by":  createdBy,
			})
			if err != nil {
				return err
			}
			outputJSON(cmd.OutOrStdout(), data)
			return nil
		},
	}
	cmd.Flags().StringVar(&createdBy, "created-by", envOr("USER", ""), "Originator tag")
	return cmd
}

func newWorkItemShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/work-items/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return err
			}
			outputJSON(cmd.OutOrStdout(), data)
			return nil
		},
	}
}

func newWorkItemProcessCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "process <id>",
		Short: "Claim and process one pending work item now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().post("/api/v1/work-items/"+url.PathEscape(args[0])+"/process", nil)
			if err != nil {
				return err
			}
			outputJSON(cmd.OutOrStdout(), data)
			return nil
		},
	}
}
