package main

import (
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

func newBackendsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List generation backends and their availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/backends", nil)
			if err != nil {
				return err
			}
			if outputFormat == "table" {
				return printBackends(cmd.OutOrStdout(), data)
			}
			outputJSON(cmd.OutOrStdout(), data)
			return nil
		},
	}
}

func newEventsCommand() *cobra.Command {
	var (
		eventType string
		limit     int
		follow    bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent lifecycle events",
		Example: `  ouroborosctl events --type=work_item.failed
  ouroborosctl events --follow`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if eventType != "" {
				params.Set("type", eventType)
			}
			client := newClient()
			if follow {
				return client.streamSSE("/api/v1/events/stream", params, cmd.OutOrStdout())
			}
			params.Set("limit", strconv.Itoa(limit))
			data, err := client.get("/api/v1/events", params)
			if err != nil {
				return err
			}
			outputJSON(cmd.OutOrStdout(), data)
			return nil
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "Filter by event type")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of events")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream events as they happen")
	return cmd
}

func newLogsCommand() *cobra.Command {
	var (
		level      string
		component  string
		workItemID string
		since      string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent server log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			params.Set("limit", strconv.Itoa(limit))
			for k, v := range map[string]string{
				"level":        level,
				"component":    component,
				"work_item_id": workItemID,
				"since":        since,
			} {
				if v != "" {
					params.Set(k, v)
				}
			}
			data, err := newClient().get("/api/v1/logs", params)
			if err != nil {
				return err
			}
			outputJSON(cmd.OutOrStdout(), data)
			return nil
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "Filter by level")
	cmd.Flags().StringVar(&component, "component", "", "Filter by component")
	cmd.Flags().StringVar(&workItemID, "work-item", "", "Filter by work item id")
	cmd.Flags().StringVar(&since, "since", "", "Only entries after this RFC3339 time")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of entries")
	return cmd
}
