package main

import (
	"github.com/spf13/cobra"
)

func newAgentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Inspect and trigger the lifecycle poller",
	}
	cmd.AddCommand(simpleGet("status", "Show poller stats and work item counts", "/api/v1/agent/status"))
	cmd.AddCommand(simplePost("trigger", "Run a poll now if a worker is free", "/api/v1/agent/trigger"))
	return cmd
}

func newTrackerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tracker",
		Short: "Inspect and drive tracker sync",
	}
	cmd.AddCommand(simpleGet("status", "Show sync cursor and last cycle report", "/api/v1/tracker/status"))
	cmd.AddCommand(simplePost("sync", "Run one sync cycle and print its report", "/api/v1/tracker/sync"))
	cmd.AddCommand(setTrackerEnabled("enable", true))
	cmd.AddCommand(setTrackerEnabled("disable", false))
	return cmd
}

func setTrackerEnabled(use string, enabled bool) *cobra.Command {
	short := "Turn tracker sync off at runtime"
	if enabled {
		short = "Turn tracker sync on at runtime"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().put("/api/v1/tracker/enabled", map[string]bool{"enabled": enabled})
			if err != nil {
				return err
			}
			outputJSON(cmd.OutOrStdout(), data)
			return nil
		},
	}
}

func simpleGet(use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get(path, nil)
			if err != nil {
				return err
			}
			outputJSON(cmd.OutOrStdout(), data)
			return nil
		},
	}
}

func simplePost(use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().post(path, nil)
			if err != nil {
				return err
			}
			outputJSON(cmd.OutOrStdout(), data)
			return nil
		},
	}
}
