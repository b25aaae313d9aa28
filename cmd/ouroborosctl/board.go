package main

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
)

func newBoardCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Manage kanban boards in the tracker",
	}
	cmd.AddCommand(newBoardEpicCommand())
	cmd.AddCommand(newBoardBacklogCommand())
	cmd.AddCommand(newBoardNextCommand())
	cmd.AddCommand(newBoardMoveCommand())
	cmd.AddCommand(newBoardFeatureCommand())
	return cmd
}

func newBoardEpicCommand() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "epic <title>",
		Short: "Create an epic issue with its project board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().post("/api/v1/board/epics", map[string]string{
				"title":       args[0],
				"description": description,
			})
			if err != nil {
				return err
			}
			outputJSON(cmd.OutOrStdout(), data)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Epic description")
	return cmd
}

func newBoardBacklogCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "backlog <project> <task>...",
		Short:   "Create sub-task issues in a board's Backlog",
		Example: `  ouroborosctl board backlog "Parser rewrite - Project Board" "Write lexer" "Write grammar"`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().post("/api/v1/board/backlog", map[string]interface{}{
				"project": args[0],
				"tasks":   args[1:],
			})
			if err != nil {
				return err
			}
			outputJSON(cmd.OutOrStdout(), data)
			return nil
		},
	}
}

func newBoardNextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Show the next issue waiting in a To Do column",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, code, err := newClient().do(http.MethodGet, "/api/v1/board/next", nil, nil)
			if err != nil {
				return err
			}
			if code == http.StatusNoContent {
				fmt.Fprintln(cmd.OutOrStdout(), "no tasks available")
				return nil
			}
			outputJSON(cmd.OutOrStdout(), data)
			return nil
		},
	}
}

func newBoardMoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "move <issue> <project> <column>",
		Short:   "Move an issue's card to a column",
		Example: `  ouroborosctl board move 42 "Parser rewrite - Project Board" "In Progress"`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid issue number %q", args[0])
			}
			data, err := newClient().post("/api/v1/board/move", map[string]interface{}{
				"issue_number": number,
				"project":      args[1],
				"column":       args[2],
			})
			if err != nil {
				return err
			}
			outputJSON(cmd.OutOrStdout(), data)
			return nil
		},
	}
}

func newBoardFeatureCommand() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "feature <name>",
		Short: "Create a feature project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, code, err := newClient().do(http.MethodPost, "/api/v1/board/features", nil, map[string]string{
				"name":        args[0],
				"description": description,
			})
			if err != nil {
				return err
			}
			if code == http.StatusNoContent {
				fmt.Fprintln(cmd.OutOrStdout(), "tracker integration disabled, no project created")
				return nil
			}
			outputJSON(cmd.OutOrStdout(), data)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Feature description")
	return cmd
}
